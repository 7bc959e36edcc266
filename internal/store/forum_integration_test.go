package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"campushub/api/internal/util"
)

// The tests in this file run against a real Postgres and verify the
// invariants the SQL itself enforces: the composite primary key on
// user_votes, the affected-rows guard in ToggleVote, and the comment
// ordering clause. They skip unless a database URL is configured.

func testDB(t *testing.T) (*sql.DB, *PostgresStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db, NewPostgresStore(db)
}

// seedVoter creates a throwaway profile and post and registers cleanup
// for every row the test may leave behind.
func seedVoter(t *testing.T, db *sql.DB) (userID, postID string) {
	t.Helper()
	ctx := context.Background()
	userID = util.NewID("usr")
	postID = util.NewID("post")

	if _, err := db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, username, is_email_verified)
		VALUES ($1, $2, $3, TRUE)
	`, userID, userID+"@campus.edu", userID); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO posts (id, title, content, votes, author_id)
		VALUES ($1, 'Best dining hall?', '', 0, $2)
	`, postID, userID); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM comments WHERE post_id=$1`, postID)
		_, _ = db.ExecContext(ctx, `DELETE FROM user_votes WHERE post_id=$1`, postID)
		_, _ = db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, postID)
		_, _ = db.ExecContext(ctx, `DELETE FROM profiles WHERE id=$1`, userID)
	})
	return userID, postID
}

func countVoteRows(t *testing.T, db *sql.DB, postID string) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), `
		SELECT COUNT(*) FROM user_votes WHERE post_id=$1
	`, postID).Scan(&n); err != nil {
		t.Fatalf("count vote rows: %v", err)
	}
	return n
}

func readVotes(t *testing.T, db *sql.DB, postID string) int {
	t.Helper()
	var votes int
	if err := db.QueryRowContext(context.Background(), `
		SELECT votes FROM posts WHERE id=$1
	`, postID).Scan(&votes); err != nil {
		t.Fatalf("read votes: %v", err)
	}
	return votes
}

func TestToggleVoteRoundTripAgainstPostgres(t *testing.T) {
	db, s := testDB(t)
	userID, postID := seedVoter(t, db)
	ctx := context.Background()

	state, err := s.ToggleVote(ctx, postID, userID)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !state.Voted || state.Votes != 1 {
		t.Fatalf("expected voted=true votes=1, got %+v", state)
	}
	if countVoteRows(t, db, postID) != 1 {
		t.Fatal("expected one user_votes row after voting")
	}

	state, err = s.ToggleVote(ctx, postID, userID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if state.Voted || state.Votes != 0 {
		t.Fatalf("expected voted=false votes=0 after unvote, got %+v", state)
	}
	if countVoteRows(t, db, postID) != 0 {
		t.Fatal("expected no user_votes row after unvote")
	}
}

// TestUserVotesPrimaryKeyRejectsDuplicate verifies the relation itself:
// a second identical (post_id, user_id) row is impossible, and the
// ON CONFLICT form ToggleVote relies on reports zero affected rows
// instead of aborting the transaction.
func TestUserVotesPrimaryKeyRejectsDuplicate(t *testing.T) {
	db, _ := testDB(t)
	userID, postID := seedVoter(t, db)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO user_votes (post_id, user_id) VALUES ($1, $2)
	`, postID, userID); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO user_votes (post_id, user_id) VALUES ($1, $2)
	`, postID, userID)
	if err == nil {
		t.Fatal("expected the duplicate insert to fail")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		t.Fatalf("expected SQLSTATE 23505, got %v", err)
	}
	if !isUniqueViolation(err) {
		t.Fatal("expected isUniqueViolation to recognize the error")
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO user_votes (post_id, user_id) VALUES ($1, $2)
		ON CONFLICT (post_id, user_id) DO NOTHING
	`, postID, userID)
	if err != nil {
		t.Fatalf("conflict-tolerant insert: %v", err)
	}
	if affected, _ := result.RowsAffected(); affected != 0 {
		t.Fatalf("expected 0 affected rows on conflict, got %d", affected)
	}
}

// TestToggleVoteConcurrentDoubleSubmission fires the same toggle twice
// at once, the double-click case. Whatever the interleaving, the
// counter must equal the number of surviving membership rows.
func TestToggleVoteConcurrentDoubleSubmission(t *testing.T) {
	db, s := testDB(t)
	userID, postID := seedVoter(t, db)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ToggleVote(ctx, postID, userID)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
	}

	rows := countVoteRows(t, db, postID)
	votes := readVotes(t, db, postID)
	if votes != rows {
		t.Fatalf("counter drifted from membership: votes=%d rows=%d", votes, rows)
	}
	if votes != 0 && votes != 1 {
		t.Fatalf("expected final count 0 or 1, got %d", votes)
	}
}

// TestListCommentsOrderingSurvivesClockSkew inserts rows whose
// timestamps are out of insertion order, the way skewed writer clocks
// would produce them, and asserts the ORDER BY decides a single total
// order: newest timestamp first, ties broken by id descending.
func TestListCommentsOrderingSurvivesClockSkew(t *testing.T) {
	db, s := testDB(t)
	userID, postID := seedVoter(t, db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	fixtures := []struct {
		id        string
		content   string
		createdAt time.Time
	}{
		{"cmt_skew_a", "written first", base},
		{"cmt_skew_b", "written second, clock ahead", base.Add(2 * time.Minute)},
		{"cmt_skew_c", "written third, same tick as first", base},
	}
	for _, f := range fixtures {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO comments (id, post_id, user_id, author_display, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, f.id, postID, userID, "avery", f.content, f.createdAt); err != nil {
			t.Fatalf("insert comment %s: %v", f.id, err)
		}
	}

	comments, err := s.ListComments(ctx, postID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(comments))
	}
	want := []string{"cmt_skew_b", "cmt_skew_c", "cmt_skew_a"}
	for i, id := range want {
		if comments[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, comments[i].ID)
		}
	}
}
