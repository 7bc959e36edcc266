package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ErrDuplicate marks inserts rejected by a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate row")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---------------------------------------------------------------------------
// Profiles

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(username, ''), COALESCE(password_hash, ''), is_email_verified, created_at, updated_at
		FROM profiles
		WHERE id=$1
	`, id).Scan(&p.ID, &p.Email, &p.Username, &p.PasswordHash, &p.IsEmailVerified, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(username, ''), COALESCE(password_hash, ''), is_email_verified, created_at, updated_at
		FROM profiles
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&p.ID, &p.Email, &p.Username, &p.PasswordHash, &p.IsEmailVerified, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, username, password_hash, is_email_verified, verification_token)
		VALUES ($1, LOWER($2), NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''))
	`, p.ID, p.Email, p.Username, p.PasswordHash, p.IsEmailVerified, p.VerificationToken)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// SetUsername completes signup for a profile. The unique index on username
// rejects names already claimed by another profile.
func (s *PostgresStore) SetUsername(ctx context.Context, id, username string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET username=$2, updated_at=NOW() WHERE id=$1
	`, id, username)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("set username: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set username rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, id, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Magic links

func (s *PostgresStore) SaveMagicLink(ctx context.Context, tokenHash, email string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO magic_links (token_hash, email, expires_at)
		VALUES ($1, LOWER($2), $3)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, email, expiresAt)
	if err != nil {
		return fmt.Errorf("save magic link: %w", err)
	}
	return nil
}

// ConsumeMagicLink marks an unexpired link used and returns its email.
// A link can be consumed at most once; sql.ErrNoRows signals an unknown,
// expired or already-used token.
func (s *PostgresStore) ConsumeMagicLink(ctx context.Context, tokenHash string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `
		UPDATE magic_links
		SET used_at=NOW()
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING email
	`, tokenHash).Scan(&email)
	if err != nil {
		return "", err
	}
	return email, nil
}

// ---------------------------------------------------------------------------
// Posts

const postColumns = `
	p.id, p.title, p.content, p.votes, p.author_id,
	COALESCE(pr.username, pr.email) AS author_name,
	COALESCE(ARRAY(
		SELECT t.name FROM posts_tags pt JOIN tags t ON t.id = pt.tag_id
		WHERE pt.post_id = p.id ORDER BY t.name
	), '{}') AS tags,
	(SELECT COUNT(*)::int FROM comments c WHERE c.post_id = p.id) AS comment_count,
	p.created_at
`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var item Post
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Content,
		&item.Votes,
		&item.AuthorID,
		&item.AuthorName,
		pq.Array(&item.Tags),
		&item.CommentCount,
		&item.CreatedAt,
	); err != nil {
		return Post{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN profiles pr ON pr.id = p.author_id
		WHERE p.id=$1
	`, postID)
	return scanPost(row)
}

func (s *PostgresStore) ListPosts(ctx context.Context, filter PostFilter) ([]Post, error) {
	orderBy := "p.created_at DESC"
	if filter.Sort == "top" {
		orderBy = "p.votes DESC, p.created_at DESC"
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN profiles pr ON pr.id = p.author_id
		WHERE ($1 = '' OR EXISTS(
			SELECT 1 FROM posts_tags pt JOIN tags t ON t.id = pt.tag_id
			WHERE pt.post_id = p.id AND t.name = $1
		))
		ORDER BY `+orderBy+`
		LIMIT $2
	`, filter.Tag, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		item, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO posts (id, title, content, votes, author_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, post.ID, post.Title, post.Content, post.Votes, post.AuthorID); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}

	for _, tag := range post.Tags {
		var tagID string
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO tags (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
			RETURNING id
		`, tag).Scan(&tagID); err != nil {
			return fmt.Errorf("upsert tag %s: %w", tag, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO posts_tags (post_id, tag_id) VALUES ($1, $2)
			ON CONFLICT (post_id, tag_id) DO NOTHING
		`, post.ID, tagID); err != nil {
			return fmt.Errorf("link tag %s: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert post: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Votes

func (s *PostgresStore) HasVote(ctx context.Context, postID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_votes WHERE post_id=$1 AND user_id=$2)
	`, postID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check vote: %w", err)
	}
	return exists, nil
}

// ToggleVote flips the caller's vote on a post. The membership change and
// the counter change run in one transaction so the user_votes relation and
// the denormalized posts.votes counter cannot come apart on a crash between
// the two writes.
//
// The composite primary key on (post_id, user_id) is the concurrency-safety
// mechanism: when two toggles race, the insert is an ON CONFLICT DO NOTHING,
// and the loser of the race observes zero affected rows and leaves the
// counter alone. The returned count is re-read inside the transaction, never
// computed on the caller's side.
func (s *PostgresStore) ToggleVote(ctx context.Context, postID, userID string) (VoteState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VoteState{}, fmt.Errorf("begin vote toggle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var votes int
	if err := tx.QueryRowContext(ctx, `SELECT votes FROM posts WHERE id=$1`, postID).Scan(&votes); err != nil {
		return VoteState{}, err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_votes WHERE post_id=$1 AND user_id=$2)
	`, postID, userID).Scan(&exists); err != nil {
		return VoteState{}, fmt.Errorf("lookup vote: %w", err)
	}

	voted := false
	if exists {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM user_votes WHERE post_id=$1 AND user_id=$2
		`, postID, userID)
		if err != nil {
			return VoteState{}, fmt.Errorf("delete vote: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return VoteState{}, fmt.Errorf("delete vote rows: %w", err)
		} else if affected > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE posts SET votes=GREATEST(votes - 1, 0) WHERE id=$1
			`, postID); err != nil {
				return VoteState{}, fmt.Errorf("decrement votes: %w", err)
			}
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO user_votes (post_id, user_id) VALUES ($1, $2)
			ON CONFLICT (post_id, user_id) DO NOTHING
		`, postID, userID)
		if err != nil {
			return VoteState{}, fmt.Errorf("insert vote: %w", err)
		}
		voted = true
		if affected, err := result.RowsAffected(); err != nil {
			return VoteState{}, fmt.Errorf("insert vote rows: %w", err)
		} else if affected > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE posts SET votes=votes + 1 WHERE id=$1
			`, postID); err != nil {
				return VoteState{}, fmt.Errorf("increment votes: %w", err)
			}
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT votes FROM posts WHERE id=$1`, postID).Scan(&votes); err != nil {
		return VoteState{}, fmt.Errorf("reread votes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return VoteState{}, fmt.Errorf("commit vote toggle: %w", err)
	}
	return VoteState{Voted: voted, Votes: votes}, nil
}

// ---------------------------------------------------------------------------
// Comments

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, post_id, user_id, author_display, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, comment.ID, comment.PostID, comment.UserID, comment.AuthorDisplay, comment.Content).Scan(&comment.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, user_id, author_display, content, created_at
		FROM comments
		WHERE post_id=$1
		ORDER BY created_at DESC, id DESC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.PostID, &item.UserID, &item.AuthorDisplay, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}
