package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over post titles and bodies with
// ts_headline snippets, ranked by ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "to_tsvector('english', p.title || ' ' || p.content) @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.Tag != "" {
		where += ` AND EXISTS (
			SELECT 1 FROM posts_tags pt JOIN tags t ON t.id = pt.tag_id
			WHERE pt.post_id = p.id AND t.name = $2
		)`
		args = append(args, q.Tag)
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM posts p WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.title,
			ts_headline('english', p.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			COALESCE(pr.username, pr.email) AS author_name,
			ARRAY(SELECT t.name FROM posts_tags pt JOIN tags t ON t.id = pt.tag_id WHERE pt.post_id = p.id ORDER BY t.name) AS tags,
			p.votes
		FROM posts p
		JOIN profiles pr ON pr.id = p.author_id
		WHERE %s
		ORDER BY ts_rank(to_tsvector('english', p.title || ' ' || p.content), plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.AuthorName, pq.Array(&r.Tags), &r.Votes); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable posts for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.content,
			COALESCE(pr.username, pr.email) AS author_name,
			ARRAY(SELECT t.name FROM posts_tags pt JOIN tags t ON t.id = pt.tag_id WHERE pt.post_id = p.id ORDER BY t.name) AS tags,
			p.votes
		FROM posts p
		JOIN profiles pr ON pr.id = p.author_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	defer rows.Close()

	posts := make([]PostRecord, 0)
	for rows.Next() {
		var record PostRecord
		if err := rows.Scan(&record.ID, &record.Title, &record.Content, &record.AuthorName, pq.Array(&record.Tags), &record.Votes); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	return posts, nil
}
