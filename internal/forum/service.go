// Package forum implements posts, votes, and comments for the campus
// community board.
package forum

import (
	"context"
	"strings"

	"campushub/api/internal/security"
	"campushub/api/internal/store"
	"campushub/api/internal/util"
)

const maxCommentLength = 4000

type dataStore interface {
	GetPost(ctx context.Context, postID string) (store.Post, error)
	ListPosts(ctx context.Context, filter store.PostFilter) ([]store.Post, error)
	InsertPost(ctx context.Context, post store.Post) error
	HasVote(ctx context.Context, postID, userID string) (bool, error)
	ToggleVote(ctx context.Context, postID, userID string) (store.VoteState, error)
	InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	ListComments(ctx context.Context, postID string) ([]store.Comment, error)
	GetProfile(ctx context.Context, id string) (store.Profile, error)
}

// capability answers whether a user finished onboarding and may write.
type capability interface {
	CanUser(ctx context.Context, userID string) bool
}

// postIndexer pushes a new post into the search index. Indexing is
// best-effort; failures never surface to the caller.
type postIndexer interface {
	IndexPost(ctx context.Context, post store.Post)
}

// recorder is the slice of metrics the forum increments. Nil means off.
type recorder interface {
	PostCreated()
	VoteToggled()
	CommentCreated()
}

type CreatePostInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

type Service struct {
	store     dataStore
	gate      capability
	sanitizer *security.Sanitizer
	indexer   postIndexer
	metrics   recorder
}

func NewService(dataStore dataStore, gate capability, sanitizer *security.Sanitizer, indexer postIndexer, metrics recorder) *Service {
	return &Service{
		store:     dataStore,
		gate:      gate,
		sanitizer: sanitizer,
		indexer:   indexer,
		metrics:   metrics,
	}
}

func (s *Service) GetPost(ctx context.Context, postID string) (store.Post, error) {
	return s.store.GetPost(ctx, postID)
}

func (s *Service) ListPosts(ctx context.Context, sort, tag string, limit int) ([]store.Post, error) {
	sort = strings.ToLower(strings.TrimSpace(sort))
	switch sort {
	case "", "latest":
		sort = "latest"
	case "top", "trending":
		sort = "top"
	default:
		return nil, validationError("sort must be 'latest' or 'top'")
	}
	return s.store.ListPosts(ctx, store.PostFilter{
		Sort:  sort,
		Tag:   strings.TrimSpace(tag),
		Limit: limit,
	})
}

func (s *Service) CreatePost(ctx context.Context, userID string, input CreatePostInput) (store.Post, error) {
	if userID == "" {
		return store.Post{}, unauthorized()
	}
	if !s.gate.CanUser(ctx, userID) {
		return store.Post{}, unauthorized()
	}

	title := s.sanitizer.Clean(input.Title)
	if title == "" {
		return store.Post{}, validationError("title is required")
	}
	content := s.sanitizer.Clean(input.Content)

	tags := make([]string, 0, len(input.Tags))
	seen := make(map[string]struct{})
	for _, tag := range input.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return store.Post{}, err
	}

	post := store.Post{
		ID:         util.NewID("post"),
		Title:      title,
		Content:    content,
		AuthorID:   userID,
		AuthorName: displayName(profile),
		Tags:       tags,
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return store.Post{}, err
	}
	if s.metrics != nil {
		s.metrics.PostCreated()
	}
	if s.indexer != nil {
		s.indexer.IndexPost(ctx, post)
	}
	return s.store.GetPost(ctx, post.ID)
}

// ToggleVote flips the caller's vote and returns their new state plus
// the re-read counter. An anonymous caller is rejected before any store
// access, so a denied toggle can never mutate anything.
func (s *Service) ToggleVote(ctx context.Context, postID, userID string) (store.VoteState, error) {
	if userID == "" {
		return store.VoteState{}, unauthorized()
	}
	if !s.gate.CanUser(ctx, userID) {
		return store.VoteState{}, unauthorized()
	}
	state, err := s.store.ToggleVote(ctx, postID, userID)
	if err != nil {
		return store.VoteState{}, err
	}
	if s.metrics != nil {
		s.metrics.VoteToggled()
	}
	return state, nil
}

// HasVoted reports whether userID currently has a vote on the post. A
// signed-out viewer simply sees false, not an error.
func (s *Service) HasVoted(ctx context.Context, postID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	return s.store.HasVote(ctx, postID, userID)
}

func (s *Service) AddComment(ctx context.Context, postID, userID, content string) (store.Comment, error) {
	if userID == "" {
		return store.Comment{}, unauthorized()
	}
	if !s.gate.CanUser(ctx, userID) {
		return store.Comment{}, unauthorized()
	}

	content = s.sanitizer.Clean(content)
	if content == "" {
		return store.Comment{}, validationError("comment text is required")
	}
	if len(content) > maxCommentLength {
		return store.Comment{}, validationError("comment is too long")
	}

	// The post must exist; a missing post surfaces as sql.ErrNoRows.
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return store.Comment{}, err
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return store.Comment{}, err
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:            util.NewID("cmt"),
		PostID:        postID,
		UserID:        userID,
		AuthorDisplay: displayName(profile),
		Content:       content,
	})
	if err != nil {
		return store.Comment{}, err
	}
	if s.metrics != nil {
		s.metrics.CommentCreated()
	}
	return comment, nil
}

// ListComments returns a post's comments newest first. The ordering is
// decided by the database at read time, so rows written with skewed
// client clocks still come back in one consistent total order.
func (s *Service) ListComments(ctx context.Context, postID string) ([]store.Comment, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, postID)
}

// displayName prefers the chosen username and falls back to the email,
// matching what the author picker shows elsewhere in the app.
func displayName(profile store.Profile) string {
	if profile.Username != "" {
		return profile.Username
	}
	return profile.Email
}
