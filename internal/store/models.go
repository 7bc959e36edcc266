package store

import "time"

type Profile struct {
	ID                    string
	Email                 string
	Username              string // empty until the user completes signup
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Post struct {
	ID           string
	Title        string
	Content      string
	Votes        int
	AuthorID     string
	AuthorName   string // joined from profiles, falls back to email
	Tags         []string
	CommentCount int
	CreatedAt    time.Time
}

type Comment struct {
	ID            string
	PostID        string
	UserID        string
	AuthorDisplay string
	Content       string
	CreatedAt     time.Time
}

// VoteState is the outcome of a vote toggle: the caller's new membership
// state and the post's counter as re-read after the mutation.
type VoteState struct {
	Voted bool
	Votes int
}

type PostFilter struct {
	Sort  string // "latest" or "top"
	Tag   string
	Limit int
}
