// Package app wires the domain services behind the HTTP surface and
// owns session issuance.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"campushub/api/internal/auth"
	"campushub/api/internal/config"
	"campushub/api/internal/forum"
	"campushub/api/internal/identity"
	"campushub/api/internal/search"
	"campushub/api/internal/session"
	"campushub/api/internal/store"
	"campushub/api/internal/util"
)

type sessionStore interface {
	SaveSession(ctx context.Context, tokenHash string, sess session.Session) error
	LookupSession(ctx context.Context, tokenHash string) (session.Session, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

type profileSource interface {
	GetProfile(ctx context.Context, id string) (store.Profile, error)
}

type capability interface {
	CanUser(ctx context.Context, userID string) bool
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps collects everything the app layer orchestrates.
type Deps struct {
	Forum    *forum.Service
	Identity *identity.Service
	Google   *identity.GoogleClient
	Search   *search.Service
	Sessions sessionStore
	Tracker  *session.Tracker
	Gate     capability
	Profiles profileSource
	DB       pinger
}

type Service struct {
	cfg    config.Config
	secret []byte

	forum    *forum.Service
	identity *identity.Service
	google   *identity.GoogleClient
	search   *search.Service
	sessions sessionStore
	tracker  *session.Tracker
	gate     capability
	profiles profileSource
	db       pinger

	authLimit    *rateLimiter
	commentLimit *rateLimiter
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		secret:   []byte(cfg.TokenSecret),
		forum:    deps.Forum,
		identity: deps.Identity,
		google:   deps.Google,
		search:   deps.Search,
		sessions: deps.Sessions,
		tracker:  deps.Tracker,
		gate:     deps.Gate,
		profiles: deps.Profiles,
		db:       deps.DB,
		// 5 auth attempts a minute per client, 1 comment per 2s with a
		// small burst per user.
		authLimit:    newRateLimiter(rate.Every(12*time.Second), 5, 10*time.Minute),
		commentLimit: newRateLimiter(rate.Every(2*time.Second), 3, 10*time.Minute),
	}
}

// Close stops the background limiter janitors.
func (s *Service) Close() {
	s.authLimit.Close()
	s.commentLimit.Close()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// SessionPayload is what sign-in endpoints hand back to the client.
type SessionPayload struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueSession mints a bearer token for the profile, persists the
// session under the token's hash, and records the sign-in transition.
func (s *Service) IssueSession(ctx context.Context, profile store.Profile) (SessionPayload, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.SessionTTL)

	token, err := auth.IssueToken(s.secret, auth.Claims{
		Sub:   profile.ID,
		Email: profile.Email,
		JTI:   util.NewID(""),
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return SessionPayload{}, fmt.Errorf("issue token: %w", err)
	}

	sess := session.Session{
		UserID:    profile.ID,
		Email:     profile.Email,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := s.sessions.SaveSession(ctx, auth.HashToken(token), sess); err != nil {
		return SessionPayload{}, fmt.Errorf("save session: %w", err)
	}
	s.tracker.SignIn(token, sess)

	return SessionPayload{
		Token:     token,
		UserID:    profile.ID,
		Email:     profile.Email,
		Username:  profile.Username,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken authenticates a bearer token: the signature and
// expiry are checked locally, then the session must still exist in the
// store. A revoked token fails here even when its signature is valid.
func (s *Service) SessionFromToken(ctx context.Context, token string) (session.Session, error) {
	if _, err := auth.ParseToken(s.secret, token); err != nil {
		return session.Session{}, err
	}
	return s.sessions.LookupSession(ctx, auth.HashToken(token))
}

// Logout revokes the token's session. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	_ = s.sessions.RevokeSession(ctx, auth.HashToken(token))
	s.tracker.SignOut()
}

// RefreshSession revalidates the tracked session against the store and
// returns the fresh snapshot, or nil when it no longer holds.
func (s *Service) RefreshSession(ctx context.Context) *session.Session {
	return s.tracker.Refresh(ctx)
}

// CanPost reports whether the user may write to the forum.
func (s *Service) CanPost(ctx context.Context, userID string) bool {
	return s.gate.CanUser(ctx, userID)
}

func (s *Service) AllowAuthAttempt(key string) bool {
	return s.authLimit.Allow(key)
}

func (s *Service) AllowComment(userID string) bool {
	return s.commentLimit.Allow(userID)
}
