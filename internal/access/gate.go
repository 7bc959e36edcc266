// Package access decides whether the signed-in user may use the forum
// surface (vote, comment, post). The decision is derived, never stored:
// a user qualifies when their profile exists and onboarding finished
// (username chosen). Every failure path answers false.
package access

import (
	"context"
	"sync"

	"campushub/api/internal/session"
	"campushub/api/internal/store"
)

type profileSource interface {
	GetProfile(ctx context.Context, id string) (store.Profile, error)
}

// Gate answers forum capability checks. Positive answers are cached per
// user and the whole cache is dropped synchronously on any session
// transition, so a just-signed-out user can never ride a stale true.
type Gate struct {
	profiles profileSource
	tracker  *session.Tracker

	mu    sync.Mutex
	cache map[string]bool
}

// NewGate wires a gate to the tracker. The gate subscribes to session
// transitions for cache invalidation; the returned cleanup unsubscribes.
func NewGate(profiles profileSource, tracker *session.Tracker) (*Gate, func()) {
	g := &Gate{
		profiles: profiles,
		tracker:  tracker,
		cache:    make(map[string]bool),
	}
	unsubscribe := tracker.OnChange(func(session.Event, *session.Session) {
		g.Invalidate()
	})
	return g, unsubscribe
}

// CanAccessForum reports whether the currently signed-in user may use
// the forum. Signed out means no; so does any profile lookup failure.
func (g *Gate) CanAccessForum(ctx context.Context) bool {
	sess := g.tracker.Current()
	if sess == nil {
		return false
	}
	return g.CanUser(ctx, sess.UserID)
}

// CanUser checks forum capability for a specific user ID. Only positive
// answers are cached: a transient lookup failure denies this call but
// does not poison future ones.
func (g *Gate) CanUser(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	g.mu.Lock()
	allowed, ok := g.cache[userID]
	g.mu.Unlock()
	if ok {
		return allowed
	}

	profile, err := g.profiles.GetProfile(ctx, userID)
	if err != nil {
		return false
	}
	allowed = profile.Username != ""
	if allowed {
		g.mu.Lock()
		g.cache[userID] = true
		g.mu.Unlock()
	}
	return allowed
}

// Invalidate drops all cached answers. Runs on every session transition
// and may be called directly after profile changes (username chosen).
func (g *Gate) Invalidate() {
	g.mu.Lock()
	g.cache = make(map[string]bool)
	g.mu.Unlock()
}
