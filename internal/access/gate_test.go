package access

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"campushub/api/internal/session"
	"campushub/api/internal/store"
)

type fakeProfiles struct {
	getProfile func(ctx context.Context, id string) (store.Profile, error)
	calls      int
}

func (f *fakeProfiles) GetProfile(ctx context.Context, id string) (store.Profile, error) {
	f.calls++
	if f.getProfile != nil {
		return f.getProfile(ctx, id)
	}
	return store.Profile{}, errors.New("not implemented")
}

func newTestGate(t *testing.T, profiles *fakeProfiles) (*Gate, *session.Tracker) {
	s := miniredis.RunT(t)
	redisStore, err := session.NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { redisStore.Close() })

	tracker := session.NewTracker(redisStore)
	gate, unsubscribe := NewGate(profiles, tracker)
	t.Cleanup(unsubscribe)
	return gate, tracker
}

func TestGateDeniesSignedOut(t *testing.T) {
	profiles := &fakeProfiles{}
	gate, _ := newTestGate(t, profiles)

	if gate.CanAccessForum(context.Background()) {
		t.Fatal("expected denial for signed-out user")
	}
	if profiles.calls != 0 {
		t.Fatalf("expected no profile lookup while signed out, got %d", profiles.calls)
	}
}

func TestGateAllowsCompleteProfile(t *testing.T) {
	profiles := &fakeProfiles{
		getProfile: func(_ context.Context, id string) (store.Profile, error) {
			return store.Profile{ID: id, Email: "avery@campus.edu", Username: "avery"}, nil
		},
	}
	gate, tracker := newTestGate(t, profiles)
	tracker.SignIn("raw-token", session.Session{UserID: "user-1", Email: "avery@campus.edu"})

	if !gate.CanAccessForum(context.Background()) {
		t.Fatal("expected access for complete profile")
	}
}

func TestGateDeniesProfileWithoutUsername(t *testing.T) {
	profiles := &fakeProfiles{
		getProfile: func(_ context.Context, id string) (store.Profile, error) {
			return store.Profile{ID: id, Email: "avery@campus.edu"}, nil
		},
	}
	gate, tracker := newTestGate(t, profiles)
	tracker.SignIn("raw-token", session.Session{UserID: "user-1"})

	if gate.CanAccessForum(context.Background()) {
		t.Fatal("expected denial while onboarding is incomplete")
	}
}

func TestGateFailsClosedOnLookupError(t *testing.T) {
	profiles := &fakeProfiles{
		getProfile: func(context.Context, string) (store.Profile, error) {
			return store.Profile{}, errors.New("connection refused")
		},
	}
	gate, tracker := newTestGate(t, profiles)
	tracker.SignIn("raw-token", session.Session{UserID: "user-1"})

	if gate.CanAccessForum(context.Background()) {
		t.Fatal("expected denial when the profile lookup fails")
	}
}

func TestGateCachesPositiveAnswer(t *testing.T) {
	profiles := &fakeProfiles{
		getProfile: func(_ context.Context, id string) (store.Profile, error) {
			return store.Profile{ID: id, Username: "avery"}, nil
		},
	}
	gate, tracker := newTestGate(t, profiles)
	tracker.SignIn("raw-token", session.Session{UserID: "user-1"})

	ctx := context.Background()
	gate.CanAccessForum(ctx)
	gate.CanAccessForum(ctx)

	// SignIn itself invalidates, so only the first post-sign-in check hits
	// the store.
	if profiles.calls != 1 {
		t.Fatalf("expected 1 profile lookup, got %d", profiles.calls)
	}
}

func TestGateNeverServesStaleTrueAfterSignOut(t *testing.T) {
	profiles := &fakeProfiles{
		getProfile: func(_ context.Context, id string) (store.Profile, error) {
			return store.Profile{ID: id, Username: "avery"}, nil
		},
	}
	gate, tracker := newTestGate(t, profiles)
	ctx := context.Background()

	tracker.SignIn("raw-token", session.Session{UserID: "user-1"})
	if !gate.CanAccessForum(ctx) {
		t.Fatal("expected access while signed in")
	}

	tracker.SignOut()
	if gate.CanAccessForum(ctx) {
		t.Fatal("expected denial immediately after sign-out")
	}

	// The cached positive for user-1 must be gone even for direct checks
	// made on behalf of that user once their profile changed underneath.
	profiles.getProfile = func(context.Context, string) (store.Profile, error) {
		return store.Profile{}, errors.New("profile deleted")
	}
	if gate.CanUser(ctx, "user-1") {
		t.Fatal("expected sign-out to have dropped the cached positive")
	}
}

func TestGateTransientFailureDoesNotPoisonCache(t *testing.T) {
	failing := true
	profiles := &fakeProfiles{
		getProfile: func(_ context.Context, id string) (store.Profile, error) {
			if failing {
				return store.Profile{}, errors.New("timeout")
			}
			return store.Profile{ID: id, Username: "avery"}, nil
		},
	}
	gate, tracker := newTestGate(t, profiles)
	tracker.SignIn("raw-token", session.Session{UserID: "user-1"})

	ctx := context.Background()
	if gate.CanAccessForum(ctx) {
		t.Fatal("expected denial during the outage")
	}

	failing = false
	if !gate.CanAccessForum(ctx) {
		t.Fatal("expected access once the store recovered")
	}
}
