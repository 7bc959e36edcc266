package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"campushub/api/internal/auth"
)

func newTestTracker(t *testing.T) (*Tracker, *RedisStore, *miniredis.Miniredis) {
	store, s := setupTestRedis(t)
	return NewTracker(store), store, s
}

func TestTrackerStartsSignedOut(t *testing.T) {
	tracker, store, s := newTestTracker(t)
	defer store.Close()
	defer s.Close()

	if tracker.Current() != nil {
		t.Fatal("expected nil session before sign-in")
	}
}

func TestTrackerSignInUpdatesSnapshot(t *testing.T) {
	tracker, store, s := newTestTracker(t)
	defer store.Close()
	defer s.Close()

	tracker.SignIn("raw-token", Session{UserID: "user-1", Email: "avery@campus.edu"})

	current := tracker.Current()
	if current == nil || current.UserID != "user-1" {
		t.Fatalf("expected user-1 session, got %+v", current)
	}

	// Snapshot is a copy: mutating it must not affect the tracker.
	current.UserID = "tampered"
	if tracker.Current().UserID != "user-1" {
		t.Fatal("Current returned a shared pointer, expected a copy")
	}
}

func TestTrackerNotifiesOncePerTransition(t *testing.T) {
	tracker, store, s := newTestTracker(t)
	defer store.Close()
	defer s.Close()

	var events []Event
	unsubscribe := tracker.OnChange(func(event Event, _ *Session) {
		events = append(events, event)
	})
	defer unsubscribe()

	tracker.SignIn("raw-token", Session{UserID: "user-1"})
	tracker.SignOut()
	tracker.SignOut() // already signed out: not a transition

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(events), events)
	}
	if events[0] != EventSignedIn || events[1] != EventSignedOut {
		t.Fatalf("unexpected event order: %v", events)
	}
}

func TestTrackerUnsubscribeStopsDelivery(t *testing.T) {
	tracker, store, s := newTestTracker(t)
	defer store.Close()
	defer s.Close()

	fired := 0
	unsubscribe := tracker.OnChange(func(Event, *Session) { fired++ })

	tracker.SignIn("raw-token", Session{UserID: "user-1"})
	unsubscribe()
	tracker.SignOut()

	if fired != 1 {
		t.Fatalf("expected 1 delivery before unsubscribe, got %d", fired)
	}
}

func TestTrackerRefreshRevalidates(t *testing.T) {
	tracker, store, s := newTestTracker(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	sess := Session{UserID: "user-1", Email: "avery@campus.edu", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.SaveSession(ctx, auth.HashToken("raw-token"), sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	tracker.SignIn("raw-token", sess)

	refreshed := tracker.Refresh(ctx)
	if refreshed == nil || refreshed.UserID != "user-1" {
		t.Fatalf("expected refreshed session for user-1, got %+v", refreshed)
	}
}

func TestTrackerRefreshFailsSilentlyToNil(t *testing.T) {
	tracker, store, s := newTestTracker(t)
	defer store.Close()

	sess := Session{UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}
	tracker.SignIn("raw-token", sess)

	var sawSignOut bool
	tracker.OnChange(func(event Event, _ *Session) {
		if event == EventSignedOut {
			sawSignOut = true
		}
	})

	// Backend unreachable: refresh degrades to signed-out, no error escapes.
	s.Close()
	if got := tracker.Refresh(context.Background()); got != nil {
		t.Fatalf("expected nil session after backend failure, got %+v", got)
	}
	if tracker.Current() != nil {
		t.Fatal("expected cached session to be cleared after failed refresh")
	}
	if !sawSignOut {
		t.Fatal("expected a signed-out transition after failed refresh")
	}
}

func TestTrackerRefreshWithoutSessionReturnsNil(t *testing.T) {
	tracker, store, s := newTestTracker(t)
	defer store.Close()
	defer s.Close()

	if got := tracker.Refresh(context.Background()); got != nil {
		t.Fatalf("expected nil for signed-out refresh, got %+v", got)
	}
}
