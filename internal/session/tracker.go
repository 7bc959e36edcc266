package session

import (
	"context"
	"sync"

	"campushub/api/internal/auth"
)

// Event names a session transition.
type Event string

const (
	EventSignedIn  Event = "SIGNED_IN"
	EventSignedOut Event = "SIGNED_OUT"
	EventRefreshed Event = "REFRESHED"
)

// Listener receives session transitions. The session pointer is nil for
// sign-out events.
type Listener func(event Event, sess *Session)

type sessionBackend interface {
	LookupSession(ctx context.Context, tokenHash string) (Session, error)
}

// Tracker is the single source of truth for "who is signed in right now."
// It keeps the last known session as a cached snapshot, notifies listeners
// on every transition (at most once per transition, in registration order),
// and revalidates against the backing store on Refresh. State machine:
// SignedOut <-> SignedIn(userID).
type Tracker struct {
	backend sessionBackend

	mu        sync.Mutex
	current   *Session
	token     string
	nextID    int
	listeners map[int]Listener
}

func NewTracker(backend sessionBackend) *Tracker {
	return &Tracker{
		backend:   backend,
		listeners: make(map[int]Listener),
	}
}

// Current returns the last known session synchronously from the cache, or
// nil when signed out. It never blocks on the backing store.
func (t *Tracker) Current() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	snapshot := *t.current
	return &snapshot
}

// OnChange registers a listener for session transitions and returns its
// unsubscribe function. An unsubscribed listener never fires again.
func (t *Tracker) OnChange(listener Listener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = listener
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// SignIn records a new session and notifies listeners.
func (t *Tracker) SignIn(token string, sess Session) {
	t.mu.Lock()
	snapshot := sess
	t.current = &snapshot
	t.token = token
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	emit(listeners, EventSignedIn, &sess)
}

// SignOut clears the cached session. Listeners fire only when a session was
// actually present: signing out twice is one transition, one notification.
func (t *Tracker) SignOut() {
	t.mu.Lock()
	wasSignedIn := t.current != nil
	t.current = nil
	t.token = ""
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	if wasSignedIn {
		emit(listeners, EventSignedOut, nil)
	}
}

// Refresh forces a round trip to the backing store to confirm the cached
// session is still valid. Any backend failure degrades silently to
// signed-out: the caller gets nil, never an error.
func (t *Tracker) Refresh(ctx context.Context) *Session {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()

	if token == "" {
		return nil
	}

	sess, err := t.backend.LookupSession(ctx, auth.HashToken(token))
	if err != nil {
		t.SignOut()
		return nil
	}

	t.mu.Lock()
	snapshot := sess
	t.current = &snapshot
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	emit(listeners, EventRefreshed, &sess)
	result := sess
	return &result
}

// snapshotListeners copies the listener set; callers must hold t.mu.
func (t *Tracker) snapshotListeners() []Listener {
	listeners := make([]Listener, 0, len(t.listeners))
	for id := 0; id < t.nextID; id++ {
		if l, ok := t.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	return listeners
}

// emit runs outside the tracker lock so listeners may unsubscribe or read
// Current without deadlocking.
func emit(listeners []Listener, event Event, sess *Session) {
	for _, listener := range listeners {
		listener(event, sess)
	}
}
