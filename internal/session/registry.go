package session

import (
	"context"
	"errors"
	"sync"

	"github.com/tbourn/go-interview-backend/internal/observability"
)

// ErrRegistryClosed is returned by Register once CancelAll has run.
var ErrRegistryClosed = errors.New("session registry closed")

// Handle is what the registry needs to stop a live session.
type Handle struct {
	Cancel func()
}

// Registry tracks live sessions by key. A user may only run one call per
// interview; registering a key that is already live cancels the older
// session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*tracked
	// closing is set by CancelAll; wg.Add only runs while it is false.
	closing bool
	wg      sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*tracked)}
}

// Key builds the registry key for a user's attempt at an interview.
func Key(userID, interviewID string) string { return userID + "/" + interviewID }

// Register records h under key and returns a func that removes it. The
// returned func is safe to call more than once. After CancelAll it refuses
// new sessions with ErrRegistryClosed.
func (r *Registry) Register(key string, h Handle) (unregister func(), err error) {
	if r == nil {
		return func() {}, nil
	}
	entry := &tracked{handle: h}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return func() {}, ErrRegistryClosed
	}
	if r.sessions == nil {
		r.sessions = make(map[string]*tracked)
	}
	old := r.sessions[key]
	r.sessions[key] = entry
	r.wg.Add(1)
	r.mu.Unlock()
	observability.SessionsActive.Inc()

	if old != nil {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		r.unregister(key, old)
	}
	return func() { r.unregister(key, entry) }, nil
}

func (r *Registry) unregister(key string, entry *tracked) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[key] == entry {
			delete(r.sessions, key)
		}
		r.mu.Unlock()
		observability.SessionsActive.Dec()
		r.wg.Done()
	})
}

// Closed reports whether CancelAll has run.
func (r *Registry) Closed() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CancelAll closes the registry to new sessions, cancels every live one and
// returns how many were signaled.
func (r *Registry) CancelAll() int {
	if r == nil {
		return 0
	}
	var cancels []func()
	r.mu.Lock()
	r.closing = true
	for _, e := range r.sessions {
		if e.handle.Cancel != nil {
			cancels = append(cancels, e.handle.Cancel)
		}
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

// Wait blocks until every registered session has unregistered or ctx is
// done. It reports whether all sessions drained. Call it after CancelAll so
// no session registers while it waits.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
