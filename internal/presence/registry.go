// Package presence tracks which users are reachable over a live connection,
// persists their online state, and repairs that state when connections
// vanish without a clean close.
package presence

import (
	"sort"
	"sync"

	"github.com/gkkary3/Netless/internal/events"
)

// Handle is one live connection. Send must not block; implementations
// queue the envelope or fail.
type Handle interface {
	ID() string
	Send(*events.Envelope) error
}

// Registry maps user ids to their live connection handles. A user may have
// several handles (tabs, devices). It is process-local and not persisted.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]Handle)}
}

// Register adds h under userID and reports whether it is the user's first
// handle, i.e. an offline to online transition.
func (r *Registry) Register(userID string, h Handle) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.conns[userID]
	if !ok {
		handles = make(map[string]Handle)
		r.conns[userID] = handles
	}
	handles[h.ID()] = h
	return !ok
}

// Unregister removes h. removed is false when h was not registered; last
// reports whether h was the user's final handle, i.e. an online to offline
// transition.
func (r *Registry) Unregister(userID string, h Handle) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.conns[userID]
	if !ok {
		return false, false
	}
	if _, ok := handles[h.ID()]; !ok {
		return false, false
	}
	delete(handles, h.ID())
	if len(handles) == 0 {
		delete(r.conns, userID)
		return true, true
	}
	return true, false
}

// Lookup returns the live handles of userID, or nil when the user has none.
func (r *Registry) Lookup(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.conns[userID]
	if len(handles) == 0 {
		return nil
	}
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		out = append(out, h)
	}
	return out
}

// IsOnline reports whether userID has at least one handle.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Snapshot returns the ids of every online user, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Counts returns the number of online users and open handles.
func (r *Registry) Counts() (users, handles int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, hs := range r.conns {
		handles += len(hs)
	}
	return len(r.conns), handles
}

// SendTo delivers env to every handle of userID. It returns how many
// handles accepted it and the first error; zero with a nil error means the
// user is offline.
func (r *Registry) SendTo(userID string, env *events.Envelope) (int, error) {
	var (
		sent     int
		firstErr error
	)
	for _, h := range r.Lookup(userID) {
		if err := h.Send(env); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

// Broadcast delivers env to every handle of every user except except.
// Failures are ignored: a handle that cannot accept is being torn down.
func (r *Registry) Broadcast(except string, env *events.Envelope) int {
	r.mu.RLock()
	targets := make([]Handle, 0, len(r.conns))
	for userID, hs := range r.conns {
		if userID == except {
			continue
		}
		for _, h := range hs {
			targets = append(targets, h)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, h := range targets {
		if h.Send(env) == nil {
			sent++
		}
	}
	return sent
}
