package gateway

import "sync"

// Registry holds the authenticated sessions keyed by installation identity.
//
// At most one session exists per identity. All methods are safe for
// concurrent use; Snapshot returns a copy so callers may iterate while
// sessions come and go.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s. If a session for the same identity exists it is
// replaced, its connection is closed and it is returned.
func (r *Registry) Add(s *Session) (replaced *Session) {
	r.mu.Lock()
	prev, ok := r.sessions[s.InstallationID]
	r.sessions[s.InstallationID] = s
	r.mu.Unlock()

	if !ok || prev == s {
		return nil
	}
	// Closed outside the lock: Close may block on the transport.
	prev.Close() //nolint:errcheck // the replaced connection is being discarded
	return prev
}

// Remove deletes the session registered for installationID.
// It reports whether a session was removed. The connection is not closed.
func (r *Registry) Remove(installationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[installationID]; !ok {
		return false
	}
	delete(r.sessions, installationID)
	return true
}

// Release deletes s only if it is still the registered session for its
// identity, so a replaced connection cannot deregister its successor.
func (r *Registry) Release(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.InstallationID] != s {
		return false
	}
	delete(r.sessions, s.InstallationID)
	return true
}

// Find returns the session registered for installationID.
func (r *Registry) Find(installationID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[installationID]
	return s, ok
}

// Snapshot returns the sessions registered at the time of the call.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Evict closes the connection of the session registered for
// installationID and reports whether one was found. The session is removed
// by its router once the connection drops.
func (r *Registry) Evict(installationID string) bool {
	s, ok := r.Find(installationID)
	if !ok {
		return false
	}
	s.Close() //nolint:errcheck // best-effort eviction
	return true
}

// CloseAll closes every registered connection. Sessions are removed by
// their routers as the connections drop.
func (r *Registry) CloseAll() {
	for _, s := range r.Snapshot() {
		s.Close() //nolint:errcheck // shutdown
	}
}
