// Package affinity implements the Session Affinity Map (§4.E): a small
// mapping from opaque agent-session tokens to the windowId they last
// explicitly targeted, consulted when a request has no explicit target,
// ahead of the focused window.
package affinity

import "sync"

// Map is a concurrency-safe string-to-string mapping. Cleared entries are
// permitted; there is no GC requirement since the key space is bounded by
// the number of live agent sessions.
type Map struct {
	mu sync.RWMutex
	m  map[string]string
}

// New creates an empty affinity Map.
func New() *Map {
	return &Map{m: make(map[string]string)}
}

// Get returns the windowId a session is pinned to, if any.
func (m *Map) Get(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.m[sessionID]
	return w, ok
}

// Set pins sessionID to windowID.
func (m *Map) Set(sessionID, windowID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[sessionID] = windowID
}

// Clear removes a session's pin, if present.
func (m *Map) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, sessionID)
}

// ClearWindow removes every affinity entry pointing at windowID, used when
// a window disconnects so stale pins don't resolve to a dead target.
func (m *Map) ClearWindow(windowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for session, w := range m.m {
		if w == windowID {
			delete(m.m, session)
		}
	}
}
