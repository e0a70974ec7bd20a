// Package window implements the Window Table (§4.B): the
// windowId -> page-connection mapping, the focused-window pointer, and the
// target-resolution policy that decides which tab executes an untargeted
// command.
package window

import (
	"sync"
	"time"
)

// Window is a long-lived logical browser tab, identified by a stable id
// that outlives page reloads.
type Window struct {
	WindowID       string
	PageInstanceID string
	PeerID         string
	URL            string
	Title          string
	Active         bool
	WindowType     string // tab, popup, iframe
	Label          string
	ConnectedAt    time.Time
	LastSeen       time.Time
}

func (w *Window) clone() *Window {
	c := *w
	return &c
}

// PeerCloser closes a peer connection; injected so the Window Table never
// needs to know about transport details.
type PeerCloser interface {
	ClosePeer(peerID string)
}

// AffinityResolver looks up the window a session is pinned to.
type AffinityResolver interface {
	Get(sessionID string) (windowID string, ok bool)
}

// Table tracks live windows, the focused-window pointer, and implements the
// resolution policy in §4.B.
type Table struct {
	mu       sync.RWMutex
	windows  map[string]*Window // windowID -> window
	order    []string           // insertion order of live windowIDs
	focused  string             // "" means no focused window
	closer   PeerCloser
}

// New creates an empty Table. closer may be nil in tests that don't need
// eviction to actually tear down a transport connection.
func New(closer PeerCloser) *Table {
	return &Table{
		windows: make(map[string]*Window),
		closer:  closer,
	}
}

// Claim registers peerID as the owner of windowID. If another peer
// currently owns windowID, that peer's connection is closed (invariant:
// exactly one owner per windowId). Idempotent when called again by the
// same peer for the same window.
func (t *Table) Claim(windowID, pageInstanceID, peerID, url, title string, active bool, windowType string) {
	t.mu.Lock()
	now := time.Now()
	existing, had := t.windows[windowID]
	var evictPeer string
	if had && existing.PeerID != peerID {
		evictPeer = existing.PeerID
	}

	w := &Window{
		WindowID:       windowID,
		PageInstanceID: pageInstanceID,
		PeerID:         peerID,
		URL:            url,
		Title:          title,
		Active:         active,
		WindowType:     windowType,
		LastSeen:       now,
	}
	if had {
		w.ConnectedAt = existing.ConnectedAt
		w.Label = existing.Label
	} else {
		w.ConnectedAt = now
		t.order = append(t.order, windowID)
	}
	t.windows[windowID] = w

	if t.focused == "" {
		t.focused = windowID
	}
	t.mu.Unlock()

	if evictPeer != "" && t.closer != nil {
		t.closer.ClosePeer(evictPeer)
	}
}

// Update refreshes mutable fields (url/title/active) for a live window.
func (t *Table) Update(windowID string, url, title *string, active *bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[windowID]
	if !ok {
		return false
	}
	if url != nil {
		w.URL = *url
	}
	if title != nil {
		w.Title = *title
	}
	if active != nil {
		w.Active = *active
	}
	w.LastSeen = time.Now()
	return true
}

// Touch refreshes the lastSeen timestamp without changing other fields.
func (t *Table) Touch(windowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.windows[windowID]; ok {
		w.LastSeen = time.Now()
	}
}

// SetLabel sets the optional human label on a window.
func (t *Table) SetLabel(windowID, label string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[windowID]
	if !ok {
		return false
	}
	w.Label = label
	return true
}

// Drop removes any window owned by peerID. If the dropped window was
// focused, focus advances to another remaining window in insertion order,
// or to null if none remain. Returns the dropped windowID, or "" if the
// peer owned no window.
func (t *Table) Drop(peerID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var droppedID string
	for id, w := range t.windows {
		if w.PeerID == peerID {
			droppedID = id
			break
		}
	}
	if droppedID == "" {
		return ""
	}

	delete(t.windows, droppedID)
	t.removeFromOrder(droppedID)

	if t.focused == droppedID {
		t.focused = t.firstRemaining()
	}
	return droppedID
}

func (t *Table) removeFromOrder(windowID string) {
	for i, id := range t.order {
		if id == windowID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func (t *Table) firstRemaining() string {
	for _, id := range t.order {
		if _, ok := t.windows[id]; ok {
			return id
		}
	}
	return ""
}

// Focus explicitly re-focuses a live window. Returns false if the window
// does not exist.
func (t *Table) Focus(windowID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.windows[windowID]; !ok {
		return false
	}
	t.focused = windowID
	return true
}

// FocusedWindowID returns the current focused window id, or "" if none.
func (t *Table) FocusedWindowID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.focused
}

// Get returns a copy of the window with the given id.
func (t *Table) Get(windowID string) (*Window, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.windows[windowID]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// PeerID returns the owning peer id for a window, if live.
func (t *Table) PeerID(windowID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.windows[windowID]
	if !ok {
		return "", false
	}
	return w.PeerID, true
}

// List returns a snapshot of all live windows.
func (t *Table) List() []*Window {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Window, 0, len(t.windows))
	for _, id := range t.order {
		if w, ok := t.windows[id]; ok {
			out = append(out, w.clone())
		}
	}
	return out
}

// ResolveTarget implements the strict-order policy in §4.B:
//  1. explicit windowId
//  2. session affinity
//  3. focused window, if live
//  4. highest-lastSeen window with active == true
//  5. highest-lastSeen window regardless of active
//  6. otherwise, no match
func (t *Table) ResolveTarget(explicitWindowID, agentSessionID string, affinity AffinityResolver) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if explicitWindowID != "" {
		if _, ok := t.windows[explicitWindowID]; ok {
			return explicitWindowID, true
		}
		return "", false
	}

	if agentSessionID != "" && affinity != nil {
		if windowID, ok := affinity.Get(agentSessionID); ok {
			if _, live := t.windows[windowID]; live {
				return windowID, true
			}
		}
	}

	if t.focused != "" {
		if _, ok := t.windows[t.focused]; ok {
			return t.focused, true
		}
	}

	if id, ok := t.mostRecentlySeen(true); ok {
		return id, true
	}
	if id, ok := t.mostRecentlySeen(false); ok {
		return id, true
	}
	return "", false
}

func (t *Table) mostRecentlySeen(activeOnly bool) (string, bool) {
	var bestID string
	var bestSeen time.Time
	found := false
	for id, w := range t.windows {
		if activeOnly && !w.Active {
			continue
		}
		if !found || w.LastSeen.After(bestSeen) {
			bestID = id
			bestSeen = w.LastSeen
			found = true
		}
	}
	return bestID, found
}
