package hub

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tabbroker/tabbroker/internal/affinity"
	"github.com/tabbroker/tabbroker/internal/broadcast"
	"github.com/tabbroker/tabbroker/internal/correlator"
	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/status"
	"github.com/tabbroker/tabbroker/internal/window"
	"github.com/tabbroker/tabbroker/internal/wsproto"
)

// Hub is the Peer Registry: it owns every live connection across the
// three mount points and wires them to the Window Table, the Broadcast
// Buses, and the Status Aggregator.
type Hub struct {
	log *logging.Logger

	Windows    *window.Table
	Affinity   *affinity.Map
	Correlator *correlator.Correlator
	Replay     *broadcast.ReplayBuffer
	pageBus    *broadcast.Bus
	agentBus   *broadcast.Bus
	terminalBus *broadcast.Bus
	Status     *status.Aggregator

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[string]*Peer

	serverSessionID string
}

// New creates a Hub with a fresh Window Table, Session Affinity Map,
// Correlator, Replay Buffer, and the three Broadcast Buses already wired
// together. replayCap sizes the replay buffer (§5 resource ceiling).
func New(log *logging.Logger, replayCap int) *Hub {
	h := &Hub{
		log:             log.WithFields(zap.String("component", "hub")),
		Affinity:        affinity.New(),
		Correlator:      correlator.New(),
		Replay:          broadcast.NewReplayBuffer(replayCap),
		pageBus:         broadcast.NewBus(),
		agentBus:        broadcast.NewBus(),
		terminalBus:     broadcast.NewBus(),
		peers:           make(map[string]*Peer),
		serverSessionID: uuid.NewString(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	h.Windows = window.New(h)
	h.Status = status.New(h)
	return h
}

// ClosePeer implements window.PeerCloser: it closes the transport for a
// peer evicted by a window-claim collision.
func (h *Hub) ClosePeer(peerID string) {
	h.mu.RLock()
	p, ok := h.peers[peerID]
	h.mu.RUnlock()
	if ok {
		p.Close()
	}
}

// BroadcastStatus implements status.Publisher: it fans a status frame out
// to every terminal peer.
func (h *Hub) BroadcastStatus(frame *wsproto.Frame) {
	h.terminalBus.Publish("", frame)
}

// ServePages upgrades and registers a browser-widget connection.
func (h *Hub) ServePages(w http.ResponseWriter, r *http.Request) {
	h.accept(w, r, RolePage)
}

// ServeAgents upgrades and registers an agent-observer connection.
func (h *Hub) ServeAgents(w http.ResponseWriter, r *http.Request) {
	h.accept(w, r, RoleAgent)
}

// ServeTerminals upgrades and registers a terminal connection.
func (h *Hub) ServeTerminals(w http.ResponseWriter, r *http.Request) {
	h.accept(w, r, RoleTerminal)
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request, role Role) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	p := newPeer(id, role, conn, h, h.log)

	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()

	switch role {
	case RolePage:
		h.pageBus.Subscribe(id, p)
	case RoleAgent:
		h.agentBus.Subscribe(id, p)
		for _, f := range h.Replay.Snapshot() {
			p.Deliver(f)
		}
	case RoleTerminal:
		h.terminalBus.Subscribe(id, p)
	}

	h.log.Info("peer connected", zap.String("peer_id", id), zap.String("role", string(role)))

	go p.WritePump()
	go p.ReadPump()
}

// unregister runs the role's teardown (§4.A) when a peer disconnects.
func (h *Hub) unregister(p *Peer) {
	h.mu.Lock()
	delete(h.peers, p.ID)
	h.mu.Unlock()

	switch p.Role {
	case RolePage:
		h.pageBus.Unsubscribe(p.ID)
		droppedID := h.Windows.Drop(p.ID)
		if droppedID != "" {
			h.Affinity.ClearWindow(droppedID)
		}
		h.recomputeBrowserStatus()
	case RoleAgent:
		h.agentBus.Unsubscribe(p.ID)
	case RoleTerminal:
		h.terminalBus.Unsubscribe(p.ID)
		h.broadcastTerminalDeparture(p)
	}

	h.log.Info("peer disconnected", zap.String("peer_id", p.ID), zap.String("role", string(p.Role)))
}

// handleInbound dispatches a frame read off a peer's socket. System frames
// are interpreted by the core per role; everything else is opaque
// pass-through that fans out through the appropriate bus.
func (h *Hub) handleInbound(p *Peer, f *wsproto.Frame) {
	if f.IsSystem() {
		h.handleSystemFrame(p, f)
		return
	}

	h.Replay.Add(f)

	switch p.Role {
	case RolePage:
		h.agentBus.Publish("", f)
	case RoleTerminal:
		h.terminalBus.Publish(p.ID, f)
	case RoleAgent:
		// Non-system frames from agent observers are buffered for replay
		// but not fanned out to any bus. (Correlated replies never reach
		// this point: ReadPump hands them to handleReply.)
	}
}

// handleReply delivers a page's correlated reply to the Correlator, waking
// the Router call that is waiting on it.
func (h *Hub) handleReply(p *Peer, reply *wsproto.Reply) {
	h.Correlator.Deliver(reply.ID, reply)
}

func (h *Hub) handleSystemFrame(p *Peer, f *wsproto.Frame) {
	switch f.Action {
	case wsproto.ActionIdentity:
		h.handleIdentity(p, f)
	case wsproto.ActionWindowUpdated:
		h.handleWindowUpdated(p, f)
	case wsproto.ActionTerminalHello:
		h.handleTerminalHello(p, f)
	case wsproto.ActionFocus:
		var payload struct {
			WindowID string `json:"windowId"`
		}
		if err := f.ParsePayload(&payload); err == nil && payload.WindowID != "" {
			h.Windows.Focus(payload.WindowID)
		}
	default:
		if p.Role == RolePage {
			h.pageBus.Publish(p.ID, f)
		}
	}
}

func (h *Hub) handleIdentity(p *Peer, f *wsproto.Frame) {
	var identity wsproto.IdentityPayload
	if err := f.ParsePayload(&identity); err != nil {
		h.log.Warn("dropping malformed identity frame", zap.Error(err))
		return
	}

	if identity.ServerSessionID != "" && identity.ServerSessionID != h.serverSessionID {
		reload, err := wsproto.NewFrame("", wsproto.SystemChannel, wsproto.ActionReload, map[string]string{
			"reason": "server session mismatch",
		}, wsproto.SourceServer)
		if err == nil {
			p.Send(reload)
		}
	}

	active := true
	if identity.Active != nil {
		active = *identity.Active
	}

	p.mu.Lock()
	p.windowID = identity.WindowID
	p.pageInstanceID = identity.PageInstanceID
	p.mu.Unlock()

	h.Windows.Claim(identity.WindowID, identity.PageInstanceID, p.ID, identity.URL, identity.Title, active, identity.WindowType)
	h.recomputeBrowserStatus()
}

// handleTerminalHello records the session id a terminal announces right
// after connecting, so register-shell/rename-shell (REST, §6) can later
// resolve this peer from the same session header the terminal already
// sends on its /op calls.
func (h *Hub) handleTerminalHello(p *Peer, f *wsproto.Frame) {
	var payload wsproto.TerminalHelloPayload
	if err := f.ParsePayload(&payload); err != nil || payload.SessionID == "" {
		h.log.Warn("dropping malformed terminal-hello frame")
		return
	}
	p.mu.Lock()
	p.sessionID = payload.SessionID
	p.mu.Unlock()
}

func (h *Hub) handleWindowUpdated(p *Peer, f *wsproto.Frame) {
	var payload struct {
		WindowID string  `json:"windowId"`
		URL      *string `json:"url"`
		Title    *string `json:"title"`
		Active   *bool   `json:"active"`
	}
	if err := f.ParsePayload(&payload); err != nil {
		h.log.Warn("dropping malformed window-updated frame", zap.Error(err))
		return
	}
	windowID := payload.WindowID
	if windowID == "" {
		p.mu.RLock()
		windowID = p.windowID
		p.mu.RUnlock()
	}
	if windowID == "" {
		return
	}
	h.Windows.Update(windowID, payload.URL, payload.Title, payload.Active)
	h.recomputeBrowserStatus()
}

// recomputeBrowserStatus recomputes the browser-related status entry
// whenever a window connects or disconnects (§4.J).
func (h *Hub) recomputeBrowserStatus() {
	windows := h.Windows.List()
	focusedID := h.Windows.FocusedWindowID()

	var focusedHost, focusedTitle string
	if focusedID != "" {
		if w, ok := h.Windows.Get(focusedID); ok {
			focusedHost = hostOf(w.URL)
			focusedTitle = w.Title
		}
	}
	h.Status.WindowsChanged(focusedHost, focusedTitle, len(windows))
}

func hostOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func (h *Hub) broadcastTerminalDeparture(p *Peer) {
	p.mu.RLock()
	name := p.shellName
	p.mu.RUnlock()
	if name == "" {
		return
	}
	f, err := wsproto.NewFrame("", wsproto.SystemChannel, "terminal-departed", map[string]string{
		"name": name,
	}, wsproto.SourceServer)
	if err != nil {
		return
	}
	h.terminalBus.Publish(p.ID, f)
}

// TargetPeer returns the peer owning a given windowId, for the Router.
func (h *Hub) TargetPeer(windowID string) (*Peer, bool) {
	peerID, ok := h.Windows.PeerID(windowID)
	if !ok {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[peerID]
	return p, ok
}

// Peer returns any live peer by id, regardless of role.
func (h *Hub) Peer(peerID string) (*Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[peerID]
	return p, ok
}

// SetShellName records the human-chosen name for a terminal peer.
func (h *Hub) SetShellName(peerID, name string) {
	h.mu.RLock()
	p, ok := h.peers[peerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.shellName = name
	p.mu.Unlock()
}

// PeerBySession finds a terminal peer by the session id it announced in
// its hello frame, bridging a REST caller's session header (§6) back to
// its live WS connection.
func (h *Hub) PeerBySession(sessionID string) (*Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.peers {
		if p.Role != RoleTerminal {
			continue
		}
		p.mu.RLock()
		match := p.sessionID == sessionID
		p.mu.RUnlock()
		if match {
			return p, true
		}
	}
	return nil, false
}

// ShellByName finds a terminal peer by its registered shell name.
func (h *Hub) ShellByName(name string) (*Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.peers {
		if p.Role != RoleTerminal {
			continue
		}
		p.mu.RLock()
		match := p.shellName == name
		p.mu.RUnlock()
		if match {
			return p, true
		}
	}
	return nil, false
}

// ListShells returns the names of every live terminal peer.
func (h *Hub) ListShells() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0)
	for _, p := range h.peers {
		if p.Role != RoleTerminal {
			continue
		}
		p.mu.RLock()
		name := p.shellName
		p.mu.RUnlock()
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
