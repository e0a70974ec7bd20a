// Package hub implements the Peer Registry (§4.A): the three duplex mount
// points (pages, agent-observers, terminals), each peer's read/write
// pumps, and the disconnect teardown for each role.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/wsproto"
)

// wireMessage unmarshals either shape the wire carries on a single socket:
// a command Frame {channel, action, payload, ...} or a correlated Reply
// {success, data?, error?, ...}. Presence of "success" distinguishes them.
type wireMessage struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Source    wsproto.Source  `json:"source"`
	Success   *bool           `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
}

func (w *wireMessage) toFrame() *wsproto.Frame {
	return &wsproto.Frame{
		ID:        w.ID,
		Channel:   w.Channel,
		Action:    w.Action,
		Payload:   w.Payload,
		Timestamp: w.Timestamp,
		Source:    w.Source,
	}
}

func (w *wireMessage) toReply() *wsproto.Reply {
	return &wsproto.Reply{
		ID:        w.ID,
		Success:   *w.Success,
		Data:      w.Data,
		Error:     w.Error,
		Timestamp: w.Timestamp,
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
)

// Role identifies which population a peer belongs to.
type Role string

const (
	RolePage     Role = "page"
	RoleAgent    Role = "agent-observer"
	RoleTerminal Role = "terminal"
)

// Peer is a single full-duplex connection accepted at one of the three
// mount points.
type Peer struct {
	ID     string
	Role   Role
	conn   *websocket.Conn
	send   chan *wsproto.Frame
	hub    *Hub
	log    *logging.Logger
	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.RWMutex
	lastSeen time.Time

	// Page-only fields.
	windowID       string
	pageInstanceID string

	// Terminal-only fields: the session id from its hello frame (used to
	// resolve this peer from a later REST call bearing the same session
	// header) and the human-chosen shell name.
	sessionID string
	shellName string
}

func newPeer(id string, role Role, conn *websocket.Conn, h *Hub, log *logging.Logger) *Peer {
	return &Peer{
		ID:       id,
		Role:     role,
		conn:     conn,
		send:     make(chan *wsproto.Frame, 256),
		hub:      h,
		log:      log.WithPeer(id),
		lastSeen: time.Now(),
		closed:   make(chan struct{}),
	}
}

// Deliver implements broadcast.Subscriber; it queues a frame for the
// write pump without blocking the publisher.
func (p *Peer) Deliver(frame interface{}) {
	f, ok := frame.(*wsproto.Frame)
	if !ok {
		return
	}
	select {
	case p.send <- f:
	default:
		p.log.Warn("peer send buffer full, dropping frame")
	}
}

// Send enqueues a frame for delivery, same semantics as Deliver but named
// for direct callers (the Router writing a command to a target window).
func (p *Peer) Send(f *wsproto.Frame) bool {
	select {
	case p.send <- f:
		return true
	default:
		return false
	}
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// Close closes the underlying transport exactly once; safe to call
// concurrently and multiple times.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		_ = p.conn.Close()
		close(p.closed)
	})
}

// Done returns a channel closed once this peer's transport is closed, so
// callers awaiting a reply from it can notice disconnection.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

// ReadPump reads frames off the wire and hands each to the hub's dispatch
// logic. Malformed frames are logged and dropped; the peer stays
// connected (§4.A failure semantics).
func (p *Peer) ReadPump() {
	defer func() {
		p.hub.unregister(p)
		p.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				p.log.Debug("peer read error", zap.Error(err))
			}
			return
		}

		var wire wireMessage
		if err := json.Unmarshal(raw, &wire); err != nil {
			p.log.Warn("dropping malformed frame")
			continue
		}
		p.touch()

		if wire.Success != nil {
			p.hub.handleReply(p, wire.toReply())
			continue
		}
		p.hub.handleInbound(p, wire.toFrame())
	}
}

// WritePump drains the send channel to the wire, writing each frame as its
// own transport message (§6: one frame, one message — never batched), and
// sending keepalive pings on an idle socket.
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.writeFrame(frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Peer) writeFrame(frame *wsproto.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		p.log.Warn("dropping unmarshalable outbound frame", zap.Error(err))
		return nil
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}
