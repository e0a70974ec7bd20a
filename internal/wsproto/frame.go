// Package wsproto defines the framed-JSON wire protocol shared by the three
// duplex mount points (pages, agent-observers, terminals): one frame per
// transport message, correlated by id.
package wsproto

import (
	"encoding/json"
	"time"
)

// Source identifies which population emitted a frame.
type Source string

const (
	SourcePage     Source = "page"
	SourceAgent    Source = "agent"
	SourceTerminal Source = "terminal"
	SourceServer   Source = "server"
)

// Frame is the wire envelope for all asynchronous traffic: {id, channel,
// action, payload, timestamp, source}.
type Frame struct {
	ID        string          `json:"id,omitempty"`
	Channel   string          `json:"channel"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Source    Source          `json:"source"`
}

// Reply is the wire envelope for a correlated reply: {id, success, data?,
// error?, timestamp}, always carrying the original frame's id.
type Reply struct {
	ID        string          `json:"id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// System channel name reserved for frames the core itself interprets
// (identity, window-updated, window-state, reload, focus, activate,
// deactivate). Every other channel is opaque pass-through.
const SystemChannel = "system"

// System frame actions interpreted by the core (§9 "Dynamic JSON frames").
const (
	ActionIdentity       = "identity"
	ActionWindowUpdated  = "window-updated"
	ActionWindowState    = "window-state"
	ActionReload         = "reload"
	ActionFocus          = "focus"
	ActionActivate       = "activate"
	ActionDeactivate     = "deactivate"
	ActionTerminalHello  = "terminal-hello"
	ActionLoopbackPing   = "ping" // loopback action name for routing checks; the core does not interpret it
)

// TerminalHelloPayload is the payload of a terminal's hello frame, sent
// immediately after connect so the REST surface (§6) — which only ever
// sees the caller's session header, not its WS peer id — can resolve this
// connection by the same session id on a later register-shell/rename-shell
// call.
type TerminalHelloPayload struct {
	SessionID string `json:"sessionId"`
}

// NewFrame builds a new outbound Frame with the given payload marshaled.
func NewFrame(id, channel, action string, payload interface{}, source Source) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id,
		Channel:   channel,
		Action:    action,
		Payload:   data,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}, nil
}

// NewReply builds a successful Reply carrying the given data.
func NewReply(id string, data interface{}) (*Reply, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Reply{ID: id, Success: true, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// NewErrorReply builds a failed Reply carrying an error message.
func NewErrorReply(id, message string) *Reply {
	return &Reply{ID: id, Success: false, Error: message, Timestamp: time.Now().UTC()}
}

// ParsePayload unmarshals the frame's payload into v.
func (f *Frame) ParsePayload(v interface{}) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// IsSystem reports whether this frame is on the reserved system channel.
func (f *Frame) IsSystem() bool {
	return f.Channel == SystemChannel
}

// IdentityPayload is the payload of a page's identity frame, sent
// immediately after connect.
type IdentityPayload struct {
	WindowID        string `json:"windowId"`
	PageInstanceID  string `json:"pageInstanceId"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	Active          *bool  `json:"active,omitempty"`
	WindowType      string `json:"windowType"`
	ServerSessionID string `json:"serverSessionId"`
}
