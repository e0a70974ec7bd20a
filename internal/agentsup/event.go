// Package agentsup implements the Agent Supervisor (§4.G): it spawns an
// assistant subprocess per agent session, parses its line-delimited
// framed output, forwards typed events, and allows mid-flight input
// injection and interruption.
package agentsup

import (
	"encoding/json"
	"time"
)

// EventType classifies a typed event forwarded to a session's observer.
type EventType string

const (
	EventStatusChanged  EventType = "status-changed"
	EventAssistantText  EventType = "assistant-text"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventResult         EventType = "result"
	EventSystemInit     EventType = "system-init"
	EventGenericText    EventType = "generic-text"
)

// Event is a single typed notification raised during a session's
// lifecycle; OnEvent callbacks receive these in the order they occur.
type Event struct {
	Type       EventType       `json:"type"`
	SessionID  string          `json:"sessionId"`
	Text       string          `json:"text,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolUseID  string          `json:"toolUseId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Status     Status          `json:"status,omitempty"`
	CostUSD    float64         `json:"costUsd,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// OnEvent receives events as they are produced.
type OnEvent func(Event)
