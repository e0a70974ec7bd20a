package agentsup

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// outputFrame is the line-delimited JSON shape emitted by the assistant
// subprocess (§4.G / §6). Recognized top-level types: "system", the
// "assistant" frame with a content-block array, a "user" frame that may
// wrap tool-result blocks, and a "result" frame.
type outputFrame struct {
	Type         string         `json:"type"`
	Subtype      string         `json:"subtype,omitempty"`
	Message      *outputMessage `json:"message,omitempty"`
	Result       string         `json:"result,omitempty"`
	TotalCostUSD float64        `json:"total_cost_usd,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
}

type outputMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// parseChildLine decodes a single child output line into zero or more
// typed events, in emission order.
func parseChildLine(line string) []Event {
	var frame outputFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil || frame.Type == "" {
		return parseNonJSONLine(line)
	}

	switch frame.Type {
	case "system":
		return []Event{{Type: EventSystemInit}}
	case "assistant":
		return parseContentBlocks(frame.Message, EventToolCall, true)
	case "user":
		return parseContentBlocks(frame.Message, EventToolResult, false)
	case "result":
		return []Event{{
			Type:       EventResult,
			Text:       frame.Result,
			CostUSD:    frame.TotalCostUSD,
			DurationMs: frame.DurationMs,
		}}
	default:
		return nil
	}
}

func parseContentBlocks(msg *outputMessage, toolEventType EventType, textIsAssistant bool) []Event {
	if msg == nil || len(msg.Content) == 0 {
		return nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil
	}

	events := make([]Event, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if textIsAssistant {
				events = append(events, Event{Type: EventAssistantText, Text: b.Text})
			}
		case "tool_use":
			id := b.ID
			if id == "" {
				id = uuid.NewString()
			}
			events = append(events, Event{
				Type:      toolEventType,
				ToolName:  b.Name,
				ToolUseID: id,
				Input:     normalizeToolInput(b.Input),
			})
		case "tool_result":
			text := rawToDisplayString(b.Content)
			events = append(events, Event{
				Type:      EventToolResult,
				ToolUseID: b.ToolUseID,
				Text:      text,
			})
		}
	}
	return events
}

// normalizeToolInput serializes a tool-use input deterministically for
// display whether it arrived as a bare string or a structured value.
func normalizeToolInput(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

func rawToDisplayString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// parseNonJSONLine applies the heuristics in §4.G: lines that look like
// HTML, base64, or are implausibly long are dropped silently; shorter
// non-JSON lines become a generic text event.
func parseNonJSONLine(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) > 1000 {
		return nil
	}
	if strings.HasPrefix(trimmed, "<") {
		return nil
	}
	if looksLikeBase64(trimmed) {
		return nil
	}
	return []Event{{Type: EventGenericText, Text: trimmed}}
}

func looksLikeBase64(s string) bool {
	if len(s) < 64 || strings.ContainsAny(s, " \t\"{}[]") {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '/' || r == '=') {
			return false
		}
	}
	return true
}
