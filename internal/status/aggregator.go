// Package status implements the Status Aggregator (§4.J): a per-tool
// status map plus a push-notice queue, broadcast to terminal peers on
// every change.
package status

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tabbroker/tabbroker/internal/wsproto"
)

const defaultStatusText = "no browser connected"

// Notice is a single push notice: a tool, its text, and when it fired.
type Notice struct {
	Tool      string    `json:"tool"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher broadcasts a status frame to every terminal peer. Implemented
// by the hub, injected here so this package never imports the transport
// layer.
type Publisher interface {
	BroadcastStatus(frame *wsproto.Frame)
}

// Line is the rendered, broadcastable snapshot of aggregator state.
type Line struct {
	Text    string   `json:"text"`
	Tools   []string `json:"tools"`
	Notices []Notice `json:"notices,omitempty"`
}

// Aggregator holds the tool->status mapping and the push-notice queue.
type Aggregator struct {
	mu      sync.Mutex
	byTool  map[string]string
	order   []string // insertion order of tool keys, for stable rendering
	notices []Notice

	browserStatus string // recomputed separately by window connect/disconnect hooks

	publisher Publisher
}

// New creates an Aggregator that broadcasts changes through pub.
func New(pub Publisher) *Aggregator {
	return &Aggregator{
		byTool:        make(map[string]string),
		browserStatus: defaultStatusText,
		publisher:     pub,
	}
}

// UpdateStatus sets or clears (value == "") the short status string for a
// tool, then broadcasts the new status line.
func (a *Aggregator) UpdateStatus(tool, value string) {
	a.mu.Lock()
	if value == "" {
		delete(a.byTool, tool)
		a.removeFromOrder(tool)
	} else {
		if _, had := a.byTool[tool]; !had {
			a.order = append(a.order, tool)
		}
		a.byTool[tool] = value
	}
	line := a.renderLocked()
	a.mu.Unlock()

	a.broadcast(line)
}

// PushMessage appends a notice for a tool and broadcasts the new status line.
func (a *Aggregator) PushMessage(tool, text string) {
	a.mu.Lock()
	a.notices = append(a.notices, Notice{Tool: tool, Text: text, Timestamp: time.Now()})
	line := a.renderLocked()
	a.mu.Unlock()

	a.broadcast(line)
}

// WindowsChanged recomputes the browser-related status entry whenever a
// window connects or disconnects (§4.J): if a focused window exists, the
// line reports its host and truncated title; otherwise a tab count, or
// the default string when no tabs are connected.
func (a *Aggregator) WindowsChanged(focusedHost, focusedTitle string, tabCount int) {
	var text string
	switch {
	case focusedHost != "":
		text = fmt.Sprintf("%s — %s", focusedHost, truncate(focusedTitle, 40))
	case tabCount > 0:
		text = fmt.Sprintf("%d tab(s) connected", tabCount)
	default:
		text = defaultStatusText
	}

	a.mu.Lock()
	a.browserStatus = text
	line := a.renderLocked()
	a.mu.Unlock()

	a.broadcast(line)
}

// GetStatusLine renders a compact single line by joining non-empty items.
func (a *Aggregator) GetStatusLine() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renderLocked().Text
}

func (a *Aggregator) renderLocked() Line {
	parts := make([]string, 0, len(a.order)+1)
	parts = append(parts, a.browserStatus)
	tools := make([]string, 0, len(a.order))
	for _, tool := range a.order {
		if v, ok := a.byTool[tool]; ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", tool, v))
			tools = append(tools, tool)
		}
	}

	recent := a.notices
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	noticesCopy := make([]Notice, len(recent))
	copy(noticesCopy, recent)

	return Line{
		Text:    strings.Join(parts, " | "),
		Tools:   tools,
		Notices: noticesCopy,
	}
}

func (a *Aggregator) removeFromOrder(tool string) {
	for i, t := range a.order {
		if t == tool {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

func (a *Aggregator) broadcast(line Line) {
	if a.publisher == nil {
		return
	}
	f, err := wsproto.NewFrame("", wsproto.SystemChannel, "status", line, wsproto.SourceServer)
	if err != nil {
		return
	}
	a.publisher.BroadcastStatus(f)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
