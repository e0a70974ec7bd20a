package agentsup

import (
	"sync"
	"time"

	"github.com/tabbroker/tabbroker/internal/transcript"
)

// Status is the agent session's status machine state (§4.G).
type Status string

const (
	StatusIdle     Status = "idle"
	StatusThinking Status = "thinking"
	StatusDone     Status = "done"
	StatusError    Status = "error"
)

// Session is a single agent conversation: a stable identity, a status, a
// transcript, an optional live subprocess, and a queue of messages to
// inject before the next prompt.
type Session struct {
	mu sync.Mutex

	SessionID  string
	Name       string
	WorkingDir string
	CreatedAt  time.Time

	status     Status
	transcript []transcript.Entry

	child *child

	messageQueue []queuedMessage

	restoredContext  string
	restoredConsumed bool
}

type queuedMessage struct {
	from string
	text string
}

func newSession(sessionID, name, workingDir string) *Session {
	return &Session{
		SessionID:  sessionID,
		Name:       name,
		WorkingDir: workingDir,
		CreatedAt:  time.Now(),
		status:     StatusIdle,
	}
}

// Status returns the session's current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(v Status) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

// Transcript returns a snapshot of the transcript entries recorded so far.
func (s *Session) Transcript() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Session) appendTranscript(e transcript.Entry) {
	s.mu.Lock()
	s.transcript = append(s.transcript, e)
	s.mu.Unlock()
}

func (s *Session) hasRunningChild() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child != nil
}

// drainQueue empties the FIFO message queue and renders each entry with a
// short labeled envelope ("message from X").
func (s *Session) drainQueue() string {
	s.mu.Lock()
	queued := s.messageQueue
	s.messageQueue = nil
	s.mu.Unlock()

	var prefix string
	for _, m := range queued {
		prefix += "[message from " + m.from + "]: " + m.text + "\n"
	}
	return prefix
}

func (s *Session) enqueue(from, text string) {
	s.mu.Lock()
	s.messageQueue = append(s.messageQueue, queuedMessage{from: from, text: text})
	s.mu.Unlock()
}

// takeRestoredContext returns the one-shot restored context exactly once;
// subsequent calls return "".
func (s *Session) takeRestoredContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restoredConsumed || s.restoredContext == "" {
		return ""
	}
	s.restoredConsumed = true
	return s.restoredContext
}

func (s *Session) asTranscriptSession() transcript.Sessionish {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]transcript.Entry, len(s.transcript))
	copy(entries, s.transcript)
	return transcript.Sessionish{
		ShellID:    s.SessionID,
		Name:       s.Name,
		CreatedAt:  s.CreatedAt,
		Cwd:        s.WorkingDir,
		Transcript: entries,
	}
}
