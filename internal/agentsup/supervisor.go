package agentsup

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/transcript"
)

// Supervisor owns every live agent session and the child process backing
// each one. One Supervisor per server process.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*Session
	usedName map[string]bool

	binary        string
	toolWhitelist []string
	namePool      []string

	log   *logging.Logger
	store *transcript.Store
}

// New creates a Supervisor. namePool supplies the auto-assigned session
// names (§3 "unique among live sessions").
func New(binary string, toolWhitelist, namePool []string, log *logging.Logger, store *transcript.Store) *Supervisor {
	return &Supervisor{
		sessions:      make(map[string]*Session),
		usedName:      make(map[string]bool),
		binary:        binary,
		toolWhitelist: toolWhitelist,
		namePool:      namePool,
		log:           log.WithFields(zap.String("component", "agentsup")),
		store:         store,
	}
}

// GetOrCreate returns the existing session for sessionID, or creates one
// with an auto-assigned name.
func (s *Supervisor) GetOrCreate(sessionID, workingDir string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}
	name := s.allocateNameLocked()
	sess := newSession(sessionID, name, workingDir)
	s.sessions[sessionID] = sess
	return sess
}

// Get returns a live session by id.
func (s *Supervisor) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Remove deletes a session entirely (explicit removal destroys it, §3).
func (s *Supervisor) Remove(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		s.usedName[sess.Name] = false
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	c := sess.child
	sess.child = nil
	sess.mu.Unlock()
	if c != nil {
		c.interrupt()
	}
}

func (s *Supervisor) allocateNameLocked() string {
	for _, candidate := range s.namePool {
		if !s.usedName[candidate] {
			s.usedName[candidate] = true
			return candidate
		}
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("session-%d", i)
		if !s.usedName[candidate] {
			s.usedName[candidate] = true
			return candidate
		}
	}
}

// Prompt implements §4.G's prompt operation: spawns a child if the
// session is idle, or injects into the running child otherwise. Drains
// the message queue and prepends the one-shot restored context before the
// very first prompt after a restore.
func (s *Supervisor) Prompt(sessionID, text, workingDir string, onEvent OnEvent) error {
	sess := s.GetOrCreate(sessionID, workingDir)

	prefix := sess.takeRestoredContext()
	prefix += sess.drainQueue()
	fullText := prefix + text

	if sess.hasRunningChild() {
		sess.mu.Lock()
		c := sess.child
		sess.mu.Unlock()
		if c == nil {
			return fmt.Errorf("session %s: child vanished", sessionID)
		}
		sess.appendTranscript(transcript.Entry{Kind: transcript.EntryUser, Text: text, Timestamp: time.Now()})
		return c.sendUserMessage(fullText)
	}

	sess.setStatus(StatusThinking)
	if onEvent != nil {
		onEvent(Event{Type: EventStatusChanged, SessionID: sessionID, Status: StatusThinking, Timestamp: time.Now()})
	}
	sess.appendTranscript(transcript.Entry{Kind: transcript.EntryUser, Text: text, Timestamp: time.Now()})

	c, err := spawnChild(
		ChildConfig{Binary: s.binary, WorkingDir: workingDir, ToolWhitelist: s.toolWhitelist},
		s.log,
		func(line string) { s.handleChildLine(sess, line, onEvent) },
		func(exitCode int, stderrTail string) { s.handleChildExit(sess, exitCode, stderrTail, onEvent) },
	)
	if err != nil {
		sess.setStatus(StatusError)
		if onEvent != nil {
			onEvent(Event{Type: EventStatusChanged, SessionID: sessionID, Status: StatusError, Timestamp: time.Now()})
		}
		return fmt.Errorf("spawning agent subprocess: %w", err)
	}

	sess.mu.Lock()
	sess.child = c
	sess.mu.Unlock()

	if err := c.sendUserMessage(fullText); err != nil {
		return fmt.Errorf("writing initial prompt: %w", err)
	}
	return nil
}

// InterruptResult classifies the outcome of InterruptAndQueue.
type InterruptResult string

const (
	InterruptSent     InterruptResult = "sent"
	InterruptQueued   InterruptResult = "queued"
	InterruptNotFound InterruptResult = "not_found"
)

// InterruptAndQueue appends message to the session's queue and, if a
// child is running, sends it a graceful interrupt so it restarts cleanly
// and picks the queued message up on the next prompt.
func (s *Supervisor) InterruptAndQueue(sessionID, from, message string) InterruptResult {
	sess, ok := s.Get(sessionID)
	if !ok {
		return InterruptNotFound
	}

	sess.enqueue(from, message)

	if !sess.hasRunningChild() {
		return InterruptSent
	}

	sess.mu.Lock()
	c := sess.child
	sess.child = nil
	sess.mu.Unlock()

	if c != nil {
		c.interrupt()
	}
	sess.setStatus(StatusIdle)
	return InterruptQueued
}

// Kill sends a graceful interrupt signal and marks the session idle
// immediately, without waiting for the child to die.
func (s *Supervisor) Kill(sessionID string) error {
	sess, ok := s.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	sess.mu.Lock()
	c := sess.child
	sess.child = nil
	sess.mu.Unlock()

	if c != nil {
		c.interrupt()
	}
	sess.setStatus(StatusIdle)
	return nil
}

// SendToChild writes one JSON line to the child's stdin without changing
// status — true mid-flight injection.
func (s *Supervisor) SendToChild(sessionID, text string) error {
	sess, ok := s.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	sess.mu.Lock()
	c := sess.child
	sess.mu.Unlock()
	if c == nil {
		return fmt.Errorf("session %s has no running child", sessionID)
	}
	return c.sendUserMessage(text)
}

func (s *Supervisor) handleChildLine(sess *Session, line string, onEvent OnEvent) {
	for _, ev := range parseChildLine(line) {
		ev.SessionID = sess.SessionID
		ev.Timestamp = time.Now()

		switch ev.Type {
		case EventAssistantText:
			sess.appendTranscript(transcript.Entry{Kind: transcript.EntryAssistantText, Text: ev.Text, Timestamp: ev.Timestamp})
		case EventToolCall:
			sess.appendTranscript(transcript.Entry{Kind: transcript.EntryToolCall, ToolName: ev.ToolName, ToolUseID: ev.ToolUseID, Input: ev.Input, Timestamp: ev.Timestamp})
		case EventToolResult:
			sess.appendTranscript(transcript.Entry{Kind: transcript.EntryToolResult, ToolUseID: ev.ToolUseID, Text: ev.Text, Timestamp: ev.Timestamp})
		}

		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func (s *Supervisor) handleChildExit(sess *Session, exitCode int, stderrTail string, onEvent OnEvent) {
	sess.mu.Lock()
	sess.child = nil
	sess.mu.Unlock()

	// §4.G's status machine only defines two exit transitions: idle on
	// exit code 0, error on a non-zero exit with a non-empty stderr tail.
	// A non-zero exit with nothing on stderr still counts as an error —
	// the child died without explaining itself.
	next := StatusIdle
	if exitCode != 0 {
		next = StatusError
		if stderrTail != "" {
			sess.appendTranscript(transcript.Entry{Kind: transcript.EntrySystem, Text: stderrTail, Timestamp: time.Now()})
		}
	}
	sess.setStatus(next)

	if onEvent != nil {
		onEvent(Event{Type: EventStatusChanged, SessionID: sess.SessionID, Status: next, Timestamp: time.Now()})
	}

	go s.saveTranscript(sess)
}

// saveTranscript persists the session's transcript best-effort; failures
// are logged and never propagate (§5).
func (s *Supervisor) saveTranscript(sess *Session) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(sess.asTranscriptSession()); err != nil {
		s.log.WithSession(sess.SessionID).Warn("transcript save failed", zap.Error(err))
	}
}

// RestoreSession seeds a fresh session from a saved transcript file,
// borrowing its name and cwd but starting with an empty transcript plus a
// one-shot condensed context (§4.H).
func (s *Supervisor) RestoreSession(newSessionID string, restored *transcript.Restored) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := newSession(newSessionID, restored.Name, restored.Cwd)
	sess.restoredContext = restored.RestoredContext
	s.sessions[newSessionID] = sess
	s.usedName[restored.Name] = true
	return sess
}
