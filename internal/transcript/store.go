// Package transcript implements the Transcript Store (§4.H): append-only,
// best-effort persistence of an agent session's conversation to disk, so
// it can be listed and restored across restarts.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const productHiddenDir = ".tabbroker"

// EntryKind classifies a single transcript entry.
type EntryKind string

const (
	EntryUser          EntryKind = "user"
	EntryAssistantText EntryKind = "assistant-text"
	EntryToolCall      EntryKind = "tool-call"
	EntryToolResult    EntryKind = "tool-result"
	EntrySystem        EntryKind = "system"
)

// Entry is a single transcript line.
type Entry struct {
	Kind      EntryKind       `json:"kind"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolUseID string          `json:"toolUseId,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Envelope is the versioned on-disk payload (§4.H).
type Envelope struct {
	Version   int       `json:"version"`
	ShellID   string    `json:"shellId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Cwd       string    `json:"cwd"`
	Transcript []Entry  `json:"transcript"`
}

// Meta is the metadata-only view returned by List (no transcript body).
type Meta struct {
	Filename  string    `json:"filename"`
	ShellID   string    `json:"shellId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Cwd       string    `json:"cwd"`
}

// Sessionish is the minimal view of a session Save needs; kept small and
// local so this package does not import internal/agentsup (no cycle).
type Sessionish struct {
	ShellID    string
	Name       string
	CreatedAt  time.Time
	Cwd        string
	Transcript []Entry
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Store persists and retrieves transcripts under <cwd>/.tabbroker/transcripts/.
type Store struct{}

// NewStore creates a Store. It carries no state: every operation takes the
// working directory explicitly, matching the "fresh per session" contract.
func NewStore() *Store { return &Store{} }

func dirFor(cwd string) string {
	return filepath.Join(cwd, productHiddenDir, "transcripts")
}

// Save writes or overwrites the session's transcript file. No-op if the
// transcript is empty or cwd is unknown. Write failures are returned;
// the supervisor logs them and carries on (§5 "Transcript write is
// best-effort").
func (s *Store) Save(sess Sessionish) error {
	if len(sess.Transcript) == 0 || sess.Cwd == "" {
		return nil
	}

	dir := dirFor(sess.Cwd)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating transcript dir: %w", err)
	}

	now := time.Now().UTC()
	env := Envelope{
		Version:    1,
		ShellID:    sess.ShellID,
		Name:       sess.Name,
		CreatedAt:  sess.CreatedAt,
		UpdatedAt:  now,
		Cwd:        sess.Cwd,
		Transcript: sess.Transcript,
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling transcript: %w", err)
	}

	filename := fileName(sess.CreatedAt, sess.Name, sess.ShellID)
	path := filepath.Join(dir, filename)
	return os.WriteFile(path, data, 0o644)
}

// List scans the transcript directory for *.json files, skips malformed
// ones, and returns metadata ordered by updatedAt descending.
func (s *Store) List(cwd string) ([]Meta, error) {
	dir := dirFor(cwd)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading transcript dir: %w", err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		metas = append(metas, Meta{
			Filename:  e.Name(),
			ShellID:   env.ShellID,
			Name:      env.Name,
			CreatedAt: env.CreatedAt,
			UpdatedAt: env.UpdatedAt,
			Cwd:       env.Cwd,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Load returns the full envelope for a given filename, or nil if missing
// or malformed.
func (s *Store) Load(cwd, filename string) (*Envelope, error) {
	path := filepath.Join(dirFor(cwd), filepath.Base(filename))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading transcript file: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil
	}
	return &env, nil
}

// Restored is the result of Restore: a fresh session seed, not a live
// session — the supervisor decides how to turn this into one.
type Restored struct {
	ShellID         string
	Name            string
	Cwd             string
	RestoredContext string
}

// Restore builds a fresh-session seed that borrows the saved name and cwd
// but starts with an empty transcript (§4.H: prior restoration was found
// unsafe due to observed corruption and stale-context problems, so restore
// always starts clean and carries the old transcript only as a condensed,
// one-shot prelude).
func (s *Store) Restore(newShellID, cwd, filename string) (*Restored, error) {
	env, err := s.Load(cwd, filename)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, nil
	}

	return &Restored{
		ShellID:         newShellID,
		Name:            env.Name,
		Cwd:             env.Cwd,
		RestoredContext: condense(env.Transcript),
	}, nil
}

func condense(entries []Entry) string {
	var b strings.Builder
	b.WriteString("Restored from a previous session. Summary of what happened:\n")
	for _, e := range entries {
		switch e.Kind {
		case EntryUser:
			fmt.Fprintf(&b, "- user said: %s\n", truncate(e.Text, 200))
		case EntryAssistantText:
			fmt.Fprintf(&b, "- assistant said: %s\n", truncate(e.Text, 200))
		case EntryToolCall:
			fmt.Fprintf(&b, "- called tool %s\n", e.ToolName)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func fileName(createdAt time.Time, name, shellID string) string {
	ts := createdAt.UTC().Format(time.RFC3339)
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	safeName := sanitizeRe.ReplaceAllString(name, "_")
	return fmt.Sprintf("%s_%s_%s.json", ts, safeName, shellID)
}
