// Package taskboard implements the Task Board (§4.I): a markdown-backed
// shared Kanban file with parse/serialize, CRUD commands, and a summary
// line consumed by the Status Aggregator.
package taskboard

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Column is one of the Task Item's seven lanes, always emitted and parsed
// in this canonical order.
type Column string

const (
	ColumnIcebox     Column = "icebox"
	ColumnQueued     Column = "queued"
	ColumnInProgress Column = "in_progress"
	ColumnBlocked    Column = "blocked"
	ColumnReview     Column = "review"
	ColumnDone       Column = "done"
	ColumnTrash      Column = "trash"
)

// CanonicalColumns lists every column in serialization order.
var CanonicalColumns = []Column{
	ColumnIcebox, ColumnQueued, ColumnInProgress, ColumnBlocked, ColumnReview, ColumnDone, ColumnTrash,
}

func isKnownColumn(s string) (Column, bool) {
	for _, c := range CanonicalColumns {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// TaskItem is a single board entry.
type TaskItem struct {
	ID       int
	Title    string
	Column   Column
	Metadata map[string]string
}

// Board is an in-memory view of the markdown file at Path. It is a cache:
// callers must re-read before mutating and rewrite the full file after
// (§5 concurrency policy — the file is the source of truth).
type Board struct {
	Path  string
	Items []*TaskItem
}

// Locate finds the first tasks-*.md file under dir, or creates a new one
// with a random hex suffix if none exists.
func Locate(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating task board dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading task board dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "tasks-") && strings.HasSuffix(name, ".md") {
			return filepath.Join(dir, name), nil
		}
	}

	hex := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	path := filepath.Join(dir, fmt.Sprintf("tasks-%s.md", hex))
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		return "", fmt.Errorf("creating task board file: %w", err)
	}
	return path, nil
}

// Load re-reads path and parses it fresh. A file that cannot be parsed
// (or does not exist) is treated as empty (§7 user-visible failure
// behavior) — the next mutation rewrites it.
func Load(path string) *Board {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Board{Path: path}
	}
	return &Board{Path: path, Items: Parse(string(data))}
}

// Parse applies the parser rules in §4.I. Each item's id is read back from
// its own "- id: N" bullet so ids survive a Serialize that regroups items
// into canonical column order; an item with no persisted id (a hand-edited
// addition) is assigned the next free one in file-scan order.
func Parse(content string) []*TaskItem {
	var items []*TaskItem
	var current Column
	var last *TaskItem
	maxID := 0

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if col, ok := isKnownColumn(heading); ok {
				current = col
				last = nil
			}
			continue
		}

		if strings.HasPrefix(trimmed, "- ") {
			if last == nil || current == "" {
				continue
			}
			key, value, ok := parseMetadataBullet(trimmed)
			if !ok {
				continue
			}
			if key == "id" {
				if id, err := strconv.Atoi(value); err == nil {
					last.ID = id
					if id > maxID {
						maxID = id
					}
				}
				continue
			}
			last.Metadata[key] = value
			continue
		}

		if current == "" {
			continue
		}

		item := &TaskItem{
			Title:    trimmed,
			Column:   current,
			Metadata: make(map[string]string),
		}
		items = append(items, item)
		last = item
	}

	for _, it := range items {
		if it.ID == 0 {
			maxID++
			it.ID = maxID
		}
	}

	return items
}

func parseMetadataBullet(line string) (string, string, bool) {
	body := strings.TrimPrefix(line, "- ")
	idx := strings.Index(body, ":")
	if idx < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(body[:idx])
	value := strings.TrimSpace(body[idx+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// Serialize renders the board in canonical column order, omitting empty
// columns. Each item's id is written back as its own "- id: N" bullet so
// Parse can recover it on the next load regardless of how column grouping
// reorders items relative to the previous file.
func (b *Board) Serialize() string {
	var sb strings.Builder
	for _, col := range CanonicalColumns {
		var items []*TaskItem
		for _, it := range b.Items {
			if it.Column == col {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}

		fmt.Fprintf(&sb, "# %s\n\n", col)
		for _, it := range items {
			sb.WriteString(it.Title)
			sb.WriteString("\n")
			fmt.Fprintf(&sb, "- id: %d\n", it.ID)
			for _, k := range sortedKeys(it.Metadata) {
				fmt.Fprintf(&sb, "- %s: %s\n", k, it.Metadata[k])
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Save writes the board's current items back to Path (full rewrite,
// last-writer-wins per §5).
func (b *Board) Save() error {
	return os.WriteFile(b.Path, []byte(b.Serialize()), 0o644)
}

// Summary renders the short string consumed by the Status Aggregator
// (§4.I): non-zero counts of in_progress ("active"), blocked, review,
// queued, in that order; "empty" if the board has nothing interesting.
func (b *Board) Summary() string {
	counts := map[Column]int{}
	for _, it := range b.Items {
		counts[it.Column]++
	}

	var parts []string
	if n := counts[ColumnInProgress]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d active", n))
	}
	if n := counts[ColumnBlocked]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", n))
	}
	if n := counts[ColumnReview]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d review", n))
	}
	if n := counts[ColumnQueued]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", n))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, ", ")
}

// Find returns the item with the given id, if present.
func (b *Board) Find(id int) (*TaskItem, bool) {
	for _, it := range b.Items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
