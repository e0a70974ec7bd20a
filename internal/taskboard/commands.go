package taskboard

import (
	"fmt"
	"strconv"
	"strings"
)

// Result is the structured outcome of running a command string against
// the board. Exactly one of Items/Item/BoardView/Error is populated,
// depending on the verb.
type Result struct {
	Items     []*TaskItem       `json:"items,omitempty"`
	Item      *TaskItem         `json:"item,omitempty"`
	BoardView map[Column][]*TaskItem `json:"board,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Run re-reads the board file, applies the command, and — for mutating
// verbs — rewrites the full file (§5 concurrency policy).
func Run(path, command, callerName string) Result {
	board := Load(path)

	verb, rest := splitVerb(command)
	switch verb {
	case "list":
		return runList(board, rest)
	case "add":
		return runAdd(board, rest)
	case "move":
		return runMove(board, rest)
	case "claim":
		return runClaim(board, rest, callerName)
	case "block":
		return runBlock(board, rest)
	case "done":
		return runDone(board, rest)
	case "trash":
		return runTrash(board, rest)
	case "detail":
		return runDetail(board, rest)
	case "board":
		return runBoardView(board)
	default:
		return Result{Error: "unknown command: " + verb}
	}
}

func splitVerb(command string) (string, string) {
	command = strings.TrimSpace(command)
	idx := strings.IndexByte(command, ' ')
	if idx < 0 {
		return command, ""
	}
	return command[:idx], strings.TrimSpace(command[idx+1:])
}

func runList(board *Board, rest string) Result {
	col := strings.TrimSpace(rest)
	var items []*TaskItem
	for _, it := range board.Items {
		if col == "" {
			if it.Column == ColumnTrash {
				continue
			}
		} else if string(it.Column) != col {
			continue
		}
		items = append(items, it)
	}
	return Result{Items: items}
}

func runAdd(board *Board, rest string) Result {
	title, remainder, ok := parseQuoted(rest)
	if !ok {
		return Result{Error: `expected: add "title" [column]`}
	}
	column := ColumnQueued
	if c := strings.TrimSpace(remainder); c != "" {
		if known, ok := isKnownColumn(c); ok {
			column = known
		}
	}

	item := &TaskItem{
		ID:       nextFreeID(board),
		Title:    title,
		Column:   column,
		Metadata: make(map[string]string),
	}
	board.Items = append(board.Items, item)
	if err := board.Save(); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Item: item}
}

func runMove(board *Board, rest string) Result {
	idStr, remainder, ok := splitToken(rest)
	if !ok {
		return Result{Error: "expected: move <id> <column> [reason]"}
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return Result{Error: "invalid id: " + idStr}
	}
	colStr, reasonRest, _ := splitToken(remainder)
	column, ok := isKnownColumn(colStr)
	if !ok {
		return Result{Error: "unknown column: " + colStr}
	}
	item, ok := board.Find(id)
	if !ok {
		return Result{Error: fmt.Sprintf("task %d not found", id)}
	}
	item.Column = column
	if reason, _, ok := parseQuoted(reasonRest); ok && reason != "" {
		item.Metadata["reason"] = reason
	}
	if err := board.Save(); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Item: item}
}

func runClaim(board *Board, rest string, callerName string) Result {
	id, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return Result{Error: "invalid id: " + rest}
	}
	item, ok := board.Find(id)
	if !ok {
		return Result{Error: fmt.Sprintf("task %d not found", id)}
	}
	item.Column = ColumnInProgress
	item.Metadata["claimed"] = callerName
	item.Metadata["started"] = nowStamp()
	if err := board.Save(); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Item: item}
}

func runBlock(board *Board, rest string) Result {
	idStr, reasonRest, ok := splitToken(rest)
	if !ok {
		return Result{Error: `expected: block <id> "reason"`}
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return Result{Error: "invalid id: " + idStr}
	}
	item, ok := board.Find(id)
	if !ok {
		return Result{Error: fmt.Sprintf("task %d not found", id)}
	}
	item.Column = ColumnBlocked
	if reason, _, ok := parseQuoted(reasonRest); ok {
		item.Metadata["reason"] = reason
	}
	if err := board.Save(); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Item: item}
}

func runDone(board *Board, rest string) Result {
	id, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return Result{Error: "invalid id: " + rest}
	}
	item, ok := board.Find(id)
	if !ok {
		return Result{Error: fmt.Sprintf("task %d not found", id)}
	}
	item.Column = ColumnDone
	item.Metadata["completed"] = nowStamp()
	if err := board.Save(); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Item: item}
}

func runTrash(board *Board, rest string) Result {
	id, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return Result{Error: "invalid id: " + rest}
	}
	item, ok := board.Find(id)
	if !ok {
		return Result{Error: fmt.Sprintf("task %d not found", id)}
	}
	item.Column = ColumnTrash
	if err := board.Save(); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Item: item}
}

func runDetail(board *Board, rest string) Result {
	id, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return Result{Error: "invalid id: " + rest}
	}
	item, ok := board.Find(id)
	if !ok {
		return Result{Error: fmt.Sprintf("task %d not found", id)}
	}
	return Result{Item: item}
}

func runBoardView(board *Board) Result {
	view := make(map[Column][]*TaskItem)
	for _, col := range CanonicalColumns {
		var items []*TaskItem
		for _, it := range board.Items {
			if it.Column == col {
				items = append(items, it)
			}
		}
		if len(items) > 0 {
			view[col] = items
		}
	}
	return Result{BoardView: view}
}

func nextFreeID(board *Board) int {
	max := 0
	for _, it := range board.Items {
		if it.ID > max {
			max = it.ID
		}
	}
	return max + 1
}

// splitToken splits off the first whitespace-delimited token.
func splitToken(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, "", true
	}
	return s[:idx], strings.TrimSpace(s[idx+1:]), true
}

// parseQuoted extracts a leading "quoted string", falling back to the
// first bare token if there is no opening quote.
func parseQuoted(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	if s[0] == '"' {
		end := strings.IndexByte(s[1:], '"')
		if end < 0 {
			return "", "", false
		}
		value := s[1 : end+1]
		return value, strings.TrimSpace(s[end+2:]), true
	}
	tok, rest, ok := splitToken(s)
	return tok, rest, ok
}
