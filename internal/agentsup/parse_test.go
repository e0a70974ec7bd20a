package agentsup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChildLineSystemInit(t *testing.T) {
	events := parseChildLine(`{"type":"system","subtype":"init"}`)
	require.Len(t, events, 1)
	assert.Equal(t, EventSystemInit, events[0].Type)
}

func TestParseChildLineAssistantTextAndToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi there"},{"type":"tool_use","id":"tu1","name":"bash","input":{"command":"ls"}}]}}`
	events := parseChildLine(line)
	require.Len(t, events, 2)
	assert.Equal(t, EventAssistantText, events[0].Type)
	assert.Equal(t, "hi there", events[0].Text)
	assert.Equal(t, EventToolCall, events[1].Type)
	assert.Equal(t, "bash", events[1].ToolName)
	assert.Equal(t, "tu1", events[1].ToolUseID)
}

func TestParseChildLineToolUseSynthesizesID(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"bash","input":{}}]}}`
	events := parseChildLine(line)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ToolUseID)
}

func TestParseChildLineUserToolResultStringContent(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu1","content":"file contents here"}]}}`
	events := parseChildLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, EventToolResult, events[0].Type)
	assert.Equal(t, "file contents here", events[0].Text)
}

func TestParseChildLineUserTextNotEmittedAsAssistant(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"should not surface"}]}}`
	events := parseChildLine(line)
	assert.Empty(t, events)
}

func TestParseChildLineResult(t *testing.T) {
	line := `{"type":"result","result":"done","total_cost_usd":0.05,"duration_ms":1200}`
	events := parseChildLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, EventResult, events[0].Type)
	assert.Equal(t, "done", events[0].Text)
	assert.Equal(t, 0.05, events[0].CostUSD)
	assert.Equal(t, int64(1200), events[0].DurationMs)
}

func TestParseChildLineUnknownTypeIsDropped(t *testing.T) {
	events := parseChildLine(`{"type":"something-new"}`)
	assert.Nil(t, events)
}

func TestParseNonJSONLineBecomesGenericText(t *testing.T) {
	events := parseChildLine("plain log line")
	require.Len(t, events, 1)
	assert.Equal(t, EventGenericText, events[0].Type)
	assert.Equal(t, "plain log line", events[0].Text)
}

func TestParseNonJSONLineDropsHTML(t *testing.T) {
	events := parseChildLine("<html><body>oops</body></html>")
	assert.Nil(t, events)
}

func TestParseNonJSONLineDropsOverlongLine(t *testing.T) {
	events := parseChildLine(strings.Repeat("x", 1001))
	assert.Nil(t, events)
}

func TestParseNonJSONLineDropsBase64Looking(t *testing.T) {
	events := parseChildLine(strings.Repeat("QUJDREVGR0hJSktMTU5PUA", 4))
	assert.Nil(t, events)
}
