package toolparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DottedTagXML(t *testing.T) {
	text := `Let me read that file.
<file.read>
  <path>main.go</path>
  <start_line>10</start_line>
</file.read>
Done.`

	calls := Parse(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "file.read", calls[0].Name)
	assert.Equal(t, "main.go", calls[0].Arguments["path"])
	assert.Equal(t, float64(10), calls[0].Arguments["start_line"])
}

func TestParse_FencedJSON_FlatObject(t *testing.T) {
	text := "```json\n{\"name\": \"grep_search\", \"arguments\": {\"pattern\": \"TODO\"}}\n```"

	calls := Parse(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "grep_search", calls[0].Name)
	assert.Equal(t, "TODO", calls[0].Arguments["pattern"])
}

func TestParse_FencedJSON_ToolCallsArray(t *testing.T) {
	text := "```json\n{\"tool_calls\": [{\"function_name\": \"todo_write\", \"parameters\": {\"status\": \"done\"}}]}\n```"

	calls := Parse(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "todo_write", calls[0].Name)
	assert.Equal(t, "done", calls[0].Arguments["status"])
}

func TestParse_FencedJSON_NestedUnderFunction(t *testing.T) {
	text := "```json\n{\"function\": {\"name\": \"execute_command\", \"arguments\": {\"command\": \"ls\"}}}\n```"

	calls := Parse(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "execute_command", calls[0].Name)
	assert.Equal(t, "ls", calls[0].Arguments["command"])
}

func TestParse_FencedJSON_ToolRequestWrapper(t *testing.T) {
	text := "```json\n{\"tool_request\": {\"name\": \"read_file\", \"arguments\": {\"path\": \"a.go\"}}}\n```"

	calls := Parse(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
}

func TestParse_FencedPython(t *testing.T) {
	text := "```python\nprint('hello')\n```"

	calls := Parse(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "execute_python_code", calls[0].Name)
	assert.Equal(t, "print('hello')", calls[0].Arguments["code"])
}

func TestParse_GenericXML(t *testing.T) {
	text := `<tool_request>{"name": "web_request", "arguments": {"url": "https://example.com"}}</tool_request>`

	calls := Parse(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "web_request", calls[0].Name)
}

func TestParse_NoClaims_WhenNoMatch(t *testing.T) {
	calls := Parse("Just plain text, nothing to see here.")
	assert.Empty(t, calls)
}

func TestParse_StripsChatTemplateTokens(t *testing.T) {
	text := "<|im_start|>```json\n{\"name\": \"todo_write\", \"arguments\": {}}\n```<|im_end|>"

	calls := Parse(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "todo_write", calls[0].Name)
}

func TestParse_DottedTagExcisedBeforeFencedJSON(t *testing.T) {
	text := `<file.read><path>a.go</path></file.read>
` + "```json\n{\"name\": \"grep_search\", \"arguments\": {\"pattern\": \"x\"}}\n```"

	calls := Parse(text)
	require.Len(t, calls, 2)

	names := []string{calls[0].Name, calls[1].Name}
	assert.Contains(t, names, "file.read")
	assert.Contains(t, names, "grep_search")
}

func TestParse_PriorityOrder_NonOverlappingMatchesBothSurvive(t *testing.T) {
	// A dotted tag match and a fenced JSON block with distinct, non-overlapping
	// ranges must both survive; priority order only matters when ranges
	// overlap, which fenced blocks and XML tags never do by construction here.
	text := "<a.b><x>1</x></a.b>\n```json\n[{\"name\":\"c\",\"arguments\":{}}]\n```"

	calls := Parse(text)
	require.Len(t, calls, 2)
}

func TestCoerceScalarOrJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  interface{}
	}{
		{"bool true", "true", true},
		{"bool false", "false", false},
		{"integer", "42", float64(42)},
		{"float", "3.14", 3.14},
		{"json array", "[1,2,3]", []interface{}{float64(1), float64(2), float64(3)}},
		{"plain string", "hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, coerceScalarOrJSON(tt.input))
		})
	}
}
