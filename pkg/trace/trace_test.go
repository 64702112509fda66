package trace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/task"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":        LevelOff,
		"off":     LevelOff,
		"summary": LevelSummary,
		"basic":   LevelBasic,
		"full":    LevelFull,
		"debug":   LevelDebug,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("nonsense")
	assert.Error(t, err)
}

func TestLevel_UnmarshalYAML_RoundTrip(t *testing.T) {
	var l Level
	err := l.UnmarshalYAML(func(v interface{}) error {
		*(v.(*string)) = "full"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, LevelFull, l)

	out, err := l.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "full", out)
}

func TestNew_LevelOff_ReturnsNoopWithoutTouchingDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "should-not-be-created")
	sink, err := New(Config{Dir: dir, Level: LevelOff})
	require.NoError(t, err)

	sink.RecordPlan(context.Background(), "q", "p", "r", time.Millisecond)
	require.NoError(t, sink.Close())

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestJSONFileSink_WritesOneDocumentPerRun(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Dir: dir, Level: LevelFull})
	require.NoError(t, err)

	ctx := context.Background()
	sink.RecordPlan(ctx, "do the thing", "plan prompt", "plan response", 5*time.Millisecond)
	sink.RecordTask(ctx, task.Task{ID: "task_1", AgentType: "file-ops", Description: "read x"})
	sink.RecordModelCall(ctx, "task_1", []llms.Message{{Role: "user", Content: "read x"}}, "ok", 2*time.Millisecond)
	sink.RecordToolCall(ctx, "task_1", "read_file", map[string]interface{}{"path": "x"}, "contents", nil, time.Millisecond)
	sink.RecordTransition(ctx, "task_1", task.StatusRunning, task.StatusOK)
	sink.RecordResult(ctx, task.TaskResult{TaskID: "task_1", Status: task.StatusOK, OutputText: "ok"})
	sink.RecordReply(ctx, "here's your answer", 3*time.Millisecond)
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".json"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotEmpty(t, doc.RunID)
	assert.Equal(t, "full", doc.Level)
	require.NotNil(t, doc.Plan)
	assert.Equal(t, "plan prompt", doc.Plan.Prompt)
	require.Len(t, doc.Tasks, 1)
	require.Len(t, doc.ModelCalls, 1)
	require.Len(t, doc.ToolCalls, 1)
	require.Len(t, doc.Transitions, 1)
	require.Len(t, doc.Results, 1)
	require.NotNil(t, doc.Reply)
	assert.Equal(t, "here's your answer", doc.Reply.Reply)
}

func TestJSONFileSink_SummaryLevelOmitsPromptsAndToolCalls(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Dir: dir, Level: LevelSummary})
	require.NoError(t, err)

	ctx := context.Background()
	sink.RecordPlan(ctx, "q", "prompt that should not appear", "response", time.Millisecond)
	sink.RecordModelCall(ctx, "task_1", nil, "should not appear", time.Millisecond)
	sink.RecordToolCall(ctx, "task_1", "read_file", nil, "should not appear", nil, time.Millisecond)
	sink.RecordTransition(ctx, "task_1", task.StatusPending, task.StatusRunning)
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc.Plan.Prompt)
	assert.Empty(t, doc.ModelCalls)
	assert.Empty(t, doc.ToolCalls)
	assert.Len(t, doc.Transitions, 1, "summary still records state transitions")
}

func TestJSONFileSink_BasicLevelTruncatesLargeStrings(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Dir: dir, Level: LevelBasic, TruncateBytes: 16})
	require.NoError(t, err)

	longText := strings.Repeat("x", 1000)
	ctx := context.Background()
	sink.RecordModelCall(ctx, "task_1", []llms.Message{{Role: "user", Content: longText}}, longText, time.Millisecond)
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.ModelCalls, 1)
	assert.Less(t, len(doc.ModelCalls[0].Response), len(longText))
	assert.Contains(t, doc.ModelCalls[0].Response, "truncated")
}

func TestJSONFileSink_DebugLevelKeepsStreamChunks(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Dir: dir, Level: LevelDebug})
	require.NoError(t, err)

	ctx := context.Background()
	sink.RecordStreamChunk(ctx, "task_1", llms.StreamChunk{Type: "text", Text: "hi"})
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.StreamChunks, 1)
	assert.Equal(t, "hi", doc.StreamChunks[0].Text)
}

func TestJSONFileSink_FullLevelDropsStreamChunks(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Dir: dir, Level: LevelFull})
	require.NoError(t, err)

	sink.RecordStreamChunk(context.Background(), "task_1", llms.StreamChunk{Type: "text", Text: "hi"})
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc.StreamChunks, "stream-chunk boundaries are debug-only")
}

func TestNoop_NeverErrors(t *testing.T) {
	sink := Noop()
	ctx := context.Background()
	sink.RecordPlan(ctx, "q", "p", "r", 0)
	sink.RecordTask(ctx, task.Task{ID: "task_1"})
	sink.RecordModelCall(ctx, "task_1", nil, "", 0)
	sink.RecordToolCall(ctx, "task_1", "tool", nil, "", nil, 0)
	sink.RecordTransition(ctx, "task_1", task.StatusPending, task.StatusRunning)
	sink.RecordStreamChunk(ctx, "task_1", llms.StreamChunk{})
	sink.RecordResult(ctx, task.TaskResult{TaskID: "task_1"})
	sink.RecordReply(ctx, "reply", 0)
	assert.NoError(t, sink.Close())
}
