package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/tools"
)

// stubTool is a minimal tools.Tool used to observe what the executor
// actually calls, without depending on any real built-in tool's semantics.
type stubTool struct {
	name  string
	calls []map[string]interface{}
}

func (t *stubTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.name,
		Description: "echoes its arguments back for test assertions",
		Parameters: []tools.ToolParameter{
			{Name: "value", Type: "string", Description: "value to echo", Required: true},
		},
	}
}

func (t *stubTool) Execute(ctx context.Context, args map[string]interface{}) (tools.ToolResult, error) {
	t.calls = append(t.calls, args)
	return tools.ToolResult{Success: true, Content: "ok:" + t.name, ToolName: t.name}, nil
}

func (t *stubTool) GetName() string        { return t.name }
func (t *stubTool) GetDescription() string { return "stub" }

func newTestRegistry(tool tools.Tool) *tools.ToolRegistry {
	registry := tools.NewToolRegistry()
	source := tools.NewTestToolSource("test-source")
	source.RegisterTool(tool)
	if err := registry.RegisterSource(source); err != nil {
		panic(err)
	}
	return registry
}

// scriptedProvider plays back a fixed sequence of streaming turns, one per
// call to GenerateStreaming, so a test can script a tool call followed by a
// final answer without a live model.
type scriptedProvider struct {
	turns [][]llms.StreamChunk
	call  int
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) (string, []llms.ToolCall, int, *llms.ThinkingBlock, error) {
	return "", nil, 0, nil, nil
}

func (p *scriptedProvider) GenerateStreaming(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	turn := p.turns[p.call]
	if p.call < len(p.turns)-1 {
		p.call++
	}
	ch := make(chan llms.StreamChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) GetModelName() string   { return "scripted-model" }
func (p *scriptedProvider) GetMaxTokens() int       { return 4096 }
func (p *scriptedProvider) GetTemperature() float64 { return 0.2 }
func (p *scriptedProvider) Close() error            { return nil }

func TestExecutor_Run_NoToolCalls_ReturnsImmediately(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]llms.StreamChunk{
			{
				{Type: "text", Text: "hello there"},
				{Type: "done", Tokens: 10},
			},
		},
	}
	tool := &stubTool{name: "echo"}
	executor := NewExecutor(provider, newTestRegistry(tool), NewMemoryHistory(10))

	answer, calls, err := executor.Run(context.Background(), AgentSpec{Name: "test"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", answer)
	assert.Empty(t, calls)
	assert.Empty(t, tool.calls)
}

func TestExecutor_Run_ExecutesToolThenFinalizes(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]llms.StreamChunk{
			{
				{Type: "tool_call", ToolCall: &llms.ToolCall{ID: "1", Name: "echo", Arguments: map[string]interface{}{"value": "x"}}},
				{Type: "done", Tokens: 5},
			},
			{
				{Type: "text", Text: "done"},
				{Type: "done", Tokens: 3},
			},
		},
	}
	tool := &stubTool{name: "echo"}
	executor := NewExecutor(provider, newTestRegistry(tool), NewMemoryHistory(10))

	answer, calls, err := executor.Run(context.Background(), AgentSpec{Name: "test", LoopLimit: 5}, "do it")
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Name)
	require.Len(t, tool.calls, 1)
	assert.Equal(t, "x", tool.calls[0]["value"])
}

func TestExecutor_Run_LoopLimitReached(t *testing.T) {
	toolCallChunks := []llms.StreamChunk{
		{Type: "tool_call", ToolCall: &llms.ToolCall{ID: "1", Name: "echo", Arguments: map[string]interface{}{"value": "x"}}},
		{Type: "done", Tokens: 1},
	}
	provider := &scriptedProvider{
		turns: [][]llms.StreamChunk{toolCallChunks, toolCallChunks, toolCallChunks},
	}
	tool := &stubTool{name: "echo"}
	executor := NewExecutor(provider, newTestRegistry(tool), NewMemoryHistory(10))

	answer, calls, err := executor.Run(context.Background(), AgentSpec{Name: "test", LoopLimit: 2}, "loop forever")
	require.NoError(t, err)
	assert.Contains(t, answer, "loop limit reached")
	assert.Len(t, calls, 1, "the limit is hit before the second iteration's tool call executes")
}

func TestExecutor_Run_DisabledToolReportsStructuredError(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]llms.StreamChunk{
			{
				{Type: "tool_call", ToolCall: &llms.ToolCall{ID: "1", Name: "echo", Arguments: map[string]interface{}{"value": "x"}}},
				{Type: "done", Tokens: 1},
			},
			{
				{Type: "text", Text: "saw the error"},
				{Type: "done", Tokens: 1},
			},
		},
	}
	tool := &stubTool{name: "echo"}
	executor := NewExecutor(provider, newTestRegistry(tool), NewMemoryHistory(10))

	answer, _, err := executor.Run(context.Background(), AgentSpec{
		Name:         "test",
		LoopLimit:    5,
		EnabledTools: []string{"some_other_tool"},
	}, "try a disabled tool")
	require.NoError(t, err)
	assert.Equal(t, "saw the error", answer)
	assert.Empty(t, tool.calls, "the disabled tool must never actually execute")
}

func TestExecutor_Run_CancelledContext(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]llms.StreamChunk{
			{{Type: "text", Text: "unreachable"}, {Type: "done"}},
		},
	}
	tool := &stubTool{name: "echo"}
	executor := NewExecutor(provider, newTestRegistry(tool), NewMemoryHistory(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := executor.Run(ctx, AgentSpec{Name: "test"}, "hi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_Execute_SatisfiesAgentExecutor(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]llms.StreamChunk{
			{{Type: "text", Text: "delegated answer"}, {Type: "done"}},
		},
	}
	tool := &stubTool{name: "echo"}
	executor := NewExecutor(provider, newTestRegistry(tool), NewMemoryHistory(10))

	var delegate tools.AgentExecutor = executor
	answer, err := delegate.Execute(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, "delegated answer", answer)
}

func TestExecutor_Run_PersistsHistoryAcrossCalls(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]llms.StreamChunk{
			{{Type: "text", Text: "first"}, {Type: "done"}},
			{{Type: "text", Text: "second"}, {Type: "done"}},
		},
	}
	tool := &stubTool{name: "echo"}
	history := NewMemoryHistory(10)
	executor := NewExecutor(provider, newTestRegistry(tool), history)

	ctx := context.Background()
	_, _, err := executor.Run(ctx, AgentSpec{Name: "test"}, "hello")
	require.NoError(t, err)

	recent, err := history.GetRecentHistory("default")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "hello", recent[0].Content)
	assert.Equal(t, "first", recent[1].Content)

	_, _, err = executor.Run(ctx, AgentSpec{Name: "test"}, "hello again")
	require.NoError(t, err)
	recent, err = history.GetRecentHistory("default")
	require.NoError(t, err)
	assert.Len(t, recent, 4)
}
