package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/pkg/agent"
	"github.com/loomwork/loom/pkg/config"
	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/task"
	"github.com/loomwork/loom/pkg/tools"
)

// structuredStub is an llms.StructuredOutputProvider that always returns a
// fixed JSON document, for exercising the schema-constrained-decoding path.
type structuredStub struct {
	json string
}

func (s *structuredStub) Generate(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) (string, []llms.ToolCall, int, *llms.ThinkingBlock, error) {
	return "", nil, 0, nil, nil
}

func (s *structuredStub) GenerateStreaming(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	close(ch)
	return ch, nil
}

func (s *structuredStub) GenerateStructured(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition, cfg *llms.StructuredOutputConfig) (string, []llms.ToolCall, int, *llms.ThinkingBlock, error) {
	return s.json, nil, 0, nil, nil
}

func (s *structuredStub) SupportsStructuredOutput() bool { return true }
func (s *structuredStub) GetModelName() string           { return "structured-stub" }
func (s *structuredStub) GetMaxTokens() int               { return 8192 }
func (s *structuredStub) GetTemperature() float64         { return 0 }
func (s *structuredStub) Close() error                    { return nil }

// textStub is a plain llms.LLMProvider (no structured output) that plays
// back one streamed text turn, for exercising the fenced-JSON-prompt
// fallback path through agent.Executor.
type textStub struct {
	text string
}

func (s *textStub) Generate(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) (string, []llms.ToolCall, int, *llms.ThinkingBlock, error) {
	return "", nil, 0, nil, nil
}

func (s *textStub) GenerateStreaming(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 2)
	ch <- llms.StreamChunk{Type: "text", Text: s.text}
	ch <- llms.StreamChunk{Type: "done", Tokens: 5}
	close(ch)
	return ch, nil
}

func (s *textStub) GetModelName() string   { return "text-stub" }
func (s *textStub) GetMaxTokens() int       { return 8192 }
func (s *textStub) GetTemperature() float64 { return 0 }
func (s *textStub) Close() error            { return nil }

const validPlanJSON = `{
  "tasks": [
    {"id": "task_1", "agent_type": "file-ops", "description": "Read src/main.py lines 50-100", "depends_on": [], "expected_output": "the numbered lines"}
  ],
  "rationale": "single read is sufficient"
}`

func TestPlanner_Plan_StructuredOutputPath(t *testing.T) {
	p := New(&structuredStub{json: validPlanJSON}, nil)

	plan, err := p.Plan(context.Background(), "show me lines 50-100 of src/main.py")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, RoleFileOps, plan.Tasks[0].AgentType)
}

func TestPlanner_Plan_PromptFallbackPath(t *testing.T) {
	fenced := "Here is my plan:\n```json\n" + validPlanJSON + "\n```\n"
	llm := &textStub{text: fenced}
	registry := tools.NewToolRegistry()
	executor := agent.NewExecutor(llm, registry, agent.NewMemoryHistory(10))

	p := New(llm, executor)
	plan, err := p.Plan(context.Background(), "show me lines 50-100 of src/main.py")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "task_1", plan.Tasks[0].ID)
}

func TestPlanner_Plan_InvalidPlanFailsLint(t *testing.T) {
	badPlan := `{"tasks": [{"id": "task_1", "agent_type": "wizard", "description": "do the thing"}]}`
	p := New(&structuredStub{json: badPlan}, nil)

	_, err := p.Plan(context.Background(), "do something")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not one of")
}

func TestLint_ValidPlanPasses(t *testing.T) {
	plan := &task.Plan{
		Tasks: []task.Task{
			{ID: "task_1", AgentType: RoleFileOps, Description: "Read src/main.py fully"},
		},
	}
	assert.NoError(t, Lint(plan, "read src/main.py"))
}

func TestLint_UnknownAgentType(t *testing.T) {
	plan := &task.Plan{
		Tasks: []task.Task{{ID: "task_1", AgentType: "wizard", Description: "cast a spell"}},
	}
	err := Lint(plan, "do magic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not one of")
}

func TestLint_UnknownDependency(t *testing.T) {
	plan := &task.Plan{
		Tasks: []task.Task{
			{ID: "task_1", AgentType: RoleFileOps, DependsOn: []string{"task_99"}, Description: "read something"},
		},
	}
	err := Lint(plan, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}

func TestLint_Cycle(t *testing.T) {
	plan := &task.Plan{
		Tasks: []task.Task{
			{ID: "task_1", AgentType: RoleFileOps, DependsOn: []string{"task_2"}, Description: "a"},
			{ID: "task_2", AgentType: RoleFileOps, DependsOn: []string{"task_1"}, Description: "b"},
		},
	}
	err := Lint(plan, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLint_ReferencesAnotherTaskByName(t *testing.T) {
	plan := &task.Plan{
		Tasks: []task.Task{
			{ID: "task_1", AgentType: RoleFileOps, Description: "ok"},
			{ID: "task_2", AgentType: RoleCodeWriter, DependsOn: []string{"task_1"},
				Description: "apply the fix from task_1's findings"},
		},
	}
	err := Lint(plan, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references another task")
}

func TestLint_MissingEmbeddedPath(t *testing.T) {
	plan := &task.Plan{
		Tasks: []task.Task{
			{ID: "task_1", AgentType: RoleFileOps, Description: "Read the main.py file mentioned by the user"},
		},
	}
	err := Lint(plan, "please review src/main.py for bugs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't embed the full path")
}

func TestLint_DuplicateTaskID(t *testing.T) {
	plan := &task.Plan{
		Tasks: []task.Task{
			{ID: "task_1", AgentType: RoleFileOps, Description: "a"},
			{ID: "task_1", AgentType: RoleFileOps, Description: "b"},
		},
	}
	err := Lint(plan, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id")
}

func TestLint_ReportsMultipleViolationsTogether(t *testing.T) {
	plan := &task.Plan{
		Tasks: []task.Task{
			{ID: "task_1", AgentType: "not-a-role", Description: "uses output from task_0 somehow"},
		},
	}
	err := Lint(plan, "")
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "not one of"))
	assert.True(t, strings.Contains(msg, "references another task"))
}

func TestSpecialist_ClosedSet(t *testing.T) {
	for _, role := range Roles() {
		spec, ok := Specialist(role)
		require.True(t, ok, role)
		assert.NotEmpty(t, spec.SystemPrompt, role)
	}
	_, ok := Specialist("not-a-real-role")
	assert.False(t, ok)
}

func TestApplyMode_PlanModeStripsWriteTools(t *testing.T) {
	spec, ok := Specialist(RoleCodeWriter)
	require.True(t, ok)
	require.Contains(t, spec.EnabledTools, "write_file")

	filtered := ApplyMode(spec, config.ModePlan)
	assert.NotContains(t, filtered.EnabledTools, "write_file")
	assert.NotContains(t, filtered.EnabledTools, "search_replace")
	assert.NotContains(t, filtered.EnabledTools, "apply_patch")
	assert.Contains(t, filtered.EnabledTools, "read_file", "read-only tools stay available in plan mode")
}

func TestApplyMode_ActModeLeavesToolsUnchanged(t *testing.T) {
	spec, ok := Specialist(RoleCodeWriter)
	require.True(t, ok)

	unchanged := ApplyMode(spec, config.ModeAct)
	assert.ElementsMatch(t, spec.EnabledTools, unchanged.EnabledTools)
}

func TestApplyMode_NilEnabledToolsUnaffected(t *testing.T) {
	spec, ok := Specialist(RoleAggregator)
	require.True(t, ok)
	require.NotNil(t, spec.EnabledTools, "aggregator declares an empty, non-nil slice")

	filtered := ApplyMode(spec, config.ModePlan)
	assert.Empty(t, filtered.EnabledTools)
}
