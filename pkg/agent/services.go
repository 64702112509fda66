package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/reasoning"
	"github.com/loomwork/loom/pkg/tools"
)

// llmServiceAdapter narrows an llms.LLMProvider to the reasoning.LLMService
// surface. The one shape mismatch is GenerateStructured: providers return a
// ThinkingBlock strategies never consume, so it's dropped here rather than
// widening the strategy interface for it.
type llmServiceAdapter struct {
	provider llms.LLMProvider
}

func (a *llmServiceAdapter) Generate(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) (string, []llms.ToolCall, int, *llms.ThinkingBlock, error) {
	return a.provider.Generate(ctx, messages, toolDefs)
}

func (a *llmServiceAdapter) GenerateStreaming(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	return a.provider.GenerateStreaming(ctx, messages, toolDefs)
}

func (a *llmServiceAdapter) GenerateStructured(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition, cfg *llms.StructuredOutputConfig) (string, []llms.ToolCall, int, error) {
	structured, ok := a.provider.(llms.StructuredOutputProvider)
	if !ok {
		return "", nil, 0, fmt.Errorf("provider %s does not support structured output", a.provider.GetModelName())
	}
	text, calls, tokens, _, err := structured.GenerateStructured(ctx, messages, toolDefs, cfg)
	return text, calls, tokens, err
}

func (a *llmServiceAdapter) SupportsStructuredOutput() bool {
	structured, ok := a.provider.(llms.StructuredOutputProvider)
	return ok && structured.SupportsStructuredOutput()
}

// toolServiceAdapter narrows a *tools.ToolRegistry to reasoning.ToolService,
// scoped to the names an AgentSpec whitelisted. Unknown or disabled tool
// names surface as a structured error string rather than a Go error, per
// the executor's tool-loop contract: a bad call is a recoverable fact the
// model sees, not a fault that aborts the invocation.
type toolServiceAdapter struct {
	registry ToolRegistry
	allowed  map[string]bool // nil means every non-internal tool
}

func (a *toolServiceAdapter) ExecuteToolCall(ctx context.Context, call llms.ToolCall) (string, error) {
	if a.allowed != nil && !a.allowed[call.Name] {
		return fmt.Sprintf("error: tool %q is not enabled for this agent", call.Name), nil
	}

	result, _ := a.registry.ExecuteTool(ctx, call.Name, call.Arguments)
	if !result.Success {
		return fmt.Sprintf("error: %s", result.Error), nil
	}
	if result.Content != "" {
		return result.Content, nil
	}
	if result.Output != nil {
		raw, err := json.Marshal(result.Output)
		if err != nil {
			return "", fmt.Errorf("marshaling output of %s: %w", call.Name, err)
		}
		return string(raw), nil
	}
	return "", nil
}

func (a *toolServiceAdapter) GetAvailableTools() []llms.ToolDefinition {
	infos := a.registry.ListToolsWithFilter(true)
	defs := make([]llms.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		if a.allowed != nil && !a.allowed[info.Name] {
			continue
		}
		defs = append(defs, toolDefinitionFromInfo(info))
	}
	return defs
}

func (a *toolServiceAdapter) GetTool(name string) (interface{}, error) {
	return a.registry.GetTool(name)
}

// toolDefinitionFromInfo turns the registry's flat ToolParameter list into
// the JSON-schema shaped llms.ToolDefinition providers expect. The source
// here is already-parsed tool metadata, not a Go struct to reflect over, so
// there's no third-party schema generator to reach for (invopop/jsonschema
// reflects struct tags; it has nothing to do with a []ToolParameter slice)
// — a hand-built map is the only option, noted in DESIGN.md.
func toolDefinitionFromInfo(info tools.ToolInfo) llms.ToolDefinition {
	properties := make(map[string]interface{}, len(info.Parameters))
	var required []string

	for _, p := range info.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Items) > 0 {
			prop["items"] = p.Items
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return llms.ToolDefinition{
		Name:        info.Name,
		Description: info.Description,
		Parameters:  schema,
	}
}

// promptServiceAdapter renders a strategy's PromptSlots (merged over the
// agent spec's own SystemRole slot) plus any additional context into a
// single system message, followed by the running conversation verbatim.
type promptServiceAdapter struct {
	baseSlots reasoning.PromptSlots
}

func (a *promptServiceAdapter) BuildMessages(ctx context.Context, query string, strategySlots reasoning.PromptSlots, conversation []llms.Message, additionalContext string) ([]llms.Message, error) {
	slots := a.baseSlots.Merge(strategySlots)

	var sb strings.Builder
	write := func(part string) {
		if part == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(part)
	}
	write(slots.SystemRole)
	write(slots.ReasoningInstructions)
	write(slots.ToolUsage)
	write(slots.OutputFormat)
	write(slots.CommunicationStyle)
	write(slots.Additional)
	write(additionalContext)

	messages := make([]llms.Message, 0, len(conversation)+1)
	if sb.Len() > 0 {
		messages = append(messages, llms.Message{Role: "system", Content: sb.String()})
	}
	messages = append(messages, conversation...)
	return messages, nil
}
