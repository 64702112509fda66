// Package planner turns a user query into a typed task.Plan: a distinguished
// agent invocation whose output is a task graph, validated by a post-plan
// lint pass rather than trusted as-is.
//
// Planning prefers a provider's native structured-output mode when it
// supports one (GenerateStructured, schema-constrained decoding) and falls
// back to a fenced-JSON-in-prompt convention, parsed by hand, for providers
// that don't.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/loomwork/loom/pkg/agent"
	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/task"
)

// Planner drives a Planner AgentSpec through an agent.Executor (or, when the
// configured provider supports it, a direct structured-output call) and
// validates the result before handing it back.
type Planner struct {
	llm      llms.LLMProvider
	executor *agent.Executor
}

// New wires a Planner against the model provider used for structured-output
// detection and the executor that runs the prompt-only fallback path.
func New(llm llms.LLMProvider, executor *agent.Executor) *Planner {
	return &Planner{llm: llm, executor: executor}
}

// Plan decomposes query into a validated task.Plan. The returned error wraps
// every lint violation Lint finds; a non-nil Plan is only ever returned
// alongside a nil error.
func (p *Planner) Plan(ctx context.Context, query string) (*task.Plan, error) {
	raw, err := p.planText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("planning %q: %w", query, err)
	}

	var plan task.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		if extracted, ok := extractFencedJSON(raw); ok {
			if err2 := json.Unmarshal([]byte(extracted), &plan); err2 != nil {
				return nil, fmt.Errorf("parsing plan JSON: %w", err2)
			}
		} else {
			return nil, fmt.Errorf("parsing plan JSON: %w", err)
		}
	}

	if err := Lint(&plan, query); err != nil {
		return nil, err
	}
	return &plan, nil
}

// planText returns the model's raw plan text, either a bare JSON document
// (structured-output path) or a response containing a fenced ```json block
// (prompt-convention fallback).
func (p *Planner) planText(ctx context.Context, query string) (string, error) {
	if structured, ok := p.llm.(llms.StructuredOutputProvider); ok && structured.SupportsStructuredOutput() {
		messages := []llms.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: query},
		}
		text, _, _, _, err := structured.GenerateStructured(ctx, messages, nil, &llms.StructuredOutputConfig{
			Format: "json",
			Schema: planSchema,
		})
		if err != nil {
			return "", fmt.Errorf("structured plan generation: %w", err)
		}
		return text, nil
	}

	text, _, err := p.executor.Run(ctx, plannerSpec, query)
	if err != nil {
		return "", fmt.Errorf("prompt-fallback plan generation: %w", err)
	}
	return text, nil
}

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// extractFencedJSON pulls the first fenced JSON block out of free-form text,
// for providers that narrate around the plan instead of returning it bare.
func extractFencedJSON(text string) (string, bool) {
	m := fencedJSONBlock.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

var plannerSystemPrompt = `You are a planning agent. Your only job is to decompose the user's
request into a task plan: a set of self-contained subtasks, each assigned to
one specialist agent role, plus a DAG of dependencies between them.

Rules for every task's description:
- It MUST be fully self-contained: embed every literal the specialist needs
  (file paths, names, numbers, identifiers) directly in the text.
- It MUST NOT reference another task ("from task_1", "the previous task",
  "as above", "using the prior result"): dependency order is expressed only
  through depends_on, never through the description's wording.
- If the user's request names a file path, every task that touches that file
  must repeat the full path verbatim in its own description.

Reply with exactly one fenced JSON object and nothing else, shaped as:

` + "```json" + `
{
  "tasks": [
    {"id": "task_1", "agent_type": "<role>", "description": "...", "depends_on": [], "expected_output": "..."}
  ],
  "rationale": "..."
}
` + "```" + `

agent_type must be one of: ` + specialistRolesCSV + `.
Never call a tool. Never ask a clarifying question; make a reasonable
assumption and proceed.`

var plannerSpec = agent.AgentSpec{
	Name:         "planner",
	SystemPrompt: plannerSystemPrompt,
	LoopLimit:    1,
	EnabledTools: []string{}, // the planner never calls tools
}

// planSchema is the structured-output JSON Schema mirroring task.Plan/
// task.Task, handed to providers whose StructuredOutputProvider supports
// schema-constrained decoding instead of the fenced-JSON prompt convention.
var planSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"tasks": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id":              map[string]interface{}{"type": "string"},
					"agent_type":      map[string]interface{}{"type": "string", "enum": specialistRoles},
					"description":     map[string]interface{}{"type": "string"},
					"depends_on":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"expected_output": map[string]interface{}{"type": "string"},
				},
				"required": []string{"id", "agent_type", "description"},
			},
		},
		"rationale": map[string]interface{}{"type": "string"},
	},
	"required": []string{"tasks"},
}
