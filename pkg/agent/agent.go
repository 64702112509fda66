// Package agent runs one bounded, tool-using agent invocation end to end:
// build the prompt, stream the model, parse any tool calls, execute them,
// and loop until the model stops asking for tools or the invocation's loop
// limit is reached.
//
// The loop itself is strategy-agnostic: it drives the ReasoningStrategy and
// AgentServices plugin surface in pkg/reasoning, which owns the "additional"
// processing (reflection, todo tracking, delegation prompts). This package
// owns only the function-calling protocol — adding assistant and tool
// messages to the conversation — exactly the split pkg/reasoning's strategy
// interface already documents.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/reasoning"
	"github.com/loomwork/loom/pkg/tools"
	"github.com/loomwork/loom/pkg/toolparser"
)

// AgentSpec is the closed description of one agent invocation: role, system
// prompt, the tools it's allowed to call, and the bounds the executor
// enforces. The planner's specialist roles and the planner/aggregator agents
// themselves are all just AgentSpec values passed through the same Executor.
type AgentSpec struct {
	Name string

	// SystemPrompt becomes the SystemRole prompt slot; it is merged with
	// whatever the reasoning strategy contributes to the other slots.
	SystemPrompt string

	// ReasoningStrategy names a strategy registered with
	// reasoning.CreateStrategy. Empty defaults to "chain-of-thought".
	ReasoningStrategy string

	// EnabledTools whitelists tool names this agent may call. Nil means
	// every non-internal tool in the registry is available; a non-nil
	// empty slice means none are (e.g. the planner, which must not call
	// tools at all).
	EnabledTools []string

	// LoopLimit bounds BuildPrompt/StreamModel/ExecuteTools iterations.
	// Zero defaults to 5.
	LoopLimit int

	// Temperature and ContextTokenBudget are carried for callers that
	// construct a per-invocation LLM provider; the Executor itself doesn't
	// re-configure the provider it was given.
	Temperature        float64
	ContextTokenBudget int

	ShowThinking bool
}

func (s *AgentSpec) setDefaults() {
	if s.ReasoningStrategy == "" {
		s.ReasoningStrategy = "chain-of-thought"
	}
	if s.LoopLimit <= 0 {
		s.LoopLimit = 5
	}
}

// ToolRegistry is the narrow surface an Executor dispatches tool calls
// through. *tools.ToolRegistry satisfies it directly; session.ProcessQuery
// instead passes a view scoped to that session's enabled tools and servers,
// so a disabled tool is never listed or executable without the registry
// itself needing to know about per-session state.
type ToolRegistry interface {
	ListToolsWithFilter(excludeInternal bool) []tools.ToolInfo
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (tools.ToolResult, error)
	GetTool(name string) (tools.Tool, error)
}

// Executor runs an AgentSpec against a user message: BuildPrompt ->
// StreamModel -> ParseToolCalls -> ExecuteTools -> Finalize, looping until
// the model stops requesting tools, the loop limit is hit, or ctx is
// cancelled.
type Executor struct {
	llm      llms.LLMProvider
	registry ToolRegistry
	history  reasoning.HistoryService
}

// NewExecutor wires an Executor against a model provider, the tool
// registry tools are dispatched through, and the conversation history
// store (nil disables cross-turn history).
func NewExecutor(llm llms.LLMProvider, registry ToolRegistry, history reasoning.HistoryService) *Executor {
	return &Executor{llm: llm, registry: registry, history: history}
}

// execState is the BuildPrompt/StreamModel/ParseToolCalls/ExecuteTools/
// Finalize state machine, modeled explicitly (rather than recursively) so
// cancellation can be checked at every transition.
type execState int

const (
	stateBuildPrompt execState = iota
	stateStreamModel
	stateParseToolCalls
	stateExecuteTools
	stateFinalize
)

// Run executes spec against userMessage and returns the final answer text
// plus every tool call actually performed, in issue order.
func (e *Executor) Run(ctx context.Context, spec AgentSpec, userMessage string) (string, []llms.ToolCall, error) {
	spec.setDefaults()

	strategy, err := reasoning.CreateStrategy(spec.ReasoningStrategy, reasoning.Config{
		Strategy:  spec.ReasoningStrategy,
		LoopLimit: spec.LoopLimit,
	})
	if err != nil {
		return "", nil, fmt.Errorf("creating reasoning strategy: %w", err)
	}

	var allowed map[string]bool
	if spec.EnabledTools != nil {
		allowed = make(map[string]bool, len(spec.EnabledTools))
		for _, name := range spec.EnabledTools {
			allowed[name] = true
		}
	}

	services := reasoning.NewAgentServices(
		reasoning.Config{Strategy: spec.ReasoningStrategy, LoopLimit: spec.LoopLimit},
		&llmServiceAdapter{provider: e.llm},
		&toolServiceAdapter{registry: e.registry, allowed: allowed},
		&promptServiceAdapter{baseSlots: reasoning.PromptSlots{SystemRole: spec.SystemPrompt}},
		e.history,
	)

	state, err := reasoning.Builder().
		WithQuery(userMessage).
		WithAgentName(spec.Name).
		WithServices(services).
		WithContext(ctx).
		WithShowThinking(spec.ShowThinking).
		Build()
	if err != nil {
		return "", nil, fmt.Errorf("initializing reasoning state: %w", err)
	}

	sessionID := sessionIDFromContext(ctx)
	if e.history != nil {
		if recent, histErr := e.history.GetRecentHistory(sessionID); histErr == nil {
			state.SetHistory(recent)
		}
	}

	var (
		st           = stateBuildPrompt
		messages     []llms.Message
		lastText     string
		pendingCalls []llms.ToolCall
		allCalls     []llms.ToolCall
		loopReached  bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return lastText, allCalls, err
		}

		switch st {
		case stateBuildPrompt:
			iteration := state.NextIteration()
			if iteration == 1 {
				state.AddCurrentTurnMessage(llms.Message{Role: "user", Content: userMessage})
			}
			if err := strategy.PrepareIteration(iteration, state); err != nil {
				return lastText, allCalls, fmt.Errorf("preparing iteration %d: %w", iteration, err)
			}

			additional := strategy.GetContextInjection(state)
			msgs, err := services.Prompt().BuildMessages(ctx, userMessage, strategy.GetPromptSlots(), state.AllMessages(), additional)
			if err != nil {
				return lastText, allCalls, fmt.Errorf("building prompt: %w", err)
			}
			messages = msgs
			st = stateStreamModel

		case stateStreamModel:
			text, calls, tokens, err := e.stream(ctx, services.LLM(), messages, services.Tools().GetAvailableTools())
			if err != nil {
				return lastText, allCalls, fmt.Errorf("streaming model: %w", err)
			}
			state.AddTokens(tokens)
			lastText = text
			pendingCalls = calls
			st = stateParseToolCalls

		case stateParseToolCalls:
			calls := pendingCalls
			if len(calls) == 0 && lastText != "" {
				calls = toolparser.Parse(lastText)
			}
			state.RecordFirstToolCalls(calls)
			state.AddCurrentTurnMessage(llms.Message{Role: "assistant", Content: lastText, ToolCalls: calls})
			pendingCalls = calls

			switch {
			case len(calls) == 0:
				st = stateFinalize
			case state.Iteration() >= spec.LoopLimit:
				loopReached = true
				st = stateFinalize
			case strategy.ShouldStop(lastText, calls, state):
				st = stateFinalize
			default:
				st = stateExecuteTools
			}

		case stateExecuteTools:
			results := make([]reasoning.ToolResult, 0, len(pendingCalls))
			for _, call := range pendingCalls {
				if err := ctx.Err(); err != nil {
					return lastText, allCalls, err
				}
				content, err := services.Tools().ExecuteToolCall(ctx, call)
				results = append(results, reasoning.ToolResult{
					ToolCall:   call,
					Content:    content,
					Error:      err,
					ToolCallID: call.ID,
					ToolName:   call.Name,
				})
				allCalls = append(allCalls, call)
				state.AddCurrentTurnMessage(llms.Message{Role: "tool", Content: content, ToolCallID: call.ID, Name: call.Name})
			}
			if err := strategy.AfterIteration(state.Iteration(), lastText, pendingCalls, results, state); err != nil {
				return lastText, allCalls, fmt.Errorf("after iteration %d: %w", state.Iteration(), err)
			}
			st = stateBuildPrompt

		case stateFinalize:
			if loopReached {
				lastText = strings.TrimRight(lastText, "\n") + "\n\n[loop limit reached]"
			}
			state.MarkFinalResponseAdded()
			if e.history != nil {
				_ = e.history.AddToHistory(sessionID, llms.Message{Role: "user", Content: userMessage})
				_ = e.history.AddToHistory(sessionID, llms.Message{Role: "assistant", Content: lastText})
			}
			return lastText, allCalls, nil
		}
	}
}

// Execute satisfies tools.AgentExecutor, so an Executor can itself be the
// target of a delegated agent_call with a generic, high-iteration spec.
func (e *Executor) Execute(ctx context.Context, task string) (string, error) {
	text, _, err := e.Run(ctx, AgentSpec{Name: "delegate", LoopLimit: 10}, task)
	return text, err
}

// stream drains GenerateStreaming into accumulated text, tool calls, and a
// final token count. Errors surfaced through an "error" chunk abort the
// stream and are returned alongside whatever text had already arrived.
func (e *Executor) stream(ctx context.Context, llm reasoning.LLMService, messages []llms.Message, toolDefs []llms.ToolDefinition) (string, []llms.ToolCall, int, error) {
	chunks, err := llm.GenerateStreaming(ctx, messages, toolDefs)
	if err != nil {
		return "", nil, 0, err
	}

	var text strings.Builder
	var calls []llms.ToolCall
	tokens := 0

	for chunk := range chunks {
		switch chunk.Type {
		case "text":
			text.WriteString(chunk.Text)
		case "tool_call":
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		case "done":
			tokens = chunk.Tokens
		case "error":
			if chunk.Error != nil {
				return text.String(), calls, tokens, chunk.Error
			}
		}
	}

	return text.String(), calls, tokens, nil
}

// sessionIDFromContext reads the session ID the same way reasoning's
// strategies do, so history scoping and per-session todo state agree.
func sessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return "default"
	}
	if v := ctx.Value(reasoning.SessionIDKey); v != nil {
		if sid, ok := v.(string); ok && sid != "" {
			return sid
		}
	}
	return "default"
}
