package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomwork/loom/pkg/llms"
)

// ReasoningState holds the state of one agent's reasoning loop, shared
// between iterations with a clear ownership split:
//   - Agent owns: iteration, totalTokens, history, currentTurn, assistantResponse
//     (strategies read via accessors, cannot modify)
//   - Strategy owns: CustomState, ToolState (full read-write access)
//   - Shared config: Query, agentName, subAgents, OutputChannel, Services, Context
//     (read-only for both)
type ReasoningState struct {
	iteration   int
	totalTokens int

	history     []llms.Message
	currentTurn []llms.Message

	assistantResponse strings.Builder

	firstIterationToolCalls []llms.ToolCall
	finalResponseAdded      bool

	query string

	agentName string
	subAgents []string

	showThinking  bool
	showDebugInfo bool

	customState map[string]interface{}
	toolState   map[string]interface{}

	outputChannel chan<- string
	services      AgentServices
	context       context.Context
}

// NewReasoningState creates a new reasoning state with defaults. Use the
// builder to configure it fully before use.
func NewReasoningState() *ReasoningState {
	return &ReasoningState{
		history:                 make([]llms.Message, 0),
		currentTurn:             make([]llms.Message, 0),
		firstIterationToolCalls: make([]llms.ToolCall, 0),
		customState:             make(map[string]interface{}),
		toolState:               make(map[string]interface{}),
	}
}

// Builder returns a new StateBuilder for fluent configuration.
func Builder() *StateBuilder {
	return &StateBuilder{state: NewReasoningState()}
}

// StateBuilder provides a fluent API for state initialization with
// validation.
type StateBuilder struct {
	state *ReasoningState
	err   error
}

func (b *StateBuilder) WithQuery(query string) *StateBuilder {
	if b.err != nil {
		return b
	}
	if query == "" {
		b.err = fmt.Errorf("query cannot be empty")
		return b
	}
	b.state.query = query
	return b
}

func (b *StateBuilder) WithAgentName(name string) *StateBuilder {
	if b.err != nil {
		return b
	}
	b.state.agentName = name
	return b
}

func (b *StateBuilder) WithSubAgents(subAgents []string) *StateBuilder {
	if b.err != nil {
		return b
	}
	if len(subAgents) > 0 {
		b.state.subAgents = make([]string, len(subAgents))
		copy(b.state.subAgents, subAgents)
	}
	return b
}

func (b *StateBuilder) WithHistory(history []llms.Message) *StateBuilder {
	if b.err != nil {
		return b
	}
	b.state.history = history
	return b
}

func (b *StateBuilder) WithOutputChannel(ch chan<- string) *StateBuilder {
	if b.err != nil {
		return b
	}
	b.state.outputChannel = ch
	return b
}

func (b *StateBuilder) WithShowThinking(show bool) *StateBuilder {
	if b.err != nil {
		return b
	}
	b.state.showThinking = show
	return b
}

func (b *StateBuilder) WithShowDebugInfo(show bool) *StateBuilder {
	if b.err != nil {
		return b
	}
	b.state.showDebugInfo = show
	return b
}

func (b *StateBuilder) WithServices(services AgentServices) *StateBuilder {
	if b.err != nil {
		return b
	}
	b.state.services = services
	return b
}

func (b *StateBuilder) WithContext(ctx context.Context) *StateBuilder {
	if b.err != nil {
		return b
	}
	b.state.context = ctx
	return b
}

func (b *StateBuilder) Build() (*ReasoningState, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.state.query == "" {
		return nil, fmt.Errorf("query is required")
	}
	return b.state, nil
}

// Iteration returns the current iteration number.
func (s *ReasoningState) Iteration() int { return s.iteration }

// TotalTokens returns the total tokens used so far.
func (s *ReasoningState) TotalTokens() int { return s.totalTokens }

// GetHistory returns a copy of the history messages.
func (s *ReasoningState) GetHistory() []llms.Message {
	if s.history == nil {
		return nil
	}
	out := make([]llms.Message, len(s.history))
	copy(out, s.history)
	return out
}

// GetCurrentTurn returns a copy of the current turn's messages.
func (s *ReasoningState) GetCurrentTurn() []llms.Message {
	if s.currentTurn == nil {
		return nil
	}
	out := make([]llms.Message, len(s.currentTurn))
	copy(out, s.currentTurn)
	return out
}

// GetAssistantResponse returns the accumulated response text.
func (s *ReasoningState) GetAssistantResponse() string {
	return s.assistantResponse.String()
}

// GetFirstIterationToolCalls returns the tool calls issued on iteration 1.
func (s *ReasoningState) GetFirstIterationToolCalls() []llms.ToolCall {
	if s.firstIterationToolCalls == nil {
		return nil
	}
	out := make([]llms.ToolCall, len(s.firstIterationToolCalls))
	copy(out, s.firstIterationToolCalls)
	return out
}

// IsFinalResponseAdded reports whether the final response message was
// appended to the conversation.
func (s *ReasoningState) IsFinalResponseAdded() bool {
	return s.finalResponseAdded
}

// NextIteration increments and returns the iteration counter.
func (s *ReasoningState) NextIteration() int {
	s.iteration++
	return s.iteration
}

// AddTokens adds to the running token total.
func (s *ReasoningState) AddTokens(tokens int) {
	s.totalTokens += tokens
}

// AppendResponse appends text to the accumulated assistant response.
func (s *ReasoningState) AppendResponse(text string) {
	s.assistantResponse.WriteString(text)
}

// RecordFirstToolCalls records the first iteration's tool calls, once.
func (s *ReasoningState) RecordFirstToolCalls(calls []llms.ToolCall) {
	if s.iteration == 1 && len(s.firstIterationToolCalls) == 0 && len(calls) > 0 {
		s.firstIterationToolCalls = calls
	}
}

// AddCurrentTurnMessage appends a message to the current turn.
func (s *ReasoningState) AddCurrentTurnMessage(msg llms.Message) {
	s.currentTurn = append(s.currentTurn, msg)
}

// MarkFinalResponseAdded marks the final response as appended.
func (s *ReasoningState) MarkFinalResponseAdded() {
	s.finalResponseAdded = true
}

// SetHistory sets the loaded history (agent initialization only).
func (s *ReasoningState) SetHistory(history []llms.Message) {
	s.history = history
}

// Query returns the original user query.
func (s *ReasoningState) Query() string { return s.query }

// AgentName returns the current agent's name.
func (s *ReasoningState) AgentName() string { return s.agentName }

// SubAgents returns a copy of the sub-agent IDs available for delegation.
func (s *ReasoningState) SubAgents() []string {
	if s.subAgents == nil {
		return nil
	}
	out := make([]string, len(s.subAgents))
	copy(out, s.subAgents)
	return out
}

// ShowThinking reports whether reasoning text should be surfaced.
func (s *ReasoningState) ShowThinking() bool { return s.showThinking }

// ShowDebugInfo reports whether debug info should be surfaced.
func (s *ReasoningState) ShowDebugInfo() bool { return s.showDebugInfo }

// AllMessages returns history and current-turn messages concatenated, for
// building the next LLM prompt.
func (s *ReasoningState) AllMessages() []llms.Message {
	all := make([]llms.Message, 0, len(s.history)+len(s.currentTurn))
	all = append(all, s.history...)
	all = append(all, s.currentTurn...)
	return all
}

// GetOutputChannel returns the channel strategies use to surface thinking
// text.
func (s *ReasoningState) GetOutputChannel() chan<- string { return s.outputChannel }

// GetServices returns the agent services available to the strategy.
func (s *ReasoningState) GetServices() AgentServices { return s.services }

// GetContext returns the context for cancellation/timeouts.
func (s *ReasoningState) GetContext() context.Context { return s.context }

// GetCustomState returns the strategy-owned scratch map.
func (s *ReasoningState) GetCustomState() map[string]interface{} { return s.customState }

// GetToolState returns the tool-owned scratch map (e.g. todo completion
// tracking across iterations).
func (s *ReasoningState) GetToolState() map[string]interface{} { return s.toolState }
