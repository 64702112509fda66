package reasoning

import (
	"context"
	"time"

	"github.com/loomwork/loom/pkg/llms"
)

// Response is what a reasoning-driven generation produces once the tool
// loop settles: the final answer plus bookkeeping for the trace sink.
type Response struct {
	Answer      string                 `json:"answer"`
	ToolResults map[string]ToolResult  `json:"tool_results,omitempty"`
	TokensUsed  int                    `json:"tokens_used"`
	Duration    time.Duration          `json:"duration"`
}

// Config is the subset of an agent spec a reasoning strategy needs:
// the loop limit and which strategy to run.
type Config struct {
	Strategy                   string
	LoopLimit                  int
	EnableStructuredReflection *bool
}

// LLMService is the subset of an llms.LLMProvider a strategy depends on.
// Narrowing the dependency to this interface (rather than the full
// provider) keeps strategies testable against a stub.
type LLMService interface {
	Generate(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (string, []llms.ToolCall, int, *llms.ThinkingBlock, error)
	GenerateStreaming(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (<-chan llms.StreamChunk, error)
	GenerateStructured(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition, config *llms.StructuredOutputConfig) (string, []llms.ToolCall, int, error)
	SupportsStructuredOutput() bool
}

// ToolService executes tool calls on behalf of a reasoning strategy.
type ToolService interface {
	ExecuteToolCall(ctx context.Context, toolCall llms.ToolCall) (string, error)
	GetAvailableTools() []llms.ToolDefinition
	GetTool(name string) (interface{}, error)
}

// PromptService builds the message array for one model turn from a
// strategy's prompt slots and the running tool conversation.
type PromptService interface {
	BuildMessages(ctx context.Context, query string, slots PromptSlots, currentToolConversation []llms.Message, additionalContext string) ([]llms.Message, error)
}

// HistoryService is the session-scoped conversation memory a strategy can
// read from and append to.
type HistoryService interface {
	GetRecentHistory(sessionID string) ([]llms.Message, error)
	AddToHistory(sessionID string, msg llms.Message) error
	ClearHistory(sessionID string) error
}

// AgentServices is the dependency-injection surface a reasoning strategy
// runs against: narrow interfaces over the LLM, the tool registry, prompt
// composition, and history, so strategies stay unit-testable without a
// live provider or registry.
type AgentServices interface {
	GetConfig() Config
	LLM() LLMService
	Tools() ToolService
	Prompt() PromptService
	History() HistoryService
}

// DefaultAgentServices is the concrete AgentServices wiring used outside
// tests.
type DefaultAgentServices struct {
	config         Config
	llmService     LLMService
	toolService    ToolService
	promptService  PromptService
	historyService HistoryService
}

// NewAgentServices wires the four services behind one AgentServices value.
func NewAgentServices(config Config, llmService LLMService, toolService ToolService, promptService PromptService, historyService HistoryService) AgentServices {
	return &DefaultAgentServices{
		config:         config,
		llmService:     llmService,
		toolService:    toolService,
		promptService:  promptService,
		historyService: historyService,
	}
}

func (s *DefaultAgentServices) GetConfig() Config          { return s.config }
func (s *DefaultAgentServices) LLM() LLMService            { return s.llmService }
func (s *DefaultAgentServices) Tools() ToolService         { return s.toolService }
func (s *DefaultAgentServices) Prompt() PromptService      { return s.promptService }
func (s *DefaultAgentServices) History() HistoryService    { return s.historyService }
