// Package trace implements the runtime's opt-in structured trace log: one
// JSON document per session run capturing the planner's prompt and
// response, each task's spec and outcome, every model call's prompt and
// response, every tool call's arguments and return, and wall-clock timings.
// A noop Sink is the default; nothing is written unless a caller opts in.
package trace

import (
	"context"
	"time"

	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/task"
)

// Sink receives trace events as a run progresses. Every method is safe for
// concurrent use, since the Dispatcher drives sibling tasks through the same
// Sink from multiple goroutines. A Level-gated Sink silently drops events
// below its configured level; callers never need to check the level
// themselves before recording.
type Sink interface {
	// RecordPlan records the planner's invocation for the run.
	RecordPlan(ctx context.Context, query, prompt, response string, elapsed time.Duration)
	// RecordTask records a task's spec as the Dispatcher schedules it.
	RecordTask(ctx context.Context, t task.Task)
	// RecordModelCall records one model invocation within a task.
	RecordModelCall(ctx context.Context, taskID string, messages []llms.Message, response string, elapsed time.Duration)
	// RecordToolCall records one tool invocation within a task.
	RecordToolCall(ctx context.Context, taskID, toolName string, args map[string]interface{}, result string, callErr error, elapsed time.Duration)
	// RecordTransition records a task's status change.
	RecordTransition(ctx context.Context, taskID string, from, to task.Status)
	// RecordStreamChunk records one streaming chunk boundary; only the
	// debug level keeps these.
	RecordStreamChunk(ctx context.Context, taskID string, chunk llms.StreamChunk)
	// RecordResult records a task's final TaskResult once it settles.
	RecordResult(ctx context.Context, result task.TaskResult)
	// RecordReply records the aggregator's final user-facing reply.
	RecordReply(ctx context.Context, reply string, elapsed time.Duration)
	// Close flushes the run's document to its backing store, if any.
	Close() error
}

// PlanRecord is the planner's invocation within a run's trace document.
type PlanRecord struct {
	Query     string        `json:"query"`
	Prompt    string        `json:"prompt,omitempty"`
	Response  string        `json:"response,omitempty"`
	ElapsedMS int64         `json:"elapsed_ms"`
	Tasks     []task.Task   `json:"tasks,omitempty"`
}

// ModelCallRecord is one model invocation inside a task.
type ModelCallRecord struct {
	TaskID    string         `json:"task_id"`
	Messages  []llms.Message `json:"messages,omitempty"`
	Response  string         `json:"response,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// ToolCallRecord is one tool invocation inside a task.
type ToolCallRecord struct {
	TaskID    string                 `json:"task_id"`
	ToolName  string                 `json:"tool_name"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Result    string                 `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ElapsedMS int64                  `json:"elapsed_ms"`
}

// TransitionRecord is one task status change.
type TransitionRecord struct {
	TaskID string      `json:"task_id"`
	From   task.Status `json:"from"`
	To     task.Status `json:"to"`
}

// StreamChunkRecord is one streaming chunk boundary, debug-level only.
type StreamChunkRecord struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ReplyRecord is the aggregator's final reply.
type ReplyRecord struct {
	Reply     string `json:"reply"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Document is the full JSON shape written for one run: everything a Sink
// accumulated, in the order events occurred.
type Document struct {
	RunID        string              `json:"run_id"`
	Level        string              `json:"level"`
	Plan         *PlanRecord         `json:"plan,omitempty"`
	Tasks        []task.Task         `json:"tasks,omitempty"`
	ModelCalls   []ModelCallRecord   `json:"model_calls,omitempty"`
	ToolCalls    []ToolCallRecord    `json:"tool_calls,omitempty"`
	Transitions  []TransitionRecord  `json:"transitions,omitempty"`
	StreamChunks []StreamChunkRecord `json:"stream_chunks,omitempty"`
	Results      []task.TaskResult   `json:"results,omitempty"`
	Reply        *ReplyRecord        `json:"reply,omitempty"`
}
