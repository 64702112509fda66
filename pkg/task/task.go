// Package task defines the unit of work the planner produces and the
// dispatcher executes: a typed subtask, the plan that groups them into a
// dependency graph, and the result each task produces once run.
package task

import (
	"fmt"
	"time"

	"github.com/loomwork/loom/pkg/llms"
)

// Status is a task's position in the dispatcher's execution state machine.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether a task in this status will never transition
// again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusOK, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Task is one node of a Plan's dependency graph: a single specialist
// invocation with a description of what it must accomplish.
type Task struct {
	ID             string   `json:"id"`
	AgentType      string   `json:"agent_type"`
	Description    string   `json:"description"`
	DependsOn      []string `json:"depends_on,omitempty"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
}

// Plan is the Planner's output: a set of tasks plus the reasoning that
// produced them, ready for the dispatcher's topological scheduler.
type Plan struct {
	Tasks     []Task `json:"tasks"`
	Rationale string `json:"rationale,omitempty"`
}

// TaskByID returns the task with the given ID, or false if none matches.
func (p *Plan) TaskByID(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// TaskResult is what a completed (or failed/skipped) task produced: the
// specialist's final answer text, any tool calls it issued along the way,
// and bookkeeping the dispatcher and trace sink both need.
type TaskResult struct {
	TaskID     string          `json:"task_id"`
	Status     Status          `json:"status"`
	OutputText string          `json:"output_text,omitempty"`
	ToolCalls  []llms.ToolCall `json:"tool_calls,omitempty"`
	Err        error           `json:"-"`
	Elapsed    time.Duration   `json:"elapsed"`
	Attempts   int             `json:"attempts"`
}

// Error implements the error interface so a failed TaskResult's Err can be
// inspected without a type switch at call sites that only care whether the
// task produced an error.
func (r TaskResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return fmt.Sprintf("task %s: %v", r.TaskID, r.Err)
}

// Run is a snapshot of one task's execution, held by the dispatcher while
// the task is in flight and handed to the trace sink when it settles.
type Run struct {
	Task      Task
	Status    Status
	StartedAt time.Time
	Result    *TaskResult
}

// NewRun starts tracking a task's execution.
func NewRun(t Task) *Run {
	return &Run{Task: t, Status: StatusPending, StartedAt: time.Now()}
}

// Settle records a task's final result and transitions it to a terminal
// status.
func (r *Run) Settle(result TaskResult) {
	r.Result = &result
	r.Status = result.Status
}
