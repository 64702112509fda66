// Package dispatcher topologically schedules a validated task.Plan, running
// each task through a specialist agent.Executor invocation with bounded
// parallelism, retry, and escalation, and settles dependents per the
// ancestor's outcome.
package dispatcher

import (
	"context"
	"errors"
)

// Sentinel error kinds, matched with errors.Is/errors.As rather than
// inspected by message, per spec.md §7's error taxonomy. They name a kind,
// not a concrete type: a task's failure wraps one of these alongside
// whatever underlying error the executor or provider produced.
var (
	ErrPlanInvalid     = errors.New("plan invalid")
	ErrUnknownAgent    = errors.New("unknown agent type")
	ErrToolNotFound    = errors.New("tool not found")
	ErrToolDisabled    = errors.New("tool disabled")
	ErrToolTransport   = errors.New("tool transport error")
	ErrToolDomain      = errors.New("tool domain error")
	ErrLoopLimit       = errors.New("loop limit reached")
	ErrTaskTimeout     = errors.New("task timed out")
	ErrModelTimeout    = errors.New("model timed out")
	ErrCancelled       = errors.New("cancelled")
	ErrTransportConfig = errors.New("transport configuration error")
)

// isRecoverable reports whether err belongs to a retryable kind: a task or
// model timeout, or a tool transport failure. Everything else — including
// plan-lint and unknown-agent failures — fails a task fast, with no retry.
func isRecoverable(err error) bool {
	return errors.Is(err, ErrToolTransport) ||
		errors.Is(err, ErrTaskTimeout) ||
		errors.Is(err, ErrModelTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
