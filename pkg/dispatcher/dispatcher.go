package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomwork/loom/pkg/agent"
	"github.com/loomwork/loom/pkg/config"
	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/planner"
	"github.com/loomwork/loom/pkg/reasoning"
	"github.com/loomwork/loom/pkg/task"
)

// EscalationPolicy decides whether a task that has failed recoverably
// several times in a row should be re-dispatched against a different
// executor — typically one backed by an external, paid-fallback provider —
// instead of continuing to retry against the same one. A nil policy (the
// Config default) never escalates; tasks simply retry up to MaxRetries
// against the executor they started with.
type EscalationPolicy interface {
	// ShouldEscalate is consulted after consecutiveFailures recoverable
	// failures in a row for t.
	ShouldEscalate(t task.Task, consecutiveFailures int) bool
	// Executor returns the fallback executor to retry t against. A nil
	// return leaves the current executor in place for this attempt.
	Executor(t task.Task) *agent.Executor
}

// partialTolerantRoles is the static per-role declaration spec.md §4.8's
// dependent-task policy calls for: a dependent task whose role is listed
// here still runs even when one of its ancestors finished failed/skipped,
// rather than being skipped outright. Empty by default — no specialist
// role currently declares tolerance for a partial ancestor; a role earns a
// place here only when its prompt is written to explicitly handle missing
// upstream output, which none of the ten closed roles currently do.
var partialTolerantRoles = map[string]bool{}

// Config bounds a Dispatcher's concurrency and retry behavior.
type Config struct {
	// MaxParallel caps concurrently-running tasks. Non-positive defaults
	// to 4.
	MaxParallel int
	// MaxRetries is the number of retries (beyond the first attempt)
	// permitted for a recoverable failure. Non-positive defaults to 2.
	MaxRetries int
	// TaskTimeout bounds a single task's total execution, including
	// retries, if positive. Zero means no per-task deadline beyond ctx.
	TaskTimeout time.Duration
	// Escalation is consulted on repeated recoverable failures. Nil means
	// no escalation; tasks simply exhaust their retries and fail.
	Escalation EscalationPolicy
	// Mode is the session's plan/act mode. In config.ModePlan, every task's
	// specialist spec has write-capable tools filtered out of its enabled
	// set via planner.ApplyMode before it runs. The zero value behaves as
	// config.ModeAct (unfiltered).
	Mode config.Mode
}

func (c Config) maxParallel() int {
	if c.MaxParallel <= 0 {
		return 4
	}
	return c.MaxParallel
}

func (c Config) maxRetries() int {
	if c.MaxRetries <= 0 {
		return 2
	}
	return c.MaxRetries
}

// Dispatcher runs a validated Plan's tasks to completion, in dependency
// order, with bounded parallelism.
type Dispatcher struct {
	executor *agent.Executor
	cfg      Config
}

// New wires a Dispatcher against the executor used to run each task's
// specialist invocation (via the closed specialist AgentSpec set in
// pkg/planner) and a Config bounding its concurrency and retry behavior.
func New(executor *agent.Executor, cfg Config) *Dispatcher {
	return &Dispatcher{executor: executor, cfg: cfg}
}

type node struct {
	t           task.Task
	dependents  []string
	pendingDeps int
}

// Run schedules plan's tasks topologically: a task becomes runnable once
// every task in its DependsOn has settled, and runnable tasks execute
// concurrently up to Config.MaxParallel. It returns one TaskResult per
// task, in the plan's original order, and a nil error unless the run itself
// was aborted — by plan-shape invalidity (fails fast, nothing runs) or by
// ctx cancellation (whatever results had already settled are still
// returned, wrapped with ErrCancelled).
func (d *Dispatcher) Run(ctx context.Context, plan *task.Plan) ([]task.TaskResult, error) {
	if plan == nil || len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("%w: plan has no tasks", ErrPlanInvalid)
	}

	nodes := make(map[string]*node, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if _, dup := nodes[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate task id %q", ErrPlanInvalid, t.ID)
		}
		nodes[t.ID] = &node{t: t, pendingDeps: len(t.DependsOn)}
	}
	for _, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			depNode, ok := nodes[dep]
			if !ok {
				return nil, fmt.Errorf("%w: task %q depends on unknown task %q", ErrPlanInvalid, t.ID, dep)
			}
			depNode.dependents = append(depNode.dependents, t.ID)
		}
		if _, ok := planner.Specialist(t.AgentType); !ok {
			return nil, fmt.Errorf("%w: task %q has agent_type %q", ErrUnknownAgent, t.ID, t.AgentType)
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]task.TaskResult, len(plan.Tasks))
	)
	sem := make(chan struct{}, d.cfg.maxParallel())
	g, gctx := errgroup.WithContext(ctx)

	var schedule func(id string)
	var complete func(id string, result task.TaskResult)

	schedule = func(id string) {
		n := nodes[id]
		mu.Lock()
		outcome, skip := dependencyOutcome(n, results)
		mu.Unlock()
		if skip {
			complete(id, task.TaskResult{TaskID: id, Status: outcome})
			return
		}
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				complete(id, task.TaskResult{TaskID: id, Status: task.StatusSkipped, Err: fmt.Errorf("%w", ErrCancelled)})
				return nil
			}
			defer func() { <-sem }()

			result := d.runTask(gctx, n.t)
			complete(id, result)
			return nil
		})
	}

	complete = func(id string, result task.TaskResult) {
		mu.Lock()
		results[id] = result
		dependents := append([]string(nil), nodes[id].dependents...)
		mu.Unlock()

		for _, depID := range dependents {
			mu.Lock()
			dn := nodes[depID]
			dn.pendingDeps--
			ready := dn.pendingDeps == 0
			mu.Unlock()
			if ready {
				schedule(depID)
			}
		}
	}

	for _, t := range plan.Tasks {
		if len(t.DependsOn) == 0 {
			schedule(t.ID)
		}
	}

	_ = g.Wait()

	out := make([]task.TaskResult, 0, len(plan.Tasks))
	mu.Lock()
	for _, t := range plan.Tasks {
		r, ok := results[t.ID]
		if !ok {
			r = task.TaskResult{TaskID: t.ID, Status: task.StatusSkipped, Err: fmt.Errorf("%w: never scheduled", ErrCancelled)}
		}
		out = append(out, r)
	}
	mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
	}
	return out, nil
}

// dependencyOutcome reports whether n's dependencies leave it skippable:
// any failed or skipped ancestor forces a skip unless n's own role is
// declared partial-tolerant.
func dependencyOutcome(n *node, results map[string]task.TaskResult) (task.Status, bool) {
	if partialTolerantRoles[n.t.AgentType] {
		return "", false
	}
	for _, dep := range n.t.DependsOn {
		if r, ok := results[dep]; ok && (r.Status == task.StatusFailed || r.Status == task.StatusSkipped) {
			return task.StatusSkipped, true
		}
	}
	return "", false
}

// runTask executes one task's specialist invocation, retrying recoverable
// failures up to Config.MaxRetries and consulting the escalation policy (if
// any) between attempts.
func (d *Dispatcher) runTask(ctx context.Context, t task.Task) task.TaskResult {
	start := time.Now()
	spec, ok := planner.Specialist(t.AgentType)
	if !ok {
		return task.TaskResult{
			TaskID: t.ID, Status: task.StatusFailed,
			Err:     fmt.Errorf("%w: %q", ErrUnknownAgent, t.AgentType),
			Elapsed: time.Since(start),
		}
	}
	spec = planner.ApplyMode(spec, d.cfg.Mode)

	// Message history is scoped per task ID, never shared across tasks or
	// reused from whatever session issued the plan, per spec.md §3's
	// "built fresh per task" agent-invocation-context rule.
	taskCtx := context.WithValue(ctx, reasoning.SessionIDKey, "task:"+t.ID)
	if d.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, d.cfg.TaskTimeout)
		defer cancel()
	}

	executor := d.executor
	maxRetries := d.cfg.maxRetries()
	attempts := 0
	var lastErr error
	var text string
	var calls []llms.ToolCall

	for {
		attempts++
		var err error
		text, calls, err = executor.Run(taskCtx, spec, t.Description)
		if err == nil {
			return task.TaskResult{
				TaskID: t.ID, Status: task.StatusOK, OutputText: text, ToolCalls: calls,
				Elapsed: time.Since(start), Attempts: attempts,
			}
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return task.TaskResult{
				TaskID: t.ID, Status: task.StatusFailed,
				Err:     fmt.Errorf("%w: %v", ErrCancelled, err),
				Elapsed: time.Since(start), Attempts: attempts,
			}
		}
		if !isRecoverable(err) {
			break
		}
		if attempts > maxRetries {
			break
		}
		if d.cfg.Escalation != nil && d.cfg.Escalation.ShouldEscalate(t, attempts) {
			if fallback := d.cfg.Escalation.Executor(t); fallback != nil {
				executor = fallback
			}
		}
	}

	return task.TaskResult{
		TaskID: t.ID, Status: task.StatusFailed, Err: lastErr,
		Elapsed: time.Since(start), Attempts: attempts,
	}
}
