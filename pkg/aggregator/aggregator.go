// Package aggregator synthesizes a Dispatcher's per-task results into the
// single reply a session hands back to the user. It is a terminal agent
// invocation, not a special-cased formatter: the synthesis prompt runs
// through the same agent.Executor every specialist does, using the
// aggregator AgentSpec pkg/planner already declares for the closed
// specialist set.
package aggregator

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomwork/loom/pkg/agent"
	"github.com/loomwork/loom/pkg/planner"
	"github.com/loomwork/loom/pkg/task"
)

// Aggregator turns a completed (possibly partially-failed) Plan's results
// into one user-facing reply.
type Aggregator struct {
	executor *agent.Executor
}

// New wires an Aggregator against the executor it runs the synthesis
// invocation through.
func New(executor *agent.Executor) *Aggregator {
	return &Aggregator{executor: executor}
}

// Synthesize runs the aggregator specialist against a prompt built from the
// original query and every task's result, in plan order. Per spec.md §4.9
// and §7's user-visible-behavior clause, it is always invoked — including
// when every task failed — and its prompt instructs it to surface partial
// failure rather than paper over it.
func (a *Aggregator) Synthesize(ctx context.Context, query string, results []task.TaskResult) (string, error) {
	spec, ok := planner.Specialist(planner.RoleAggregator)
	if !ok {
		return "", fmt.Errorf("aggregator: %q is not a registered specialist", planner.RoleAggregator)
	}

	prompt := buildSynthesisPrompt(query, results)
	answer, _, err := a.executor.Run(ctx, spec, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesizing reply: %w", err)
	}
	return answer, nil
}

func buildSynthesisPrompt(query string, results []task.TaskResult) string {
	var b strings.Builder
	b.WriteString("Original user request:\n")
	b.WriteString(query)
	b.WriteString("\n\nTask results, in execution order:\n")

	anyFailed := false
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. [%s] status=%s", i+1, r.TaskID, r.Status)
		if r.Status != task.StatusOK {
			anyFailed = true
		}
		if r.OutputText != "" {
			fmt.Fprintf(&b, "\n   output: %s", r.OutputText)
		}
		if r.Status != task.StatusOK && r.Err != nil {
			fmt.Fprintf(&b, "\n   error: %v", r.Err)
		}
	}

	b.WriteString("\n\nWrite a single reply for the user based only on the task results above. " +
		"Don't introduce facts that aren't present in them. Synthesize — find connections, " +
		"resolve inconsistencies, don't just concatenate.")
	if anyFailed {
		b.WriteString(" At least one task did not complete successfully: say plainly what " +
			"succeeded and what didn't, and what the user can do about it.")
	}
	return b.String()
}
