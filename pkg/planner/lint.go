package planner

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/loomwork/loom/pkg/task"
)

// Lint enforces the three plan invariants a distinguished planner agent's
// output is never trusted to satisfy on its own: depends_on forms a DAG,
// no task's description leans on another task by name, and every task
// touching a file path the user named embeds that path verbatim. It also
// rejects an agent_type outside the closed specialist set and a dependency
// on a task ID that doesn't exist. Every violation found is returned
// together via errors.Join, rather than stopping at the first one, so a
// caller re-prompting the planner can fix everything in one pass.
func Lint(plan *task.Plan, query string) error {
	if plan == nil {
		return errors.New("plan lint: nil plan")
	}

	var violations []error

	ids := make(map[string]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if t.ID == "" {
			violations = append(violations, errors.New("plan lint: task with empty id"))
			continue
		}
		if ids[t.ID] {
			violations = append(violations, fmt.Errorf("plan lint: duplicate task id %q", t.ID))
		}
		ids[t.ID] = true
	}

	for _, t := range plan.Tasks {
		if !isSpecialistRole(t.AgentType) {
			violations = append(violations, fmt.Errorf(
				"plan lint: task %q has agent_type %q, not one of %s", t.ID, t.AgentType, specialistRolesCSV))
		}
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				violations = append(violations, fmt.Errorf(
					"plan lint: task %q depends on unknown task %q", t.ID, dep))
			}
		}
		if reason, bad := referencesAnotherTask(t.Description); bad {
			violations = append(violations, fmt.Errorf(
				"plan lint: task %q description references another task (%q) instead of using depends_on",
				t.ID, reason))
		}
	}

	if cyclic := findCycle(plan.Tasks); cyclic != "" {
		violations = append(violations, fmt.Errorf("plan lint: depends_on graph has a cycle through task %q", cyclic))
	}

	violations = append(violations, checkEmbeddedPaths(plan.Tasks, query)...)

	return errors.Join(violations...)
}

// bannedReferencePhrases are substrings (checked case-insensitively) that
// indicate a task's description leans on another task's identity by
// narrative reference instead of expressing the dependency through
// depends_on, violating spec.md §3 invariant (b).
var bannedReferencePhrases = []string{
	"from task_",
	"the previous task",
	"the prior task",
	"as mentioned above",
	"as described above",
	"see task_",
	"using the result of task",
	"from the previous step",
}

func referencesAnotherTask(description string) (string, bool) {
	lower := strings.ToLower(description)
	for _, phrase := range bannedReferencePhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// findCycle runs a standard three-color DFS over the depends_on edges and
// returns the ID of a task found mid-cycle, or "" if the graph is a DAG.
// Unknown dependency targets are ignored here since Lint's per-task loop
// already reports those separately.
func findCycle(tasks []task.Task) string {
	byID := make(map[string]task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) string
	visit = func(id string) string {
		switch color[id] {
		case gray:
			return id
		case black:
			return ""
		}
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if cyclic := visit(dep); cyclic != "" {
				return cyclic
			}
		}
		color[id] = black
		return ""
	}

	for _, t := range tasks {
		if color[t.ID] == white {
			if cyclic := visit(t.ID); cyclic != "" {
				return cyclic
			}
		}
	}
	return ""
}

// filePathToken matches path-like substrings in the user's query: at least
// one path separator, or a dotted file extension, so "src/main.py" and
// "config.yaml" both match but ordinary words don't.
var filePathToken = regexp.MustCompile(`[A-Za-z0-9_.\-/]*(?:/[A-Za-z0-9_.\-]+|\.[A-Za-z0-9]{1,6})[A-Za-z0-9_.\-/]*`)

// checkEmbeddedPaths implements invariant (c): every file path the query
// names must appear verbatim in the description of every task whose own
// description already touches that file (i.e. mentions some other token
// from the same path family). Tasks that don't reference the file at all
// are out of scope for this check.
func checkEmbeddedPaths(tasks []task.Task, query string) []error {
	paths := uniquePathTokens(query)
	if len(paths) == 0 {
		return nil
	}

	var violations []error
	for _, t := range tasks {
		for _, p := range paths {
			if taskTouchesPathFamily(t.Description, p) && !strings.Contains(t.Description, p) {
				violations = append(violations, fmt.Errorf(
					"plan lint: task %q operates on %q but doesn't embed the full path in its description",
					t.ID, p))
			}
		}
	}
	return violations
}

func uniquePathTokens(query string) []string {
	matches := filePathToken.FindAllString(query, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// taskTouchesPathFamily reports whether description mentions the path's
// base filename (the part after the last slash), which is the weakest
// signal that a task is operating on that file without necessarily having
// embedded the whole path yet.
func taskTouchesPathFamily(description, path string) bool {
	base := path
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return base != "" && strings.Contains(description, base)
}

func isSpecialistRole(role string) bool {
	for _, r := range specialistRoles {
		if r == role {
			return true
		}
	}
	return false
}
