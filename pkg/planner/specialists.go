package planner

import (
	"github.com/loomwork/loom/pkg/agent"
	"github.com/loomwork/loom/pkg/config"
)

// The closed set of specialist roles a plan's tasks may be assigned to.
// Each is an ordinary agent.AgentSpec with its own system prompt, tool
// whitelist, and loop limit; there is nothing structurally special about
// "the aggregator" or "the code-writer" from the executor's point of view.
const (
	RoleFileOps    = "file-ops"
	RoleTestRunner = "test-runner"
	RoleConfig     = "config"
	RoleMemory     = "memory"
	RoleShell      = "shell-script"
	RoleCodeWriter = "code-writer"
	RoleCodeReader = "code-reader"
	RoleDebugger   = "debugger"
	RoleResearcher = "researcher"
	RoleAggregator = "aggregator"
)

var specialistRoles = []string{
	RoleFileOps, RoleTestRunner, RoleConfig, RoleMemory, RoleShell,
	RoleCodeWriter, RoleCodeReader, RoleDebugger, RoleResearcher, RoleAggregator,
}

var specialistRolesCSV = func() string {
	out := ""
	for i, r := range specialistRoles {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}()

// specialists is the closed mapping spec.md §4.7 requires: one AgentSpec per
// role, each with its own prompt, allowed-tool whitelist, and loop limit.
// The dispatcher looks a task's agent_type up here; an agent_type outside
// this map fails plan validation before any task runs.
var specialists = map[string]agent.AgentSpec{
	RoleFileOps: {
		Name: RoleFileOps,
		SystemPrompt: "You are a file-ops specialist. You read, list, and validate files " +
			"and paths. You never modify, write, or delete anything — if a task seems to " +
			"require a write, say so and stop rather than attempting one. Always run " +
			"validate_file_path on any path you weren't just handed by list_files or " +
			"get_file_info before reading it.",
		EnabledTools: []string{
			"read_file", "grep_search", "validate_file_path",
			"list_files", "list_directories", "file_exists", "get_file_info",
		},
		LoopLimit: 8,
	},
	RoleTestRunner: {
		Name: RoleTestRunner,
		SystemPrompt: "You are a test-runner specialist. You run the project's test suite " +
			"and report results accurately. You never edit source or test files.",
		EnabledTools: []string{"execute_command", "run_pytest"},
		LoopLimit:    8,
	},
	RoleConfig: {
		Name: RoleConfig,
		SystemPrompt: "You are a config specialist. You read and update session and agent " +
			"configuration (model choice, tool enablement, mode, system prompt, and the " +
			"tool server catalog) on request.",
		EnabledTools: []string{
			"get_config", "update_config_section",
			"get_system_prompt", "set_system_prompt",
			"list_mcp_servers",
		},
		LoopLimit: 6,
	},
	RoleMemory: {
		Name: RoleMemory,
		SystemPrompt: "You are a memory and feature-tracking specialist. You record and " +
			"retrieve durable notes about the project's goals and features across queries " +
			"using the tools available to you: look a feature or goal up before assuming " +
			"its state, create it via update_feature_status on first mention, and log " +
			"progress and test results as they happen rather than all at once at the end.",
		EnabledTools: []string{
			"get_memory_state", "get_feature_details", "get_goal_details",
			"update_feature_status", "log_progress", "add_test_result",
		},
		LoopLimit: 6,
	},
	RoleShell: {
		Name: RoleShell,
		SystemPrompt: "You are a shell/script specialist. You run shell commands, Python " +
			"scripts, and other external tools to accomplish the task description exactly " +
			"as written, including driving loops over dynamically-discovered items when the " +
			"description asks for that in one invocation.",
		EnabledTools: []string{"execute_command", "execute_python_code", "create_directory", "delete_file"},
		LoopLimit:    12,
	},
	RoleCodeWriter: {
		Name: RoleCodeWriter,
		SystemPrompt: "You are a code-writer specialist — the only role permitted to modify " +
			"source code. You make the exact edit the task describes, minimally and correctly.",
		EnabledTools: []string{"read_file", "write_file", "search_replace", "apply_patch"},
		LoopLimit:    12,
	},
	RoleCodeReader: {
		Name: RoleCodeReader,
		SystemPrompt: "You are a code-reader specialist: read-only analysis of source code. " +
			"You explain, summarize, and answer questions about code without changing it.",
		EnabledTools: []string{"read_file", "grep_search"},
		LoopLimit:    10,
	},
	RoleDebugger: {
		Name: RoleDebugger,
		SystemPrompt: "You are a debugger specialist. You reproduce, isolate, and explain the " +
			"root cause of a failure, using tests and logs; you hand off the fix itself to a " +
			"code-writer task rather than editing source yourself.",
		ReasoningStrategy: "chain-of-thought",
		EnabledTools:      []string{"read_file", "grep_search", "execute_command"},
		LoopLimit:         12,
	},
	RoleResearcher: {
		Name: RoleResearcher,
		SystemPrompt: "You are a researcher specialist. You gather information — from the " +
			"filesystem, the web, or prior context — and summarize it for the task at hand.",
		EnabledTools: []string{"read_file", "grep_search", "web_request"},
		LoopLimit:    10,
	},
	RoleAggregator: {
		Name: RoleAggregator,
		SystemPrompt: "You are the aggregator. You synthesize the completed tasks' outputs " +
			"into one coherent, user-facing reply. You add value through synthesis — resolve " +
			"conflicts, connect insights — rather than concatenating outputs verbatim.",
		EnabledTools: []string{},
		LoopLimit:    1,
	},
}

// Specialist returns the AgentSpec for a role, or false if role isn't in the
// closed set.
func Specialist(role string) (agent.AgentSpec, bool) {
	spec, ok := specialists[role]
	return spec, ok
}

// Roles returns the closed set of valid agent_type values, in declaration
// order, for error messages and prompt construction.
func Roles() []string {
	out := make([]string, len(specialistRoles))
	copy(out, specialistRoles)
	return out
}

// writeCapableTools names every built-in tool that mutates filesystem or
// external state, as opposed to merely reading it.
var writeCapableTools = map[string]bool{
	"write_file":            true,
	"search_replace":        true,
	"apply_patch":           true,
	"execute_command":       true,
	"execute_python_code":   true,
	"create_directory":      true,
	"delete_file":           true,
	"update_config_section": true,
	"set_system_prompt":     true,
	"update_feature_status": true,
	"log_progress":          true,
	"add_test_result":       true,
}

// ApplyMode returns spec with its EnabledTools filtered for the session's
// plan/act mode. Per spec.md's definition of plan mode — "a session-level
// setting that filters write-capable tools out of the active-tool view" —
// act mode (and any other value) returns spec unchanged; plan mode strips
// writeCapableTools out of a non-nil EnabledTools list.
func ApplyMode(spec agent.AgentSpec, mode config.Mode) agent.AgentSpec {
	if mode != config.ModePlan || spec.EnabledTools == nil {
		return spec
	}
	filtered := make([]string, 0, len(spec.EnabledTools))
	for _, name := range spec.EnabledTools {
		if !writeCapableTools[name] {
			filtered = append(filtered, name)
		}
	}
	spec.EnabledTools = filtered
	return spec
}
