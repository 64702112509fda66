package tools

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/loomwork/loom/pkg/config"
)

// execBuiltin runs one fixed external interpreter/runner against an
// argument it assembles itself, the same os/exec.CommandContext pattern
// CommandTool uses for arbitrary shell commands, narrowed to a single
// well-known command so the caller can't smuggle in something else.
type execBuiltin struct {
	name             string
	description      string
	params           []ToolParameter
	workingDirectory string
	maxExecutionTime time.Duration
	argv             func(args map[string]interface{}) ([]string, error)
}

func (t *execBuiltin) GetInfo() ToolInfo {
	return ToolInfo{Name: t.name, Description: t.description, Parameters: t.params, ServerURL: "local"}
}
func (t *execBuiltin) GetName() string        { return t.name }
func (t *execBuiltin) GetDescription() string { return t.description }

func (t *execBuiltin) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	argv, err := t.argv(args)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), ToolName: t.name, ExecutionTime: time.Since(start)}, nil
	}

	execCtx := ctx
	if t.maxExecutionTime > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, t.maxExecutionTime)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = t.workingDirectory
	output, runErr := cmd.CombinedOutput()
	executionTime := time.Since(start)

	result := ToolResult{
		Content:       string(output),
		Success:       runErr == nil,
		ToolName:      t.name,
		ExecutionTime: executionTime,
		Metadata:      map[string]interface{}{"command": argv},
	}
	if runErr != nil {
		result.Error = runErr.Error()
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.Metadata["exit_code"] = exitErr.ExitCode()
		}
	}
	return result, runErr
}

func NewRunPytestTool(workingDirectory string, maxExecutionTime time.Duration) Tool {
	return &execBuiltin{
		name:        "run_pytest",
		description: "Run pytest against a path (file, directory, or node id) and return its combined output.",
		params: []ToolParameter{
			{Name: "target", Type: "string", Description: "Test path or node id to run (defaults to the whole working directory)", Required: false},
			{Name: "args", Type: "array", Description: "Extra pytest CLI flags, e.g. [\"-k\", \"test_name\"]", Required: false, Items: map[string]interface{}{"type": "string"}},
		},
		workingDirectory: workingDirectory,
		maxExecutionTime: maxExecutionTime,
		argv: func(args map[string]interface{}) ([]string, error) {
			argv := []string{"pytest"}
			if extra, ok := args["args"].([]interface{}); ok {
				for _, a := range extra {
					if s, ok := a.(string); ok {
						argv = append(argv, s)
					}
				}
			}
			if target, ok := args["target"].(string); ok && target != "" {
				argv = append(argv, target)
			}
			return argv, nil
		},
	}
}

func NewExecutePythonCodeTool(workingDirectory string, maxExecutionTime time.Duration) Tool {
	return &execBuiltin{
		name:        "execute_python_code",
		description: "Run a snippet of Python code with python3 -c and return its combined stdout/stderr.",
		params: []ToolParameter{
			{Name: "code", Type: "string", Description: "Python source to execute", Required: true},
		},
		workingDirectory: workingDirectory,
		maxExecutionTime: maxExecutionTime,
		argv: func(args map[string]interface{}) ([]string, error) {
			code, ok := args["code"].(string)
			if !ok || code == "" {
				return nil, fmt.Errorf("code parameter is required")
			}
			return []string{"python3", "-c", code}, nil
		},
	}
}

func execToolConstructor(kind string) func(name string, toolConfig *config.ToolConfig) (Tool, error) {
	ctor := map[string]func(string, time.Duration) Tool{
		"run_pytest":          NewRunPytestTool,
		"execute_python_code": NewExecutePythonCodeTool,
	}[kind]
	return func(name string, toolConfig *config.ToolConfig) (Tool, error) {
		if toolConfig == nil {
			return nil, fmt.Errorf("tool config is required")
		}
		maxExecutionTime := 30 * time.Second
		if toolConfig.MaxExecutionTime != "" {
			d, err := time.ParseDuration(toolConfig.MaxExecutionTime)
			if err != nil {
				return nil, fmt.Errorf("invalid max_execution_time: %w", err)
			}
			maxExecutionTime = d
		}
		return ctor(toolConfig.WorkingDirectory, maxExecutionTime), nil
	}
}
