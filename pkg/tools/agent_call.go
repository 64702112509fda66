package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AgentExecutor is the minimal surface a delegated agent must expose to be
// callable through the agent_call tool. It mirrors the agent executor
// contract used by the dispatcher: a task in, a final response out.
type AgentExecutor interface {
	Execute(ctx context.Context, task string) (string, error)
}

// StreamingAgentExecutor is implemented by agents that can stream their
// response incrementally instead of returning it all at once.
type StreamingAgentExecutor interface {
	ExecuteStreaming(ctx context.Context, task string, chunks chan<- string) (string, error)
}

// AgentRegistry resolves an agent name to an executor. The dispatcher and
// the component wiring are responsible for populating it.
type AgentRegistry interface {
	GetAgent(name string) (AgentExecutor, error)
}

type AgentCallTool struct {
	name        string
	description string
	registry    AgentRegistry
}

func NewAgentCallTool(registry AgentRegistry) *AgentCallTool {
	return &AgentCallTool{
		name:        "agent_call",
		description: "Call another agent to delegate a task or get specialized assistance. Use this tool when you need information or capabilities that another agent provides. You MUST use the exact agent ID from the available agents list - do not invent or abbreviate agent names.",
		registry:    registry,
	}
}

func (t *AgentCallTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.name,
		Description: t.description,
		Parameters: []ToolParameter{
			{
				Name:        "agent",
				Type:        "string",
				Description: "The exact agent ID to call (must match one of the available agents listed in the context). Use the full agent ID exactly as shown - do not abbreviate or invent names.",
				Required:    true,
			},
			{
				Name:        "task",
				Type:        "string",
				Description: "The task, question, or request to send to the agent. Be clear and specific about what information or action you need.",
				Required:    true,
			},
		},
	}
}

func (t *AgentCallTool) GetName() string {
	return t.name
}

func (t *AgentCallTool) GetDescription() string {
	return t.description
}

// validateAndExtractArgs validates and extracts agent and task arguments.
func (t *AgentCallTool) validateAndExtractArgs(args map[string]interface{}) (agentID, task string, err error) {
	agentID, ok := args["agent"].(string)
	if !ok {
		if agentID, ok = args["agent_name"].(string); !ok {
			return "", "", fmt.Errorf("missing or invalid 'agent' parameter")
		}
	}

	task, ok = args["task"].(string)
	if !ok {
		if task, ok = args["message"].(string); !ok {
			return "", "", fmt.Errorf("missing or invalid 'task' parameter")
		}
	}

	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", "", fmt.Errorf("agent ID cannot be empty")
	}

	task = strings.TrimSpace(task)
	if task == "" {
		return "", "", fmt.Errorf("task cannot be empty")
	}

	if t.registry == nil {
		return "", "", fmt.Errorf("agent registry not available")
	}

	return agentID, task, nil
}

// buildAgentNotFoundError creates a user-friendly error message when agent is not found.
func (t *AgentCallTool) buildAgentNotFoundError(agentID string, err error) (ToolResult, error) {
	errStr := err.Error()
	var errorMsg string
	if strings.Contains(errStr, "Available agents:") {
		errorMsg = fmt.Sprintf("Agent '%s' was not found. The agent name you used does not exist.\n\n%s\n\nTo fix this:\n- Use one of the exact agent IDs listed above\n- Do not invent agent names - only use the IDs from the list above\n\nPlease retry the agent_call tool with the correct agent ID.", agentID, errStr)
	} else {
		errorMsg = fmt.Sprintf("Agent '%s' not found. %s\n\nPlease check the available agents list in the context and use the correct agent ID.", agentID, errStr)
	}

	return ToolResult{
		Success: false,
		Content: errorMsg,
		Error:   errorMsg,
	}, fmt.Errorf("agent '%s' not found: %v", agentID, err)
}

// buildAgentCallError creates a user-friendly error message for agent call failures.
func (t *AgentCallTool) buildAgentCallError(agentID string, err error) (ToolResult, error) {
	errorMsg := fmt.Sprintf("Failed to call agent '%s': %v", agentID, err)
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		errorMsg = fmt.Sprintf("Agent '%s' is not reachable. The agent service may be down or misconfigured. Error: %v", agentID, err)
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		errorMsg = fmt.Sprintf("Agent '%s' did not respond within the timeout period. The agent may be overloaded or slow. Error: %v", agentID, err)
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit"):
		errorMsg = fmt.Sprintf("Agent '%s' is rate limiting requests. Please wait and try again later. Error: %v", agentID, err)
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "404"):
		errorMsg = fmt.Sprintf("Agent '%s' was not found. The agent may not be registered or the agent ID is incorrect. Error: %v", agentID, err)
	}

	return ToolResult{
		Success: false,
		Content: errorMsg,
		Error:   errorMsg,
	}, fmt.Errorf("failed to call agent '%s': %v", agentID, err)
}

func (t *AgentCallTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	agentID, task, err := t.validateAndExtractArgs(args)
	if err != nil {
		return ToolResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	targetAgent, err := t.registry.GetAgent(agentID)
	if err != nil {
		return t.buildAgentNotFoundError(agentID, err)
	}

	responseText, err := targetAgent.Execute(ctx, task)
	if err != nil {
		return t.buildAgentCallError(agentID, err)
	}
	if responseText == "" {
		responseText = "No response content"
	}

	return ToolResult{
		Success:       true,
		Content:       fmt.Sprintf("[Delegated to: %s]\n\n%s", agentID, responseText),
		ToolName:      "agent_call",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"agent_id":          agentID,
			"task":              task,
			"execution_time_ms": time.Since(start).Milliseconds(),
		},
	}, nil
}

// ExecuteStreaming implements the StreamingTool interface for agent_call.
// It streams responses from the called agent incrementally when the agent
// supports it, falling back to a single chunk otherwise.
func (t *AgentCallTool) ExecuteStreaming(ctx context.Context, args map[string]interface{}, resultCh chan<- string) (ToolResult, error) {
	start := time.Now()

	agentID, task, err := t.validateAndExtractArgs(args)
	if err != nil {
		return ToolResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	targetAgent, err := t.registry.GetAgent(agentID)
	if err != nil {
		return t.buildAgentNotFoundError(agentID, err)
	}

	if streamingAgent, ok := targetAgent.(StreamingAgentExecutor); ok {
		resultCh <- fmt.Sprintf("[Delegated to: %s]\n\n", agentID)
		responseText, err := streamingAgent.ExecuteStreaming(ctx, task, resultCh)
		close(resultCh)
		if err != nil {
			errorResult, callErr := t.buildAgentCallError(agentID, err)
			return errorResult, callErr
		}
		return ToolResult{
			Success:       true,
			Content:       fmt.Sprintf("[Delegated to: %s]\n\n%s", agentID, responseText),
			ToolName:      "agent_call",
			ExecutionTime: time.Since(start),
			Metadata: map[string]interface{}{
				"agent_id":          agentID,
				"task":              task,
				"execution_time_ms": time.Since(start).Milliseconds(),
				"streaming":         true,
			},
		}, nil
	}

	responseText, err := targetAgent.Execute(ctx, task)
	if err != nil {
		errorResult, callErr := t.buildAgentCallError(agentID, err)
		resultCh <- errorResult.Content
		close(resultCh)
		return errorResult, callErr
	}
	if responseText == "" {
		responseText = "No response content"
	}

	resultCh <- fmt.Sprintf("[Delegated to: %s]\n\n%s", agentID, responseText)
	close(resultCh)

	return ToolResult{
		Success:       true,
		Content:       fmt.Sprintf("[Delegated to: %s]\n\n%s", agentID, responseText),
		ToolName:      "agent_call",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"agent_id":          agentID,
			"task":              task,
			"execution_time_ms": time.Since(start).Milliseconds(),
		},
	}, nil
}
