package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomwork/loom/pkg/config"
)

type LocalToolSource struct {
	name  string
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewLocalToolSource(name string) *LocalToolSource {
	if name == "" {
		name = "local"
	}

	return &LocalToolSource{
		name:  name,
		tools: make(map[string]Tool),
	}
}

func NewLocalToolSourceWithConfig(toolConfigs map[string]*config.ToolConfig) (*LocalToolSource, error) {
	return NewLocalToolSourceWithConfigAndAgentRegistry(toolConfigs, nil)
}

func NewLocalToolSourceWithConfigAndAgentRegistry(toolConfigs map[string]*config.ToolConfig, agentRegistry interface{}) (*LocalToolSource, error) {
	source := &LocalToolSource{
		name:  "local",
		tools: make(map[string]Tool),
	}

	// One MemoryStore backs all six memory/feature-tracking tools so they
	// share state; it's built lazily since most configs won't enable any
	// of them.
	var memoryStore *MemoryStore
	sharedMemoryStore := func() *MemoryStore {
		if memoryStore == nil {
			memoryStore = NewMemoryStore()
		}
		return memoryStore
	}

	for toolName, toolConfig := range toolConfigs {
		if toolConfig == nil || toolConfig.Enabled == nil || !*toolConfig.Enabled {
			continue
		}

		var tool Tool
		var err error

		switch toolConfig.Type {
		case "command":
			tool, err = NewCommandToolWithConfig(toolName, toolConfig)
		case "write_file":
			tool, err = NewFileWriterToolWithConfig(toolName, toolConfig)
		case "search_replace":
			tool, err = NewSearchReplaceToolWithConfig(toolName, toolConfig)
		case "read_file":
			tool, err = NewReadFileToolWithConfig(toolName, toolConfig)
		case "apply_patch":
			tool, err = NewApplyPatchToolWithConfig(toolName, toolConfig)
		case "grep_search":
			tool, err = NewGrepSearchToolWithConfig(toolName, toolConfig)
		case "web_request":
			tool, err = NewWebRequestToolWithConfig(toolName, toolConfig)
		case "todo":
			tool = NewTodoTool()
		case "validate_file_path":
			tool, err = NewValidateFilePathToolWithConfig(toolName, toolConfig)
		case "list_files", "list_directories", "file_exists", "get_file_info", "create_directory", "delete_file":
			tool, err = fsToolConstructor(toolConfig.Type)(toolName, toolConfig)
		case "run_pytest", "execute_python_code":
			tool, err = execToolConstructor(toolConfig.Type)(toolName, toolConfig)
		case "get_memory_state":
			tool = NewGetMemoryStateTool(sharedMemoryStore())
		case "get_feature_details":
			tool = NewGetFeatureDetailsTool(sharedMemoryStore())
		case "get_goal_details":
			tool = NewGetGoalDetailsTool(sharedMemoryStore())
		case "update_feature_status":
			tool = NewUpdateFeatureStatusTool(sharedMemoryStore())
		case "log_progress":
			tool = NewLogProgressTool(sharedMemoryStore())
		case "add_test_result":
			tool = NewAddTestResultTool(sharedMemoryStore())
		case "agent_call":

			var registry AgentRegistry
			if agentRegistry != nil {
				if ar, ok := agentRegistry.(AgentRegistry); ok {
					registry = ar
				}
			}

			if registry == nil {
				return nil, fmt.Errorf("agent_call tool requires agent registry but none was provided")
			}
			tool = NewAgentCallTool(registry)
		default:
			fmt.Printf("Warning: Unknown local tool type '%s' for tool '%s', skipping\n", toolConfig.Type, toolName)
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create tool '%s': %w", toolName, err)
		}

		if err := source.RegisterTool(tool); err != nil {
			return nil, fmt.Errorf("failed to register tool '%s': %w", toolName, err)
		}
	}

	return source, nil
}

func (r *LocalToolSource) GetName() string {
	return r.name
}

func (r *LocalToolSource) GetType() string {
	return "local"
}

func (r *LocalToolSource) RegisterTool(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.GetName()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered in source %s", name, r.name)
	}

	r.tools[name] = tool

	return nil
}

func (r *LocalToolSource) DiscoverTools(ctx context.Context) error {

	r.mu.RLock()
	defer r.mu.RUnlock()

	return nil
}

func (r *LocalToolSource) ListTools() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []ToolInfo
	for _, tool := range r.tools {
		info := tool.GetInfo()

		info.ServerURL = r.name
		tools = append(tools, info)
	}

	return tools
}

func (r *LocalToolSource) GetTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

func (r *LocalToolSource) RemoveTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found in source %s", name, r.name)
	}

	delete(r.tools, name)
	return nil
}
