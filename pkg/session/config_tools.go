package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomwork/loom/pkg/tools"
)

// sessionTool is a tools.Tool bound to the *Session it reports on or
// mutates. get_config, update_config_section, get_system_prompt,
// set_system_prompt, and list_mcp_servers all need the live, mutex-guarded
// SessionConfig and server catalog rather than anything the process-wide
// tool registry holds, so the scoped view built for ProcessQuery serves
// them directly instead of registering them as ordinary tools.Tool entries
// in the shared registry. Every run closure assumes s.mu is already held —
// true whenever it's reached through ProcessQuery, which holds the session
// lock for the pipeline's entire duration.
type sessionTool struct {
	name        string
	description string
	params      []tools.ToolParameter
	run         func(s *Session, args map[string]interface{}) (tools.ToolResult, error)
}

func (t sessionTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{Name: t.name, Description: t.description, Parameters: t.params, ServerURL: "session"}
}
func (t sessionTool) GetName() string        { return t.name }
func (t sessionTool) GetDescription() string { return t.description }

// Execute exists only to satisfy tools.Tool; these tools are always
// dispatched through scopedToolRegistry.ExecuteTool, which has the *Session
// the run closure needs and this stub never does.
func (t sessionTool) Execute(context.Context, map[string]interface{}) (tools.ToolResult, error) {
	return tools.ToolResult{}, fmt.Errorf("%s must be executed within a session", t.name)
}

var sessionTools = []sessionTool{
	{
		name:        "get_config",
		description: "Return the session's current configuration: model, mode, and tool/server enablement.",
		run: func(s *Session, _ map[string]interface{}) (tools.ToolResult, error) {
			blob, err := json.MarshalIndent(s.cfg, "", "  ")
			if err != nil {
				return tools.ToolResult{Success: false, Error: err.Error(), ToolName: "get_config"}, err
			}
			return tools.ToolResult{Success: true, Content: string(blob), ToolName: "get_config"}, nil
		},
	},
	{
		name:        "update_config_section",
		description: "Merge a patch of fields into one top-level section of the session configuration (e.g. agentSettings, contextSettings, displaySettings).",
		params: []tools.ToolParameter{
			{Name: "section", Type: "string", Description: "Section name as it appears in the config JSON, e.g. agentSettings", Required: true},
			{Name: "patch", Type: "object", Description: "Fields to merge into that section", Required: true},
		},
		run: func(s *Session, args map[string]interface{}) (tools.ToolResult, error) {
			section, _ := args["section"].(string)
			patch, _ := args["patch"].(map[string]interface{})
			if section == "" || patch == nil {
				err := fmt.Errorf("section and patch are required")
				return tools.ToolResult{Success: false, Error: err.Error(), ToolName: "update_config_section"}, err
			}
			if err := s.updateConfigSection(section, patch); err != nil {
				return tools.ToolResult{Success: false, Error: err.Error(), ToolName: "update_config_section"}, err
			}
			return tools.ToolResult{Success: true, Content: fmt.Sprintf("updated %s", section), ToolName: "update_config_section"}, nil
		},
	},
	{
		name:        "get_system_prompt",
		description: "Return the session's current system prompt override, if one has been set.",
		run: func(s *Session, _ map[string]interface{}) (tools.ToolResult, error) {
			return tools.ToolResult{Success: true, Content: s.cfg.SystemPrompt, ToolName: "get_system_prompt"}, nil
		},
	},
	{
		name:        "set_system_prompt",
		description: "Replace the session's system prompt override for the remainder of the session.",
		params: []tools.ToolParameter{
			{Name: "prompt", Type: "string", Description: "New system prompt text", Required: true},
		},
		run: func(s *Session, args map[string]interface{}) (tools.ToolResult, error) {
			prompt, _ := args["prompt"].(string)
			s.cfg.SystemPrompt = prompt
			return tools.ToolResult{Success: true, Content: "system prompt updated", ToolName: "set_system_prompt"}, nil
		},
	},
	{
		name:        "list_mcp_servers",
		description: "List the session's configured tool servers and whether each is currently active.",
		run: func(s *Session, _ map[string]interface{}) (tools.ToolResult, error) {
			active := map[string]bool{}
			for _, d := range s.activeServersLocked() {
				active[d.Name] = true
			}
			type row struct {
				Name      string `json:"name"`
				Transport string `json:"transport"`
				Active    bool   `json:"active"`
			}
			rows := make([]row, 0, len(s.catalog))
			for name, desc := range s.catalog {
				rows = append(rows, row{Name: name, Transport: string(desc.Transport), Active: active[name]})
			}
			blob, err := json.MarshalIndent(rows, "", "  ")
			if err != nil {
				return tools.ToolResult{Success: false, Error: err.Error(), ToolName: "list_mcp_servers"}, err
			}
			return tools.ToolResult{Success: true, Content: string(blob), ToolName: "list_mcp_servers"}, nil
		},
	},
}

func sessionToolByName(name string) (sessionTool, bool) {
	for _, t := range sessionTools {
		if t.name == name {
			return t, true
		}
	}
	return sessionTool{}, false
}
