package session

import (
	"context"
	"fmt"

	"github.com/loomwork/loom/pkg/config"
	"github.com/loomwork/loom/pkg/tools"
)

// scopedToolRegistry presents a *tools.ToolRegistry filtered to what one
// session's config currently allows, plus that session's own
// config-management built-ins (sessionTools) layered on top: a tool named
// in DisabledTools (or explicitly set false in EnabledTools) is hidden and
// refuses execution, and the same applies transitively to every tool
// sourced from a server named in DisabledServers. It satisfies
// agent.ToolRegistry, so ProcessQuery can hand it to the executor in place
// of the registry itself without the registry needing any notion of
// per-session state. Every method runs while ProcessQuery already holds
// s.mu, so the session-tool dispatch below touches s directly rather than
// re-locking it.
type scopedToolRegistry struct {
	session         *Session
	base            *tools.ToolRegistry
	disabledTools   map[string]bool
	disabledServers map[string]bool
}

func newScopedToolRegistry(s *Session, base *tools.ToolRegistry, cfg config.SessionConfig) *scopedToolRegistry {
	disabledTools := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabledTools[name] = true
	}
	for name, enabled := range cfg.EnabledTools {
		if !enabled {
			disabledTools[name] = true
		}
	}
	disabledServers := make(map[string]bool, len(cfg.DisabledServers))
	for _, name := range cfg.DisabledServers {
		disabledServers[name] = true
	}
	return &scopedToolRegistry{session: s, base: base, disabledTools: disabledTools, disabledServers: disabledServers}
}

func (r *scopedToolRegistry) allowed(name string) bool {
	if r.disabledTools[name] {
		return false
	}
	if len(r.disabledServers) == 0 {
		return true
	}
	source, err := r.base.GetToolSource(name)
	if err != nil {
		return true
	}
	return !r.disabledServers[source]
}

func (r *scopedToolRegistry) ListToolsWithFilter(excludeInternal bool) []tools.ToolInfo {
	infos := r.base.ListToolsWithFilter(excludeInternal)
	out := make([]tools.ToolInfo, 0, len(infos)+len(sessionTools))
	for _, info := range infos {
		if r.allowed(info.Name) {
			out = append(out, info)
		}
	}
	for _, t := range sessionTools {
		if r.allowed(t.name) {
			out = append(out, t.GetInfo())
		}
	}
	return out
}

func (r *scopedToolRegistry) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (tools.ToolResult, error) {
	if !r.allowed(name) {
		return tools.ToolResult{Success: false, Error: fmt.Sprintf("tool %q is disabled for this session", name), ToolName: name}, nil
	}
	if t, ok := sessionToolByName(name); ok {
		return t.run(r.session, args)
	}
	return r.base.ExecuteTool(ctx, name, args)
}

func (r *scopedToolRegistry) GetTool(name string) (tools.Tool, error) {
	if !r.allowed(name) {
		return nil, fmt.Errorf("tool %q is disabled for this session", name)
	}
	if t, ok := sessionToolByName(name); ok {
		return t, nil
	}
	return r.base.GetTool(name)
}
