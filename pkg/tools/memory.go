package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// MEMORY / FEATURE TRACKING TOOLS
// ============================================================================
//
// Where TodoTool tracks one flat, short-lived task list per session, these
// six tools track a longer-lived, two-level structure — goals broken into
// features, each feature carrying its own status, a running progress log,
// and recorded test results — so the memory specialist can answer "what's
// the state of X" across many queries instead of just "what's left to do
// right now". State is held in-process per session, the same
// sessionID-keyed sync.RWMutex map TodoTool uses; nothing here is
// persisted across restarts.

// ProgressEntry is one freeform note appended by log_progress.
type ProgressEntry struct {
	Time string `json:"time"`
	Note string `json:"note"`
}

// TestResult is one outcome recorded by add_test_result.
type TestResult struct {
	Time   string `json:"time"`
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Feature tracks one unit of work toward a Goal.
type Feature struct {
	ID          string          `json:"id"`
	GoalID      string          `json:"goal_id,omitempty"`
	Title       string          `json:"title"`
	Status      string          `json:"status"` // not_started, in_progress, blocked, done
	Progress    []ProgressEntry `json:"progress,omitempty"`
	TestResults []TestResult    `json:"test_results,omitempty"`
}

// Goal is a durable top-level objective, broken into Features.
type Goal struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type projectMemory struct {
	goals    map[string]*Goal
	features map[string]*Feature
}

func newProjectMemory() *projectMemory {
	return &projectMemory{goals: make(map[string]*Goal), features: make(map[string]*Feature)}
}

// MemoryStore is the shared, session-scoped state all six memory/
// feature-tracking tools read and mutate through.
type MemoryStore struct {
	mu    sync.RWMutex
	state map[string]*projectMemory
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string]*projectMemory)}
}

func (m *MemoryStore) memoryFor(sessionID string) *projectMemory {
	pm, ok := m.state[sessionID]
	if !ok {
		pm = newProjectMemory()
		m.state[sessionID] = pm
	}
	return pm
}

func memorySessionID(ctx context.Context) string {
	if sid, ok := ctx.Value("session_id").(string); ok && sid != "" {
		return sid
	}
	return "default"
}

func nowStamp() string { return time.Now().Format(time.RFC3339) }

func memoryErrorResult(name string, err error) (ToolResult, error) {
	return ToolResult{Success: false, Error: err.Error(), ToolName: name}, nil
}

func memoryJSONResult(name string, v interface{}) (ToolResult, error) {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return memoryErrorResult(name, err)
	}
	return ToolResult{Success: true, Content: string(blob), ToolName: name}, nil
}

// GetMemoryStateTool is get_memory_state: dumps every goal and feature
// currently tracked for the session.
type GetMemoryStateTool struct{ store *MemoryStore }

func NewGetMemoryStateTool(store *MemoryStore) *GetMemoryStateTool { return &GetMemoryStateTool{store: store} }

func (t *GetMemoryStateTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "get_memory_state",
		Description: "Return every goal and feature currently tracked for this session, with their status, progress log, and test results.",
		ServerURL:   "local",
	}
}
func (t *GetMemoryStateTool) GetName() string        { return "get_memory_state" }
func (t *GetMemoryStateTool) GetDescription() string { return "Dump the full goal/feature memory state" }
func (t *GetMemoryStateTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	pm := t.store.memoryFor(memorySessionID(ctx))
	return memoryJSONResult("get_memory_state", struct {
		Goals    map[string]*Goal    `json:"goals"`
		Features map[string]*Feature `json:"features"`
	}{Goals: pm.goals, Features: pm.features})
}

// GetFeatureDetailsTool is get_feature_details.
type GetFeatureDetailsTool struct{ store *MemoryStore }

func NewGetFeatureDetailsTool(store *MemoryStore) *GetFeatureDetailsTool {
	return &GetFeatureDetailsTool{store: store}
}

func (t *GetFeatureDetailsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "get_feature_details",
		Description: "Return the full record for one feature by id: status, progress log, test results.",
		Parameters: []ToolParameter{
			{Name: "feature_id", Type: "string", Description: "Feature identifier", Required: true},
		},
		ServerURL: "local",
	}
}
func (t *GetFeatureDetailsTool) GetName() string { return "get_feature_details" }
func (t *GetFeatureDetailsTool) GetDescription() string {
	return "Look up one feature's status, progress, and test results"
}
func (t *GetFeatureDetailsTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	id, _ := args["feature_id"].(string)
	if id == "" {
		return memoryErrorResult("get_feature_details", fmt.Errorf("feature_id is required"))
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	pm := t.store.memoryFor(memorySessionID(ctx))
	f, ok := pm.features[id]
	if !ok {
		return memoryErrorResult("get_feature_details", fmt.Errorf("unknown feature %q", id))
	}
	return memoryJSONResult("get_feature_details", f)
}

// GetGoalDetailsTool is get_goal_details.
type GetGoalDetailsTool struct{ store *MemoryStore }

func NewGetGoalDetailsTool(store *MemoryStore) *GetGoalDetailsTool { return &GetGoalDetailsTool{store: store} }

func (t *GetGoalDetailsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "get_goal_details",
		Description: "Return one goal's title and description, plus the features tracked under it.",
		Parameters: []ToolParameter{
			{Name: "goal_id", Type: "string", Description: "Goal identifier", Required: true},
		},
		ServerURL: "local",
	}
}
func (t *GetGoalDetailsTool) GetName() string        { return "get_goal_details" }
func (t *GetGoalDetailsTool) GetDescription() string { return "Look up one goal and its features" }
func (t *GetGoalDetailsTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	id, _ := args["goal_id"].(string)
	if id == "" {
		return memoryErrorResult("get_goal_details", fmt.Errorf("goal_id is required"))
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	pm := t.store.memoryFor(memorySessionID(ctx))
	g, ok := pm.goals[id]
	if !ok {
		return memoryErrorResult("get_goal_details", fmt.Errorf("unknown goal %q", id))
	}
	var features []*Feature
	for _, f := range pm.features {
		if f.GoalID == id {
			features = append(features, f)
		}
	}
	return memoryJSONResult("get_goal_details", struct {
		Goal     *Goal      `json:"goal"`
		Features []*Feature `json:"features"`
	}{Goal: g, Features: features})
}

// UpdateFeatureStatusTool is update_feature_status: creates the feature on
// first use (and, if given, the goal it belongs to), otherwise just moves
// its status.
type UpdateFeatureStatusTool struct{ store *MemoryStore }

func NewUpdateFeatureStatusTool(store *MemoryStore) *UpdateFeatureStatusTool {
	return &UpdateFeatureStatusTool{store: store}
}

var validFeatureStatuses = map[string]bool{"not_started": true, "in_progress": true, "blocked": true, "done": true}

func (t *UpdateFeatureStatusTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "update_feature_status",
		Description: "Create or update a feature's status (not_started, in_progress, blocked, done). Creates the feature if it doesn't exist yet.",
		Parameters: []ToolParameter{
			{Name: "feature_id", Type: "string", Description: "Feature identifier", Required: true},
			{Name: "status", Type: "string", Description: "New status", Required: true, Enum: []string{"not_started", "in_progress", "blocked", "done"}},
			{Name: "title", Type: "string", Description: "Feature title (used when creating)", Required: false},
			{Name: "goal_id", Type: "string", Description: "Goal this feature belongs to (used when creating)", Required: false},
		},
		ServerURL: "local",
	}
}
func (t *UpdateFeatureStatusTool) GetName() string { return "update_feature_status" }
func (t *UpdateFeatureStatusTool) GetDescription() string {
	return "Create or update a feature's tracked status"
}
func (t *UpdateFeatureStatusTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	id, _ := args["feature_id"].(string)
	status, _ := args["status"].(string)
	if id == "" || status == "" {
		return memoryErrorResult("update_feature_status", fmt.Errorf("feature_id and status are required"))
	}
	if !validFeatureStatuses[status] {
		return memoryErrorResult("update_feature_status", fmt.Errorf("invalid status %q", status))
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	pm := t.store.memoryFor(memorySessionID(ctx))
	f, ok := pm.features[id]
	if !ok {
		title, _ := args["title"].(string)
		if title == "" {
			title = id
		}
		goalID, _ := args["goal_id"].(string)
		f = &Feature{ID: id, Title: title, GoalID: goalID}
		pm.features[id] = f
	}
	f.Status = status
	return memoryJSONResult("update_feature_status", f)
}

// LogProgressTool is log_progress: appends a timestamped note to an
// existing feature.
type LogProgressTool struct{ store *MemoryStore }

func NewLogProgressTool(store *MemoryStore) *LogProgressTool { return &LogProgressTool{store: store} }

func (t *LogProgressTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "log_progress",
		Description: "Append a timestamped progress note to an existing feature.",
		Parameters: []ToolParameter{
			{Name: "feature_id", Type: "string", Description: "Feature identifier", Required: true},
			{Name: "note", Type: "string", Description: "Progress note", Required: true},
		},
		ServerURL: "local",
	}
}
func (t *LogProgressTool) GetName() string        { return "log_progress" }
func (t *LogProgressTool) GetDescription() string { return "Append a progress note to a feature" }
func (t *LogProgressTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	id, _ := args["feature_id"].(string)
	note, _ := args["note"].(string)
	if id == "" || note == "" {
		return memoryErrorResult("log_progress", fmt.Errorf("feature_id and note are required"))
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	pm := t.store.memoryFor(memorySessionID(ctx))
	f, ok := pm.features[id]
	if !ok {
		return memoryErrorResult("log_progress", fmt.Errorf("unknown feature %q", id))
	}
	f.Progress = append(f.Progress, ProgressEntry{Time: nowStamp(), Note: note})
	return memoryJSONResult("log_progress", f)
}

// AddTestResultTool is add_test_result: records one test outcome against a
// feature.
type AddTestResultTool struct{ store *MemoryStore }

func NewAddTestResultTool(store *MemoryStore) *AddTestResultTool { return &AddTestResultTool{store: store} }

func (t *AddTestResultTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "add_test_result",
		Description: "Record one test outcome (name, pass/fail, optional detail) against an existing feature.",
		Parameters: []ToolParameter{
			{Name: "feature_id", Type: "string", Description: "Feature identifier", Required: true},
			{Name: "name", Type: "string", Description: "Test name", Required: true},
			{Name: "passed", Type: "boolean", Description: "Whether the test passed", Required: true},
			{Name: "detail", Type: "string", Description: "Optional failure detail or notes", Required: false},
		},
		ServerURL: "local",
	}
}
func (t *AddTestResultTool) GetName() string        { return "add_test_result" }
func (t *AddTestResultTool) GetDescription() string { return "Record a test outcome for a feature" }
func (t *AddTestResultTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	id, _ := args["feature_id"].(string)
	name, _ := args["name"].(string)
	passed, _ := args["passed"].(bool)
	detail, _ := args["detail"].(string)
	if id == "" || name == "" {
		return memoryErrorResult("add_test_result", fmt.Errorf("feature_id and name are required"))
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	pm := t.store.memoryFor(memorySessionID(ctx))
	f, ok := pm.features[id]
	if !ok {
		return memoryErrorResult("add_test_result", fmt.Errorf("unknown feature %q", id))
	}
	f.TestResults = append(f.TestResults, TestResult{Time: nowStamp(), Name: name, Passed: passed, Detail: detail})
	return memoryJSONResult("add_test_result", f)
}
