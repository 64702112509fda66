// Package session implements the runtime's session boundary: the
// mutex-guarded per-conversation state (model choice, tool/server
// enablement, plan/act mode) that every CLI command and dispatcher run
// operates against, plus a SQL-backed store for persisting it across
// restarts.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomwork/loom/pkg/agent"
	"github.com/loomwork/loom/pkg/aggregator"
	"github.com/loomwork/loom/pkg/config"
	"github.com/loomwork/loom/pkg/dispatcher"
	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/planner"
	"github.com/loomwork/loom/pkg/reasoning"
	"github.com/loomwork/loom/pkg/tools"
	"github.com/loomwork/loom/pkg/trace"
)

// ErrSessionNotFound is returned when a session ID has no matching row.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned by any operation invoked after CloseSession.
var ErrSessionClosed = errors.New("session closed")

// Session is one conversation's mutable runtime state. Every operation in
// the external interface (process_query, set_model, set_tool_enabled, ...)
// is serialized through mu, matching a single writer's view of the session
// even when invoked concurrently from multiple CLI/transport goroutines.
type Session struct {
	id        string
	createdAt time.Time

	mu      sync.Mutex
	cfg     config.SessionConfig
	catalog map[string]config.ServerDescriptor
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc

	llmRegistry  *llms.LLMRegistry
	toolRegistry *tools.ToolRegistry
	history      *agent.MemoryHistory
	sink         trace.Sink
}

// NewSession starts a session seeded from the given defaults and server
// catalog, against an already-populated LLM registry and tool registry. A
// nil sink defaults to trace.Noop(), matching the trace log's opt-in
// nature. The returned context is cancelled by CloseSession and should be
// threaded through every dispatcher run and tool call this session issues.
func NewSession(parent context.Context, defaults config.SessionConfig, catalog map[string]config.ServerDescriptor, llmRegistry *llms.LLMRegistry, toolRegistry *tools.ToolRegistry, sink trace.Sink) *Session {
	ctx, cancel := context.WithCancel(parent)
	cfg := defaults
	cfg.SetDefaults()
	cloned := make(map[string]config.ServerDescriptor, len(catalog))
	for k, v := range catalog {
		cloned[k] = v
	}
	if sink == nil {
		sink = trace.Noop()
	}
	return &Session{
		id:           uuid.New().String(),
		createdAt:    time.Now(),
		cfg:          cfg,
		catalog:      cloned,
		ctx:          ctx,
		cancel:       cancel,
		llmRegistry:  llmRegistry,
		toolRegistry: toolRegistry,
		history:      agent.NewMemoryHistory(cfg.AgentSettings.LoopLimit * 4),
		sink:         sink,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Context returns the session-scoped context, cancelled on CloseSession.
func (s *Session) Context() context.Context { return s.ctx }

// Snapshot returns a copy of the session's current config, safe to read
// without holding the session's lock further.
func (s *Session) Snapshot() (config.SessionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return config.SessionConfig{}, ErrSessionClosed
	}
	return s.cfg, nil
}

// SetModel switches the named active model for subsequent queries.
func (s *Session) SetModel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.cfg.Model = name
	return nil
}

// SetToolEnabled enables or disables one built-in/registered tool by name.
func (s *Session) SetToolEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.cfg.EnabledTools == nil {
		s.cfg.EnabledTools = make(map[string]bool)
	}
	s.cfg.EnabledTools[name] = enabled
	if enabled {
		s.cfg.DisabledTools = removeString(s.cfg.DisabledTools, name)
	} else if !contains(s.cfg.DisabledTools, name) {
		s.cfg.DisabledTools = append(s.cfg.DisabledTools, name)
	}
	return nil
}

// SetServerEnabled enables or disables one tool server by name. It returns
// an error if the name isn't in the catalog loaded at session creation.
func (s *Session) SetServerEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.catalog[name]; !ok {
		return fmt.Errorf("unknown server %q", name)
	}
	if enabled {
		s.cfg.DisabledServers = removeString(s.cfg.DisabledServers, name)
	} else if !contains(s.cfg.DisabledServers, name) {
		s.cfg.DisabledServers = append(s.cfg.DisabledServers, name)
	}
	return nil
}

// ToggleMode flips between plan and act mode and returns the new mode.
func (s *Session) ToggleMode() (config.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.cfg.Mode == config.ModePlan {
		s.cfg.Mode = config.ModeAct
	} else {
		s.cfg.Mode = config.ModePlan
	}
	return s.cfg.Mode, nil
}

// ReloadServers replaces the session's server catalog, e.g. after a
// fsnotify-triggered config reload. Servers the current config disabled by
// name are preserved across the swap.
func (s *Session) ReloadServers(catalog map[string]config.ServerDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	cloned := make(map[string]config.ServerDescriptor, len(catalog))
	for k, v := range catalog {
		cloned[k] = v
	}
	s.catalog = cloned
	return nil
}

// ActiveServers returns the catalog entries not named in DisabledServers.
func (s *Session) ActiveServers() ([]config.ServerDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.activeServersLocked(), nil
}

// CloseSession cancels the session's context, aborting any in-flight
// dispatcher run or tool call, and marks the session unusable.
func (s *Session) CloseSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
}

// ProcessQuery drives one user query through the full plan/dispatch/
// aggregate pipeline: the planner decomposes it into a task.Plan against
// the closed specialist set, the dispatcher runs that plan's tasks to
// completion honoring the session's plan/act mode, and the aggregator
// synthesizes the settled task.TaskResults into a single user-facing
// reply. Every stage's activity is recorded to the session's trace sink,
// a noop by default. Per spec.md's single-session-serialization rule,
// the whole operation holds the session's lock for its duration — only
// one process_query runs at a time per session. ProcessQuery runs against
// the session's own context (see Context), cancelled by CloseSession,
// rather than one passed in by the caller.
func (s *Session) ProcessQuery(text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}

	provider, err := s.llmRegistry.GetLLM(s.cfg.Model)
	if err != nil {
		return "", fmt.Errorf("resolving session model: %w", err)
	}
	executor := agent.NewExecutor(provider, newScopedToolRegistry(s, s.toolRegistry, s.cfg), s.history)

	plannerCtx := context.WithValue(s.ctx, reasoning.SessionIDKey, s.id+":planner")
	planStart := time.Now()
	plan, err := planner.New(provider, executor).Plan(plannerCtx, text)
	if err != nil {
		s.sink.RecordPlan(plannerCtx, text, "", err.Error(), time.Since(planStart))
		return "", fmt.Errorf("planning query: %w", err)
	}
	for _, t := range plan.Tasks {
		s.sink.RecordTask(plannerCtx, t)
	}
	s.sink.RecordPlan(plannerCtx, text, "", plan.Rationale, time.Since(planStart))

	d := dispatcher.New(executor, dispatcher.Config{
		MaxParallel: s.cfg.MaxParallel,
		Mode:        s.cfg.Mode,
	})
	results, err := d.Run(s.ctx, plan)
	for _, r := range results {
		s.sink.RecordResult(s.ctx, r)
	}
	if err != nil && results == nil {
		return "", fmt.Errorf("dispatching plan: %w", err)
	}

	aggCtx := context.WithValue(s.ctx, reasoning.SessionIDKey, s.id+":aggregator")
	replyStart := time.Now()
	reply, aggErr := aggregator.New(executor).Synthesize(aggCtx, text, results)
	if aggErr != nil {
		return "", fmt.Errorf("synthesizing reply: %w", aggErr)
	}
	s.sink.RecordReply(aggCtx, reply, time.Since(replyStart))

	if !s.cfg.ContextSettings.RetainContext {
		_ = s.history.ClearHistory(s.id + ":planner")
		_ = s.history.ClearHistory(s.id + ":aggregator")
	}

	return reply, nil
}

// updateConfigSection merges patch into one top-level, JSON-tagged section
// of the session's config (e.g. "agentSettings", "contextSettings",
// "displaySettings"). It round-trips through JSON rather than reflecting
// over struct tags by hand, since config.SessionConfig's sections are
// themselves small JSON-tagged structs. Callers must already hold s.mu —
// it's invoked from the update_config_section built-in, which runs while
// ProcessQuery holds the session lock for the pipeline's whole duration.
func (s *Session) updateConfigSection(section string, patch map[string]interface{}) error {
	if s.closed {
		return ErrSessionClosed
	}

	whole, err := json.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("marshaling session config: %w", err)
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(whole, &generic); err != nil {
		return fmt.Errorf("decoding session config: %w", err)
	}
	existing := map[string]interface{}{}
	if raw, ok := generic[section]; ok {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return fmt.Errorf("decoding section %q: %w", section, err)
		}
	}
	for k, v := range patch {
		existing[k] = v
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encoding section %q: %w", section, err)
	}
	generic[section] = merged

	combined, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("encoding session config: %w", err)
	}
	var updated config.SessionConfig
	if err := json.Unmarshal(combined, &updated); err != nil {
		return fmt.Errorf("applying patch to section %q: %w", section, err)
	}
	s.cfg = updated
	return nil
}

// activeServersLocked returns the catalog entries not named in
// DisabledServers. Unlike ActiveServers, it assumes the caller already
// holds s.mu.
func (s *Session) activeServersLocked() []config.ServerDescriptor {
	var out []config.ServerDescriptor
	for name, desc := range s.catalog {
		if !desc.Enabled() || contains(s.cfg.DisabledServers, name) {
			continue
		}
		out = append(out, desc)
	}
	return out
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(ss []string, v string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// Store persists session config across restarts. Backed by database/sql so
// the same implementation works against sqlite, mysql, or postgres —
// whichever driver the caller imported for side effects.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a session store against an already-opened
// *sql.DB. The caller chooses the driver (mattn/go-sqlite3 for the default
// single-node deployment, go-sql-driver/mysql or lib/pq for a networked
// one) by how they obtained db.
func NewStore(db *sql.DB) (*Store, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	mode TEXT NOT NULL,
	config_json TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrating session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts a session's current config snapshot.
func (st *Store) Save(ctx context.Context, id string, cfg config.SessionConfig) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling session config: %w", err)
	}
	now := time.Now()
	_, err = st.db.ExecContext(ctx, `
INSERT INTO sessions (id, model, mode, config_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET model=excluded.model, mode=excluded.mode, config_json=excluded.config_json, updated_at=excluded.updated_at
`, id, cfg.Model, string(cfg.Mode), string(blob), now, now)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

// Load retrieves a persisted session's config by ID.
func (st *Store) Load(ctx context.Context, id string) (config.SessionConfig, error) {
	var blob string
	err := st.db.QueryRowContext(ctx, `SELECT config_json FROM sessions WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return config.SessionConfig{}, ErrSessionNotFound
	}
	if err != nil {
		return config.SessionConfig{}, fmt.Errorf("loading session %s: %w", id, err)
	}
	var cfg config.SessionConfig
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return config.SessionConfig{}, fmt.Errorf("unmarshaling session %s: %w", id, err)
	}
	return cfg, nil
}

// Delete removes a persisted session row.
func (st *Store) Delete(ctx context.Context, id string) error {
	_, err := st.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (st *Store) Close() error {
	return st.db.Close()
}
