// Package config defines the runtime's configuration types and loads them
// from a YAML file through a provider.Provider. It deliberately does not
// attempt durable session persistence beyond the single JSON document
// described by SessionConfig: reload is a full re-read, not an incremental
// merge.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loomwork/loom/pkg/config/provider"
)

// ThinkingConfig enables and bounds a provider's extended-reasoning mode.
type ThinkingConfig struct {
	Enabled      bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	BudgetTokens int  `yaml:"budget_tokens,omitempty" json:"budget_tokens,omitempty"`
}

// LLMProviderConfig configures a single model endpoint.
type LLMProviderConfig struct {
	Type        string          `yaml:"type" json:"type"` // openai, anthropic, gemini, ollama
	Model       string          `yaml:"model" json:"model"`
	APIKey      string          `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Host        string          `yaml:"host,omitempty" json:"host,omitempty"`
	Temperature *float64        `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int             `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Thinking    *ThinkingConfig `yaml:"thinking,omitempty" json:"thinking,omitempty"`
	StopWords   []string        `yaml:"stop,omitempty" json:"stop,omitempty"`

	Timeout            int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries         int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelay         int    `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
	CACertificate      string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`
}

// SetDefaults fills in provider-specific defaults for fields left zero.
func (c *LLMProviderConfig) SetDefaults() {
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Type)
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
}

func apiKeyFromEnv(providerType string) string {
	switch providerType {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}

// TransportKind identifies how a server is reached.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable_http"
	TransportBuiltin        TransportKind = "builtin"
)

// ServerDescriptor configures one tool server: a spawned subprocess speaking
// the stdio line protocol, or an HTTP-class endpoint. Exactly one of the
// command/URL field groups is meaningful, selected by Transport.
type ServerDescriptor struct {
	Name      string            `yaml:"name" json:"name"`
	Transport TransportKind     `yaml:"transport" json:"transport"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Disabled and Enabled are both accepted on load (the source material
	// is inconsistent about which one it writes) and normalized into a
	// single Enabled() result at load time.
	Disabled *bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Enabled_ *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Enabled normalizes the disabled/enabled pair: a server is enabled unless
// explicitly disabled, regardless of which field the document used.
func (s *ServerDescriptor) Enabled() bool {
	if s.Disabled != nil && *s.Disabled {
		return false
	}
	if s.Enabled_ != nil && !*s.Enabled_ {
		return false
	}
	return true
}

// NormalizeHeaders lowercases every header key, last write wins.
func (s *ServerDescriptor) NormalizeHeaders() map[string]string {
	out := make(map[string]string, len(s.Headers))
	for k, v := range s.Headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ReadFileConfig bounds the read_file built-in.
type ReadFileConfig struct {
	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	MaxFileSize      int    `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	MaxLines         int    `yaml:"max_lines,omitempty" json:"max_lines,omitempty"`
	ShowLineNumbers  *bool  `yaml:"show_line_numbers,omitempty" json:"show_line_numbers,omitempty"`
}

func (c *ReadFileConfig) SetDefaults() {
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "."
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10 * 1024 * 1024
	}
	if c.MaxLines == 0 {
		c.MaxLines = 2000
	}
	if c.ShowLineNumbers == nil {
		c.ShowLineNumbers = BoolPtr(true)
	}
}

// CommandToolsConfig bounds execute_command.
type CommandToolsConfig struct {
	WorkingDirectory string        `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	AllowedCommands  []string      `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"`
	EnableSandboxing *bool         `yaml:"enable_sandboxing,omitempty" json:"enable_sandboxing,omitempty"`
}

func (c *CommandToolsConfig) SetDefaults() {
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "."
	}
	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = 30 * time.Second
	}
	if c.EnableSandboxing == nil {
		c.EnableSandboxing = BoolPtr(true)
	}
}

// FileWriterConfig bounds the write_file built-in.
type FileWriterConfig struct {
	MaxFileSize       int      `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty" json:"allowed_extensions,omitempty"`
	DeniedExtensions  []string `yaml:"denied_extensions,omitempty" json:"denied_extensions,omitempty"`
	BackupOnOverwrite bool     `yaml:"backup_on_overwrite,omitempty" json:"backup_on_overwrite,omitempty"`
	WorkingDirectory  string   `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
}

func (c *FileWriterConfig) SetDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 1048576
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
}

// ApplyPatchConfig bounds the apply_patch built-in.
type ApplyPatchConfig struct {
	MaxFileSize      int    `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	CreateBackup     *bool  `yaml:"create_backup,omitempty" json:"create_backup,omitempty"`
	ContextLines     int    `yaml:"context_lines,omitempty" json:"context_lines,omitempty"`
	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
}

func (c *ApplyPatchConfig) SetDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10485760
	}
	if c.ContextLines == 0 {
		c.ContextLines = 3
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.CreateBackup == nil {
		c.CreateBackup = BoolPtr(true)
	}
}

// GrepSearchConfig bounds the grep_search built-in.
type GrepSearchConfig struct {
	MaxResults       int    `yaml:"max_results,omitempty" json:"max_results,omitempty"`
	MaxFileSize      int    `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	ContextLines     int    `yaml:"context_lines,omitempty" json:"context_lines,omitempty"`
}

func (c *GrepSearchConfig) SetDefaults() {
	if c.MaxResults == 0 {
		c.MaxResults = 1000
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10485760
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.ContextLines == 0 {
		c.ContextLines = 2
	}
}

// SearchReplaceConfig bounds the search_replace built-in.
type SearchReplaceConfig struct {
	MaxReplacements  int    `yaml:"max_replacements,omitempty" json:"max_replacements,omitempty"`
	ShowDiff         *bool  `yaml:"show_diff,omitempty" json:"show_diff,omitempty"`
	CreateBackup     *bool  `yaml:"create_backup,omitempty" json:"create_backup,omitempty"`
	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
}

func (c *SearchReplaceConfig) SetDefaults() {
	if c.MaxReplacements == 0 {
		c.MaxReplacements = 100
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.ShowDiff == nil {
		c.ShowDiff = BoolPtr(true)
	}
	if c.CreateBackup == nil {
		c.CreateBackup = BoolPtr(true)
	}
}

// ToolConfig is the generic per-tool configuration entry used by the local
// and MCP tool sources. Only the fields relevant to a tool's Type are
// populated; the rest are left zero.
type ToolConfig struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Enabled     *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`

	// File tools (read_file, write_file, apply_patch, grep_search)
	MaxFileSize       int64    `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty" json:"allowed_extensions,omitempty"`
	DeniedExtensions  []string `yaml:"denied_extensions,omitempty" json:"denied_extensions,omitempty"`
	ContextLines      int      `yaml:"context_lines,omitempty" json:"context_lines,omitempty"`
	MaxResults        int      `yaml:"max_results,omitempty" json:"max_results,omitempty"`
	MaxReplacements   int      `yaml:"max_replacements,omitempty" json:"max_replacements,omitempty"`

	// Command tool
	AllowedCommands  []string `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`
	EnableSandboxing *bool    `yaml:"enable_sandboxing,omitempty" json:"enable_sandboxing,omitempty"`
	MaxExecutionTime string   `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"`

	// Web request tool
	Timeout         string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	AllowRedirects  *bool    `yaml:"allow_redirects,omitempty" json:"allow_redirects,omitempty"`
	MaxRetries      int      `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	MaxRequestSize  int64    `yaml:"max_request_size,omitempty" json:"max_request_size,omitempty"`
	MaxResponseSize int64    `yaml:"max_response_size,omitempty" json:"max_response_size,omitempty"`
	AllowedDomains  []string `yaml:"allowed_domains,omitempty" json:"allowed_domains,omitempty"`
	DeniedDomains   []string `yaml:"denied_domains,omitempty" json:"denied_domains,omitempty"`
	AllowedMethods  []string `yaml:"allowed_methods,omitempty" json:"allowed_methods,omitempty"`
	MaxRedirects    int      `yaml:"max_redirects,omitempty" json:"max_redirects,omitempty"`
	UserAgent       string   `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`

	// MCP source
	ServerURL          string `yaml:"server_url,omitempty" json:"server_url,omitempty"`
	Internal           *bool  `yaml:"internal,omitempty" json:"internal,omitempty"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
	CACertificate      string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`

	// Config is a generic escape hatch for tools whose shape doesn't
	// warrant a dedicated field set (e.g. generate_image).
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// BoolPtr returns a pointer to b, for populating *bool config fields inline.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue dereferences p, returning def if p is nil.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Mode is the session-level plan/act switch.
type Mode string

const (
	ModePlan Mode = "plan"
	ModeAct  Mode = "act"
)

// SessionConfig is the persisted per-session state described in the
// external interfaces section: model choice, tool/server enablement,
// mode, and delegation/trace settings.
type SessionConfig struct {
	Model             string          `yaml:"model" json:"model"`
	EnabledTools      map[string]bool `yaml:"enabledTools,omitempty" json:"enabledTools,omitempty"`
	DisabledTools     []string        `yaml:"disabledTools,omitempty" json:"disabledTools,omitempty"`
	DisabledServers   []string        `yaml:"disabledServers,omitempty" json:"disabledServers,omitempty"`
	ContextSettings   ContextSettings `yaml:"contextSettings,omitempty" json:"contextSettings,omitempty"`
	ModelSettings     ModelSettings   `yaml:"modelSettings,omitempty" json:"modelSettings,omitempty"`
	AgentSettings     AgentSettings   `yaml:"agentSettings,omitempty" json:"agentSettings,omitempty"`
	DisplaySettings   DisplaySettings `yaml:"displaySettings,omitempty" json:"displaySettings,omitempty"`
	Delegation        DelegationConfig `yaml:"delegation,omitempty" json:"delegation,omitempty"`
	Mode              Mode            `yaml:"mode,omitempty" json:"mode,omitempty"`
	MCPServers        map[string]ServerDescriptor `yaml:"mcpServers,omitempty" json:"mcpServers,omitempty"`
	MaxParallel       int             `yaml:"maxParallel,omitempty" json:"maxParallel,omitempty"`

	// SystemPrompt is a session-level system prompt override, set and read
	// via the set_system_prompt/get_system_prompt built-ins. ProcessQuery
	// does not pass it to the planner, the specialists or the aggregator;
	// each of those runs with its own AgentSpec system prompt.
	SystemPrompt string `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
}

type ContextSettings struct {
	RetainContext bool `yaml:"retainContext,omitempty" json:"retainContext,omitempty"`
}

type ModelSettings struct {
	ThinkingMode bool `yaml:"thinkingMode,omitempty" json:"thinkingMode,omitempty"`
	ShowThinking bool `yaml:"showThinking,omitempty" json:"showThinking,omitempty"`
}

type AgentSettings struct {
	LoopLimit int `yaml:"loopLimit,omitempty" json:"loopLimit,omitempty"`
}

type DisplaySettings struct {
	ShowToolExecution bool `yaml:"showToolExecution,omitempty" json:"showToolExecution,omitempty"`
	ShowMetrics       bool `yaml:"showMetrics,omitempty" json:"showMetrics,omitempty"`
}

// DelegationConfig controls the Planner-Executor-Aggregator pipeline and the
// trace sink, both of which are opt-in.
type DelegationConfig struct {
	Enabled      bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TraceEnabled bool   `yaml:"trace_enabled,omitempty" json:"trace_enabled,omitempty"`
	TraceLevel   string `yaml:"trace_level,omitempty" json:"trace_level,omitempty"`
	TraceDir     string `yaml:"trace_dir,omitempty" json:"trace_dir,omitempty"`
}

func (s *SessionConfig) SetDefaults() {
	if s.Mode == "" {
		s.Mode = ModeAct
	}
	if s.AgentSettings.LoopLimit == 0 {
		s.AgentSettings.LoopLimit = 5
	}
	if s.MaxParallel == 0 {
		s.MaxParallel = 4
	}
	if s.Delegation.TraceLevel == "" {
		s.Delegation.TraceLevel = "off"
	}
}

// Config is the top-level document: one or more named LLM providers, the
// MCP server catalog, and the default session settings a new session is
// seeded from.
type Config struct {
	LLMs       map[string]LLMProviderConfig `yaml:"llms" json:"llms"`
	MCPServers map[string]ServerDescriptor  `yaml:"mcpServers,omitempty" json:"mcpServers,omitempty"`
	Session    SessionConfig                `yaml:"session,omitempty" json:"session,omitempty"`
	ReadFile   ReadFileConfig               `yaml:"read_file,omitempty" json:"read_file,omitempty"`
	Command    CommandToolsConfig           `yaml:"command,omitempty" json:"command,omitempty"`
	Tools      map[string]*ToolConfig       `yaml:"tools,omitempty" json:"tools,omitempty"`
}

func (c *Config) SetDefaults() {
	for name, p := range c.LLMs {
		p.SetDefaults()
		c.LLMs[name] = p
	}
	c.ReadFile.SetDefaults()
	c.Command.SetDefaults()
	c.Session.SetDefaults()
	if c.Session.MCPServers == nil {
		c.Session.MCPServers = c.MCPServers
	}
}

// Loader owns a provider.Provider and parses its bytes into a Config,
// optionally re-parsing on every change notification.
type Loader struct {
	source   provider.Provider
	onChange func(*Config)
}

type LoaderOption func(*Loader)

func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) { l.onChange = fn }
}

func NewLoader(source provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{source: source}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Provider() provider.Provider { return l.source }

func (l *Loader) Load(ctx context.Context) (*Config, error) {
	raw, err := l.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// Watch blocks, reloading and invoking onChange on every change signal from
// the underlying provider, until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	ch, err := l.source.Watch(ctx)
	if err != nil {
		return err
	}
	if ch == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			cfg, err := l.Load(ctx)
			if err != nil {
				continue
			}
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

func (l *Loader) Close() error {
	return l.source.Close()
}

// LoadConfigFile loads and parses a YAML config file, returning a Loader
// the caller can use later for Watch.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	p, err := provider.NewFileProvider(path)
	if err != nil {
		return nil, nil, err
	}
	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}
