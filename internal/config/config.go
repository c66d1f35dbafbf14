// Package config holds the flat runtime configuration for discoclaw.
//
// Values come from an optional YAML/JSON5 config file overlaid with
// environment variables; environment wins. Validation failures are
// startup-fatal.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/validate"
)

// Config is the validated flat configuration shared across subsystems.
type Config struct {
	// DataRoot is the directory holding all durable state.
	DataRoot string `yaml:"data_root" json:"data_root"`

	// DiscordToken authenticates the chat service session.
	DiscordToken string `yaml:"discord_token" json:"discord_token"`

	// PrimaryRuntime selects the default runtime adapter.
	PrimaryRuntime string `yaml:"primary_runtime" json:"primary_runtime"`

	// RuntimeModel is a concrete model id or a tier alias (fast, capable).
	RuntimeModel string `yaml:"runtime_model" json:"runtime_model"`

	// RuntimeTimeout bounds a single runtime invocation.
	RuntimeTimeout time.Duration `yaml:"runtime_timeout" json:"runtime_timeout"`

	// MaxConcurrentInvocations caps parallel runtime invocations
	// process-wide. Zero means unbounded.
	MaxConcurrentInvocations int `yaml:"max_concurrent_invocations" json:"max_concurrent_invocations"`

	// UseRuntimeSessions enables per-user per-channel session reuse.
	UseRuntimeSessions bool `yaml:"use_runtime_sessions" json:"use_runtime_sessions"`

	// AllowedUserIDs is the user allowlist (fail-closed).
	AllowedUserIDs []string `yaml:"allowed_user_ids" json:"allowed_user_ids"`

	// TrustedBotIDs are bot accounts allowed for specific flows.
	TrustedBotIDs []string `yaml:"trusted_bot_ids" json:"trusted_bot_ids"`

	// RestrictChannelIDs, when non-empty, limits handling to these channels.
	RestrictChannelIDs []string `yaml:"restrict_channel_ids" json:"restrict_channel_ids"`

	// Context budgets, in bytes.
	MessageHistoryBudget  int `yaml:"message_history_budget" json:"message_history_budget"`
	DurableInjectMaxChars int `yaml:"durable_inject_max_chars" json:"durable_inject_max_chars"`
	ShorttermInjectMax    int `yaml:"shortterm_inject_max_chars" json:"shortterm_inject_max_chars"`

	// Actions master switch and per-category flags.
	ActionsEnabled bool            `yaml:"actions_enabled" json:"actions_enabled"`
	ActionCategory map[string]bool `yaml:"action_categories" json:"action_categories"`
	FollowupDepth  int             `yaml:"action_followup_depth" json:"action_followup_depth"`
	EditThrottle   time.Duration   `yaml:"edit_throttle" json:"edit_throttle"`
	TrivialMaxLen  int             `yaml:"trivial_max_len" json:"trivial_max_len"`
	MemoryEnabled  bool            `yaml:"memory_enabled" json:"memory_enabled"`

	// RepoDir is the project repository plan phases edit and commit to.
	RepoDir string `yaml:"repo_dir" json:"repo_dir"`

	// Forge / plan tuning.
	ForgeMaxAuditRounds int    `yaml:"forge_max_audit_rounds" json:"forge_max_audit_rounds"`
	PlanAuditFixMax     int    `yaml:"plan_phase_audit_fix_max" json:"plan_phase_audit_fix_max"`
	PlanMaxContextFiles int    `yaml:"plan_phase_max_context_files" json:"plan_phase_max_context_files"`
	ForgeDrafterModel   string `yaml:"forge_drafter_model" json:"forge_drafter_model"`
	ForgeAuditorModel   string `yaml:"forge_auditor_model" json:"forge_auditor_model"`

	// Reactions.
	ReactionMaxAge        time.Duration `yaml:"reaction_max_age" json:"reaction_max_age"`
	ReactionHandler       string        `yaml:"reaction_handler" json:"reaction_handler"`
	ReactionRemoveHandler string        `yaml:"reaction_remove_handler" json:"reaction_remove_handler"`

	// Defer scheduler bounds.
	DeferMaxDelay      time.Duration `yaml:"defer_max_delay" json:"defer_max_delay"`
	DeferMaxConcurrent int           `yaml:"defer_max_concurrent" json:"defer_max_concurrent"`

	// API credentials for HTTP runtimes.
	OpenAIAPIKey     string `yaml:"openai_api_key" json:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url" json:"openai_base_url"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key" json:"openrouter_api_key"`

	// CLI runtime binaries.
	ClaudeBin string `yaml:"claude_bin" json:"claude_bin"`
	CodexBin  string `yaml:"codex_bin" json:"codex_bin"`
	GeminiBin string `yaml:"gemini_bin" json:"gemini_bin"`

	// MetricsAddr, when set, serves the prometheus registry.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Default returns a Config populated with the documented defaults.
func Default() Config {
	return Config{
		DataRoot:             "data",
		PrimaryRuntime:       "claude",
		RuntimeModel:         "capable",
		RuntimeTimeout:       30 * time.Minute,
		UseRuntimeSessions:   true,
		MessageHistoryBudget: 16 * 1024,
		DurableInjectMaxChars: 4 * 1024,
		ShorttermInjectMax:   4 * 1024,
		ActionsEnabled:       true,
		FollowupDepth:        3,
		EditThrottle:         time.Second,
		TrivialMaxLen:        12,
		MemoryEnabled:        true,
		RepoDir:              ".",
		ForgeMaxAuditRounds:  5,
		PlanAuditFixMax:      3,
		PlanMaxContextFiles:  5,
		ReactionMaxAge:       24 * time.Hour,
		DeferMaxDelay:        1800 * time.Second,
		DeferMaxConcurrent:   5,
		ClaudeBin:            "claude",
		CodexBin:             "codex",
		GeminiBin:            "gemini",
	}
}

// KnownRuntimes is the closed set of runtime adapter ids.
var KnownRuntimes = []string{"claude", "openai", "openrouter", "codex", "gemini"}

// Validate checks the configuration. An error here aborts startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataRoot) == "" {
		return fmt.Errorf("config: data_root is required")
	}
	if err := validate.CheckToken(c.DiscordToken); err != nil {
		return fmt.Errorf("config: discord_token: %w", err)
	}
	known := false
	for _, id := range KnownRuntimes {
		if c.PrimaryRuntime == id {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("config: unknown primary_runtime %q", c.PrimaryRuntime)
	}
	if c.RuntimeTimeout <= 0 {
		return fmt.Errorf("config: runtime_timeout must be positive")
	}
	if c.MaxConcurrentInvocations < 0 {
		return fmt.Errorf("config: max_concurrent_invocations must be >= 0")
	}
	if c.FollowupDepth < 0 {
		return fmt.Errorf("config: action_followup_depth must be >= 0")
	}
	for _, id := range c.AllowedUserIDs {
		if err := validate.CheckSnowflake(id); err != nil {
			return fmt.Errorf("config: allowed_user_ids entry %q: %w", id, err)
		}
	}
	for _, id := range c.RestrictChannelIDs {
		if err := validate.CheckSnowflake(id); err != nil {
			return fmt.Errorf("config: restrict_channel_ids entry %q: %w", id, err)
		}
	}
	return nil
}

// CategoryEnabled reports whether an action category is enabled. Categories
// default to the master switch when no per-category flag is set.
func (c *Config) CategoryEnabled(category string) bool {
	if !c.ActionsEnabled {
		return false
	}
	if v, ok := c.ActionCategory[category]; ok {
		return v
	}
	return true
}

// Derived paths under the data root.

func (c *Config) PIDLockDir() string       { return filepath.Join(c.DataRoot, "discoclaw.pid.lock") }
func (c *Config) BootMarkerPath() string   { return filepath.Join(c.DataRoot, ".boot-marker") }
func (c *Config) InflightPath() string     { return filepath.Join(c.DataRoot, "inflight.json") }
func (c *Config) ScaffoldPath() string     { return filepath.Join(c.DataRoot, "system-scaffold.json") }
func (c *Config) SessionsPath() string     { return filepath.Join(c.DataRoot, "sessions.json") }
func (c *Config) MemoryDir() string        { return filepath.Join(c.DataRoot, "memory") }
func (c *Config) TasksPath() string        { return filepath.Join(c.DataRoot, "tasks", "tasks.jsonl") }
func (c *Config) TaskTagMapPath() string   { return filepath.Join(c.DataRoot, "tasks", "tag-map.json") }
func (c *Config) CronDir() string          { return filepath.Join(c.DataRoot, "cron") }
func (c *Config) CronLocksDir() string     { return filepath.Join(c.DataRoot, "cron", "locks") }
func (c *Config) CronStatsPath() string    { return filepath.Join(c.DataRoot, "cron", "cron-run-stats.json") }
func (c *Config) CronTagMapPath() string   { return filepath.Join(c.DataRoot, "cron", "tag-map.json") }
func (c *Config) WorkspaceDir() string     { return filepath.Join(c.DataRoot, "workspace") }
func (c *Config) PlansDir() string         { return filepath.Join(c.WorkspaceDir(), "plans") }
func (c *Config) PlanTemplatePath() string { return filepath.Join(c.WorkspaceDir(), ".plan-template.md") }
func (c *Config) ShutdownContextPath() string {
	return filepath.Join(c.DataRoot, "shutdown-context.json")
}
