package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/DiscoClaw/discoclaw-sub001/internal/validate"
)

// Load builds a Config from defaults, an optional config file, and the
// environment, in that order of precedence (environment wins).
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and environment only.
func FromEnv() (Config, error) {
	return Load("")
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := []byte(os.ExpandEnv(string(data)))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		dec := json5.NewDecoder(bytes.NewReader(expanded))
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}
	setMillis := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = time.Duration(n) * time.Millisecond
			}
		}
	}
	setIDList := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = validate.ParseIDList(v)
		}
	}

	setString("DATA_ROOT", &cfg.DataRoot)
	setString("DISCORD_TOKEN", &cfg.DiscordToken)
	setString("PRIMARY_RUNTIME", &cfg.PrimaryRuntime)
	setString("RUNTIME_MODEL", &cfg.RuntimeModel)
	setMillis("RUNTIME_TIMEOUT_MS", &cfg.RuntimeTimeout)
	setInt("MAX_CONCURRENT_INVOCATIONS", &cfg.MaxConcurrentInvocations)
	setBool("USE_RUNTIME_SESSIONS", &cfg.UseRuntimeSessions)
	setIDList("ALLOWED_USER_IDS", &cfg.AllowedUserIDs)
	setIDList("TRUSTED_BOT_IDS", &cfg.TrustedBotIDs)
	setIDList("RESTRICT_CHANNEL_IDS", &cfg.RestrictChannelIDs)
	setInt("MESSAGE_HISTORY_BUDGET", &cfg.MessageHistoryBudget)
	setInt("DURABLE_INJECT_MAX_CHARS", &cfg.DurableInjectMaxChars)
	setInt("SHORTTERM_INJECT_MAX_CHARS", &cfg.ShorttermInjectMax)
	setBool("DISCORD_ACTIONS", &cfg.ActionsEnabled)
	setInt("ACTION_FOLLOWUP_DEPTH", &cfg.FollowupDepth)
	setInt("FORGE_MAX_AUDIT_ROUNDS", &cfg.ForgeMaxAuditRounds)
	setInt("PLAN_PHASE_AUDIT_FIX_MAX", &cfg.PlanAuditFixMax)
	setInt("PLAN_PHASE_MAX_CONTEXT_FILES", &cfg.PlanMaxContextFiles)
	setString("REPO_DIR", &cfg.RepoDir)
	setString("FORGE_DRAFTER_MODEL", &cfg.ForgeDrafterModel)
	setString("FORGE_AUDITOR_MODEL", &cfg.ForgeAuditorModel)
	setString("REACTION_HANDLER", &cfg.ReactionHandler)
	setString("REACTION_REMOVE_HANDLER", &cfg.ReactionRemoveHandler)
	setString("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	setString("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	setString("OPENROUTER_API_KEY", &cfg.OpenRouterAPIKey)
	setString("CLAUDE_BIN", &cfg.ClaudeBin)
	setString("CODEX_BIN", &cfg.CodexBin)
	setString("GEMINI_BIN", &cfg.GeminiBin)
	setString("METRICS_ADDR", &cfg.MetricsAddr)

	if v, ok := os.LookupEnv("REACTION_MAX_AGE_HOURS"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.ReactionMaxAge = time.Duration(n) * time.Hour
		}
	}
	if v, ok := os.LookupEnv("DEFER_MAX_DELAY_SECONDS"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.DeferMaxDelay = time.Duration(n) * time.Second
		}
	}
	setInt("DEFER_MAX_CONCURRENT", &cfg.DeferMaxConcurrent)

	// Per-category flags: DISCORD_ACTIONS_<CATEGORY>=true|false.
	for _, category := range []string{
		"channels", "messaging", "guild", "moderation", "polls", "tasks",
		"crons", "bot_profile", "forge", "plan", "memory", "imagegen",
		"voice", "config", "defer",
	} {
		key := "DISCORD_ACTIONS_" + strings.ToUpper(category)
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				if cfg.ActionCategory == nil {
					cfg.ActionCategory = make(map[string]bool)
				}
				cfg.ActionCategory[category] = b
			}
		}
	}
}
