package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DiscoClaw/discoclaw-sub001/internal/config"
	"github.com/DiscoClaw/discoclaw-sub001/internal/lifecycle"
	"github.com/DiscoClaw/discoclaw-sub001/internal/validate"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report configuration and credential problems without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doctor(cmd, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file (YAML or JSON5)")
	return cmd
}

func doctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	report := func(ok bool, name, detail string) {
		mark := "ok"
		if !ok {
			mark = "FAIL"
		}
		fmt.Fprintf(out, "%-4s %-24s %s\n", mark, name, detail)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		report(false, "config", err.Error())
		// Keep going with defaults so the rest of the report is useful.
		cfg = config.Default()
	} else {
		report(true, "config", "loaded and valid")
	}

	if err := validate.CheckToken(cfg.DiscordToken); err != nil {
		report(false, "discord_token", err.Error())
	} else {
		report(true, "discord_token", "shape looks valid")
	}

	if info, err := os.Stat(cfg.DataRoot); err != nil {
		report(false, "data_root", fmt.Sprintf("%s: %v", cfg.DataRoot, err))
	} else if !info.IsDir() {
		report(false, "data_root", cfg.DataRoot+" is not a directory")
	} else {
		report(true, "data_root", cfg.DataRoot)
	}

	for _, bin := range []struct{ name, path string }{
		{"claude_bin", cfg.ClaudeBin},
		{"codex_bin", cfg.CodexBin},
		{"gemini_bin", cfg.GeminiBin},
	} {
		if p, err := exec.LookPath(bin.path); err != nil {
			report(false, bin.name, bin.path+" not found in PATH")
		} else {
			report(true, bin.name, p)
		}
	}

	if cfg.OpenAIAPIKey == "" {
		report(true, "openai_api_key", "unset (imagegen and voice disabled)")
	} else {
		report(true, "openai_api_key", "set")
	}
	if cfg.OpenRouterAPIKey == "" {
		report(true, "openrouter_api_key", "unset (openrouter runtime disabled)")
	} else {
		report(true, "openrouter_api_key", "set")
	}

	if len(cfg.AllowedUserIDs) == 0 {
		report(false, "allowed_user_ids", "empty; every message will be ignored")
	} else {
		report(true, "allowed_user_ids", fmt.Sprintf("%d users", len(cfg.AllowedUserIDs)))
	}

	scaffold, err := lifecycle.LoadScaffold(cfg.ScaffoldPath())
	switch {
	case err != nil:
		report(false, "system_scaffold", err.Error())
	case scaffold.CronForumID == "":
		report(true, "system_scaffold", "no cron forum recorded; scheduler will idle")
	default:
		report(true, "system_scaffold", "cron forum "+scaffold.CronForumID)
	}

	modules := filepath.Join(cfg.WorkspaceDir(), "modules")
	if entries, err := os.ReadDir(modules); err != nil || len(entries) == 0 {
		report(false, "context_modules", modules+" missing or empty (seeded on first run)")
	} else {
		report(true, "context_modules", fmt.Sprintf("%d entries", len(entries)))
	}

	return nil
}
