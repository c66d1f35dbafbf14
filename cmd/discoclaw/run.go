package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DiscoClaw/discoclaw-sub001/internal/actions"
	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
	"github.com/DiscoClaw/discoclaw-sub001/internal/config"
	"github.com/DiscoClaw/discoclaw-sub001/internal/cron"
	"github.com/DiscoClaw/discoclaw-sub001/internal/deferred"
	"github.com/DiscoClaw/discoclaw-sub001/internal/engine"
	"github.com/DiscoClaw/discoclaw-sub001/internal/forge"
	"github.com/DiscoClaw/discoclaw-sub001/internal/handler"
	"github.com/DiscoClaw/discoclaw-sub001/internal/inflight"
	"github.com/DiscoClaw/discoclaw-sub001/internal/lifecycle"
	"github.com/DiscoClaw/discoclaw-sub001/internal/media"
	"github.com/DiscoClaw/discoclaw-sub001/internal/memory"
	"github.com/DiscoClaw/discoclaw-sub001/internal/metrics"
	"github.com/DiscoClaw/discoclaw-sub001/internal/plan"
	"github.com/DiscoClaw/discoclaw-sub001/internal/tasks"
	"github.com/DiscoClaw/discoclaw-sub001/internal/voice"
)

const (
	shorttermMaxTurns = 30
	shorttermMaxAge   = 24 * time.Hour
	staleLockAge      = 10 * time.Minute
	syncQuietWindow   = 2 * time.Second
	drainTimeout      = 10 * time.Second
)

func buildRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file (YAML or JSON5)")
	return cmd
}

func run(cfg config.Config) error {
	logger := slog.Default().With("component", "main")

	release, err := lifecycle.AcquirePIDLock(cfg.PIDLockDir())
	if err != nil {
		return err
	}
	defer release()

	for _, dir := range []string{
		cfg.CronLocksDir(),
		cfg.PlansDir(),
		cfg.MemoryDir(),
		filepath.Join(cfg.DataRoot, "media"),
		filepath.Join(cfg.WorkspaceDir(), "modules"),
		filepath.Join(cfg.WorkspaceDir(), "channels"),
		filepath.Dir(cfg.TasksPath()),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	first, err := lifecycle.FirstBoot(cfg.BootMarkerPath())
	if err != nil {
		return err
	}
	if first {
		logger.Info("first boot", "data_root", cfg.DataRoot)
		if err := seedWorkspace(cfg.WorkspaceDir()); err != nil {
			return err
		}
	}
	if sc, err := lifecycle.ConsumeShutdownContext(cfg.ShutdownContextPath()); err != nil {
		logger.Warn("shutdown context unreadable", "error", err)
	} else if sc != nil {
		logger.Info("previous shutdown", "at", sc.At, "reason", sc.Reason, "summary", sc.Summary)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	sessions, err := engine.OpenSessions(cfg.SessionsPath())
	if err != nil {
		return err
	}
	limiter := engine.NewLimiter(cfg.MaxConcurrentInvocations)
	registry := engine.NewRegistry()
	registry.Register(engine.NewClaudeRuntime(cfg.ClaudeBin, sessions, engine.WithClaudeLogger(logger)), limiter)
	registry.Register(engine.NewCodexRuntime(cfg.CodexBin, sessions), limiter)
	registry.Register(engine.NewGeminiRuntime(cfg.GeminiBin), limiter)
	if cfg.OpenAIAPIKey != "" {
		registry.Register(engine.NewOpenAIRuntime(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, engine.WithOpenAILogger(logger)), limiter)
	}
	if cfg.OpenRouterAPIKey != "" {
		registry.Register(engine.NewOpenRouterRuntime(cfg.OpenRouterAPIKey, engine.WithOpenAILogger(logger)), limiter)
	}
	if err := registry.SetPrimary(cfg.PrimaryRuntime); err != nil {
		return err
	}

	svc, err := chat.NewDiscord(cfg.DiscordToken, chat.WithLogger(logger))
	if err != nil {
		return err
	}

	durable := memory.NewDurableStore(filepath.Join(cfg.MemoryDir(), "durable"))
	shortterm := memory.NewShortTermStore(filepath.Join(cfg.MemoryDir(), "shortterm"), shorttermMaxTurns, shorttermMaxAge)
	inflightReg := inflight.Open(cfg.InflightPath(), logger)

	store, err := tasks.Open(cfg.TasksPath())
	if err != nil {
		return err
	}
	scaffold, err := lifecycle.LoadScaffold(cfg.ScaffoldPath())
	if err != nil {
		return err
	}

	drafter := cfg.ForgeDrafterModel
	if drafter == "" {
		drafter = cfg.RuntimeModel
	}
	auditor := cfg.ForgeAuditorModel
	if auditor == "" {
		auditor = cfg.RuntimeModel
	}
	projectCtx := filepath.Join(cfg.WorkspaceDir(), "PROJECT.md")
	f := forge.New(registry, store, cfg.PlansDir(), cfg.PlanTemplatePath(), projectCtx,
		cfg.ForgeMaxAuditRounds, drafter, auditor, logger)
	launcher := &forge.Launcher{
		Forge:    f,
		PlansDir: cfg.PlansDir(),
		Notify: func(message string, force bool) {
			logger.Info("forge progress", "message", message, "terminal", force)
		},
	}

	planEngine := plan.NewEngine(registry, &plan.ExecGit{Dir: cfg.RepoDir}, store,
		cfg.WorkspaceDir(), cfg.RepoDir, cfg.PlansDir(), cfg.RuntimeModel,
		cfg.RuntimeTimeout, cfg.PlanAuditFixMax, logger)
	planSvc := &plan.Service{Engine: planEngine, PlansDir: cfg.PlansDir(), MaxContextFiles: cfg.PlanMaxContextFiles}

	baseFlags := configFlags(&cfg)

	locks := &cron.Locks{Dir: cfg.CronLocksDir()}
	stats, err := cron.OpenStats(cfg.CronStatsPath())
	if err != nil {
		return err
	}
	source := &cron.ThreadSource{Chat: svc, ForumID: scaffold.CronForumID, TagMapPath: cfg.CronTagMapPath()}
	cronRunner := &cron.AgentRunner{
		Registry: registry,
		Chat:     svc,
		Flags:    baseFlags.WithoutCronRestricted(),
		Model:    cfg.RuntimeModel,
		Timeout:  cfg.RuntimeTimeout,
		Logger:   logger,
	}
	sched := cron.NewScheduler(source, cronRunner, locks, stats,
		cron.WithLogger(logger), cron.WithMetrics(m))

	deferRunner := &cron.AgentRunner{
		Registry: registry,
		Chat:     svc,
		Flags:    baseFlags,
		Model:    cfg.RuntimeModel,
		Timeout:  cfg.RuntimeTimeout,
		Logger:   logger,
		Purpose:  "defer",
	}
	deferSched := deferred.New(cfg.DeferMaxDelay, cfg.DeferMaxConcurrent, func(channelID, prompt string) {
		fireCtx, cancel := context.WithTimeout(context.Background(), cfg.RuntimeTimeout)
		defer cancel()
		job := &cron.Job{ID: channelID, Name: "deferred reply", Prompt: prompt}
		if err := deferRunner.Run(fireCtx, job); err != nil {
			logger.Error("deferred reply failed", "channel", channelID, "error", err)
		}
	}, logger)

	subs := actions.Subsystems{
		Chat:   svc,
		Tasks:  store,
		Memory: durable,
		Forge:  launcher,
		Plan:   planSvc,
		Cron:   sched,
		Defer:  deferSched,
		Config: config.NewSettings(&cfg),
	}
	if cfg.OpenAIAPIKey != "" {
		mediaDir := filepath.Join(cfg.DataRoot, "media")
		subs.Imagegen = media.NewGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, mediaDir, logger)
		subs.Voice = &voice.Service{
			Synth:  voice.NewOpenAISynth(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, mediaDir),
			Chat:   svc,
			Logger: logger,
		}
	}
	executor := actions.NewExecutor(subs, logger)
	cronRunner.Executor = executor
	deferRunner.Executor = executor

	assembler := &handler.Assembler{
		WorkspaceDir:      cfg.WorkspaceDir(),
		ModulesDir:        filepath.Join(cfg.WorkspaceDir(), "modules"),
		ChannelContextDir: filepath.Join(cfg.WorkspaceDir(), "channels"),
		Durable:           durable,
		Shortterm:         shortterm,
		HistoryBudget:     cfg.MessageHistoryBudget,
		DurableBudget:     cfg.DurableInjectMaxChars,
		ShorttermBudget:   cfg.ShorttermInjectMax,
		Logger:            logger,
	}
	if err := assembler.VerifyRequired(); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	h := handler.New(&cfg, svc, registry, inflightReg, executor, assembler, shortterm, m, logger)
	defer h.Close()

	coord := cron.NewCoordinator(ctx, sched, cfg.CronTagMapPath(), syncQuietWindow, logger)

	svc.OnMessage = func(msg *chat.Message) { h.HandleMessage(ctx, msg) }
	svc.OnThreadChange = func(parentID string) {
		if scaffold.CronForumID != "" && parentID == scaffold.CronForumID {
			coord.NotifyThreadChange()
		}
	}
	if cfg.ReactionHandler != "" {
		svc.OnReaction = reactionCallback(ctx, h, svc, &cfg, logger)
	}

	if err := svc.Connect(ctx); err != nil {
		return err
	}
	defer svc.Close()
	logger.Info("connected", "runtime", cfg.PrimaryRuntime, "model", cfg.RuntimeModel)

	if n := inflightReg.CleanupOrphans(ctx, svc); n > 0 {
		logger.Info("cleaned orphaned placeholders", "count", n)
	}

	if scaffold.CronForumID != "" {
		if err := sched.RecoverInterrupted(staleLockAge); err != nil {
			logger.Warn("cron lock recovery", "error", err)
		}
		if err := sched.Sync(ctx); err != nil {
			logger.Warn("cron sync", "error", err)
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		if err := coord.WatchTagMap(ctx); err != nil {
			logger.Warn("tag map watch unavailable", "error", err)
		}
	} else {
		logger.Warn("no cron forum in system scaffold; scheduler idle")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	h.Close()
	drained := inflightReg.Drain(shutdownCtx, svc, drainTimeout)
	coord.Stop()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("cron stop", "error", err)
	}
	deferSched.Stop()

	summary := fmt.Sprintf("drained %d in-flight replies", drained)
	if err := lifecycle.WriteShutdownContext(cfg.ShutdownContextPath(), "signal", summary); err != nil {
		logger.Warn("shutdown context write", "error", err)
	}
	return nil
}

// configFlags maps the per-category config switches onto an action
// flag set.
func configFlags(cfg *config.Config) actions.Flags {
	flags := make(actions.Flags, len(actions.Categories))
	for _, category := range actions.Categories {
		flags[category] = cfg.CategoryEnabled(string(category))
	}
	return flags
}

// reactionCallback turns a reaction into a synthetic message so it
// flows through the normal pipeline, with the configured age gate.
func reactionCallback(ctx context.Context, h *handler.Handler, svc chat.Service, cfg *config.Config, logger *slog.Logger) func(channelID, messageID, userID, emoji string) {
	return func(channelID, messageID, userID, emoji string) {
		target, err := svc.GetMessage(ctx, channelID, messageID)
		if err != nil {
			logger.Debug("reaction target fetch failed", "message", messageID, "error", err)
			return
		}
		if cfg.ReactionMaxAge > 0 && time.Since(target.Timestamp) > cfg.ReactionMaxAge {
			return
		}
		h.HandleMessage(ctx, &chat.Message{
			ID:        messageID + ":" + emoji,
			ChannelID: channelID,
			AuthorID:  userID,
			Content:   fmt.Sprintf("[reacted %s to: %s]", emoji, target.Content),
			Timestamp: time.Now(),
		})
	}
}

// seedWorkspace writes a minimal persona module so the first boot
// passes the required-context check. Users replace these files.
func seedWorkspace(dir string) error {
	module := filepath.Join(dir, "modules", "00-assistant.md")
	if _, err := os.Stat(module); err == nil {
		return nil
	}
	body := "# Assistant\n\nYou are a helpful personal assistant on Discord. Keep replies short.\n"
	return os.WriteFile(module, []byte(body), 0o644)
}
