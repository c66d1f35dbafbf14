package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/actions"
	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
	"github.com/DiscoClaw/discoclaw-sub001/internal/engine"
)

// AgentRunner executes a job's prompt through the primary runtime and
// posts the result to the job's thread. Runs carry no user identity;
// the caller supplies the flag set (cron wiring passes the restricted
// one: no crons, no memory, no config).
type AgentRunner struct {
	Registry *engine.Registry
	Chat     chat.Service
	Executor *actions.Executor
	Flags    actions.Flags
	Model    string
	Timeout  time.Duration
	Logger   *slog.Logger

	// Purpose scopes session keys; empty means "cron".
	Purpose string
}

// Run invokes the runtime with the job prompt and delivers the output.
func (r *AgentRunner) Run(ctx context.Context, job *Job) error {
	rt, err := r.Registry.Primary()
	if err != nil {
		return err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default().With("component", "cron")
	}

	purpose := r.Purpose
	if purpose == "" {
		purpose = "cron"
	}
	events, err := rt.Invoke(ctx, engine.InvokeParams{
		Prompt:     r.jobPrompt(job),
		Model:      rt.ResolveModel(r.Model),
		Timeout:    r.Timeout,
		SessionKey: engine.SessionScopeKey(purpose, r.Model, job.ID),
	})
	if err != nil {
		return err
	}

	var deltas strings.Builder
	var final, errMsg string
	for ev := range events {
		switch ev.Type {
		case engine.EventTextDelta:
			deltas.WriteString(ev.Text)
		case engine.EventTextFinal:
			final = ev.Text
		case engine.EventError:
			errMsg = ev.Message
		}
	}
	if errMsg != "" {
		return fmt.Errorf("cron run %s: %s", job.ID, errMsg)
	}
	if final == "" {
		final = deltas.String()
	}

	parsed := actions.Parse(final)
	results, unavailable := r.Executor.Execute(ctx, actions.ActionContext{
		ChannelID:    job.ID,
		Confirmation: actions.Automated,
	}, r.Flags, parsed.Actions)

	body := strings.TrimSpace(parsed.CleanText)
	if tail := actions.RenderResults(results, unavailable); tail != "" {
		if body != "" {
			body += "\n\n"
		}
		body += tail
	}
	if body == "" {
		return nil
	}
	if _, err := r.Chat.SendMessage(ctx, job.ID, body); err != nil {
		if chat.IsRecoverableSendSkip(err) {
			logger.Debug("cron output send skipped", "job", job.ID)
			return nil
		}
		return err
	}
	return nil
}

func (r *AgentRunner) jobPrompt(job *Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Scheduled job %q", job.Name)
	if len(job.Tags) > 0 {
		fmt.Fprintf(&b, ", tags: %s", strings.Join(job.Tags, ", "))
	}
	b.WriteString("]\n\n")
	b.WriteString(job.Prompt)
	return b.String()
}
