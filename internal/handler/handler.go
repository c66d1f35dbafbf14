// Package handler implements the per-message pipeline: gating,
// placeholder streaming, context assembly, runtime invocation, action
// execution, and follow-up loops, serialized per channel.
package handler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/actions"
	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
	"github.com/DiscoClaw/discoclaw-sub001/internal/config"
	"github.com/DiscoClaw/discoclaw-sub001/internal/engine"
	"github.com/DiscoClaw/discoclaw-sub001/internal/inflight"
	"github.com/DiscoClaw/discoclaw-sub001/internal/memory"
	"github.com/DiscoClaw/discoclaw-sub001/internal/metrics"
	"github.com/DiscoClaw/discoclaw-sub001/internal/validate"
)

const (
	thinkingMarker  = "💭 thinking…"
	cancelledMarker = "⏹️ Cancelled."
	noOutputMarker  = "(no output)"
)

// Handler runs the message pipeline. One Handler serves all channels;
// per-channel ordering comes from ChannelQueues.
type Handler struct {
	cfg       *config.Config
	svc       chat.Service
	registry  *engine.Registry
	inflight  *inflight.Registry
	executor  *actions.Executor
	assembler *Assembler
	shortterm *memory.ShortTermStore
	metrics   *metrics.Metrics
	logger    *slog.Logger

	allow    validate.Allowlist
	trusted  validate.Allowlist
	channels validate.Allowlist

	queues *ChannelQueues

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a Handler wired to the given subsystems.
func New(cfg *config.Config, svc chat.Service, registry *engine.Registry, reg *inflight.Registry, executor *actions.Executor, assembler *Assembler, shortterm *memory.ShortTermStore, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Handler{
		cfg:       cfg,
		svc:       svc,
		registry:  registry,
		inflight:  reg,
		executor:  executor,
		assembler: assembler,
		shortterm: shortterm,
		metrics:   m,
		logger:    logger.With("component", "handler"),
		allow:     validate.NewAllowlist(cfg.AllowedUserIDs...),
		trusted:   validate.NewAllowlist(cfg.TrustedBotIDs...),
		channels:  validate.NewAllowlist(cfg.RestrictChannelIDs...),
		queues:    NewChannelQueues(),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// HandleMessage gates msg and enqueues it on its channel queue.
func (h *Handler) HandleMessage(ctx context.Context, msg *chat.Message) {
	if !h.gate(msg) {
		return
	}
	h.metrics.MessagesHandled.WithLabelValues("accepted").Inc()
	h.queues.Submit(msg.ChannelID, func() {
		h.process(ctx, msg)
	})
}

func (h *Handler) gate(msg *chat.Message) bool {
	if msg.AuthorIsBot {
		if !h.trusted.Allows(msg.AuthorID) {
			return false
		}
	} else if !h.allow.Allows(msg.AuthorID) {
		return false
	}
	if len(h.cfg.RestrictChannelIDs) > 0 && !h.channels.Allows(msg.ChannelID) {
		return false
	}
	return true
}

// Cancel aborts the current invocation on channelID, if any.
func (h *Handler) Cancel(channelID string) bool {
	h.mu.Lock()
	cancel, ok := h.cancels[channelID]
	h.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Close drains the channel queues.
func (h *Handler) Close() { h.queues.Close() }

func (h *Handler) process(parent context.Context, msg *chat.Message) {
	ctx, cancel := context.WithCancel(parent)
	h.mu.Lock()
	h.cancels[msg.ChannelID] = cancel
	h.mu.Unlock()
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.cancels, msg.ChannelID)
		h.mu.Unlock()
	}()

	placeholder, err := h.svc.SendReply(ctx, msg.ChannelID, msg.ID, thinkingMarker)
	if err != nil {
		h.logger.Error("placeholder send failed", "channel", msg.ChannelID, "error", err)
		return
	}

	rt, err := h.registry.Primary()
	if err != nil {
		h.edit(ctx, placeholder, "Runtime error: "+err.Error())
		return
	}
	model := rt.ResolveModel(h.cfg.RuntimeModel)
	sessionKey := ""
	if h.cfg.UseRuntimeSessions {
		sessionKey = engine.SessionScopeKey("chat", model, msg.AuthorID+":"+msg.ChannelID)
	}

	h.inflight.Register(msg.ChannelID, placeholder.ID, "chat", sessionKey)
	h.metrics.InflightReplies.Inc()
	defer func() {
		h.inflight.Resolve(placeholder.ID)
		h.metrics.InflightReplies.Dec()
	}()

	prompt, images, err := h.assembler.Assemble(ctx, h.svc, msg)
	if err != nil {
		h.edit(ctx, placeholder, "Runtime error: "+err.Error())
		return
	}

	actx := actions.ActionContext{
		GuildID:      msg.GuildID,
		ChannelID:    msg.ChannelID,
		MessageID:    msg.ID,
		UserID:       msg.AuthorID,
		Confirmation: actions.UserConfirmed,
	}
	flags := h.flags()

	var (
		finalText      string
		allResults     []actions.Result
		allUnavailable []string
		gotImages      bool
	)
	for depth := 0; ; depth++ {
		params := engine.InvokeParams{
			Prompt:     prompt,
			Model:      model,
			Timeout:    h.cfg.RuntimeTimeout,
			SessionKey: sessionKey,
			Images:     images,
		}
		images = nil

		text, sawImages, errMsg := h.stream(ctx, rt, params, placeholder)
		if errMsg != "" {
			if ctx.Err() == context.Canceled && parent.Err() == nil {
				h.edit(parent, placeholder, cancelledMarker)
			} else {
				h.edit(parent, placeholder, engine.FriendlyError(errMsg, h.cfg.RuntimeTimeout))
			}
			return
		}
		gotImages = gotImages || sawImages

		parsed := actions.Parse(text)
		finalText = parsed.CleanText
		results, unavailable := h.executor.Execute(ctx, actx, flags, parsed.Actions)
		allResults = append(allResults, results...)
		allUnavailable = append(allUnavailable, unavailable...)
		for _, r := range results {
			h.metrics.Actions.WithLabelValues(r.Type, outcome(r.OK)).Inc()
		}

		// A bare sendMessage with no prose means the sent message is the
		// whole reply; drop the placeholder on success, report the failure
		// on the placeholder otherwise.
		if len(parsed.Actions) == 1 && parsed.Actions[0].Type == "sendMessage" && !actions.HasProse(parsed.CleanText) {
			if allOK(results) {
				_ = h.svc.DeleteMessage(parent, msg.ChannelID, placeholder.ID)
				h.remember(msg, "(sent a message)")
				return
			}
			body := "Could not send the message."
			if len(results) > 0 && results[0].Err != "" {
				body += " " + results[0].Err
			}
			h.edit(parent, placeholder, body)
			return
		}

		if actions.FollowUpEligible(results) && depth < h.cfg.FollowupDepth {
			prompt = actions.BuildFollowUpPrompt(results)
			continue
		}
		break
	}

	if isTrivial(finalText) && len(allResults) == 0 && !gotImages {
		_ = h.svc.DeleteMessage(parent, msg.ChannelID, placeholder.ID)
		return
	}

	body := strings.TrimSpace(finalText)
	if body == "" {
		body = noOutputMarker
	}
	if tail := actions.RenderResults(allResults, allUnavailable); tail != "" {
		body = body + "\n\n" + tail
	}
	h.edit(parent, placeholder, body)
	h.remember(msg, finalText)
}

// stream consumes one invocation's events, editing the placeholder on
// a throttled schedule. It returns the final text, whether images were
// produced, and a non-empty error message on failure.
func (h *Handler) stream(ctx context.Context, rt engine.Runtime, params engine.InvokeParams, placeholder *chat.Message) (string, bool, string) {
	start := time.Now()
	events, err := rt.Invoke(ctx, params)
	if err != nil {
		h.metrics.RuntimeErrors.WithLabelValues(rt.ID()).Inc()
		return "", false, err.Error()
	}
	h.metrics.Invocations.WithLabelValues(rt.ID(), "started").Inc()
	defer func() {
		h.metrics.InvokeDuration.WithLabelValues(rt.ID()).Observe(time.Since(start).Seconds())
	}()

	var text strings.Builder
	var preview []string
	var finalText string
	sawImages := false
	lastEdit := time.Now()

	maybeEdit := func(force bool) {
		if !force && time.Since(lastEdit) < h.cfg.EditThrottle {
			return
		}
		body := text.String()
		if len(preview) > 0 {
			body += "\n```\n" + strings.Join(preview, "\n") + "\n```"
		}
		if strings.TrimSpace(body) == "" {
			return
		}
		if err := h.svc.EditMessage(ctx, placeholder.ChannelID, placeholder.ID, body); err == nil {
			h.inflight.NoteEdit(placeholder.ID)
			lastEdit = time.Now()
		}
	}

	for ev := range events {
		switch ev.Type {
		case engine.EventTextDelta:
			text.WriteString(ev.Text)
			maybeEdit(false)
		case engine.EventTextFinal:
			finalText = ev.Text
		case engine.EventLogLine:
			preview = append(preview, ev.Line)
			if len(preview) > 8 {
				preview = preview[len(preview)-8:]
			}
			maybeEdit(false)
		case engine.EventToolStart:
			preview = append(preview, "▶ "+ev.ToolName)
			maybeEdit(false)
		case engine.EventImageData:
			sawImages = true
		case engine.EventError:
			h.metrics.RuntimeErrors.WithLabelValues(rt.ID()).Inc()
			return "", sawImages, ev.Message
		case engine.EventDone:
			// terminal
		}
	}
	if finalText == "" {
		finalText = text.String()
	}
	return finalText, sawImages, ""
}

func (h *Handler) edit(ctx context.Context, placeholder *chat.Message, body string) {
	if err := h.svc.EditMessage(ctx, placeholder.ChannelID, placeholder.ID, body); err != nil && !chat.IsRecoverableSendSkip(err) {
		h.logger.Warn("placeholder edit failed", "message", placeholder.ID, "error", err)
	}
}

func (h *Handler) remember(msg *chat.Message, reply string) {
	if h.shortterm == nil || !h.cfg.MemoryEnabled {
		return
	}
	_ = h.shortterm.Append(msg.AuthorID, memory.Turn{Role: "user", Text: msg.Content, ChannelID: msg.ChannelID})
	if strings.TrimSpace(reply) != "" {
		_ = h.shortterm.Append(msg.AuthorID, memory.Turn{Role: "assistant", Text: reply, ChannelID: msg.ChannelID})
	}
}

func (h *Handler) flags() actions.Flags {
	flags := make(actions.Flags, len(actions.Categories))
	for _, c := range actions.Categories {
		flags[c] = h.cfg.CategoryEnabled(string(c))
	}
	return flags
}

// isTrivial reports whether text is a sentinel the user should not see.
func isTrivial(text string) bool {
	trimmed := strings.TrimSpace(text)
	switch trimmed {
	case "", "HEARTBEAT_OK", noOutputMarker:
		return true
	}
	return false
}

func allOK(results []actions.Result) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return len(results) > 0
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
