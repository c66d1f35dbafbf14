package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
	"github.com/DiscoClaw/discoclaw-sub001/internal/memory"
	"github.com/DiscoClaw/discoclaw-sub001/internal/tasks"
)

// ConfirmationMode records how the invocation was authorized.
type ConfirmationMode string

const (
	UserConfirmed ConfirmationMode = "user_confirmed"
	Automated     ConfirmationMode = "automated"
)

// ActionContext carries the chat coordinates an action executes under.
type ActionContext struct {
	GuildID        string
	ChannelID      string
	MessageID      string
	ThreadParentID string
	UserID         string
	Confirmation   ConfirmationMode
}

// ForgeService starts and cancels forge runs.
type ForgeService interface {
	StartRun(ctx context.Context, description string) (string, error)
	StartResume(ctx context.Context, planID string) (string, error)
	RequestCancel() bool
}

// PlanService exposes plan phase operations.
type PlanService interface {
	Phases(ctx context.Context, planID string) (string, error)
	RunNext(ctx context.Context, planID string) (string, error)
	Approve(ctx context.Context, planID string) (string, error)
}

// CronService exposes scheduler queries and manual runs.
type CronService interface {
	ListJobs(ctx context.Context) (string, error)
	RunJob(ctx context.Context, jobID string) (string, error)
}

// DeferService schedules future re-invocations.
type DeferService interface {
	Schedule(channelID, prompt string, firesAt time.Time) error
}

// ImageService generates images from prompts.
type ImageService interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VoiceService speaks text in a voice channel.
type VoiceService interface {
	Say(ctx context.Context, channelID, text string) error
}

// ConfigService reads and writes runtime-adjustable settings.
type ConfigService interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Subsystems bundles the handler targets. Any field may be nil; an
// action whose subsystem is absent fails with a clear error.
type Subsystems struct {
	Chat     chat.Service
	Tasks    *tasks.Store
	Memory   *memory.DurableStore
	Forge    ForgeService
	Plan     PlanService
	Cron     CronService
	Defer    DeferService
	Imagegen ImageService
	Voice    VoiceService
	Config   ConfigService
}

// Result is one executed action's outcome.
type Result struct {
	Type     string
	OK       bool
	Summary  string
	Err      string
	Kind     string
	FollowUp bool
	Data     string
}

// Executor dispatches parsed actions to their handlers.
type Executor struct {
	subs   Subsystems
	logger *slog.Logger
}

// NewExecutor creates an executor over the given subsystems.
func NewExecutor(subs Subsystems, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{subs: subs, logger: logger.With("component", "actions")}
}

// Execute runs each action whose category is enabled. Disabled
// categories are reported as unavailable without executing.
func (e *Executor) Execute(ctx context.Context, actx ActionContext, flags Flags, acts []Action) (results []Result, unavailable []string) {
	for _, act := range acts {
		category, ok := CategoryOf(act.Type)
		if !ok {
			unavailable = append(unavailable, act.Type)
			continue
		}
		if !flags.Enabled(category) {
			unavailable = append(unavailable, act.Type)
			continue
		}
		res := e.dispatch(ctx, actx, act)
		res.Type = act.Type
		if !res.OK {
			e.logger.Warn("action failed", "type", act.Type, "error", res.Err)
		}
		results = append(results, res)
	}
	return results, unavailable
}

func (e *Executor) dispatch(ctx context.Context, actx ActionContext, act Action) Result {
	switch act.Type {
	case "sendMessage":
		return e.sendMessage(ctx, actx, act)
	case "editMessage":
		return e.editMessage(ctx, act)
	case "deleteMessage":
		return e.deleteMessage(ctx, act)
	case "addReaction":
		return e.react(ctx, actx, act, true)
	case "removeReaction":
		return e.react(ctx, actx, act, false)
	case "pinMessage":
		return e.pinMessage(ctx, actx, act)
	case "createThread":
		return e.createThread(ctx, actx, act)
	case "createForumThread":
		return e.createForumThread(ctx, act)
	case "listForumThreads":
		return e.listForumThreads(ctx, act)
	case "taskCreate":
		return e.taskCreate(act)
	case "taskList":
		return e.taskList()
	case "taskUpdate":
		return e.taskUpdate(act)
	case "taskClose":
		return e.taskClose(act)
	case "cronList":
		return e.cronList(ctx)
	case "cronRun":
		return e.cronRun(ctx, act)
	case "forgeRun":
		return e.forgeRun(ctx, act)
	case "forgeResume":
		return e.forgeResume(ctx, act)
	case "forgeCancel":
		return e.forgeCancel()
	case "planPhases":
		return e.planCall(ctx, act, "phases")
	case "planRun":
		return e.planCall(ctx, act, "run")
	case "planApprove":
		return e.planCall(ctx, act, "approve")
	case "memorySave":
		return e.memorySave(actx, act)
	case "memorySearch":
		return e.memorySearch(actx, act)
	case "memoryArchive":
		return e.memoryArchive(actx, act)
	case "generateImage":
		return e.generateImage(ctx, act)
	case "voiceSay":
		return e.voiceSay(ctx, actx, act)
	case "configGet":
		return e.configGet(act)
	case "configSet":
		return e.configSet(act)
	case "deferReply":
		return e.deferReply(actx, act)
	case "guildInfo":
		return e.guildInfo(ctx, actx, act)
	case "timeoutMember":
		return e.timeoutMember(ctx, actx, act)
	case "purgeMessages":
		return e.purgeMessages(ctx, actx, act)
	case "createPoll":
		return e.createPoll(ctx, actx, act)
	case "setStatus":
		return e.setStatus(ctx, act)
	default:
		return failf("dispatch", "no handler for %s", act.Type)
	}
}

func failf(kind, format string, args ...any) Result {
	return Result{OK: false, Kind: kind, Err: fmt.Sprintf(format, args...)}
}

func (e *Executor) sendMessage(ctx context.Context, actx ActionContext, act Action) Result {
	if e.subs.Chat == nil {
		return failf("send", "chat service unavailable")
	}
	var p struct {
		ChannelID string `json:"channel_id"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("send", "bad payload: %v", err)
	}
	channel := p.ChannelID
	if channel == "" {
		channel = actx.ChannelID
	}
	if _, err := e.subs.Chat.SendMessage(ctx, channel, p.Content); err != nil {
		if chat.IsRecoverableSendSkip(err) {
			return Result{OK: true, Kind: "send", Summary: "Skipped (target unavailable)"}
		}
		return failf("send", "%v", err)
	}
	return Result{OK: true, Kind: "send", Summary: "Done"}
}

func (e *Executor) editMessage(ctx context.Context, act Action) Result {
	if e.subs.Chat == nil {
		return failf("edit", "chat service unavailable")
	}
	var p struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("edit", "bad payload: %v", err)
	}
	if err := e.subs.Chat.EditMessage(ctx, p.ChannelID, p.MessageID, p.Content); err != nil {
		return failf("edit", "%v", err)
	}
	return Result{OK: true, Kind: "edit", Summary: "Edited " + p.MessageID}
}

func (e *Executor) deleteMessage(ctx context.Context, act Action) Result {
	if e.subs.Chat == nil {
		return failf("delete", "chat service unavailable")
	}
	var p struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("delete", "bad payload: %v", err)
	}
	if err := e.subs.Chat.DeleteMessage(ctx, p.ChannelID, p.MessageID); err != nil {
		return failf("delete", "%v", err)
	}
	return Result{OK: true, Kind: "delete", Summary: "Deleted " + p.MessageID}
}

func (e *Executor) react(ctx context.Context, actx ActionContext, act Action, add bool) Result {
	if e.subs.Chat == nil {
		return failf("react", "chat service unavailable")
	}
	var p struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("react", "bad payload: %v", err)
	}
	channel := p.ChannelID
	if channel == "" {
		channel = actx.ChannelID
	}
	message := p.MessageID
	if message == "" {
		message = actx.MessageID
	}
	var err error
	if add {
		err = e.subs.Chat.React(ctx, channel, message, p.Emoji)
	} else {
		err = e.subs.Chat.Unreact(ctx, channel, message, p.Emoji)
	}
	if err != nil {
		return failf("react", "%v", err)
	}
	return Result{OK: true, Kind: "react", Summary: "Reacted " + p.Emoji}
}

func (e *Executor) pinMessage(ctx context.Context, actx ActionContext, act Action) Result {
	if e.subs.Chat == nil {
		return failf("pin", "chat service unavailable")
	}
	var p struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("pin", "bad payload: %v", err)
	}
	channel := p.ChannelID
	if channel == "" {
		channel = actx.ChannelID
	}
	message := p.MessageID
	if message == "" {
		message = actx.MessageID
	}
	if err := e.subs.Chat.PinMessage(ctx, channel, message); err != nil {
		return failf("pin", "%v", err)
	}
	return Result{OK: true, Kind: "pin", Summary: "Pinned " + message}
}

func (e *Executor) guildInfo(ctx context.Context, actx ActionContext, act Action) Result {
	if e.subs.Chat == nil {
		return failf("guild", "chat service unavailable")
	}
	var p struct {
		GuildID string `json:"guild_id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("guild", "bad payload: %v", err)
	}
	guild := p.GuildID
	if guild == "" {
		guild = actx.GuildID
	}
	if guild == "" {
		return failf("guild", "no guild in this context")
	}
	g, err := e.subs.Chat.GuildInfo(ctx, guild)
	if err != nil {
		return failf("guild", "%v", err)
	}
	data := fmt.Sprintf("name: %s\nmembers: %d", g.Name, g.MemberCount)
	if g.Description != "" {
		data += "\ndescription: " + g.Description
	}
	return Result{OK: true, Kind: "guild", FollowUp: true, Summary: g.Name, Data: data}
}

func (e *Executor) timeoutMember(ctx context.Context, actx ActionContext, act Action) Result {
	if e.subs.Chat == nil {
		return failf("timeout", "chat service unavailable")
	}
	var p struct {
		GuildID         string `json:"guild_id"`
		UserID          string `json:"user_id"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("timeout", "bad payload: %v", err)
	}
	guild := p.GuildID
	if guild == "" {
		guild = actx.GuildID
	}
	if p.UserID == "" {
		return failf("timeout", "user_id is required")
	}
	if p.DurationMinutes <= 0 {
		p.DurationMinutes = 10
	}
	until := time.Now().Add(time.Duration(p.DurationMinutes) * time.Minute)
	if err := e.subs.Chat.TimeoutMember(ctx, guild, p.UserID, until); err != nil {
		return failf("timeout", "%v", err)
	}
	return Result{OK: true, Kind: "timeout", Summary: fmt.Sprintf("Timed out %s for %dm", p.UserID, p.DurationMinutes)}
}

func (e *Executor) purgeMessages(ctx context.Context, actx ActionContext, act Action) Result {
	if e.subs.Chat == nil {
		return failf("purge", "chat service unavailable")
	}
	var p struct {
		ChannelID string `json:"channel_id"`
		Count     int    `json:"count"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("purge", "bad payload: %v", err)
	}
	channel := p.ChannelID
	if channel == "" {
		channel = actx.ChannelID
	}
	if p.Count <= 0 {
		return failf("purge", "count must be positive")
	}
	if p.Count > 100 {
		p.Count = 100
	}
	n, err := e.subs.Chat.PurgeMessages(ctx, channel, p.Count)
	if err != nil {
		return failf("purge", "%v", err)
	}
	return Result{OK: true, Kind: "purge", Summary: fmt.Sprintf("Deleted %d messages", n)}
}

func (e *Executor) createPoll(ctx context.Context, actx ActionContext, act Action) Result {
	if e.subs.Chat == nil {
		return failf("poll", "chat service unavailable")
	}
	var p struct {
		ChannelID     string   `json:"channel_id"`
		Question      string   `json:"question"`
		Answers       []string `json:"answers"`
		DurationHours int      `json:"duration_hours"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("poll", "bad payload: %v", err)
	}
	channel := p.ChannelID
	if channel == "" {
		channel = actx.ChannelID
	}
	if strings.TrimSpace(p.Question) == "" || len(p.Answers) < 2 {
		return failf("poll", "a question and at least two answers are required")
	}
	if _, err := e.subs.Chat.CreatePoll(ctx, channel, p.Question, p.Answers, p.DurationHours); err != nil {
		return failf("poll", "%v", err)
	}
	return Result{OK: true, Kind: "poll", Summary: "Poll created"}
}

func (e *Executor) setStatus(ctx context.Context, act Action) Result {
	if e.subs.Chat == nil {
		return failf("status", "chat service unavailable")
	}
	var p struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("status", "bad payload: %v", err)
	}
	if err := e.subs.Chat.SetPresence(ctx, p.Status); err != nil {
		return failf("status", "%v", err)
	}
	return Result{OK: true, Kind: "status", Summary: "Status updated"}
}

func (e *Executor) createThread(ctx context.Context, actx ActionContext, act Action) Result {
	if e.subs.Chat == nil {
		return failf("thread", "chat service unavailable")
	}
	var p struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("thread", "bad payload: %v", err)
	}
	channel := p.ChannelID
	if channel == "" {
		channel = actx.ChannelID
	}
	message := p.MessageID
	if message == "" {
		message = actx.MessageID
	}
	id, err := e.subs.Chat.CreateThread(ctx, channel, message, p.Name)
	if err != nil {
		return failf("thread", "%v", err)
	}
	return Result{OK: true, Kind: "thread", Summary: "Created thread " + id}
}

func (e *Executor) createForumThread(ctx context.Context, act Action) Result {
	if e.subs.Chat == nil {
		return failf("forum", "chat service unavailable")
	}
	var p struct {
		ForumID string   `json:"forum_id"`
		Name    string   `json:"name"`
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("forum", "bad payload: %v", err)
	}
	th, err := e.subs.Chat.CreateForumThread(ctx, p.ForumID, p.Name, p.Content, p.Tags)
	if err != nil {
		return failf("forum", "%v", err)
	}
	return Result{OK: true, Kind: "forum", Summary: "Created forum thread " + th.ID}
}

func (e *Executor) listForumThreads(ctx context.Context, act Action) Result {
	if e.subs.Chat == nil {
		return failf("forum", "chat service unavailable")
	}
	var p struct {
		ForumID string `json:"forum_id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("forum", "bad payload: %v", err)
	}
	threads, err := e.subs.Chat.ListForumThreads(ctx, p.ForumID)
	if err != nil {
		return failf("forum", "%v", err)
	}
	var b strings.Builder
	for _, th := range threads {
		fmt.Fprintf(&b, "- %s (%s)\n", th.Name, th.ID)
	}
	return Result{
		OK: true, Kind: "forum", FollowUp: true,
		Summary: fmt.Sprintf("%d threads", len(threads)),
		Data:    b.String(),
	}
}

func (e *Executor) taskCreate(act Action) Result {
	if e.subs.Tasks == nil {
		return failf("task", "task store unavailable")
	}
	var p struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Labels      []string `json:"labels"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("task", "bad payload: %v", err)
	}
	if strings.TrimSpace(p.Title) == "" {
		return failf("task", "title is required")
	}
	task, err := e.subs.Tasks.Create(p.Title, p.Description, p.Labels)
	if err != nil {
		return failf("task", "%v", err)
	}
	return Result{OK: true, Kind: "task", Summary: "Created " + task.ID}
}

func (e *Executor) taskList() Result {
	if e.subs.Tasks == nil {
		return failf("task", "task store unavailable")
	}
	list := e.subs.Tasks.List("")
	var b strings.Builder
	for _, task := range list {
		if task.Status == tasks.StatusClosed {
			continue
		}
		fmt.Fprintf(&b, "- %s [%s] %s\n", task.ID, task.Status, task.Title)
	}
	return Result{
		OK: true, Kind: "task", FollowUp: true,
		Summary: "Listed tasks",
		Data:    b.String(),
	}
}

func (e *Executor) taskUpdate(act Action) Result {
	if e.subs.Tasks == nil {
		return failf("task", "task store unavailable")
	}
	var p struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("task", "bad payload: %v", err)
	}
	task, err := e.subs.Tasks.Update(p.ID, func(t *tasks.Task) {
		if p.Title != "" {
			t.Title = p.Title
		}
		if p.Description != "" {
			t.Description = p.Description
		}
		if p.Status != "" {
			t.Status = tasks.Status(p.Status)
		}
	})
	if err != nil {
		return failf("task", "%v", err)
	}
	return Result{OK: true, Kind: "task", Summary: "Updated " + task.ID}
}

func (e *Executor) taskClose(act Action) Result {
	if e.subs.Tasks == nil {
		return failf("task", "task store unavailable")
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("task", "bad payload: %v", err)
	}
	if _, err := e.subs.Tasks.SetStatus(p.ID, tasks.StatusClosed); err != nil {
		return failf("task", "%v", err)
	}
	return Result{OK: true, Kind: "task", Summary: "Closed " + p.ID}
}

func (e *Executor) cronList(ctx context.Context) Result {
	if e.subs.Cron == nil {
		return failf("cron", "scheduler unavailable")
	}
	out, err := e.subs.Cron.ListJobs(ctx)
	if err != nil {
		return failf("cron", "%v", err)
	}
	return Result{OK: true, Kind: "cron", FollowUp: true, Summary: "Listed jobs", Data: out}
}

func (e *Executor) cronRun(ctx context.Context, act Action) Result {
	if e.subs.Cron == nil {
		return failf("cron", "scheduler unavailable")
	}
	var p struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("cron", "bad payload: %v", err)
	}
	out, err := e.subs.Cron.RunJob(ctx, p.JobID)
	if err != nil {
		return failf("cron", "%v", err)
	}
	return Result{OK: true, Kind: "cron", Summary: out}
}

func (e *Executor) forgeRun(ctx context.Context, act Action) Result {
	if e.subs.Forge == nil {
		return failf("forge", "forge unavailable")
	}
	var p struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("forge", "bad payload: %v", err)
	}
	out, err := e.subs.Forge.StartRun(ctx, p.Description)
	if err != nil {
		return failf("forge", "%v", err)
	}
	return Result{OK: true, Kind: "forge", Summary: out}
}

func (e *Executor) forgeResume(ctx context.Context, act Action) Result {
	if e.subs.Forge == nil {
		return failf("forge", "forge unavailable")
	}
	var p struct {
		PlanID string `json:"plan_id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("forge", "bad payload: %v", err)
	}
	out, err := e.subs.Forge.StartResume(ctx, p.PlanID)
	if err != nil {
		return failf("forge", "%v", err)
	}
	return Result{OK: true, Kind: "forge", Summary: out}
}

func (e *Executor) forgeCancel() Result {
	if e.subs.Forge == nil {
		return failf("forge", "forge unavailable")
	}
	if e.subs.Forge.RequestCancel() {
		return Result{OK: true, Kind: "forge", Summary: "Cancel requested"}
	}
	return Result{OK: true, Kind: "forge", Summary: "No forge run in progress"}
}

func (e *Executor) planCall(ctx context.Context, act Action, op string) Result {
	if e.subs.Plan == nil {
		return failf("plan", "plan manager unavailable")
	}
	var p struct {
		PlanID string `json:"plan_id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("plan", "bad payload: %v", err)
	}
	var out string
	var err error
	switch op {
	case "phases":
		out, err = e.subs.Plan.Phases(ctx, p.PlanID)
	case "run":
		out, err = e.subs.Plan.RunNext(ctx, p.PlanID)
	case "approve":
		out, err = e.subs.Plan.Approve(ctx, p.PlanID)
	}
	if err != nil {
		return failf("plan", "%v", err)
	}
	followUp := op == "phases"
	return Result{OK: true, Kind: "plan", FollowUp: followUp, Summary: out, Data: out}
}

func (e *Executor) memorySave(actx ActionContext, act Action) Result {
	if e.subs.Memory == nil {
		return failf("memory", "memory store unavailable")
	}
	var p struct {
		Text string   `json:"text"`
		Kind string   `json:"kind"`
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("memory", "bad payload: %v", err)
	}
	kind := p.Kind
	if kind == "" {
		kind = "fact"
	}
	source := memory.Source{Type: "chat", ChannelID: actx.ChannelID, MessageID: actx.MessageID, GuildID: actx.GuildID}
	id, err := e.subs.Memory.Add(actx.UserID, kind, p.Text, p.Tags, source)
	if err != nil {
		return failf("memory", "%v", err)
	}
	return Result{OK: true, Kind: "memory", Summary: "Saved " + id}
}

func (e *Executor) memorySearch(actx ActionContext, act Action) Result {
	if e.subs.Memory == nil {
		return failf("memory", "memory store unavailable")
	}
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("memory", "bad payload: %v", err)
	}
	items, err := e.subs.Memory.Search(actx.UserID, p.Query)
	if err != nil {
		return failf("memory", "%v", err)
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s: %s\n", item.ID, item.Text)
	}
	return Result{
		OK: true, Kind: "memory", FollowUp: true,
		Summary: fmt.Sprintf("%d items", len(items)),
		Data:    b.String(),
	}
}

func (e *Executor) memoryArchive(actx ActionContext, act Action) Result {
	if e.subs.Memory == nil {
		return failf("memory", "memory store unavailable")
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("memory", "bad payload: %v", err)
	}
	if err := e.subs.Memory.Archive(actx.UserID, p.ID); err != nil {
		return failf("memory", "%v", err)
	}
	return Result{OK: true, Kind: "memory", Summary: "Archived " + p.ID}
}

func (e *Executor) generateImage(ctx context.Context, act Action) Result {
	if e.subs.Imagegen == nil {
		return failf("imagegen", "image generation unavailable")
	}
	var p struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("imagegen", "bad payload: %v", err)
	}
	out, err := e.subs.Imagegen.Generate(ctx, p.Prompt)
	if err != nil {
		return failf("imagegen", "%v", err)
	}
	return Result{OK: true, Kind: "imagegen", Summary: out}
}

func (e *Executor) voiceSay(ctx context.Context, actx ActionContext, act Action) Result {
	if e.subs.Voice == nil {
		return failf("voice", "voice unavailable")
	}
	var p struct {
		ChannelID string `json:"channel_id"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("voice", "bad payload: %v", err)
	}
	channel := p.ChannelID
	if channel == "" {
		channel = actx.ChannelID
	}
	if err := e.subs.Voice.Say(ctx, channel, p.Text); err != nil {
		return failf("voice", "%v", err)
	}
	return Result{OK: true, Kind: "voice", Summary: "Spoke"}
}

func (e *Executor) configGet(act Action) Result {
	if e.subs.Config == nil {
		return failf("config", "config unavailable")
	}
	var p struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("config", "bad payload: %v", err)
	}
	value, ok := e.subs.Config.Get(p.Key)
	if !ok {
		return failf("config", "unknown key %s", p.Key)
	}
	return Result{OK: true, Kind: "config", FollowUp: true, Summary: p.Key + "=" + value, Data: p.Key + "=" + value}
}

func (e *Executor) configSet(act Action) Result {
	if e.subs.Config == nil {
		return failf("config", "config unavailable")
	}
	var p struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("config", "bad payload: %v", err)
	}
	if err := e.subs.Config.Set(p.Key, p.Value); err != nil {
		return failf("config", "%v", err)
	}
	return Result{OK: true, Kind: "config", Summary: "Set " + p.Key}
}

func (e *Executor) deferReply(actx ActionContext, act Action) Result {
	if e.subs.Defer == nil {
		return failf("defer", "defer scheduler unavailable")
	}
	var p struct {
		ChannelID    string `json:"channel_id"`
		Prompt       string `json:"prompt"`
		DelaySeconds int    `json:"delay_seconds"`
	}
	if err := json.Unmarshal(act.Raw, &p); err != nil {
		return failf("defer", "bad payload: %v", err)
	}
	channel := p.ChannelID
	if channel == "" {
		channel = actx.ChannelID
	}
	firesAt := time.Now().Add(time.Duration(p.DelaySeconds) * time.Second)
	if err := e.subs.Defer.Schedule(channel, p.Prompt, firesAt); err != nil {
		return failf("defer", "%v", err)
	}
	return Result{OK: true, Kind: "defer", Summary: fmt.Sprintf("Deferred %ds", p.DelaySeconds)}
}

// RenderResults formats executed-action outcomes for display under the
// reply. Successful sendMessage lines are suppressed because the sent
// message itself is the evidence.
func RenderResults(results []Result, unavailable []string) string {
	var b strings.Builder
	for _, r := range results {
		if r.OK && r.Type == "sendMessage" {
			continue
		}
		if r.OK {
			fmt.Fprintf(&b, "✅ %s: %s\n", r.Type, r.Summary)
		} else {
			fmt.Fprintf(&b, "❌ %s: %s\n", r.Type, r.Err)
		}
	}
	for _, t := range unavailable {
		fmt.Fprintf(&b, "⚠️ %s: unavailable\n", t)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FollowUpEligible reports whether any executed result carries data
// the model should see in a follow-up invocation.
func FollowUpEligible(results []Result) bool {
	for _, r := range results {
		if r.OK && r.FollowUp {
			return true
		}
	}
	return false
}

// BuildFollowUpPrompt serializes follow-up-eligible results under the
// auto-follow-up header for the next invocation.
func BuildFollowUpPrompt(results []Result) string {
	var b strings.Builder
	b.WriteString("[Auto-follow-up] Results of the actions you requested:\n\n")
	for _, r := range results {
		if !r.OK || !r.FollowUp {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n", r.Type, r.Data)
	}
	b.WriteString("\nRespond to the user using these results. Do not repeat the same actions.")
	return b.String()
}
