// Package forge drives the drafter/auditor loop that produces plan
// files: a drafter invocation writes the plan, an auditor reviews it,
// and revision rounds continue until the auditor approves, the round
// budget is exhausted, or a cancel is requested.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/DiscoClaw/discoclaw-sub001/internal/engine"
	"github.com/DiscoClaw/discoclaw-sub001/internal/plan"
	"github.com/DiscoClaw/discoclaw-sub001/internal/tasks"
)

// ErrConcurrentForge rejects a run or resume while another is active.
var ErrConcurrentForge = errors.New("forge: a run is already in progress")

// ProgressFunc receives human-readable progress. force marks terminal
// messages the listener must flush through any throttling.
type ProgressFunc func(message string, force bool)

// Result is the outcome of a forge run.
type Result struct {
	PlanID           string
	FilePath         string
	Rounds           int
	ReachedMaxRounds bool
	FinalVerdict     string
	PlanSummary      string
	Err              error
}

// Options tunes a single run.
type Options struct {
	// ExistingTaskID reuses a task instead of creating one; the task
	// gets a plan label.
	ExistingTaskID string

	// Context is an optional free-form block added to the drafter prompt.
	Context string
}

// Forge orchestrates drafter/auditor rounds. At most one run or resume
// is active per instance.
type Forge struct {
	registry     *engine.Registry
	tasks        *tasks.Store
	plansDir     string
	templatePath string
	projectCtx   string
	maxRounds    int
	drafterModel string
	auditorModel string
	logger       *slog.Logger

	mu              sync.Mutex
	running         bool
	cancelRequested bool
	currentPlanID   string
	currentPlanPath string
}

// New creates a Forge.
func New(registry *engine.Registry, store *tasks.Store, plansDir, templatePath, projectCtxPath string, maxRounds int, drafterModel, auditorModel string, logger *slog.Logger) *Forge {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRounds <= 0 {
		maxRounds = 5
	}
	return &Forge{
		registry:     registry,
		tasks:        store,
		plansDir:     plansDir,
		templatePath: templatePath,
		projectCtx:   projectCtxPath,
		maxRounds:    maxRounds,
		drafterModel: drafterModel,
		auditorModel: auditorModel,
		logger:       logger.With("component", "forge"),
	}
}

// RequestCancel flips the cancel flag. The loop observes it at the next
// round boundary; an in-progress invocation is not aborted.
func (f *Forge) RequestCancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return false
	}
	f.cancelRequested = true
	return true
}

// Status reports the current run, if any.
func (f *Forge) Status() (running bool, planID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.currentPlanID
}

func (f *Forge) begin(planID, planPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return ErrConcurrentForge
	}
	f.running = true
	f.cancelRequested = false
	f.currentPlanID = planID
	f.currentPlanPath = planPath
	return nil
}

func (f *Forge) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.currentPlanID = ""
	f.currentPlanPath = ""
}

func (f *Forge) cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelRequested
}

// Run drafts a new plan from description and audits it.
func (f *Forge) Run(ctx context.Context, description string, opts Options, progress ProgressFunc) Result {
	if err := f.begin("", ""); err != nil {
		return Result{Err: err}
	}
	defer f.end()
	if progress == nil {
		progress = func(string, bool) {}
	}

	taskID, err := f.backingTask(description, opts.ExistingTaskID)
	if err != nil {
		progress("Forge failed", true)
		return Result{Err: err}
	}

	planID, err := plan.AllocateID(f.plansDir)
	if err != nil {
		progress("Forge failed", true)
		return Result{Err: err}
	}
	f.mu.Lock()
	f.currentPlanID = planID
	f.mu.Unlock()

	progress("Drafting plan "+planID, false)
	rt, err := f.registry.Primary()
	if err != nil {
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: err}
	}
	drafterKey := engine.SessionScopeKey(planID, f.drafterModel, "drafter")

	draft, err := f.collect(ctx, rt, engine.InvokeParams{
		Prompt:     f.drafterPrompt(description, opts.Context),
		Model:      rt.ResolveModel(f.drafterModel),
		Tools:      []string{"Read", "Glob", "Grep"},
		SessionKey: drafterKey,
	})
	if err != nil {
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: err}
	}

	content := f.normalizeDraft(draft, planID, taskID)
	header := plan.ParseHeader(content)
	planPath := plan.FilePath(f.plansDir, planID, header.Title)
	if err := plan.WriteFileAtomic(planPath, content); err != nil {
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: err}
	}
	f.mu.Lock()
	f.currentPlanPath = planPath
	f.mu.Unlock()

	if header.Title != "" && !strings.EqualFold(header.Title, description) {
		if _, err := f.tasks.Update(taskID, func(t *tasks.Task) { t.Title = header.Title }); err != nil {
			f.logger.Warn("task title update failed", "task", taskID, "error", err)
		}
	}
	progress("Draft complete", true)

	return f.auditLoop(ctx, rt, planID, planPath, drafterKey, header.Title, progress)
}

// Resume re-audits an existing plan whose status is REVIEW.
func (f *Forge) Resume(ctx context.Context, planID, filePath, title string, progress ProgressFunc) Result {
	if err := f.begin(planID, filePath); err != nil {
		return Result{Err: err}
	}
	defer f.end()
	if progress == nil {
		progress = func(string, bool) {}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: err}
	}
	content := string(data)
	header := plan.ParseHeader(content)
	switch header.Status {
	case plan.StatusReview:
	case plan.StatusImplementing:
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: fmt.Errorf("plan %s is currently being implemented", planID)}
	case plan.StatusApproved:
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: fmt.Errorf("plan %s is approved; downgrade first", planID)}
	default:
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: fmt.Errorf("plan %s has status %s, expected REVIEW", planID, header.Status)}
	}
	if err := plan.CheckStructure(content); err != nil {
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: err}
	}

	rt, err := f.registry.Primary()
	if err != nil {
		progress("Forge failed", true)
		return Result{PlanID: planID, Err: err}
	}
	drafterKey := engine.SessionScopeKey(planID, f.drafterModel, "drafter")
	return f.auditLoop(ctx, rt, planID, filePath, drafterKey, title, progress)
}

// auditLoop runs auditor rounds, revising between rounds as needed.
func (f *Forge) auditLoop(ctx context.Context, rt engine.Runtime, planID, planPath, drafterKey, title string, progress ProgressFunc) Result {
	auditorKey := engine.SessionScopeKey(planID, f.auditorModel, "auditor")
	result := Result{PlanID: planID, FilePath: planPath, PlanSummary: title}

	for round := 1; round <= f.maxRounds; round++ {
		if f.cancelled() {
			progress("Forge cancelled", true)
			result.FinalVerdict = "CANCELLED"
			return result
		}
		progress(fmt.Sprintf("Audit round %d/%d", round, f.maxRounds), false)

		auditText, err := f.collect(ctx, rt, engine.InvokeParams{
			Prompt:     f.auditorPrompt(planPath, round),
			Model:      rt.ResolveModel(f.auditorModel),
			Tools:      []string{"Read", "Glob", "Grep"},
			SessionKey: auditorKey,
		})
		if err != nil {
			progress("Forge failed", true)
			result.Err = err
			return result
		}
		result.Rounds = round

		audit := ParseAudit(auditText)
		result.FinalVerdict = audit.Verdict
		switch audit.MaxSeverity {
		case SeverityBlocking:
			progress("high concerns", false)
		case SeverityMedium:
			progress("medium concerns", false)
		}

		if err := f.appendAudit(planPath, round, auditText); err != nil {
			f.logger.Warn("audit log append failed", "plan", planID, "error", err)
		}

		if !audit.ShouldLoop {
			progress("Forge complete", true)
			return result
		}
		if round == f.maxRounds {
			result.ReachedMaxRounds = true
			progress(fmt.Sprintf("Forge stopped after %d audit rounds", round), true)
			return result
		}
		if f.cancelled() {
			progress("Forge cancelled", true)
			result.FinalVerdict = "CANCELLED"
			return result
		}

		progress("Revising draft", false)
		revised, err := f.collect(ctx, rt, engine.InvokeParams{
			Prompt:     f.revisionPrompt(planPath, auditText),
			Model:      rt.ResolveModel(f.drafterModel),
			Tools:      []string{"Read", "Glob", "Grep"},
			SessionKey: drafterKey, // revision inherits drafter context
		})
		if err != nil {
			progress("Forge failed", true)
			result.Err = err
			return result
		}
		if err := f.applyRevision(planPath, revised); err != nil {
			progress("Forge failed", true)
			result.Err = err
			return result
		}
	}
	return result
}

// collect drains one invocation and returns the final text.
func (f *Forge) collect(ctx context.Context, rt engine.Runtime, params engine.InvokeParams) (string, error) {
	events, err := rt.Invoke(ctx, params)
	if err != nil {
		return "", err
	}
	var deltas strings.Builder
	var final string
	for ev := range events {
		switch ev.Type {
		case engine.EventTextDelta:
			deltas.WriteString(ev.Text)
		case engine.EventTextFinal:
			final = ev.Text
		case engine.EventError:
			return "", &engine.RuntimeError{Runtime: rt.ID(), Message: ev.Message}
		}
	}
	if final == "" {
		final = deltas.String()
	}
	return final, nil
}

func (f *Forge) backingTask(description, existingID string) (string, error) {
	if existingID != "" {
		if _, err := f.tasks.AddLabel(existingID, "plan"); err != nil {
			return "", err
		}
		return existingID, nil
	}
	if existing, ok := f.tasks.FindOpenByTitle(description); ok {
		return existing.ID, nil
	}
	task, err := f.tasks.Create(description, "", []string{"plan"})
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

const fallbackTemplate = `# Plan: <title>

**ID:** <plan-id>
**Task:** <task>
**Status:** DRAFT

## Objective

## Scope

## Changes

## Risks

## Testing

## Audit Log

## Implementation Notes
`

func (f *Forge) drafterPrompt(description, extraContext string) string {
	var b strings.Builder
	b.WriteString("Draft an implementation plan for the following request.\n\n")
	b.WriteString("Request: " + description + "\n\n")
	template := fallbackTemplate
	if data, err := os.ReadFile(f.templatePath); err == nil {
		template = string(data)
	}
	b.WriteString("Use this plan template:\n\n" + template + "\n")
	if extraContext != "" {
		b.WriteString("\nContext:\n" + extraContext + "\n")
	}
	if f.projectCtx != "" {
		if data, err := os.ReadFile(f.projectCtx); err == nil {
			b.WriteString("\nProject context:\n" + string(data) + "\n")
		}
	}
	b.WriteString("\nOutput only the completed plan markdown.")
	return b.String()
}

func (f *Forge) auditorPrompt(planPath string, round int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit the plan at %s (round %d).\n\n", planPath, round)
	if round >= 2 {
		b.WriteString("This is a re-audit after revision. Verify your earlier concerns were addressed before raising new ones.\n\n")
	}
	if f.projectCtx != "" {
		if data, err := os.ReadFile(f.projectCtx); err == nil {
			b.WriteString("Project context:\n" + string(data) + "\n\n")
		}
	}
	b.WriteString("Write each concern as `**Concern N:** …` followed by `**Severity: blocking|medium|minor|suggestion**`.\n")
	b.WriteString("End with exactly `**Verdict:** Needs revision.` or `**Verdict:** Ready to approve.`")
	return b.String()
}

func (f *Forge) revisionPrompt(planPath, auditText string) string {
	return fmt.Sprintf("Revise the plan at %s to address this audit:\n\n%s\n\nOutput only the full revised plan markdown, keeping the header lines intact.", planPath, auditText)
}

// normalizeDraft ensures the drafted plan carries the header lines the
// rest of the system depends on.
func (f *Forge) normalizeDraft(draft, planID, taskID string) string {
	content := strings.TrimSpace(draft) + "\n"
	header := plan.ParseHeader(content)
	if header.Status == "" {
		content = plan.SetStatus(content, plan.StatusDraft)
	}
	if header.TaskID == "" && taskID != "" {
		content = statusLineRe.ReplaceAllString(content, "$0\n**Task:** "+taskID)
	}
	if header.ID == "" && planID != "" {
		content = statusLineRe.ReplaceAllString(content, "**ID:** "+planID+"\n$0")
	}
	return content
}

var statusLineRe = regexp.MustCompile(`(?m)^\*\*Status:\*\*[^\n]*`)

func (f *Forge) appendAudit(planPath string, round int, auditText string) error {
	data, err := os.ReadFile(planPath)
	if err != nil {
		return err
	}
	return plan.WriteFileAtomic(planPath, plan.AppendAuditLog(string(data), round, auditText))
}

// applyRevision replaces the plan body with the revised draft, keeping
// the accumulated audit log.
func (f *Forge) applyRevision(planPath, revised string) error {
	current, err := os.ReadFile(planPath)
	if err != nil {
		return err
	}
	auditLog := extractSection(string(current), "## Audit Log")
	content := strings.TrimSpace(revised) + "\n"
	if auditLog != "" && !strings.Contains(content, "## Audit Log") {
		content = plan.AppendAuditLogSection(content, auditLog)
	}
	return plan.WriteFileAtomic(planPath, content)
}

// extractSection returns the section starting at heading up to the next
// same-level heading.
func extractSection(content, heading string) string {
	start := strings.Index(content, heading)
	if start < 0 {
		return ""
	}
	rest := content[start+len(heading):]
	if next := strings.Index(rest, "\n## "); next >= 0 {
		return strings.TrimSpace(rest[:next])
	}
	return strings.TrimSpace(rest)
}
