package plan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/engine"
	"github.com/DiscoClaw/discoclaw-sub001/internal/tasks"
)

// Run outcomes.
const (
	OutcomeDone         = "done"
	OutcomeFailed       = "failed"
	OutcomeAuditFailed  = "audit_failed"
	OutcomeRetryBlocked = "retry_blocked"
	OutcomeStale        = "stale"
	OutcomeNothing      = "nothing_to_run"
	OutcomeClosed       = "plan_closed"
)

// Progress receives human-readable phase progress.
type Progress func(message string, force bool)

// Outcome is the result of one RunNext call.
type Outcome struct {
	PhaseID     string
	Status      string
	Message     string
	MaxSeverity string
	Commit      string
}

const preReadBudget = 100 * 1024

// Engine executes plan phases against the runtime with git snapshots.
type Engine struct {
	registry     *engine.Registry
	git          Git
	tasks        *tasks.Store
	workspaceDir string
	repoDir      string
	plansDir     string
	model        string
	timeout      time.Duration
	auditFixMax  int
	logger       *slog.Logger
}

// NewEngine creates a phase engine. git and store may be nil; snapshots
// and task closing are skipped without them.
func NewEngine(registry *engine.Registry, git Git, store *tasks.Store, workspaceDir, repoDir, plansDir, model string, timeout time.Duration, auditFixMax int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if auditFixMax <= 0 {
		auditFixMax = 2
	}
	return &Engine{
		registry:     registry,
		git:          git,
		tasks:        store,
		workspaceDir: workspaceDir,
		repoDir:      repoDir,
		plansDir:     plansDir,
		model:        model,
		timeout:      timeout,
		auditFixMax:  auditFixMax,
		logger:       logger.With("component", "plan"),
	}
}

func (e *Engine) gitAvailable() bool {
	return e.git != nil && e.git.Available()
}

// RunNext selects and executes the next phase of planID.
func (e *Engine) RunNext(ctx context.Context, planID string, progress Progress) Outcome {
	if progress == nil {
		progress = func(string, bool) {}
	}

	planFile, err := FindFile(e.plansDir, planID)
	if err != nil {
		return Outcome{Status: OutcomeFailed, Message: err.Error()}
	}
	data, err := os.ReadFile(planFile)
	if err != nil {
		return Outcome{Status: OutcomeFailed, Message: err.Error()}
	}
	content := string(data)

	set, err := LoadPhases(planFile, planID)
	if err != nil {
		return Outcome{Status: OutcomeFailed, Message: fmt.Sprintf("no phases for %s; run `!plan phases` first", planID)}
	}
	if err := set.CheckStale(content); err != nil {
		return Outcome{Status: OutcomeStale, Message: err.Error()}
	}

	phase := set.NextPhase()
	if phase == nil {
		if set.AllSettled() {
			return e.maybeClose(set, planFile, content)
		}
		return Outcome{Status: OutcomeNothing, Message: "no runnable phase (blocked dependencies)"}
	}

	if phase.Status == PhaseFailed && phase.Kind != KindAudit && e.gitAvailable() {
		if out, blocked := e.retryRevert(ctx, phase, progress); blocked {
			return out
		}
	}

	phase.Status = PhaseInProgress
	if err := set.Save(); err != nil {
		return Outcome{PhaseID: phase.ID, Status: OutcomeFailed, Message: err.Error()}
	}
	progress(fmt.Sprintf("Running %s: %s", phase.ID, phase.Title), false)

	var pre []string
	if e.gitAvailable() {
		if pre, err = e.git.ChangedFiles(ctx); err != nil {
			e.logger.Warn("pre-snapshot failed", "error", err)
			pre = nil
		}
	}

	text, runErr := e.invokePhase(ctx, set, phase, content)

	modified := e.modifiedSince(ctx, pre)
	phase.ModifiedFiles = modified

	if runErr != nil {
		return e.markFailed(set, phase, runErr.Error(), progress)
	}
	phase.Output = truncateOutput(text)

	if phase.Kind == KindAudit {
		return e.settleAudit(ctx, set, phase, content, text, progress)
	}
	return e.markDone(ctx, set, phase, progress)
}

// retryRevert applies the failed-phase revert protocol. Returns an
// outcome with blocked=true when the retry cannot proceed.
func (e *Engine) retryRevert(ctx context.Context, phase *Phase, progress Progress) (Outcome, bool) {
	if len(phase.ModifiedFiles) == 0 || len(phase.FailureHashes) == 0 {
		return Outcome{
			PhaseID: phase.ID,
			Status:  OutcomeRetryBlocked,
			Message: "failed phase has no recorded modified files or failure hashes; revert manually and reset the phase",
		}, true
	}
	untracked := make(map[string]bool)
	if files, err := e.git.UntrackedFiles(ctx); err == nil {
		for _, f := range files {
			untracked[f] = true
		}
	}
	for _, f := range phase.ModifiedFiles {
		recorded, ok := phase.FailureHashes[f]
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(e.repoDir, f))
		if err != nil {
			continue
		}
		if ContentHash(string(data)) != recorded {
			progress(fmt.Sprintf("Skipping revert of %s: modified since the failed attempt", f), false)
			continue
		}
		if untracked[f] {
			if err := e.git.Clean(ctx, f); err != nil {
				e.logger.Warn("clean failed", "file", f, "error", err)
			}
		} else {
			if err := e.git.Checkout(ctx, f); err != nil {
				e.logger.Warn("checkout failed", "file", f, "error", err)
			}
		}
	}
	return Outcome{}, false
}

// invokePhase builds and runs the phase invocation, returning the final
// text.
func (e *Engine) invokePhase(ctx context.Context, set *PhaseSet, phase *Phase, planContent string) (string, error) {
	rt, err := e.registry.Primary()
	if err != nil {
		return "", err
	}

	params := engine.InvokeParams{
		Prompt:       e.phasePrompt(set, phase, planContent),
		Model:        rt.ResolveModel(e.model),
		Cwd:          e.repoDir,
		Timeout:      e.timeout,
		SessionKey:   engine.SessionScopeKey(set.PlanID, e.model, phase.ID),
		ToolCallGate: true,
	}
	switch phase.Kind {
	case KindImplement:
		params.Tools = []string{"Read", "Write", "Edit", "Glob", "Grep", "Bash"}
		// The workspace root stays out of reach during implementation.
	default:
		params.Tools = []string{"Read", "Glob", "Grep"}
		params.AddDirs = []string{e.workspaceDir}
	}

	return e.collect(ctx, rt, params)
}

func (e *Engine) collect(ctx context.Context, rt engine.Runtime, params engine.InvokeParams) (string, error) {
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
			return "", fmt.Errorf("%s", ev.Message)
		}
	}
	if final == "" {
		final = deltas.String()
	}
	return final, nil
}

func (e *Engine) phasePrompt(set *PhaseSet, phase *Phase, planContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s, phase %s (%s): %s\n\n", set.PlanID, phase.ID, phase.Kind, phase.Title)
	b.WriteString("## Plan\n\n" + planContent + "\n\n")

	switch phase.Kind {
	case KindImplement:
		b.WriteString("Implement exactly the changes this phase covers:\n")
	case KindRead:
		b.WriteString("Read and summarize the relevant context for the upcoming implementation:\n")
	case KindAudit:
		b.WriteString("Audit the implementation against the plan. Write each concern as `**Concern N:** …` with `**Severity: blocking|medium|minor|suggestion**` and end with `**Verdict:** Needs revision.` or `**Verdict:** Ready to approve.`\nFiles in scope:\n")
	}
	for _, f := range phase.ContextFiles {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}

	if preRead := e.preReadContext(phase.ContextFiles); preRead != "" {
		b.WriteString("\n## Pre-read context\n\n" + preRead)
	}
	return b.String()
}

// preReadContext inlines workspace-prefixed context files under a
// shared byte budget.
func (e *Engine) preReadContext(files []string) string {
	var b strings.Builder
	remaining := preReadBudget
	for _, f := range files {
		rel, ok := strings.CutPrefix(f, "workspace/")
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", f)
		data, err := os.ReadFile(filepath.Join(e.workspaceDir, rel))
		if err != nil {
			b.WriteString("(File not found)\n\n")
			continue
		}
		body := string(data)
		if len(body) > remaining {
			body = body[:remaining] + "\n… (truncated)"
			remaining = 0
		} else {
			remaining -= len(body)
		}
		b.WriteString(body + "\n\n")
		if remaining <= 0 {
			break
		}
	}
	return b.String()
}

func (e *Engine) modifiedSince(ctx context.Context, pre []string) []string {
	if !e.gitAvailable() {
		return nil
	}
	post, err := e.git.ChangedFiles(ctx)
	if err != nil {
		return nil
	}
	preSet := make(map[string]bool, len(pre))
	for _, f := range pre {
		preSet[f] = true
	}
	var out []string
	for _, f := range post {
		if !preSet[f] {
			out = append(out, f)
		}
	}
	return out
}

// truncateOutput bounds the recorded phase output.
func truncateOutput(text string) string {
	const max = 2000
	if len(text) > max {
		return text[:max] + "\n… (truncated)"
	}
	return text
}

func (e *Engine) markDone(ctx context.Context, set *PhaseSet, phase *Phase, progress Progress) Outcome {
	phase.Status = PhaseDone
	phase.FailureHashes = nil
	phase.Error = ""
	if e.gitAvailable() && len(phase.ModifiedFiles) > 0 {
		if err := e.git.Add(ctx, phase.ModifiedFiles); err == nil {
			message := fmt.Sprintf("%s %s: %s", set.PlanID, phase.ID, phase.Title)
			if hash, err := e.git.Commit(ctx, message); err == nil {
				phase.GitCommit = hash
			} else {
				e.logger.Warn("commit failed", "phase", phase.ID, "error", err)
			}
		}
	}
	if err := set.Save(); err != nil {
		return Outcome{PhaseID: phase.ID, Status: OutcomeFailed, Message: err.Error()}
	}
	progress(fmt.Sprintf("%s done", phase.ID), true)
	return Outcome{PhaseID: phase.ID, Status: OutcomeDone, Commit: phase.GitCommit}
}

func (e *Engine) markFailed(set *PhaseSet, phase *Phase, message string, progress Progress) Outcome {
	phase.Status = PhaseFailed
	phase.Error = message
	phase.FailureHashes = e.hashFiles(phase.ModifiedFiles)
	if err := set.Save(); err != nil {
		e.logger.Warn("phase save failed", "phase", phase.ID, "error", err)
	}
	progress(fmt.Sprintf("%s failed: %s", phase.ID, message), true)
	return Outcome{PhaseID: phase.ID, Status: OutcomeFailed, Message: message}
}

func (e *Engine) hashFiles(files []string) map[string]string {
	if len(files) == 0 {
		return nil
	}
	hashes := make(map[string]string, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(e.repoDir, f))
		if err != nil {
			continue
		}
		hashes[f] = ContentHash(string(data))
	}
	return hashes
}

// Audit verdict handling. The phase loop is stricter than the forge
// loop: medium concerns also fail the audit.

var (
	phaseSeverityRe = regexp.MustCompile(`\*\*Severity:\s*(blocking|medium|minor|suggestion)\*\*`)
	phaseVerdictRe  = regexp.MustCompile(`\*\*Verdict:\*\*\s*([^\n]+)`)
)

func auditShouldLoop(text string) (loop bool, maxSeverity, verdict string) {
	rank := map[string]int{"suggestion": 1, "minor": 2, "medium": 3, "blocking": 4}
	best := 0
	for _, m := range phaseSeverityRe.FindAllStringSubmatch(text, -1) {
		if rank[m[1]] > best {
			best = rank[m[1]]
			maxSeverity = m[1]
		}
	}
	if m := phaseVerdictRe.FindStringSubmatch(text); m != nil {
		verdict = strings.TrimSpace(m[1])
	}
	loop = best >= rank["medium"] || strings.Contains(verdict, "Needs revision")
	return loop, maxSeverity, verdict
}

func (e *Engine) settleAudit(ctx context.Context, set *PhaseSet, phase *Phase, planContent, auditText string, progress Progress) Outcome {
	loop, maxSeverity, verdict := auditShouldLoop(auditText)
	if !loop {
		return e.markDone(ctx, set, phase, progress)
	}
	if !e.gitAvailable() {
		return e.auditFailed(set, phase, maxSeverity, verdict, progress)
	}
	return e.auditFixLoop(ctx, set, phase, planContent, auditText, maxSeverity, verdict, progress)
}

// auditFixLoop runs bounded fix attempts with a restricted tool set,
// re-auditing after each. Exhaustion rolls the fix changes back.
func (e *Engine) auditFixLoop(ctx context.Context, set *PhaseSet, phase *Phase, planContent, auditText, maxSeverity, verdict string, progress Progress) Outcome {
	rt, err := e.registry.Primary()
	if err != nil {
		return e.auditFailed(set, phase, maxSeverity, verdict, progress)
	}

	for attempt := 1; attempt <= e.auditFixMax; attempt++ {
		progress(fmt.Sprintf("Audit fix attempt %d/%d", attempt, e.auditFixMax), false)

		_, fixErr := e.collect(ctx, rt, engine.InvokeParams{
			Prompt:       e.fixPrompt(set, planContent, auditText),
			Model:        rt.ResolveModel(e.model),
			Cwd:          e.repoDir,
			Timeout:      e.timeout,
			Tools:        []string{"Read", "Write", "Edit", "Glob", "Grep"}, // no Bash
			SessionKey:   engine.SessionScopeKey(set.PlanID, e.model, phase.ID+":fix"),
			ToolCallGate: true,
		})
		if fixErr != nil {
			e.logger.Warn("audit fix invocation failed", "attempt", attempt, "error", fixErr)
			break
		}

		reauditText, err := e.collect(ctx, rt, engine.InvokeParams{
			Prompt:       e.phasePrompt(set, phase, planContent),
			Model:        rt.ResolveModel(e.model),
			Cwd:          e.repoDir,
			Timeout:      e.timeout,
			Tools:        []string{"Read", "Glob", "Grep"},
			AddDirs:      []string{e.workspaceDir},
			SessionKey:   engine.SessionScopeKey(set.PlanID, e.model, fmt.Sprintf("%s:reaudit%d", phase.ID, attempt)),
			ToolCallGate: true,
		})
		if err != nil {
			// Runtime errors on re-audit normalize to audit_failed with
			// the last parsed verdict.
			return e.auditFailed(set, phase, maxSeverity, verdict, progress)
		}
		loop, sev, v := auditShouldLoop(reauditText)
		maxSeverity, verdict, auditText = sev, v, reauditText
		if !loop {
			return e.markDone(ctx, set, phase, progress)
		}
	}

	// Roll back the fix agent's changes.
	if err := e.git.CheckoutAll(ctx); err != nil {
		e.logger.Warn("rollback checkout failed", "error", err)
	}
	if err := e.git.CleanAll(ctx); err != nil {
		e.logger.Warn("rollback clean failed", "error", err)
	}
	return e.auditFailed(set, phase, maxSeverity, verdict, progress)
}

func (e *Engine) fixPrompt(set *PhaseSet, planContent, auditText string) string {
	return fmt.Sprintf("Plan %s failed its audit. Fix only the deviations flagged below; do not expand scope.\n\n## Plan\n\n%s\n\n## Audit findings\n\n%s", set.PlanID, planContent, auditText)
}

func (e *Engine) auditFailed(set *PhaseSet, phase *Phase, maxSeverity, verdict string, progress Progress) Outcome {
	phase.Status = PhaseFailed
	phase.Error = "audit failed: " + verdict
	if err := set.Save(); err != nil {
		e.logger.Warn("phase save failed", "phase", phase.ID, "error", err)
	}
	progress(fmt.Sprintf("%s audit failed (%s)", phase.ID, maxSeverity), true)
	return Outcome{PhaseID: phase.ID, Status: OutcomeAuditFailed, Message: verdict, MaxSeverity: maxSeverity}
}

// maybeClose moves a fully settled plan to CLOSED under a file lock and
// closes the backing task.
func (e *Engine) maybeClose(set *PhaseSet, planFile, content string) Outcome {
	header := ParseHeader(content)
	if header.Status != StatusApproved && header.Status != StatusImplementing {
		return Outcome{Status: OutcomeNothing, Message: "all phases settled"}
	}

	unlock, err := acquireFileLock(planFile + ".lock")
	if err != nil {
		return Outcome{Status: OutcomeNothing, Message: "plan close already in progress"}
	}
	defer unlock()

	if err := WriteFileAtomic(planFile, SetStatus(content, StatusClosed)); err != nil {
		return Outcome{Status: OutcomeFailed, Message: err.Error()}
	}
	if e.tasks != nil && header.TaskID != "" {
		if _, err := e.tasks.SetStatus(header.TaskID, tasks.StatusClosed); err != nil {
			e.logger.Warn("task close failed", "task", header.TaskID, "error", err)
		}
	}
	return Outcome{Status: OutcomeClosed, Message: set.PlanID + " closed"}
}

// acquireFileLock takes an exclusive lock via O_EXCL file creation.
func acquireFileLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	f.Close()
	return func() { os.Remove(path) }, nil
}
