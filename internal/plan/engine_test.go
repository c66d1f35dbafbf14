package plan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/engine"
	"github.com/DiscoClaw/discoclaw-sub001/internal/tasks"
)

type scriptedRuntime struct {
	mu      sync.Mutex
	outputs []string
	errors  []string // non-empty entry emits an error event instead
	calls   []engine.InvokeParams
}

func (s *scriptedRuntime) ID() string                               { return "scripted" }
func (s *scriptedRuntime) Capabilities() map[engine.Capability]bool { return nil }
func (s *scriptedRuntime) ResolveModel(m string) string             { return m }

func (s *scriptedRuntime) Invoke(ctx context.Context, params engine.InvokeParams) (<-chan engine.Event, error) {
	s.mu.Lock()
	s.calls = append(s.calls, params)
	idx := len(s.calls) - 1
	var out, errMsg string
	if idx < len(s.outputs) {
		out = s.outputs[idx]
	}
	if idx < len(s.errors) {
		errMsg = s.errors[idx]
	}
	s.mu.Unlock()

	ch := make(chan engine.Event, 2)
	if errMsg != "" {
		ch <- engine.Event{Type: engine.EventError, Message: errMsg}
	} else {
		ch <- engine.Event{Type: engine.EventTextFinal, Text: out}
		ch <- engine.Event{Type: engine.EventDone}
	}
	close(ch)
	return ch, nil
}

type fakeGit struct {
	mu          sync.Mutex
	changed     [][]string
	untracked   []string
	checkouts   [][]string
	cleans      [][]string
	checkoutAll int
	cleanAll    int
	adds        [][]string
	commits     []string
}

func (g *fakeGit) Available() bool { return true }

func (g *fakeGit) ChangedFiles(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.changed) == 0 {
		return nil, nil
	}
	out := g.changed[0]
	if len(g.changed) > 1 {
		g.changed = g.changed[1:]
	}
	return out, nil
}

func (g *fakeGit) UntrackedFiles(ctx context.Context) ([]string, error) {
	return g.untracked, nil
}

func (g *fakeGit) Checkout(ctx context.Context, files ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, files)
	return nil
}

func (g *fakeGit) Clean(ctx context.Context, files ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleans = append(g.cleans, files)
	return nil
}

func (g *fakeGit) CheckoutAll(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutAll++
	return nil
}

func (g *fakeGit) CleanAll(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleanAll++
	return nil
}

func (g *fakeGit) Add(ctx context.Context, files []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adds = append(g.adds, files)
	return nil
}

func (g *fakeGit) Commit(ctx context.Context, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits = append(g.commits, message)
	return "abc1234", nil
}

type testEnv struct {
	engine   *Engine
	rt       *scriptedRuntime
	git      *fakeGit
	store    *tasks.Store
	plansDir string
	repoDir  string
	planFile string
	planID   string
}

func newTestEnv(t *testing.T, planContent string) *testEnv {
	t.Helper()
	root := t.TempDir()
	plansDir := filepath.Join(root, "plans")
	repoDir := filepath.Join(root, "repo")
	workspace := filepath.Join(root, "workspace")
	for _, d := range []string{plansDir, repoDir, workspace} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
	}
	store, err := tasks.Open(filepath.Join(root, "tasks.jsonl"))
	if err != nil {
		t.Fatalf("tasks.Open() error = %v", err)
	}
	rt := &scriptedRuntime{}
	registry := engine.NewRegistry()
	registry.Register(rt, nil)
	if err := registry.SetPrimary(rt.ID()); err != nil {
		t.Fatalf("SetPrimary() error = %v", err)
	}
	git := &fakeGit{}
	eng := NewEngine(registry, git, store, workspace, repoDir, plansDir, "capable", time.Minute, 2, nil)

	planID := "plan-001"
	planFile := filepath.Join(plansDir, "plan-001-test.md")
	if err := WriteFileAtomic(planFile, planContent); err != nil {
		t.Fatalf("write plan error = %v", err)
	}
	return &testEnv{engine: eng, rt: rt, git: git, store: store, plansDir: plansDir, repoDir: repoDir, planFile: planFile, planID: planID}
}

const singlePhasePlan = "# Plan: One file\n\n**ID:** plan-001\n**Task:** ws-1\n**Status:** IMPLEMENTING\n\n## Objective\n\nx\n\n## Changes\n\n- `pkg/a.go`\n"

func (env *testEnv) generatePhases(t *testing.T, content string) *PhaseSet {
	t.Helper()
	set := Decompose(content, env.planID, env.planFile, 5)
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return set
}

func TestRunNextImplementCommits(t *testing.T) {
	env := newTestEnv(t, singlePhasePlan)
	env.generatePhases(t, singlePhasePlan)
	env.git.changed = [][]string{nil, {"pkg/a.go"}}
	env.rt.outputs = []string{"implemented"}

	out := env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeDone {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Commit != "abc1234" {
		t.Fatalf("commit = %q", out.Commit)
	}
	if len(env.git.commits) != 1 || !strings.HasPrefix(env.git.commits[0], "plan-001 phase-1: ") {
		t.Fatalf("commit message = %v", env.git.commits)
	}

	set, err := LoadPhases(env.planFile, env.planID)
	if err != nil {
		t.Fatalf("LoadPhases() error = %v", err)
	}
	if set.Phases[0].Status != PhaseDone || set.Phases[0].GitCommit != "abc1234" {
		t.Fatalf("phase = %+v", set.Phases[0])
	}
	if set.Phases[0].Output == "" {
		t.Fatalf("phase output not recorded: %+v", set.Phases[0])
	}
}

func TestRunNextStalePlan(t *testing.T) {
	env := newTestEnv(t, singlePhasePlan)
	env.generatePhases(t, singlePhasePlan)
	if err := WriteFileAtomic(env.planFile, singlePhasePlan+"\nedited later\n"); err != nil {
		t.Fatalf("write error = %v", err)
	}

	out := env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeStale {
		t.Fatalf("outcome = %+v, want stale", out)
	}
	if !strings.Contains(out.Message, "!plan phases --regenerate") {
		t.Fatalf("stale message = %q", out.Message)
	}
	if env.rt.callsMade() != 0 {
		t.Fatalf("stale plan must not invoke the runtime")
	}
}

func (s *scriptedRuntime) callsMade() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestRunNextDestructiveToolBlocked(t *testing.T) {
	env := newTestEnv(t, singlePhasePlan)
	env.generatePhases(t, singlePhasePlan)
	env.rt.errors = []string{"Destructive tool call blocked: rm -rf on repository root"}
	env.git.changed = [][]string{nil, nil}

	out := env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeFailed {
		t.Fatalf("outcome = %+v, want failed", out)
	}
	if !strings.Contains(out.Message, "Destructive tool call blocked") {
		t.Fatalf("message = %q", out.Message)
	}
	set, _ := LoadPhases(env.planFile, env.planID)
	if set.Phases[0].Status != PhaseFailed {
		t.Fatalf("phase status = %q, want failed", set.Phases[0].Status)
	}
}

func TestRunNextRetryBlockedWithoutHashes(t *testing.T) {
	env := newTestEnv(t, singlePhasePlan)
	set := env.generatePhases(t, singlePhasePlan)
	set.Phases[0].Status = PhaseFailed
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out := env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeRetryBlocked {
		t.Fatalf("outcome = %+v, want retry_blocked", out)
	}
}

func TestRunNextRetryRevertsMatchingHash(t *testing.T) {
	env := newTestEnv(t, singlePhasePlan)
	set := env.generatePhases(t, singlePhasePlan)

	// Simulate a failed attempt that wrote pkg/a.go.
	target := filepath.Join(env.repoDir, "pkg", "a.go")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(target, []byte("broken attempt"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	set.Phases[0].Status = PhaseFailed
	set.Phases[0].ModifiedFiles = []string{"pkg/a.go"}
	set.Phases[0].FailureHashes = map[string]string{"pkg/a.go": ContentHash("broken attempt")}
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	env.git.untracked = []string{"pkg/a.go"}
	env.git.changed = [][]string{nil, nil}
	env.rt.outputs = []string{"retried fine"}

	out := env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeDone {
		t.Fatalf("outcome = %+v", out)
	}
	// Untracked artefact of the failed attempt gets git clean.
	if len(env.git.cleans) != 1 || env.git.cleans[0][0] != "pkg/a.go" {
		t.Fatalf("cleans = %v", env.git.cleans)
	}
	if len(env.git.checkouts) != 0 {
		t.Fatalf("checkouts = %v, want none", env.git.checkouts)
	}
}

func TestRunNextRetrySkipsExternallyModified(t *testing.T) {
	env := newTestEnv(t, singlePhasePlan)
	set := env.generatePhases(t, singlePhasePlan)
	target := filepath.Join(env.repoDir, "pkg", "a.go")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(target, []byte("user edited this"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	set.Phases[0].Status = PhaseFailed
	set.Phases[0].ModifiedFiles = []string{"pkg/a.go"}
	set.Phases[0].FailureHashes = map[string]string{"pkg/a.go": ContentHash("broken attempt")}
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	env.git.changed = [][]string{nil, nil}
	env.rt.outputs = []string{"ok"}

	var warnings []string
	out := env.engine.RunNext(context.Background(), env.planID, func(msg string, force bool) {
		warnings = append(warnings, msg)
	})
	if out.Status != OutcomeDone {
		t.Fatalf("outcome = %+v", out)
	}
	if len(env.git.cleans) != 0 || len(env.git.checkouts) != 0 {
		t.Fatalf("externally modified file must not be reverted")
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "Skipping revert") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected skip warning, got %v", warnings)
	}
}

func TestAuditFixLoopExhaustionRollsBack(t *testing.T) {
	env := newTestEnv(t, singlePhasePlan)
	set := env.generatePhases(t, singlePhasePlan)
	set.Phases[0].Status = PhaseDone
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	failing := "**Concern 1:** wrong **Severity: medium**\n**Verdict:** Needs revision."
	// audit, fix1, reaudit1, fix2, reaudit2 all keep failing.
	env.rt.outputs = []string{failing, "fixed?", failing, "fixed??", failing}
	env.git.changed = [][]string{nil, nil}

	out := env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeAuditFailed {
		t.Fatalf("outcome = %+v, want audit_failed", out)
	}
	if out.MaxSeverity != "medium" {
		t.Fatalf("MaxSeverity = %q", out.MaxSeverity)
	}
	if env.git.checkoutAll != 1 || env.git.cleanAll != 1 {
		t.Fatalf("rollback not performed: checkoutAll=%d cleanAll=%d", env.git.checkoutAll, env.git.cleanAll)
	}
	// Fix invocations must not carry Bash.
	for _, call := range env.rt.calls[1:] {
		for _, tool := range call.Tools {
			if tool == "Bash" {
				t.Fatalf("fix/reaudit invocation carries Bash: %v", call.Tools)
			}
		}
	}
}

func TestAuditPassMarksDoneAndClosesPlan(t *testing.T) {
	content := strings.Replace(singlePhasePlan, "IMPLEMENTING", "APPROVED", 1)
	env := newTestEnv(t, content)
	task, err := env.store.Create("One file", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	content = strings.Replace(content, "**Task:** ws-1", "**Task:** "+task.ID, 1)
	if err := WriteFileAtomic(env.planFile, content); err != nil {
		t.Fatalf("write error = %v", err)
	}
	set := Decompose(content, env.planID, env.planFile, 5)
	set.Phases[0].Status = PhaseDone
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	env.rt.outputs = []string{"All good.\n\n**Verdict:** Ready to approve."}
	env.git.changed = [][]string{nil, nil}

	out := env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeDone {
		t.Fatalf("audit outcome = %+v", out)
	}

	// Next run finds everything settled and closes the plan.
	out = env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeClosed {
		t.Fatalf("close outcome = %+v", out)
	}
	data, _ := os.ReadFile(env.planFile)
	if ParseHeader(string(data)).Status != StatusClosed {
		t.Fatalf("plan status = %q, want CLOSED", ParseHeader(string(data)).Status)
	}
	got, ok := env.store.Get(task.ID)
	if !ok || got.Status != tasks.StatusClosed {
		t.Fatalf("backing task = %+v, want closed", got)
	}
}

func TestImplementToolsExcludeWorkspace(t *testing.T) {
	env := newTestEnv(t, singlePhasePlan)
	env.generatePhases(t, singlePhasePlan)
	env.rt.outputs = []string{"done"}
	env.git.changed = [][]string{nil, nil}

	out := env.engine.RunNext(context.Background(), env.planID, nil)
	if out.Status != OutcomeDone {
		t.Fatalf("outcome = %+v", out)
	}
	call := env.rt.calls[0]
	hasBash := false
	for _, tool := range call.Tools {
		if tool == "Bash" {
			hasBash = true
		}
	}
	if !hasBash {
		t.Fatalf("implement tools = %v, want Bash included", call.Tools)
	}
	if len(call.AddDirs) != 0 {
		t.Fatalf("implement AddDirs = %v, want empty", call.AddDirs)
	}
	if !call.ToolCallGate {
		t.Fatalf("tool gate must be enabled")
	}
}
