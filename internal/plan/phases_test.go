package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func samplePhaseSet(t *testing.T) *PhaseSet {
	t.Helper()
	dir := t.TempDir()
	planFile := filepath.Join(dir, "plan-001-x.md")
	return &PhaseSet{
		Version:         1,
		PlanID:          "plan-001",
		PlanFile:        planFile,
		PlanContentHash: ContentHash("content"),
		Phases: []*Phase{
			{ID: "phase-1", Kind: KindImplement, Title: "first", Status: PhasePending},
			{ID: "phase-2", Kind: KindImplement, Title: "second", Status: PhasePending, DependsOn: []string{"phase-1"}},
			{ID: "phase-3", Kind: KindAudit, Title: "audit", Status: PhasePending, DependsOn: []string{"phase-1", "phase-2"}},
		},
	}
}

func TestNextPhasePriorities(t *testing.T) {
	set := samplePhaseSet(t)
	if got := set.NextPhase(); got == nil || got.ID != "phase-1" {
		t.Fatalf("first pending = %+v", got)
	}

	set.Phases[0].Status = PhaseDone
	if got := set.NextPhase(); got == nil || got.ID != "phase-2" {
		t.Fatalf("deps-satisfied pending = %+v", got)
	}

	set.Phases[1].Status = PhaseFailed
	if got := set.NextPhase(); got == nil || got.ID != "phase-2" {
		t.Fatalf("failed must outrank pending = %+v", got)
	}

	set.Phases[2].Status = PhaseInProgress
	if got := set.NextPhase(); got == nil || got.ID != "phase-3" {
		t.Fatalf("in-progress must outrank all = %+v", got)
	}
}

func TestNextPhaseBlockedDeps(t *testing.T) {
	set := samplePhaseSet(t)
	set.Phases[0].Status = PhaseSkipped
	// phase-2 depends only on phase-1 (skipped counts as satisfied).
	if got := set.NextPhase(); got == nil || got.ID != "phase-2" {
		t.Fatalf("skipped dep must satisfy: %+v", got)
	}
}

func TestSidecarPathsUsePlanID(t *testing.T) {
	set := samplePhaseSet(t)
	dir := filepath.Dir(set.PlanFile)
	if got, want := set.JSONPath(), filepath.Join(dir, "plan-001-phases.json"); got != want {
		t.Fatalf("JSONPath() = %q, want %q", got, want)
	}
	if got, want := set.MarkdownPath(), filepath.Join(dir, "plan-001-phases.md"); got != want {
		t.Fatalf("MarkdownPath() = %q, want %q", got, want)
	}
}

func TestSaveStampsTimestamps(t *testing.T) {
	set := samplePhaseSet(t)
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if set.CreatedAt == "" || set.UpdatedAt == "" {
		t.Fatalf("Save() must stamp created_at/updated_at: %+v", set)
	}
	created := set.CreatedAt
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if set.CreatedAt != created {
		t.Fatalf("created_at changed on re-save: %q -> %q", created, set.CreatedAt)
	}

	loaded, err := LoadPhases(set.PlanFile, set.PlanID)
	if err != nil {
		t.Fatalf("LoadPhases() error = %v", err)
	}
	if loaded.CreatedAt != created || loaded.UpdatedAt == "" {
		t.Fatalf("timestamps lost on round trip: %+v", loaded)
	}
}

func TestSaveAndLoadJSON(t *testing.T) {
	set := samplePhaseSet(t)
	set.Phases[0].ModifiedFiles = []string{"a.go"}
	set.Phases[0].FailureHashes = map[string]string{"a.go": "deadbeefdeadbeef"}
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadPhases(set.PlanFile, set.PlanID)
	if err != nil {
		t.Fatalf("LoadPhases() error = %v", err)
	}
	if loaded.PlanContentHash != set.PlanContentHash {
		t.Fatalf("hash = %q, want %q", loaded.PlanContentHash, set.PlanContentHash)
	}
	if len(loaded.Phases) != 3 {
		t.Fatalf("phases = %d, want 3", len(loaded.Phases))
	}
	if loaded.Phases[0].FailureHashes["a.go"] != "deadbeefdeadbeef" {
		t.Fatalf("failure hashes lost: %+v", loaded.Phases[0])
	}
}

func TestLoadPrefersJSONFallsBackToMarkdown(t *testing.T) {
	set := samplePhaseSet(t)
	if err := set.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Corrupt the JSON sidecar; the markdown must carry the load.
	if err := os.WriteFile(set.JSONPath(), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	loaded, err := LoadPhases(set.PlanFile, set.PlanID)
	if err != nil {
		t.Fatalf("LoadPhases() error = %v", err)
	}
	if len(loaded.Phases) != 3 || loaded.Phases[2].Kind != KindAudit {
		t.Fatalf("markdown fallback lost phases: %+v", loaded.Phases)
	}
	if loaded.PlanContentHash != set.PlanContentHash {
		t.Fatalf("markdown fallback lost hash")
	}

	// The JSON sidecar was back-filled.
	again, err := LoadPhases(set.PlanFile, set.PlanID)
	if err != nil {
		t.Fatalf("LoadPhases() after back-fill error = %v", err)
	}
	if len(again.Phases) != 3 {
		t.Fatalf("back-filled JSON unusable")
	}
}

func TestCheckStale(t *testing.T) {
	set := samplePhaseSet(t)
	if err := set.CheckStale("content"); err != nil {
		t.Fatalf("CheckStale() on matching content error = %v", err)
	}
	err := set.CheckStale("content changed")
	if err == nil {
		t.Fatalf("CheckStale() must fail on changed content")
	}
	got := err.Error()
	if !strings.Contains(got, "Plan file has changed") {
		t.Fatalf("stale message must name the changed plan file: %q", got)
	}
	if !strings.Contains(got, "!plan phases --regenerate") {
		t.Fatalf("stale message must point to regenerate: %q", got)
	}
}

func TestAllSettled(t *testing.T) {
	set := samplePhaseSet(t)
	if set.AllSettled() {
		t.Fatalf("pending set must not be settled")
	}
	set.Phases[0].Status = PhaseDone
	set.Phases[1].Status = PhaseSkipped
	set.Phases[2].Status = PhaseDone
	if !set.AllSettled() {
		t.Fatalf("done+skipped set must be settled")
	}
}
