package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Phase kinds.
const (
	KindRead      = "read"
	KindImplement = "implement"
	KindAudit     = "audit"
)

// Phase statuses.
const (
	PhasePending    = "pending"
	PhaseInProgress = "in-progress"
	PhaseDone       = "done"
	PhaseFailed     = "failed"
	PhaseSkipped    = "skipped"
)

// Phase is one unit of plan execution.
type Phase struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Kind          string            `json:"kind"`
	Description   string            `json:"description"`
	Status        string            `json:"status"`
	DependsOn     []string          `json:"depends_on,omitempty"`
	ContextFiles  []string          `json:"context_files,omitempty"`
	ChangeSpec    string            `json:"change_spec,omitempty"`
	Output        string            `json:"output,omitempty"`
	Error         string            `json:"error,omitempty"`
	GitCommit     string            `json:"git_commit,omitempty"`
	ModifiedFiles []string          `json:"modified_files,omitempty"`
	FailureHashes map[string]string `json:"failure_hashes,omitempty"`
}

// PhaseSet is the full decomposition of one plan.
type PhaseSet struct {
	Version         int      `json:"version"`
	PlanID          string   `json:"plan_id"`
	PlanFile        string   `json:"plan_file"`
	PlanContentHash string   `json:"plan_content_hash"`
	Phases          []*Phase `json:"phases"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// Find returns the phase with id.
func (s *PhaseSet) Find(id string) *Phase {
	for _, p := range s.Phases {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// NextPhase selects the phase to run: any in-progress phase first, then
// any failed phase, then the first pending phase whose dependencies are
// all done or skipped. Nil means nothing to run.
func (s *PhaseSet) NextPhase() *Phase {
	for _, p := range s.Phases {
		if p.Status == PhaseInProgress {
			return p
		}
	}
	for _, p := range s.Phases {
		if p.Status == PhaseFailed {
			return p
		}
	}
	for _, p := range s.Phases {
		if p.Status != PhasePending {
			continue
		}
		ready := true
		for _, dep := range p.DependsOn {
			d := s.Find(dep)
			if d == nil || (d.Status != PhaseDone && d.Status != PhaseSkipped) {
				ready = false
				break
			}
		}
		if ready {
			return p
		}
	}
	return nil
}

// AllSettled reports whether every phase is done or skipped.
func (s *PhaseSet) AllSettled() bool {
	for _, p := range s.Phases {
		if p.Status != PhaseDone && p.Status != PhaseSkipped {
			return false
		}
	}
	return len(s.Phases) > 0
}

// Sidecar paths next to the plan file: <plan-id>-phases.md and
// <plan-id>-phases.json.

func phasesStem(planFile, planID string) string {
	return filepath.Join(filepath.Dir(planFile), planID+"-phases")
}

// MarkdownPath returns the human-readable sidecar path.
func (s *PhaseSet) MarkdownPath() string { return phasesStem(s.PlanFile, s.PlanID) + ".md" }

// JSONPath returns the canonical sidecar path.
func (s *PhaseSet) JSONPath() string { return phasesStem(s.PlanFile, s.PlanID) + ".json" }

// Save writes both sidecars atomically. The JSON file is canonical.
func (s *PhaseSet) Save() error {
	now := time.Now().UTC().Format(time.RFC3339)
	if s.CreatedAt == "" {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(s.JSONPath(), string(data)+"\n"); err != nil {
		return err
	}
	return WriteFileAtomic(s.MarkdownPath(), s.renderMarkdown())
}

func (s *PhaseSet) renderMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Phases for %s\n\n", s.PlanID)
	fmt.Fprintf(&b, "**Plan hash:** %s\n\n", s.PlanContentHash)
	for _, p := range s.Phases {
		fmt.Fprintf(&b, "## %s [%s] %s\n\n", p.ID, p.Status, p.Title)
		fmt.Fprintf(&b, "- kind: %s\n", p.Kind)
		if p.Description != "" {
			fmt.Fprintf(&b, "- description: %s\n", p.Description)
		}
		if len(p.DependsOn) > 0 {
			fmt.Fprintf(&b, "- depends_on: %s\n", strings.Join(p.DependsOn, ", "))
		}
		for _, f := range p.ContextFiles {
			fmt.Fprintf(&b, "- context: `%s`\n", f)
		}
		if p.GitCommit != "" {
			fmt.Fprintf(&b, "- commit: %s\n", p.GitCommit)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var (
	mdPhaseRe = regexp.MustCompile(`(?m)^## (\S+) \[([a-z-]+)\] (.+)$`)
	mdHashRe  = regexp.MustCompile(`\*\*Plan hash:\*\*\s*([0-9a-f]{16})`)
	mdKindRe  = regexp.MustCompile(`(?m)^- kind: (\w+)$`)
	mdDescRe  = regexp.MustCompile(`(?m)^- description: (.+)$`)
	mdDepsRe  = regexp.MustCompile(`(?m)^- depends_on: (.+)$`)
	mdCtxRe   = regexp.MustCompile("(?m)^- context: `([^`]+)`$")
)

// LoadPhases reads the sidecars for planFile. JSON is preferred; on a
// JSON parse error the markdown is used and the JSON back-filled.
func LoadPhases(planFile, planID string) (*PhaseSet, error) {
	stem := phasesStem(planFile, planID)

	data, jsonErr := os.ReadFile(stem + ".json")
	if jsonErr == nil {
		var set PhaseSet
		if err := json.Unmarshal(data, &set); err == nil {
			return &set, nil
		}
	}

	mdData, err := os.ReadFile(stem + ".md")
	if err != nil {
		if jsonErr != nil {
			return nil, fmt.Errorf("no phases for %s: %w", planID, jsonErr)
		}
		return nil, err
	}
	set := parseMarkdownPhases(string(mdData), planID, planFile)
	// Best-effort back-fill of the canonical sidecar.
	_ = set.Save()
	return set, nil
}

func parseMarkdownPhases(content, planID, planFile string) *PhaseSet {
	set := &PhaseSet{Version: 1, PlanID: planID, PlanFile: planFile}
	if m := mdHashRe.FindStringSubmatch(content); m != nil {
		set.PlanContentHash = m[1]
	}
	blocks := mdPhaseRe.FindAllStringSubmatchIndex(content, -1)
	for i, loc := range blocks {
		end := len(content)
		if i+1 < len(blocks) {
			end = blocks[i+1][0]
		}
		body := content[loc[1]:end]
		p := &Phase{
			ID:     content[loc[2]:loc[3]],
			Status: content[loc[4]:loc[5]],
			Title:  strings.TrimSpace(content[loc[6]:loc[7]]),
		}
		if m := mdKindRe.FindStringSubmatch(body); m != nil {
			p.Kind = m[1]
		}
		if m := mdDescRe.FindStringSubmatch(body); m != nil {
			p.Description = strings.TrimSpace(m[1])
		}
		if m := mdDepsRe.FindStringSubmatch(body); m != nil {
			for _, dep := range strings.Split(m[1], ",") {
				p.DependsOn = append(p.DependsOn, strings.TrimSpace(dep))
			}
		}
		for _, m := range mdCtxRe.FindAllStringSubmatch(body, -1) {
			p.ContextFiles = append(p.ContextFiles, m[1])
		}
		set.Phases = append(set.Phases, p)
	}
	return set
}

// CheckStale compares the stored plan hash against the current content.
func (s *PhaseSet) CheckStale(planContent string) error {
	current := ContentHash(planContent)
	if s.PlanContentHash != current {
		return fmt.Errorf("Plan file has changed since phases were generated for %s (hash %s, now %s); run `!plan phases --regenerate`", s.PlanID, s.PlanContentHash, current)
	}
	return nil
}
