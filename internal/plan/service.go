package plan

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Service is the action-facing surface over the phase engine.
type Service struct {
	Engine          *Engine
	PlansDir        string
	MaxContextFiles int
}

// Phases generates (or regenerates) the phase set for planID and
// returns a summary listing.
func (s *Service) Phases(ctx context.Context, planID string) (string, error) {
	planFile, err := FindFile(s.PlansDir, planID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(planFile)
	if err != nil {
		return "", err
	}
	content := string(data)

	set, err := LoadPhases(planFile, planID)
	if err != nil || set.CheckStale(content) != nil {
		set = Decompose(content, planID, planFile, s.MaxContextFiles)
		if err := set.Save(); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d phases\n", planID, len(set.Phases))
	for _, p := range set.Phases {
		fmt.Fprintf(&b, "- %s [%s] %s\n", p.ID, p.Status, p.Title)
	}
	return b.String(), nil
}

// RunNext executes the next phase and describes the outcome.
func (s *Service) RunNext(ctx context.Context, planID string) (string, error) {
	out := s.Engine.RunNext(ctx, planID, nil)
	switch out.Status {
	case OutcomeDone:
		if out.Commit != "" {
			return fmt.Sprintf("%s done (commit %s)", out.PhaseID, out.Commit), nil
		}
		return out.PhaseID + " done", nil
	case OutcomeClosed:
		return out.Message, nil
	case OutcomeNothing:
		return out.Message, nil
	case OutcomeStale, OutcomeRetryBlocked, OutcomeAuditFailed, OutcomeFailed:
		return "", fmt.Errorf("%s: %s", out.Status, out.Message)
	default:
		return "", fmt.Errorf("unexpected outcome %s", out.Status)
	}
}

// Approve moves a DRAFT or REVIEW plan to APPROVED.
func (s *Service) Approve(ctx context.Context, planID string) (string, error) {
	planFile, err := FindFile(s.PlansDir, planID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(planFile)
	if err != nil {
		return "", err
	}
	content := string(data)
	header := ParseHeader(content)
	switch header.Status {
	case StatusDraft, StatusReview:
	case StatusApproved:
		return planID + " is already approved", nil
	default:
		return "", fmt.Errorf("cannot approve plan %s with status %s", planID, header.Status)
	}
	if err := WriteFileAtomic(planFile, SetStatus(content, StatusApproved)); err != nil {
		return "", err
	}
	return planID + " approved", nil
}
