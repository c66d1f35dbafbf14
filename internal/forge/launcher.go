package forge

import (
	"context"
	"os"

	"github.com/DiscoClaw/discoclaw-sub001/internal/plan"
)

// Launcher adapts Forge to fire-and-forget starts for the action
// executor: the run proceeds in the background and reports through the
// notify callback.
type Launcher struct {
	Forge    *Forge
	PlansDir string

	// Notify receives progress from background runs. Nil discards it.
	Notify ProgressFunc
}

func (l *Launcher) progress() ProgressFunc {
	if l.Notify != nil {
		return l.Notify
	}
	return func(string, bool) {}
}

// StartRun begins a background draft run.
func (l *Launcher) StartRun(ctx context.Context, description string) (string, error) {
	if running, id := l.Forge.Status(); running {
		return "", &busyError{planID: id}
	}
	go l.Forge.Run(context.Background(), description, Options{}, l.progress())
	return "Forge started", nil
}

// StartResume begins a background resume of planID.
func (l *Launcher) StartResume(ctx context.Context, planID string) (string, error) {
	if running, id := l.Forge.Status(); running {
		return "", &busyError{planID: id}
	}
	path, err := plan.FindFile(l.PlansDir, planID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	title := plan.ParseHeader(string(data)).Title
	go l.Forge.Resume(context.Background(), planID, path, title, l.progress())
	return "Forge resumed for " + planID, nil
}

// RequestCancel forwards to the underlying forge.
func (l *Launcher) RequestCancel() bool {
	return l.Forge.RequestCancel()
}

type busyError struct{ planID string }

func (e *busyError) Error() string {
	if e.planID != "" {
		return "forge is busy with " + e.planID
	}
	return ErrConcurrentForge.Error()
}
