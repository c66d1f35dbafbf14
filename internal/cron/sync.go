package cron

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DiscoClaw/discoclaw-sub001/internal/debounce"
)

// Coordinator keeps the scheduler's registry reconciled with the forum
// threads. Thread-change events and tag-map edits both land on one
// debounced trigger so a burst of changes produces a single sync.
type Coordinator struct {
	scheduler  *Scheduler
	tagMapPath string
	logger     *slog.Logger
	trigger    *debounce.Trigger
	watcher    *fsnotify.Watcher
}

// NewCoordinator creates a sync coordinator with the given quiet
// period.
func NewCoordinator(ctx context.Context, scheduler *Scheduler, tagMapPath string, quiet time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default().With("component", "cron")
	}
	c := &Coordinator{
		scheduler:  scheduler,
		tagMapPath: tagMapPath,
		logger:     logger,
	}
	c.trigger = debounce.NewTrigger(quiet, func() {
		if err := scheduler.Sync(ctx); err != nil {
			logger.Warn("cron sync failed", "error", err)
		}
	})
	return c
}

// NotifyThreadChange signals that the cron forum changed.
func (c *Coordinator) NotifyThreadChange() {
	c.trigger.Fire()
}

// WatchTagMap watches the tag-map file's directory for edits. The
// directory is watched rather than the file so atomic replaces keep
// the watch alive.
func (c *Coordinator) WatchTagMap(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(c.tagMapPath)); err != nil {
		watcher.Close()
		return err
	}
	c.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(c.tagMapPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					c.trigger.Fire()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("tag-map watch error", "error", err)
			}
		}
	}()
	return nil
}

// Stop cancels any pending sync.
func (c *Coordinator) Stop() {
	c.trigger.Stop()
}
