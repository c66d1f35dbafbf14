// Package deferred schedules future prompt replays: a model response
// may ask to be re-invoked later in the same channel.
package deferred

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler receives a fired deferral and is expected to rebuild the
// prompt context and post the result to the channel.
type Handler func(channelID, prompt string)

// Scheduler enforces the deferral bounds: a maximum delay and a
// per-process cap on concurrently pending deferrals.
type Scheduler struct {
	maxDelay      time.Duration
	maxConcurrent int
	handler       Handler
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// New creates a scheduler. Non-positive bounds fall back to the
// defaults (30 minutes, 5 pending).
func New(maxDelay time.Duration, maxConcurrent int, handler Handler, logger *slog.Logger) *Scheduler {
	if maxDelay <= 0 {
		maxDelay = 30 * time.Minute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		maxDelay:      maxDelay,
		maxConcurrent: maxConcurrent,
		handler:       handler,
		logger:        logger.With("component", "deferred"),
		now:           time.Now,
		pending:       make(map[string]*time.Timer),
	}
}

// SetNow overrides the clock for tests.
func (s *Scheduler) SetNow(now func() time.Time) { s.now = now }

// Schedule queues a re-invocation of prompt in channelID at firesAt.
func (s *Scheduler) Schedule(channelID, prompt string, firesAt time.Time) error {
	if channelID == "" {
		return fmt.Errorf("defer: channel required")
	}
	if prompt == "" {
		return fmt.Errorf("defer: prompt required")
	}
	delay := firesAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	if delay > s.maxDelay {
		return fmt.Errorf("defer: delay %s exceeds maximum %s", delay.Round(time.Second), s.maxDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("defer: scheduler stopped")
	}
	if len(s.pending) >= s.maxConcurrent {
		return fmt.Errorf("defer: %d deferrals already pending (max %d)", len(s.pending), s.maxConcurrent)
	}

	id := uuid.NewString()
	s.pending[id] = time.AfterFunc(delay, func() { s.fire(id, channelID, prompt) })
	s.logger.Info("deferral scheduled", "id", id, "channel", channelID, "delay", delay.Round(time.Second))
	return nil
}

func (s *Scheduler) fire(id, channelID, prompt string) {
	s.mu.Lock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	stopped := s.stopped
	s.mu.Unlock()
	if !ok || stopped {
		return
	}
	s.logger.Info("deferral fired", "id", id, "channel", channelID)
	s.handler(channelID, prompt)
}

// Pending returns the number of queued deferrals.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels all pending deferrals.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
}
