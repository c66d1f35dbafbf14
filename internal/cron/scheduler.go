package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/metrics"
)

const maxJitter = 30 * time.Second

// Runner executes one job's prompt.
type Runner interface {
	Run(ctx context.Context, job *Job) error
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, job *Job) error

// Run executes the runner function.
func (f RunnerFunc) Run(ctx context.Context, job *Job) error { return f(ctx, job) }

// Scheduler mirrors jobs from a JobSource and fires them on schedule.
// Fire times carry a small uniform jitter so a fleet of bots does not
// hit the runtime in lockstep.
type Scheduler struct {
	source       JobSource
	runner       Runner
	locks        *Locks
	stats        *Stats
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
	jitter       func() time.Duration
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics configures the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithJitter overrides the fire-time jitter for tests.
func WithJitter(jitter func() time.Duration) Option {
	return func(s *Scheduler) {
		if jitter != nil {
			s.jitter = jitter
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler creates a scheduler over source. Jobs run through
// runner under per-job file locks.
func NewScheduler(source JobSource, runner Runner, locks *Locks, stats *Stats, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:       source,
		runner:       runner,
		locks:        locks,
		stats:        stats,
		logger:       slog.Default().With("component", "cron"),
		now:          time.Now,
		jitter:       func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter))) },
		tickInterval: time.Second,
		jobs:         make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverInterrupted removes locks older than threshold and marks
// their jobs' last runs as interrupted. Call once at startup.
func (s *Scheduler) RecoverInterrupted(threshold time.Duration) error {
	recovered, err := s.locks.RecoverStale(threshold)
	if err != nil {
		return err
	}
	for _, jobID := range recovered {
		s.logger.Warn("recovered stale cron lock", "job", jobID)
		if s.stats != nil {
			if err := s.stats.MarkInterrupted(jobID); err != nil {
				s.logger.Warn("stats update failed", "job", jobID, "error", err)
			}
		}
	}
	return nil
}

// Sync reconciles the in-memory registry with the job source. Known
// jobs keep their fire time unless the schedule line changed.
func (s *Scheduler) Sync(ctx context.Context) error {
	jobs, err := s.source.ListJobs(ctx)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]*Job, len(jobs))
	for _, job := range jobs {
		if prev, ok := s.jobs[job.ID]; ok && prev.Schedule == job.Schedule {
			job.NextRun = prev.NextRun
			job.LastRun = prev.LastRun
			job.LastError = prev.LastError
		} else {
			fire, err := job.Schedule.Next(now)
			if err != nil {
				s.logger.Warn("cron job skipped", "job", job.ID, "error", err)
				continue
			}
			job.NextRun = fire.Add(s.jitter())
		}
		next[job.ID] = job
	}
	s.jobs = next
	s.logger.Debug("cron registry synced", "jobs", len(next))
	return nil
}

// Start runs the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the loop and any in-flight runs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires due jobs immediately and reports how many started.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	var due []*Job
	s.mu.Lock()
	for _, job := range s.jobs {
		if !job.NextRun.IsZero() && !now.Before(job.NextRun) {
			if fire, err := job.Schedule.Next(now); err == nil {
				job.NextRun = fire.Add(s.jitter())
			} else {
				job.NextRun = time.Time{}
			}
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx, job)
		}()
	}
	return len(due)
}

// execute runs one job under its file lock.
func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	release, err := s.locks.Acquire(job.ID)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			s.countRun("busy")
			s.logger.Debug("cron job busy", "job", job.ID)
			return err
		}
		s.countRun("error")
		return err
	}
	defer release()

	start := s.now()
	if s.stats != nil {
		if err := s.stats.RecordStart(job.ID, start); err != nil {
			s.logger.Warn("stats write failed", "job", job.ID, "error", err)
		}
	}
	s.logger.Info("cron job started", "job", job.ID, "name", job.Name)

	runErr := s.runner.Run(ctx, job)

	result := ResultOK
	if runErr != nil {
		result = ResultError
		s.logger.Warn("cron job failed", "job", job.ID, "error", runErr)
	}
	if s.stats != nil {
		if err := s.stats.RecordEnd(job.ID, s.now(), result); err != nil {
			s.logger.Warn("stats write failed", "job", job.ID, "error", err)
		}
	}
	s.countRun(result)

	s.mu.Lock()
	if cur, ok := s.jobs[job.ID]; ok {
		cur.LastRun = start
		if runErr != nil {
			cur.LastError = runErr.Error()
		} else {
			cur.LastError = ""
		}
	}
	s.mu.Unlock()
	return runErr
}

func (s *Scheduler) countRun(result string) {
	if s.metrics != nil {
		s.metrics.CronRuns.WithLabelValues(result).Inc()
	}
}

// Jobs returns a snapshot of the registry sorted by id.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copyJob := *job
		out = append(out, &copyJob)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListJobs renders the registry for the crons action surface.
func (s *Scheduler) ListJobs(ctx context.Context) (string, error) {
	jobs := s.Jobs()
	if len(jobs) == 0 {
		return "no cron jobs", nil
	}
	var b strings.Builder
	for _, job := range jobs {
		fmt.Fprintf(&b, "- %s %q (%s)", job.ID, job.Name, job.Schedule)
		if !job.NextRun.IsZero() {
			fmt.Fprintf(&b, " next %s", job.NextRun.UTC().Format(time.RFC3339))
		}
		if job.LastError != "" {
			fmt.Fprintf(&b, " last error: %s", job.LastError)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// RunJob fires one job immediately, outside its schedule.
func (s *Scheduler) RunJob(ctx context.Context, jobID string) (string, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	var copyJob Job
	if ok {
		copyJob = *job
	}
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("cron job %s not found", jobID)
	}
	if err := s.execute(ctx, &copyJob); err != nil {
		if errors.Is(err, ErrLockHeld) {
			return "", fmt.Errorf("cron job %s is already running", jobID)
		}
		return "", err
	}
	return fmt.Sprintf("cron job %s ran", jobID), nil
}
