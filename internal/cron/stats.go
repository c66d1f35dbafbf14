package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Run results recorded in stats.
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultInterrupted = "interrupted"
)

// JobStats is the persisted per-job run record.
type JobStats struct {
	Runs       int       `json:"runs"`
	Failures   int       `json:"failures"`
	LastStart  time.Time `json:"last_start,omitempty"`
	LastEnd    time.Time `json:"last_end,omitempty"`
	LastResult string    `json:"last_result,omitempty"`
}

// Stats persists run statistics to a single JSON file.
type Stats struct {
	mu   sync.Mutex
	path string
	jobs map[string]*JobStats
}

// OpenStats loads the stats file. A corrupt file is moved aside to a
// timestamped .bak and treated as empty.
func OpenStats(path string) (*Stats, error) {
	s := &Stats{path: path, jobs: make(map[string]*JobStats)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &s.jobs); err != nil {
		backup := fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format("20060102T150405"))
		os.Rename(path, backup)
		s.jobs = make(map[string]*JobStats)
	}
	return s, nil
}

// RecordStart notes a run beginning.
func (s *Stats) RecordStart(jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(jobID)
	st.Runs++
	st.LastStart = at.UTC()
	st.LastResult = ""
	return s.persistLocked()
}

// RecordEnd notes a run finishing with result.
func (s *Stats) RecordEnd(jobID string, at time.Time, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(jobID)
	st.LastEnd = at.UTC()
	st.LastResult = result
	if result != ResultOK {
		st.Failures++
	}
	return s.persistLocked()
}

// MarkInterrupted flags a job whose previous run never completed.
func (s *Stats) MarkInterrupted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(jobID)
	st.LastResult = ResultInterrupted
	st.Failures++
	return s.persistLocked()
}

// Get returns a copy of the stats for jobID.
func (s *Stats) Get(jobID string) (JobStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return JobStats{}, false
	}
	return *st, true
}

func (s *Stats) get(jobID string) *JobStats {
	st, ok := s.jobs[jobID]
	if !ok {
		st = &JobStats{}
		s.jobs[jobID] = st
	}
	return st
}

func (s *Stats) persistLocked() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
