package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockHeld marks a job whose lock is already taken.
var ErrLockHeld = errors.New("cron: job lock held")

// Locks manages per-job file locks. At most one process runs a job at
// a time; the lock file records who holds it and since when.
type Locks struct {
	Dir string
}

type lockInfo struct {
	PID      int       `json:"pid"`
	Acquired time.Time `json:"acquired"`
}

func (l *Locks) path(jobID string) string {
	return filepath.Join(l.Dir, jobID)
}

// Acquire takes the lock for jobID. Returns ErrLockHeld when another
// holder exists; the returned release function removes the lock.
func (l *Locks) Acquire(jobID string) (func(), error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, err
	}
	path := l.path(jobID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, jobID)
		}
		return nil, err
	}
	info := lockInfo{PID: os.Getpid(), Acquired: time.Now().UTC()}
	data, _ := json.Marshal(info)
	f.Write(data)
	f.Close()
	return func() { os.Remove(path) }, nil
}

// RecoverStale removes lock files older than threshold and returns the
// job ids they belonged to. Runs at startup: a lock that outlived the
// heartbeat threshold belongs to an interrupted run.
func (l *Locks) RecoverStale(threshold time.Duration) ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	cutoff := time.Now().Add(-threshold)
	var recovered []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(l.Dir, entry.Name())
		acquired := lockAge(path)
		if acquired.After(cutoff) {
			continue
		}
		if err := os.Remove(path); err == nil {
			recovered = append(recovered, entry.Name())
		}
	}
	return recovered, nil
}

// lockAge reads the recorded acquisition time, falling back to the file
// mtime when the payload is unreadable.
func lockAge(path string) time.Time {
	if data, err := os.ReadFile(path); err == nil {
		var info lockInfo
		if json.Unmarshal(data, &info) == nil && !info.Acquired.IsZero() {
			return info.Acquired
		}
	}
	if fi, err := os.Stat(path); err == nil {
		return fi.ModTime()
	}
	return time.Time{}
}
