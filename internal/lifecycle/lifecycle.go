// Package lifecycle owns process-level startup and shutdown state: the
// PID lock, the boot marker, the system scaffold, and the shutdown
// context handed from one run to the next.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrAlreadyRunning marks a PID lock held by another instance.
var ErrAlreadyRunning = errors.New("lifecycle: another instance is running")

// AcquirePIDLock claims the process lock directory. Directory creation
// is atomic, so presence means another instance holds it. The returned
// release function removes the lock.
func AcquirePIDLock(dir string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, dir)
		}
		return nil, err
	}
	pidPath := filepath.Join(dir, "pid")
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
	return func() { os.RemoveAll(dir) }, nil
}

// FirstBoot reports whether the boot marker is absent, writing it so
// subsequent boots see it.
func FirstBoot(markerPath string) (bool, error) {
	if _, err := os.Stat(markerPath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	content := fmt.Sprintf("booted %s\n", time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(markerPath, []byte(content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// Scaffold records the chat-service structures the bot provisioned.
type Scaffold struct {
	GuildID          string `json:"guild_id,omitempty"`
	SystemCategoryID string `json:"system_category_id,omitempty"`
	CronForumID      string `json:"cron_forum_id,omitempty"`
	TasksForumID     string `json:"tasks_forum_id,omitempty"`
}

// LoadScaffold reads the scaffold file. Missing or corrupt files yield
// an empty scaffold; corrupt files are moved aside first.
func LoadScaffold(path string) (*Scaffold, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Scaffold{}, nil
		}
		return nil, err
	}
	var s Scaffold
	if err := json.Unmarshal(data, &s); err != nil {
		backupCorrupt(path)
		return &Scaffold{}, nil
	}
	return &s, nil
}

// SaveScaffold writes the scaffold atomically.
func SaveScaffold(path string, s *Scaffold) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ShutdownContext is a note the bot leaves for its next boot.
type ShutdownContext struct {
	At      time.Time `json:"at"`
	Reason  string    `json:"reason,omitempty"`
	Summary string    `json:"summary,omitempty"`
}

// WriteShutdownContext records a clean shutdown.
func WriteShutdownContext(path, reason, summary string) error {
	sc := ShutdownContext{At: time.Now().UTC(), Reason: reason, Summary: summary}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ConsumeShutdownContext reads and clears the previous run's shutdown
// context. Nil without error means there was none.
func ConsumeShutdownContext(path string) (*ShutdownContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sc ShutdownContext
	if err := json.Unmarshal(data, &sc); err != nil {
		backupCorrupt(path)
		return nil, nil
	}
	if err := os.Remove(path); err != nil {
		return nil, err
	}
	return &sc, nil
}

// backupCorrupt moves a damaged JSON file aside with a timestamp
// suffix so the next write starts clean.
func backupCorrupt(path string) {
	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format("20060102T150405"))
	os.Rename(path, backup)
}
