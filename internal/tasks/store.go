// Package tasks implements the append-only JSONL task store backing the
// forge orchestrator and the task actions.
package tasks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// ExternalRefs links a task to chat-service artifacts.
type ExternalRefs struct {
	ThreadID string `json:"thread_id,omitempty"`
}

// Task is one task record. The JSONL file holds every revision; the
// in-memory index keeps only the latest per id.
type Task struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Status       Status       `json:"status"`
	Labels       []string     `json:"labels,omitempty"`
	ExternalRefs ExternalRefs `json:"external_refs"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Store is the JSONL-backed task store. Mutations append a full record
// revision; Load rebuilds the index from the file.
type Store struct {
	mu      sync.Mutex
	path    string
	prefix  string
	counter int
	index   map[string]*Task
	now     func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithPrefix overrides the id prefix (default "ws-").
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// Open loads (or initializes) the store at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		prefix: "ws-",
		index:  make(map[string]*Task),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(line), &task); err != nil {
			// Skip malformed lines; the rest of the log is still usable.
			continue
		}
		s.index[task.ID] = &task
		if n, ok := parseSeq(task.ID, s.prefix); ok && n > s.counter {
			s.counter = n
		}
	}
	return scanner.Err()
}

func parseSeq(id, prefix string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimPrefix(id, prefix), "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// Create appends a new open task and returns it.
func (s *Store) Create(title, description string, labels []string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	now := s.now()
	task := &Task{
		ID:          fmt.Sprintf("%s%d", s.prefix, s.counter),
		Title:       title,
		Description: description,
		Status:      StatusOpen,
		Labels:      labels,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.appendLocked(task); err != nil {
		s.counter--
		return nil, err
	}
	s.index[task.ID] = task
	return task, nil
}

// Get returns the task by id.
func (s *Store) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.index[id]
	if !ok {
		return nil, false
	}
	clone := *task
	return &clone, true
}

// List returns tasks sorted by id, optionally filtered by status.
func (s *Store) List(status Status) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.index))
	for _, task := range s.index {
		if status != "" && task.Status != status {
			continue
		}
		clone := *task
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindOpenByTitle returns a non-closed task whose title matches
// case-insensitively, if one exists. The forge orchestrator uses this
// for dedup.
func (s *Store) FindOpenByTitle(title string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lowered := strings.ToLower(strings.TrimSpace(title))
	for _, task := range s.index {
		if task.Status == StatusClosed {
			continue
		}
		if strings.ToLower(strings.TrimSpace(task.Title)) == lowered {
			clone := *task
			return &clone, true
		}
	}
	return nil, false
}

// Update applies fn to the task and appends the new revision.
func (s *Store) Update(id string, fn func(*Task)) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("tasks: %s not found", id)
	}
	clone := *task
	fn(&clone)
	clone.ID = task.ID // id is immutable
	clone.CreatedAt = task.CreatedAt
	clone.UpdatedAt = s.now()
	if err := s.appendLocked(&clone); err != nil {
		return nil, err
	}
	s.index[id] = &clone
	result := clone
	return &result, nil
}

// SetStatus is a convenience wrapper over Update.
func (s *Store) SetStatus(id string, status Status) (*Task, error) {
	return s.Update(id, func(t *Task) { t.Status = status })
}

// AddLabel appends a label if absent.
func (s *Store) AddLabel(id, label string) (*Task, error) {
	return s.Update(id, func(t *Task) {
		for _, l := range t.Labels {
			if l == label {
				return
			}
		}
		t.Labels = append(t.Labels, label)
	})
}

func (s *Store) appendLocked(task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return err
	}
	return file.Sync()
}
