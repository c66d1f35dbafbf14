package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionRecord maps a stable session key to a runtime-native session id.
type SessionRecord struct {
	Key        string    `json:"key"`
	RuntimeID  string    `json:"runtime_id"`
	NativeID   string    `json:"native_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Sessions persists the key -> native id map as a single JSON file that
// is atomically rewritten on change. Writers are serialized by an
// internal lock.
type Sessions struct {
	mu      sync.Mutex
	path    string
	records map[string]*SessionRecord
	now     func() time.Time
}

type sessionsFile struct {
	Records map[string]*SessionRecord `json:"records"`
}

// OpenSessions loads (or initializes) the session map at path. A corrupt
// file is treated as empty.
func OpenSessions(path string) (*Sessions, error) {
	s := &Sessions{
		path:    path,
		records: make(map[string]*SessionRecord),
		now:     time.Now,
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: read %s: %w", path, err)
	}
	var file sessionsFile
	if err := json.Unmarshal(data, &file); err == nil && file.Records != nil {
		s.records = file.Records
	}
	return s, nil
}

// Lookup returns the native id bound to key for runtimeID, if any.
func (s *Sessions) Lookup(key, runtimeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.RuntimeID != runtimeID {
		return "", false
	}
	rec.LastUsedAt = s.now()
	return rec.NativeID, true
}

// Bind associates key with a runtime-native session id and persists the
// map.
func (s *Sessions) Bind(key, runtimeID, nativeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	rec, ok := s.records[key]
	if !ok {
		rec = &SessionRecord{Key: key, CreatedAt: now}
		s.records[key] = rec
	}
	rec.RuntimeID = runtimeID
	rec.NativeID = nativeID
	rec.LastUsedAt = now
	return s.flushLocked()
}

// Forget drops the record for key, if present.
func (s *Sessions) Forget(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return nil
	}
	delete(s.records, key)
	return s.flushLocked()
}

// Len returns the number of stored records.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Sessions) flushLocked() error {
	data, err := json.MarshalIndent(sessionsFile{Records: s.records}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
