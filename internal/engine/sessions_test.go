package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionsBindAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := OpenSessions(path)
	if err != nil {
		t.Fatalf("OpenSessions() error = %v", err)
	}
	if err := s.Bind("forge-plan-017:capable:drafter", "claude", "native-1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	id, ok := s.Lookup("forge-plan-017:capable:drafter", "claude")
	if !ok || id != "native-1" {
		t.Fatalf("Lookup() = %q, %v", id, ok)
	}
	// Distinct keys never share state.
	if _, ok := s.Lookup("forge-plan-017:capable:auditor", "claude"); ok {
		t.Fatalf("distinct key must not resolve")
	}
	// Same key under a different runtime is independent.
	if _, ok := s.Lookup("forge-plan-017:capable:drafter", "codex"); ok {
		t.Fatalf("key bound to claude must not resolve for codex")
	}
}

func TestSessionsPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := OpenSessions(path)
	if err != nil {
		t.Fatalf("OpenSessions() error = %v", err)
	}
	if err := s.Bind("k1", "claude", "n1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	reopened, err := OpenSessions(path)
	if err != nil {
		t.Fatalf("OpenSessions() reopen error = %v", err)
	}
	if id, ok := reopened.Lookup("k1", "claude"); !ok || id != "n1" {
		t.Fatalf("Lookup() after reopen = %q, %v", id, ok)
	}
}

func TestSessionsCorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	s, err := OpenSessions(path)
	if err != nil {
		t.Fatalf("OpenSessions() error = %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("corrupt file should load as empty, got %d records", s.Len())
	}
}

func TestSessionsForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, _ := OpenSessions(path)
	if err := s.Bind("k1", "claude", "n1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := s.Forget("k1"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if _, ok := s.Lookup("k1", "claude"); ok {
		t.Fatalf("forgotten key must not resolve")
	}
}
