package tasks

import (
	"path/filepath"
	"testing"
)

func TestCreateAndGet(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tasks.jsonl"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	task, err := s.Create("Fix login retry", "retries should back off", []string{"bug"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if task.ID != "ws-1" {
		t.Fatalf("first id = %q, want ws-1", task.ID)
	}
	if task.Status != StatusOpen {
		t.Fatalf("status = %q, want open", task.Status)
	}
	got, ok := s.Get("ws-1")
	if !ok || got.Title != "Fix login retry" {
		t.Fatalf("Get(ws-1) = %+v, %v", got, ok)
	}
}

func TestCounterSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.Create("one", "", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.Create("two", "", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	task, err := reopened.Create("three", "", nil)
	if err != nil {
		t.Fatalf("Create() after reload error = %v", err)
	}
	if task.ID != "ws-3" {
		t.Fatalf("id after reload = %q, want ws-3", task.ID)
	}
}

func TestUpdateAppendsRevision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	task, err := s.Create("title", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.SetStatus(task.ID, StatusInProgress); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, ok := reopened.Get(task.ID)
	if !ok || got.Status != StatusInProgress {
		t.Fatalf("reloaded status = %+v, want in_progress", got)
	}
}

func TestFindOpenByTitleCaseInsensitive(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tasks.jsonl"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	task, err := s.Create("Refactor Config Loader", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got, ok := s.FindOpenByTitle("refactor config loader"); !ok || got.ID != task.ID {
		t.Fatalf("FindOpenByTitle() = %+v, %v", got, ok)
	}

	if _, err := s.SetStatus(task.ID, StatusClosed); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if _, ok := s.FindOpenByTitle("refactor config loader"); ok {
		t.Fatalf("closed task must not match dedup lookup")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tasks.jsonl"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	a, _ := s.Create("a", "", nil)
	if _, err := s.Create("b", "", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.SetStatus(a.ID, StatusClosed); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	open := s.List(StatusOpen)
	if len(open) != 1 || open[0].Title != "b" {
		t.Fatalf("List(open) = %+v", open)
	}
	all := s.List("")
	if len(all) != 2 {
		t.Fatalf("List() = %d tasks, want 2", len(all))
	}
}

func TestAddLabelIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tasks.jsonl"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	task, _ := s.Create("labelled", "", nil)
	if _, err := s.AddLabel(task.ID, "forge"); err != nil {
		t.Fatalf("AddLabel() error = %v", err)
	}
	got, err := s.AddLabel(task.ID, "forge")
	if err != nil {
		t.Fatalf("AddLabel() error = %v", err)
	}
	if len(got.Labels) != 1 {
		t.Fatalf("labels = %v, want single forge", got.Labels)
	}
}
