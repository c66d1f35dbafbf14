package lifecycle

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPIDLockExclusive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "discoclaw.pid.lock")
	release, err := AcquirePIDLock(dir)
	if err != nil {
		t.Fatalf("AcquirePIDLock() error = %v", err)
	}
	if _, err := AcquirePIDLock(dir); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second AcquirePIDLock() error = %v, want ErrAlreadyRunning", err)
	}
	release()
	release2, err := AcquirePIDLock(dir)
	if err != nil {
		t.Fatalf("AcquirePIDLock() after release error = %v", err)
	}
	release2()
}

func TestFirstBoot(t *testing.T) {
	marker := filepath.Join(t.TempDir(), ".boot-marker")
	first, err := FirstBoot(marker)
	if err != nil {
		t.Fatalf("FirstBoot() error = %v", err)
	}
	if !first {
		t.Fatalf("fresh marker path must report first boot")
	}
	again, err := FirstBoot(marker)
	if err != nil {
		t.Fatalf("FirstBoot() second call error = %v", err)
	}
	if again {
		t.Fatalf("marker present must not report first boot")
	}
}

func TestScaffoldRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system-scaffold.json")
	in := &Scaffold{GuildID: "g1", CronForumID: "f1"}
	if err := SaveScaffold(path, in); err != nil {
		t.Fatalf("SaveScaffold() error = %v", err)
	}
	out, err := LoadScaffold(path)
	if err != nil {
		t.Fatalf("LoadScaffold() error = %v", err)
	}
	if out.GuildID != "g1" || out.CronForumID != "f1" {
		t.Fatalf("scaffold = %+v", out)
	}
}

func TestScaffoldCorruptBackedUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system-scaffold.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	out, err := LoadScaffold(path)
	if err != nil {
		t.Fatalf("LoadScaffold() error = %v", err)
	}
	if out.GuildID != "" {
		t.Fatalf("corrupt scaffold must load empty: %+v", out)
	}
	entries, _ := os.ReadDir(dir)
	found := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".bak") {
			found = true
		}
	}
	if !found {
		t.Fatalf("corrupt scaffold not backed up: %v", entries)
	}
}

func TestShutdownContextConsumeClears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shutdown-context.json")
	if err := WriteShutdownContext(path, "signal", "drained 2 replies"); err != nil {
		t.Fatalf("WriteShutdownContext() error = %v", err)
	}
	sc, err := ConsumeShutdownContext(path)
	if err != nil {
		t.Fatalf("ConsumeShutdownContext() error = %v", err)
	}
	if sc == nil || sc.Reason != "signal" || sc.Summary != "drained 2 replies" {
		t.Fatalf("context = %+v", sc)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("consumed context must be removed")
	}
	sc, err = ConsumeShutdownContext(path)
	if err != nil || sc != nil {
		t.Fatalf("second consume = %+v, %v; want nil, nil", sc, err)
	}
}
