package handler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
	"github.com/DiscoClaw/discoclaw-sub001/internal/testharness"
)

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	workspace := t.TempDir()
	modules := filepath.Join(workspace, "context")
	if err := os.MkdirAll(modules, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(modules, "00-core.md"), []byte("Core instructions."), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return &Assembler{
		WorkspaceDir:  workspace,
		ModulesDir:    modules,
		HistoryBudget: 1024,
	}
}

func TestVerifyRequiredMissingDir(t *testing.T) {
	a := &Assembler{ModulesDir: filepath.Join(t.TempDir(), "absent")}
	if err := a.VerifyRequired(); err == nil {
		t.Fatalf("VerifyRequired() on missing dir must fail")
	}
}

func TestVerifyRequiredEmptyDir(t *testing.T) {
	a := &Assembler{ModulesDir: t.TempDir()}
	if err := a.VerifyRequired(); err == nil {
		t.Fatalf("VerifyRequired() on empty dir must fail")
	}
}

func TestAssembleOrderAndBoundary(t *testing.T) {
	a := newTestAssembler(t)
	if err := os.WriteFile(filepath.Join(a.WorkspaceDir, "SOUL.md"), []byte("I am the soul."), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	svc := testharness.NewFakeChat()
	msg := &chat.Message{ID: "m1", ChannelID: "c1", AuthorID: "u1", Content: "the question"}

	prompt, images, err := a.Assemble(context.Background(), svc, msg)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(images) != 0 {
		t.Fatalf("images = %d, want 0", len(images))
	}
	soul := strings.Index(prompt, "I am the soul.")
	core := strings.Index(prompt, "Core instructions.")
	boundary := strings.Index(prompt, ContextBoundary)
	question := strings.Index(prompt, "the question")
	if soul < 0 || core < 0 || boundary < 0 || question < 0 {
		t.Fatalf("prompt missing sections: %q", prompt)
	}
	if !(soul < core && core < boundary && boundary < question) {
		t.Fatalf("section order wrong: soul=%d core=%d boundary=%d question=%d", soul, core, boundary, question)
	}
	if strings.Count(prompt, ContextBoundary) != 1 {
		t.Fatalf("boundary must appear exactly once")
	}
}

func TestAssembleReplyChain(t *testing.T) {
	a := newTestAssembler(t)
	svc := testharness.NewFakeChat()
	svc.Messages["p1"] = &chat.Message{ID: "p1", ChannelID: "c1", AuthorName: "alex", Content: "original question"}
	msg := &chat.Message{ID: "m1", ChannelID: "c1", AuthorID: "u1", Content: "follow-up", ReplyToID: "p1"}

	prompt, _, err := a.Assemble(context.Background(), svc, msg)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !strings.Contains(prompt, "alex: original question") {
		t.Fatalf("reply chain missing: %q", prompt)
	}
}

func TestAssembleHistoryBudgetTruncatesOldest(t *testing.T) {
	a := newTestAssembler(t)
	a.HistoryBudget = 40
	svc := testharness.NewFakeChat()
	// Newest-first, as the chat service returns it.
	svc.History["c1"] = []*chat.Message{
		{AuthorName: "b", Content: "newest message"},
		{AuthorName: "a", Content: "a very old message that will not fit in the budget"},
	}
	msg := &chat.Message{ID: "m1", ChannelID: "c1", AuthorID: "u1", Content: "hi"}

	prompt, _, err := a.Assemble(context.Background(), svc, msg)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !strings.Contains(prompt, "newest message") {
		t.Fatalf("newest history line must survive: %q", prompt)
	}
	if strings.Contains(prompt, "very old message") {
		t.Fatalf("oldest line should be truncated: %q", prompt)
	}
}

func TestAssembleAttachments(t *testing.T) {
	a := newTestAssembler(t)
	a.Fetch = func(ctx context.Context, url string) ([]byte, error) {
		if strings.HasSuffix(url, ".png") {
			return []byte{0x89, 0x50}, nil
		}
		return []byte("log line one"), nil
	}
	svc := testharness.NewFakeChat()
	msg := &chat.Message{
		ID: "m1", ChannelID: "c1", AuthorID: "u1", Content: "see attached",
		Attachments: []chat.Attachment{
			{Filename: "shot.png", ContentType: "image/png", URL: "https://x/shot.png"},
			{Filename: "run.log", ContentType: "text/plain", URL: "https://x/run.log"},
			{Filename: "data.bin", ContentType: "application/octet-stream", URL: "https://x/data.bin"},
		},
	}

	prompt, images, err := a.Assemble(context.Background(), svc, msg)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(images) != 1 || images[0].MediaType != "image/png" {
		t.Fatalf("images = %+v", images)
	}
	if !strings.Contains(prompt, "log line one") {
		t.Fatalf("text attachment not inlined: %q", prompt)
	}
	if !strings.Contains(prompt, "unsupported attachment: data.bin") {
		t.Fatalf("unsupported attachment not noted: %q", prompt)
	}
}
