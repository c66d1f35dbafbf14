package voice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DiscoClaw/discoclaw-sub001/internal/testharness"
)

type fakeSynth struct {
	path string
	err  error
	got  string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (string, error) {
	f.got = text
	return f.path, f.err
}

func TestSayPostsVoiceNote(t *testing.T) {
	fake := testharness.NewFakeChat()
	synth := &fakeSynth{path: "/spool/abc.mp3"}
	svc := &Service{Synth: synth, Chat: fake}

	if err := svc.Say(context.Background(), "chan-1", "hello there"); err != nil {
		t.Fatalf("Say() error = %v", err)
	}
	if synth.got != "hello there" {
		t.Fatalf("synthesized text = %q", synth.got)
	}
	if len(fake.Sent) != 1 || !strings.Contains(fake.Sent[0].Content, "abc.mp3") {
		t.Fatalf("sent = %+v", fake.Sent)
	}
}

func TestSayRejectsEmptyText(t *testing.T) {
	svc := &Service{Synth: &fakeSynth{}, Chat: testharness.NewFakeChat()}
	if err := svc.Say(context.Background(), "chan-1", "  "); err == nil {
		t.Fatalf("empty text must fail")
	}
}

func TestSayTruncatesLongText(t *testing.T) {
	fake := testharness.NewFakeChat()
	synth := &fakeSynth{path: "/spool/x.mp3"}
	svc := &Service{Synth: synth, Chat: fake}
	long := strings.Repeat("a", maxTextLength+100)
	if err := svc.Say(context.Background(), "chan-1", long); err != nil {
		t.Fatalf("Say() error = %v", err)
	}
	if len(synth.got) != maxTextLength {
		t.Fatalf("text length = %d, want %d", len(synth.got), maxTextLength)
	}
}

func TestSayPropagatesSynthError(t *testing.T) {
	svc := &Service{Synth: &fakeSynth{err: errors.New("no credits")}, Chat: testharness.NewFakeChat()}
	err := svc.Say(context.Background(), "chan-1", "hi")
	if err == nil || !strings.Contains(err.Error(), "no credits") {
		t.Fatalf("Say() error = %v", err)
	}
}
