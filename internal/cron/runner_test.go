package cron

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/actions"
	"github.com/DiscoClaw/discoclaw-sub001/internal/engine"
	"github.com/DiscoClaw/discoclaw-sub001/internal/testharness"
)

type cannedRuntime struct {
	mu     sync.Mutex
	output string
	calls  []engine.InvokeParams
}

func (c *cannedRuntime) ID() string                               { return "canned" }
func (c *cannedRuntime) Capabilities() map[engine.Capability]bool { return nil }
func (c *cannedRuntime) ResolveModel(m string) string             { return m }

func (c *cannedRuntime) Invoke(ctx context.Context, params engine.InvokeParams) (<-chan engine.Event, error) {
	c.mu.Lock()
	c.calls = append(c.calls, params)
	c.mu.Unlock()
	ch := make(chan engine.Event, 2)
	ch <- engine.Event{Type: engine.EventTextFinal, Text: c.output}
	ch <- engine.Event{Type: engine.EventDone}
	close(ch)
	return ch, nil
}

func newAgentRunner(t *testing.T, output string) (*AgentRunner, *testharness.FakeChat, *cannedRuntime) {
	t.Helper()
	rt := &cannedRuntime{output: output}
	registry := engine.NewRegistry()
	registry.Register(rt, nil)
	if err := registry.SetPrimary(rt.ID()); err != nil {
		t.Fatalf("SetPrimary() error = %v", err)
	}
	fake := testharness.NewFakeChat()
	exec := actions.NewExecutor(actions.Subsystems{Chat: fake}, nil)
	return &AgentRunner{
		Registry: registry,
		Chat:     fake,
		Executor: exec,
		Flags:    actions.AllFlags().WithoutCronRestricted(),
		Model:    "fast",
		Timeout:  time.Minute,
	}, fake, rt
}

func TestAgentRunnerPostsOutput(t *testing.T) {
	runner, fake, rt := newAgentRunner(t, "Queue is clear today.")
	job := &Job{ID: "t1", Name: "deploy check", Prompt: "Check deploys.", Tags: []string{"ops"}}

	if err := runner.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fake.Sent) != 1 {
		t.Fatalf("sent = %d messages", len(fake.Sent))
	}
	msg := fake.Sent[0]
	if msg.ChannelID != "t1" || msg.Content != "Queue is clear today." {
		t.Fatalf("posted = %+v", msg)
	}
	call := rt.calls[0]
	if !strings.Contains(call.Prompt, "deploy check") || !strings.Contains(call.Prompt, "Check deploys.") {
		t.Fatalf("prompt = %q", call.Prompt)
	}
	if call.SessionKey != engine.SessionScopeKey("cron", "fast", "t1") {
		t.Fatalf("session key = %q", call.SessionKey)
	}
}

func TestAgentRunnerRestrictsActions(t *testing.T) {
	output := "Checked.\n<discord-action>{\"type\": \"cronList\"}</discord-action>"
	runner, fake, _ := newAgentRunner(t, output)
	job := &Job{ID: "t1", Name: "x", Prompt: "p"}

	if err := runner.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fake.Sent) != 1 {
		t.Fatalf("sent = %d messages", len(fake.Sent))
	}
	body := fake.Sent[0].Content
	if !strings.Contains(body, "cronList: unavailable") {
		t.Fatalf("restricted action not reported:\n%s", body)
	}
}

func TestAgentRunnerSilentWhenNoOutput(t *testing.T) {
	runner, fake, _ := newAgentRunner(t, "")
	if err := runner.Run(context.Background(), &Job{ID: "t1", Prompt: "p"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fake.Sent) != 0 {
		t.Fatalf("empty output must not post: %+v", fake.Sent)
	}
}
