package engine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestFriendlyError(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"timeout reached", "Runtime timed out after 60s."},
		{"resume failed: rollout path missing", "Session state is corrupted; retry will create a new session."},
		{"session state appears corrupted", "Session state is corrupted; retry will create a new session."},
		{"connection refused", "Runtime error: connection refused"},
	}
	for _, tc := range cases {
		if got := FriendlyError(tc.message, time.Minute); got != tc.want {
			t.Errorf("FriendlyError(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestCheckToolCall(t *testing.T) {
	if err := CheckToolCall("Bash", "rm -rf /"); err == nil {
		t.Fatalf("expected rm -rf to be blocked")
	}
	if err := CheckToolCall("Bash", "git push --force origin main"); err == nil {
		t.Fatalf("expected force push to be blocked")
	}
	if err := CheckToolCall("Bash", "ls -la"); err != nil {
		t.Fatalf("CheckToolCall(ls) = %v, want nil", err)
	}
	if err := CheckToolCall("Read", "rm -rf /"); err != nil {
		t.Fatalf("read-only tools are not gated, got %v", err)
	}
	gateErr := CheckToolCall("Bash", "sudo rm -rf /tmp/x")
	if gateErr == nil || !strings.HasPrefix(gateErr.Error(), "Destructive tool call blocked: ") {
		t.Fatalf("gate error = %v", gateErr)
	}
}

func TestSessionScopeKey(t *testing.T) {
	got := SessionScopeKey("forge-plan-017", "capable", "drafter")
	if got != "forge-plan-017:capable:drafter" {
		t.Fatalf("SessionScopeKey() = %q", got)
	}
}

// fakeRuntime emits a scripted event stream.
type fakeRuntime struct {
	id     string
	events []Event
	invoked int
}

func (f *fakeRuntime) ID() string                        { return f.id }
func (f *fakeRuntime) Capabilities() map[Capability]bool { return nil }
func (f *fakeRuntime) ResolveModel(model string) string  { return model }

func (f *fakeRuntime) Invoke(ctx context.Context, params InvokeParams) (<-chan Event, error) {
	f.invoked++
	out := make(chan Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeRuntime{id: "claude"}, nil)
	if err := reg.SetPrimary("claude"); err != nil {
		t.Fatalf("SetPrimary() error = %v", err)
	}
	if err := reg.SetPrimary("nope"); err == nil {
		t.Fatalf("SetPrimary(nope) expected error")
	}
	rt, err := reg.Primary()
	if err != nil || rt.ID() != "claude" {
		t.Fatalf("Primary() = %v, %v", rt, err)
	}
	if _, err := reg.Get("gemini"); err == nil {
		t.Fatalf("Get(unregistered) expected error")
	}
}

func TestRegistryTierOverride(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeRuntime{id: "claude"}, nil)
	reg.OverrideTier("claude", TierCapable, "custom-model")
	if got := reg.ResolveModel("claude", TierCapable); got != "custom-model" {
		t.Fatalf("ResolveModel() = %q, want custom-model", got)
	}
	if got := reg.ResolveModel("claude", "explicit"); got != "explicit" {
		t.Fatalf("ResolveModel(explicit) = %q", got)
	}
}

func TestLimitedRuntimeReleasesOnDrain(t *testing.T) {
	limiter := NewLimiter(1)
	rt := Limited(&fakeRuntime{id: "claude", events: []Event{doneEvent()}}, limiter)

	stream, err := rt.Invoke(context.Background(), InvokeParams{})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	for range stream {
	}

	// Slot must be free again.
	done := make(chan struct{})
	go func() {
		if err := limiter.Acquire(context.Background()); err == nil {
			close(done)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("limiter slot not released after stream drain")
	}
}
