package engine

import (
	"encoding/json"
	"testing"
)

func TestClaudeEnvelopeParsing(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hello"},{"type":"tool_use","name":"Read","input":{"file_path":"/tmp/x"}}]},"session_id":"s1"}`
	var env claudeEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if env.Type != "assistant" || env.Message == nil {
		t.Fatalf("envelope = %+v", env)
	}
	if len(env.Message.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(env.Message.Content))
	}
	if env.Message.Content[0].Text != "hello" {
		t.Fatalf("text block = %q", env.Message.Content[0].Text)
	}
	if env.Message.Content[1].Name != "Read" {
		t.Fatalf("tool block = %+v", env.Message.Content[1])
	}
}

func TestClaudeResultEnvelope(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"final answer","session_id":"s1","is_error":false}`
	var env claudeEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if env.Subtype != "success" || env.Result != "final answer" || env.IsError {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestToolResultText(t *testing.T) {
	if got := toolResultText(json.RawMessage(`"plain output"`)); got != "plain output" {
		t.Fatalf("toolResultText(string) = %q", got)
	}
	blocks := json.RawMessage(`[{"type":"text","text":"line 1"},{"type":"text","text":"line 2"}]`)
	if got := toolResultText(blocks); got != "line 1\nline 2" {
		t.Fatalf("toolResultText(blocks) = %q", got)
	}
	if got := toolResultText(nil); got != "" {
		t.Fatalf("toolResultText(nil) = %q", got)
	}
}

func TestClaudeResolveModel(t *testing.T) {
	c := NewClaudeRuntime("claude", nil, WithClaudeModels("fast-x", "cap-y"))
	if got := c.ResolveModel(TierFast); got != "fast-x" {
		t.Fatalf("ResolveModel(fast) = %q", got)
	}
	if got := c.ResolveModel(TierCapable); got != "cap-y" {
		t.Fatalf("ResolveModel(capable) = %q", got)
	}
	if got := c.ResolveModel("claude-opus-4"); got != "claude-opus-4" {
		t.Fatalf("ResolveModel(concrete) = %q", got)
	}
}
