package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// ClaudeRuntime invokes the claude CLI in non-interactive mode and parses
// its stream-json output into engine events.
type ClaudeRuntime struct {
	bin      string
	sessions *Sessions
	logger   *slog.Logger

	fastModel    string
	capableModel string
}

// ClaudeOption configures the claude adapter.
type ClaudeOption func(*ClaudeRuntime)

// WithClaudeLogger sets the adapter logger.
func WithClaudeLogger(logger *slog.Logger) ClaudeOption {
	return func(c *ClaudeRuntime) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClaudeModels overrides the tier alias mapping.
func WithClaudeModels(fast, capable string) ClaudeOption {
	return func(c *ClaudeRuntime) {
		if fast != "" {
			c.fastModel = fast
		}
		if capable != "" {
			c.capableModel = capable
		}
	}
}

// NewClaudeRuntime creates the claude CLI adapter. sessions may be nil to
// disable session reuse.
func NewClaudeRuntime(bin string, sessions *Sessions, opts ...ClaudeOption) *ClaudeRuntime {
	c := &ClaudeRuntime{
		bin:          bin,
		sessions:     sessions,
		logger:       slog.Default().With("component", "runtime", "runtime", "claude"),
		fastModel:    "haiku",
		capableModel: "sonnet",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClaudeRuntime) ID() string { return "claude" }

func (c *ClaudeRuntime) Capabilities() map[Capability]bool {
	return map[Capability]bool{
		CapStreamingText: true,
		CapToolCalls:     true,
		CapSessions:      true,
	}
}

func (c *ClaudeRuntime) ResolveModel(model string) string {
	switch model {
	case TierFast:
		return c.fastModel
	case TierCapable:
		return c.capableModel
	default:
		return model
	}
}

// Stream-json envelopes emitted by the CLI. Unknown types are ignored;
// unknown content block types within known envelopes are skipped.
type claudeEnvelope struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Message   *claudeMessage  `json:"message"`
	Error     json.RawMessage `json:"error"`
}

type claudeMessage struct {
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	Content   json.RawMessage `json:"content"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
}

func (c *ClaudeRuntime) Invoke(ctx context.Context, params InvokeParams) (<-chan Event, error) {
	model := c.ResolveModel(params.Model)
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if c.sessions != nil && params.SessionKey != "" {
		if nativeID, ok := c.sessions.Lookup(params.SessionKey, c.ID()); ok {
			args = append(args, "--resume", nativeID)
		}
	}
	for _, dir := range params.AddDirs {
		args = append(args, "--add-dir", dir)
	}
	if len(params.Tools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(params.Tools, ","))
	}

	proc := &cliProcess{
		bin:   c.bin,
		args:  args,
		dir:   params.Cwd,
		stdin: params.Prompt,
	}

	out := make(chan Event, 64)
	invokeCtx, cancel := invokeTimeout(ctx, params)
	go func() {
		defer cancel()
		sawResult := false
		proc.run(invokeCtx, c.ID(), out, func(line string, emit func(Event)) bool {
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "{") {
				return false
			}
			var env claudeEnvelope
			if err := json.Unmarshal([]byte(line), &env); err != nil {
				emit(Event{Type: EventLogLine, Stream: "stdout", Line: line})
				return false
			}
			switch env.Type {
			case "system":
				if env.Subtype == "init" && env.SessionID != "" && c.sessions != nil && params.SessionKey != "" {
					if err := c.sessions.Bind(params.SessionKey, c.ID(), env.SessionID); err != nil {
						c.logger.Warn("session bind failed", "error", err)
					}
				}
			case "assistant":
				if env.Message == nil {
					return false
				}
				for _, block := range env.Message.Content {
					switch block.Type {
					case "text":
						if block.Text != "" {
							emit(Event{Type: EventTextDelta, Text: block.Text})
						}
					case "tool_use":
						input := string(block.Input)
						if params.ToolCallGate {
							if gateErr := CheckToolCall(block.Name, input); gateErr != nil {
								emit(errorEvent(gateErr.Error()))
								return true
							}
						}
						emit(Event{Type: EventToolStart, ToolName: block.Name, ToolInput: input})
					}
				}
			case "user":
				if env.Message == nil {
					return false
				}
				for _, block := range env.Message.Content {
					if block.Type == "tool_result" {
						emit(Event{Type: EventToolEnd, ToolOutput: toolResultText(block.Content)})
					}
				}
			case "result":
				sawResult = true
				if env.IsError || env.Subtype != "success" {
					msg := env.Result
					if msg == "" {
						msg = "invocation failed (" + env.Subtype + ")"
					}
					emit(errorEvent(msg))
					return true
				}
				emit(Event{Type: EventTextFinal, Text: env.Result})
			}
			return false
		}, func(emit func(Event), runErr error) {
			if runErr != nil && !sawResult {
				emit(errorEvent("claude exited: " + runErr.Error()))
				return
			}
			if !sawResult {
				emit(errorEvent("claude produced no result event"))
				return
			}
			emit(doneEvent())
		})
	}()
	return out, nil
}

// toolResultText flattens a tool_result content payload, which may be a
// bare string or a list of content blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claudeContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
