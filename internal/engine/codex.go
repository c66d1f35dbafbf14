package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// CodexRuntime invokes the codex CLI (`codex exec --json`) and maps its
// JSONL event stream onto engine events.
type CodexRuntime struct {
	bin      string
	sessions *Sessions
	logger   *slog.Logger

	fastModel    string
	capableModel string
}

// NewCodexRuntime creates the codex CLI adapter.
func NewCodexRuntime(bin string, sessions *Sessions) *CodexRuntime {
	return &CodexRuntime{
		bin:          bin,
		sessions:     sessions,
		logger:       slog.Default().With("component", "runtime", "runtime", "codex"),
		fastModel:    "gpt-5-minimal",
		capableModel: "gpt-5-codex",
	}
}

func (c *CodexRuntime) ID() string { return "codex" }

func (c *CodexRuntime) Capabilities() map[Capability]bool {
	return map[Capability]bool{
		CapStreamingText: true,
		CapToolCalls:     true,
		CapSessions:      true,
	}
}

func (c *CodexRuntime) ResolveModel(model string) string {
	switch model {
	case TierFast:
		return c.fastModel
	case TierCapable:
		return c.capableModel
	default:
		return model
	}
}

// codexEvent is the subset of codex exec --json output we map. Item
// payloads carry agent text and command executions.
type codexEvent struct {
	Type      string     `json:"type"`
	ThreadID  string     `json:"thread_id"`
	Item      *codexItem `json:"item"`
	Error     *codexErr  `json:"error"`
}

type codexItem struct {
	Type      string `json:"item_type"`
	Text      string `json:"text"`
	Command   string `json:"command"`
	Output    string `json:"aggregated_output"`
	ExitCode  *int   `json:"exit_code"`
}

type codexErr struct {
	Message string `json:"message"`
}

func (c *CodexRuntime) Invoke(ctx context.Context, params InvokeParams) (<-chan Event, error) {
	model := c.ResolveModel(params.Model)
	args := []string{"exec", "--json", "--skip-git-repo-check"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if c.sessions != nil && params.SessionKey != "" {
		if nativeID, ok := c.sessions.Lookup(params.SessionKey, c.ID()); ok {
			args = append(args, "resume", nativeID)
		}
	}
	for _, dir := range params.AddDirs {
		args = append(args, "--add-dir", dir)
	}
	args = append(args, params.Prompt)

	proc := &cliProcess{bin: c.bin, args: args, dir: params.Cwd}
	out := make(chan Event, 64)
	invokeCtx, cancel := invokeTimeout(ctx, params)
	go func() {
		defer cancel()
		var finalText string
		sawFinal := false
		proc.run(invokeCtx, c.ID(), out, func(line string, emit func(Event)) bool {
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "{") {
				return false
			}
			var ev codexEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				emit(Event{Type: EventLogLine, Stream: "stdout", Line: line})
				return false
			}
			switch ev.Type {
			case "thread.started":
				if ev.ThreadID != "" && c.sessions != nil && params.SessionKey != "" {
					if err := c.sessions.Bind(params.SessionKey, c.ID(), ev.ThreadID); err != nil {
						c.logger.Warn("session bind failed", "error", err)
					}
				}
			case "item.started":
				if ev.Item != nil && ev.Item.Type == "command_execution" {
					if params.ToolCallGate {
						if gateErr := CheckToolCall("Bash", ev.Item.Command); gateErr != nil {
							emit(errorEvent(gateErr.Error()))
							return true
						}
					}
					emit(Event{Type: EventToolStart, ToolName: "Bash", ToolInput: ev.Item.Command})
				}
			case "item.completed":
				if ev.Item == nil {
					return false
				}
				switch ev.Item.Type {
				case "agent_message":
					finalText = ev.Item.Text
					sawFinal = true
					emit(Event{Type: EventTextDelta, Text: ev.Item.Text})
				case "command_execution":
					emit(Event{Type: EventToolEnd, ToolName: "Bash", ToolOutput: ev.Item.Output})
				}
			case "turn.failed", "error":
				msg := "codex turn failed"
				if ev.Error != nil && ev.Error.Message != "" {
					msg = ev.Error.Message
				}
				emit(errorEvent(msg))
				return true
			}
			return false
		}, func(emit func(Event), runErr error) {
			if runErr != nil {
				emit(errorEvent("codex exited: " + runErr.Error()))
				return
			}
			if sawFinal {
				emit(Event{Type: EventTextFinal, Text: finalText})
			}
			emit(doneEvent())
		})
	}()
	return out, nil
}
