package engine

import (
	"context"
	"log/slog"
	"strings"
)

// GeminiRuntime invokes the gemini CLI in non-interactive mode. The CLI
// prints the answer to stdout; tool telemetry arrives on stderr and is
// surfaced as log lines.
type GeminiRuntime struct {
	bin    string
	logger *slog.Logger

	fastModel    string
	capableModel string
}

// NewGeminiRuntime creates the gemini CLI adapter.
func NewGeminiRuntime(bin string) *GeminiRuntime {
	return &GeminiRuntime{
		bin:          bin,
		logger:       slog.Default().With("component", "runtime", "runtime", "gemini"),
		fastModel:    "gemini-2.5-flash",
		capableModel: "gemini-2.5-pro",
	}
}

func (g *GeminiRuntime) ID() string { return "gemini" }

func (g *GeminiRuntime) Capabilities() map[Capability]bool {
	return map[Capability]bool{
		CapStreamingText: true,
	}
}

func (g *GeminiRuntime) ResolveModel(model string) string {
	switch model {
	case TierFast:
		return g.fastModel
	case TierCapable:
		return g.capableModel
	default:
		return model
	}
}

func (g *GeminiRuntime) Invoke(ctx context.Context, params InvokeParams) (<-chan Event, error) {
	model := g.ResolveModel(params.Model)
	args := []string{}
	if model != "" {
		args = append(args, "--model", model)
	}
	for _, dir := range params.AddDirs {
		args = append(args, "--include-directories", dir)
	}
	args = append(args, "-p", params.Prompt)

	proc := &cliProcess{bin: g.bin, args: args, dir: params.Cwd}
	out := make(chan Event, 64)
	invokeCtx, cancel := invokeTimeout(ctx, params)
	go func() {
		defer cancel()
		var lines []string
		proc.run(invokeCtx, g.ID(), out, func(line string, emit func(Event)) bool {
			lines = append(lines, line)
			emit(Event{Type: EventTextDelta, Text: line + "\n"})
			return false
		}, func(emit func(Event), runErr error) {
			if runErr != nil {
				emit(errorEvent("gemini exited: " + runErr.Error()))
				return
			}
			emit(Event{Type: EventTextFinal, Text: strings.TrimSpace(strings.Join(lines, "\n"))})
			emit(doneEvent())
		})
	}()
	return out, nil
}
