// Package engine defines the runtime abstraction: a uniform streaming
// interface over several language-model backends (claude CLI,
// openai-compatible HTTP, codex CLI, gemini CLI).
//
// A Runtime produces a finite, single-consumer event stream per
// invocation. The stream always terminates with a done, error, or
// terminating text_final event, on every path including timeout and
// cancellation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType discriminates Event variants. The set is closed; decoders
// reject unknown variants.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventTextFinal EventType = "text_final"
	EventLogLine   EventType = "log_line"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventImageData EventType = "image_data"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Event is the tagged union yielded by Invoke. Only the fields relevant
// to the Type are populated.
type Event struct {
	Type EventType

	// Text carries text_delta / text_final content.
	Text string

	// Stream and Line carry log_line telemetry (stdout or stderr).
	Stream string
	Line   string

	// ToolName, ToolInput, ToolOutput describe tool_start / tool_end.
	ToolName   string
	ToolInput  string
	ToolOutput string

	// MediaType and Data carry image_data payloads.
	MediaType string
	Data      []byte

	// Message carries the error text for error events.
	Message string
}

// Image is an inline image passed to an invocation.
type Image struct {
	MediaType string
	Data      []byte
}

// InvokeParams carries everything a runtime needs for one invocation.
type InvokeParams struct {
	Prompt string

	// Model is a concrete model id or a tier alias resolved per-adapter.
	Model string

	// Cwd is the working directory for file-touching tools.
	Cwd string

	// AddDirs are extra roots the adapter exposes to its tools.
	AddDirs []string

	// Tools is the subset of the tool catalog to enable.
	Tools []string

	// Timeout bounds the invocation; firing it aborts with an error event.
	Timeout time.Duration

	// SessionKey is the stable identifier mapped to a backend-native
	// session id. Distinct keys never share state.
	SessionKey string

	// Images are inline image inputs, in order.
	Images []Image

	// ToolCallGate aborts the stream when a destructive tool invocation
	// is observed.
	ToolCallGate bool
}

// Capability names an optional runtime feature.
type Capability string

const (
	CapStreamingText Capability = "streaming_text"
	CapToolCalls     Capability = "tool_calls"
	CapImages        Capability = "images"
	CapSessions      Capability = "sessions"
)

// Runtime is a language-model backend adapter. Implementations must be
// safe for concurrent use; each Invoke call owns its stream.
type Runtime interface {
	// ID returns the adapter id from the closed set
	// {claude, openai, openrouter, codex, gemini}.
	ID() string

	// Capabilities reports the adapter's feature set.
	Capabilities() map[Capability]bool

	// ResolveModel maps a tier alias (fast, capable) to a concrete model
	// id; concrete ids pass through unchanged.
	ResolveModel(model string) string

	// Invoke starts an invocation and returns its event stream. The
	// stream is finite, single-consumer, and not restartable.
	Invoke(ctx context.Context, params InvokeParams) (<-chan Event, error)
}

// RuntimeError is a per-invocation failure: non-zero subprocess exit,
// non-2xx HTTP status, timeout, or cancellation.
type RuntimeError struct {
	Runtime string
	Message string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime %s: %s", e.Runtime, e.Message)
}

// ToolGateError reports a destructive tool call blocked by the gate.
type ToolGateError struct {
	Tool   string
	Reason string
}

func (e *ToolGateError) Error() string {
	return fmt.Sprintf("Destructive tool call blocked: %s", e.Reason)
}

// ErrUnknownRuntime is returned by the registry for ids outside the
// closed set.
var ErrUnknownRuntime = errors.New("unknown runtime")

// Model tier aliases.
const (
	TierFast    = "fast"
	TierCapable = "capable"
)

// FriendlyError maps selected runtime error texts to user-facing
// messages. Unmapped messages are reported verbatim under a
// "Runtime error: " prefix.
func FriendlyError(message string, timeout time.Duration) string {
	switch {
	case strings.Contains(message, "timeout reached"):
		return fmt.Sprintf("Runtime timed out after %ds.", int(timeout.Seconds()))
	case strings.Contains(message, "rollout path missing"),
		strings.Contains(message, "session state appears corrupted"):
		return "Session state is corrupted; retry will create a new session."
	default:
		return "Runtime error: " + message
	}
}

// errorEvent builds a terminal error event.
func errorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// doneEvent builds the terminal done marker.
func doneEvent() Event {
	return Event{Type: EventDone}
}

// SessionScopeKey builds the canonical "<purpose>:<model>:<scope>"
// session key.
func SessionScopeKey(purpose, model, scope string) string {
	return purpose + ":" + model + ":" + scope
}
