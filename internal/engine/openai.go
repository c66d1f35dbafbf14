package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIRuntime serves any openai-compatible HTTP backend. The same
// adapter registered twice (with different base URLs and ids) covers both
// the openai and openrouter runtime ids.
type OpenAIRuntime struct {
	id     string
	client *openai.Client
	logger *slog.Logger

	fastModel    string
	capableModel string
}

// OpenAIOption configures the adapter.
type OpenAIOption func(*OpenAIRuntime)

// WithOpenAIModels overrides the tier alias mapping.
func WithOpenAIModels(fast, capable string) OpenAIOption {
	return func(o *OpenAIRuntime) {
		if fast != "" {
			o.fastModel = fast
		}
		if capable != "" {
			o.capableModel = capable
		}
	}
}

// WithOpenAILogger sets the adapter logger.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(o *OpenAIRuntime) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOpenAIRuntime creates an openai-compat adapter with id "openai".
func NewOpenAIRuntime(apiKey, baseURL string, opts ...OpenAIOption) *OpenAIRuntime {
	return newOpenAICompat("openai", apiKey, baseURL, "gpt-4o-mini", "gpt-4o", opts...)
}

// NewOpenRouterRuntime creates an openai-compat adapter pointed at
// OpenRouter, with id "openrouter".
func NewOpenRouterRuntime(apiKey string, opts ...OpenAIOption) *OpenAIRuntime {
	return newOpenAICompat("openrouter", apiKey, "https://openrouter.ai/api/v1",
		"openai/gpt-4o-mini", "anthropic/claude-sonnet-4", opts...)
}

func newOpenAICompat(id, apiKey, baseURL, fast, capable string, opts ...OpenAIOption) *OpenAIRuntime {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	o := &OpenAIRuntime{
		id:           id,
		client:       openai.NewClientWithConfig(cfg),
		logger:       slog.Default().With("component", "runtime", "runtime", id),
		fastModel:    fast,
		capableModel: capable,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenAIRuntime) ID() string { return o.id }

func (o *OpenAIRuntime) Capabilities() map[Capability]bool {
	return map[Capability]bool{
		CapStreamingText: true,
		CapImages:        true,
	}
}

func (o *OpenAIRuntime) ResolveModel(model string) string {
	switch model {
	case TierFast:
		return o.fastModel
	case TierCapable:
		return o.capableModel
	default:
		return model
	}
}

func (o *OpenAIRuntime) Invoke(ctx context.Context, params InvokeParams) (<-chan Event, error) {
	model := o.ResolveModel(params.Model)
	req := openai.ChatCompletionRequest{
		Model:  model,
		Stream: true,
	}
	if len(params.Images) == 0 {
		req.Messages = []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: params.Prompt},
		}
	} else {
		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: params.Prompt},
		}
		for _, img := range params.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", img.MediaType,
						base64.StdEncoding.EncodeToString(img.Data)),
				},
			})
		}
		req.Messages = []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		}
	}

	out := make(chan Event, 64)
	invokeCtx, cancel := invokeTimeout(ctx, params)
	go func() {
		defer close(out)
		defer cancel()
		stream, err := o.client.CreateChatCompletionStream(invokeCtx, req)
		if err != nil {
			out <- errorEvent(o.describeErr(err, invokeCtx))
			return
		}
		defer stream.Close()

		var full strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				out <- errorEvent(o.describeErr(err, invokeCtx))
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					full.WriteString(choice.Delta.Content)
					out <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
				}
			}
		}
		out <- Event{Type: EventTextFinal, Text: full.String()}
		out <- doneEvent()
	}()
	return out, nil
}

func (o *OpenAIRuntime) describeErr(err error, ctx context.Context) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "timeout reached"
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("HTTP %d: %v", apiErr.HTTPStatusCode, apiErr.Message)
	}
	return err.Error()
}
