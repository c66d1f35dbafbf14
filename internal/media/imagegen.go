// Package media generates images for the imagegen action category.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// imageAPI is the slice of the OpenAI client the generator needs.
type imageAPI interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
}

// Generator produces images from prompts and spools them to disk.
type Generator struct {
	api    imageAPI
	model  string
	outDir string
	logger *slog.Logger
}

// NewGenerator creates a generator against the OpenAI image API. An
// empty baseURL uses the default endpoint.
func NewGenerator(apiKey, baseURL, outDir string, logger *slog.Logger) *Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		api:    openai.NewClientWithConfig(cfg),
		model:  openai.CreateImageModelDallE3,
		outDir: outDir,
		logger: logger.With("component", "media"),
	}
}

// Generate renders prompt to a PNG under the spool directory and
// returns its path.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("imagegen: prompt required")
	}
	resp, err := g.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("imagegen: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("imagegen: empty response")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", fmt.Errorf("imagegen: decode payload: %w", err)
	}
	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(g.outDir, uuid.NewString()+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	g.logger.Info("image generated", "path", path, "bytes", len(data))
	return path, nil
}
