// Package voice synthesizes speech for the voice action category and
// delivers the result as a voice note in the target channel.
package voice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
)

const maxTextLength = 4096

// Synthesizer turns text into an audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// speechAPI is the slice of the OpenAI client the synth needs.
type speechAPI interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// OpenAISynth synthesizes speech through the OpenAI TTS API.
type OpenAISynth struct {
	api    speechAPI
	outDir string
}

// NewOpenAISynth creates a synthesizer spooling MP3s to outDir.
func NewOpenAISynth(apiKey, baseURL, outDir string) *OpenAISynth {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAISynth{api: openai.NewClientWithConfig(cfg), outDir: outDir}
}

// Synthesize renders text to an MP3 file.
func (s *OpenAISynth) Synthesize(ctx context.Context, text string) (string, error) {
	resp, err := s.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.VoiceAlloy,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", fmt.Errorf("voice: %w", err)
	}
	defer resp.Close()

	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.outDir, uuid.NewString()+".mp3")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("voice: write audio: %w", err)
	}
	return path, f.Close()
}

// Service implements the voice action: synthesize and announce.
type Service struct {
	Synth  Synthesizer
	Chat   chat.Service
	Logger *slog.Logger
}

// Say synthesizes text and posts a voice-note marker to channelID.
func (s *Service) Say(ctx context.Context, channelID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("voice: text required")
	}
	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}
	path, err := s.Synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("voice note synthesized", "channel", channelID, "path", path)
	}
	note := fmt.Sprintf("🔊 voice note: %s", filepath.Base(path))
	if _, err := s.Chat.SendMessage(ctx, channelID, note); err != nil {
		if chat.IsRecoverableSendSkip(err) {
			return nil
		}
		return err
	}
	return nil
}
