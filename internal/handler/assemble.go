package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
	"github.com/DiscoClaw/discoclaw-sub001/internal/engine"
	"github.com/DiscoClaw/discoclaw-sub001/internal/memory"
)

// ContextBoundary separates injected system context from the user
// message. It must appear exactly once per prompt.
const ContextBoundary = "--- internal system context boundary ---"

// personaFiles is the canonical workspace-root persona set, injected
// in this order when present.
var personaFiles = []string{"SOUL.md", "IDENTITY.md", "USER.md", "TOOLS.md", "AGENTS.md", "MEMORY.md"}

const (
	replyChainDepth     = 5
	attachmentMaxInline = 64 * 1024
	historyFetchLimit   = 50
)

// Assembler builds the single prompt for a runtime invocation from
// workspace files, memory stores, and channel state.
type Assembler struct {
	WorkspaceDir      string
	ModulesDir        string
	ChannelContextDir string

	Durable   *memory.DurableStore
	Shortterm *memory.ShortTermStore

	HistoryBudget   int
	DurableBudget   int
	ShorttermBudget int

	// Fetch downloads attachment bodies. Defaults to http.Get.
	Fetch func(ctx context.Context, url string) ([]byte, error)

	Logger *slog.Logger
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// VerifyRequired checks the hard startup requirements: the persona
// context modules directory must exist and contain at least one file.
func (a *Assembler) VerifyRequired() error {
	entries, err := os.ReadDir(a.ModulesDir)
	if err != nil {
		return fmt.Errorf("context modules directory %s: %w", a.ModulesDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			return nil
		}
	}
	return fmt.Errorf("context modules directory %s is empty", a.ModulesDir)
}

// Assemble composes the prompt and extracts image inputs for msg.
func (a *Assembler) Assemble(ctx context.Context, svc chat.Service, msg *chat.Message) (string, []engine.Image, error) {
	var sections []string

	for _, name := range personaFiles {
		if body := a.readOptional(filepath.Join(a.WorkspaceDir, name)); body != "" {
			sections = append(sections, body)
		}
	}

	modules, err := a.readModules()
	if err != nil {
		return "", nil, err
	}
	if modules != "" {
		sections = append(sections, modules)
	}

	if a.ChannelContextDir != "" {
		if body := a.readOptional(filepath.Join(a.ChannelContextDir, msg.ChannelID+".md")); body != "" {
			sections = append(sections, "## Channel context\n"+body)
		}
	}

	if a.Shortterm != nil {
		if body := a.Shortterm.Render(msg.AuthorID, a.ShorttermBudget); body != "" {
			sections = append(sections, "## Recent conversation\n"+body)
		}
	}
	if a.Durable != nil {
		if body := a.Durable.Render(msg.AuthorID, a.DurableBudget); body != "" {
			sections = append(sections, "## Durable memory\n"+body)
		}
	}

	if chain := a.replyChain(ctx, svc, msg); chain != "" {
		sections = append(sections, "## Reply chain\n"+chain)
	}
	if pins := a.pinned(ctx, svc, msg.ChannelID); pins != "" {
		sections = append(sections, "## Pinned messages\n"+pins)
	}
	if history := a.history(ctx, svc, msg); history != "" {
		sections = append(sections, "## Channel history\n"+history)
	}

	transcripts, images := a.ingestAttachments(ctx, msg)
	if transcripts != "" {
		sections = append(sections, "## Attachments\n"+transcripts)
	}

	sections = append(sections, ContextBoundary)
	sections = append(sections, msg.Content)
	return strings.Join(sections, "\n\n"), images, nil
}

func (a *Assembler) readOptional(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (a *Assembler) readModules() (string, error) {
	entries, err := os.ReadDir(a.ModulesDir)
	if err != nil {
		return "", fmt.Errorf("context modules directory %s: %w", a.ModulesDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var parts []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(a.ModulesDir, name))
		if err != nil {
			return "", fmt.Errorf("context module %s: %w", name, err)
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (a *Assembler) replyChain(ctx context.Context, svc chat.Service, msg *chat.Message) string {
	var lines []string
	current := msg.ReplyToID
	for i := 0; i < replyChainDepth && current != ""; i++ {
		parent, err := svc.GetMessage(ctx, msg.ChannelID, current)
		if err != nil {
			break
		}
		lines = append([]string{fmt.Sprintf("%s: %s", parent.AuthorName, parent.Content)}, lines...)
		current = parent.ReplyToID
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) pinned(ctx context.Context, svc chat.Service, channelID string) string {
	pins, err := svc.PinnedMessages(ctx, channelID)
	if err != nil || len(pins) == 0 {
		return ""
	}
	var lines []string
	for _, p := range pins {
		lines = append(lines, fmt.Sprintf("%s: %s", p.AuthorName, p.Content))
	}
	return strings.Join(lines, "\n")
}

// history renders recent channel messages newest-last, truncated from
// the oldest end to fit the byte budget.
func (a *Assembler) history(ctx context.Context, svc chat.Service, msg *chat.Message) string {
	msgs, err := svc.ChannelHistory(ctx, msg.ChannelID, historyFetchLimit, msg.ID)
	if err != nil || len(msgs) == 0 {
		return ""
	}
	// History arrives newest-first; keep as many of the newest as fit.
	var kept []string
	total := 0
	for _, m := range msgs {
		line := fmt.Sprintf("%s: %s", m.AuthorName, m.Content)
		cost := len(line) + 1
		if a.HistoryBudget > 0 && total+cost > a.HistoryBudget {
			break
		}
		kept = append([]string{line}, kept...)
		total += cost
	}
	if len(kept) < len(msgs) {
		kept = append([]string{fmt.Sprintf("… (+%d more)", len(msgs)-len(kept))}, kept...)
	}
	return strings.Join(kept, "\n")
}

func (a *Assembler) ingestAttachments(ctx context.Context, msg *chat.Message) (string, []engine.Image) {
	var notes []string
	var images []engine.Image
	for _, att := range msg.Attachments {
		switch {
		case strings.HasPrefix(att.ContentType, "image/"):
			data, err := a.fetch(ctx, att.URL)
			if err != nil {
				notes = append(notes, fmt.Sprintf("(failed to fetch image %s: %v)", att.Filename, err))
				continue
			}
			images = append(images, engine.Image{MediaType: att.ContentType, Data: data})
		case isTextAttachment(att):
			data, err := a.fetch(ctx, att.URL)
			if err != nil {
				notes = append(notes, fmt.Sprintf("(failed to fetch %s: %v)", att.Filename, err))
				continue
			}
			body := string(data)
			if len(body) > attachmentMaxInline {
				body = body[:attachmentMaxInline] + "\n… (truncated)"
			}
			notes = append(notes, fmt.Sprintf("### %s\n%s", att.Filename, body))
		default:
			notes = append(notes, fmt.Sprintf("(unsupported attachment: %s, %s)", att.Filename, att.ContentType))
		}
	}
	return strings.Join(notes, "\n\n"), images
}

func (a *Assembler) fetch(ctx context.Context, url string) ([]byte, error) {
	if a.Fetch != nil {
		return a.Fetch(ctx, url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".log": true, ".json": true, ".yaml": true,
	".yml": true, ".go": true, ".py": true, ".js": true, ".ts": true,
	".sh": true, ".csv": true, ".toml": true,
}

func isTextAttachment(att chat.Attachment) bool {
	if strings.HasPrefix(att.ContentType, "text/") {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(att.Filename))]
}
