// Package inflight tracks placeholder replies currently being edited, so
// a crashed process can clean up its orphans on the next cold start.
package inflight

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
)

// Entry describes one open placeholder message.
type Entry struct {
	ChannelID    string `json:"channel_id"`
	MessageID    string `json:"message_id"`
	CreatedAtMS  int64  `json:"created_at_ms"`
	LastEditAtMS int64  `json:"last_edit_at_ms"`
	SessionKey   string `json:"session_key"`
	Purpose      string `json:"purpose"`
}

// interruptedMarker replaces placeholder bodies during drain and orphan
// cleanup.
const interruptedMarker = "⚠️ Interrupted — the previous run did not finish."

// Registry is the process-wide in-flight reply map, mirrored to a JSON
// file on every mutation. A corrupt mirror is treated as empty.
type Registry struct {
	mu      sync.Mutex
	path    string
	entries map[string]*Entry // keyed by message id
	logger  *slog.Logger
	now     func() time.Time
}

// Open loads (or initializes) the registry mirrored at path.
func Open(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		path:    path,
		entries: make(map[string]*Entry),
		logger:  logger.With("component", "inflight"),
		now:     time.Now,
	}
	data, err := os.ReadFile(path)
	if err == nil {
		var entries map[string]*Entry
		if jsonErr := json.Unmarshal(data, &entries); jsonErr == nil && entries != nil {
			r.entries = entries
		} else if jsonErr != nil {
			r.logger.Warn("inflight mirror corrupt, starting empty", "error", jsonErr)
		}
	}
	return r
}

// Register adds an entry for a freshly posted placeholder.
func (r *Registry) Register(channelID, messageID, purpose, sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UnixMilli()
	r.entries[messageID] = &Entry{
		ChannelID:    channelID,
		MessageID:    messageID,
		CreatedAtMS:  now,
		LastEditAtMS: now,
		SessionKey:   sessionKey,
		Purpose:      purpose,
	}
	r.mirrorLocked()
}

// NoteEdit records an edit of the placeholder.
func (r *Registry) NoteEdit(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[messageID]; ok {
		e.LastEditAtMS = r.now().UnixMilli()
		r.mirrorLocked()
	}
}

// Resolve removes the entry once the placeholder reached its final state.
func (r *Registry) Resolve(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[messageID]; ok {
		delete(r.entries, messageID)
		r.mirrorLocked()
	}
}

// Count returns the number of open entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// HasForChannel reports whether any entry targets channelID.
func (r *Registry) HasForChannel(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ChannelID == channelID {
			return true
		}
	}
	return false
}

// Drain best-effort edits every remaining placeholder with an interrupted
// marker, clears the registry, and returns how many were drained. Used on
// graceful shutdown.
func (r *Registry) Drain(ctx context.Context, svc chat.Service, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.mu.Lock()
	remaining := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		remaining = append(remaining, e)
	}
	r.entries = make(map[string]*Entry)
	r.mirrorLocked()
	r.mu.Unlock()

	drained := 0
	for _, e := range remaining {
		if ctx.Err() != nil {
			break
		}
		if err := svc.EditMessage(ctx, e.ChannelID, e.MessageID, interruptedMarker); err != nil {
			if !chat.IsRecoverableSendSkip(err) {
				r.logger.Warn("drain edit failed", "message_id", e.MessageID, "error", err)
			}
			continue
		}
		drained++
	}
	return drained
}

// CleanupOrphans visits every persisted entry once at cold start, editing
// the corresponding message with an interrupted marker (or deleting it
// when the edit fails), then clears the mirror.
func (r *Registry) CleanupOrphans(ctx context.Context, svc chat.Service) int {
	r.mu.Lock()
	orphans := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		orphans = append(orphans, e)
	}
	r.entries = make(map[string]*Entry)
	r.mirrorLocked()
	r.mu.Unlock()

	cleaned := 0
	for _, e := range orphans {
		if err := svc.EditMessage(ctx, e.ChannelID, e.MessageID, interruptedMarker); err != nil {
			if delErr := svc.DeleteMessage(ctx, e.ChannelID, e.MessageID); delErr != nil {
				r.logger.Warn("orphan cleanup failed", "message_id", e.MessageID, "error", delErr)
				continue
			}
		}
		cleaned++
	}
	if cleaned > 0 {
		r.logger.Info("cleaned orphaned placeholders", "count", cleaned)
	}
	return cleaned
}

// mirrorLocked rewrites the JSON mirror; callers hold r.mu.
func (r *Registry) mirrorLocked() {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.logger.Warn("inflight mirror write failed", "error", err)
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		r.logger.Warn("inflight mirror rename failed", "error", err)
	}
}
