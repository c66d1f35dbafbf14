// Package memory implements the durable and short-term memory stores
// injected into prompt context. All stores are per-user JSON files under
// the data root.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ItemStatus tracks the lifecycle of a durable memory item.
type ItemStatus string

const (
	StatusActive   ItemStatus = "active"
	StatusArchived ItemStatus = "archived"
)

// Source records where a memory item came from.
type Source struct {
	Type        string `json:"type"`
	ChannelID   string `json:"channel_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	GuildID     string `json:"guild_id,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
}

// Item is one durable memory entry.
type Item struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Text      string     `json:"text"`
	Tags      []string   `json:"tags,omitempty"`
	Status    ItemStatus `json:"status"`
	Source    Source     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type durableFile struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Items     []*Item   `json:"items"`
}

// DurableStore keeps one JSON file per user under dir.
type DurableStore struct {
	mu   sync.Mutex
	dir  string
	now  func() time.Time
	seq  int
}

// NewDurableStore creates a store rooted at dir (created on demand).
func NewDurableStore(dir string) *DurableStore {
	return &DurableStore{dir: dir, now: time.Now}
}

func (s *DurableStore) userPath(userID string) string {
	return filepath.Join(s.dir, userID+".json")
}

func (s *DurableStore) load(userID string) (*durableFile, error) {
	data, err := os.ReadFile(s.userPath(userID))
	if os.IsNotExist(err) {
		return &durableFile{Version: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	var file durableFile
	if err := json.Unmarshal(data, &file); err != nil {
		// Corrupt store: back up and start fresh.
		backup := s.userPath(userID) + "." + s.now().Format("20060102-150405") + ".bak"
		_ = os.Rename(s.userPath(userID), backup)
		return &durableFile{Version: 1}, nil
	}
	return &file, nil
}

func (s *DurableStore) save(userID string, file *durableFile) error {
	file.Version = 1
	file.UpdatedAt = s.now()
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp := s.userPath(userID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.userPath(userID))
}

// Add appends a new active item and returns its id.
func (s *DurableStore) Add(userID, kind, text string, tags []string, source Source) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load(userID)
	if err != nil {
		return "", err
	}
	s.seq++
	now := s.now()
	item := &Item{
		ID:        fmt.Sprintf("mem-%d-%d", now.UnixMilli(), s.seq),
		Kind:      kind,
		Text:      text,
		Tags:      tags,
		Status:    StatusActive,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	file.Items = append(file.Items, item)
	if err := s.save(userID, file); err != nil {
		return "", err
	}
	return item.ID, nil
}

// Archive marks an item archived; archived items are excluded from
// injection but kept on disk.
func (s *DurableStore) Archive(userID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load(userID)
	if err != nil {
		return err
	}
	for _, item := range file.Items {
		if item.ID == itemID {
			item.Status = StatusArchived
			item.UpdatedAt = s.now()
			return s.save(userID, file)
		}
	}
	return fmt.Errorf("memory: item %s not found", itemID)
}

// Search returns active items whose text or tags contain query
// (case-insensitive), newest first.
func (s *DurableStore) Search(userID, query string) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	var out []*Item
	for _, item := range file.Items {
		if item.Status != StatusActive {
			continue
		}
		if query == "" || strings.Contains(strings.ToLower(item.Text), query) || tagMatch(item.Tags, query) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Render returns the injection block for userID's active items, newest
// first, truncated to budget bytes with a (+N more) marker.
func (s *DurableStore) Render(userID string, budget int) string {
	items, err := s.Search(userID, "")
	if err != nil || len(items) == 0 {
		return ""
	}
	var b strings.Builder
	shown := 0
	for _, item := range items {
		line := "- " + item.Text + "\n"
		if budget > 0 && b.Len()+len(line) > budget {
			break
		}
		b.WriteString(line)
		shown++
	}
	if shown < len(items) {
		fmt.Fprintf(&b, "… (+%d more)\n", len(items)-shown)
	}
	return b.String()
}

func tagMatch(tags []string, query string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}
