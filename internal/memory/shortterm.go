package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Turn is one user/assistant exchange kept in the rolling window.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	ChannelID string    `json:"channel_id,omitempty"`
	At        time.Time `json:"at"`
}

// ShortTermStore keeps a bounded rolling window of recent turns per
// user, persisted as one JSON file each.
type ShortTermStore struct {
	mu       sync.Mutex
	dir      string
	maxTurns int
	maxAge   time.Duration
	now      func() time.Time
}

// NewShortTermStore creates a store with the given window bounds. Zero
// bounds disable that limit.
func NewShortTermStore(dir string, maxTurns int, maxAge time.Duration) *ShortTermStore {
	return &ShortTermStore{dir: dir, maxTurns: maxTurns, maxAge: maxAge, now: time.Now}
}

func (s *ShortTermStore) userPath(userID string) string {
	return filepath.Join(s.dir, userID+".json")
}

// Append adds a turn and prunes the window by count and age.
func (s *ShortTermStore) Append(userID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, _ := s.load(userID)
	if turn.At.IsZero() {
		turn.At = s.now()
	}
	turns = append(turns, turn)

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		kept := turns[:0]
		for _, tr := range turns {
			if tr.At.After(cutoff) {
				kept = append(kept, tr)
			}
		}
		turns = kept
	}
	if s.maxTurns > 0 && len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	return s.save(userID, turns)
}

// Window returns the current turns, oldest first.
func (s *ShortTermStore) Window(userID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(userID)
}

// Render formats the window for prompt injection under a byte budget.
// The most recent turns win when the budget is tight.
func (s *ShortTermStore) Render(userID string, budget int) string {
	turns, err := s.Window(userID)
	if err != nil || len(turns) == 0 {
		return ""
	}
	lines := make([]string, 0, len(turns))
	for _, tr := range turns {
		lines = append(lines, tr.Role+": "+tr.Text)
	}
	// Walk backwards so truncation drops the oldest turns.
	var kept []string
	total := 0
	for i := len(lines) - 1; i >= 0; i-- {
		cost := len(lines[i]) + 1
		if budget > 0 && total+cost > budget {
			break
		}
		kept = append([]string{lines[i]}, kept...)
		total += cost
	}
	out := strings.Join(kept, "\n")
	if len(kept) < len(lines) {
		out = fmt.Sprintf("… (+%d more)\n", len(lines)-len(kept)) + out
	}
	return out
}

func (s *ShortTermStore) load(userID string) ([]Turn, error) {
	data, err := os.ReadFile(s.userPath(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		backup := s.userPath(userID) + "." + s.now().Format("20060102-150405") + ".bak"
		_ = os.Rename(s.userPath(userID), backup)
		return nil, nil
	}
	return turns, nil
}

func (s *ShortTermStore) save(userID string, turns []Turn) error {
	data, err := json.Marshal(turns)
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
