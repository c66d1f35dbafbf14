package config

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Settings is the runtime-adjustable overlay backing the config action
// category. Only an allowlisted key set is exposed; everything else in
// Config stays immutable after startup.
type Settings struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSettings wraps cfg for runtime adjustment. The handler and other
// subsystems read through the same pointer, so sets take effect on the
// next message.
func NewSettings(cfg *Config) *Settings {
	return &Settings{cfg: cfg}
}

// adjustable maps exposed key names to getters and setters.
var adjustable = map[string]struct {
	get func(*Config) string
	set func(*Config, string) error
}{
	"runtime_model": {
		get: func(c *Config) string { return c.RuntimeModel },
		set: func(c *Config, v string) error {
			if v == "" {
				return fmt.Errorf("runtime_model cannot be empty")
			}
			c.RuntimeModel = v
			return nil
		},
	},
	"edit_throttle": {
		get: func(c *Config) string { return c.EditThrottle.String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				return fmt.Errorf("edit_throttle wants a non-negative duration, got %q", v)
			}
			c.EditThrottle = d
			return nil
		},
	},
	"action_followup_depth": {
		get: func(c *Config) string { return strconv.Itoa(c.FollowupDepth) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 10 {
				return fmt.Errorf("action_followup_depth wants 0..10, got %q", v)
			}
			c.FollowupDepth = n
			return nil
		},
	},
	"trivial_max_len": {
		get: func(c *Config) string { return strconv.Itoa(c.TrivialMaxLen) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("trivial_max_len wants a non-negative integer, got %q", v)
			}
			c.TrivialMaxLen = n
			return nil
		},
	},
	"memory_enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.MemoryEnabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("memory_enabled wants a boolean, got %q", v)
			}
			c.MemoryEnabled = b
			return nil
		},
	},
	"actions_enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.ActionsEnabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("actions_enabled wants a boolean, got %q", v)
			}
			c.ActionsEnabled = b
			return nil
		},
	},
}

// Keys lists the adjustable key names.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(adjustable))
	for k := range adjustable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the current value of key.
func (s *Settings) Get(key string) (string, bool) {
	entry, ok := adjustable[key]
	if !ok {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entry.get(s.cfg), true
}

// Set updates key after validation.
func (s *Settings) Set(key, value string) error {
	entry, ok := adjustable[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (adjustable: %v)", key, s.Keys())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return entry.set(s.cfg, value)
}
