package config

import (
	"strings"
	"testing"
	"time"
)

func TestSettingsGetSet(t *testing.T) {
	cfg := Default()
	s := NewSettings(&cfg)

	got, ok := s.Get("runtime_model")
	if !ok || got != "capable" {
		t.Fatalf("Get(runtime_model) = %q, %v", got, ok)
	}
	if err := s.Set("runtime_model", "fast"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.RuntimeModel != "fast" {
		t.Fatalf("set did not reach the config: %q", cfg.RuntimeModel)
	}
}

func TestSettingsValidation(t *testing.T) {
	cfg := Default()
	s := NewSettings(&cfg)

	if err := s.Set("edit_throttle", "not a duration"); err == nil {
		t.Fatalf("bad duration must fail")
	}
	if err := s.Set("edit_throttle", "2s"); err != nil {
		t.Fatalf("Set(edit_throttle) error = %v", err)
	}
	if cfg.EditThrottle != 2*time.Second {
		t.Fatalf("EditThrottle = %v", cfg.EditThrottle)
	}

	if err := s.Set("action_followup_depth", "99"); err == nil {
		t.Fatalf("out-of-range depth must fail")
	}
	if err := s.Set("memory_enabled", "false"); err != nil {
		t.Fatalf("Set(memory_enabled) error = %v", err)
	}
	if cfg.MemoryEnabled {
		t.Fatalf("memory_enabled not applied")
	}
}

func TestSettingsUnknownKey(t *testing.T) {
	cfg := Default()
	s := NewSettings(&cfg)
	if _, ok := s.Get("discord_token"); ok {
		t.Fatalf("secrets must not be readable")
	}
	err := s.Set("discord_token", "x")
	if err == nil || !strings.Contains(err.Error(), "unknown setting") {
		t.Fatalf("Set unknown key error = %v", err)
	}
}
