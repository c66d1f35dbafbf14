package cron

import (
	"testing"
	"time"
)

func TestParseScheduleLine(t *testing.T) {
	tests := []struct {
		line    string
		kind    string
		wantErr bool
	}{
		{"cron */5 * * * *", KindCron, false},
		{"cron 0 9 * * 1-5", KindCron, false},
		{"every 10m", KindEvery, false},
		{"every 1h30m", KindEvery, false},
		{"every 5s", "", true},
		{"cron not an expr", "", true},
		{"daily 9am", "", true},
		{"cron", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		sched, err := ParseScheduleLine(tt.line)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseScheduleLine(%q) expected error", tt.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseScheduleLine(%q) error = %v", tt.line, err)
		}
		if sched.Kind != tt.kind {
			t.Fatalf("ParseScheduleLine(%q) kind = %q, want %q", tt.line, sched.Kind, tt.kind)
		}
	}
}

func TestScheduleNextEvery(t *testing.T) {
	sched, err := ParseScheduleLine("every 15m")
	if err != nil {
		t.Fatalf("ParseScheduleLine() error = %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next, err := sched.Next(now)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if want := now.Add(15 * time.Minute); !next.Equal(want) {
		t.Fatalf("Next() = %v, want %v", next, want)
	}
}

func TestScheduleNextCron(t *testing.T) {
	sched, err := ParseScheduleLine("cron 0 9 * * *")
	if err != nil {
		t.Fatalf("ParseScheduleLine() error = %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next, err := sched.Next(now)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next() = %v, want %v", next, want)
	}
}

func TestScheduleString(t *testing.T) {
	sched, _ := ParseScheduleLine("every 10m")
	if got := sched.String(); got != "every 10m0s" {
		t.Fatalf("String() = %q", got)
	}
	sched, _ = ParseScheduleLine("cron */5 * * * *")
	if got := sched.String(); got != "cron */5 * * * *" {
		t.Fatalf("String() = %q", got)
	}
}
