package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed job schedule.
type Schedule struct {
	Kind     string
	CronExpr string
	Every    time.Duration
}

// ParseScheduleLine parses "cron <5-field expr>" or "every <duration>".
func ParseScheduleLine(line string) (Schedule, error) {
	line = strings.TrimSpace(line)
	keyword, rest, ok := strings.Cut(line, " ")
	if !ok {
		return Schedule{}, fmt.Errorf("schedule line %q: want \"cron <expr>\" or \"every <duration>\"", line)
	}
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(keyword) {
	case KindCron:
		if _, err := cronParser.Parse(rest); err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", rest, err)
		}
		return Schedule{Kind: KindCron, CronExpr: rest}, nil
	case KindEvery:
		d, err := time.ParseDuration(rest)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid every duration %q: %w", rest, err)
		}
		if d < time.Minute {
			return Schedule{}, fmt.Errorf("every interval %s below 1m minimum", d)
		}
		return Schedule{Kind: KindEvery, Every: d}, nil
	default:
		return Schedule{}, fmt.Errorf("unknown schedule keyword %q", keyword)
	}
}

// Next returns the next fire time strictly after now.
func (s Schedule) Next(now time.Time) (time.Time, error) {
	switch s.Kind {
	case KindCron:
		parsed, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.Next(now), nil
	case KindEvery:
		if s.Every <= 0 {
			return time.Time{}, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.Every), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// String renders the schedule in its authoring form.
func (s Schedule) String() string {
	if s.Kind == KindEvery {
		return "every " + s.Every.String()
	}
	return "cron " + s.CronExpr
}
