// Package cron schedules recurring agent jobs whose source of truth is
// a forum channel: each thread is one job, its starter message carries
// the schedule line and the prompt, and its tags carry categories.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
)

// Job is one scheduled job mirrored from a forum thread.
type Job struct {
	ID       string // thread id
	Name     string
	Schedule Schedule
	Prompt   string
	Tags     []string

	NextRun   time.Time
	LastRun   time.Time
	LastError string
}

// JobSource lists the current job set.
type JobSource interface {
	ListJobs(ctx context.Context) ([]*Job, error)
}

// ThreadSource mirrors jobs from forum threads. The starter message's
// first line must be "cron <5-field expr>" or "every <duration>"; the
// remainder is the prompt.
type ThreadSource struct {
	Chat       chat.Service
	ForumID    string
	TagMapPath string
}

// ListJobs fetches the forum's active threads and parses each into a
// job. Threads with an unparseable starter are skipped.
func (s *ThreadSource) ListJobs(ctx context.Context) ([]*Job, error) {
	threads, err := s.Chat.ListForumThreads(ctx, s.ForumID)
	if err != nil {
		return nil, fmt.Errorf("list cron threads: %w", err)
	}
	tagNames := s.loadTagMap()

	var jobs []*Job
	for _, th := range threads {
		if th.Archived {
			continue
		}
		job, err := ParseStarter(th.StarterContent)
		if err != nil {
			continue
		}
		job.ID = th.ID
		job.Name = th.Name
		for _, id := range th.TagIDs {
			if name, ok := tagNames[id]; ok {
				job.Tags = append(job.Tags, name)
			}
		}
		sort.Strings(job.Tags)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// loadTagMap reads the tag-id to category-name map. A missing or
// corrupt file yields an empty map.
func (s *ThreadSource) loadTagMap() map[string]string {
	out := make(map[string]string)
	if s.TagMapPath == "" {
		return out
	}
	data, err := os.ReadFile(s.TagMapPath)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]string{}
	}
	return out
}

// ParseStarter parses a starter message into a schedule and prompt.
func ParseStarter(content string) (*Job, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty starter message")
	}
	line, rest, _ := strings.Cut(content, "\n")
	sched, err := ParseScheduleLine(line)
	if err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(rest)
	if prompt == "" {
		return nil, fmt.Errorf("starter message has no prompt")
	}
	return &Job{Schedule: sched, Prompt: prompt}, nil
}
