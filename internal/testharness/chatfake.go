// Package testharness provides shared fakes for package tests.
package testharness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
)

// FakeChat is an in-memory chat.Service that records every call.
type FakeChat struct {
	mu sync.Mutex

	nextID   int
	Messages map[string]*chat.Message // by message id
	Edits    []string                 // message ids in edit order
	Deleted  []string
	Sent     []*chat.Message
	Threads  []*chat.ForumThread

	// EditErr, when set, is returned by EditMessage.
	EditErr error
	// SendErr, when set, is returned by SendMessage/SendReply.
	SendErr error

	History map[string][]*chat.Message // channel id -> newest-first history
	Pins    map[string][]*chat.Message

	PinnedIDs []string // message ids pinned via PinMessage
	Timeouts  []string // user ids timed out
	Purged    []int    // purge counts requested
	Polls     []string // poll questions
	Presence  string
	Guilds    map[string]*chat.Guild
}

// NewFakeChat creates an empty fake.
func NewFakeChat() *FakeChat {
	return &FakeChat{
		Messages: make(map[string]*chat.Message),
		History:  make(map[string][]*chat.Message),
		Pins:     make(map[string][]*chat.Message),
		Guilds:   make(map[string]*chat.Guild),
	}
}

func (f *FakeChat) newID() string {
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID)
}

func (f *FakeChat) SendMessage(ctx context.Context, channelID, content string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	msg := &chat.Message{ID: f.newID(), ChannelID: channelID, Content: content}
	f.Messages[msg.ID] = msg
	f.Sent = append(f.Sent, msg)
	return msg, nil
}

func (f *FakeChat) SendReply(ctx context.Context, channelID, replyToID, content string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	msg := &chat.Message{ID: f.newID(), ChannelID: channelID, ReplyToID: replyToID, Content: content}
	f.Messages[msg.ID] = msg
	f.Sent = append(f.Sent, msg)
	return msg, nil
}

func (f *FakeChat) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditErr != nil {
		return f.EditErr
	}
	if msg, ok := f.Messages[messageID]; ok {
		msg.Content = content
	} else {
		f.Messages[messageID] = &chat.Message{ID: messageID, ChannelID: channelID, Content: content}
	}
	f.Edits = append(f.Edits, messageID)
	return nil
}

func (f *FakeChat) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Messages, messageID)
	f.Deleted = append(f.Deleted, messageID)
	return nil
}

func (f *FakeChat) GetMessage(ctx context.Context, channelID, messageID string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.Messages[messageID]; ok {
		return msg, nil
	}
	return nil, fmt.Errorf("message %s not found", messageID)
}

func (f *FakeChat) Typing(ctx context.Context, channelID string) error { return nil }

func (f *FakeChat) ChannelHistory(ctx context.Context, channelID string, limit int, beforeID string) ([]*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.History[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *FakeChat) PinnedMessages(ctx context.Context, channelID string) ([]*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pins[channelID], nil
}

func (f *FakeChat) React(ctx context.Context, channelID, messageID, emoji string) error   { return nil }
func (f *FakeChat) Unreact(ctx context.Context, channelID, messageID, emoji string) error { return nil }

func (f *FakeChat) CreateThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	return "thread-" + messageID, nil
}

func (f *FakeChat) ListForumThreads(ctx context.Context, forumID string) ([]*chat.ForumThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*chat.ForumThread, 0, len(f.Threads))
	for _, th := range f.Threads {
		if th.ParentID == forumID {
			out = append(out, th)
		}
	}
	return out, nil
}

func (f *FakeChat) CreateForumThread(ctx context.Context, forumID, name, content string, tagIDs []string) (*chat.ForumThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	th := &chat.ForumThread{
		ID:             fmt.Sprintf("thread-%d", len(f.Threads)+1),
		ParentID:       forumID,
		Name:           name,
		TagIDs:         tagIDs,
		StarterContent: content,
	}
	f.Threads = append(f.Threads, th)
	return th, nil
}

func (f *FakeChat) PinMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.Messages[messageID]; ok {
		msg.Pinned = true
	}
	f.PinnedIDs = append(f.PinnedIDs, messageID)
	return nil
}

func (f *FakeChat) GuildInfo(ctx context.Context, guildID string) (*chat.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.Guilds[guildID]; ok {
		return g, nil
	}
	return &chat.Guild{ID: guildID, Name: "fake guild", MemberCount: 1}, nil
}

func (f *FakeChat) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Timeouts = append(f.Timeouts, userID)
	return nil
}

func (f *FakeChat) PurgeMessages(ctx context.Context, channelID string, count int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Purged = append(f.Purged, count)
	if msgs := f.History[channelID]; len(msgs) < count {
		return len(msgs), nil
	}
	return count, nil
}

func (f *FakeChat) CreatePoll(ctx context.Context, channelID, question string, answers []string, durationHours int) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Polls = append(f.Polls, question)
	msg := &chat.Message{ID: f.newID(), ChannelID: channelID, Content: question}
	f.Messages[msg.ID] = msg
	return msg, nil
}

func (f *FakeChat) SetPresence(ctx context.Context, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Presence = status
	return nil
}

// EditCount returns how many edits hit messageID.
func (f *FakeChat) EditCount(messageID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.Edits {
		if id == messageID {
			n++
		}
	}
	return n
}

// Content returns the current content of messageID, or "".
func (f *FakeChat) Content(messageID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.Messages[messageID]; ok {
		return msg.Content
	}
	return ""
}

var _ chat.Service = (*FakeChat)(nil)
