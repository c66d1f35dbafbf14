// Package chat abstracts the chat service surface the bot talks to.
//
// The concrete implementation is Discord (see discord.go); the rest of the
// system depends only on the Service interface so tests can run against an
// in-memory fake.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is a normalized chat message.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	Content     string
	ReplyToID   string
	Timestamp   time.Time
	Attachments []Attachment
	Pinned      bool
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	Size        int
	URL         string
}

// Guild is a summary of the server a channel belongs to.
type Guild struct {
	ID          string
	Name        string
	Description string
	MemberCount int
}

// ForumThread is a thread in a forum channel; cron jobs and tasks use
// forum threads as their source of truth.
type ForumThread struct {
	ID             string
	ParentID       string
	Name           string
	TagIDs         []string
	Archived       bool
	StarterContent string
}

// Service is the operation surface the orchestration core needs from the
// chat backend. All calls honor ctx cancellation.
type Service interface {
	SendMessage(ctx context.Context, channelID, content string) (*Message, error)
	SendReply(ctx context.Context, channelID, replyToID, content string) (*Message, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	GetMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	Typing(ctx context.Context, channelID string) error
	ChannelHistory(ctx context.Context, channelID string, limit int, beforeID string) ([]*Message, error)
	PinnedMessages(ctx context.Context, channelID string) ([]*Message, error)
	React(ctx context.Context, channelID, messageID, emoji string) error
	Unreact(ctx context.Context, channelID, messageID, emoji string) error
	PinMessage(ctx context.Context, channelID, messageID string) error
	CreateThread(ctx context.Context, channelID, messageID, name string) (string, error)
	ListForumThreads(ctx context.Context, forumID string) ([]*ForumThread, error)
	CreateForumThread(ctx context.Context, forumID, name, content string, tagIDs []string) (*ForumThread, error)
	GuildInfo(ctx context.Context, guildID string) (*Guild, error)
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error
	PurgeMessages(ctx context.Context, channelID string, count int) (int, error)
	CreatePoll(ctx context.Context, channelID, question string, answers []string, durationHours int) (*Message, error)
	SetPresence(ctx context.Context, status string) error
}

// Error wraps a chat-service failure with its backend error code when one
// is available.
type Error struct {
	Code    int
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("chat: %s: code %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("chat: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrSendSkipped marks a send that was dropped for a recoverable reason,
// such as the target thread being archived. Callers treat it as success
// with nothing delivered.
var ErrSendSkipped = errors.New("chat: send skipped (recoverable)")

// IsRecoverableSendSkip reports whether err represents a send the caller
// should silently skip.
func IsRecoverableSendSkip(err error) bool {
	return errors.Is(err, ErrSendSkipped)
}
