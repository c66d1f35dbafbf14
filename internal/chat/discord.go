package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// errCodeThreadArchived is the backend error for writes into an archived
// thread. Those sends are skipped rather than surfaced.
const errCodeThreadArchived = 50083

// discordSession is the subset of *discordgo.Session the adapter uses.
// Tests substitute a mock.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessagesPinned(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emoji string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emoji, userID string, options ...discordgo.RequestOption) error
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ThreadsActive(channelID string, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
	ForumThreadStart(channelID, name string, archiveDuration int, content string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	UpdateCustomStatus(state string) error
}

// Discord implements Service over discordgo.
type Discord struct {
	session discordSession
	logger  *slog.Logger

	// OnMessage is invoked for every inbound message create event.
	OnMessage func(*Message)
	// OnThreadChange is invoked when forum threads change (create, update,
	// delete); the cron sync coordinator subscribes to this.
	OnThreadChange func(parentID string)
	// OnReaction and OnReactionRemove receive raw reaction events.
	OnReaction       func(channelID, messageID, userID, emoji string)
	OnReactionRemove func(channelID, messageID, userID, emoji string)
}

// DiscordOption configures the Discord service.
type DiscordOption func(*Discord)

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) DiscordOption {
	return func(d *Discord) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDiscord creates a Discord chat service from a bot token.
func NewDiscord(token string, opts ...DiscordOption) (*Discord, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("chat: discord token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, &Error{Op: "new", Message: err.Error(), Err: err}
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuilds
	return newDiscordWithSession(session, opts...), nil
}

func newDiscordWithSession(session discordSession, opts ...DiscordOption) *Discord {
	d := &Discord{
		session: session,
		logger:  slog.Default().With("component", "discord"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect opens the gateway session and registers event handlers.
func (d *Discord) Connect(ctx context.Context) error {
	d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if d.OnMessage != nil && m.Message != nil {
			d.OnMessage(fromDiscordMessage(m.Message))
		}
	})
	d.session.AddHandler(func(_ *discordgo.Session, t *discordgo.ThreadCreate) {
		if d.OnThreadChange != nil && t.Channel != nil {
			d.OnThreadChange(t.ParentID)
		}
	})
	d.session.AddHandler(func(_ *discordgo.Session, t *discordgo.ThreadUpdate) {
		if d.OnThreadChange != nil && t.Channel != nil {
			d.OnThreadChange(t.ParentID)
		}
	})
	d.session.AddHandler(func(_ *discordgo.Session, t *discordgo.ThreadDelete) {
		if d.OnThreadChange != nil && t.Channel != nil {
			d.OnThreadChange(t.ParentID)
		}
	})
	d.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if d.OnReaction != nil && r.MessageReaction != nil {
			d.OnReaction(r.ChannelID, r.MessageID, r.UserID, r.Emoji.Name)
		}
	})
	d.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		if d.OnReactionRemove != nil && r.MessageReaction != nil {
			d.OnReactionRemove(r.ChannelID, r.MessageID, r.UserID, r.Emoji.Name)
		}
	})
	if err := d.session.Open(); err != nil {
		return d.wrap("open", err)
	}
	d.logger.Info("discord session open")
	return nil
}

// Close shuts down the gateway session.
func (d *Discord) Close() error {
	return d.session.Close()
}

func (d *Discord) SendMessage(ctx context.Context, channelID, content string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := d.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return nil, d.wrap("send", err)
	}
	return fromDiscordMessage(msg), nil
}

func (d *Discord) SendReply(ctx context.Context, channelID, replyToID, content string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:   content,
		Reference: &discordgo.MessageReference{ChannelID: channelID, MessageID: replyToID},
	})
	if err != nil {
		return nil, d.wrap("reply", err)
	}
	return fromDiscordMessage(msg), nil
}

func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.session.ChannelMessageEdit(channelID, messageID, content)
	return d.wrap("edit", err)
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wrap("delete", d.session.ChannelMessageDelete(channelID, messageID))
}

func (d *Discord) GetMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := d.session.ChannelMessage(channelID, messageID)
	if err != nil {
		return nil, d.wrap("get", err)
	}
	return fromDiscordMessage(msg), nil
}

func (d *Discord) Typing(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wrap("typing", d.session.ChannelTyping(channelID))
}

func (d *Discord) ChannelHistory(ctx context.Context, channelID string, limit int, beforeID string) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := d.session.ChannelMessages(channelID, limit, beforeID, "", "")
	if err != nil {
		return nil, d.wrap("history", err)
	}
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromDiscordMessage(m))
	}
	return out, nil
}

func (d *Discord) PinnedMessages(ctx context.Context, channelID string) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := d.session.ChannelMessagesPinned(channelID)
	if err != nil {
		return nil, d.wrap("pins", err)
	}
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromDiscordMessage(m))
	}
	return out, nil
}

func (d *Discord) React(ctx context.Context, channelID, messageID, emoji string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wrap("react", d.session.MessageReactionAdd(channelID, messageID, emoji))
}

func (d *Discord) Unreact(ctx context.Context, channelID, messageID, emoji string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wrap("unreact", d.session.MessageReactionRemove(channelID, messageID, emoji, "@me"))
}

func (d *Discord) CreateThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ch, err := d.session.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: 10080,
	})
	if err != nil {
		return "", d.wrap("thread", err)
	}
	return ch.ID, nil
}

func (d *Discord) ListForumThreads(ctx context.Context, forumID string) ([]*ForumThread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, err := d.session.ThreadsActive(forumID)
	if err != nil {
		return nil, d.wrap("forum-threads", err)
	}
	out := make([]*ForumThread, 0, len(list.Threads))
	for _, th := range list.Threads {
		if th.ParentID != forumID {
			continue
		}
		thread := &ForumThread{
			ID:       th.ID,
			ParentID: th.ParentID,
			Name:     th.Name,
		}
		for _, tag := range th.AppliedTags {
			thread.TagIDs = append(thread.TagIDs, tag)
		}
		if th.ThreadMetadata != nil {
			thread.Archived = th.ThreadMetadata.Archived
		}
		// The starter message shares the thread's id.
		if starter, err := d.session.ChannelMessage(th.ID, th.ID); err == nil && starter != nil {
			thread.StarterContent = starter.Content
		}
		out = append(out, thread)
	}
	return out, nil
}

func (d *Discord) CreateForumThread(ctx context.Context, forumID, name, content string, tagIDs []string) (*ForumThread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, err := d.session.ForumThreadStart(forumID, name, 10080, content)
	if err != nil {
		return nil, d.wrap("forum-create", err)
	}
	return &ForumThread{
		ID:             ch.ID,
		ParentID:       forumID,
		Name:           ch.Name,
		TagIDs:         tagIDs,
		StarterContent: content,
	}, nil
}

func (d *Discord) PinMessage(ctx context.Context, channelID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wrap("pin", d.session.ChannelMessagePin(channelID, messageID))
}

func (d *Discord) GuildInfo(ctx context.Context, guildID string) (*Guild, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, err := d.session.Guild(guildID)
	if err != nil {
		return nil, d.wrap("guild", err)
	}
	return &Guild{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		MemberCount: g.MemberCount,
	}, nil
}

func (d *Discord) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ptr *time.Time
	if !until.IsZero() {
		ptr = &until
	}
	return d.wrap("timeout", d.session.GuildMemberTimeout(guildID, userID, ptr))
}

// PurgeMessages deletes up to count recent messages in the channel and
// returns the number deleted.
func (d *Discord) PurgeMessages(ctx context.Context, channelID string, count int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msgs, err := d.session.ChannelMessages(channelID, count, "", "", "")
	if err != nil {
		return 0, d.wrap("purge", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if len(msgs) == 1 {
		if err := d.session.ChannelMessageDelete(channelID, msgs[0].ID); err != nil {
			return 0, d.wrap("purge", err)
		}
		return 1, nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := d.session.ChannelMessagesBulkDelete(channelID, ids); err != nil {
		return 0, d.wrap("purge", err)
	}
	return len(ids), nil
}

func (d *Discord) CreatePoll(ctx context.Context, channelID, question string, answers []string, durationHours int) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if durationHours <= 0 {
		durationHours = 24
	}
	poll := &discordgo.Poll{
		Question: discordgo.PollMedia{Text: question},
		Duration: durationHours,
	}
	for _, a := range answers {
		poll.Answers = append(poll.Answers, discordgo.PollAnswer{
			Media: &discordgo.PollMedia{Text: a},
		})
	}
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Poll: poll})
	if err != nil {
		return nil, d.wrap("poll", err)
	}
	return fromDiscordMessage(msg), nil
}

func (d *Discord) SetPresence(ctx context.Context, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.session.UpdateCustomStatus(status); err != nil {
		return d.wrap("presence", err)
	}
	return nil
}

// wrap converts a discordgo error into the package error type, mapping the
// archived-thread code to ErrSendSkipped.
func (d *Discord) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		if rest.Message.Code == errCodeThreadArchived {
			d.logger.Debug("send skipped: thread archived", "op", op)
			return ErrSendSkipped
		}
		return &Error{Code: rest.Message.Code, Op: op, Message: rest.Message.Message, Err: err}
	}
	return &Error{Op: op, Message: err.Error(), Err: err}
}

func fromDiscordMessage(m *discordgo.Message) *Message {
	if m == nil {
		return nil
	}
	msg := &Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Pinned:    m.Pinned,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorIsBot = m.Author.Bot
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	if !m.Timestamp.IsZero() {
		msg.Timestamp = m.Timestamp
	} else {
		msg.Timestamp = time.Now()
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			URL:         a.URL,
		})
	}
	return msg
}
