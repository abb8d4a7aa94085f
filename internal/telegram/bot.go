// Package telegram adapts Telegram updates into chat events and delivers the
// bot's replies.
package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"group-chatter/internal/admin"
	"group-chatter/internal/auth"
	"group-chatter/internal/chat"
)

// Categories a Telegram chat is filed under.
const (
	CategoryGroups   = "Groups"
	CategoryChannels = "Channels"
	CategoryDirect   = "Direct"
)

// Submitter accepts inbound events for batching.
type Submitter interface {
	Submit(ctx context.Context, ev chat.Event) error
}

type Options struct {
	BotName string
	// CommandEnabled gates each chat command by name. Nil enables all.
	CommandEnabled func(name string) bool
	Logger         zerolog.Logger
}

type Bot struct {
	api     *tgbotapi.BotAPI
	s       sender
	self    tgbotapi.User
	botName string
	nameRe  *regexp.Regexp
	enabled func(string) bool

	submit  Submitter
	admin   *admin.Service
	authSvc *auth.Service
	now     func() time.Time
	logger  zerolog.Logger
}

func New(botToken string, adminSvc *admin.Service, authSvc *auth.Service, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}
	b := newBot(botAPISender{api: api}, api.Self, adminSvc, authSvc, opts)
	b.api = api
	return b, nil
}

func newBot(s sender, self tgbotapi.User, adminSvc *admin.Service, authSvc *auth.Service, opts Options) *Bot {
	enabled := opts.CommandEnabled
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	b := &Bot{
		s:       s,
		self:    self,
		botName: opts.BotName,
		enabled: enabled,
		admin:   adminSvc,
		authSvc: authSvc,
		now:     time.Now,
		logger:  opts.Logger.With().Str("component", "telegram").Logger(),
	}
	if opts.BotName != "" {
		b.nameRe = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(opts.BotName) + `\b`)
	}
	return b
}

// Run polls for updates and forwards messages to sub until ctx is done.
func (b *Bot) Run(ctx context.Context, sub Submitter) error {
	b.submit = sub
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info().Str("username", b.self.UserName).Msg("receiving updates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleIncomingMessage(ctx, update.Message)
	case update.ChannelPost != nil:
		b.handleIncomingMessage(ctx, update.ChannelPost)
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	if msg.From != nil && msg.From.ID == b.self.ID {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	ev, ok := b.toEvent(msg)
	if !ok {
		return
	}
	if b.submit == nil {
		return
	}
	if err := b.submit.Submit(ctx, ev); err != nil {
		b.logger.Warn().Err(err).Str("channel", ev.ChannelID).Msg("event dropped")
	}
}

// toEvent converts msg; service messages with no text or media are skipped.
func (b *Bot) toEvent(msg *tgbotapi.Message) (chat.Event, bool) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	atts := attachments(msg)
	if strings.TrimSpace(text) == "" && len(atts) == 0 {
		return chat.Event{}, false
	}

	ev := chat.Event{
		Speaker:      b.speaker(msg),
		Text:         text,
		Attachments:  atts,
		ChannelID:    strconv.FormatInt(msg.Chat.ID, 10),
		Category:     category(msg.Chat),
		ChannelLabel: channelLabel(msg.Chat),
		ReceivedAt:   msg.Time(),
	}
	if msg.Date == 0 {
		ev.ReceivedAt = b.now()
	}
	if r := msg.ReplyToMessage; r != nil {
		replyText := r.Text
		if replyText == "" {
			replyText = r.Caption
		}
		ev.ReplyTo = &chat.Reply{
			Speaker:  b.speaker(r),
			Text:     replyText,
			HasMedia: len(attachments(r)) > 0,
		}
	}
	ev.Mentioned = b.mentioned(msg, text)
	return ev, true
}

// mentioned is true for an @username, the bot's name as a word, or a reply
// to one of the bot's own messages.
func (b *Bot) mentioned(msg *tgbotapi.Message, text string) bool {
	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.ID == b.self.ID {
		return true
	}
	lower := strings.ToLower(text)
	if b.self.UserName != "" && strings.Contains(lower, "@"+strings.ToLower(b.self.UserName)) {
		return true
	}
	return b.nameRe != nil && b.nameRe.MatchString(text)
}

func (b *Bot) speaker(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return channelLabel(msg.Chat)
	}
	if msg.From.ID == b.self.ID && b.botName != "" {
		return b.botName
	}
	if msg.From.UserName != "" {
		return msg.From.UserName
	}
	return strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
}

func attachments(msg *tgbotapi.Message) []chat.Attachment {
	var out []chat.Attachment
	if len(msg.Photo) > 0 {
		out = append(out, chat.Attachment{Kind: chat.AttachmentImage})
	}
	if msg.Sticker != nil {
		out = append(out, chat.Attachment{Kind: chat.AttachmentImage, Name: "sticker"})
	}
	if msg.Document != nil {
		kind := chat.AttachmentFile
		if strings.HasPrefix(msg.Document.MimeType, "image/") {
			kind = chat.AttachmentImage
		}
		out = append(out, chat.Attachment{Kind: kind, Name: msg.Document.FileName})
	}
	if msg.Video != nil {
		out = append(out, chat.Attachment{Kind: chat.AttachmentFile, Name: "video"})
	}
	if msg.Audio != nil {
		out = append(out, chat.Attachment{Kind: chat.AttachmentFile, Name: "audio"})
	}
	if msg.Voice != nil {
		out = append(out, chat.Attachment{Kind: chat.AttachmentFile, Name: "voice"})
	}
	return out
}

func category(c *tgbotapi.Chat) string {
	switch {
	case c.IsChannel():
		return CategoryChannels
	case c.IsPrivate():
		return CategoryDirect
	default:
		return CategoryGroups
	}
}

func channelLabel(c *tgbotapi.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	if c.UserName != "" {
		return c.UserName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Send delivers one reply chunk to the chat identified by channelID.
func (b *Bot) Send(ctx context.Context, channelID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("channel id %q: %w", channelID, err)
	}
	if _, err := b.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error().Err(err).Int64("chat", chatID).Msg("failed to send message")
	}
}
