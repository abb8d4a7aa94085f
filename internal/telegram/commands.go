package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"group-chatter/internal/auth"
	"group-chatter/internal/history"
)

// Chat command names, lowercased. Policy keys match them case-insensitively.
const (
	cmdPing       = "ping"
	cmdBeer       = "beer"
	cmdUptime     = "uptime"
	cmdCacheStats = "cachestats"
	cmdClearCache = "clearcache"
	cmdDaily      = "daily"
	cmdGrant      = "grant"
	cmdRevoke     = "revoke"
)

const lastActivityLayout = "Jan 2 15:04 MST"

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	name := strings.ToLower(msg.Command())
	if !b.enabled(name) {
		return
	}
	chatID := msg.Chat.ID
	key := history.Key{Category: category(msg.Chat), ChannelID: strconv.FormatInt(chatID, 10)}

	switch name {
	case cmdPing:
		b.sendMessage(chatID, "Pong!")
	case cmdBeer:
		b.sendMessage(chatID, "🍺 Cheers!")
	case cmdUptime:
		b.sendMessage(chatID, "Uptime: "+b.admin.Uptime())
	case cmdCacheStats:
		b.sendMessage(chatID, b.cacheStats(key))
	case cmdClearCache:
		if !b.isAdmin(msg) {
			b.sendMessage(chatID, "Only bot admins can clear the cache.")
			return
		}
		b.clearCache(chatID, key, strings.TrimSpace(msg.CommandArguments()))
	case cmdDaily:
		ds, err := b.admin.Today()
		if err != nil {
			b.logger.Warn().Err(err).Msg("daily stats unavailable")
			b.sendMessage(chatID, "Daily stats are unavailable.")
			return
		}
		b.sendMessage(chatID, ds.Summary())
	case cmdGrant, cmdRevoke:
		if !b.isAdmin(msg) {
			b.sendMessage(chatID, "Only bot admins can manage admins.")
			return
		}
		b.manageAdmin(chatID, name, strings.TrimSpace(msg.CommandArguments()))
	}
}

func (b *Bot) isAdmin(msg *tgbotapi.Message) bool {
	return b.authSvc != nil && msg.From != nil && b.authSvc.IsAdmin(msg.From.ID)
}

func (b *Bot) cacheStats(key history.Key) string {
	loc := b.admin.Location()
	cs := b.admin.StatsFor(key)
	totals := b.admin.StatsAll()

	var sb strings.Builder
	sb.WriteString("This channel:\n")
	fmt.Fprintf(&sb, "- messages cached: %d\n", cs.Messages)
	fmt.Fprintf(&sb, "- tokens: %d\n", cs.Tokens)
	if !cs.LastActivity.IsZero() {
		fmt.Fprintf(&sb, "- last activity: %s\n", cs.LastActivity.In(loc).Format(lastActivityLayout))
	}
	sb.WriteString("All channels:\n")
	fmt.Fprintf(&sb, "- channels: %d\n", totals.Channels)
	fmt.Fprintf(&sb, "- messages cached: %d\n", totals.Messages)
	fmt.Fprintf(&sb, "- tokens: %d", totals.Tokens)
	return sb.String()
}

func (b *Bot) clearCache(chatID int64, key history.Key, arg string) {
	if strings.EqualFold(arg, "all") {
		if err := b.admin.ClearAll(); err != nil {
			b.logger.Error().Err(err).Msg("clear all")
			b.sendMessage(chatID, "Cache cleared, but saving it failed.")
			return
		}
		b.logger.Info().Msg("cache cleared for all channels")
		b.sendMessage(chatID, "Cache cleared for all channels.")
		return
	}
	if err := b.admin.Clear(key); err != nil {
		b.logger.Error().Err(err).Str("channel", key.ChannelID).Msg("clear channel")
		b.sendMessage(chatID, "Cache cleared, but saving it failed.")
		return
	}
	b.logger.Info().Str("category", key.Category).Str("channel", key.ChannelID).Msg("cache cleared")
	b.sendMessage(chatID, "Cache cleared for this channel.")
}

func (b *Bot) manageAdmin(chatID int64, name, arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.sendMessage(chatID, fmt.Sprintf("Usage: /%s <user id>", name))
		return
	}
	if name == cmdGrant {
		err = b.authSvc.Grant(auth.User{ID: id})
	} else {
		err = b.authSvc.Revoke(id)
	}
	if err != nil {
		b.logger.Error().Err(err).Int64("user", id).Str("command", name).Msg("update admins")
		b.sendMessage(chatID, "Failed to update admins.")
		return
	}
	if name == cmdGrant {
		b.sendMessage(chatID, fmt.Sprintf("User %d is now an admin.", id))
	} else {
		b.sendMessage(chatID, fmt.Sprintf("User %d is no longer an admin.", id))
	}
}
