// Package chat holds the platform-neutral event types the engine consumes.
package chat

import (
	"fmt"
	"strings"
	"time"

	"group-chatter/internal/history"
)

// ReplyExcerptLimit caps how much of a referenced message is kept.
const ReplyExcerptLimit = 50

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

type Attachment struct {
	Kind AttachmentKind
	Name string
}

// Reply is the message an event answered.
type Reply struct {
	Speaker  string
	Text     string
	HasMedia bool
}

// Event is one inbound chat message.
type Event struct {
	Speaker      string
	Text         string
	Attachments  []Attachment
	ReplyTo      *Reply
	Mentioned    bool
	ChannelID    string
	Category     string
	ChannelLabel string
	ReceivedAt   time.Time
}

func (e Event) Key() history.Key {
	return history.Key{Category: e.Category, ChannelID: e.ChannelID}
}

// Content is the trimmed text plus a marker for any attached media.
func (e Event) Content() string {
	text := strings.TrimSpace(e.Text)
	if marker := mediaMarker(e.Attachments); marker != "" {
		if text == "" {
			return marker
		}
		return text + " " + marker
	}
	return text
}

func mediaMarker(atts []Attachment) string {
	if len(atts) == 0 {
		return ""
	}
	images := 0
	for _, a := range atts {
		if a.Kind == AttachmentImage {
			images++
		}
	}
	files := len(atts) - images
	var parts []string
	if images > 0 {
		parts = append(parts, plural(images, "image"))
	}
	if files > 0 {
		parts = append(parts, plural(files, "file"))
	}
	return "[shared " + strings.Join(parts, " and ") + "]"
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// Entry converts the event into its cached form.
func (e Event) Entry() history.Entry {
	entry := history.Entry{
		Speaker:      e.Speaker,
		Text:         e.Content(),
		CreatedAt:    e.ReceivedAt,
		ChannelLabel: e.ChannelLabel,
	}
	if e.ReplyTo != nil {
		entry.ReplyTo = &history.ReplyRef{
			Speaker:  e.ReplyTo.Speaker,
			Excerpt:  history.Excerpt(e.ReplyTo.Text, ReplyExcerptLimit),
			HasMedia: e.ReplyTo.HasMedia,
		}
	}
	return entry
}

// Batch is the set of events gathered for one channel in one debounce window.
type Batch struct {
	ID           string
	Key          history.Key
	ChannelLabel string
	Events       []Event
}

// AnyMentioned reports whether any event addressed the bot directly.
func (b Batch) AnyMentioned() bool {
	for _, e := range b.Events {
		if e.Mentioned {
			return true
		}
	}
	return false
}

// MentionMarker prefixes events that addressed the bot in rendered batch content.
const MentionMarker = "[MENTIONED] "

// Content renders the batch one line per event for the oracles.
func (b Batch) Content() string {
	lines := make([]string, 0, len(b.Events))
	for _, e := range b.Events {
		line := e.Entry().Line()
		if e.Mentioned {
			line = MentionMarker + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
