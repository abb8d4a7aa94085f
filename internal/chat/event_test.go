package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventContentMediaMarker(t *testing.T) {
	e := Event{Text: "  look  ", Attachments: []Attachment{{Kind: AttachmentImage}, {Kind: AttachmentImage}}}
	assert.Equal(t, "look [shared 2 images]", e.Content())

	e = Event{Attachments: []Attachment{{Kind: AttachmentImage}, {Kind: AttachmentFile, Name: "a.pdf"}}}
	assert.Equal(t, "[shared 1 image and 1 file]", e.Content())

	assert.Equal(t, "plain", Event{Text: "plain\n"}.Content())
}

func TestEventEntryTruncatesReply(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Event{
		Speaker: "bob", Text: "yes", ReceivedAt: at, ChannelLabel: "general",
		ReplyTo: &Reply{Speaker: "alice", Text: strings.Repeat("a", 80), HasMedia: true},
	}
	entry := e.Entry()
	require.NotNil(t, entry.ReplyTo)
	assert.Equal(t, strings.Repeat("a", 50)+"...", entry.ReplyTo.Excerpt)
	assert.True(t, entry.ReplyTo.HasMedia)
	assert.Equal(t, at, entry.CreatedAt)
	assert.Equal(t, "general", entry.ChannelLabel)
}

func TestBatchContent(t *testing.T) {
	b := Batch{Events: []Event{
		{Speaker: "alice", Text: "hi all"},
		{Speaker: "bob", Text: "hey ClaudeBot", Mentioned: true},
	}}
	assert.True(t, b.AnyMentioned())
	assert.Equal(t, "alice: hi all\n[MENTIONED] bob: hey ClaudeBot", b.Content())

	b.Events[1].Mentioned = false
	assert.False(t, b.AnyMentioned())
}
