package stats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"group-chatter/internal/history"
	"group-chatter/internal/tokens"
)

type failingSink struct{}

func (failingSink) Write(Document) error { return errors.New("read-only fs") }

func seededStore(at time.Time) *history.Store {
	s := history.NewStore(history.Options{Estimator: tokens.NewEstimator(4)})
	s.Append(history.Key{Category: "Text", ChannelID: "1"}, history.Entry{Speaker: "abc", Text: "defgh", CreatedAt: at})
	s.Append(history.Key{Category: "Text", ChannelID: "2"}, history.Entry{Speaker: "abc", Text: "defgh", CreatedAt: at.Add(time.Minute)})
	s.Append(history.Key{Category: "Info", ChannelID: "3"}, history.Entry{Speaker: "abc", Text: "defghijklmn", CreatedAt: at})
	return s
}

func TestPublishWritesDocument(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "data", "bot_stats.json")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	p := NewPublisher(seededStore(start), sink, start, zerolog.Nop())
	p.now = func() time.Time { return start.Add(26*time.Hour + 5*time.Minute) }
	require.NoError(t, p.Publish(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "1d 2h 5m", doc["uptime"])
	assert.EqualValues(t, 3, doc["totalMessages"])
	assert.EqualValues(t, 8, doc["totalTokens"])
	assert.Contains(t, doc, "updatedAt")

	guilds := doc["guilds"].(map[string]any)
	text := guilds["Text"].(map[string]any)
	assert.EqualValues(t, 2, text["messagesCached"])
	assert.EqualValues(t, 4, text["tokensUsed"])
	assert.Equal(t, "2024-01-01T00:01:00Z", text["lastActivity"])
}

func TestPublishFailureIsReturnedNotFatal(t *testing.T) {
	p := NewPublisher(seededStore(time.Now()), failingSink{}, time.Now(), zerolog.Nop())
	assert.Error(t, p.Publish(context.Background()))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0d 0h 0m", FormatUptime(0))
	assert.Equal(t, "0d 0h 0m", FormatUptime(-time.Minute))
	assert.Equal(t, "2d 3h 4m", FormatUptime(51*time.Hour+4*time.Minute+59*time.Second))
}
