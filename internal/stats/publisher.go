// Package stats periodically publishes aggregate cache counters for
// dashboards.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"group-chatter/internal/history"
	"group-chatter/internal/metrics"
	"group-chatter/internal/storage"
)

// Document is the published stats payload.
type Document struct {
	Uptime        string                `json:"uptime"`
	TotalMessages int                   `json:"totalMessages"`
	TotalTokens   int                   `json:"totalTokens"`
	TotalChannels int                   `json:"totalChannels"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	Guilds        map[string]GuildStats `json:"guilds"`
}

// GuildStats is keyed by category label in Document.Guilds.
type GuildStats struct {
	MessagesCached int       `json:"messagesCached"`
	TokensUsed     int       `json:"tokensUsed"`
	LastActivity   time.Time `json:"lastActivity"`
}

type Sink interface {
	Write(doc Document) error
}

// FileSink replaces a JSON file atomically on every write.
type FileSink struct {
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure stats dir: %w", err)
	}
	return &FileSink{path: path}, nil
}

func (s *FileSink) Write(doc Document) error {
	return storage.WriteFileAtomic(s.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	})
}

type Publisher struct {
	store   *history.Store
	sink    Sink
	started time.Time
	now     func() time.Time
	logger  zerolog.Logger
}

func NewPublisher(store *history.Store, sink Sink, started time.Time, logger zerolog.Logger) *Publisher {
	return &Publisher{
		store:   store,
		sink:    sink,
		started: started,
		now:     time.Now,
		logger:  logger.With().Str("component", "stats").Logger(),
	}
}

// Collect reads the store once and builds the document.
func (p *Publisher) Collect() Document {
	totals := p.store.StatsAll()
	now := p.now()
	doc := Document{
		Uptime:        FormatUptime(now.Sub(p.started)),
		TotalMessages: totals.Messages,
		TotalTokens:   totals.Tokens,
		TotalChannels: totals.Channels,
		UpdatedAt:     now.UTC(),
		Guilds:        make(map[string]GuildStats, len(totals.PerCategory)),
	}
	for category, cs := range totals.PerCategory {
		doc.Guilds[category] = GuildStats{
			MessagesCached: cs.Messages,
			TokensUsed:     cs.Tokens,
			LastActivity:   cs.LastActivity.UTC(),
		}
	}
	return doc
}

// Publish writes the current stats to the sink. Write failures are logged
// and returned for the caller's bookkeeping only.
func (p *Publisher) Publish(_ context.Context) error {
	doc := p.Collect()
	metrics.CachedMessages.Set(float64(doc.TotalMessages))
	metrics.CachedTokens.Set(float64(doc.TotalTokens))
	if err := p.sink.Write(doc); err != nil {
		p.logger.Error().Err(err).Msg("failed to write stats")
		return fmt.Errorf("write stats: %w", err)
	}
	p.logger.Debug().Int("messages", doc.TotalMessages).Int("tokens", doc.TotalTokens).Msg("stats published")
	return nil
}

// FormatUptime renders d as "<days>d <hours>h <minutes>m".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}
