// Package dispatch decides, per batch, whether the bot stays silent, asks
// the judge, or replies, and commits every batch to the conversation cache.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"group-chatter/internal/chat"
	"group-chatter/internal/history"
	"group-chatter/internal/metrics"
	"group-chatter/internal/oracle"
	"group-chatter/internal/ratelimit"
	"group-chatter/internal/storage"
)

type Judge interface {
	Score(ctx context.Context, history, batch string) (int, error)
}

type Generator interface {
	Reply(ctx context.Context, history, batch string) (string, error)
}

// Sender delivers one outbound message to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// Saver persists the cache. The snapshot is taken inside SaveFrom so
// concurrent dispatches never write an older cache over a newer one.
type Saver interface {
	SaveFrom(src storage.Snapshotter) error
}

type Config struct {
	// BotName is the speaker recorded for the bot's own replies.
	BotName                 string
	ListenOnly              []string
	ScoreThreshold          int
	JudgeHistoryTokens      int
	GenerationHistoryTokens int
}

type Deps struct {
	Store     *history.Store
	Saver     Saver
	Judge     Judge
	Generator Generator
	Sender    Sender
	Limiter   ratelimit.Limiter
	// Recorder is optional.
	Recorder storage.Recorder
	Logger   zerolog.Logger
}

// Dispatcher keeps no per-batch state; everything lives in the injected stores.
type Dispatcher struct {
	Deps
	cfg        Config
	listenOnly map[string]struct{}
	now        func() time.Time
}

func New(deps Deps, cfg Config) *Dispatcher {
	lo := make(map[string]struct{}, len(cfg.ListenOnly))
	for _, name := range cfg.ListenOnly {
		lo[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	deps.Logger = deps.Logger.With().Str("component", "dispatcher").Logger()
	return &Dispatcher{Deps: deps, cfg: cfg, listenOnly: lo, now: time.Now}
}

// IsListenOnly reports whether the channel's category or name is in the
// listen-only set.
func (d *Dispatcher) IsListenOnly(category, channelLabel string) bool {
	if _, ok := d.listenOnly[strings.ToLower(category)]; ok {
		return true
	}
	_, ok := d.listenOnly[strings.ToLower(channelLabel)]
	return ok
}

// Dispatch runs the decision pipeline for one batch. It never returns an
// error: oracle and persistence failures are logged and end the decision.
func (d *Dispatcher) Dispatch(ctx context.Context, batch chat.Batch) {
	log := d.Logger.With().
		Str("batch", batch.ID).
		Str("category", batch.Key.Category).
		Str("channel", batch.Key.ChannelID).
		Int("events", len(batch.Events)).
		Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("batch dropped after panic")
		}
	}()
	if len(batch.Events) == 0 {
		log.Warn().Msg("empty batch dropped")
		return
	}

	listenOnly := d.IsListenOnly(batch.Key.Category, batch.ChannelLabel)
	mentioned := batch.AnyMentioned()

	// Both projections exclude the batch itself.
	judgeHistory := d.Store.TrimmedHistory(batch.Key, d.cfg.JudgeHistoryTokens)
	genHistory := d.Store.TrimmedHistory(batch.Key, d.cfg.GenerationHistoryTokens)

	for _, ev := range batch.Events {
		d.Store.Append(batch.Key, ev.Entry())
	}
	d.persist(log)
	metrics.BatchSize.Observe(float64(len(batch.Events)))

	rec := storage.Event{
		Timestamp:    d.now().UTC(),
		BatchID:      batch.ID,
		Category:     batch.Key.Category,
		ChannelID:    batch.Key.ChannelID,
		ChannelLabel: batch.ChannelLabel,
		Messages:     len(batch.Events),
		Mentioned:    mentioned,
	}
	content := batch.Content()

	switch {
	case listenOnly && !mentioned:
		metrics.BatchesDispatched.WithLabelValues("listen_only").Inc()
		log.Debug().Msg("listen-only channel, cached without reply")
		rec.Outcome = storage.OutcomeListenOnly
	case mentioned:
		metrics.BatchesDispatched.WithLabelValues("mention").Inc()
		rec.Outcome, rec.Reply = d.reply(ctx, log, batch, genHistory, content)
	default:
		metrics.BatchesDispatched.WithLabelValues("regular").Inc()
		d.regular(ctx, log, batch, judgeHistory, genHistory, content, &rec)
	}
	d.record(log, rec)
}

func (d *Dispatcher) regular(ctx context.Context, log zerolog.Logger, batch chat.Batch, judgeHistory, genHistory, content string, rec *storage.Event) {
	allowed, err := d.Limiter.Allow(ctx, limiterKey(batch.Key))
	if err != nil {
		log.Warn().Err(err).Msg("rate limiter unavailable, allowing")
		allowed = true
	}
	if !allowed {
		metrics.RateLimited.Inc()
		log.Debug().Msg("channel cooling down, reply suppressed")
		rec.Outcome = storage.OutcomeRateLimited
		return
	}

	score, err := d.Judge.Score(ctx, judgeHistory, content)
	if err != nil {
		metrics.JudgeDecisions.WithLabelValues("no_score").Inc()
		if !errors.Is(err, oracle.ErrNoScore) {
			metrics.OracleErrors.WithLabelValues("judge").Inc()
		}
		log.Warn().Err(err).Msg("judge gave no score")
		rec.Outcome = storage.OutcomeNoScore
		return
	}
	rec.Score = &score
	if score < d.cfg.ScoreThreshold {
		metrics.JudgeDecisions.WithLabelValues("skip").Inc()
		log.Debug().Int("score", score).Int("threshold", d.cfg.ScoreThreshold).Msg("score below threshold")
		rec.Outcome = storage.OutcomeLowScore
		return
	}
	metrics.JudgeDecisions.WithLabelValues("respond").Inc()
	log.Info().Int("score", score).Msg("judge approved reply")
	rec.Outcome, rec.Reply = d.reply(ctx, log, batch, genHistory, content)
}

// reply calls the generator, emits the result in chunks and caches it as the
// bot's own entry.
func (d *Dispatcher) reply(ctx context.Context, log zerolog.Logger, batch chat.Batch, genHistory, content string) (string, string) {
	raw, err := d.Generator.Reply(ctx, genHistory, content)
	if err != nil {
		metrics.OracleErrors.WithLabelValues("generator").Inc()
		log.Warn().Err(err).Msg("generator failed")
		return storage.OutcomeNoReply, ""
	}
	text := oracle.StripScore(raw)
	if text == "" {
		log.Warn().Msg("generator returned an empty reply")
		return storage.OutcomeNoReply, ""
	}

	sent := 0
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		if err := d.Sender.Send(ctx, batch.Key.ChannelID, chunk); err != nil {
			log.Error().Err(err).Int("chunk", sent).Msg("failed to send reply chunk")
			break
		}
		sent++
		metrics.ReplyChunks.Inc()
	}
	if sent == 0 {
		return storage.OutcomeNoReply, ""
	}
	metrics.RepliesSent.Inc()

	if err := d.Limiter.Mark(ctx, limiterKey(batch.Key)); err != nil {
		log.Warn().Err(err).Msg("failed to stamp channel cooldown")
	}
	d.Store.Append(batch.Key, history.Entry{
		Speaker:      d.cfg.BotName,
		Text:         text,
		CreatedAt:    d.now(),
		ChannelLabel: batch.ChannelLabel,
	})
	d.persist(log)
	log.Info().Int("chunks", sent).Msg("reply sent")
	return storage.OutcomeReplied, text
}

func (d *Dispatcher) persist(log zerolog.Logger) {
	if d.Saver == nil {
		return
	}
	if err := d.Saver.SaveFrom(d.Store); err != nil {
		metrics.SnapshotSaves.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("failed to persist conversation cache")
		return
	}
	metrics.SnapshotSaves.WithLabelValues("ok").Inc()
}

func (d *Dispatcher) record(log zerolog.Logger, ev storage.Event) {
	if d.Recorder == nil {
		return
	}
	if err := d.Recorder.AppendInteraction(ev); err != nil {
		log.Warn().Err(err).Msg("failed to record interaction")
	}
}

func limiterKey(k history.Key) string {
	return k.Category + "/" + k.ChannelID
}
