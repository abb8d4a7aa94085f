package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch metrics
	BatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_batches_dispatched_total",
			Help: "Total batches handed to the dispatcher",
		},
		[]string{"path"}, // "listen_only", "mention" or "regular"
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatter_batch_size_events",
			Help:    "Events per dispatched batch",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	JudgeDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_judge_decisions_total",
			Help: "Judge oracle outcomes",
		},
		[]string{"outcome"}, // "respond", "skip", "no_score"
	)

	OracleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_oracle_errors_total",
			Help: "Failed oracle calls",
		},
		[]string{"oracle"},
	)

	RepliesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatter_replies_sent_total",
			Help: "Replies emitted to chat",
		},
	)

	ReplyChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatter_reply_chunks_total",
			Help: "Message chunks emitted to chat",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatter_rate_limited_total",
			Help: "Regular-path batches suppressed by the channel cooldown",
		},
	)

	// Cache metrics
	SnapshotSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_snapshot_saves_total",
			Help: "Conversation cache saves",
		},
		[]string{"result"}, // "ok" or "error"
	)

	CachedMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatter_cached_messages",
			Help: "Messages currently held in the conversation cache",
		},
	)

	CachedTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatter_cached_tokens",
			Help: "Estimated tokens currently held in the conversation cache",
		},
	)

	// Batcher metrics
	ActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatter_batcher_active_channels",
			Help: "Channels with a live batching actor",
		},
	)

	BatchesCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatter_batches_coalesced_total",
			Help: "Sealed batches merged into the previous one because the dispatch queue was full",
		},
	)
)
