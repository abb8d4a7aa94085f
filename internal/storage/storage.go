package storage

import "time"

// Outcome of a dispatched batch.
const (
	OutcomeListenOnly  = "listen_only"
	OutcomeLowScore    = "low_score"
	OutcomeNoScore     = "no_score"
	OutcomeRateLimited = "rate_limited"
	OutcomeReplied     = "replied"
	OutcomeNoReply     = "no_reply"
)

// Event records what the dispatcher decided for one batch.
// Events are expected to be appended in chronological order.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	BatchID      string    `json:"batch_id"`
	Category     string    `json:"category"`
	ChannelID    string    `json:"channel_id"`
	ChannelLabel string    `json:"channel_label"`
	Messages     int       `json:"messages"`
	Mentioned    bool      `json:"mentioned"`
	Outcome      string    `json:"outcome"`
	Score        *int      `json:"score,omitempty"`
	Reply        string    `json:"reply,omitempty"`
}

// Recorder abstracts persistence of dispatch events.
// LoadInteractions should return events in chronological order.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
