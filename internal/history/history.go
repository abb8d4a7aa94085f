// Package history keeps the bounded, time-decayed rolling history of every
// chat channel the bot observes.
package history

import (
	"sort"
	"sync"
	"time"

	"group-chatter/internal/tokens"
)

// Key addresses one channel. Two channels with the same name in different
// categories are distinct.
type Key struct {
	Category  string
	ChannelID string
}

// ReplyRef describes the message an entry was replying to.
type ReplyRef struct {
	Speaker  string
	Excerpt  string
	HasMedia bool
}

// Entry is one cached conversational unit.
type Entry struct {
	Speaker      string
	Text         string
	CreatedAt    time.Time
	ChannelLabel string
	ReplyTo      *ReplyRef
}

type Options struct {
	Estimator           tokens.Estimator
	MaxTokensPerChannel int
	Retention           time.Duration
	// Location is the display timezone used for hour dividers. Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
}

// Store owns every channel sequence. All mutation (append plus eviction)
// happens under the write lock so readers never observe a partial state.
type Store struct {
	mu       sync.RWMutex
	opts     Options
	channels map[Key][]Entry
}

func NewStore(opts Options) *Store {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{opts: opts, channels: make(map[Key][]Entry)}
}

// Append adds entry to the tail of the channel sequence and runs eviction.
// A timestamp older than the current tail is clamped to the tail's so the
// sequence stays non-decreasing.
func (s *Store) Append(key Key, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	es := s.channels[key]
	if n := len(es); n > 0 && entry.CreatedAt.Before(es[n-1].CreatedAt) {
		entry.CreatedAt = es[n-1].CreatedAt
	}
	if entry.ReplyTo != nil {
		ref := *entry.ReplyTo
		entry.ReplyTo = &ref
	}
	s.channels[key] = s.evict(append(es, entry))
}

// History returns a copy of the channel sequence, oldest first.
func (s *Store) History(key Key) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEntries(s.channels[key])
}

// ChannelTokenCount sums the estimate of "speaker: text" over the channel.
func (s *Store) ChannelTokenCount(key Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenCount(s.channels[key])
}

func (s *Store) Clear(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, key)
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[Key][]Entry)
}

// Keys lists channels that currently hold entries, sorted by category then id.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.channels))
	for k, es := range s.channels {
		if len(es) > 0 {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out
}

// Snapshot is the full store contents: category -> channel id -> entries.
type Snapshot map[string]map[string][]Entry

// Snapshot returns a deep copy safe to serialize while the store keeps changing.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot)
	for k, es := range s.channels {
		if len(es) == 0 {
			continue
		}
		if out[k.Category] == nil {
			out[k.Category] = make(map[string][]Entry)
		}
		out[k.Category][k.ChannelID] = copyEntries(es)
	}
	return out
}

// Restore replaces the store contents with snap and applies eviction to
// every restored channel.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[Key][]Entry)
	for category, chans := range snap {
		for id, es := range chans {
			es = s.evict(copyEntries(es))
			if len(es) > 0 {
				s.channels[Key{Category: category, ChannelID: id}] = es
			}
		}
	}
}

// evict drops expired entries, then the oldest entries until the channel
// fits its token ceiling. Caller holds the write lock.
func (s *Store) evict(es []Entry) []Entry {
	if s.opts.Retention > 0 {
		cutoff := s.opts.Now().Add(-s.opts.Retention)
		kept := es[:0]
		for _, e := range es {
			if !e.CreatedAt.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		clear(es[len(kept):])
		es = kept
	}
	if s.opts.MaxTokensPerChannel > 0 {
		total := s.tokenCount(es)
		drop := 0
		for total > s.opts.MaxTokensPerChannel && drop < len(es) {
			total -= s.entryTokens(es[drop])
			drop++
		}
		if drop > 0 {
			es = append([]Entry(nil), es[drop:]...)
		}
	}
	return es
}

func (s *Store) entryTokens(e Entry) int {
	return s.opts.Estimator.Estimate(e.Speaker + ": " + e.Text)
}

func (s *Store) tokenCount(es []Entry) int {
	total := 0
	for _, e := range es {
		total += s.entryTokens(e)
	}
	return total
}

func copyEntries(es []Entry) []Entry {
	out := make([]Entry, len(es))
	for i, e := range es {
		if e.ReplyTo != nil {
			ref := *e.ReplyTo
			e.ReplyTo = &ref
		}
		out[i] = e
	}
	return out
}
