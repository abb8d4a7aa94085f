package history

import "time"

// ChannelStats summarizes one cached channel for the command and admin surfaces.
type ChannelStats struct {
	Category     string    `json:"category"`
	ChannelID    string    `json:"channel_id"`
	ChannelLabel string    `json:"channel_label"`
	Messages     int       `json:"messages"`
	Tokens       int       `json:"tokens"`
	LastActivity time.Time `json:"last_activity"`
}

// Totals aggregates every cached channel.
type Totals struct {
	Channels    int                     `json:"channels"`
	Messages    int                     `json:"messages"`
	Tokens      int                     `json:"tokens"`
	PerCategory map[string]ChannelStats `json:"per_category"`
}

func (s *Store) StatsFor(key Key) ChannelStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked(key, s.channels[key])
}

// StatsAll aggregates the whole store under one read lock so the totals are
// consistent with each other.
func (s *Store) StatsAll() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := Totals{PerCategory: make(map[string]ChannelStats)}
	for k, es := range s.channels {
		if len(es) == 0 {
			continue
		}
		cs := s.statsLocked(k, es)
		t.Channels++
		t.Messages += cs.Messages
		t.Tokens += cs.Tokens

		agg := t.PerCategory[k.Category]
		agg.Category = k.Category
		agg.Messages += cs.Messages
		agg.Tokens += cs.Tokens
		if cs.LastActivity.After(agg.LastActivity) {
			agg.LastActivity = cs.LastActivity
		}
		t.PerCategory[k.Category] = agg
	}
	return t
}

func (s *Store) statsLocked(key Key, es []Entry) ChannelStats {
	cs := ChannelStats{
		Category:  key.Category,
		ChannelID: key.ChannelID,
		Messages:  len(es),
		Tokens:    s.tokenCount(es),
	}
	if n := len(es); n > 0 {
		cs.ChannelLabel = es[n-1].ChannelLabel
		cs.LastActivity = es[n-1].CreatedAt
	}
	return cs
}
