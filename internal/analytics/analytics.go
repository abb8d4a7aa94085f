// Package analytics summarizes the interaction log per day.
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"group-chatter/internal/storage"
)

// DailyStats holds what the dispatcher did during one day.
type DailyStats struct {
	Date            string                  `json:"date"`
	Batches         int                     `json:"batches"`
	Messages        int                     `json:"messages"`
	Replies         int                     `json:"replies"`
	Mentions        int                     `json:"mentions"`
	ActiveChannels  int                     `json:"active_channels"`
	Outcomes        map[string]int          `json:"outcomes"`
	AverageScore    float64                 `json:"average_score"`
	ChannelActivity map[string]ChannelStats `json:"channel_activity"`
}

// ChannelStats is the per-channel slice of DailyStats, keyed by
// "category/channel".
type ChannelStats struct {
	Category     string `json:"category"`
	ChannelID    string `json:"channel_id"`
	ChannelLabel string `json:"channel_label"`
	Batches      int    `json:"batches"`
	Messages     int    `json:"messages"`
	Replies      int    `json:"replies"`
}

// AnalyzeDailyLogs aggregates events that fall on targetDate, in
// targetDate's location.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	loc := targetDate.Location()
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, loc)
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:            startOfDay.Format("2006-01-02"),
		Outcomes:        make(map[string]int),
		ChannelActivity: make(map[string]ChannelStats),
	}

	var scoreSum, scored int
	for _, event := range events {
		ts := event.Timestamp.In(loc)
		if ts.Before(startOfDay) || !ts.Before(endOfDay) {
			continue
		}

		stats.Batches++
		stats.Messages += event.Messages
		stats.Outcomes[event.Outcome]++
		if event.Mentioned {
			stats.Mentions++
		}
		if event.Score != nil {
			scoreSum += *event.Score
			scored++
		}

		key := event.Category + "/" + event.ChannelID
		ch, ok := stats.ChannelActivity[key]
		if !ok {
			ch = ChannelStats{Category: event.Category, ChannelID: event.ChannelID}
		}
		if event.ChannelLabel != "" {
			ch.ChannelLabel = event.ChannelLabel
		}
		ch.Batches++
		ch.Messages += event.Messages
		if event.Outcome == storage.OutcomeReplied {
			stats.Replies++
			ch.Replies++
		}
		stats.ChannelActivity[key] = ch
	}

	stats.ActiveChannels = len(stats.ChannelActivity)
	if scored > 0 {
		stats.AverageScore = float64(scoreSum) / float64(scored)
	}
	return stats
}

// Summary renders the stats as plain text for chat commands.
func (ds *DailyStats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity for %s:\n", ds.Date)
	fmt.Fprintf(&b, "- batches: %d (%d messages)\n", ds.Batches, ds.Messages)
	fmt.Fprintf(&b, "- replies: %d, mentions: %d\n", ds.Replies, ds.Mentions)
	fmt.Fprintf(&b, "- active channels: %d\n", ds.ActiveChannels)
	if ds.AverageScore > 0 {
		fmt.Fprintf(&b, "- average judge score: %.1f\n", ds.AverageScore)
	}

	outcomes := make([]string, 0, len(ds.Outcomes))
	for o := range ds.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "- %s: %d\n", o, ds.Outcomes[o])
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
