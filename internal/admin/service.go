// Package admin exposes cache inspection and maintenance to chat commands and
// to the operator HTTP surface.
package admin

import (
	"fmt"
	"time"

	"group-chatter/internal/analytics"
	"group-chatter/internal/history"
	"group-chatter/internal/stats"
	"group-chatter/internal/storage"
)

type Saver interface {
	SaveFrom(src storage.Snapshotter) error
}

type Service struct {
	store    *history.Store
	saver    Saver
	recorder storage.Recorder
	started  time.Time
	loc      *time.Location
	now      func() time.Time
}

// NewService wires the cache, its snapshot file and the interaction log.
// recorder may be nil, in which case daily stats are unavailable.
func NewService(store *history.Store, saver Saver, recorder storage.Recorder, started time.Time, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    store,
		saver:    saver,
		recorder: recorder,
		started:  started,
		loc:      loc,
		now:      time.Now,
	}
}

func (s *Service) StatsFor(key history.Key) history.ChannelStats {
	return s.store.StatsFor(key)
}

func (s *Service) StatsAll() history.Totals {
	return s.store.StatsAll()
}

// Clear drops one channel and persists the result.
func (s *Service) Clear(key history.Key) error {
	s.store.Clear(key)
	return s.save()
}

func (s *Service) ClearAll() error {
	s.store.ClearAll()
	return s.save()
}

func (s *Service) Uptime() string {
	return stats.FormatUptime(s.now().Sub(s.started))
}

// Daily aggregates the interaction log for the day containing date.
func (s *Service) Daily(date time.Time) (*analytics.DailyStats, error) {
	if s.recorder == nil {
		return nil, fmt.Errorf("interaction log not configured")
	}
	events, err := s.recorder.LoadInteractions()
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	return analytics.AnalyzeDailyLogs(events, date.In(s.loc)), nil
}

// Today is Daily for the current date in the display timezone.
func (s *Service) Today() (*analytics.DailyStats, error) {
	return s.Daily(s.now())
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) save() error {
	if s.saver == nil {
		return nil
	}
	if err := s.saver.SaveFrom(s.store); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
