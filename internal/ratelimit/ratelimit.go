// Package ratelimit tracks the last time the bot replied in each channel.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter answers whether a channel is still cooling down after a reply.
type Limiter interface {
	// Allow reports whether no reply was marked for key within the cooldown.
	Allow(ctx context.Context, key string) (bool, error)
	// Mark stamps key with the current time.
	Mark(ctx context.Context, key string) error
}

// Memory keeps last-dispatch timestamps in process memory.
type Memory struct {
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemory(cooldown time.Duration) *Memory {
	return &Memory{cooldown: cooldown, now: time.Now, last: make(map[string]time.Time)}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	if m.cooldown <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[key]
	if !ok {
		return true, nil
	}
	return m.now().Sub(t) >= m.cooldown, nil
}

func (m *Memory) Mark(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[key] = m.now()
	return nil
}
