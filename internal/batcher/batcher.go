// Package batcher debounces chat events per channel. Each channel gets an
// actor goroutine that owns its pending batch and timer, plus a worker that
// hands finished batches to the dispatcher one at a time.
package batcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"group-chatter/internal/chat"
	"group-chatter/internal/history"
	"group-chatter/internal/metrics"
)

// ErrStopped is returned by Submit and Flush once Run has returned.
var ErrStopped = errors.New("batcher stopped")

// DefaultWindow is the debounce window used when Options.Window is zero.
const DefaultWindow = 5 * time.Second

// DefaultIdleTimeout retires a channel actor that has seen no events for this long.
const DefaultIdleTimeout = 10 * time.Minute

// DefaultMaxQueued bounds sealed batches waiting behind a slow dispatch.
const DefaultMaxQueued = 8

// Handler processes one batch. Calls for the same channel never overlap.
type Handler func(ctx context.Context, batch chat.Batch)

type Options struct {
	// Window is fixed from the first event of a batch; later events do not extend it.
	Window time.Duration
	// IdleTimeout is raised to at least twice Window.
	IdleTimeout time.Duration
	// MaxQueued caps sealed batches per channel; overflow is merged into the
	// newest queued batch.
	MaxQueued int
	Logger    zerolog.Logger
}

type Batcher struct {
	window    time.Duration
	idle      time.Duration
	maxQueued int
	handle    Handler
	logger    zerolog.Logger

	in     chan request
	done   chan struct{}
	active atomic.Int32
}

// request is either an event or a flush of key. Both travel through one
// queue so a flush always observes the events submitted before it.
type request struct {
	event chat.Event
	flush bool
	key   history.Key
}

func New(handle Handler, opts Options) *Batcher {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.IdleTimeout < 2*opts.Window {
		opts.IdleTimeout = 2 * opts.Window
	}
	if opts.MaxQueued <= 0 {
		opts.MaxQueued = DefaultMaxQueued
	}
	return &Batcher{
		window:    opts.Window,
		idle:      opts.IdleTimeout,
		maxQueued: opts.MaxQueued,
		handle:    handle,
		logger:    opts.Logger.With().Str("component", "batcher").Logger(),
		in:        make(chan request, 256),
		done:      make(chan struct{}),
	}
}

// Submit queues an event for its channel.
func (b *Batcher) Submit(ctx context.Context, ev chat.Event) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	return b.send(ctx, request{event: ev, key: ev.Key()})
}

// Flush hands the channel's pending batch to the dispatcher without waiting
// for its timer. It is a no-op for an idle channel.
func (b *Batcher) Flush(ctx context.Context, key history.Key) error {
	return b.send(ctx, request{flush: true, key: key})
}

// ActiveChannels is the number of channels holding a live actor.
func (b *Batcher) ActiveChannels() int {
	return int(b.active.Load())
}

func (b *Batcher) send(ctx context.Context, req request) error {
	select {
	case <-b.done:
		return ErrStopped
	default:
	}
	select {
	case b.in <- req:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run routes events to channel actors until ctx is cancelled. On shutdown
// every pending batch is flushed and Run waits for the dispatches to finish.
func (b *Batcher) Run(ctx context.Context) {
	dispatchCtx := context.WithoutCancel(ctx)
	actors := make(map[history.Key]*actor)
	// draining holds the worker of a retired actor until it finishes, so a
	// new actor for the same channel never dispatches alongside it.
	draining := make(map[history.Key]<-chan struct{})
	var wg sync.WaitGroup

	setActive := func() {
		b.active.Store(int32(len(actors)))
		metrics.ActiveChannels.Set(float64(len(actors)))
	}

	route := func(req request) {
		a, ok := actors[req.key]
		if !ok {
			if req.flush {
				return
			}
			prev := draining[req.key]
			delete(draining, req.key)
			a = newActor(req.key, b.window, b.maxQueued, b.logger)
			actors[req.key] = a
			setActive()
			wg.Add(2)
			go func() {
				defer wg.Done()
				a.run()
			}()
			go func() {
				defer wg.Done()
				defer close(a.workerDone)
				if prev != nil {
					<-prev
				}
				for batch := range a.out {
					b.handle(dispatchCtx, batch)
				}
			}()
		}
		a.lastSeen = time.Now()
		a.inbox <- req
	}

	// retire closes actors that have been quiet for the idle timeout. A
	// quiet actor has nothing pending, since the window is shorter.
	retire := func(now time.Time) {
		for key, a := range actors {
			if now.Sub(a.lastSeen) < b.idle {
				continue
			}
			close(a.inbox)
			delete(actors, key)
			draining[key] = a.workerDone
			a.logger.Debug().Msg("idle channel actor retired")
		}
		for key, done := range draining {
			select {
			case <-done:
				delete(draining, key)
			default:
			}
		}
		setActive()
	}

	sweep := time.NewTicker(b.idle / 2)
	defer sweep.Stop()

	for {
		select {
		case req := <-b.in:
			route(req)
		case now := <-sweep.C:
			retire(now)
		case <-ctx.Done():
			close(b.done)
			// route events accepted before shutdown
		drain:
			for {
				select {
				case req := <-b.in:
					route(req)
				default:
					break drain
				}
			}
			n := len(actors)
			for key, a := range actors {
				close(a.inbox)
				delete(actors, key)
			}
			wg.Wait()
			setActive()
			b.logger.Info().Int("channels", n).Msg("batcher stopped")
			return
		}
	}
}

// actor is the IDLE/COLLECTING state machine of one channel. It holds at most
// one pending batch and one timer.
type actor struct {
	key       history.Key
	window    time.Duration
	maxQueued int
	logger    zerolog.Logger

	inbox      chan request
	out        chan chat.Batch
	workerDone chan struct{}
	// lastSeen is owned by the router.
	lastSeen time.Time
}

func newActor(key history.Key, window time.Duration, maxQueued int, logger zerolog.Logger) *actor {
	return &actor{
		key:        key,
		window:     window,
		maxQueued:  maxQueued,
		logger:     logger.With().Str("category", key.Category).Str("channel", key.ChannelID).Logger(),
		inbox:      make(chan request, 64),
		out:        make(chan chat.Batch),
		workerDone: make(chan struct{}),
	}
}

func (a *actor) run() {
	defer close(a.out)

	var (
		pending []chat.Event
		timer   *time.Timer
		expired <-chan time.Time
		ready   []chat.Batch
	)
	// seal swaps the pending queue out and returns the channel to IDLE.
	seal := func() {
		if timer != nil {
			timer.Stop()
			timer, expired = nil, nil
		}
		events := pending
		pending = nil
		if len(events) == 0 {
			a.logger.Warn().Msg("debounce fired with empty batch, skipping handoff")
			return
		}
		label := events[len(events)-1].ChannelLabel
		if n := len(ready); n >= a.maxQueued {
			last := &ready[n-1]
			last.Events = append(last.Events, events...)
			last.ChannelLabel = label
			metrics.BatchesCoalesced.Inc()
			a.logger.Warn().Int("queued", n).Int("events", len(last.Events)).Msg("dispatch backlog, merged batch into queued one")
			return
		}
		ready = append(ready, chat.Batch{
			ID:           uuid.NewString(),
			Key:          a.key,
			ChannelLabel: label,
			Events:       events,
		})
	}

	for {
		var out chan<- chat.Batch
		var next chat.Batch
		if len(ready) > 0 {
			out, next = a.out, ready[0]
		}
		select {
		case req, ok := <-a.inbox:
			if !ok {
				if len(pending) > 0 {
					seal()
				}
				for _, batch := range ready {
					a.out <- batch
				}
				return
			}
			if req.flush {
				if len(pending) > 0 {
					seal()
				}
				continue
			}
			if len(pending) == 0 {
				timer = time.NewTimer(a.window)
				expired = timer.C
			}
			pending = append(pending, req.event)
		case <-expired:
			timer, expired = nil, nil
			seal()
		case out <- next:
			ready = ready[1:]
		}
	}
}
