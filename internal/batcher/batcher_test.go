package batcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"group-chatter/internal/chat"
	"group-chatter/internal/history"
)

type recorder struct {
	mu      sync.Mutex
	batches []chat.Batch
}

func (r *recorder) handle(_ context.Context, b chat.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
}

func (r *recorder) snapshot() []chat.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Batch(nil), r.batches...)
}

func ev(channel, text string) chat.Event {
	return chat.Event{Speaker: "u", Text: text, ChannelID: channel, Category: "Text", ChannelLabel: "ch-" + channel}
}

func start(t *testing.T, h Handler, window time.Duration) (*Batcher, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	return startWith(t, h, Options{Window: window})
}

func startWith(t *testing.T, h Handler, opts Options) (*Batcher, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	opts.Logger = zerolog.Nop()
	b := New(h, opts)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return b, cancel, stopped
}

func TestBurstYieldsSingleBatch(t *testing.T) {
	rec := &recorder{}
	b, _, _ := start(t, rec.handle, 100*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Submit(ctx, ev("1", fmt.Sprintf("m%d", i))))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(250 * time.Millisecond)

	got := rec.snapshot()
	require.Len(t, got, 1, "a burst inside one window must produce exactly one dispatch")
	require.Len(t, got[0].Events, 10)
	for i, e := range got[0].Events {
		assert.Equal(t, fmt.Sprintf("m%d", i), e.Text)
	}
	assert.Equal(t, history.Key{Category: "Text", ChannelID: "1"}, got[0].Key)
	assert.Equal(t, "ch-1", got[0].ChannelLabel)
	assert.NotEmpty(t, got[0].ID)
}

func TestWindowIsFixedFromFirstEvent(t *testing.T) {
	rec := &recorder{}
	b, _, _ := start(t, rec.handle, 200*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, ev("1", "a")))
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, b.Submit(ctx, ev("1", "b")))
	time.Sleep(160 * time.Millisecond)
	require.NoError(t, b.Submit(ctx, ev("1", "c")))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	got := rec.snapshot()
	require.Len(t, got[0].Events, 2, "second event must not extend the window")
	assert.Equal(t, "c", got[1].Events[0].Text)
}

func TestChannelsBatchIndependently(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	seen := map[string]int{}
	h := func(_ context.Context, b chat.Batch) {
		if b.Key.ChannelID == "slow" {
			<-release
		}
		mu.Lock()
		seen[b.Key.ChannelID] += len(b.Events)
		mu.Unlock()
	}
	b, _, _ := start(t, h, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, ev("slow", "x")))
	require.NoError(t, b.Submit(ctx, ev("fast", "y")))
	require.NoError(t, b.Submit(ctx, ev("fast", "z")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["fast"] == 2
	}, 2*time.Second, 5*time.Millisecond, "a blocked channel must not delay others")
	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["slow"] == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatchIsSerialPerChannel(t *testing.T) {
	var inFlight, maxInFlight, total atomic.Int32
	var mu sync.Mutex
	var order []string
	h := func(_ context.Context, b chat.Batch) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		mu.Lock()
		for _, e := range b.Events {
			order = append(order, e.Text)
		}
		mu.Unlock()
		total.Add(int32(len(b.Events)))
		inFlight.Add(-1)
	}
	b, _, _ := start(t, h, 10*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, b.Submit(ctx, ev("1", fmt.Sprintf("m%d", i))))
		time.Sleep(15 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return total.Load() == 6 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4", "m5"}, order)
}

func TestFlushHandsOffImmediately(t *testing.T) {
	rec := &recorder{}
	b, _, _ := start(t, rec.handle, time.Hour)
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, ev("1", "a")))
	require.NoError(t, b.Submit(ctx, ev("1", "b")))
	require.NoError(t, b.Flush(ctx, history.Key{Category: "Text", ChannelID: "1"}))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, rec.snapshot()[0].Events, 2)

	require.NoError(t, b.Flush(ctx, history.Key{Category: "Text", ChannelID: "idle"}))
}

func TestShutdownFlushesPending(t *testing.T) {
	rec := &recorder{}
	b, cancel, stopped := start(t, rec.handle, time.Hour)
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, ev("1", "a")))
	require.NoError(t, b.Submit(ctx, ev("2", "b")))
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-stopped

	got := rec.snapshot()
	require.Len(t, got, 2)
	assert.ErrorIs(t, b.Submit(ctx, ev("1", "late")), ErrStopped)
	assert.ErrorIs(t, b.Flush(ctx, history.Key{}), ErrStopped)
}

func TestIdleTimeoutIsAtLeastTwoWindows(t *testing.T) {
	b := New(func(context.Context, chat.Batch) {}, Options{Window: time.Second, IdleTimeout: time.Millisecond})
	assert.Equal(t, 2*time.Second, b.idle)

	b = New(func(context.Context, chat.Batch) {}, Options{})
	assert.Equal(t, DefaultWindow, b.window)
	assert.Equal(t, DefaultIdleTimeout, b.idle)
	assert.Equal(t, DefaultMaxQueued, b.maxQueued)
}

func TestIdleChannelActorIsRetired(t *testing.T) {
	rec := &recorder{}
	b, _, _ := startWith(t, rec.handle, Options{Window: 10 * time.Millisecond, IdleTimeout: 40 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, ev("1", "a")))
	require.Eventually(t, func() bool { return b.ActiveChannels() == 1 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return b.ActiveChannels() == 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.Submit(ctx, ev("1", "b")))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", rec.snapshot()[1].Events[0].Text)
}

func TestRetiredChannelStaysSerial(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	var calls, inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	var order []string
	h := func(_ context.Context, b chat.Batch) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-release
		}
		mu.Lock()
		order = append(order, b.Events[0].Text)
		mu.Unlock()
		inFlight.Add(-1)
	}
	b, _, _ := startWith(t, h, Options{Window: 10 * time.Millisecond, IdleTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, ev("1", "a")))
	<-entered
	require.Eventually(t, func() bool { return b.ActiveChannels() == 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.Submit(ctx, ev("1", "b")))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "next batch must wait for the previous dispatch")

	close(release)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return inFlight.Load() == 0 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestBacklogIsMergedNotDropped(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	rec := &recorder{}
	var first atomic.Bool
	h := func(ctx context.Context, b chat.Batch) {
		if first.CompareAndSwap(false, true) {
			entered <- struct{}{}
			<-release
		}
		rec.handle(ctx, b)
	}
	b, _, _ := startWith(t, h, Options{Window: 5 * time.Millisecond, MaxQueued: 2})
	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, ev("1", "m0")))
	<-entered
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Submit(ctx, ev("1", fmt.Sprintf("m%d", i))))
		time.Sleep(40 * time.Millisecond)
	}
	close(release)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	got := rec.snapshot()
	require.Len(t, got, 3)
	var texts []string
	for _, batch := range got {
		for _, e := range batch.Events {
			texts = append(texts, e.Text)
		}
	}
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, texts)
	assert.Len(t, got[0].Events, 1)
	assert.Len(t, got[1].Events, 1)
	assert.Len(t, got[2].Events, 2)
}
