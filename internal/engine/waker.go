package engine

import (
	"context"
	"time"

	"tripwireBot/internal/feed"
)

// Waker paces an evaluation loop.
type Waker interface {
	// Wait blocks until the next evaluation is due or ctx is done.
	Wait(ctx context.Context) error
	Close()
}

// WakerFactory builds a waker for one instrument loop.
type WakerFactory func(symbol string) Waker

// IntervalWaker wakes on a fixed period.
type IntervalWaker struct {
	clock    Clock
	interval time.Duration
}

func (w *IntervalWaker) Wait(ctx context.Context) error { return w.clock.Sleep(ctx, w.interval) }
func (w *IntervalWaker) Close()                         {}

// IntervalWakers returns a factory of fixed-period wakers.
func IntervalWakers(clock Clock, interval time.Duration) WakerFactory {
	return func(string) Waker { return &IntervalWaker{clock: clock, interval: interval} }
}

// FeedWaker wakes on every feed update for its instrument, or after fallback
// without one so staleness is still noticed.
type FeedWaker struct {
	updates  <-chan struct{}
	cancel   func()
	fallback time.Duration
}

func (w *FeedWaker) Wait(ctx context.Context) error {
	t := time.NewTimer(w.fallback)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.updates:
		return nil
	case <-t.C:
		return nil
	}
}

func (w *FeedWaker) Close() { w.cancel() }

// FeedWakers returns a factory of event-driven wakers bound to f.
func FeedWakers(f *feed.Feed, fallback time.Duration) WakerFactory {
	return func(symbol string) Waker {
		ch, cancel := f.Subscribe(symbol)
		return &FeedWaker{updates: ch, cancel: cancel, fallback: fallback}
	}
}
