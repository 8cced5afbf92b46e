// Package feed keeps the latest observed price per instrument and runs the
// pull or push source that fills it.
package feed

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tripwireBot/internal/domain"
)

// Runner drives a price source until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

type slot struct {
	latest atomic.Pointer[domain.PriceSample]

	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

func (sl *slot) signal() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for _, ch := range sl.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Feed holds one overwrite-only slot per instrument. The instrument set is
// fixed at construction so the map itself is never written concurrently.
type Feed struct {
	slots map[string]*slot
	now   func() time.Time
}

// New creates a feed for symbols. now supplies receipt timestamps and the
// reference for age; nil means time.Now.
func New(symbols []string, now func() time.Time) *Feed {
	if now == nil {
		now = time.Now
	}
	f := &Feed{slots: make(map[string]*slot, len(symbols)), now: now}
	for _, s := range symbols {
		f.slots[s] = &slot{subs: map[int]chan struct{}{}}
	}
	return f
}

// Symbols returns the instruments tracked by the feed, sorted.
func (f *Feed) Symbols() []string {
	out := make([]string, 0, len(f.slots))
	for s := range f.slots {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Update replaces the instrument's sample and signals its subscribers.
// Samples for unknown instruments, with a non-positive price, or with an
// exchange time older than the stored one are dropped; the return value
// reports whether the sample was stored.
func (f *Feed) Update(sample domain.PriceSample) bool {
	sl, ok := f.slots[sample.Symbol]
	if !ok || sample.Price <= 0 {
		return false
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = f.now()
	}
	next := &sample
	for {
		cur := sl.latest.Load()
		if cur != nil && !sample.ExchangeTime.IsZero() && sample.ExchangeTime.Before(cur.ExchangeTime) {
			return false
		}
		if sl.latest.CompareAndSwap(cur, next) {
			break
		}
	}
	sl.signal()
	return true
}

// Latest returns the last sample and its age. ok is false if the instrument
// has never been observed.
func (f *Feed) Latest(symbol string) (domain.PriceSample, time.Duration, bool) {
	sl, ok := f.slots[symbol]
	if !ok {
		return domain.PriceSample{}, 0, false
	}
	cur := sl.latest.Load()
	if cur == nil {
		return domain.PriceSample{}, 0, false
	}
	return *cur, f.now().Sub(cur.ObservedAt), true
}

// Fresh returns the latest price if it is no older than maxAge.
func (f *Feed) Fresh(symbol string, maxAge time.Duration) (float64, bool) {
	s, age, ok := f.Latest(symbol)
	if !ok || age > maxAge {
		return 0, false
	}
	return s.Price, true
}

// Subscribe returns an update signal for symbol holding at most one pending
// notification; consumers re-read Latest after receiving. The returned func
// unsubscribes. The channel is nil for unknown instruments.
func (f *Feed) Subscribe(symbol string) (<-chan struct{}, func()) {
	sl, ok := f.slots[symbol]
	if !ok {
		return nil, func() {}
	}
	ch := make(chan struct{}, 1)
	sl.mu.Lock()
	id := sl.nextID
	sl.nextID++
	sl.subs[id] = ch
	sl.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sl.mu.Lock()
			delete(sl.subs, id)
			sl.mu.Unlock()
		})
	}
}
