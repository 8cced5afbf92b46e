// Package notify fans engine alerts out to a ports.Notifier without ever
// blocking the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond"

	"tripwireBot/internal/ports"
)

// Config tunes the dispatch pool.
type Config struct {
	Workers     int              // default 2
	QueueSize   int              // default 64
	SendTimeout time.Duration    // default 10s
	DedupeTTL   time.Duration    // default 24h
	Now         func() time.Time // default time.Now
}

// Dispatcher implements engine.Alerter. Each key is delivered at most once
// within DedupeTTL; delivery runs on a bounded pond pool and failures are only
// logged.
type Dispatcher struct {
	notifier ports.Notifier
	logger   ports.Logger
	pool     *pond.WorkerPool
	timeout  time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time // key -> expiry
	nextSweep time.Time
}

func NewDispatcher(notifier ports.Notifier, logger ports.Logger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	pool := pond.New(cfg.Workers, cfg.QueueSize,
		pond.MinWorkers(1),
		pond.PanicHandler(func(p interface{}) {
			logger.Warn(context.Background(), "notifier panic recovered", map[string]interface{}{"panic": p})
		}),
	)
	return &Dispatcher{
		notifier: notifier,
		logger:   logger,
		pool:     pool,
		timeout:  cfg.SendTimeout,
		ttl:      cfg.DedupeTTL,
		now:      cfg.Now,
		seen:     make(map[string]time.Time),
	}
}

// Send queues text for delivery unless key was sent before.
func (d *Dispatcher) Send(ctx context.Context, key, text string) {
	now := d.now()
	d.mu.Lock()
	d.sweep(now)
	if expiry, dup := d.seen[key]; dup && now.Before(expiry) {
		d.mu.Unlock()
		d.logger.Debug(ctx, "notify: duplicate suppressed", map[string]interface{}{"key": key})
		return
	}
	d.seen[key] = now.Add(d.ttl)
	d.mu.Unlock()

	d.logger.Info(ctx, "ALERT: "+text, map[string]interface{}{"key": key})
	if d.notifier == nil {
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	ok := d.pool.TrySubmit(func() {
		c, cancel := context.WithTimeout(sendCtx, d.timeout)
		defer cancel()
		if err := d.notifier.Notify(c, text); err != nil {
			d.logger.Warn(sendCtx, "notify: delivery failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	})
	if !ok {
		d.logger.Warn(ctx, "notify: queue full, alert dropped", map[string]interface{}{"key": key})
	}
}

// sweep drops expired keys, at most once per quarter TTL. d.mu must be held.
func (d *Dispatcher) sweep(now time.Time) {
	if now.Before(d.nextSweep) {
		return
	}
	for key, expiry := range d.seen {
		if !now.Before(expiry) {
			delete(d.seen, key)
		}
	}
	d.nextSweep = now.Add(d.ttl / 4)
}

func (d *Dispatcher) tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Close waits for queued alerts to be delivered.
func (d *Dispatcher) Close() {
	d.pool.StopAndWait()
}
