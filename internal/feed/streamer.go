package feed

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// Streamer keeps a push subscription for all instruments alive, reconnecting
// with exponential backoff whenever it ends.
type Streamer struct {
	feed     *Feed
	stream   ports.PriceStream
	name     string
	minDelay time.Duration
	maxDelay time.Duration
	logger   ports.Logger
	metrics  ports.Metrics
}

// NewStreamer creates a push runner. name labels logs and metrics.
func NewStreamer(f *Feed, stream ports.PriceStream, name string, minDelay, maxDelay time.Duration, logger ports.Logger, metrics ports.Metrics) *Streamer {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Streamer{
		feed:     f,
		stream:   stream,
		name:     name,
		minDelay: minDelay,
		maxDelay: maxDelay,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run subscribes and re-subscribes until ctx is cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	op := "Streamer.Run"
	fields := map[string]interface{}{"source": s.name}
	b := &backoff.Backoff{Min: s.minDelay, Max: s.maxDelay, Factor: 2, Jitter: true}
	symbols := s.feed.Symbols()

	handler := func(sample domain.PriceSample) {
		// Receipt time is the staleness basis, whatever the source reports.
		sample.ObservedAt = time.Time{}
		if s.feed.Update(sample) {
			s.metrics.PriceUpdate(sample.Symbol)
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Info(ctx, op+": subscribing", map[string]interface{}{"source": s.name, "symbols": symbols, "attempt": int(b.Attempt()) + 1})
		done, err := s.stream.Subscribe(ctx, symbols, handler)
		if err != nil {
			delay := b.Duration()
			s.logger.Warn(ctx, op+": subscribe failed, retrying", map[string]interface{}{"source": s.name, "error": err.Error(), "delay": delay.String()})
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		s.logger.Info(ctx, op+": connected", fields)
		b.Reset()

		select {
		case <-ctx.Done():
			s.logger.Info(ctx, op+": stopped", fields)
			return nil
		case err := <-done:
			if ctx.Err() != nil {
				return nil
			}
			s.metrics.StreamReconnect(s.name)
			delay := b.Duration()
			msg := map[string]interface{}{"source": s.name, "delay": delay.String()}
			if err != nil {
				msg["error"] = err.Error()
			}
			s.logger.Warn(ctx, op+": subscription ended, reconnecting", msg)
			if !sleep(ctx, delay) {
				return nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
