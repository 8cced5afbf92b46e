package feed

import (
	"context"
	"time"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// Poller pulls the last price of every instrument at a fixed interval.
type Poller struct {
	feed     *Feed
	source   ports.PricePoller
	interval time.Duration
	logger   ports.Logger
	metrics  ports.Metrics
}

// NewPoller creates a pull runner.
func NewPoller(f *Feed, source ports.PricePoller, interval time.Duration, logger ports.Logger, metrics ports.Metrics) *Poller {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Poller{feed: f, source: source, interval: interval, logger: logger, metrics: metrics}
}

// Run polls until ctx is cancelled. Failed polls leave the slot untouched so
// the sample ages.
func (p *Poller) Run(ctx context.Context) error {
	op := "Poller.Run"
	p.logger.Info(ctx, op+": starting", map[string]interface{}{"interval": p.interval.String(), "symbols": p.feed.Symbols()})

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, op+": stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	for _, symbol := range p.feed.Symbols() {
		if ctx.Err() != nil {
			return
		}
		price, err := p.source.LastPrice(ctx, symbol)
		if err != nil {
			p.logger.Warn(ctx, "Poller: price fetch failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		if p.feed.Update(domain.PriceSample{Symbol: symbol, Price: price}) {
			p.metrics.PriceUpdate(symbol)
		}
	}
}
