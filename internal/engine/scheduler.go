package engine

import (
	"context"
	"errors"

	"tripwireBot/config"
	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// maxEntryRetries bounds resubmissions of a buy after network failures. The
// dip that triggered it is unlikely to survive a longer outage.
const maxEntryRetries = 3

// Scheduler evaluates the entry condition for one instrument on every wake.
type Scheduler struct {
	c      *Coordinator
	symbol string
	inst   domain.Instrument
	params config.InstrumentConfig

	reference float64 // price observed on the previous cycle, 0 when unknown
}

func newScheduler(c *Coordinator, symbol string) *Scheduler {
	return &Scheduler{
		c:      c,
		symbol: symbol,
		inst:   c.instruments[symbol],
		params: c.cfg.Instrument(symbol),
	}
}

// Run evaluates until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	waker := s.c.wakers(s.symbol)
	defer waker.Close()

	s.c.logger.Info(ctx, "Scheduler.Run: started", map[string]interface{}{"symbol": s.symbol, "discount": s.params.EntryDiscount, "quantity": s.params.Quantity})
	for {
		if err := waker.Wait(ctx); err != nil {
			return nil
		}
		s.evaluate(ctx)
	}
}

// evaluate runs one cycle. It returns the opened position, if any.
func (s *Scheduler) evaluate(ctx context.Context) *domain.Position {
	op := "Scheduler.evaluate"
	c := s.c

	price, fresh := c.feed.Fresh(s.symbol, c.cfg.StaleAfter)
	if !fresh {
		s.reference = 0
		c.logger.Debug(ctx, op+": no fresh price, skipping", map[string]interface{}{"symbol": s.symbol})
		return nil
	}
	ref := s.reference
	s.reference = price
	if ref == 0 || price > ref*(1-s.params.EntryDiscount) {
		return nil
	}

	now := c.clock.Now()
	if err := c.canEnter(s.symbol, now); err != nil {
		return nil
	}

	fields := map[string]interface{}{"symbol": s.symbol, "price": price, "reference": ref}
	if c.filter != nil {
		allow, err := c.filter.Allow(ctx, s.symbol, price)
		if err != nil {
			c.logger.Warn(ctx, op+": entry filter failed, skipping cycle", map[string]interface{}{"symbol": s.symbol, "error": err.Error()})
			return nil
		}
		if !allow {
			c.logger.Debug(ctx, op+": entry filtered", fields)
			return nil
		}
	}

	if err := c.reserveEntry(s.symbol, now); err != nil {
		return nil
	}
	c.logger.Info(ctx, op+": entry condition met", fields)

	// A submitted buy and its bookkeeping outlive a stop or halt; the
	// gateway timeout bounds the call.
	entryCtx := context.WithoutCancel(ctx)

	qty, err := c.sizer.Size(entryCtx, s.inst, s.params.Quantity, price)
	if err != nil {
		c.releaseEntry(s.symbol)
		c.logger.Warn(ctx, op+": entry sizing failed", map[string]interface{}{"symbol": s.symbol, "error": err.Error()})
		if errors.Is(err, ports.ErrInsufficientFunds) || errors.Is(err, ports.ErrBelowMinimumSize) {
			c.alerter.Send(ctx, c.rejectionKey("buy:"+s.symbol), rejectionMessage(s.symbol, domain.Buy, err))
		}
		return nil
	}

	fill, err := s.buy(ctx, entryCtx, qty, price)
	if err != nil {
		c.releaseEntry(s.symbol)
		if ctx.Err() != nil || errors.Is(err, ports.ErrHalted) {
			return nil
		}
		c.logger.Warn(ctx, op+": entry abandoned", map[string]interface{}{"symbol": s.symbol, "error": err.Error()})
		c.alerter.Send(ctx, c.rejectionKey("buy:"+s.symbol), rejectionMessage(s.symbol, domain.Buy, err))
		return nil
	}

	pos, err := c.openPosition(entryCtx, s.symbol, fill)
	if err != nil {
		c.logger.Error(ctx, err, op+": could not open position from fill", fields)
		return nil
	}
	return pos
}

// buy submits the limit buy on entryCtx. Transient failures are waited out on
// ctx and the same order resubmitted unless the engine halts or stops
// meanwhile; network failures give up after maxEntryRetries.
func (s *Scheduler) buy(ctx, entryCtx context.Context, qty, price float64) (*ports.Fill, error) {
	c := s.c
	b := c.newRetryBackoff()
	for {
		fill, err := c.submit(entryCtx, s.symbol, domain.Buy, func(ctx context.Context) (*ports.Fill, error) {
			return c.gateway.SubmitLimitBuy(ctx, s.symbol, qty, price)
		})
		delay, ok := c.retryWait(err, b)
		if !ok {
			return fill, err
		}
		if _, limited := ports.AsRateLimited(err); !limited && b.Attempt() > maxEntryRetries {
			return nil, err
		}
		c.logger.Warn(ctx, "Scheduler.buy: transient failure, waiting", map[string]interface{}{"symbol": s.symbol, "delay": delay.String(), "error": err.Error()})
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
		if c.isHalted() {
			return nil, ports.ErrHalted
		}
	}
}
