package engine

import (
	"context"
	"fmt"

	"github.com/jpillora/backoff"

	"tripwireBot/config"
	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
	"tripwireBot/internal/risk"
)

// Monitor watches one position until it reaches a terminal state. It is the
// only writer of the position while it runs.
type Monitor struct {
	c      *Coordinator
	pos    *domain.Position
	inst   domain.Instrument
	params config.InstrumentConfig

	staleTicks int
	stallCount int
	rejections int
	retry      *backoff.Backoff
}

func newMonitor(c *Coordinator, pos *domain.Position) *Monitor {
	return &Monitor{
		c:      c,
		pos:    pos,
		inst:   c.instruments[pos.Symbol],
		params: c.cfg.Instrument(pos.Symbol),
		retry:  c.newRetryBackoff(),
	}
}

// Run drives the position to a terminal state and hands it to the
// coordinator. ctx is expected to outlive the global stop.
func (m *Monitor) Run(ctx context.Context) {
	waker := m.c.wakers(m.pos.Symbol)
	defer waker.Close()

	m.c.logger.Info(ctx, "Monitor.Run: watching position", map[string]interface{}{"position": m.pos.Key(), "state": m.pos.State})
	for !m.pos.State.IsTerminal() {
		if err := waker.Wait(ctx); err != nil {
			return
		}
		m.step(ctx)
	}
	m.c.closePosition(ctx, m.pos)
}

// step handles one observation.
func (m *Monitor) step(ctx context.Context) {
	op := "Monitor.step"
	c := m.c
	pos := m.pos

	price, fresh := c.feed.Fresh(pos.Symbol, c.cfg.StaleAfter)
	if !fresh {
		m.staleTicks++
		if m.staleTicks == c.cfg.MaxStaleTicks {
			m.stallCount++
			c.logger.Warn(ctx, op+": price feed stalled", map[string]interface{}{"position": pos.Key(), "ticks": m.staleTicks})
			c.alerter.Send(ctx, fmt.Sprintf("stalled:%s:%d", pos.Key(), m.stallCount), stalledMessage(pos, m.staleTicks))
		}
		return
	}
	m.staleTicks = 0

	if pos.State == domain.StateOpen {
		pos.Observe(price)
		reason := pos.Evaluate(price)
		if reason == domain.ExitNone {
			return
		}
		pos.State = domain.StateExiting
		pos.ExitReason = reason
		c.logger.Info(ctx, op+": exit triggered", map[string]interface{}{
			"position":        pos.Key(),
			"reason":          reason,
			"price":           price,
			"highWater":       pos.HighWater,
			"trailingTrigger": pos.TrailingTrigger,
		})
		if err := c.positions.Update(ctx, pos); err != nil {
			c.logger.Error(ctx, err, op+": failed to archive exiting position", map[string]interface{}{"position": pos.Key()})
		}
		if reason == domain.ExitStopLoss && m.params.HedgeSymbol != "" && m.params.HedgeRatio > 0 {
			m.startHedge(ctx)
		}
	}

	if pos.State == domain.StateExiting {
		m.sell(ctx, price)
	}
}

// sell submits a limit sell for the remaining quantity at price. Transient
// failures are waited out and the identical order resubmitted; they never
// count toward aborting the exit.
func (m *Monitor) sell(ctx context.Context, price float64) {
	op := "Monitor.sell"
	c := m.c
	pos := m.pos

	for {
		qty := pos.Remaining
		fill, err := c.submit(ctx, pos.Symbol, domain.Sell, func(ctx context.Context) (*ports.Fill, error) {
			return c.gateway.SubmitLimitSell(ctx, pos.Symbol, qty, price)
		})
		if delay, ok := c.retryWait(err, m.retry); ok {
			c.logger.Warn(ctx, op+": transient failure, waiting", map[string]interface{}{"position": pos.Key(), "delay": delay.String(), "error": err.Error()})
			if c.clock.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		m.retry.Reset()
		if err != nil {
			m.rejections++
			c.logger.Warn(ctx, op+": sell not filled", map[string]interface{}{"position": pos.Key(), "error": err.Error(), "rejections": m.rejections})
			c.alerter.Send(ctx, c.rejectionKey("sell:"+pos.Key()), rejectionMessage(pos.Symbol, domain.Sell, err))
			if m.rejections >= c.cfg.MaxExitRejections {
				m.abort(ctx, err)
			}
			return
		}

		m.rejections = 0
		pos.ApplySellFill(fill.Price, fill.Quantity, fill.Time)
		c.record(ctx, domain.ActionSell, pos.Seq, fill)
		if pos.Remaining <= 0 || pos.Remaining < m.inst.MinOrderSize {
			pos.State = pos.ExitReason.ClosedState()
		} else {
			c.logger.Info(ctx, op+": partial fill, remainder sold on next tick", map[string]interface{}{"position": pos.Key(), "filled": fill.Quantity, "remaining": pos.Remaining})
		}
		return
	}
}

func (m *Monitor) abort(ctx context.Context, cause error) {
	pos := m.pos
	pos.State = domain.StateAborted
	pos.ExitTime = m.c.clock.Now()
	m.c.logger.Error(ctx, cause, "Monitor.abort: giving up on exit", map[string]interface{}{"position": pos.Key(), "remaining": pos.Remaining})
	m.c.alerter.Send(ctx, "abort:"+pos.Key(), abortMessage(pos, m.rejections))
}

// startHedge places the protective market buy without blocking the exit.
func (m *Monitor) startHedge(ctx context.Context) {
	c := m.c
	pos := m.pos
	symbol := m.params.HedgeSymbol
	inst := c.instruments[symbol]
	qty := risk.RoundToStep(pos.Quantity*m.params.HedgeRatio, inst.StepSize)
	seq := pos.Seq
	key := pos.Key()

	c.monitors.Add(1)
	go func() {
		defer c.monitors.Done()
		op := "Monitor.hedge"
		fields := map[string]interface{}{"position": key, "hedgeSymbol": symbol, "quantity": qty}
		if qty <= 0 || qty < inst.MinOrderSize {
			c.logger.Warn(ctx, op+": hedge below minimum size, skipped", fields)
			return
		}
		fill, err := c.submit(ctx, symbol, domain.Buy, func(ctx context.Context) (*ports.Fill, error) {
			return c.gateway.SubmitMarketBuy(ctx, symbol, qty)
		})
		if err != nil {
			c.logger.Error(ctx, err, op+": hedge failed", fields)
			c.alerter.Send(ctx, "hedge-failed:"+key, hedgeFailedMessage(key, symbol, err))
			return
		}
		c.record(ctx, domain.ActionHedge, seq, fill)
		c.logger.Info(ctx, op+": hedge filled", map[string]interface{}{"position": key, "hedgeSymbol": symbol, "price": fill.Price, "quantity": fill.Quantity})
		c.alerter.Send(ctx, "hedge:"+key, hedgeMessage(key, fill))
	}()
}
