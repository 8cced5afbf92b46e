package domain

import (
	"fmt"
	"math"
	"time"
)

// ExitParams are the fractional exit thresholds applied to a new position.
type ExitParams struct {
	TakeProfitPct   float64 // e.g. 0.05 for 5%
	StopLossPct     float64 // e.g. 0.03 for 3%
	TrailingStopPct float64 // e.g. 0.02 for 2%
}

// Position represents one open (or archived) long trade.
type Position struct {
	Seq          int64     // Monotonic sequence, unique across re-entries
	Symbol       string    // Instrument symbol
	EntryPrice   float64   // Executed buy price
	Quantity     float64   // Executed buy quantity
	EntryTime    time.Time // Buy fill time
	EntryOrderID string

	// Fixed at creation.
	TakeProfit      float64
	StopLoss        float64
	TrailingStopPct float64

	// Mutated only by the position's monitor.
	HighWater       float64
	TrailingTrigger float64
	State           PositionState
	ExitReason      ExitReason
	Remaining       float64 // quantity still to sell while exiting
	ExitPrice       float64 // quantity-weighted average sell price
	ExitTime        time.Time
	PNL             float64 // realized profit and loss
}

// NewPosition builds an open position from a buy fill.
func NewPosition(seq int64, symbol string, fillPrice, fillQty float64, at time.Time, orderID string, p ExitParams) (*Position, error) {
	if fillPrice <= 0 || fillQty <= 0 {
		return nil, fmt.Errorf("invalid fill for %s: price=%v qty=%v", symbol, fillPrice, fillQty)
	}
	return &Position{
		Seq:             seq,
		Symbol:          symbol,
		EntryPrice:      fillPrice,
		Quantity:        fillQty,
		EntryTime:       at,
		EntryOrderID:    orderID,
		TakeProfit:      fillPrice * (1 + p.TakeProfitPct),
		StopLoss:        fillPrice * (1 - p.StopLossPct),
		TrailingStopPct: p.TrailingStopPct,
		HighWater:       fillPrice,
		TrailingTrigger: fillPrice * (1 - p.TrailingStopPct),
		State:           StateOpen,
		Remaining:       fillQty,
	}, nil
}

// Key identifies the position in logs and notifications.
func (p *Position) Key() string {
	return fmt.Sprintf("%s#%d", p.Symbol, p.Seq)
}

// IsOpen reports whether the position still holds exposure.
func (p *Position) IsOpen() bool {
	return !p.State.IsTerminal()
}

// Observe raises the high-water mark and the trailing trigger. The trigger
// never decreases.
func (p *Position) Observe(price float64) {
	if price <= p.HighWater {
		return
	}
	p.HighWater = price
	p.TrailingTrigger = math.Max(p.TrailingTrigger, p.HighWater*(1-p.TrailingStopPct))
}

// Evaluate returns the first satisfied exit condition in priority order:
// take-profit, stop-loss, trailing-stop.
func (p *Position) Evaluate(price float64) ExitReason {
	switch {
	case price >= p.TakeProfit:
		return ExitTakeProfit
	case price <= p.StopLoss:
		return ExitStopLoss
	case price <= p.TrailingTrigger:
		return ExitTrailingStop
	default:
		return ExitNone
	}
}

// ApplySellFill books a (possibly partial) exit fill.
func (p *Position) ApplySellFill(price, qty float64, at time.Time) {
	sold := p.Quantity - p.Remaining
	if sold+qty > 0 {
		p.ExitPrice = (p.ExitPrice*sold + price*qty) / (sold + qty)
	}
	p.PNL += (price - p.EntryPrice) * qty
	p.Remaining = math.Max(0, p.Remaining-qty)
	p.ExitTime = at
}
