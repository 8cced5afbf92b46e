package ports

import "tripwireBot/internal/domain"

// Metrics receives engine counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	PriceUpdate(symbol string)
	StreamReconnect(source string)
	OrderSubmitted(symbol string, side domain.OrderSide, outcome string)
	PositionOpened(symbol string)
	PositionClosed(symbol string, state domain.PositionState, pnl float64)
	CumulativeProfit(total float64)
	Halted()
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) PriceUpdate(string)                                   {}
func (NopMetrics) StreamReconnect(string)                               {}
func (NopMetrics) OrderSubmitted(string, domain.OrderSide, string)      {}
func (NopMetrics) PositionOpened(string)                                {}
func (NopMetrics) PositionClosed(string, domain.PositionState, float64) {}
func (NopMetrics) CumulativeProfit(float64)                             {}
func (NopMetrics) Halted()                                              {}
