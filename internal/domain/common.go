package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	StateOpen               PositionState = "OPEN"
	StateExiting            PositionState = "EXITING" // exit reason locked, sell(s) in flight
	StateClosedTakeProfit   PositionState = "CLOSED_TAKE_PROFIT"
	StateClosedStopLoss     PositionState = "CLOSED_STOP_LOSS"
	StateClosedTrailingStop PositionState = "CLOSED_TRAILING_STOP"
	StateAborted            PositionState = "ABORTED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s PositionState) IsTerminal() bool {
	switch s {
	case StateClosedTakeProfit, StateClosedStopLoss, StateClosedTrailingStop, StateAborted:
		return true
	default:
		return false
	}
}

// ExitReason indicates which trigger closed a position.
type ExitReason string

const (
	ExitNone         ExitReason = ""
	ExitTakeProfit   ExitReason = "TP"
	ExitStopLoss     ExitReason = "SL"
	ExitTrailingStop ExitReason = "TRAILING"
)

// ClosedState maps an exit reason to its terminal position state.
func (r ExitReason) ClosedState() PositionState {
	switch r {
	case ExitTakeProfit:
		return StateClosedTakeProfit
	case ExitStopLoss:
		return StateClosedStopLoss
	case ExitTrailingStop:
		return StateClosedTrailingStop
	default:
		return StateAborted
	}
}

// LedgerAction is the kind of ledger row.
type LedgerAction string

const (
	ActionBuy   LedgerAction = "BUY"
	ActionSell  LedgerAction = "SELL"
	ActionHedge LedgerAction = "HEDGE"
)
