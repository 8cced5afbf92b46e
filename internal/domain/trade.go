package domain

import "time"

// LedgerEntry is one append-only row of the trade ledger.
type LedgerEntry struct {
	ID          int64        // Unique identifier (assigned by the store)
	Timestamp   time.Time    // Fill time
	Action      LedgerAction // BUY, SELL or HEDGE
	Symbol      string       // Instrument traded
	Price       float64      // Executed price
	Quantity    float64      // Executed base quantity
	PositionSeq int64        // Owning position sequence (0 for none)
	OrderID     string       // Exchange or client order id
}

// Notional returns price times quantity.
func (e LedgerEntry) Notional() float64 {
	return e.Price * e.Quantity
}
