package domain

// Instrument is a tradable pair with its exchange-imposed order constraints.
// Fetched once at engine start and read-only afterwards.
type Instrument struct {
	Symbol       string  // e.g. "BTCUSDT" or "BTC/USD"
	BaseAsset    string  // e.g. "BTC"
	QuoteAsset   string  // e.g. "USDT"
	MinOrderSize float64 // minimum base quantity per order
	StepSize     float64 // lot step; 0 means no rounding
	TickSize     float64 // price tick; 0 means no rounding
}
