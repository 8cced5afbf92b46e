package ports

import (
	"context"
	"time"

	"tripwireBot/internal/domain"
)

// Fill is the executed result of an order. Accounting always uses the fill's
// price and quantity, never the requested ones.
type Fill struct {
	OrderID  string           // Exchange order id (or client id when none)
	Symbol   string           // Instrument
	Side     domain.OrderSide // BUY or SELL
	Price    float64          // Average executed price
	Quantity float64          // Executed base quantity
	Time     time.Time        // Execution time
}

// ExchangeGateway is the order-submission and account capability the engine calls.
// Errors are *RateLimitedError, *RejectedError or wrapped sentinels from errors.go.
type ExchangeGateway interface {
	// SubmitLimitBuy places a limit buy and returns its fill.
	SubmitLimitBuy(ctx context.Context, symbol string, qty, price float64) (*Fill, error)

	// SubmitLimitSell places a limit sell and returns its fill.
	SubmitLimitSell(ctx context.Context, symbol string, qty, price float64) (*Fill, error)

	// SubmitMarketBuy places a market buy. Used for hedging only.
	SubmitMarketBuy(ctx context.Context, symbol string, qty float64) (*Fill, error)

	// FetchBalance returns the free balance of an asset (e.g. "USDT").
	FetchBalance(ctx context.Context, asset string) (float64, error)

	// LoadInstruments fetches static metadata (minimum order size, steps) for symbols.
	LoadInstruments(ctx context.Context, symbols []string) (map[string]domain.Instrument, error)
}

// PricePoller is a pull price source.
type PricePoller interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceHandler receives normalized samples from a push source.
type PriceHandler func(sample domain.PriceSample)

// PriceStream is a push price source. Subscribe connects and subscribes to all
// symbols; the returned channel yields exactly one value (nil on orderly close)
// when the subscription ends. Reconnecting is the caller's job.
type PriceStream interface {
	Subscribe(ctx context.Context, symbols []string, handler PriceHandler) (<-chan error, error)
}

// KlineSource provides historical candles for the optional entry filter.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
}
