// Package paper is an in-memory ExchangeGateway for dry runs. Orders fill
// against the live feed and balances are tracked locally.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
	"tripwireBot/internal/risk"
)

// PriceSource is the slice of the feed the gateway needs.
type PriceSource interface {
	Latest(symbol string) (domain.PriceSample, time.Duration, bool)
}

// InstrumentLoader supplies real exchange metadata when available.
type InstrumentLoader interface {
	LoadInstruments(ctx context.Context, symbols []string) (map[string]domain.Instrument, error)
}

type Config struct {
	QuoteAsset   string
	QuoteBalance float64
	Prices       PriceSource
	Instruments  InstrumentLoader // optional
	Logger       ports.Logger
	Now          func() time.Time // defaults to time.Now
}

// Gateway implements ports.ExchangeGateway without touching an exchange.
type Gateway struct {
	quote       string
	prices      PriceSource
	loader      InstrumentLoader
	logger      ports.Logger
	now         func() time.Time
	mu          sync.Mutex
	balances    map[string]float64
	instruments map[string]domain.Instrument
}

func New(cfg Config) (*Gateway, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper gateway")
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price source is required for paper gateway")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gateway{
		quote:       cfg.QuoteAsset,
		prices:      cfg.Prices,
		loader:      cfg.Instruments,
		logger:      cfg.Logger,
		now:         cfg.Now,
		balances:    map[string]float64{cfg.QuoteAsset: cfg.QuoteBalance},
		instruments: make(map[string]domain.Instrument),
	}, nil
}

// LoadInstruments delegates to the loader when one is configured, otherwise
// derives unrestricted instruments from the symbol names.
func (g *Gateway) LoadInstruments(ctx context.Context, symbols []string) (map[string]domain.Instrument, error) {
	var out map[string]domain.Instrument
	if g.loader != nil {
		loaded, err := g.loader.LoadInstruments(ctx, symbols)
		if err != nil {
			return nil, fmt.Errorf("paper LoadInstruments: %w", err)
		}
		out = loaded
	} else {
		out = make(map[string]domain.Instrument, len(symbols))
		for _, s := range symbols {
			out[s] = domain.Instrument{Symbol: s, BaseAsset: g.baseOf(s), QuoteAsset: g.quote}
		}
	}

	g.mu.Lock()
	for k, v := range out {
		g.instruments[k] = v
	}
	g.mu.Unlock()
	return out, nil
}

func (g *Gateway) FetchBalance(_ context.Context, asset string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[asset], nil
}

// SubmitLimitBuy fills at the limit price when the market is at or below it.
func (g *Gateway) SubmitLimitBuy(ctx context.Context, symbol string, qty, price float64) (*ports.Fill, error) {
	if last, ok := g.last(symbol); ok && last > price {
		return nil, ports.NewRejected("not filled (EXPIRED)", nil)
	}
	return g.execute(ctx, symbol, domain.Buy, qty, price)
}

// SubmitLimitSell fills at the limit price when the market is at or above it.
func (g *Gateway) SubmitLimitSell(ctx context.Context, symbol string, qty, price float64) (*ports.Fill, error) {
	if last, ok := g.last(symbol); ok && last < price {
		return nil, ports.NewRejected("not filled (EXPIRED)", nil)
	}
	return g.execute(ctx, symbol, domain.Sell, qty, price)
}

// SubmitMarketBuy fills at the latest feed price.
func (g *Gateway) SubmitMarketBuy(ctx context.Context, symbol string, qty float64) (*ports.Fill, error) {
	last, ok := g.last(symbol)
	if !ok {
		return nil, ports.NewRejected("no market price", fmt.Errorf("%w: %s", ports.ErrNotFound, symbol))
	}
	return g.execute(ctx, symbol, domain.Buy, qty, last)
}

func (g *Gateway) execute(ctx context.Context, symbol string, side domain.OrderSide, qty, price float64) (*ports.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("paper %s: %w: %w", side, ports.ErrContextCanceled, err)
	}

	g.mu.Lock()
	inst, known := g.instruments[symbol]
	if !known {
		inst = domain.Instrument{Symbol: symbol, BaseAsset: g.baseOf(symbol), QuoteAsset: g.quote}
	}
	qty = risk.RoundToStep(qty, inst.StepSize)
	if qty <= 0 || qty < inst.MinOrderSize {
		g.mu.Unlock()
		return nil, ports.NewRejected("invalid order", ports.ErrBelowMinimumSize)
	}
	notional := qty * price
	switch side {
	case domain.Buy:
		if g.balances[g.quote] < notional {
			g.mu.Unlock()
			return nil, ports.NewRejected("insufficient funds", ports.ErrInsufficientFunds)
		}
		g.balances[g.quote] -= notional
		g.balances[inst.BaseAsset] += qty
	case domain.Sell:
		if g.balances[inst.BaseAsset] < qty {
			g.mu.Unlock()
			return nil, ports.NewRejected("insufficient funds", ports.ErrInsufficientFunds)
		}
		g.balances[inst.BaseAsset] -= qty
		g.balances[g.quote] += notional
	}
	g.mu.Unlock()

	fill := &ports.Fill{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Time:     g.now(),
	}
	g.logger.Info(ctx, "paper order filled", map[string]interface{}{
		"symbol": symbol, "side": side, "price": price, "quantity": qty, "orderId": fill.OrderID,
	})
	return fill, nil
}

func (g *Gateway) last(symbol string) (float64, bool) {
	sample, _, ok := g.prices.Latest(symbol)
	if !ok || sample.Price <= 0 {
		return 0, false
	}
	return sample.Price, true
}

func (g *Gateway) baseOf(symbol string) string {
	if i := strings.Index(symbol, "/"); i > 0 {
		return symbol[:i]
	}
	if g.quote != "" && strings.HasSuffix(symbol, g.quote) && len(symbol) > len(g.quote) {
		return strings.TrimSuffix(symbol, g.quote)
	}
	return symbol
}
