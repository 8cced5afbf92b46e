// Package risk sizes entry orders against instrument limits and the account
// balance.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// BalanceSource is the part of the gateway the sizer needs.
type BalanceSource interface {
	FetchBalance(ctx context.Context, asset string) (float64, error)
}

// SizerConfig holds the sizing limits.
type SizerConfig struct {
	QuoteAsset          string  // asset the entry is paid with, e.g. "USDT"
	MinAvailableBalance float64 // quote balance that must remain after the buy
}

// Sizer turns a configured trade size into an order quantity the exchange
// will accept.
type Sizer struct {
	config   SizerConfig
	balances BalanceSource
	logger   ports.Logger
}

// NewSizer creates a sizer. A nil balances source skips the balance check.
func NewSizer(config SizerConfig, balances BalanceSource, logger ports.Logger) *Sizer {
	return &Sizer{config: config, balances: balances, logger: logger}
}

// Size rounds qty down to the instrument's lot step and checks the minimum
// order size and the free quote balance at price.
func (s *Sizer) Size(ctx context.Context, inst domain.Instrument, qty, price float64) (float64, error) {
	op := "Sizer.Size"
	q := RoundToStep(qty, inst.StepSize)
	if q <= 0 || q < inst.MinOrderSize {
		return 0, fmt.Errorf("%w: %s quantity %v below minimum %v", ports.ErrBelowMinimumSize, inst.Symbol, q, inst.MinOrderSize)
	}
	if s.balances == nil {
		return q, nil
	}

	balance, err := s.balances.FetchBalance(ctx, s.config.QuoteAsset)
	if err != nil {
		return 0, fmt.Errorf("%s: fetching %s balance: %w", op, s.config.QuoteAsset, err)
	}
	cost := q * price
	if balance-cost < s.config.MinAvailableBalance {
		s.logger.Warn(ctx, op+": insufficient balance for entry", map[string]interface{}{
			"symbol":       inst.Symbol,
			"balance":      balance,
			"cost":         cost,
			"minAvailable": s.config.MinAvailableBalance,
		})
		return 0, fmt.Errorf("%w: %s balance %.4f cannot cover %.4f", ports.ErrInsufficientFunds, s.config.QuoteAsset, balance, cost)
	}
	return q, nil
}

// RoundToStep floors qty to a multiple of step. A non-positive step returns
// qty unchanged.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	d := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(qty).Div(d).Floor().Mul(d).InexactFloat64()
}

// FormatStep floors v to step and renders it with as many decimals as step
// carries.
func FormatStep(v, step float64) string {
	if step <= 0 {
		return decimal.NewFromFloat(v).String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(RoundToStep(v, step)).StringFixed(places)
}
