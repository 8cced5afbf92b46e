// Package indicators computes technical indicators over closed candles.
package indicators

import (
	"context"
	"fmt"

	"tripwireBot/internal/domain"
)

// Indicator is a single-value technical indicator over a candle series.
type Indicator interface {
	Calculate(ctx context.Context, klines []*domain.Kline) (float64, error)
	// RequiredDataPoints is the minimum series length Calculate accepts.
	RequiredDataPoints() int
	Name() string
}

// IndicatorConfig holds the lookback shared by every indicator.
type IndicatorConfig struct {
	Period int
}

func needAtLeast(name string, have, want int) error {
	if have < want {
		return fmt.Errorf("%s: not enough data (%d) for period, need %d", name, have, want)
	}
	return nil
}
