// Package strategy holds the optional indicator gate ANDed into the dip
// entry condition.
package strategy

import (
	"context"
	"fmt"

	"tripwireBot/internal/ports"
	"tripwireBot/internal/strategy/indicators"
)

// Config holds the filter parameters.
type Config struct {
	RSIPeriod     int
	RSIOverbought float64
	TrendMAPeriod int    // 0 disables the trend gate
	KlineInterval string // e.g. "1m"
}

// Filter implements ports.EntryFilter. An entry is allowed while RSI is
// below the overbought level and, when enabled, the price is above the
// trend SMA.
type Filter struct {
	cfg    Config
	klines ports.KlineSource
	rsi    *indicators.RSI
	trend  *indicators.MovingAverage
	logger ports.Logger
}

func NewFilter(cfg Config, klines ports.KlineSource, logger ports.Logger) (*Filter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for entry filter")
	}
	if klines == nil {
		return nil, fmt.Errorf("kline source is required for entry filter")
	}
	if cfg.RSIPeriod <= 0 || cfg.TrendMAPeriod < 0 {
		return nil, fmt.Errorf("filter periods must be positive")
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1m"
	}

	f := &Filter{
		cfg:    cfg,
		klines: klines,
		logger: logger,
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
		}),
	}
	if cfg.TrendMAPeriod > 0 {
		f.trend = indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.TrendMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		})
	}
	return f, nil
}

// RequiredDataPoints is the number of candles fetched per decision.
func (f *Filter) RequiredDataPoints() int {
	n := f.rsi.RequiredDataPoints()
	if f.trend != nil && f.trend.RequiredDataPoints() > n {
		n = f.trend.RequiredDataPoints()
	}
	return n
}

// Allow fetches recent candles for symbol and evaluates the gates against
// price.
func (f *Filter) Allow(ctx context.Context, symbol string, price float64) (bool, error) {
	op := "EntryFilter"
	need := f.RequiredDataPoints()
	klines, err := f.klines.GetKlines(ctx, symbol, f.cfg.KlineInterval, need)
	if err != nil {
		return false, fmt.Errorf("%s: fetching klines for %s: %w", op, symbol, err)
	}
	if len(klines) < need {
		f.logger.Debug(ctx, op+": not enough kline data", map[string]interface{}{
			"symbol": symbol, "available": len(klines), "required": need,
		})
		return false, nil
	}

	rsi, err := f.rsi.Calculate(ctx, klines)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	fields := map[string]interface{}{"symbol": symbol, "price": price, "rsi": rsi}
	if f.rsi.IsOverbought(rsi) {
		f.logger.Debug(ctx, op+": overbought, entry denied", fields)
		return false, nil
	}

	if f.trend != nil {
		sma, err := f.trend.Calculate(ctx, klines)
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		fields["sma"] = sma
		if price <= sma {
			f.logger.Debug(ctx, op+": below trend, entry denied", fields)
			return false, nil
		}
	}

	f.logger.Debug(ctx, op+": entry allowed", fields)
	return true, nil
}

var _ ports.EntryFilter = (*Filter)(nil)
