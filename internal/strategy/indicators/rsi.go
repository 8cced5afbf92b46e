package indicators

import (
	"context"

	"tripwireBot/internal/domain"
)

type RSIConfig struct {
	IndicatorConfig
	Overbought float64
	Oversold   float64
}

// RSI is the Relative Strength Index with Wilder's smoothing.
type RSI struct {
	cfg RSIConfig
}

func NewRSI(cfg RSIConfig) *RSI { return &RSI{cfg: cfg} }

func (r *RSI) Name() string { return "RSI" }

// RequiredDataPoints is period+1: RSI works on close-to-close changes.
func (r *RSI) RequiredDataPoints() int { return r.cfg.Period + 1 }

func (r *RSI) Calculate(_ context.Context, klines []*domain.Kline) (float64, error) {
	if err := needAtLeast(r.Name(), len(klines), r.RequiredDataPoints()); err != nil {
		return 0, err
	}
	n := float64(r.cfg.Period)

	var avgGain, avgLoss float64
	for i := 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if i <= r.cfg.Period {
			avgGain += gain / n
			avgLoss += loss / n
			continue
		}
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
	}

	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50, nil
	case avgLoss == 0:
		return 100, nil
	}
	rsi := 100 - 100/(1+avgGain/avgLoss)
	return clamp(rsi, 0, 100), nil
}

func (r *RSI) IsOverbought(value float64) bool { return value >= r.cfg.Overbought }

func (r *RSI) IsOversold(value float64) bool { return value <= r.cfg.Oversold }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
