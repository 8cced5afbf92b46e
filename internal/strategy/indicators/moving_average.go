package indicators

import (
	"context"
	"fmt"

	"tripwireBot/internal/domain"
)

type MovingAverageType string

const (
	SimpleMovingAverage      MovingAverageType = "SMA"
	ExponentialMovingAverage MovingAverageType = "EMA"
)

type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage computes an SMA of the last Period closes or an EMA over
// the whole series seeded with the SMA of the first Period closes.
type MovingAverage struct {
	cfg MovingAverageConfig
}

func NewMovingAverage(cfg MovingAverageConfig) *MovingAverage { return &MovingAverage{cfg: cfg} }

func (m *MovingAverage) Name() string { return string(m.cfg.Type) }

func (m *MovingAverage) RequiredDataPoints() int { return m.cfg.Period }

func (m *MovingAverage) Calculate(_ context.Context, klines []*domain.Kline) (float64, error) {
	if err := needAtLeast(m.Name(), len(klines), m.cfg.Period); err != nil {
		return 0, err
	}
	if m.cfg.Period <= 0 {
		return 0, fmt.Errorf("%s: period must be positive", m.Name())
	}

	switch m.cfg.Type {
	case SimpleMovingAverage:
		return mean(klines[len(klines)-m.cfg.Period:]), nil
	case ExponentialMovingAverage:
		k := 2 / float64(m.cfg.Period+1)
		ema := mean(klines[:m.cfg.Period])
		for _, kl := range klines[m.cfg.Period:] {
			ema += (kl.Close - ema) * k
		}
		return ema, nil
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.cfg.Type)
	}
}

func mean(klines []*domain.Kline) float64 {
	var sum float64
	for _, k := range klines {
		sum += k.Close
	}
	return sum / float64(len(klines))
}
