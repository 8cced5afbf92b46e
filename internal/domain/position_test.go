package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = ExitParams{TakeProfitPct: 0.05, StopLossPct: 0.03, TrailingStopPct: 0.02}

func TestNewPosition(t *testing.T) {
	p, err := NewPosition(7, "BTCUSDT", 100, 2, time.Unix(0, 0), "o1", testParams)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT#7", p.Key())
	assert.InDelta(t, 105.0, p.TakeProfit, 1e-9)
	assert.InDelta(t, 97.0, p.StopLoss, 1e-9)
	assert.InDelta(t, 98.0, p.TrailingTrigger, 1e-9)
	assert.Equal(t, 100.0, p.HighWater)
	assert.Equal(t, 2.0, p.Remaining)
	assert.True(t, p.IsOpen())

	_, err = NewPosition(1, "BTCUSDT", 0, 1, time.Now(), "", testParams)
	assert.Error(t, err)
	_, err = NewPosition(1, "BTCUSDT", 100, 0, time.Now(), "", testParams)
	assert.Error(t, err)
}

func TestPosition_EvaluatePriority(t *testing.T) {
	tests := []struct {
		name  string
		path  []float64
		price float64
		want  ExitReason
	}{
		{"no trigger", nil, 101, ExitNone},
		{"take profit at threshold", nil, 105, ExitTakeProfit},
		{"stop loss at threshold", nil, 97, ExitStopLoss},
		{"trailing below high water", []float64{104}, 101.9, ExitTrailingStop},
		{"take profit beats trailing", []float64{110}, 107.8, ExitTakeProfit},
		{"stop loss beats trailing", []float64{103}, 96, ExitStopLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPosition(1, "X", 100, 1, time.Now(), "", testParams)
			require.NoError(t, err)
			for _, px := range tt.path {
				p.Observe(px)
			}
			p.Observe(tt.price)
			assert.Equal(t, tt.want, p.Evaluate(tt.price))
		})
	}
}

func TestPosition_TrailingTriggerMonotonic(t *testing.T) {
	p, err := NewPosition(1, "X", 100, 1, time.Now(), "", testParams)
	require.NoError(t, err)

	prev := p.TrailingTrigger
	for _, px := range []float64{101, 99, 104, 102, 108, 90, 108.5, 100} {
		p.Observe(px)
		assert.GreaterOrEqual(t, p.TrailingTrigger, prev)
		prev = p.TrailingTrigger
	}
	assert.Equal(t, 108.5, p.HighWater)
	assert.InDelta(t, 108.5*0.98, p.TrailingTrigger, 1e-9)
}

func TestPosition_ApplySellFill(t *testing.T) {
	p, err := NewPosition(1, "X", 100, 2, time.Now(), "", testParams)
	require.NoError(t, err)

	at := time.Unix(100, 0)
	p.ApplySellFill(106, 0.5, at)
	assert.InDelta(t, 1.5, p.Remaining, 1e-9)
	assert.InDelta(t, 3.0, p.PNL, 1e-9)
	assert.Equal(t, 106.0, p.ExitPrice)

	p.ApplySellFill(104, 1.5, at.Add(time.Second))
	assert.Zero(t, p.Remaining)
	assert.InDelta(t, 3.0+6.0, p.PNL, 1e-9)
	assert.InDelta(t, (106*0.5+104*1.5)/2, p.ExitPrice, 1e-9)
	assert.Equal(t, at.Add(time.Second), p.ExitTime)
}

func TestExitReason_ClosedState(t *testing.T) {
	assert.Equal(t, StateClosedTakeProfit, ExitTakeProfit.ClosedState())
	assert.Equal(t, StateClosedStopLoss, ExitStopLoss.ClosedState())
	assert.Equal(t, StateClosedTrailingStop, ExitTrailingStop.ClosedState())
	assert.True(t, StateAborted.IsTerminal())
	assert.False(t, StateExiting.IsTerminal())
}
