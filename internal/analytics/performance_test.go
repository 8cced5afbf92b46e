package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripwireBot/internal/domain"
)

func closedAt(symbol string, minute int, pnl float64, reason domain.ExitReason) *domain.Position {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Position{
		Symbol:     symbol,
		EntryTime:  start.Add(time.Duration(minute) * time.Minute),
		ExitTime:   start.Add(time.Duration(minute+10) * time.Minute),
		State:      reason.ClosedState(),
		ExitReason: reason,
		PNL:        pnl,
	}
}

func TestAnalyzePerformance(t *testing.T) {
	positions := []*domain.Position{
		closedAt("BTCUSDT", 40, 6, domain.ExitTakeProfit),
		closedAt("BTCUSDT", 0, 6, domain.ExitTakeProfit),
		closedAt("BTCUSDT", 10, -3, domain.ExitStopLoss),
		closedAt("BTCUSDT", 20, -3, domain.ExitStopLoss),
		closedAt("BTCUSDT", 30, 1, domain.ExitTrailingStop),
		{Symbol: "BTCUSDT", State: domain.StateAborted, PNL: 0},
		{Symbol: "BTCUSDT", State: domain.StateOpen},
	}

	m := AnalyzePerformance(positions)
	assert.Equal(t, 5, m.TotalTrades)
	assert.Equal(t, 3, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.Equal(t, 1, m.Aborted)
	assert.InDelta(t, 0.6, m.WinRate, 1e-12)
	assert.InDelta(t, 7.0, m.TotalProfit, 1e-12)
	assert.InDelta(t, 13.0/3, m.AverageWin, 1e-12)
	assert.InDelta(t, -3.0, m.AverageLoss, 1e-12)
	assert.InDelta(t, 13.0/6, m.ProfitFactor, 1e-12)
	// equity: 6, 3, 0, 1, 7 -> peak 6, trough 0
	assert.InDelta(t, 6.0, m.MaxDrawdown, 1e-12)
	assert.Equal(t, 2, m.MaxConsecutiveLosses)
	assert.Equal(t, 10*time.Minute, m.AverageTradeDuration)
	assert.Equal(t, map[domain.ExitReason]int{
		domain.ExitTakeProfit: 2, domain.ExitStopLoss: 2, domain.ExitTrailingStop: 1,
	}, m.ExitReasons)
}

func TestAnalyzePerformance_Empty(t *testing.T) {
	m := AnalyzePerformance(nil)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.WinRate)
}

func TestBySymbol(t *testing.T) {
	got := BySymbol([]*domain.Position{
		closedAt("BTCUSDT", 0, 6, domain.ExitTakeProfit),
		closedAt("ETHUSDT", 0, -3, domain.ExitStopLoss),
		closedAt("ETHUSDT", 20, 1, domain.ExitTrailingStop),
	})
	require.Len(t, got, 2)
	assert.InDelta(t, 6.0, got["BTCUSDT"].TotalProfit, 1e-12)
	assert.InDelta(t, -2.0, got["ETHUSDT"].TotalProfit, 1e-12)
	assert.InDelta(t, 1.0/3, got["ETHUSDT"].ProfitFactor, 1e-12)
}
