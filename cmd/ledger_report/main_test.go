package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripwireBot/internal/domain"
)

type stubArchive struct {
	closed []*domain.Position
	open   []*domain.Position
	net    float64
}

func (s *stubArchive) FindClosed(_ context.Context, symbol string, _ int) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, p := range s.closed {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubArchive) FindOpen(context.Context) ([]*domain.Position, error) { return s.open, nil }

func (s *stubArchive) NetNotional(context.Context) (float64, error) { return s.net, nil }

func TestReport(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubArchive{
		closed: []*domain.Position{
			{Seq: 1, Symbol: "BTCUSDT", EntryPrice: 100, ExitPrice: 106, Quantity: 1, State: domain.StateClosedTakeProfit, ExitReason: domain.ExitTakeProfit, PNL: 6, EntryTime: at, ExitTime: at.Add(time.Minute)},
			{Seq: 2, Symbol: "ETHUSDT", EntryPrice: 100, ExitPrice: 97, Quantity: 1, State: domain.StateClosedStopLoss, ExitReason: domain.ExitStopLoss, PNL: -3, EntryTime: at, ExitTime: at.Add(2 * time.Minute)},
		},
		open: []*domain.Position{{Seq: 3, Symbol: "BTCUSDT", State: domain.StateOpen}},
		net:  3,
	}

	var out bytes.Buffer
	require.NoError(t, report(context.Background(), &out, repo, "", 0, true))
	text := out.String()

	assert.Contains(t, text, "BTCUSDT")
	assert.Contains(t, text, "ETHUSDT")
	assert.Contains(t, text, "ALL")
	assert.Contains(t, text, "CLOSED_STOP_LOSS")
	assert.Contains(t, text, "Open positions: 1")
	assert.Contains(t, text, "Ledger net notional (SELL - BUY - HEDGE): 3.0000")

	out.Reset()
	require.NoError(t, report(context.Background(), &out, repo, "ETHUSDT", 0, false))
	assert.NotContains(t, out.String(), "BTCUSDT")
	assert.NotContains(t, out.String(), "ALL")
}
