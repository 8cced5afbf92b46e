// Package analytics summarizes archived positions for reporting.
package analytics

import (
	"sort"
	"time"

	"tripwireBot/internal/domain"
)

// PerformanceMetrics summarizes realized trades of one instrument (or all).
type PerformanceMetrics struct {
	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	Aborted              int // excluded from every other figure
	WinRate              float64
	TotalProfit          float64
	AverageWin           float64
	AverageLoss          float64 // negative or zero
	ProfitFactor         float64 // gross wins over gross losses
	MaxDrawdown          float64 // deepest fall of cumulative PnL from its peak, in quote units
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	ExitReasons          map[domain.ExitReason]int
}

// AnalyzePerformance computes metrics over terminal positions in exit order.
// Positions still open are ignored.
func AnalyzePerformance(positions []*domain.Position) *PerformanceMetrics {
	m := &PerformanceMetrics{ExitReasons: make(map[domain.ExitReason]int)}

	closed := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		switch {
		case p.State == domain.StateAborted:
			m.Aborted++
		case p.State.IsTerminal():
			closed = append(closed, p)
		}
	}
	if len(closed) == 0 {
		return m
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].ExitTime.Before(closed[j].ExitTime) })

	var grossWin, grossLoss, equity, peak float64
	var losses int
	var held time.Duration
	for _, p := range closed {
		m.TotalTrades++
		m.ExitReasons[p.ExitReason]++
		held += p.ExitTime.Sub(p.EntryTime)

		if p.PNL > 0 {
			m.WinningTrades++
			grossWin += p.PNL
			losses = 0
		} else {
			m.LosingTrades++
			grossLoss += p.PNL
			losses++
			if losses > m.MaxConsecutiveLosses {
				m.MaxConsecutiveLosses = losses
			}
		}

		equity += p.PNL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	m.TotalProfit = equity
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AverageWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss / float64(m.LosingTrades)
	}
	if grossLoss < 0 {
		m.ProfitFactor = grossWin / -grossLoss
	}
	m.AverageTradeDuration = held / time.Duration(m.TotalTrades)
	return m
}

// BySymbol groups positions per instrument and analyzes each group.
func BySymbol(positions []*domain.Position) map[string]*PerformanceMetrics {
	groups := make(map[string][]*domain.Position)
	for _, p := range positions {
		groups[p.Symbol] = append(groups[p.Symbol], p)
	}
	out := make(map[string]*PerformanceMetrics, len(groups))
	for sym, ps := range groups {
		out[sym] = AnalyzePerformance(ps)
	}
	return out
}
