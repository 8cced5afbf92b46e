package ports

import (
	"context"

	"tripwireBot/internal/domain"
)

// PositionRepository archives positions.
type PositionRepository interface {
	// Create saves a newly opened position.
	Create(ctx context.Context, pos *domain.Position) error
	// Update persists the current state of a position (typically on close).
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpen returns positions that were never archived as terminal.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// LastSequence returns the highest position sequence stored, 0 if none.
	LastSequence(ctx context.Context) (int64, error)
	// GetTotalProfit sums realized PNL of closed positions.
	GetTotalProfit(ctx context.Context) (float64, error)
}

// Ledger is the append-only trade record.
type Ledger interface {
	// Append records one fill.
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	// NetNotional returns SELL notional minus BUY notional.
	NetNotional(ctx context.Context) (float64, error)
}
