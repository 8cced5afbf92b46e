package csvledger

import (
	"context"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// Mirror writes every entry to a primary ledger and copies it to secondary
// ledgers. Only primary failures are returned; NetNotional reads the primary.
type Mirror struct {
	primary   ports.Ledger
	secondary []ports.Ledger
	logger    ports.Logger
}

// NewMirror creates a fan-out ledger.
func NewMirror(primary ports.Ledger, logger ports.Logger, secondary ...ports.Ledger) *Mirror {
	return &Mirror{primary: primary, secondary: secondary, logger: logger}
}

func (m *Mirror) Append(ctx context.Context, e *domain.LedgerEntry) error {
	if err := m.primary.Append(ctx, e); err != nil {
		return err
	}
	for _, l := range m.secondary {
		if err := l.Append(ctx, e); err != nil {
			m.logger.Warn(ctx, "Mirror.Append: secondary ledger write failed", map[string]interface{}{"error": err.Error(), "symbol": e.Symbol})
		}
	}
	return nil
}

func (m *Mirror) NetNotional(ctx context.Context) (float64, error) {
	return m.primary.NetNotional(ctx)
}
