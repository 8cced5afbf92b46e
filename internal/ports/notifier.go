package ports

import "context"

// Notifier delivers operator alerts. Failures are reported to the caller but
// must never be treated as engine errors.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// EntryFilter is an optional extra gate ANDed into the entry condition.
type EntryFilter interface {
	Allow(ctx context.Context, symbol string, price float64) (bool, error)
}
