// Package csvledger keeps a human-readable CSV copy of the trade ledger.
package csvledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

var header = []string{"Timestamp", "Type", "Instrument", "Amount", "Price", "Total Value", "Position", "Order ID"}

// Ledger appends fills to a CSV file. It is safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	path   string
	logger ports.Logger
}

// New creates the file with a header row if it does not exist yet.
func New(path string, logger ports.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create ledger file %s: %w", path, err)
		}
		w := csv.NewWriter(f)
		w.Write(header)
		w.Flush()
		if err := errors.Join(w.Error(), f.Close()); err != nil {
			return nil, fmt.Errorf("failed to write ledger header: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat ledger file %s: %w", path, err)
	}
	logger.Info(context.Background(), "CSV ledger ready", map[string]interface{}{"path": path})
	return &Ledger{path: path, logger: logger}, nil
}

// Append writes one row.
func (l *Ledger) Append(_ context.Context, e *domain.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger file: %w", err)
	}
	w := csv.NewWriter(f)
	w.Write([]string{
		e.Timestamp.UTC().Format(time.RFC3339),
		string(e.Action),
		e.Symbol,
		strconv.FormatFloat(e.Quantity, 'f', -1, 64),
		strconv.FormatFloat(e.Price, 'f', -1, 64),
		strconv.FormatFloat(e.Notional(), 'f', -1, 64),
		strconv.FormatInt(e.PositionSeq, 10),
		e.OrderID,
	})
	w.Flush()
	return errors.Join(w.Error(), f.Close())
}

// NetNotional returns SELL notional minus BUY and HEDGE notional.
func (l *Ledger) NetNotional(_ context.Context) (float64, error) {
	entries, err := l.Read()
	if err != nil {
		return 0, err
	}
	var net float64
	for _, e := range entries {
		if e.Action == domain.ActionSell {
			net += e.Notional()
		} else {
			net -= e.Notional()
		}
	}
	return net, nil
}

// Read parses every row of the file.
func (l *Ledger) Read() ([]*domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger header: %w", err)
	}

	var entries []*domain.LedgerEntry
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		e, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseRow(rec []string) (*domain.LedgerEntry, error) {
	if len(rec) < len(header) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(header), len(rec))
	}
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	qty, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	price, err := strconv.ParseFloat(rec[4], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}
	seq, err := strconv.ParseInt(rec[6], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid position: %w", err)
	}
	return &domain.LedgerEntry{
		Timestamp:   ts,
		Action:      domain.LedgerAction(rec[1]),
		Symbol:      rec[2],
		Quantity:    qty,
		Price:       price,
		PositionSeq: seq,
		OrderID:     rec[7],
	}, nil
}
