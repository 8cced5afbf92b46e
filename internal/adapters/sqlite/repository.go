package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// Repository implements ports.PositionRepository and ports.Ledger on SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tripwire.db"
	}
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: opening '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: pinging '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer; monitors and schedulers serialize through the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "SQLite archive ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		seq INTEGER PRIMARY KEY,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		entry_order_id TEXT NOT NULL DEFAULT '',
		take_profit REAL NOT NULL,
		stop_loss REAL NOT NULL,
		trailing_pct REAL NOT NULL,
		high_water REAL NOT NULL,
		trailing_trigger REAL NOT NULL,
		state TEXT NOT NULL,
		exit_reason TEXT NOT NULL DEFAULT '',
		remaining REAL NOT NULL,
		exit_price REAL NOT NULL DEFAULT 0,
		exit_time TIMESTAMP DEFAULT NULL,
		pnl REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TIMESTAMP NOT NULL,
		action TEXT NOT NULL,
		symbol TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		position_seq INTEGER NOT NULL DEFAULT 0,
		order_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_positions_state ON positions (state);
	CREATE INDEX IF NOT EXISTS idx_ledger_symbol_ts ON ledger (symbol, ts);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

const positionColumns = `seq, symbol, entry_price, quantity, entry_time, entry_order_id,
	take_profit, stop_loss, trailing_pct, high_water, trailing_trigger,
	state, exit_reason, remaining, exit_price, exit_time, pnl`

// Create saves a newly opened position under its sequence.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) error {
	const query = `INSERT INTO positions (` + positionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.Seq, pos.Symbol, pos.EntryPrice, pos.Quantity, pos.EntryTime, pos.EntryOrderID,
		pos.TakeProfit, pos.StopLoss, pos.TrailingStopPct, pos.HighWater, pos.TrailingTrigger,
		string(pos.State), string(pos.ExitReason), pos.Remaining, pos.ExitPrice, nullTime(pos.ExitTime), pos.PNL)
	if err != nil {
		return fmt.Errorf("%w: inserting position %s: %v", ports.ErrQueryFailed, pos.Key(), err)
	}
	r.logger.Debug(ctx, "Position archived", map[string]interface{}{"position": pos.Key()})
	return nil
}

// Update persists the mutable fields of a position.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET high_water = ?, trailing_trigger = ?, state = ?, exit_reason = ?,
	    remaining = ?, exit_price = ?, exit_time = ?, pnl = ?
	WHERE seq = ?`

	result, err := r.db.ExecContext(ctx, query,
		pos.HighWater, pos.TrailingTrigger, string(pos.State), string(pos.ExitReason),
		pos.Remaining, pos.ExitPrice, nullTime(pos.ExitTime), pos.PNL,
		pos.Seq)
	if err != nil {
		return fmt.Errorf("%w: updating position %s: %v", ports.ErrQueryFailed, pos.Key(), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for position %s: %w", pos.Key(), err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position %s not found for update: %w", pos.Key(), ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"position": pos.Key(), "state": pos.State})
	return nil
}

// FindOpen returns positions not yet in a terminal state, oldest first.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions WHERE state IN (?, ?) ORDER BY seq`
	return r.queryPositions(ctx, query, string(domain.StateOpen), string(domain.StateExiting))
}

// FindClosed returns terminal positions, newest first. An empty symbol
// matches every instrument; limit <= 0 means no limit.
func (r *Repository) FindClosed(ctx context.Context, symbol string, limit int) ([]*domain.Position, error) {
	if limit <= 0 {
		limit = -1
	}
	const query = `SELECT ` + positionColumns + ` FROM positions
	WHERE state NOT IN (?, ?) AND (? = '' OR symbol = ?)
	ORDER BY seq DESC LIMIT ?`
	return r.queryPositions(ctx, query, string(domain.StateOpen), string(domain.StateExiting), symbol, symbol, limit)
}

// LastSequence returns the highest stored position sequence.
func (r *Repository) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM positions`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("%w: reading last sequence: %v", ports.ErrQueryFailed, err)
	}
	return seq, nil
}

// GetTotalProfit sums realized PNL of closed positions. Aborted positions
// are excluded.
func (r *Repository) GetTotalProfit(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM positions WHERE state IN (?, ?, ?)`
	var total float64
	err := r.db.QueryRowContext(ctx, query,
		string(domain.StateClosedTakeProfit), string(domain.StateClosedStopLoss), string(domain.StateClosedTrailingStop)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: calculating total profit: %v", ports.ErrQueryFailed, err)
	}
	return total, nil
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying positions: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- Ledger Implementation ---

// Append records one fill and assigns its ID.
func (r *Repository) Append(ctx context.Context, e *domain.LedgerEntry) error {
	const query = `
	INSERT INTO ledger (ts, action, symbol, price, quantity, position_seq, order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		e.Timestamp, string(e.Action), e.Symbol, e.Price, e.Quantity, e.PositionSeq, e.OrderID)
	if err != nil {
		return fmt.Errorf("%w: appending %s %s: %v", ports.ErrQueryFailed, e.Action, e.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for ledger entry: %w", err)
	}
	e.ID = id
	r.logger.Debug(ctx, "Ledger entry appended", map[string]interface{}{"id": id, "action": e.Action, "symbol": e.Symbol})
	return nil
}

// NetNotional returns SELL notional minus BUY notional. Hedge rows count as
// buys.
func (r *Repository) NetNotional(ctx context.Context) (float64, error) {
	const query = `
	SELECT COALESCE(SUM(CASE WHEN action = ? THEN price * quantity ELSE -price * quantity END), 0)
	FROM ledger`
	var net float64
	if err := r.db.QueryRowContext(ctx, query, string(domain.ActionSell)).Scan(&net); err != nil {
		return 0, fmt.Errorf("%w: calculating net notional: %v", ports.ErrQueryFailed, err)
	}
	return net, nil
}

// Entries returns ledger rows in insertion order. An empty symbol matches
// every instrument.
func (r *Repository) Entries(ctx context.Context, symbol string) ([]*domain.LedgerEntry, error) {
	const query = `
	SELECT id, ts, action, symbol, price, quantity, position_seq, order_id
	FROM ledger WHERE (? = '' OR symbol = ?) ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, symbol, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ledger: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	entries := make([]*domain.LedgerEntry, 0)
	for rows.Next() {
		e := &domain.LedgerEntry{}
		var action string
		if err := rows.Scan(&e.ID, &e.Timestamp, &action, &e.Symbol, &e.Price, &e.Quantity, &e.PositionSeq, &e.OrderID); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Action = domain.LedgerAction(action)
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return entries, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var exitTime sql.NullTime
	var state, reason string
	err := s.Scan(
		&p.Seq, &p.Symbol, &p.EntryPrice, &p.Quantity, &p.EntryTime, &p.EntryOrderID,
		&p.TakeProfit, &p.StopLoss, &p.TrailingStopPct, &p.HighWater, &p.TrailingTrigger,
		&state, &reason, &p.Remaining, &p.ExitPrice, &exitTime, &p.PNL)
	if err != nil {
		return nil, err
	}
	if exitTime.Valid {
		p.ExitTime = exitTime.Time
	}
	p.State = domain.PositionState(state)
	p.ExitReason = domain.ExitReason(reason)
	return p, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
