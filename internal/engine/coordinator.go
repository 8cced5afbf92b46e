// Package engine runs the entry schedulers and position monitors and owns the
// shared trading state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"tripwireBot/config"
	"tripwireBot/internal/domain"
	"tripwireBot/internal/feed"
	"tripwireBot/internal/ports"
	"tripwireBot/internal/risk"
)

const schedulerRestartDelay = 5 * time.Second

var errCoolingDown = errors.New("cooling down after close")

// Alerter delivers operator notifications. Messages sharing a key are
// deduplicated.
type Alerter interface {
	Send(ctx context.Context, key, text string)
}

// Deps are the collaborators of a Coordinator. Metrics, Filter, Clock and
// Wakers are optional.
type Deps struct {
	Gateway   ports.ExchangeGateway
	Feed      *feed.Feed
	Runner    feed.Runner
	Positions ports.PositionRepository
	Ledger    ports.Ledger
	Alerter   Alerter
	Filter    ports.EntryFilter
	Sizer     *risk.Sizer
	Metrics   ports.Metrics
	Logger    ports.Logger
	Clock     Clock
	Wakers    WakerFactory
}

// State is a point-in-time copy of the engine state.
type State struct {
	CumulativeProfit float64
	Halted           bool
	OpenPositions    int
	Sequence         int64
}

// Coordinator owns the instrument set and the engine state, and supervises
// one scheduler per instrument plus one monitor per open position.
type Coordinator struct {
	cfg       *config.Config
	gateway   ports.ExchangeGateway
	feed      *feed.Feed
	runner    feed.Runner
	positions ports.PositionRepository
	ledger    ports.Ledger
	alerter   Alerter
	filter    ports.EntryFilter
	sizer     *risk.Sizer
	metrics   ports.Metrics
	logger    ports.Logger
	clock     Clock
	wakers    WakerFactory

	instruments map[string]domain.Instrument // read-only after load
	resumed     []*domain.Position

	mu             sync.Mutex // protects the fields below
	profit         float64
	halted         bool
	seq            int64
	open           map[string]*domain.Position
	entering       map[string]bool
	lastClose      map[string]time.Time
	stopSchedulers context.CancelFunc

	monitors  sync.WaitGroup // monitors and hedges
	rejectSeq atomic.Int64
}

// NewCoordinator validates its dependencies and returns an idle coordinator.
func NewCoordinator(cfg *config.Config, deps Deps) (*Coordinator, error) {
	if cfg == nil || deps.Gateway == nil || deps.Feed == nil || deps.Runner == nil ||
		deps.Positions == nil || deps.Ledger == nil || deps.Alerter == nil ||
		deps.Sizer == nil || deps.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Coordinator")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no instruments configured", ports.ErrConfigurationError)
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Wakers == nil {
		deps.Wakers = IntervalWakers(deps.Clock, cfg.EvalInterval)
	}

	return &Coordinator{
		cfg:       cfg,
		gateway:   deps.Gateway,
		feed:      deps.Feed,
		runner:    deps.Runner,
		positions: deps.Positions,
		ledger:    deps.Ledger,
		alerter:   deps.Alerter,
		filter:    deps.Filter,
		sizer:     deps.Sizer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		clock:     deps.Clock,
		wakers:    deps.Wakers,
		open:      make(map[string]*domain.Position),
		entering:  make(map[string]bool),
		lastClose: make(map[string]time.Time),
	}, nil
}

// Run loads instrument metadata, starts the feed, the schedulers and any
// positions left open by a previous run, and blocks until ctx is cancelled or
// the profit target halts entries. It then waits for every open position to
// exit before stopping the feed.
func (c *Coordinator) Run(ctx context.Context) error {
	op := "Coordinator.Run"
	if err := c.start(ctx); err != nil {
		return err
	}

	feedCtx, stopFeed := context.WithCancel(context.WithoutCancel(ctx))
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := c.runner.Run(feedCtx); err != nil {
			c.logger.Error(ctx, err, op+": price feed stopped with error")
		}
	}()

	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.stopSchedulers = cancel
	halted := c.halted
	c.mu.Unlock()
	if halted {
		c.logger.Warn(ctx, op+": profit target already reached, entries disabled")
		cancel()
	}

	for _, pos := range c.resumed {
		c.startMonitor(ctx, pos)
	}

	g, gctx := errgroup.WithContext(schedCtx)
	for _, symbol := range c.cfg.Symbols {
		s := newScheduler(c, symbol)
		g.Go(func() error {
			c.supervise(gctx, s)
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info(ctx, op+": schedulers stopped, waiting for open positions", map[string]interface{}{"open": c.Snapshot().OpenPositions})
	c.monitors.Wait()

	stopFeed()
	<-feedDone
	c.logger.Info(ctx, op+": stopped", map[string]interface{}{"cumulativeProfit": c.Snapshot().CumulativeProfit})
	return nil
}

// Snapshot returns a copy of the engine state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		CumulativeProfit: c.profit,
		Halted:           c.halted,
		OpenPositions:    len(c.open),
		Sequence:         c.seq,
	}
}

func (c *Coordinator) start(ctx context.Context) error {
	op := "Coordinator.start"

	symbols := append([]string{}, c.cfg.Symbols...)
	for _, s := range c.cfg.Symbols {
		if h := c.cfg.Instrument(s).HedgeSymbol; h != "" {
			symbols = append(symbols, h)
		}
	}
	insts, err := c.gateway.LoadInstruments(ctx, symbols)
	if err != nil {
		return fmt.Errorf("%w: loading instrument metadata: %v", ports.ErrConfigurationError, err)
	}
	for _, s := range symbols {
		if _, ok := insts[s]; !ok {
			return fmt.Errorf("%w: no metadata for instrument %s", ports.ErrConfigurationError, s)
		}
	}
	c.instruments = insts

	seq, err := c.positions.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("%s: reading last sequence: %w", op, err)
	}
	profit, err := c.positions.GetTotalProfit(ctx)
	if err != nil {
		return fmt.Errorf("%s: reading cumulative profit: %w", op, err)
	}
	open, err := c.positions.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("%s: reading open positions: %w", op, err)
	}

	c.mu.Lock()
	c.seq = seq
	c.profit = profit
	c.halted = profit >= c.cfg.ProfitTarget
	for _, pos := range open {
		if _, tracked := c.instruments[pos.Symbol]; !tracked || c.open[pos.Symbol] != nil || !c.tracked(pos.Symbol) {
			c.logger.Warn(ctx, op+": ignoring archived open position", map[string]interface{}{"position": pos.Key()})
			continue
		}
		c.open[pos.Symbol] = pos
		c.resumed = append(c.resumed, pos)
	}
	c.mu.Unlock()

	c.metrics.CumulativeProfit(profit)
	c.logger.Info(ctx, op+": engine state seeded", map[string]interface{}{
		"sequence":         seq,
		"cumulativeProfit": profit,
		"resumedPositions": len(c.resumed),
		"instruments":      c.cfg.Symbols,
	})
	return nil
}

func (c *Coordinator) tracked(symbol string) bool {
	for _, s := range c.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// supervise runs s and restarts it after a delay if it fails or panics.
func (c *Coordinator) supervise(ctx context.Context, s *Scheduler) {
	op := "Coordinator.supervise"
	for {
		err := runGuarded(ctx, s.Run)
		if ctx.Err() != nil {
			return
		}
		c.logger.Error(ctx, err, op+": scheduler failed, restarting", map[string]interface{}{"symbol": s.symbol, "delay": schedulerRestartDelay.String()})
		if c.clock.Sleep(ctx, schedulerRestartDelay) != nil {
			return
		}
	}
}

func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if err = fn(ctx); err == nil && ctx.Err() == nil {
		err = errors.New("scheduler returned unexpectedly")
	}
	return err
}

// entryBlocked reports why symbol cannot enter right now, or nil.
func (c *Coordinator) entryBlocked(symbol string, now time.Time) error {
	switch {
	case c.halted:
		return ports.ErrHalted
	case c.open[symbol] != nil || c.entering[symbol]:
		return ports.ErrPositionOpen
	}
	if last, ok := c.lastClose[symbol]; ok && now.Sub(last) < c.cfg.Cooldown {
		return errCoolingDown
	}
	return nil
}

// canEnter is a lock-protected pre-check; reserveEntry is authoritative.
func (c *Coordinator) canEnter(symbol string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryBlocked(symbol, now)
}

// reserveEntry atomically checks the entry preconditions and marks symbol as
// entering.
func (c *Coordinator) reserveEntry(symbol string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.entryBlocked(symbol, now); err != nil {
		return err
	}
	c.entering[symbol] = true
	return nil
}

func (c *Coordinator) releaseEntry(symbol string) {
	c.mu.Lock()
	delete(c.entering, symbol)
	c.mu.Unlock()
}

func (c *Coordinator) isHalted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

func (c *Coordinator) exitParams() domain.ExitParams {
	return domain.ExitParams{
		TakeProfitPct:   c.cfg.TakeProfit,
		StopLossPct:     c.cfg.StopLoss,
		TrailingStopPct: c.cfg.TrailingStop,
	}
}

// openPosition turns a reserved entry's buy fill into a monitored position.
func (c *Coordinator) openPosition(ctx context.Context, symbol string, fill *ports.Fill) (*domain.Position, error) {
	op := "Coordinator.openPosition"

	c.mu.Lock()
	c.seq++
	pos, err := domain.NewPosition(c.seq, symbol, fill.Price, fill.Quantity, fill.Time, fill.OrderID, c.exitParams())
	if err != nil {
		delete(c.entering, symbol)
		c.mu.Unlock()
		return nil, err
	}
	c.open[symbol] = pos
	delete(c.entering, symbol)
	c.mu.Unlock()

	fields := map[string]interface{}{
		"position":   pos.Key(),
		"entryPrice": pos.EntryPrice,
		"quantity":   pos.Quantity,
		"takeProfit": pos.TakeProfit,
		"stopLoss":   pos.StopLoss,
		"trailing":   pos.TrailingTrigger,
	}
	c.logger.Info(ctx, op+": position opened", fields)

	if err := c.positions.Create(ctx, pos); err != nil {
		c.logger.Error(ctx, err, op+": failed to archive position", fields)
	}
	c.record(ctx, domain.ActionBuy, pos.Seq, fill)
	c.metrics.PositionOpened(symbol)
	c.alerter.Send(ctx, "entry:"+pos.Key(), entryMessage(pos))

	c.startMonitor(ctx, pos)
	return pos, nil
}

func (c *Coordinator) startMonitor(ctx context.Context, pos *domain.Position) {
	m := newMonitor(c, pos)
	c.monitors.Add(1)
	go func() {
		defer c.monitors.Done()
		m.Run(context.WithoutCancel(ctx))
	}()
}

// closePosition books a terminal position into the engine state. It halts
// entries exactly once when the profit target is reached.
func (c *Coordinator) closePosition(ctx context.Context, pos *domain.Position) {
	op := "Coordinator.closePosition"

	c.mu.Lock()
	if pos.State != domain.StateAborted {
		c.profit += pos.PNL
	}
	total := c.profit
	c.lastClose[pos.Symbol] = pos.ExitTime
	if c.open[pos.Symbol] == pos {
		delete(c.open, pos.Symbol)
	}
	haltNow := false
	if !c.halted && c.profit >= c.cfg.ProfitTarget {
		c.halted = true
		haltNow = true
	}
	stop := c.stopSchedulers
	c.mu.Unlock()

	fields := map[string]interface{}{
		"position":         pos.Key(),
		"state":            pos.State,
		"exitPrice":        pos.ExitPrice,
		"pnl":              pos.PNL,
		"cumulativeProfit": total,
	}
	c.logger.Info(ctx, op+": position closed", fields)

	if err := c.positions.Update(ctx, pos); err != nil {
		c.logger.Error(ctx, err, op+": failed to archive closed position", fields)
	}
	c.metrics.PositionClosed(pos.Symbol, pos.State, pos.PNL)
	c.metrics.CumulativeProfit(total)
	if pos.State != domain.StateAborted {
		c.alerter.Send(ctx, "exit:"+pos.Key(), exitMessage(pos, total))
	}

	if haltNow {
		c.logger.Warn(ctx, op+": profit target reached, halting entries", map[string]interface{}{"cumulativeProfit": total, "target": c.cfg.ProfitTarget})
		c.metrics.Halted()
		c.alerter.Send(ctx, "halt", haltMessage(total, c.cfg.ProfitTarget))
		if stop != nil {
			stop()
		}
	}
}

// record appends a fill to the ledger. Failures are logged only.
func (c *Coordinator) record(ctx context.Context, action domain.LedgerAction, seq int64, fill *ports.Fill) {
	entry := &domain.LedgerEntry{
		Timestamp:   fill.Time,
		Action:      action,
		Symbol:      fill.Symbol,
		Price:       fill.Price,
		Quantity:    fill.Quantity,
		PositionSeq: seq,
		OrderID:     fill.OrderID,
	}
	if err := c.ledger.Append(ctx, entry); err != nil {
		c.logger.Error(ctx, err, "Coordinator.record: failed to append ledger entry", map[string]interface{}{"action": action, "symbol": fill.Symbol, "seq": seq})
	}
}

// submit runs one gateway call under the gateway timeout and normalizes the
// outcome: deadlines and empty fills become rejections.
func (c *Coordinator) submit(ctx context.Context, symbol string, side domain.OrderSide, call func(context.Context) (*ports.Fill, error)) (*ports.Fill, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
	defer cancel()

	fill, err := call(callCtx)
	_, rateLimited := ports.AsRateLimited(err)
	switch {
	case err == nil && (fill == nil || fill.Quantity <= 0):
		err = ports.NewRejected("zero fill", nil)
	case err != nil && !rateLimited && ctx.Err() == nil &&
		(errors.Is(err, ports.ErrTimeout) || errors.Is(callCtx.Err(), context.DeadlineExceeded)):
		err = ports.NewRejected("timeout", err)
	}

	outcome := "filled"
	switch {
	case rateLimited:
		outcome = "rate_limited"
	case errors.Is(err, ports.ErrRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	c.metrics.OrderSubmitted(symbol, side, outcome)

	if err != nil {
		return nil, err
	}
	if fill.Time.IsZero() {
		fill.Time = c.clock.Now()
	}
	if fill.Symbol == "" {
		fill.Symbol = symbol
	}
	return fill, nil
}

// retryDelay is the wait before resubmitting a rate-limited order.
func (c *Coordinator) retryDelay(advertised time.Duration) time.Duration {
	if advertised > 0 {
		return advertised
	}
	return c.cfg.RateLimitRetry
}

// newRetryBackoff paces resubmissions after network failures.
func (c *Coordinator) newRetryBackoff() *backoff.Backoff {
	return &backoff.Backoff{Min: c.cfg.ReconnectDelay, Max: c.cfg.MaxReconnectDelay, Factor: 2}
}

// retryWait reports whether a failed order may be resubmitted unchanged and
// how long to wait first. Rate limits wait the advertised delay, network
// failures back off exponentially on b. Anything else is final.
func (c *Coordinator) retryWait(err error, b *backoff.Backoff) (time.Duration, bool) {
	if !ports.IsTransient(err) {
		return 0, false
	}
	if advertised, limited := ports.AsRateLimited(err); limited {
		return c.retryDelay(advertised), true
	}
	return b.Duration(), true
}

func (c *Coordinator) rejectionKey(scope string) string {
	return fmt.Sprintf("reject:%s:%d", scope, c.rejectSeq.Add(1))
}
