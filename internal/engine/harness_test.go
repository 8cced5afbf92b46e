package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tripwireBot/config"
	"tripwireBot/internal/domain"
	"tripwireBot/internal/feed"
	"tripwireBot/internal/ports"
	"tripwireBot/internal/risk"
)

const testSymbol = "BTCUSDT"

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type orderCall struct {
	Symbol string
	Qty    float64
	Price  float64
	At     time.Time
}

type orderFunc func(ctx context.Context, symbol string, qty, price float64) (*ports.Fill, error)

type mockGateway struct {
	mu          sync.Mutex
	clock       Clock
	instruments map[string]domain.Instrument
	loadErr     error
	balance     float64

	buyFn    orderFunc
	sellFn   orderFunc
	marketFn orderFunc

	buys    []orderCall
	sells   []orderCall
	markets []orderCall
}

func newMockGateway(clock Clock) *mockGateway {
	return &mockGateway{
		clock: clock,
		instruments: map[string]domain.Instrument{
			testSymbol:    {Symbol: testSymbol, BaseAsset: "BTC", QuoteAsset: "USDT", MinOrderSize: 0.001, StepSize: 0.001},
			"ETHUSDT":     {Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", MinOrderSize: 0.001, StepSize: 0.001},
			"BTCDOWNUSDT": {Symbol: "BTCDOWNUSDT", BaseAsset: "BTCDOWN", QuoteAsset: "USDT", MinOrderSize: 0.01, StepSize: 0.01},
		},
		balance:  1_000_000,
		buyFn:    fillAt(domain.Buy),
		sellFn:   fillAt(domain.Sell),
		marketFn: fillAt(domain.Buy),
	}
}

func fillAt(side domain.OrderSide) orderFunc {
	n := 0
	var mu sync.Mutex
	return func(_ context.Context, symbol string, qty, price float64) (*ports.Fill, error) {
		mu.Lock()
		n++
		id := fmt.Sprintf("%s-%d", side, n)
		mu.Unlock()
		return &ports.Fill{OrderID: id, Symbol: symbol, Side: side, Price: price, Quantity: qty}, nil
	}
}

func (g *mockGateway) call(ctx context.Context, calls *[]orderCall, fn orderFunc, symbol string, qty, price float64) (*ports.Fill, error) {
	g.mu.Lock()
	*calls = append(*calls, orderCall{Symbol: symbol, Qty: qty, Price: price, At: g.clock.Now()})
	g.mu.Unlock()
	return fn(ctx, symbol, qty, price)
}

func (g *mockGateway) SubmitLimitBuy(ctx context.Context, symbol string, qty, price float64) (*ports.Fill, error) {
	return g.call(ctx, &g.buys, g.buyFn, symbol, qty, price)
}

func (g *mockGateway) SubmitLimitSell(ctx context.Context, symbol string, qty, price float64) (*ports.Fill, error) {
	return g.call(ctx, &g.sells, g.sellFn, symbol, qty, price)
}

func (g *mockGateway) SubmitMarketBuy(ctx context.Context, symbol string, qty float64) (*ports.Fill, error) {
	return g.call(ctx, &g.markets, g.marketFn, symbol, qty, 1.5)
}

func (g *mockGateway) FetchBalance(context.Context, string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

func (g *mockGateway) LoadInstruments(_ context.Context, symbols []string) (map[string]domain.Instrument, error) {
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	out := map[string]domain.Instrument{}
	for _, s := range symbols {
		if inst, ok := g.instruments[s]; ok {
			out[s] = inst
		}
	}
	return out, nil
}

func (g *mockGateway) counts() (buys, sells, markets int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buys), len(g.sells), len(g.markets)
}

type memRepo struct {
	mu        sync.Mutex
	positions map[int64]domain.Position
	seedSeq   int64
	seedPNL   float64
	open      []*domain.Position
}

func newMemRepo() *memRepo { return &memRepo{positions: map[int64]domain.Position{}} }

// memRepo and memLedger fail on a cancelled context the way database/sql
// does.
func (r *memRepo) Create(ctx context.Context, p *domain.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[p.Seq] = *p
	return nil
}

func (r *memRepo) Update(ctx context.Context, p *domain.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[p.Seq] = *p
	return nil
}

func (r *memRepo) FindOpen(context.Context) ([]*domain.Position, error) { return r.open, nil }
func (r *memRepo) LastSequence(context.Context) (int64, error)          { return r.seedSeq, nil }
func (r *memRepo) GetTotalProfit(context.Context) (float64, error)      { return r.seedPNL, nil }

func (r *memRepo) get(seq int64) domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions[seq]
}

type memLedger struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
}

func (l *memLedger) Append(ctx context.Context, e *domain.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *e)
	return nil
}

func (l *memLedger) NetNotional(context.Context) (float64, error) { return 0, nil }

func (l *memLedger) actions() []domain.LedgerAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LedgerAction
	for _, e := range l.entries {
		out = append(out, e.Action)
	}
	return out
}

type recAlerter struct {
	mu   sync.Mutex
	keys []string
}

func (a *recAlerter) Send(_ context.Context, key, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
}

func (a *recAlerter) withPrefix(prefix string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, k := range a.keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out
}

type stubRunner struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (r *stubRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	<-ctx.Done()
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	return nil
}

func (r *stubRunner) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

type stubFilter struct {
	allow bool
	err   error
}

func (f stubFilter) Allow(context.Context, string, float64) (bool, error) { return f.allow, f.err }

// blockingWaker never wakes on its own; monitors spawned by step-level tests
// stay parked.
type blockingWaker struct{}

func (blockingWaker) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingWaker) Close() {}

type harness struct {
	c      *Coordinator
	cfg    *config.Config
	clock  *fakeClock
	gw     *mockGateway
	feed   *feed.Feed
	repo   *memRepo
	ledger *memLedger
	alerts *recAlerter
}

func testConfig() *config.Config {
	return &config.Config{
		Symbols:           []string{testSymbol},
		Instruments:       map[string]config.InstrumentConfig{},
		QuoteAsset:        "USDT",
		Quantity:          1,
		TakeProfit:        0.05,
		StopLoss:          0.03,
		TrailingStop:      0.02,
		EntryDiscount:     0.01,
		Cooldown:          time.Minute,
		ProfitTarget:      1000,
		StaleAfter:        10 * time.Second,
		MaxStaleTicks:     3,
		MaxExitRejections: 3,
		EvalInterval:      time.Second,
		GatewayTimeout:    5 * time.Second,
		RateLimitRetry:    30 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 8 * time.Second,
	}
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	clock := newFakeClock()
	h := &harness{
		cfg:    cfg,
		clock:  clock,
		gw:     newMockGateway(clock),
		feed:   feed.New(cfg.Symbols, clock.Now),
		repo:   newMemRepo(),
		ledger: &memLedger{},
		alerts: &recAlerter{},
	}
	c, err := NewCoordinator(cfg, Deps{
		Gateway:   h.gw,
		Feed:      h.feed,
		Runner:    &stubRunner{},
		Positions: h.repo,
		Ledger:    h.ledger,
		Alerter:   h.alerts,
		Sizer:     risk.NewSizer(risk.SizerConfig{QuoteAsset: "USDT"}, nil, nopLogger{}),
		Logger:    nopLogger{},
		Clock:     clock,
		Wakers:    func(string) Waker { return blockingWaker{} },
	})
	require.NoError(t, err)
	require.NoError(t, c.start(context.Background()))
	h.c = c
	return h
}

func (h *harness) price(p float64) {
	h.feed.Update(domain.PriceSample{Symbol: testSymbol, Price: p})
}

// openPosition registers an open position at entry without going through a
// scheduler and returns its monitor.
func (h *harness) openPosition(t *testing.T, entry, qty float64) *Monitor {
	t.Helper()
	h.c.mu.Lock()
	h.c.seq++
	pos, err := domain.NewPosition(h.c.seq, testSymbol, entry, qty, h.clock.Now(), "entry", h.c.exitParams())
	require.NoError(t, err)
	h.c.open[testSymbol] = pos
	h.c.mu.Unlock()
	return newMonitor(h.c, pos)
}

// drive feeds prices to m the way Run does and closes the position once it
// is terminal. It returns how many prices were consumed.
func (h *harness) drive(ctx context.Context, m *Monitor, prices ...float64) int {
	for i, p := range prices {
		h.price(p)
		m.step(ctx)
		if m.pos.State.IsTerminal() {
			h.c.closePosition(ctx, m.pos)
			return i + 1
		}
	}
	return len(prices)
}
