// Package app wires configuration, adapters and the engine into a runnable
// service.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tripwireBot/config"
	"tripwireBot/internal/adapters/binanceclient"
	"tripwireBot/internal/adapters/csvledger"
	"tripwireBot/internal/adapters/krakenws"
	"tripwireBot/internal/adapters/paper"
	"tripwireBot/internal/adapters/sqlite"
	"tripwireBot/internal/adapters/telegram"
	"tripwireBot/internal/engine"
	"tripwireBot/internal/feed"
	"tripwireBot/internal/metrics"
	"tripwireBot/internal/notify"
	"tripwireBot/internal/ports"
	"tripwireBot/internal/risk"
	"tripwireBot/internal/strategy"
)

// Overrides replaces network-facing collaborators. Nil fields are built from
// the configuration.
type Overrides struct {
	Poller   ports.PricePoller
	Stream   ports.PriceStream
	Klines   ports.KlineSource
	Notifier ports.Notifier
}

// TradingService owns every long-lived component of the bot.
type TradingService struct {
	cfg         *config.Config
	logger      ports.Logger
	coordinator *engine.Coordinator
	metrics     *metrics.Prometheus
	dispatcher  *notify.Dispatcher
	syncer      interface{ SyncTime(context.Context) error }
	closers     []func() error
}

// NewTradingService builds the component graph described by cfg.
func NewTradingService(cfg *config.Config, logger ports.Logger, o Overrides) (*TradingService, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	s := &TradingService{cfg: cfg, logger: logger, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("initializing position archive: %w", err)
	}
	s.closers = append(s.closers, repo.Close)

	var ledger ports.Ledger = repo
	if cfg.LedgerCSVPath != "" {
		csv, err := csvledger.New(cfg.LedgerCSVPath, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing CSV ledger: %w", err)
		}
		ledger = csvledger.NewMirror(repo, logger, csv)
	}

	symbols := append([]string{}, cfg.Symbols...)
	for _, sym := range cfg.Symbols {
		if h := cfg.Instrument(sym).HedgeSymbol; h != "" {
			symbols = append(symbols, h)
		}
	}
	prices := feed.New(symbols, time.Now)

	var bc *binanceclient.Client
	binance := func() (*binanceclient.Client, error) {
		if bc != nil {
			return bc, nil
		}
		c, err := binanceclient.New(binanceclient.Config{
			APIKey:            cfg.APIKey,
			SecretKey:         cfg.SecretKey,
			UseTestnet:        cfg.IsTestnet,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Binance client: %w", err)
		}
		bc = c
		return bc, nil
	}

	runner, err := s.buildRunner(prices, o, binance)
	if err != nil {
		return nil, err
	}

	var gateway ports.ExchangeGateway
	switch cfg.Gateway {
	case config.GatewayBinance:
		c, err := binance()
		if err != nil {
			return nil, err
		}
		gateway, s.syncer = c, c
	case config.GatewayPaper:
		pcfg := paper.Config{
			QuoteAsset:   cfg.QuoteAsset,
			QuoteBalance: cfg.PaperQuoteBalance,
			Prices:       prices,
			Logger:       logger,
		}
		// Real lot rules are available whenever Binance is already the price source.
		if bc != nil {
			pcfg.Instruments = bc
		}
		pg, err := paper.New(pcfg)
		if err != nil {
			return nil, err
		}
		gateway = pg
	default:
		return nil, fmt.Errorf("%w: unknown gateway %q", ports.ErrConfigurationError, cfg.Gateway)
	}

	var filter ports.EntryFilter
	if cfg.RSIFilterEnabled {
		klines := o.Klines
		if klines == nil {
			c, err := binance()
			if err != nil {
				return nil, err
			}
			klines = c
		}
		f, err := strategy.NewFilter(strategy.Config{
			RSIPeriod:     cfg.RSIPeriod,
			RSIOverbought: cfg.RSIOverbought,
			TrendMAPeriod: cfg.TrendMAPeriod,
			KlineInterval: cfg.KlineInterval,
		}, klines, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: entry filter: %v", ports.ErrConfigurationError, err)
		}
		filter = f
	}

	notifier := o.Notifier
	if notifier == nil {
		if tg := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID); tg.Enabled() {
			notifier = tg
		} else {
			logger.Warn(context.Background(), "Telegram credentials not set, alerts are only logged")
		}
	}
	s.dispatcher = notify.NewDispatcher(notifier, logger, notify.Config{})

	var wakers engine.WakerFactory
	if cfg.EvalMode == config.EvalEvent {
		wakers = engine.FeedWakers(prices, cfg.EvalInterval)
	}

	s.coordinator, err = engine.NewCoordinator(cfg, engine.Deps{
		Gateway:   gateway,
		Feed:      prices,
		Runner:    runner,
		Positions: repo,
		Ledger:    ledger,
		Alerter:   s.dispatcher,
		Filter:    filter,
		Sizer:     risk.NewSizer(risk.SizerConfig{QuoteAsset: cfg.QuoteAsset, MinAvailableBalance: cfg.MinAvailableBalance}, gateway, logger),
		Metrics:   s.metrics,
		Logger:    logger,
		Wakers:    wakers,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return s, nil
}

func (s *TradingService) buildRunner(prices *feed.Feed, o Overrides, binance func() (*binanceclient.Client, error)) (feed.Runner, error) {
	cfg := s.cfg
	switch cfg.PriceSource {
	case config.SourcePoll:
		poller := o.Poller
		if poller == nil {
			c, err := binance()
			if err != nil {
				return nil, err
			}
			poller = c
		}
		return feed.NewPoller(prices, poller, cfg.PollInterval, s.logger, s.metrics), nil
	case config.SourceBinance, config.SourceKraken:
		stream := o.Stream
		if stream == nil {
			if cfg.PriceSource == config.SourceKraken {
				stream = krakenws.New(krakenws.DefaultURL, s.logger)
			} else {
				c, err := binance()
				if err != nil {
					return nil, err
				}
				stream = c
			}
		}
		return feed.NewStreamer(prices, stream, cfg.PriceSource, cfg.ReconnectDelay, cfg.MaxReconnectDelay, s.logger, s.metrics), nil
	default:
		return nil, fmt.Errorf("%w: unknown price source %q", ports.ErrConfigurationError, cfg.PriceSource)
	}
}

// Coordinator exposes the engine for status reporting.
func (s *TradingService) Coordinator() *engine.Coordinator { return s.coordinator }

// Start runs the engine until a shutdown signal, ctx cancellation or the
// profit target, then releases every resource.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...", map[string]interface{}{
		"gateway": s.cfg.Gateway, "priceSource": s.cfg.PriceSource, "instruments": s.cfg.Symbols,
	})
	defer s.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal, waiting for open positions to exit", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.syncer != nil {
		if err := s.syncer.SyncTime(ctx); err != nil {
			s.logger.Error(ctx, err, "Failed to synchronize server time")
			return fmt.Errorf("failed to set server time: %w", err)
		}
		s.logger.Info(ctx, "Server time synchronized")
	}

	metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMetrics()
	if s.cfg.MetricsAddr != "" {
		go func() {
			if err := s.metrics.Serve(metricsCtx, s.cfg.MetricsAddr, s.logger); err != nil {
				s.logger.Error(ctx, err, "Metrics server stopped with error")
			}
		}()
	}

	if err := s.coordinator.Run(ctx); err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	state := s.coordinator.Snapshot()
	s.logger.Info(ctx, "Trading Service stopped", map[string]interface{}{
		"cumulativeProfit": state.CumulativeProfit,
		"halted":           state.Halted,
	})
	return nil
}

func (s *TradingService) close() {
	if s.dispatcher != nil {
		s.dispatcher.Close()
		s.dispatcher = nil
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error(context.Background(), err, "Error releasing resource")
		}
	}
	s.closers = nil
}
