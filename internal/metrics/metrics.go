// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// Prometheus implements ports.Metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	priceUpdates    *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	orders          *prometheus.CounterVec
	positionsOpened *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	realized        *prometheus.CounterVec
	openPositions   *prometheus.GaugeVec
	cumulative      prometheus.Gauge
	halted          prometheus.Gauge
}

func New() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		priceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripwire_price_updates_total",
			Help: "Price samples accepted into the feed",
		}, []string{"symbol"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripwire_stream_reconnects_total",
			Help: "Push price source reconnect attempts",
		}, []string{"source"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripwire_orders_total",
			Help: "Orders submitted by outcome (filled|rejected|rate_limited|error)",
		}, []string{"symbol", "side", "outcome"}),
		positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripwire_positions_opened_total",
			Help: "Positions opened",
		}, []string{"symbol"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripwire_positions_closed_total",
			Help: "Positions reaching a terminal state",
		}, []string{"symbol", "state"}),
		realized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripwire_realized_pnl_abs_total",
			Help: "Absolute realized PnL split by sign (win|loss)",
		}, []string{"symbol", "result"}),
		openPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tripwire_open_positions",
			Help: "Currently open positions",
		}, []string{"symbol"}),
		cumulative: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripwire_cumulative_profit",
			Help: "Cumulative realized profit in quote currency",
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripwire_halted",
			Help: "1 once the profit target halted new entries",
		}),
	}
	m.registry.MustRegister(
		m.priceUpdates, m.reconnects, m.orders, m.positionsOpened,
		m.positionsClosed, m.realized, m.openPositions, m.cumulative, m.halted,
	)
	return m
}

func (m *Prometheus) PriceUpdate(symbol string) { m.priceUpdates.WithLabelValues(symbol).Inc() }

func (m *Prometheus) StreamReconnect(source string) { m.reconnects.WithLabelValues(source).Inc() }

func (m *Prometheus) OrderSubmitted(symbol string, side domain.OrderSide, outcome string) {
	m.orders.WithLabelValues(symbol, string(side), outcome).Inc()
}

func (m *Prometheus) PositionOpened(symbol string) {
	m.positionsOpened.WithLabelValues(symbol).Inc()
	m.openPositions.WithLabelValues(symbol).Inc()
}

func (m *Prometheus) PositionClosed(symbol string, state domain.PositionState, pnl float64) {
	m.positionsClosed.WithLabelValues(symbol, string(state)).Inc()
	m.openPositions.WithLabelValues(symbol).Dec()
	if pnl >= 0 {
		m.realized.WithLabelValues(symbol, "win").Add(pnl)
	} else {
		m.realized.WithLabelValues(symbol, "loss").Add(-pnl)
	}
}

func (m *Prometheus) CumulativeProfit(total float64) { m.cumulative.Set(total) }

func (m *Prometheus) Halted() { m.halted.Set(1) }

// Handler serves the registry in the Prometheus text format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled.
func (m *Prometheus) Serve(ctx context.Context, addr string, logger ports.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "metrics server listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

var _ ports.Metrics = (*Prometheus)(nil)
