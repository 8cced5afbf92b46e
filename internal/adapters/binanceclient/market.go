package binanceclient

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// LastPrice returns the latest trade price of symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	op := "LastPrice"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			price, err := strconv.ParseFloat(p.Price, 64)
			if err != nil {
				return 0, c.handleError(ctx, fmt.Errorf("parsing price %q: %w", p.Price, err), op)
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("%s: %w: no price for %s", op, ports.ErrNotFound, symbol)
}

// GetKlines fetches the most recent candles for symbol.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	bKlines, err := c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines := make([]*domain.Kline, 0, len(bKlines))
	for _, bk := range bKlines {
		k, err := translateKline(bk, symbol, interval)
		if err != nil {
			c.logger.Warn(ctx, op+": skipping malformed kline", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// Subscribe opens one combined aggregate-trade stream for all symbols.
func (c *Client) Subscribe(ctx context.Context, symbols []string, handler ports.PriceHandler) (<-chan error, error) {
	op := "Subscribe"

	var mu sync.Mutex
	var lastErr error
	wsHandler := func(event *binance.WsAggTradeEvent) {
		price, err := strconv.ParseFloat(event.Price, 64)
		if err != nil {
			c.logger.Warn(ctx, op+": malformed trade price", map[string]interface{}{"symbol": event.Symbol, "price": event.Price})
			return
		}
		handler(domain.PriceSample{Symbol: event.Symbol, Price: price, ExchangeTime: msToTime(event.TradeTime)})
	}
	errHandler := func(err error) {
		mu.Lock()
		lastErr = c.handleError(ctx, err, op+" websocket")
		mu.Unlock()
	}

	doneC, stopC, err := binance.WsCombinedAggTradeServe(symbols, wsHandler, errHandler)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	ended := make(chan error, 1)
	go func() {
		select {
		case <-doneC:
			mu.Lock()
			ended <- lastErr
			mu.Unlock()
		case <-ctx.Done():
			close(stopC)
			select {
			case <-doneC:
			case <-time.After(5 * time.Second):
			}
			ended <- nil
		}
	}()
	return ended, nil
}

func translateKline(bk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid open %q: %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid high %q: %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid low %q: %w", bk.Low, err)
	}
	closePrice, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid close %q: %w", bk.Close, err)
	}
	volume, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid volume %q: %w", bk.Volume, err)
	}
	return &domain.Kline{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  msToTime(bk.OpenTime),
		CloseTime: msToTime(bk.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		IsFinal:   true,
	}, nil
}
