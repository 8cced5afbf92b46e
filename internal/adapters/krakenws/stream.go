// Package krakenws is a push price source on the Kraken v2 public ticker
// channel.
package krakenws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

// DefaultURL is the public Kraken v2 endpoint.
const DefaultURL = "wss://ws.kraken.com/v2"

// Quote assets recognised when turning "BTCUSDT" into "BTC/USDT".
var knownQuotes = []string{"USDT", "USDC", "USD", "EUR", "GBP", "BTC", "ETH"}

// Stream implements ports.PriceStream.
type Stream struct {
	url          string
	dialer       *websocket.Dialer
	logger       ports.Logger
	pingInterval time.Duration
	readTimeout  time.Duration
}

func New(url string, logger ports.Logger) *Stream {
	if url == "" {
		url = DefaultURL
	}
	return &Stream{
		url:          url,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:       logger,
		pingInterval: 20 * time.Second,
		readTimeout:  60 * time.Second,
	}
}

type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
}

// envelope covers acks, heartbeats and channel data.
type envelope struct {
	Method  string          `json:"method"`
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

type tickerData struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Timestamp string  `json:"timestamp"`
}

// Subscribe dials, subscribes every symbol to the ticker channel and pumps
// updates into handler until the connection drops or ctx ends.
func (s *Stream) Subscribe(ctx context.Context, symbols []string, handler ports.PriceHandler) (<-chan error, error) {
	op := "Subscribe"

	pairs := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		pair := PairFor(sym)
		pairs = append(pairs, pair)
		bySymbol[pair] = sym
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("kraken %s: %w: %w", op, ports.ErrContextCanceled, err)
		}
		return nil, fmt.Errorf("kraken %s: dial %s: %w: %w", op, s.url, ports.ErrConnectionFailed, err)
	}

	req := subscribeRequest{Method: "subscribe", Params: subscribeParams{Channel: "ticker", Symbol: pairs}}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("kraken %s: sending subscription: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	s.logger.Info(ctx, "kraken "+op+": subscribed", map[string]interface{}{"pairs": pairs})

	ended := make(chan error, 1)
	stop := make(chan struct{})
	var once sync.Once
	closeConn := func() { once.Do(func() { close(stop); conn.Close() }) }

	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			closeConn()
		case <-stop:
		}
	}()

	go s.ping(conn, stop)

	go func() {
		err := s.read(ctx, conn, bySymbol, handler)
		closeConn()
		if ctx.Err() != nil {
			err = nil
		}
		ended <- err
	}()
	return ended, nil
}

func (s *Stream) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn, bySymbol map[string]string, handler ports.PriceHandler) error {
	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("kraken read: %w: %w", ports.ErrConnectionFailed, err)
		}
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Warn(ctx, "kraken: undecodable message", map[string]interface{}{"error": err.Error()})
			continue
		}

		switch {
		case env.Method == "subscribe":
			if env.Success != nil && !*env.Success {
				return fmt.Errorf("kraken subscribe refused: %w: %s", ports.ErrInvalidRequest, env.Error)
			}
		case env.Channel == "ticker":
			s.dispatch(ctx, env.Data, bySymbol, handler)
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, raw json.RawMessage, bySymbol map[string]string, handler ports.PriceHandler) {
	var ticks []tickerData
	if err := json.Unmarshal(raw, &ticks); err != nil {
		s.logger.Warn(ctx, "kraken: malformed ticker payload", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, t := range ticks {
		sym, ok := bySymbol[t.Symbol]
		if !ok || t.Last <= 0 {
			continue
		}
		sample := domain.PriceSample{Symbol: sym, Price: t.Last}
		if t.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, t.Timestamp); err == nil {
				sample.ExchangeTime = ts
			}
		}
		handler(sample)
	}
}

// PairFor maps an exchange-agnostic symbol such as "BTCUSDT" to Kraken's
// "BTC/USDT". Symbols that already contain a slash are returned unchanged.
func PairFor(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q) + "/" + q
		}
	}
	return symbol
}
