package krakenws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (mockLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (mockLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (mockLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

// fakeKraken accepts one connection, records the subscription and replays
// script before running after.
func fakeKraken(t *testing.T, script []string, after func(conn *websocket.Conn)) (string, <-chan subscribeRequest) {
	t.Helper()
	subs := make(chan subscribeRequest, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subs <- req
		for _, m := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if after != nil {
			after(conn)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), subs
}

type collector struct {
	mu      sync.Mutex
	samples []domain.PriceSample
}

func (c *collector) handle(s domain.PriceSample) {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

func (c *collector) snapshot() []domain.PriceSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PriceSample(nil), c.samples...)
}

func TestPairFor(t *testing.T) {
	tests := map[string]string{
		"BTCUSDT": "BTC/USDT",
		"BTCUSD":  "BTC/USD",
		"ETHBTC":  "ETH/BTC",
		"XBT/EUR": "XBT/EUR",
		"DOGE":    "DOGE",
	}
	for in, want := range tests {
		assert.Equal(t, want, PairFor(in), in)
	}
}

func TestStream_DeliversTickerUpdates(t *testing.T) {
	url, subs := fakeKraken(t, []string{
		`{"method":"subscribe","result":{"channel":"ticker","symbol":"BTC/USDT"},"success":true}`,
		`{"channel":"heartbeat"}`,
		`{"channel":"ticker","type":"snapshot","data":[{"symbol":"BTC/USDT","bid":99.9,"ask":100.1,"last":100.0}]}`,
		`not json`,
		`{"channel":"ticker","type":"update","data":[{"symbol":"BTC/USDT","last":101.5,"timestamp":"2024-05-01T12:00:00.123456Z"},{"symbol":"SOL/USDT","last":5}]}`,
	}, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})

	var got collector
	ended, err := New(url, mockLogger{}).Subscribe(context.Background(), []string{"BTCUSDT"}, got.handle)
	require.NoError(t, err)

	req := <-subs
	assert.Equal(t, "subscribe", req.Method)
	assert.Equal(t, "ticker", req.Params.Channel)
	assert.Equal(t, []string{"BTC/USDT"}, req.Params.Symbol)

	select {
	case err := <-ended:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}

	samples := got.snapshot()
	require.Len(t, samples, 2)
	assert.Equal(t, "BTCUSDT", samples[0].Symbol)
	assert.Equal(t, 100.0, samples[0].Price)
	assert.True(t, samples[0].ExchangeTime.IsZero())
	assert.Equal(t, 101.5, samples[1].Price)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC), samples[1].ExchangeTime)
}

func TestStream_DropIsConnectionFailure(t *testing.T) {
	url, _ := fakeKraken(t, nil, nil)

	ended, err := New(url, mockLogger{}).Subscribe(context.Background(), []string{"BTCUSDT"}, func(domain.PriceSample) {})
	require.NoError(t, err)

	select {
	case err := <-ended:
		assert.True(t, errors.Is(err, ports.ErrConnectionFailed), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}
}

func TestStream_SubscriptionRefused(t *testing.T) {
	url, _ := fakeKraken(t, []string{
		`{"method":"subscribe","success":false,"error":"Currency pair not supported FOO/USDT"}`,
	}, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	ended, err := New(url, mockLogger{}).Subscribe(context.Background(), []string{"FOOUSDT"}, func(domain.PriceSample) {})
	require.NoError(t, err)

	select {
	case err := <-ended:
		assert.True(t, errors.Is(err, ports.ErrInvalidRequest), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}
}

func TestStream_CancelEndsCleanly(t *testing.T) {
	url, _ := fakeKraken(t, nil, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	ended, err := New(url, mockLogger{}).Subscribe(ctx, []string{"BTCUSDT"}, func(domain.PriceSample) {})
	require.NoError(t, err)
	cancel()

	select {
	case err := <-ended:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}
}

func TestStream_DialFailure(t *testing.T) {
	_, err := New("ws://127.0.0.1:1", mockLogger{}).Subscribe(context.Background(), []string{"BTCUSDT"}, func(domain.PriceSample) {})
	assert.True(t, errors.Is(err, ports.ErrConnectionFailed), "got %v", err)
}
