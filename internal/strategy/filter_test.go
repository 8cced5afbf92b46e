package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripwireBot/internal/domain"
)

type mockLogger struct{}

func (mockLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (mockLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (mockLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (mockLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

type mockKlines struct {
	closes []float64
	err    error

	gotInterval string
	gotLimit    int
}

func (m *mockKlines) GetKlines(_ context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	m.gotInterval, m.gotLimit = interval, limit
	if m.err != nil {
		return nil, m.err
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, len(m.closes))
	for i, c := range m.closes {
		out[i] = &domain.Kline{Symbol: symbol, OpenTime: start.Add(time.Duration(i) * time.Minute), Close: c}
	}
	return out, nil
}

func TestNewFilter(t *testing.T) {
	src := &mockKlines{}
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"rsi only", Config{RSIPeriod: 14, RSIOverbought: 70}, false},
		{"rsi and trend", Config{RSIPeriod: 14, RSIOverbought: 70, TrendMAPeriod: 50}, false},
		{"zero rsi period", Config{RSIPeriod: 0, RSIOverbought: 70}, true},
		{"negative trend", Config{RSIPeriod: 14, TrendMAPeriod: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFilter(tt.cfg, src, mockLogger{})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewFilter(Config{RSIPeriod: 14}, nil, mockLogger{})
	assert.Error(t, err)
	_, err = NewFilter(Config{RSIPeriod: 14}, src, nil)
	assert.Error(t, err)
}

func TestFilter_Allow(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		closes []float64
		price  float64
		want   bool
	}{
		{"mixed market allowed", Config{RSIPeriod: 3, RSIOverbought: 80}, []float64{100, 102, 101, 103, 102, 104}, 103, true},
		{"overbought denied", Config{RSIPeriod: 3, RSIOverbought: 70}, []float64{100, 102, 101, 103, 102, 104}, 103, false},
		{"rally denied", Config{RSIPeriod: 3, RSIOverbought: 70}, []float64{100, 102, 104, 106}, 105, false},
		{"selloff allowed", Config{RSIPeriod: 3, RSIOverbought: 70}, []float64{106, 104, 102, 100}, 99, true},
		{"short history denied", Config{RSIPeriod: 3, RSIOverbought: 70}, []float64{100, 99}, 99, false},
		{"below trend denied", Config{RSIPeriod: 3, RSIOverbought: 70, TrendMAPeriod: 4}, []float64{106, 104, 102, 100}, 99, false},
		{"above trend allowed", Config{RSIPeriod: 3, RSIOverbought: 80, TrendMAPeriod: 4}, []float64{100, 102, 101, 103, 102, 104}, 104, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.cfg, &mockKlines{closes: tt.closes}, mockLogger{})
			require.NoError(t, err)
			got, err := f.Allow(context.Background(), "BTCUSDT", tt.price)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_RequestsEnoughCandles(t *testing.T) {
	src := &mockKlines{closes: []float64{1, 2, 3}}
	f, err := NewFilter(Config{RSIPeriod: 14, RSIOverbought: 70, TrendMAPeriod: 50, KlineInterval: "5m"}, src, mockLogger{})
	require.NoError(t, err)

	_, err = f.Allow(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)
	assert.Equal(t, 50, src.gotLimit)
	assert.Equal(t, "5m", src.gotInterval)
}

func TestFilter_SourceError(t *testing.T) {
	boom := errors.New("klines unavailable")
	f, err := NewFilter(Config{RSIPeriod: 3, RSIOverbought: 70}, &mockKlines{err: boom}, mockLogger{})
	require.NoError(t, err)

	allowed, err := f.Allow(context.Background(), "BTCUSDT", 100)
	assert.False(t, allowed)
	assert.ErrorIs(t, err, boom)
}
