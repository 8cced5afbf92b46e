package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

type stubBalances struct {
	balance float64
	err     error
	asset   string
}

func (s *stubBalances) FetchBalance(_ context.Context, asset string) (float64, error) {
	s.asset = asset
	return s.balance, s.err
}

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		qty, step, want float64
	}{
		{0.12345, 0.001, 0.123},
		{1.9, 1, 1},
		{0.3, 0.1, 0.3},
		{5, 0, 5},
		{0.0009, 0.001, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundToStep(tt.qty, tt.step), "qty=%v step=%v", tt.qty, tt.step)
	}
}

func TestFormatStep(t *testing.T) {
	assert.Equal(t, "0.123", FormatStep(0.12345, 0.001))
	assert.Equal(t, "2", FormatStep(2.7, 1))
	assert.Equal(t, "0.5", FormatStep(0.5, 0))
}

func TestSizer_Size(t *testing.T) {
	inst := domain.Instrument{Symbol: "BTCUSDT", MinOrderSize: 0.001, StepSize: 0.001}

	tests := []struct {
		name     string
		balances *stubBalances
		qty      float64
		price    float64
		want     float64
		wantErr  error
	}{
		{"rounds down", &stubBalances{balance: 1000}, 0.0057, 100, 0.005, nil},
		{"below minimum", &stubBalances{balance: 1000}, 0.0004, 100, 0, ports.ErrBelowMinimumSize},
		{"insufficient balance", &stubBalances{balance: 50}, 1, 100, 0, ports.ErrInsufficientFunds},
		{"keeps reserve", &stubBalances{balance: 110}, 1, 100, 0, ports.ErrInsufficientFunds},
		{"balance error", &stubBalances{err: ports.ErrConnectionFailed}, 1, 100, 0, ports.ErrConnectionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSizer(SizerConfig{QuoteAsset: "USDT", MinAvailableBalance: 20}, tt.balances, nopLogger{})
			got, err := s.Size(context.Background(), inst, tt.qty, tt.price)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.Equal(t, "USDT", tt.balances.asset)
		})
	}
}

func TestSizer_NoBalanceSource(t *testing.T) {
	s := NewSizer(SizerConfig{}, nil, nopLogger{})
	got, err := s.Size(context.Background(), domain.Instrument{Symbol: "X", StepSize: 0.1}, 1.25, 10)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, got, 1e-12)
}
