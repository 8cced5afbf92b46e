// Package binanceclient is the Binance spot adapter: order gateway, price
// poller, aggregate-trade stream and kline source.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements ports.ExchangeGateway, ports.PricePoller,
// ports.PriceStream and ports.KlineSource on the Binance spot API.
type Client struct {
	spot    *binance.Client
	limiter *rate.Limiter
	logger  ports.Logger

	mu          sync.RWMutex
	instruments map[string]domain.Instrument
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	UseTestnet        bool
	RequestsPerSecond float64 // outbound REST budget, <= 0 means 10
	Logger            ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	ctx := context.Background()
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(ctx, "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		// The websocket endpoints are only selectable through the package switch.
		binance.UseTestnet = true
		cfg.Logger.Info(ctx, "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(ctx, "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		spot:        client,
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:      cfg.Logger,
		instruments: make(map[string]domain.Instrument),
	}, nil
}

// wait blocks until the request budget allows another call.
func (c *Client) wait(ctx context.Context, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: waiting for request budget: %w: %w", operation, ports.ErrContextCanceled, err)
	}
	return nil
}

// handleError translates Binance API errors into the ports error taxonomy.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / too many new orders
			c.logger.Warn(ctx, operation+" rate limited", fields)
			return &ports.RateLimitedError{Err: fmt.Errorf("%s: %w", operation, err)}
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Signature, API-key format, key/IP permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1013, -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1114, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Filter and parameter errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrRejected
			}
		case -2013: // Order does not exist
			mappedErr = ports.ErrNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SyncTime aligns request timestamps with the server clock.
func (c *Client) SyncTime(ctx context.Context) error {
	op := "SyncTime"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	offset, err := c.spot.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"offsetMs": offset})
	return nil
}

// LoadInstruments fetches lot and tick sizes for symbols and caches them for
// order formatting.
func (c *Client) LoadInstruments(ctx context.Context, symbols []string) (map[string]domain.Instrument, error) {
	op := "LoadInstruments"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	info, err := c.spot.NewExchangeInfoService().Symbols(symbols...).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make(map[string]domain.Instrument, len(info.Symbols))
	for _, s := range info.Symbols {
		inst := domain.Instrument{Symbol: s.Symbol, BaseAsset: s.BaseAsset, QuoteAsset: s.QuoteAsset}
		if lot := s.LotSizeFilter(); lot != nil {
			inst.MinOrderSize = parseFloat(lot.MinQuantity)
			inst.StepSize = parseFloat(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			inst.TickSize = parseFloat(pf.TickSize)
		}
		out[s.Symbol] = inst
	}

	c.mu.Lock()
	for k, v := range out {
		c.instruments[k] = v
	}
	c.mu.Unlock()

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"count": len(out)})
	return out, nil
}

// FetchBalance returns the free balance of asset.
func (c *Client) FetchBalance(ctx context.Context, asset string) (float64, error) {
	op := "FetchBalance"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, c.handleError(ctx, fmt.Errorf("parsing balance %q: %w", b.Free, err), op)
			}
			return free, nil
		}
	}
	return 0, nil
}

func (c *Client) instrument(symbol string) domain.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instruments[symbol]
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
