package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tripwireBot/internal/adapters/logger"
	"tripwireBot/internal/ports"
)

// Gateway names.
const (
	GatewayBinance = "binance"
	GatewayPaper   = "paper"
)

// Price source names.
const (
	SourcePoll    = "poll"
	SourceBinance = "binance"
	SourceKraken  = "kraken"
)

// Evaluation wake modes.
const (
	EvalInterval = "interval"
	EvalEvent    = "event"
)

// InstrumentConfig holds per-pair overrides. Zero values fall back to the
// global settings.
type InstrumentConfig struct {
	Symbol        string  `yaml:"symbol"`
	Quantity      float64 `yaml:"quantity"`
	EntryDiscount float64 `yaml:"entry_discount"`
	HedgeSymbol   string  `yaml:"hedge_symbol"`
	HedgeRatio    float64 `yaml:"hedge_ratio"`
}

type instrumentsFile struct {
	Instruments []InstrumentConfig `yaml:"instruments"`
}

// Config holds all application configuration. It is built once at startup and
// never mutated afterwards.
type Config struct {
	// Exchange
	Gateway    string // binance | paper
	APIKey     string
	SecretKey  string
	IsTestnet  bool
	QuoteAsset string // balance asset checked before entries, e.g. "USDT"

	// Instruments
	Symbols     []string
	Instruments map[string]InstrumentConfig

	// Trading Parameters
	Quantity      float64       // Default base quantity per entry
	TakeProfit    float64       // e.g. 0.05 for 5%
	StopLoss      float64       // e.g. 0.03 for 3%
	TrailingStop  float64       // e.g. 0.02 for 2%
	EntryDiscount float64       // required dip below the reference price, e.g. 0.005
	Cooldown      time.Duration // wait after a close before re-entering
	ProfitTarget  float64       // cumulative realized profit that halts entries
	HedgeRatio    float64       // default hedge size as a fraction of the position

	// Engine
	StaleAfter        time.Duration
	MaxStaleTicks     int
	MaxExitRejections int
	EvalInterval      time.Duration
	EvalMode          string
	PriceSource       string
	PollInterval      time.Duration
	GatewayTimeout    time.Duration
	RateLimitRetry    time.Duration // used when the exchange does not advertise a delay
	RequestsPerSecond float64

	// Entry filter
	RSIFilterEnabled bool
	RSIPeriod        int
	RSIOverbought    float64
	TrendMAPeriod    int // 0 disables the moving-average gate
	KlineInterval    string

	// Persistence
	DBPath        string
	LedgerCSVPath string

	// Logging
	LogLevel   logger.LogLevel
	LogConsole bool

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// Metrics
	MetricsAddr string

	// Connection Settings
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// Other
	MinAvailableBalance float64
	PaperQuoteBalance   float64
}

// Instrument returns the effective settings for symbol.
func (c *Config) Instrument(symbol string) InstrumentConfig {
	ic := c.Instruments[symbol]
	ic.Symbol = symbol
	if ic.Quantity <= 0 {
		ic.Quantity = c.Quantity
	}
	if ic.EntryDiscount <= 0 {
		ic.EntryDiscount = c.EntryDiscount
	}
	if ic.HedgeRatio <= 0 {
		ic.HedgeRatio = c.HedgeRatio
	}
	return ic
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{Instruments: map[string]InstrumentConfig{}}
	var err error
	var errs []string // Collect validation errors

	// Exchange
	cfg.Gateway = strings.ToLower(getEnv("GATEWAY", GatewayPaper))
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")

	switch cfg.Gateway {
	case GatewayBinance:
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set for the binance gateway")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set for the binance gateway")
		}
	case GatewayPaper:
	default:
		errs = append(errs, fmt.Sprintf("unknown GATEWAY %q (want binance or paper)", cfg.Gateway))
	}

	// Instruments
	cfg.Symbols = splitList(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one instrument")
	}
	if path := getEnv("INSTRUMENTS_FILE", ""); path != "" {
		overrides, err := LoadInstrumentOverrides(path)
		if err != nil {
			errs = append(errs, err.Error())
		}
		for _, ic := range overrides {
			cfg.Instruments[ic.Symbol] = ic
		}
	}

	// Trading Parameters
	cfg.Quantity, err = getEnvAsFloatRequired("QUANTITY", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUANTITY: %v", err))
	} else if cfg.Quantity <= 0 {
		errs = append(errs, "QUANTITY must be positive")
	}

	cfg.TakeProfit, errs = pct("TAKE_PROFIT", 0.05, errs)
	cfg.StopLoss, errs = pct("STOP_LOSS", 0.03, errs)
	cfg.TrailingStop, errs = pct("TRAILING_STOP", 0.02, errs)

	cfg.EntryDiscount, err = getEnvAsFloatRequired("ENTRY_DISCOUNT", 0.005)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ENTRY_DISCOUNT: %v", err))
	} else if cfg.EntryDiscount < 0 || cfg.EntryDiscount >= 1.0 {
		errs = append(errs, "ENTRY_DISCOUNT must be in [0.0, 1.0)")
	}

	cooldownSeconds, err := getEnvAsIntRequired("COOLDOWN_SECONDS", 300)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid COOLDOWN_SECONDS: %v", err))
	} else if cooldownSeconds < 0 {
		errs = append(errs, "COOLDOWN_SECONDS cannot be negative")
	}
	cfg.Cooldown = time.Duration(cooldownSeconds) * time.Second

	cfg.ProfitTarget, err = getEnvAsFloatRequired("PROFIT_TARGET", 100.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PROFIT_TARGET: %v", err))
	} else if cfg.ProfitTarget <= 0 {
		errs = append(errs, "PROFIT_TARGET must be positive")
	}

	cfg.HedgeRatio = getEnvAsFloat("HEDGE_RATIO", 0.5)
	if cfg.HedgeRatio < 0 {
		errs = append(errs, "HEDGE_RATIO cannot be negative")
	}

	// Engine
	cfg.StaleAfter = time.Duration(getEnvAsInt("STALE_AFTER_SECONDS", 10)) * time.Second
	if cfg.StaleAfter <= 0 {
		errs = append(errs, "STALE_AFTER_SECONDS must be positive")
	}
	cfg.MaxStaleTicks = getEnvAsInt("MAX_STALE_TICKS", 30)
	if cfg.MaxStaleTicks <= 0 {
		errs = append(errs, "MAX_STALE_TICKS must be positive")
	}
	cfg.MaxExitRejections = getEnvAsInt("MAX_EXIT_REJECTIONS", 10)
	if cfg.MaxExitRejections <= 0 {
		errs = append(errs, "MAX_EXIT_REJECTIONS must be positive")
	}
	cfg.EvalInterval = time.Duration(getEnvAsInt("EVAL_INTERVAL_MS", 1000)) * time.Millisecond
	if cfg.EvalInterval <= 0 {
		errs = append(errs, "EVAL_INTERVAL_MS must be positive")
	}
	cfg.EvalMode = strings.ToLower(getEnv("EVAL_MODE", EvalInterval))
	if cfg.EvalMode != EvalInterval && cfg.EvalMode != EvalEvent {
		errs = append(errs, fmt.Sprintf("unknown EVAL_MODE %q (want interval or event)", cfg.EvalMode))
	}
	cfg.PriceSource = strings.ToLower(getEnv("PRICE_SOURCE", SourcePoll))
	switch cfg.PriceSource {
	case SourcePoll, SourceBinance, SourceKraken:
	default:
		errs = append(errs, fmt.Sprintf("unknown PRICE_SOURCE %q (want poll, binance or kraken)", cfg.PriceSource))
	}
	cfg.PollInterval = time.Duration(getEnvAsInt("POLL_INTERVAL_MS", 2000)) * time.Millisecond
	if cfg.PollInterval <= 0 {
		errs = append(errs, "POLL_INTERVAL_MS must be positive")
	}
	cfg.GatewayTimeout = time.Duration(getEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second
	if cfg.GatewayTimeout <= 0 {
		errs = append(errs, "GATEWAY_TIMEOUT_SECONDS must be positive")
	}
	cfg.RateLimitRetry = time.Duration(getEnvAsInt("RATE_LIMIT_RETRY_SECONDS", 30)) * time.Second
	if cfg.RateLimitRetry <= 0 {
		errs = append(errs, "RATE_LIMIT_RETRY_SECONDS must be positive")
	}
	cfg.RequestsPerSecond = getEnvAsFloat("REQUESTS_PER_SECOND", 10)
	if cfg.RequestsPerSecond <= 0 {
		errs = append(errs, "REQUESTS_PER_SECOND must be positive")
	}

	// Entry filter
	cfg.RSIFilterEnabled = getEnvAsBool("RSI_FILTER_ENABLED", false)
	cfg.RSIPeriod = getEnvAsInt("RSI_PERIOD", 14)
	cfg.RSIOverbought = getEnvAsFloat("RSI_OVERBOUGHT", 70.0)
	cfg.TrendMAPeriod = getEnvAsInt("TREND_MA_PERIOD", 0)
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1m")
	if cfg.TrendMAPeriod < 0 {
		errs = append(errs, "TREND_MA_PERIOD must not be negative")
	}
	if cfg.RSIFilterEnabled {
		if cfg.RSIPeriod <= 0 {
			errs = append(errs, "RSI_PERIOD must be positive")
		}
		if cfg.RSIOverbought <= 0 || cfg.RSIOverbought > 100 {
			errs = append(errs, "RSI_OVERBOUGHT must be in (0, 100]")
		}
	}

	// Persistence
	cfg.DBPath = getEnv("DB_PATH", "./data/tripwire.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.LedgerCSVPath = getEnv("LEDGER_CSV_PATH", "")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogConsole = strings.EqualFold(getEnv("LOG_FORMAT", "json"), "console")

	// Notifications
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second
	maxReconnectDelaySeconds := getEnvAsInt("MAX_RECONNECT_DELAY_SECONDS", 60)
	if maxReconnectDelaySeconds < reconnectDelaySeconds {
		errs = append(errs, "MAX_RECONNECT_DELAY_SECONDS must be >= RECONNECT_DELAY_SECONDS")
	}
	cfg.MaxReconnectDelay = time.Duration(maxReconnectDelaySeconds) * time.Second

	// Other
	cfg.MinAvailableBalance, err = getEnvAsFloatRequired("MIN_AVAILABLE_BALANCE", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_AVAILABLE_BALANCE: %v", err))
	} else if cfg.MinAvailableBalance < 0 {
		errs = append(errs, "MIN_AVAILABLE_BALANCE cannot be negative")
	}
	cfg.PaperQuoteBalance = getEnvAsFloat("PAPER_QUOTE_BALANCE", 10000)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}

	return cfg, nil
}

// LoadInstrumentOverrides reads per-instrument settings from a YAML file:
//
//	instruments:
//	  - symbol: BTCUSDT
//	    quantity: 0.002
//	    hedge_symbol: BTCDOWNUSDT
func LoadInstrumentOverrides(path string) ([]InstrumentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instruments file %s: %w", path, err)
	}
	var f instrumentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing instruments file %s: %w", path, err)
	}
	for i, ic := range f.Instruments {
		if strings.TrimSpace(ic.Symbol) == "" {
			return nil, fmt.Errorf("instruments file %s: entry %d has no symbol", path, i)
		}
		if ic.Quantity < 0 || ic.EntryDiscount < 0 || ic.HedgeRatio < 0 {
			return nil, fmt.Errorf("instruments file %s: %s has negative values", path, ic.Symbol)
		}
	}
	return f.Instruments, nil
}

// --- Env Var Helpers ---

func pct(key string, def float64, errs []string) (float64, []string) {
	v, err := getEnvAsFloatRequired(key, def)
	if err != nil {
		return 0, append(errs, fmt.Sprintf("invalid %s: %v", key, err))
	}
	if v <= 0 || v >= 1.0 {
		return 0, append(errs, fmt.Sprintf("%s must be between 0.0 and 1.0 (exclusive)", key))
	}
	return v, errs
}

func splitList(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
