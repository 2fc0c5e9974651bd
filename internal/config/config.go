// Package config carries the service configuration: compiled-in defaults,
// optionally overlaid with a YAML file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/scoring"
)

// MomentumPeriods are the short/long return periods for one trading style.
type MomentumPeriods struct {
	Short int `yaml:"short"`
	Long  int `yaml:"long"`
}

// ScanConfig bounds the synchronous scan pipeline.
type ScanConfig struct {
	// MaxSymbols caps the symbol universe per exchange. The historical
	// production value is 460.
	MaxSymbols   int     `yaml:"max_symbols"`
	TopN         int     `yaml:"top_n"`
	MinVolumeUSD float64 `yaml:"min_volume_usd"`
	ProfileBins  int     `yaml:"volume_profile_bins"`
	SaveResults  bool    `yaml:"save_results"`
	ResultsDir   string  `yaml:"results_dir"`
}

// GateConfig mirrors exchange.GateConfig in YAML-friendly units.
type GateConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent_requests"`
	RateLimitDelay   time.Duration `yaml:"rate_limit_delay"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	BreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	BreakerPause     time.Duration `yaml:"circuit_breaker_pause"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
}

// CacheConfig selects and sizes the OHLCV cache tier.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	// RedisAddr switches the cache to Redis when set, e.g. "localhost:6379".
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// StreamConfig paces the continuous scanner loops and sizes its buffers.
type StreamConfig struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	SignalInterval      time.Duration `yaml:"signal_interval"`
	MarketStateInterval time.Duration `yaml:"market_state_interval"`
	FullScanInterval    time.Duration `yaml:"full_scan_interval"`

	TickBufferSize   int `yaml:"tick_buffer_size"`
	CandleBufferSize int `yaml:"candle_buffer_size"`
	SignalBufferSize int `yaml:"signal_buffer_size"`

	// Timeframes watched per symbol by the signal loop, keyed by horizon.
	Timeframes map[string]domain.Timeframe `yaml:"timeframes"`

	MomentumBias        float64 `yaml:"momentum_bias"`
	ConfluenceThreshold float64 `yaml:"confluence_threshold"`
}

// StoreConfig locates the training-data tree and the optional archives.
type StoreConfig struct {
	Dir string `yaml:"dir"`
	// PostgresDSN enables the relational signal archive when set.
	PostgresDSN string `yaml:"postgres_dsn"`
	// ParquetMaxRows bounds each OHLCV file, newest rows kept.
	ParquetMaxRows int `yaml:"parquet_max_rows"`
}

// APIConfig shapes the HTTP surface.
type APIConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigin     string        `yaml:"cors_origin"`
}

// Config is the root configuration.
type Config struct {
	Exchanges     []string      `yaml:"exchanges"`
	MarketType    string        `yaml:"market_type"`
	QuoteCurrency string        `yaml:"quote_currency"`

	Scan   ScanConfig   `yaml:"scan"`
	Gate   GateConfig   `yaml:"gate"`
	Cache  CacheConfig  `yaml:"cache"`
	Stream StreamConfig `yaml:"stream"`
	Store  StoreConfig  `yaml:"store"`
	API    APIConfig    `yaml:"api"`

	// MomentumPeriods and SignalThresholds are keyed market type, then style.
	MomentumPeriods  map[string]map[string]MomentumPeriods    `yaml:"momentum_periods"`
	SignalThresholds map[string]map[string]scoring.Thresholds `yaml:"signal_thresholds"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the compiled-in configuration. Request concurrency is
// derived from the CPU count, bounded to [20, 100].
func Default() *Config {
	maxConcurrent := runtime.NumCPU() * 5
	if maxConcurrent < 20 {
		maxConcurrent = 20
	}
	if maxConcurrent > 100 {
		maxConcurrent = 100
	}

	return &Config{
		Exchanges:     []string{"kraken"},
		MarketType:    string(domain.MarketCrypto),
		QuoteCurrency: "",
		Scan: ScanConfig{
			MaxSymbols:   460,
			TopN:         50,
			MinVolumeUSD: 100_000,
			ProfileBins:  50,
			SaveResults:  false,
			ResultsDir:   ".",
		},
		Gate: GateConfig{
			MaxConcurrent:    maxConcurrent,
			RateLimitDelay:   10 * time.Millisecond,
			RetryAttempts:    3,
			RetryDelay:       2 * time.Second,
			BreakerThreshold: 10,
			BreakerPause:     60 * time.Second,
			FetchTimeout:     15 * time.Second,
		},
		Cache: CacheConfig{
			TTL:        300 * time.Second,
			MaxEntries: 4096,
		},
		Stream: StreamConfig{
			TickInterval:        5 * time.Second,
			SignalInterval:      30 * time.Second,
			MarketStateInterval: 60 * time.Second,
			FullScanInterval:    90 * time.Second,
			TickBufferSize:      100,
			CandleBufferSize:    500,
			SignalBufferSize:    1000,
			Timeframes: map[string]domain.Timeframe{
				"scalp":     domain.TF5m,
				"day_trade": domain.TF4h,
				"swing":     domain.TF1h,
				"position":  domain.TF1d,
			},
			MomentumBias:        0.6,
			ConfluenceThreshold: 60,
		},
		Store: StoreConfig{
			Dir:            "training_data",
			ParquetMaxRows: 500,
		},
		API: APIConfig{
			Addr:           ":8080",
			RequestTimeout: 120 * time.Second,
			CORSOrigin:     "*",
		},
		MomentumPeriods: map[string]map[string]MomentumPeriods{
			"crypto": {
				"scalping": {Short: 10, Long: 60},
				"short":    {Short: 5, Long: 20},
				"medium":   {Short: 4, Long: 12},
				"daily":    {Short: 7, Long: 30},
				"weekly":   {Short: 4, Long: 12},
			},
			"forex": {
				"scalping": {Short: 20, Long: 120},
				"short":    {Short: 10, Long: 50},
				"medium":   {Short: 6, Long: 24},
				"daily":    {Short: 5, Long: 20},
				"weekly":   {Short: 3, Long: 10},
			},
		},
		SignalThresholds: map[string]map[string]scoring.Thresholds{
			"crypto": {
				"scalping": {MomentumShort: 0.01, RSIMin: 55, RSIMax: 70, MACDMin: 0},
				"short":    {MomentumShort: 0.03, RSIMin: 52, RSIMax: 68, MACDMin: 0},
				"medium":   {MomentumShort: 0.05, RSIMin: 50, RSIMax: 65, MACDMin: 0},
				"daily":    {MomentumShort: 0.06, RSIMin: 50, RSIMax: 65, MACDMin: 0},
				"weekly":   {MomentumShort: 0.15, RSIMin: 45, RSIMax: 70, MACDMin: 0},
			},
			"forex": {
				"scalping": {MomentumShort: 0.002, RSIMin: 50, RSIMax: 70, MACDMin: 0},
				"short":    {MomentumShort: 0.005, RSIMin: 48, RSIMax: 68, MACDMin: 0},
				"medium":   {MomentumShort: 0.008, RSIMin: 47, RSIMax: 67, MACDMin: 0},
				"daily":    {MomentumShort: 0.01, RSIMin: 45, RSIMax: 65, MACDMin: 0},
				"weekly":   {MomentumShort: 0.03, RSIMin: 40, RSIMax: 70, MACDMin: 0},
			},
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the scanner cannot run with.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("config: at least one exchange required")
	}
	if c.Scan.MaxSymbols <= 0 {
		return fmt.Errorf("config: scan.max_symbols must be positive")
	}
	if c.Scan.TopN <= 0 {
		return fmt.Errorf("config: scan.top_n must be positive")
	}
	if c.Gate.MaxConcurrent <= 0 {
		return fmt.Errorf("config: gate.max_concurrent_requests must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive")
	}
	return nil
}

// PeriodsFor resolves the momentum periods for a market and style, falling
// back to the market's daily entry.
func (c *Config) PeriodsFor(market string, style domain.Style) MomentumPeriods {
	m, ok := c.MomentumPeriods[market]
	if !ok {
		m = c.MomentumPeriods["crypto"]
	}
	if p, ok := m[string(style)]; ok {
		return p
	}
	return m["daily"]
}

// ThresholdsFor resolves the signal thresholds for a market and style,
// falling back to the market's daily entry.
func (c *Config) ThresholdsFor(market string, style domain.Style) scoring.Thresholds {
	m, ok := c.SignalThresholds[market]
	if !ok {
		m = c.SignalThresholds["crypto"]
	}
	if th, ok := m[string(style)]; ok {
		return th
	}
	return m["daily"]
}
