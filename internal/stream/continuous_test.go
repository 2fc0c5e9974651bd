package stream

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/momentumscan/internal/config"
	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/exchange"
	"github.com/sawpanic/momentumscan/internal/scan"
)

type memSink struct {
	mu       sync.Mutex
	signals  []Signal
	ohlcv    int
	clusters []ClusterRecord
}

func (m *memSink) AppendSignal(_ context.Context, _ string, sig Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
	return nil
}

func (m *memSink) WriteOHLCV(_ context.Context, _ string, _ domain.Timeframe, _ domain.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ohlcv++
	return nil
}

func (m *memSink) AppendCluster(_ context.Context, rec ClusterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters = append(m.clusters, rec)
	return nil
}

func (m *memSink) counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.signals), m.ohlcv, len(m.clusters)
}

type streamAdapter struct {
	id     string
	series domain.Series
}

func (a *streamAdapter) ID() string { return a.id }

func (a *streamAdapter) FetchMarkets(context.Context, domain.MarketType, string) ([]domain.Symbol, error) {
	return []domain.Symbol{{Exchange: a.id, Pair: "BTC/USDT", Quote: "USDT"}}, nil
}

func (a *streamAdapter) FetchOHLCV(_ context.Context, _ domain.Symbol, _ domain.Timeframe, limit int) (domain.Series, error) {
	return a.series.Tail(limit), nil
}

func (a *streamAdapter) FetchTicker(context.Context, domain.Symbol) (domain.Ticker, error) {
	return domain.Ticker{Last: a.series.Last().Close, QuoteVolume: 1e6}, nil
}

func (a *streamAdapter) Close() error { return nil }

func streamSeries(n int) domain.Series {
	rng := rand.New(rand.NewSource(11))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make(domain.Series, n)
	price := 100.0
	for i := range out {
		next := price * (1 + (rng.Float64()-0.48)*0.01)
		hi := math.Max(price, next) * 1.001
		lo := math.Min(price, next) * 0.999
		out[i] = domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price, High: hi, Low: lo, Close: next,
			Volume: 1000 + rng.Float64()*500,
		}
		price = next
	}
	return out
}

func testContinuous(t *testing.T, sink Sink) *Continuous {
	t.Helper()
	cfg := config.Default()
	cfg.Gate.RateLimitDelay = time.Microsecond
	cfg.Scan.MinVolumeUSD = 0
	cfg.Stream.TickInterval = 20 * time.Millisecond
	cfg.Stream.SignalInterval = 30 * time.Millisecond
	cfg.Stream.MarketStateInterval = 30 * time.Millisecond
	cfg.Stream.FullScanInterval = 50 * time.Millisecond

	adapter := &streamAdapter{id: "mockex", series: streamSeries(300)}
	gate := exchange.NewGate("mockex", exchange.GateConfig{
		RateLimitDelay: time.Microsecond,
		FetchTimeout:   5 * time.Second,
	}, zerolog.Nop())
	client := exchange.NewClient(adapter, gate, exchange.NewMemoryCache(cfg.Cache.TTL, 0))
	scanner := scan.New(cfg, map[string]*exchange.Client{"mockex": client}, zerolog.Nop())

	return NewContinuous(cfg.Stream, scanner, sink, zerolog.Nop())
}

func seeded(symbol, style string, tf domain.Timeframe, signalType string, score float64) Signal {
	return Signal{
		Symbol:     symbol,
		Exchange:   "mockex",
		Style:      style,
		Timeframe:  tf,
		Timestamp:  time.Now().UTC(),
		Price:      100,
		Combined:   score,
		SignalType: signalType,
	}
}

func TestConfluenceModerate(t *testing.T) {
	c := testContinuous(t, nil)
	key := "mockex:BTC/USDT"
	c.SeedSignal(key, seeded("BTC/USDT", "scalp", domain.TF5m, "STRONG_BUY", 70))
	c.SeedSignal(key, seeded("BTC/USDT", "swing", domain.TF1h, "STRONG_BUY", 72))
	c.SeedSignal(key, seeded("BTC/USDT", "day_trade", domain.TF4h, "NEUTRAL", 40))
	c.SeedSignal(key, seeded("BTC/USDT", "position", domain.TF1d, "WEAK_BUY", 68))

	res := c.Confluence("BTC/USDT", 60)

	assert.True(t, res.Confluence)
	assert.Equal(t, 4, res.TimeframesAnalyzed)
	assert.Equal(t, 3, res.BullishTimeframes)
	assert.Equal(t, 0, res.BearishTimeframes)
	assert.InDelta(t, 62.5, res.AverageScore, 1e-9)
	assert.Equal(t, "bullish", res.DominantBias)
	assert.Equal(t, "MODERATE", res.Recommendation, "mean 62.5 is under the 75 STRONG bar")
}

func TestConfluenceStrong(t *testing.T) {
	c := testContinuous(t, nil)
	key := "mockex:BTC/USDT"
	c.SeedSignal(key, seeded("BTC/USDT", "scalp", domain.TF5m, "MOMENTUM_BUY", 85))
	c.SeedSignal(key, seeded("BTC/USDT", "swing", domain.TF1h, "STRONG_BUY", 80))
	c.SeedSignal(key, seeded("BTC/USDT", "position", domain.TF1d, "STRONG_BUY", 78))

	res := c.Confluence("BTC/USDT", 60)
	assert.True(t, res.Confluence)
	assert.Equal(t, "STRONG", res.Recommendation)
}

func TestConfluenceWeakWhenLowScores(t *testing.T) {
	c := testContinuous(t, nil)
	key := "mockex:BTC/USDT"
	c.SeedSignal(key, seeded("BTC/USDT", "scalp", domain.TF5m, "WEAK_BUY", 45))
	c.SeedSignal(key, seeded("BTC/USDT", "swing", domain.TF1h, "WEAK_BUY", 42))

	res := c.Confluence("BTC/USDT", 60)
	assert.False(t, res.Confluence, "two agreeing timeframes below the score bar is no confluence")
	assert.Equal(t, "WEAK", res.Recommendation)
}

func TestConfluenceNoSignals(t *testing.T) {
	c := testContinuous(t, nil)
	res := c.Confluence("ETH/USDT", 60)
	assert.False(t, res.Confluence)
	assert.Equal(t, "No signals found", res.Message)
}

func TestLatestSignalsFilterAndOrder(t *testing.T) {
	c := testContinuous(t, nil)
	key := "mockex:BTC/USDT"
	c.SeedSignal(key, seeded("BTC/USDT", "scalp", domain.TF5m, "WEAK_BUY", 45))
	c.SeedSignal(key, seeded("BTC/USDT", "swing", domain.TF1h, "STRONG_BUY", 80))
	c.SeedSignal("mockex:ETH/USDT", seeded("ETH/USDT", "swing", domain.TF1h, "STRONG_BUY", 90))

	all := c.LatestSignals("", "", 0, 10)
	require.Len(t, all, 3)
	assert.Equal(t, 90.0, all[0].Combined)
	assert.Equal(t, 80.0, all[1].Combined)

	btc := c.LatestSignals("BTC", "", 0, 10)
	assert.Len(t, btc, 2)

	strong := c.LatestSignals("", "", 60, 10)
	assert.Len(t, strong, 2)

	swing := c.LatestSignals("", "1h", 0, 10)
	assert.Len(t, swing, 2)
}

func TestContinuousLifecycle(t *testing.T) {
	sink := &memSink{}
	c := testContinuous(t, sink)

	require.NoError(t, c.Start([]string{"BTC/USDT"}, []string{"mockex"}))
	assert.True(t, c.Running())
	assert.Error(t, c.Start([]string{"BTC/USDT"}, []string{"mockex"}), "double start rejected")

	// Let every loop complete at least one pass.
	time.Sleep(250 * time.Millisecond)
	c.Stop()
	assert.False(t, c.Running())

	sigs, ohlcv, _ := sink.counts()
	assert.Positive(t, sigs, "signal loop persists observations")
	assert.Positive(t, ohlcv)

	assert.NotNil(t, c.MarketState())
	assert.NotNil(t, c.LastFullScan())
	assert.Positive(t, c.BufferSizes()["ticks"])
	assert.Positive(t, c.BufferSizes()["signals"])

	// No persistence after stop.
	beforeSigs, beforeOHLCV, beforeClusters := sink.counts()
	time.Sleep(150 * time.Millisecond)
	afterSigs, afterOHLCV, afterClusters := sink.counts()
	assert.Equal(t, beforeSigs, afterSigs)
	assert.Equal(t, beforeOHLCV, afterOHLCV)
	assert.Equal(t, beforeClusters, afterClusters)
}

func TestStartValidation(t *testing.T) {
	c := testContinuous(t, nil)
	assert.Error(t, c.Start(nil, []string{"mockex"}))
	assert.Error(t, c.Start([]string{"BTC/USDT"}, []string{"unknown"}))
	assert.False(t, c.Running())
}
