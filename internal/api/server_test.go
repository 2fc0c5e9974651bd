package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/momentumscan/internal/config"
	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/exchange"
	"github.com/sawpanic/momentumscan/internal/scan"
	"github.com/sawpanic/momentumscan/internal/scoring"
	"github.com/sawpanic/momentumscan/internal/store"
	"github.com/sawpanic/momentumscan/internal/stream"
)

type apiAdapter struct {
	id     string
	series domain.Series
}

func (a *apiAdapter) ID() string { return a.id }

func (a *apiAdapter) FetchMarkets(context.Context, domain.MarketType, string) ([]domain.Symbol, error) {
	return []domain.Symbol{
		{Exchange: a.id, Pair: "BTC/USDT", Quote: "USDT"},
		{Exchange: a.id, Pair: "ETH/USDT", Quote: "USDT"},
	}, nil
}

func (a *apiAdapter) FetchOHLCV(_ context.Context, _ domain.Symbol, _ domain.Timeframe, limit int) (domain.Series, error) {
	return a.series.Tail(limit), nil
}

func (a *apiAdapter) FetchTicker(context.Context, domain.Symbol) (domain.Ticker, error) {
	return domain.Ticker{Last: a.series.Last().Close, QuoteVolume: 1e6}, nil
}

func (a *apiAdapter) Close() error { return nil }

func apiSeries(n int, seed int64) domain.Series {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make(domain.Series, n)
	price := 100.0
	for i := range out {
		next := price * (1 + (rng.Float64()-0.47)*0.01)
		hi := math.Max(price, next) * 1.001
		lo := math.Min(price, next) * 0.999
		out[i] = domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price, High: hi, Low: lo, Close: next,
			Volume: 1000 + rng.Float64()*500,
		}
		price = next
	}
	return out
}

func testServer(t *testing.T, exchangeIDs ...string) *Server {
	t.Helper()
	if len(exchangeIDs) == 0 {
		exchangeIDs = []string{"mockex"}
	}

	cfg := config.Default()
	cfg.Gate.RateLimitDelay = time.Microsecond
	cfg.Scan.MinVolumeUSD = 0
	cfg.API.RequestTimeout = 5 * time.Second
	cfg.Stream.TickInterval = 20 * time.Millisecond
	cfg.Stream.SignalInterval = 30 * time.Millisecond
	cfg.Stream.MarketStateInterval = 30 * time.Millisecond
	cfg.Stream.FullScanInterval = 50 * time.Millisecond

	clients := make(map[string]*exchange.Client)
	for i, id := range exchangeIDs {
		adapter := &apiAdapter{id: id, series: apiSeries(200, int64(7+i))}
		gate := exchange.NewGate(id, exchange.GateConfig{
			RateLimitDelay: time.Microsecond,
			FetchTimeout:   5 * time.Second,
		}, zerolog.Nop())
		clients[id] = exchange.NewClient(adapter, gate, exchange.NewMemoryCache(cfg.Cache.TTL, 0))
	}

	scanner := scan.New(cfg, clients, zerolog.Nop())

	st, err := store.New(config.StoreConfig{Dir: t.TempDir(), ParquetMaxRows: 500}, zerolog.Nop())
	require.NoError(t, err)

	continuous := stream.NewContinuous(cfg.Stream, scanner, st, zerolog.Nop())
	t.Cleanup(continuous.Stop)

	return NewServer(cfg, scanner, continuous, st, zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestScanEndpoint(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/scanner/scan", map[string]any{
		"timeframe":   "medium",
		"exchange":    "mockex",
		"minStrength": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp scanResponse
	decodeBody(t, rec, &resp)

	require.NotEmpty(t, resp.Signals)
	assert.Equal(t, len(resp.Signals), resp.Metadata.Count)
	assert.Equal(t, "medium", resp.Metadata.Timeframe)
	assert.Equal(t, []string{"mockex"}, resp.Metadata.Exchanges)
	assert.Equal(t, "all", resp.Metadata.FiltersApplied.Signal)
	assert.Nil(t, resp.Metadata.Performance, "single exchange runs sequentially")

	first := resp.Signals[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "mockex", first.Exchange)
	assert.Contains(t, []string{"BUY", "SELL", "HOLD"}, first.Signal)
	assert.Contains(t, []string{"bullish", "bearish"}, first.Indicators.MACD)
	assert.Contains(t, []string{"medium", "high", "very_high"}, first.Indicators.Volume)

	// Ranked by combined score.
	for i := 1; i < len(resp.Signals); i++ {
		assert.GreaterOrEqual(t, resp.Signals[i-1].Advanced.CombinedScore, resp.Signals[i].Advanced.CombinedScore)
	}
}

func TestScanDefaultsToFirstExchange(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/scanner/scan", map[string]any{"minStrength": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp scanResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, []string{"mockex"}, resp.Metadata.Exchanges)
	assert.Equal(t, "medium", resp.Metadata.Timeframe)
}

func TestScanParallelAcrossExchanges(t *testing.T) {
	s := testServer(t, "ex1", "ex2")
	rec := doJSON(t, s, http.MethodPost, "/api/scanner/scan", map[string]any{
		"exchange":    []string{"ex1", "ex2"},
		"minStrength": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp scanResponse
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.Metadata.Performance, "multi-exchange implies parallel")
	assert.Len(t, resp.Metadata.Performance.Exchanges, 2)
	assert.Equal(t, 4, resp.Metadata.TotalScanned)
}

func TestScanValidation(t *testing.T) {
	s := testServer(t)
	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"bad timeframe", map[string]any{"timeframe": "hourly"}, "timeframe"},
		{"bad signal", map[string]any{"signal": "LONG"}, "signal"},
		{"bad minStrength", map[string]any{"minStrength": 150}, "minStrength"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/scanner/scan", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var e map[string]string
			decodeBody(t, rec, &e)
			assert.Contains(t, e["error"], tc.want)
		})
	}
}

func TestSignalsBeforeAnyScan(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/scanner/signals", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scanResponse
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Signals)
}

func TestSignalsServeLastScan(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/scanner/scan", map[string]any{"minStrength": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	var scanned scanResponse
	decodeBody(t, rec, &scanned)

	rec = doJSON(t, s, http.MethodGet, "/api/scanner/signals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp scanResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, len(scanned.Signals), len(resp.Signals))

	rec = doJSON(t, s, http.MethodGet, "/api/scanner/signals?exchange=other", nil)
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Signals)

	rec = doJSON(t, s, http.MethodGet, "/api/scanner/signals?minStrength=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/scanner/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, false, resp["continuous_running"])
	assert.NotContains(t, resp, "last_scan_timestamp")

	doJSON(t, s, http.MethodPost, "/api/scanner/scan", map[string]any{"minStrength": 0})
	rec = doJSON(t, s, http.MethodGet, "/api/scanner/status", nil)
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp, "last_scan_timestamp")
}

func TestContinuousEndpointsWhenStopped(t *testing.T) {
	s := testServer(t)
	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/scanner/continuous/signals"},
		{http.MethodGet, "/api/scanner/continuous/market-state"},
		{http.MethodGet, "/api/scanner/continuous/confluence/BTC-USDT"},
		{http.MethodPost, "/api/scanner/continuous/stop"},
	}
	for _, p := range paths {
		rec := doJSON(t, s, p.method, p.path, nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, p.path)
		var e map[string]string
		decodeBody(t, rec, &e)
		assert.Equal(t, "Scanner not running", e["error"])
	}
}

func TestContinuousLifecycleOverHTTP(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/scanner/continuous/start", map[string]any{
		"symbols": []string{"BTC/USDT"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var started map[string]any
	decodeBody(t, rec, &started)
	assert.Equal(t, "started", started["status"])
	assert.Equal(t, []any{"mockex"}, started["exchanges"], "exchanges default to the configured set")

	rec = doJSON(t, s, http.MethodPost, "/api/scanner/continuous/start", map[string]any{
		"symbols": []string{"BTC/USDT"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code, "double start rejected")

	rec = doJSON(t, s, http.MethodGet, "/api/scanner/continuous/status", nil)
	var status map[string]any
	decodeBody(t, rec, &status)
	assert.Equal(t, true, status["running"])

	rec = doJSON(t, s, http.MethodPost, "/api/scanner/continuous/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/scanner/continuous/status", nil)
	decodeBody(t, rec, &status)
	assert.Equal(t, false, status["running"])
}

func TestContinuousStartValidation(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/scanner/continuous/start", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var e map[string]string
	decodeBody(t, rec, &e)
	assert.Contains(t, e["error"], "symbols")
}

func TestContinuousSignalsAndConfluence(t *testing.T) {
	s := testServer(t)
	// The live loops monitor a different pair so they never touch the
	// seeded buffers.
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/scanner/continuous/start", map[string]any{
		"symbols": []string{"XRP/USD"},
	}).Code)

	key := "mockex:BTC/USDT"
	seed := func(style string, tf domain.Timeframe, sigType string, score float64) {
		s.continuous.SeedSignal(key, stream.Signal{
			Symbol: "BTC/USDT", Exchange: "mockex", Style: style, Timeframe: tf,
			Timestamp: time.Now().UTC(), Price: 100, Combined: score, SignalType: sigType,
		})
	}
	seed("scalp", domain.TF5m, "STRONG_BUY", 70)
	seed("swing", domain.TF1h, "STRONG_BUY", 72)
	seed("day_trade", domain.TF4h, "NEUTRAL", 40)
	seed("position", domain.TF1d, "WEAK_BUY", 68)

	rec := doJSON(t, s, http.MethodGet, "/api/scanner/continuous/signals?symbol=BTC&min_score=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Signals []stream.Signal `json:"signals"`
		Count   int             `json:"count"`
	}
	decodeBody(t, rec, &listed)
	assert.Equal(t, 3, listed.Count)
	assert.Equal(t, 72.0, listed.Signals[0].Combined, "sorted by combined score")

	rec = doJSON(t, s, http.MethodGet, "/api/scanner/continuous/confluence/BTC-USDT?min_score=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conf stream.ConfluenceResult
	decodeBody(t, rec, &conf)
	assert.True(t, conf.Confluence)
	assert.Equal(t, "MODERATE", conf.Recommendation)
	assert.Equal(t, 3, conf.BullishTimeframes)
}

func TestMarketStateEndpoint(t *testing.T) {
	s := testServer(t)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/scanner/continuous/start", map[string]any{
		"symbols": []string{"BTC/USDT"},
	}).Code)

	require.Eventually(t, func() bool {
		return s.continuous.MarketState() != nil
	}, 2*time.Second, 20*time.Millisecond)

	rec := doJSON(t, s, http.MethodGet, "/api/scanner/continuous/market-state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state stream.MarketState
	decodeBody(t, rec, &state)
	assert.Contains(t, []string{"bullish", "bearish", "neutral"}, state.Breadth.MarketBias)
}

func TestTrainingDataEndpoint(t *testing.T) {
	s := testServer(t)
	sig := stream.Signal{
		Symbol: "BTC/USDT", Exchange: "mockex", Style: "swing", Timeframe: domain.TF1h,
		Timestamp: time.Now().UTC(), Price: 100, Combined: 70, SignalType: "STRONG_BUY",
	}
	require.NoError(t, s.store.AppendSignal(context.Background(), "mockex:BTC/USDT", sig))

	rec := doJSON(t, s, http.MethodGet, "/api/scanner/training-data/mockex:BTC-USDT?days=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Symbol  string        `json:"symbol"`
		Days    int           `json:"days"`
		Dataset store.Dataset `json:"dataset"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "mockex:BTC/USDT", resp.Symbol)
	assert.Equal(t, 3, resp.Days)
	assert.Len(t, resp.Dataset.Signals, 1)

	rec = doJSON(t, s, http.MethodGet, "/api/scanner/training-data/mockex:BTC-USDT?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionCalculateEndpoint(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/position/calculate", PositionRequest{
		AccountBalance: 10_000,
		RiskPerTrade:   1,
		EntryPrice:     100,
		StopLoss:       98,
		Leverage:       2,
		FeeRate:        0.0004,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var size scoring.PositionSize
	decodeBody(t, rec, &size)
	assert.Equal(t, 10_000.0, size.PositionValue, "100 risk / 2% stop distance, 2x leverage")
	assert.Equal(t, 100.0, size.Units)
	assert.Equal(t, 5_000.0, size.MarginRequired)
	assert.True(t, size.SafeToTrade)
}

func TestPositionCalculateValidation(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/position/calculate", PositionRequest{
		RiskPerTrade: 1, EntryPrice: 100, StopLoss: 98,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var e map[string]string
	decodeBody(t, rec, &e)
	assert.Contains(t, e["error"], "accountBalance")
}

func TestHealthAndNotFound(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	decodeBody(t, rec, &health)
	assert.Equal(t, "ok", health["status"])

	rec = doJSON(t, s, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "{"), "404 body is JSON")
}

func TestRequestIDAndCORSHeaders(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/scanner/status", nil)
	pre := httptest.NewRecorder()
	s.Handler().ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
}

func TestWebsocketPushes(t *testing.T) {
	s := testServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/scanner/continuous/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var update wsUpdate
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "update", update.Type)
	assert.False(t, update.Running, "scanner not started yet")
}
