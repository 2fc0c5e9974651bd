package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/momentumscan/internal/config"
	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/stream"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StoreConfig{Dir: t.TempDir(), ParquetMaxRows: 500}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func testSignal(ts time.Time, score float64) stream.Signal {
	return stream.Signal{
		Symbol:     "BTC/USDT",
		Exchange:   "mockex",
		Style:      "swing",
		Timeframe:  domain.TF1h,
		Timestamp:  ts,
		Price:      100,
		Combined:   score,
		SignalType: "STRONG_BUY",
	}
}

func candles(n int) domain.Series {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make(domain.Series, n)
	for i := range out {
		out[i] = domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 101, Low: 99, Close: 100.5,
			Volume: float64(1000 + i),
		}
	}
	return out
}

func TestAppendSignalDayFile(t *testing.T) {
	s := testStore(t)
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendSignal(context.Background(), "mockex:BTC/USDT", testSignal(ts, 70)))
	require.NoError(t, s.AppendSignal(context.Background(), "mockex:BTC/USDT", testSignal(ts.Add(time.Minute), 72)))

	path := filepath.Join(s.dir, "signals", "mockex_BTC_USDT_2025-06-02.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []stream.Signal
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 2)
	assert.Equal(t, 70.0, records[0].Combined)
	assert.Equal(t, 72.0, records[1].Combined)

	assert.Contains(t, string(raw), "\n  ", "day-files are two-space indented")
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file removed by rename")
}

func TestAppendSignalSplitsByDay(t *testing.T) {
	s := testStore(t)
	d1 := time.Date(2025, 6, 2, 23, 59, 0, 0, time.UTC)
	d2 := time.Date(2025, 6, 3, 0, 1, 0, 0, time.UTC)

	require.NoError(t, s.AppendSignal(context.Background(), "mockex:BTC/USDT", testSignal(d1, 70)))
	require.NoError(t, s.AppendSignal(context.Background(), "mockex:BTC/USDT", testSignal(d2, 71)))

	_, err := os.Stat(filepath.Join(s.dir, "signals", "mockex_BTC_USDT_2025-06-02.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.dir, "signals", "mockex_BTC_USDT_2025-06-03.json"))
	assert.NoError(t, err)
}

func TestWriteReadOHLCV(t *testing.T) {
	s := testStore(t)
	series := candles(100)

	require.NoError(t, s.WriteOHLCV(context.Background(), "mockex:BTC/USDT", domain.TF1h, series))

	got, err := s.ReadOHLCV("mockex:BTC/USDT", domain.TF1h)
	require.NoError(t, err)
	require.Len(t, got, 100)
	assert.Equal(t, series[0].Volume, got[0].Volume)
	assert.True(t, series[0].Timestamp.Equal(got[0].Timestamp))
	assert.Equal(t, series[99].Close, got[99].Close)
}

func TestWriteOHLCVKeepsNewestRows(t *testing.T) {
	s := testStore(t)
	series := candles(600)

	require.NoError(t, s.WriteOHLCV(context.Background(), "mockex:BTC/USDT", domain.TF1h, series))

	got, err := s.ReadOHLCV("mockex:BTC/USDT", domain.TF1h)
	require.NoError(t, err)
	require.Len(t, got, 500)
	assert.Equal(t, series[100].Volume, got[0].Volume, "oldest 100 rows dropped")
}

func TestWriteOHLCVOverwrites(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.WriteOHLCV(context.Background(), "mockex:BTC/USDT", domain.TF1h, candles(50)))
	require.NoError(t, s.WriteOHLCV(context.Background(), "mockex:BTC/USDT", domain.TF1h, candles(80)))

	got, err := s.ReadOHLCV("mockex:BTC/USDT", domain.TF1h)
	require.NoError(t, err)
	assert.Len(t, got, 80)
}

func TestReadOHLCVMissing(t *testing.T) {
	s := testStore(t)
	got, err := s.ReadOHLCV("mockex:NOPE/USDT", domain.TF1h)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendCluster(t *testing.T) {
	s := testStore(t)
	rec := stream.ClusterRecord{
		Symbol:    "mockex:BTC/USDT",
		Timeframe: domain.TF1h,
		Timestamp: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		ClusterStats: stream.ClusterStats{
			TotalClusters: 2, BullishClusters: 2,
			DirectionalRatio: 1.0, FollowThrough: 1.0,
			TrendFormation: true, Strength: 1.0,
		},
	}
	require.NoError(t, s.AppendCluster(context.Background(), rec))
	require.NoError(t, s.AppendCluster(context.Background(), rec))

	var records []stream.ClusterRecord
	raw, err := os.ReadFile(filepath.Join(s.dir, "clustering", "mockex_BTC_USDT_2025-06-02.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &records))
	assert.Len(t, records, 2)
	assert.True(t, records[0].TrendFormation)
}

func TestTrainingDataset(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.AppendSignal(context.Background(), "mockex:BTC/USDT", testSignal(now.AddDate(0, 0, -1), 70)))
	require.NoError(t, s.AppendSignal(context.Background(), "mockex:BTC/USDT", testSignal(now, 75)))
	require.NoError(t, s.AppendCluster(context.Background(), stream.ClusterRecord{
		Symbol: "mockex:BTC/USDT", Timeframe: domain.TF1h, Timestamp: now,
	}))
	require.NoError(t, s.WriteOHLCV(context.Background(), "mockex:BTC/USDT", domain.TF1h, candles(50)))

	ds, err := s.TrainingDataset("mockex:BTC/USDT", 7, []domain.Timeframe{domain.TF1h, domain.TF1d})
	require.NoError(t, err)

	assert.Len(t, ds.Signals, 2)
	assert.Len(t, ds.Clustering, 1)
	require.Contains(t, ds.OHLCV, domain.TF1h)
	assert.Len(t, ds.OHLCV[domain.TF1h], 50)
	assert.NotContains(t, ds.OHLCV, domain.TF1d, "absent files are skipped")

	// Signals arrive oldest day first.
	assert.Equal(t, 70.0, ds.Signals[0].Combined)
}

func TestTrainingDatasetEmpty(t *testing.T) {
	s := testStore(t)
	ds, err := s.TrainingDataset("mockex:NOPE/USDT", 3, []domain.Timeframe{domain.TF1h})
	require.NoError(t, err)
	assert.Empty(t, ds.Signals)
	assert.Empty(t, ds.Clustering)
	assert.Empty(t, ds.OHLCV)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "mockex_BTC_USDT", slug("mockex:BTC/USDT"))
	assert.Equal(t, "EUR_USD", slug("EUR/USD"))
}
