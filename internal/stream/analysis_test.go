package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/momentumscan/internal/domain"
)

func candleAt(i int, open, close, volume float64) domain.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	hi, lo := open, close
	if lo > hi {
		hi, lo = lo, hi
	}
	return domain.Candle{
		Timestamp: base.Add(time.Duration(i) * time.Minute),
		Open:      open, High: hi * 1.001, Low: lo * 0.999, Close: close,
		Volume: volume,
	}
}

func TestDetectClustersBullishRun(t *testing.T) {
	// 14 quiet bars, then 6 high-volume bullish bars forming one cluster with
	// full follow-through.
	series := make(domain.Series, 0, 20)
	price := 100.0
	for i := 0; i < 14; i++ {
		series = append(series, candleAt(i, price, price+0.01, 100))
		price += 0.01
	}
	for i := 14; i < 20; i++ {
		series = append(series, candleAt(i, price, price+1, 1000))
		price += 1
	}

	stats, ok := DetectClusters(series)
	require.True(t, ok)
	assert.Equal(t, 1, stats.TotalClusters)
	assert.Equal(t, 1, stats.BullishClusters)
	assert.Equal(t, 0, stats.BearishClusters)
	assert.InDelta(t, 1.0, stats.DirectionalRatio, 1e-9)
	assert.InDelta(t, 1.0, stats.FollowThrough, 1e-9)
	assert.True(t, stats.TrendFormation)
	assert.InDelta(t, 1.0, stats.Strength, 1e-9)
}

func TestDetectClustersDirectionSplit(t *testing.T) {
	// Alternating high-volume bars split into one cluster per direction.
	series := make(domain.Series, 0, 20)
	for i := 0; i < 12; i++ {
		series = append(series, candleAt(i, 100, 100.01, 100))
	}
	series = append(series, candleAt(12, 100, 102, 2000)) // bullish
	series = append(series, candleAt(13, 102, 100, 2000)) // bearish
	series = append(series, candleAt(14, 100, 102, 2000)) // bullish
	for i := 15; i < 20; i++ {
		series = append(series, candleAt(i, 100, 100.01, 100))
	}

	stats, ok := DetectClusters(series)
	require.True(t, ok)
	assert.Equal(t, 3, stats.TotalClusters)
	assert.Equal(t, 2, stats.BullishClusters)
	assert.Equal(t, 1, stats.BearishClusters)
	assert.InDelta(t, 2.0/3.0, stats.DirectionalRatio, 1e-9)
	assert.False(t, stats.TrendFormation, "0.67 ratio is under the 0.7 bar")
}

func TestDetectClustersInsufficient(t *testing.T) {
	series := make(domain.Series, 0, 10)
	for i := 0; i < 10; i++ {
		series = append(series, candleAt(i, 100, 101, 100))
	}
	_, ok := DetectClusters(series)
	assert.False(t, ok)
}

func TestDetectReversionAllFlags(t *testing.T) {
	// Steady strong climb: long same-direction run, >15% five-bar gain, and a
	// topped-out RSI. Volume spikes late but keeps rising, so no volume flag.
	series := make(domain.Series, 0, 30)
	price := 100.0
	for i := 0; i < 30; i++ {
		vol := 100.0
		if i >= 27 {
			vol = 400
		}
		next := price * 1.05
		series = append(series, candleAt(i, price, next, vol))
		price = next
	}

	stats, ok := DetectReversion(series)
	require.True(t, ok)
	assert.True(t, stats.MomentumExhaustion)
	assert.GreaterOrEqual(t, stats.ConsecutiveMoves, 4)
	assert.True(t, stats.ExcessiveGain)
	assert.True(t, stats.Overbought)
	assert.False(t, stats.VolumeExhaustion, "rising spike volume is not exhaustion")
	assert.InDelta(t, 75.0, stats.Score, 1e-9)
	assert.Equal(t, "bearish", stats.Direction)
	assert.True(t, stats.Candidate)
}

func TestDetectReversionVolumeExhaustion(t *testing.T) {
	// Volume spikes then fades hard while price drifts.
	series := make(domain.Series, 0, 30)
	price := 100.0
	vols := []float64{100, 100, 100, 100, 100, 100, 100, 900, 600, 300}
	for i := 0; i < 20; i++ {
		series = append(series, candleAt(i, price, price, 100))
	}
	for i, v := range vols {
		next := price * 1.0005
		series = append(series, candleAt(20+i, price, next, v))
		price = next
	}

	stats, ok := DetectReversion(series)
	require.True(t, ok)
	assert.True(t, stats.VolumeExhaustion)
}

func TestDetectReversionQuietMarket(t *testing.T) {
	series := make(domain.Series, 0, 30)
	for i := 0; i < 30; i++ {
		series = append(series, candleAt(i, 100, 100.0001, 100))
	}
	stats, ok := DetectReversion(series)
	require.True(t, ok)
	assert.InDelta(t, 0.0, stats.Score, 1e-9)
	assert.False(t, stats.Candidate)
}

func TestDetectMomentumClusterBoost(t *testing.T) {
	series := make(domain.Series, 0, 20)
	price := 100.0
	for i := 0; i < 20; i++ {
		vol := 100.0
		if i >= 15 {
			vol = 200
		}
		next := price * 1.02
		series = append(series, candleAt(i, price, next, vol))
		price = next
	}

	plain, ok := DetectMomentum(series, ClusterStats{})
	require.True(t, ok)
	boosted, ok := DetectMomentum(series, ClusterStats{TrendFormation: true, Strength: 0.8})
	require.True(t, ok)

	assert.Greater(t, plain.Score, 0.0)
	assert.Positive(t, plain.PriceChangePct)
	assert.True(t, boosted.ClusterValidated)
	assert.GreaterOrEqual(t, boosted.Score, plain.Score)
	assert.LessOrEqual(t, boosted.Score, 100.0)
}

func TestDetectMomentumFlat(t *testing.T) {
	series := make(domain.Series, 0, 20)
	for i := 0; i < 20; i++ {
		series = append(series, candleAt(i, 100, 100, 100))
	}
	stats, ok := DetectMomentum(series, ClusterStats{})
	require.True(t, ok)
	assert.InDelta(t, 0.0, stats.Score, 1e-9)
	assert.Equal(t, "weak", stats.Strength)
}

func TestSignalTypeOf(t *testing.T) {
	cases := []struct {
		name     string
		momentum MomentumStats
		revert   ReversionStats
		combined float64
		want     string
	}{
		{"momentum buy", MomentumStats{Score: 85, PriceChangePct: 3}, ReversionStats{}, 70, "MOMENTUM_BUY"},
		{"momentum sell", MomentumStats{Score: 85, PriceChangePct: -3}, ReversionStats{}, 70, "MOMENTUM_SELL"},
		{"reversion wins over momentum", MomentumStats{Score: 85, PriceChangePct: 3},
			ReversionStats{Candidate: true, Direction: "bearish"}, 70, "REVERSION_BEARISH"},
		{"reversion bullish", MomentumStats{Score: 20}, ReversionStats{Candidate: true, Direction: "bullish"}, 50, "REVERSION_BULLISH"},
		{"strong buy", MomentumStats{Score: 50, PriceChangePct: 1}, ReversionStats{}, 65, "STRONG_BUY"},
		{"weak sell", MomentumStats{Score: 30, PriceChangePct: -1}, ReversionStats{}, 45, "WEAK_SELL"},
		{"neutral", MomentumStats{Score: 10, PriceChangePct: 0.1}, ReversionStats{}, 20, "NEUTRAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SignalTypeOf(tc.momentum, tc.revert, tc.combined))
		})
	}
}

func TestSimpleRSI(t *testing.T) {
	up := make([]float64, 20)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	assert.InDelta(t, 100, simpleRSI(up, 14), 1e-9)

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	assert.InDelta(t, 50, simpleRSI(flat, 14), 1e-9)

	assert.InDelta(t, 50, simpleRSI([]float64{1, 2}, 14), 1e-9, "short window is neutral")
}

func TestConsecutiveMoves(t *testing.T) {
	assert.Equal(t, 3, consecutiveMoves([]float64{-0.01, 0.02, 0.03, 0.02}))
	assert.Equal(t, 1, consecutiveMoves([]float64{0.02, -0.01}))
	assert.Equal(t, 3, consecutiveMoves([]float64{0.02, 0.0001, 0.03, 0.02}), "trivial moves are ignored")
	assert.Equal(t, 0, consecutiveMoves(nil))
}
