package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/momentumscan/internal/domain"
)

func TestScanParallelTwoExchanges(t *testing.T) {
	x := &fakeAdapter{
		id:      "exchx",
		symbols: []domain.Symbol{sym("exchx", "AAA/USDT")},
		series:  map[string]domain.Series{"AAA/USDT": marketSeries(200, 100, 0.001)},
		delay:   100 * time.Millisecond,
	}
	y := &fakeAdapter{
		id:      "exchy",
		symbols: []domain.Symbol{sym("exchy", "BBB/USDT")},
		series:  map[string]domain.Series{"BBB/USDT": marketSeries(200, 50, 0.001)},
		delay:   120 * time.Millisecond,
	}
	s := testScanner(t, x, y)

	res := s.ScanParallel(context.Background(), []string{"exchx", "exchy"}, Options{
		Style: domain.StyleMedium, MarketType: domain.MarketCrypto, FullAnalysis: true,
	})

	require.Len(t, res.Performance.Exchanges, 2)
	for _, out := range res.Performance.Exchanges {
		assert.True(t, out.Success, out.Exchange)
		assert.Equal(t, 1, out.SignalsFound)
		assert.Empty(t, out.Error)
	}

	perf := res.Performance
	assert.Less(t, perf.ParallelDuration, perf.SequentialEstimated,
		"two legs running concurrently must beat the sequential estimate")
	assert.Greater(t, perf.Speedup, 1.4)
	assert.InDelta(t, perf.SequentialEstimated-perf.ParallelDuration, perf.TimeSaved, 1e-3)

	assert.Len(t, res.Rows, 2)
	assert.Equal(t, 2, res.TotalScanned)
	for i := 1; i < len(res.Rows); i++ {
		assert.GreaterOrEqual(t, res.Rows[i-1].Combined, res.Rows[i].Combined)
	}
}

func TestScanParallelIsolatesFailures(t *testing.T) {
	good := &fakeAdapter{
		id:      "goodex",
		symbols: []domain.Symbol{sym("goodex", "AAA/USDT")},
		series:  map[string]domain.Series{"AAA/USDT": marketSeries(200, 100, 0.001)},
	}
	s := testScanner(t, good)

	res := s.ScanParallel(context.Background(), []string{"goodex", "missingex"}, Options{
		Style: domain.StyleMedium, MarketType: domain.MarketCrypto, FullAnalysis: true,
	})

	require.Len(t, res.Performance.Exchanges, 2)
	byID := map[string]ExchangeOutcome{}
	for _, out := range res.Performance.Exchanges {
		byID[out.Exchange] = out
	}
	assert.True(t, byID["goodex"].Success)
	assert.False(t, byID["missingex"].Success)
	assert.NotEmpty(t, byID["missingex"].Error)

	assert.Len(t, res.Rows, 1, "the healthy leg still contributes rows")
}
