package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(ts time.Time, o, h, l, c, v float64) Candle {
	return Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestCandleValid(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		candle Candle
		want   bool
	}{
		{"ok", bar(ts, 100, 101, 99, 100.5, 10), true},
		{"zero timestamp", bar(time.Time{}, 100, 101, 99, 100.5, 10), false},
		{"negative volume", bar(ts, 100, 101, 99, 100.5, -1), false},
		{"high below body", bar(ts, 100, 100.2, 99, 100.5, 10), false},
		{"low above body", bar(ts, 100, 101, 100.2, 100.5, 10), false},
		{"doji", bar(ts, 100, 100, 100, 100, 0), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.candle.Valid())
		})
	}
}

func TestCleanDropsMalformedAndDisordered(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	in := []Candle{
		bar(ts, 100, 101, 99, 100.5, 10),
		bar(ts.Add(time.Hour), 100, 100.2, 99, 100.5, 10), // high below body
		bar(ts.Add(2*time.Hour), 100.5, 102, 100, 101, 12),
		bar(ts.Add(time.Hour), 101, 102, 100, 101.5, 8), // out of order
		bar(ts.Add(2*time.Hour), 101, 102, 100, 101.5, 8), // duplicate ts
		bar(ts.Add(3*time.Hour), 101, 103, 100.5, 102.5, 15),
	}
	out := Clean(in)
	require.Len(t, out, 3)
	assert.True(t, out[0].Timestamp.Equal(ts))
	assert.True(t, out[2].Timestamp.Equal(ts.Add(3*time.Hour)))
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i].Timestamp.After(out[i-1].Timestamp))
	}
}

func TestSeriesTailAndLast(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := Series{
		bar(ts, 1, 1, 1, 1, 1),
		bar(ts.Add(time.Hour), 2, 2, 2, 2, 2),
		bar(ts.Add(2*time.Hour), 3, 3, 3, 3, 3),
	}
	assert.Len(t, s.Tail(2), 2)
	assert.Equal(t, 2.0, s.Tail(2)[0].Close)
	assert.Len(t, s.Tail(10), 3)
	assert.Equal(t, 3.0, s.Last().Close)
	assert.Equal(t, Candle{}, Series{}.Last())
	assert.Equal(t, []float64{1, 2, 3}, s.Closes())
	assert.Equal(t, []float64{1, 2, 3}, s.Volumes())
}

func TestTimeframeForStyle(t *testing.T) {
	cases := map[Style]Timeframe{
		StyleScalping: TF1m,
		StyleShort:    TF5m,
		StyleMedium:   TF1h,
		StyleDaily:    TF1d,
		StyleWeekly:   TF1w,
	}
	for style, want := range cases {
		tf, err := TimeframeForStyle(style)
		require.NoError(t, err)
		assert.Equal(t, want, tf)
	}
	_, err := TimeframeForStyle("hourly")
	assert.Error(t, err)
}

func TestSymbolStringAndSlug(t *testing.T) {
	s := Symbol{Exchange: "kraken", Pair: "BTC/USDT", Quote: "USDT"}
	assert.Equal(t, "kraken:BTC/USDT", s.String())
	assert.Equal(t, "BTC_USDT", s.FileSlug())
}
