package domain

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar. Timestamps are UTC; naive or zero timestamps are
// rejected at ingress.
type Candle struct {
	Timestamp time.Time `json:"timestamp" parquet:"ts,timestamp"`
	Open      float64   `json:"open" parquet:"open"`
	High      float64   `json:"high" parquet:"high"`
	Low       float64   `json:"low" parquet:"low"`
	Close     float64   `json:"close" parquet:"close"`
	Volume    float64   `json:"volume" parquet:"volume"`
}

// Valid reports whether the candle satisfies the OHLC ordering and volume
// constraints. Malformed candles are dropped, not repaired.
func (c Candle) Valid() bool {
	if c.Timestamp.IsZero() {
		return false
	}
	if c.Volume < 0 {
		return false
	}
	hi, lo := c.Open, c.Close
	if lo > hi {
		hi, lo = lo, hi
	}
	return c.High >= hi && c.Low <= lo && c.Low <= c.High
}

// Ticker is the latest quote for a symbol.
type Ticker struct {
	Last        float64
	Bid         float64
	Ask         float64
	QuoteVolume float64
}

// Symbol identifies one tradable market on one exchange. Pair is "BASE/QUOTE",
// optionally with a market-type qualifier suffix. Equality is case-sensitive.
type Symbol struct {
	Exchange string `json:"exchange"`
	Pair     string `json:"pair"`
	Quote    string `json:"quote"`
}

func (s Symbol) String() string {
	return s.Exchange + ":" + s.Pair
}

// FileSlug returns the pair with "/" replaced, safe for use in file names.
func (s Symbol) FileSlug() string {
	out := make([]byte, 0, len(s.Pair))
	for i := 0; i < len(s.Pair); i++ {
		if s.Pair[i] == '/' || s.Pair[i] == ':' {
			out = append(out, '_')
			continue
		}
		out = append(out, s.Pair[i])
	}
	return string(out)
}

// Series is an ordered candle sequence for one (symbol, timeframe).
type Series []Candle

// Clean drops malformed candles and enforces strictly increasing timestamps.
// Out-of-order candles are dropped rather than sorted; exchanges return
// candles oldest-first and a disordered response is treated as corrupt data.
func Clean(candles []Candle) Series {
	out := make(Series, 0, len(candles))
	var last time.Time
	for _, c := range candles {
		if !c.Valid() {
			continue
		}
		if !last.IsZero() && !c.Timestamp.After(last) {
			continue
		}
		out = append(out, c)
		last = c.Timestamp
	}
	return out
}

// Closes returns the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Volumes returns the volume column.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Volume
	}
	return out
}

// Last returns the most recent candle; the zero Candle for an empty series.
func (s Series) Last() Candle {
	if len(s) == 0 {
		return Candle{}
	}
	return s[len(s)-1]
}

// Tail returns the last n candles (or the whole series if shorter).
func (s Series) Tail(n int) Series {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Timeframe is a candle period such as "1h".
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
	TF1h Timeframe = "1h"
	TF4h Timeframe = "4h"
	TF1d Timeframe = "1d"
	TF1w Timeframe = "1w"
)

// Style is a trading-style alias for a timeframe, the request-level vocabulary
// of the scan API.
type Style string

const (
	StyleScalping Style = "scalping"
	StyleShort    Style = "short"
	StyleMedium   Style = "medium"
	StyleDaily    Style = "daily"
	StyleWeekly   Style = "weekly"
)

var styleTimeframes = map[Style]Timeframe{
	StyleScalping: TF1m,
	StyleShort:    TF5m,
	StyleMedium:   TF1h,
	StyleDaily:    TF1d,
	StyleWeekly:   TF1w,
}

// TimeframeForStyle maps a trading style to its candle period.
func TimeframeForStyle(s Style) (Timeframe, error) {
	tf, ok := styleTimeframes[s]
	if !ok {
		return "", fmt.Errorf("unknown trading style %q", s)
	}
	return tf, nil
}

// MarketType selects the symbol universe and the threshold table.
type MarketType string

const (
	MarketCrypto MarketType = "crypto"
	MarketForex  MarketType = "forex"
)
