package indicator

import (
	"math"

	"github.com/sawpanic/momentumscan/internal/domain"
)

// Regime classifies the broader market condition for one series.
type Regime struct {
	Regime             string  `json:"regime"` // bull, bear, ranging
	Confidence         float64 `json:"confidence"`
	TrendStrength      float64 `json:"trend_strength"`
	Volatility         string  `json:"volatility"` // low, medium, high
	ATRPct             float64 `json:"atr_pct"`
	SuggestedThreshold float64 `json:"suggested_threshold"`
}

// TrendScore grades trend quality in [0,10] from the 21-EMA slope, ADX, and
// price structure (higher high / lower low over the EMA period).
func TrendScore(series domain.Series, adx float64) float64 {
	const emaPeriod = 21
	closes := series.Closes()
	if len(closes) < emaPeriod+2 {
		return 0
	}
	ema := EMASeries(closes, emaPeriod)
	prev := ema[len(ema)-emaPeriod]
	var slope float64
	if prev != 0 {
		slope = (ema[len(ema)-1] - prev) / math.Abs(prev)
	}
	emaScore := math.Max(math.Min(slope*100/2, 1), -1)
	emaScore = (emaScore + 1) / 2

	adxScore := math.Min(adx/50, 1)

	window := closes[len(closes)-emaPeriod : len(closes)-1]
	hh, ll := window[0], window[0]
	for _, v := range window[1:] {
		hh = math.Max(hh, v)
		ll = math.Min(ll, v)
	}
	last := closes[len(closes)-1]
	priceScore := 0.5
	if last > hh {
		priceScore = 1.0
	} else if last < ll {
		priceScore = 0.0
	}

	return round2((emaScore*0.4 + adxScore*0.4 + priceScore*0.2) * 10)
}

// ConfidenceScore blends momentum, RSI distance, MACD, trend and volume into
// a 0..1 conviction estimate.
func ConfidenceScore(momShort, momLong, rsi, macd, trendScore, volRatio float64) float64 {
	momScore := math.Min(math.Max(math.Abs(momShort), 0), 0.1) / 0.1
	longMomScore := math.Min(math.Max(math.Abs(momLong), 0), 0.2) / 0.2
	var rsiScore float64
	if rsi >= 50 {
		rsiScore = math.Min((rsi-50)/30, 1)
	} else {
		rsiScore = math.Min((50-rsi)/30, 1)
	}
	macdScore := math.Min(math.Max(math.Abs(macd), 0), 0.05) / 0.05
	trendNorm := math.Min(math.Max(trendScore/10, 0), 1)
	var volScore float64
	if volRatio >= 1 {
		volScore = math.Min((volRatio-1)/1.5, 1)
	} else {
		volScore = math.Max(0, 1+(volRatio-1)/0.8)
	}
	score := momScore*0.18 + longMomScore*0.12 + rsiScore*0.18 +
		macdScore*0.18 + trendNorm*0.22 + volScore*0.12
	return math.Round(math.Min(math.Max(score, 0), 1)*1000) / 1000
}

// DetectRegime classifies bull/bear/ranging from EMA stacking (20/50/200),
// ADX, ATR percent and 20-bar price volatility, and suggests the opportunity
// threshold for the regime.
func DetectRegime(series domain.Series, adx, atr float64) Regime {
	closes := series.Closes()
	if len(closes) == 0 {
		return Regime{Regime: "ranging", Confidence: 50, Volatility: "medium", SuggestedThreshold: 80}
	}
	price := closes[len(closes)-1]

	ema20s := EMASeries(closes, 20)
	ema50s := EMASeries(closes, 50)
	ema200s := ema50s
	if len(closes) >= 200 {
		ema200s = EMASeries(closes, 200)
	}
	ema20 := ema20s[len(ema20s)-1]
	ema50 := ema50s[len(ema50s)-1]
	ema200 := ema200s[len(ema200s)-1]

	checks := []bool{price > ema20, price > ema50, price > ema200, ema20 > ema50, ema50 > ema200}
	bull, bear := 0, 0
	for _, c := range checks {
		if c {
			bull++
		} else {
			bear++
		}
	}

	atrPct := 0.0
	if price != 0 {
		atrPct = atr / price * 100
	}

	returns20 := 0.0
	if len(closes) >= 20 && closes[len(closes)-20] != 0 {
		returns20 = (price/closes[len(closes)-20] - 1) * 100
	}

	priceVol := priceVolatilityPct(closes, 20)

	var regime string
	var confidence float64
	switch {
	case adx < 20 && priceVol < 3:
		regime = "ranging"
		confidence = math.Min(100, (20-adx)*5+(3-priceVol)*10)
	case bull >= 4:
		regime = "bull"
		confidence = math.Min(100, float64(bull)*20+math.Max(returns20, 0))
	case bear >= 4:
		regime = "bear"
		confidence = math.Min(100, float64(bear)*20+math.Max(-returns20, 0))
	case bull > bear:
		regime = "bull"
		confidence = math.Min(80, float64(bull)*15)
	case bear > bull:
		regime = "bear"
		confidence = math.Min(80, float64(bear)*15)
	default:
		regime = "ranging"
		confidence = 50
	}

	volatility := "high"
	if atrPct < 1.5 {
		volatility = "low"
	} else if atrPct < 3.5 {
		volatility = "medium"
	}

	threshold := 80.0
	switch regime {
	case "bull":
		threshold = 60
	case "bear":
		threshold = 75
	}

	return Regime{
		Regime:             regime,
		Confidence:         math.Round(confidence*10) / 10,
		TrendStrength:      math.Round(adx*10) / 10,
		Volatility:         volatility,
		ATRPct:             round2(atrPct),
		SuggestedThreshold: threshold,
	}
}

// priceVolatilityPct is the coefficient of variation of the last n closes,
// in percent.
func priceVolatilityPct(closes []float64, n int) float64 {
	if len(closes) < n {
		n = len(closes)
	}
	if n < 2 {
		return 0
	}
	window := closes[len(closes)-n:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, v := range window {
		d := v - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(n-1))
	return sd / mean * 100
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
