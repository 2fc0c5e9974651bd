// Package indicator computes the technical feature vector from a candle
// window. Every function is a pure transform; nothing here touches the
// network or the clock.
package indicator

import (
	"errors"
	"math"

	"github.com/sawpanic/momentumscan/internal/domain"
)

// ErrInsufficientData marks a window shorter than an indicator's minimum.
var ErrInsufficientData = errors.New("insufficient candle data")

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMASeries returns the exponential moving average of values, seeded with the
// first value (recursive form, no adjustment).
func EMASeries(values []float64, span int) []float64 {
	if len(values) == 0 || span <= 0 {
		return nil
	}
	alpha := 2.0 / float64(span+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// EMA returns the latest exponential moving average value.
func EMA(values []float64, span int) (float64, bool) {
	if len(values) < span {
		return 0, false
	}
	s := EMASeries(values, span)
	return s[len(s)-1], true
}

// Momentum is the period return: close[t]/close[t-period] - 1.
func Momentum(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	prev := closes[len(closes)-1-period]
	if prev == 0 {
		return 0, false
	}
	return closes[len(closes)-1]/prev - 1, true
}

// RSI computes Wilder's relative strength index. With no losses in the
// window the result is 100.
func RSI(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACDHist returns macd_line - signal_line for the 12/26/9 convention.
func MACDHist(closes []float64, fast, slow, signal int) (float64, bool) {
	if len(closes) < slow+signal {
		return 0, false
	}
	emaFast := EMASeries(closes, fast)
	emaSlow := EMASeries(closes, slow)
	macdLine := make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine := EMASeries(macdLine, signal)
	n := len(closes) - 1
	return macdLine[n] - signalLine[n], true
}

// ATR is the rolling mean of the true range over period bars.
func ATR(series domain.Series, period int) (float64, bool) {
	if len(series) < period+1 {
		return 0, false
	}
	var sum float64
	for i := len(series) - period; i < len(series); i++ {
		sum += trueRange(series[i], series[i-1])
	}
	return sum / float64(period), true
}

func trueRange(c, prev domain.Candle) float64 {
	tr := c.High - c.Low
	if d := math.Abs(c.High - prev.Close); d > tr {
		tr = d
	}
	if d := math.Abs(c.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

// ADX computes Wilder's average directional index. Missing data yields ok=false;
// callers treat that as zero trend strength.
func ADX(series domain.Series, period int) (float64, bool) {
	if len(series) < 2*period+1 {
		return 0, false
	}
	n := len(series)
	trs := make([]float64, 0, n-1)
	plusDM := make([]float64, 0, n-1)
	minusDM := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		up := series[i].High - series[i-1].High
		down := series[i-1].Low - series[i].Low
		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plusDM = append(plusDM, p)
		minusDM = append(minusDM, m)
		trs = append(trs, trueRange(series[i], series[i-1]))
	}

	smTR := wilderSum(trs, period)
	smPlus := wilderSum(plusDM, period)
	smMinus := wilderSum(minusDM, period)

	dxs := make([]float64, 0, len(smTR))
	for i := range smTR {
		if smTR[i] == 0 {
			dxs = append(dxs, 0)
			continue
		}
		pdi := 100 * smPlus[i] / smTR[i]
		mdi := 100 * smMinus[i] / smTR[i]
		if pdi+mdi == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(pdi-mdi)/(pdi+mdi))
	}
	if len(dxs) < period {
		return 0, false
	}
	// ADX seeds with the mean of the first period DX values, then smooths.
	var adx float64
	for _, v := range dxs[:period] {
		adx += v
	}
	adx /= float64(period)
	for _, v := range dxs[period:] {
		adx = (adx*float64(period-1) + v) / float64(period)
	}
	return adx, true
}

// wilderSum applies Wilder's smoothed sum: seed with the sum of the first
// period values, then s[i] = s[i-1] - s[i-1]/period + v[i].
func wilderSum(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	var s float64
	for _, v := range values[:period] {
		s += v
	}
	out = append(out, s)
	for _, v := range values[period:] {
		s = s - s/float64(period) + v
		out = append(out, s)
	}
	return out
}

// Bollinger returns the 2-stddev bands around the period SMA.
func Bollinger(closes []float64, period int, dev float64) (upper, middle, lower float64, ok bool) {
	mid, ok := SMA(closes, period)
	if !ok {
		return 0, 0, 0, false
	}
	var sq float64
	for _, v := range closes[len(closes)-period:] {
		d := v - mid
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(period))
	return mid + dev*sd, mid, mid - dev*sd, true
}

// BollingerPosition places price between the lower (0) and upper (1) band,
// clamped; 0.5 when the bands have collapsed.
func BollingerPosition(price, upper, lower float64) float64 {
	if upper == lower {
		return 0.5
	}
	p := (price - lower) / (upper - lower)
	return math.Min(1, math.Max(0, p))
}

// Stochastic returns %K (fast, period window) and %D (3-bar SMA of %K).
func Stochastic(series domain.Series, period int) (k, d float64, ok bool) {
	if len(series) < period+2 {
		return 0, 0, false
	}
	ks := make([]float64, 3)
	for j := 0; j < 3; j++ {
		end := len(series) - j
		window := series[end-period : end]
		hh, ll := window[0].High, window[0].Low
		for _, c := range window[1:] {
			hh = math.Max(hh, c.High)
			ll = math.Min(ll, c.Low)
		}
		if hh == ll {
			ks[2-j] = 50
			continue
		}
		ks[2-j] = 100 * (series[end-1].Close - ll) / (hh - ll)
	}
	return ks[2], (ks[0] + ks[1] + ks[2]) / 3, true
}

// OBV is the cumulative on-balance volume over the window.
func OBV(series domain.Series) float64 {
	var obv float64
	for i := 1; i < len(series); i++ {
		switch {
		case series[i].Close > series[i-1].Close:
			obv += series[i].Volume
		case series[i].Close < series[i-1].Close:
			obv -= series[i].Volume
		}
	}
	return obv
}

// VWAP is the cumulative volume-weighted average of the typical price.
func VWAP(series domain.Series) (float64, bool) {
	if len(series) < 2 {
		return 0, false
	}
	var pv, vol float64
	for _, c := range series {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0, false
	}
	return pv / vol, true
}

// VolumeRatio compares the last bar's volume to the mean of the prior 20.
// Short windows default to 1 (neutral).
func VolumeRatio(volumes []float64) float64 {
	if len(volumes) < 22 {
		return 1.0
	}
	window := volumes[len(volumes)-21 : len(volumes)-1]
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))
	if mean == 0 {
		return 1.0
	}
	return volumes[len(volumes)-1] / mean
}

// RSIBearishDivergence reports price making a higher high over lookback bars
// while RSI makes a lower high.
func RSIBearishDivergence(series domain.Series, period, lookback int) bool {
	if len(series) < lookback+period+2 {
		return false
	}
	closes := series.Closes()
	rsiNow, ok1 := RSI(closes, period)
	rsiThen, ok2 := RSI(closes[:len(closes)-lookback+1], period)
	if !ok1 || !ok2 {
		return false
	}
	return closes[len(closes)-1] > closes[len(closes)-lookback] && rsiNow < rsiThen
}
