package indicator

import (
	"math"

	"github.com/sawpanic/momentumscan/internal/domain"
)

// Ichimoku holds the cloud values at the last bar. Senkou spans are shifted
// forward 26 bars, so the published values come from the bar 26 periods back.
type Ichimoku struct {
	Tenkan     float64
	Kijun      float64
	SenkouA    float64
	SenkouB    float64
	CloudGreen bool
}

const ichimokuShift = 26

// ComputeIchimoku applies the standard 9/26/52 definitions. A window shorter
// than 52+26 bars yields ok=false.
func ComputeIchimoku(series domain.Series, tenkanP, kijunP, senkouP int) (Ichimoku, bool) {
	if len(series) < senkouP+ichimokuShift {
		return Ichimoku{}, false
	}
	last := len(series) - 1
	shifted := last - ichimokuShift

	out := Ichimoku{
		Tenkan:  midpoint(series, last, tenkanP),
		Kijun:   midpoint(series, last, kijunP),
		SenkouA: (midpoint(series, shifted, tenkanP) + midpoint(series, shifted, kijunP)) / 2,
		SenkouB: midpoint(series, shifted, senkouP),
	}
	out.CloudGreen = out.SenkouA > out.SenkouB
	return out, true
}

// Bullish is the composite cloud condition: price above both spans, Tenkan
// above Kijun, and a green cloud.
func (ic Ichimoku) Bullish(price float64) bool {
	return price > ic.SenkouA && price > ic.SenkouB && ic.Tenkan > ic.Kijun && ic.CloudGreen
}

// midpoint is (highest high + lowest low)/2 over the period bars ending at end.
func midpoint(series domain.Series, end, period int) float64 {
	start := end - period + 1
	if start < 0 {
		start = 0
	}
	hh, ll := series[start].High, series[start].Low
	for _, c := range series[start+1 : end+1] {
		hh = math.Max(hh, c.High)
		ll = math.Min(ll, c.Low)
	}
	return (hh + ll) / 2
}
