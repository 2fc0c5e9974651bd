package indicator

import (
	"math"

	"github.com/sawpanic/momentumscan/internal/domain"
)

// FibLevels are the retracement and extension levels between the most recent
// swing high and swing low.
type FibLevels struct {
	Direction          string // "bull" or "bear"
	SwingHigh          float64
	SwingLow           float64
	Retracements       map[float64]float64
	Extensions         map[float64]float64
	NearestRetracement float64
	NearestExtension   float64
}

var fibRetracementRatios = []float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1.0}
var fibExtensionRatios = []float64{1.272, 1.618, 2.0}

// ComputeFib derives levels from the last lookback bars. The later of the
// swing high and swing low decides direction: a more recent high means the
// market is retracing from a high (bull).
func ComputeFib(series domain.Series, lookback int) (FibLevels, bool) {
	if len(series) < lookback {
		return FibLevels{}, false
	}
	window := series[len(series)-lookback:]
	hiIdx, loIdx := 0, 0
	for i, c := range window {
		if c.High > window[hiIdx].High {
			hiIdx = i
		}
		if c.Low < window[loIdx].Low {
			loIdx = i
		}
	}
	swingHigh, swingLow := window[hiIdx].High, window[loIdx].Low

	out := FibLevels{
		SwingHigh:    swingHigh,
		SwingLow:     swingLow,
		Retracements: make(map[float64]float64, len(fibRetracementRatios)),
		Extensions:   make(map[float64]float64, len(fibExtensionRatios)),
	}
	var base, top float64
	if hiIdx > loIdx {
		out.Direction = "bull"
		base, top = swingLow, swingHigh
	} else {
		out.Direction = "bear"
		base, top = swingHigh, swingLow
	}
	diff := math.Abs(top - base)
	for _, r := range fibRetracementRatios {
		if out.Direction == "bull" {
			out.Retracements[r] = top - r*diff
		} else {
			out.Retracements[r] = top + r*diff
		}
	}
	for _, r := range fibExtensionRatios {
		ext := (r - 1) * diff
		if out.Direction == "bull" {
			out.Extensions[r] = top + ext
		} else {
			out.Extensions[r] = top - ext
		}
	}

	current := series[len(series)-1].Close
	out.NearestRetracement = nearestLevel(out.Retracements, current)
	out.NearestExtension = nearestLevel(out.Extensions, current)
	return out, true
}

func nearestLevel(levels map[float64]float64, price float64) float64 {
	var best float64
	bestDist := math.Inf(1)
	for _, v := range levels {
		if d := math.Abs(v - price); d < bestDist {
			bestDist = d
			best = v
		}
	}
	return best
}

// FibConfluence scores how tightly price, fib levels, POC and VWAP cluster:
// 20 points per level within tolerance, capped at 100.
func FibConfluence(fib FibLevels, price, poc, vwap, tolerance float64) float64 {
	if price == 0 || len(fib.Retracements) == 0 {
		return 0
	}
	var score float64
	for _, lvl := range fib.Retracements {
		if math.Abs(price-lvl)/price < tolerance {
			score += 20
		}
	}
	for _, lvl := range fib.Extensions {
		if math.Abs(price-lvl)/price < tolerance {
			score += 20
		}
	}
	if poc != 0 && math.Abs(price-poc)/price < tolerance {
		score += 20
	}
	if vwap != 0 && math.Abs(price-vwap)/price < tolerance {
		score += 20
	}
	return math.Min(100, score)
}
