package indicator

import (
	"github.com/sawpanic/momentumscan/internal/domain"
)

// VolumeProfile buckets close prices into equal-width bins weighted by volume
// and returns the histogram plus the point of control (midpoint of the argmax
// bin).
func VolumeProfile(series domain.Series, bins int) (hist []float64, poc float64, ok bool) {
	if len(series) < 2 || bins < 2 {
		return nil, 0, false
	}
	lo, hi := series[0].Close, series[0].Close
	for _, c := range series[1:] {
		if c.Close < lo {
			lo = c.Close
		}
		if c.Close > hi {
			hi = c.Close
		}
	}
	if hi == lo {
		return nil, 0, false
	}
	width := (hi - lo) / float64(bins)
	hist = make([]float64, bins)
	for _, c := range series {
		idx := int((c.Close - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		hist[idx] += c.Volume
	}
	maxIdx := 0
	for i, v := range hist {
		if v > hist[maxIdx] {
			maxIdx = i
		}
	}
	poc = lo + width*(float64(maxIdx)+0.5)
	return hist, poc, true
}

// AnchoredVolumeProfile computes the profile over the window starting at the
// bar with the highest high.
func AnchoredVolumeProfile(series domain.Series, bins int) (hist []float64, poc float64, ok bool) {
	if len(series) < 2 {
		return nil, 0, false
	}
	anchor := 0
	for i, c := range series {
		if c.High > series[anchor].High {
			anchor = i
		}
	}
	return VolumeProfile(series[anchor:], bins)
}

// FixedRangeVolumeProfile computes the profile over the bars whose close sits
// within priceRange centered on the current close.
func FixedRangeVolumeProfile(series domain.Series, priceRange float64, bins int) (hist []float64, poc float64, ok bool) {
	if len(series) < 2 || priceRange <= 0 {
		return nil, 0, false
	}
	center := series[len(series)-1].Close
	lo, hi := center-priceRange/2, center+priceRange/2
	in := make(domain.Series, 0, len(series))
	for _, c := range series {
		if c.Close >= lo && c.Close <= hi {
			in = append(in, c)
		}
	}
	return VolumeProfile(in, bins)
}
