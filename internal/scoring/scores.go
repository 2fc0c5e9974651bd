package scoring

import "math"

// SignalStrength grades conviction 0..100, starting from a neutral 50.
func SignalStrength(momShort, momLong, rsi, macd, volRatio float64) float64 {
	score := 50.0
	momentumScore := math.Min(math.Abs(momShort)*1000, 15) + math.Min(math.Abs(momLong)*500, 15)
	if momShort > 0 && momLong > 0 {
		score += momentumScore
	} else {
		score -= momentumScore
	}
	if rsi > 40 && rsi < 60 {
		score += 5
	} else if rsi > 70 || rsi < 30 {
		score -= 10
	}
	if macd > 0 {
		score += math.Min(math.Abs(macd)*50, 10)
	} else {
		score -= math.Min(math.Abs(macd)*50, 10)
	}
	if volRatio > 1.2 {
		score += 5
	} else if volRatio < 0.8 {
		score -= 3
	}
	return clamp(score, 0, 100)
}

// Composite blends seven normalized technical components into a 0..100
// technical-strength score.
func Composite(momShort, momLong, rsi, macd, trendScore, volRatio float64, ichimokuBullish bool, fibConfluence float64) float64 {
	momShortScore := clamp(math.Abs(momShort)*1000, 0, 1)
	momLongScore := clamp(math.Abs(momLong)*500, 0, 1)
	var rsiScore float64
	if rsi >= 50 {
		rsiScore = clamp((rsi-50)/30, 0, 1)
	} else {
		rsiScore = clamp((50-rsi)/30, 0, 1)
	}
	macdScore := clamp(math.Abs(macd)*50, 0, 1)
	trendNorm := clamp(trendScore/10, 0, 1)
	volScore := clamp((volRatio-1)/1.5, 0, 1)
	ichimokuScore := 0.0
	if ichimokuBullish {
		ichimokuScore = 1.0
	}
	fibScore := clamp(fibConfluence/100, 0, 1)

	score := momShortScore*0.20 +
		momLongScore*0.15 +
		rsiScore*0.20 +
		macdScore*0.15 +
		trendNorm*0.20 +
		volScore*0.10 +
		ichimokuScore*0.10 +
		fibScore*0.15
	return round2(score * 100)
}

// VolumeComposite scores volume context 0..100 from the ratio, histogram
// concentration, and proximity to the point of control.
func VolumeComposite(volRatio float64, volumeHist []float64, pocDistance float64) float64 {
	volRatioScore := clamp((volRatio-1)/1.5, 0, 1)

	var histScore float64
	if len(volumeHist) > 0 {
		var maxV, sum float64
		for _, v := range volumeHist {
			if v > maxV {
				maxV = v
			}
			sum += v
		}
		if sum > 0 {
			histScore = clamp(maxV/sum, 0, 1)
		}
	}

	pocScore := clamp(1-math.Abs(pocDistance)/0.05, 0, 1)

	return round2((volRatioScore*0.5 + histScore*0.3 + pocScore*0.2) * 100)
}

// Opportunity scores entry quality 0..100. It favors pullbacks in trends and
// penalizes chasing extended moves; a bearish RSI divergence halves the score.
// Optional inputs pass nil when the window was too short.
func Opportunity(momShort, momLong, rsi, macd float64, bbPosition *float64, trendScore, volRatio float64, stochK *float64, rsiBearishDiv bool) float64 {
	var rsiOpp float64
	switch {
	case rsi < 30:
		rsiOpp = 0.3 // falling knife
	case rsi < 45:
		rsiOpp = 1.0 // pullback sweet spot
	case rsi < 55:
		rsiOpp = 0.8
	case rsi < 70:
		rsiOpp = 0.5
	default:
		rsiOpp = 0.2
	}

	bbOpp := 0.5
	if bbPosition != nil {
		switch bb := *bbPosition; {
		case bb < 0.3:
			bbOpp = 1.0
		case bb < 0.5:
			bbOpp = 0.9
		case bb < 0.7:
			bbOpp = 0.6
		default:
			bbOpp = 0.2
		}
	}

	stochOpp := 0.5
	if stochK != nil {
		switch k := *stochK; {
		case k < 20:
			if momLong > 0 {
				stochOpp = 1.0
			} else {
				stochOpp = 0.3
			}
		case k < 40:
			stochOpp = 0.9
		case k < 60:
			stochOpp = 0.7
		case k < 80:
			stochOpp = 0.4
		default:
			stochOpp = 0.1
		}
	}

	var momOpp float64
	switch {
	case momLong > 0.001:
		switch {
		case momShort > -0.005 && momShort < 0.002:
			momOpp = 1.0 // pullback in an uptrend
		case momShort > 0.005:
			momOpp = 0.4 // already running hot
		default:
			momOpp = 0.6
		}
	case momLong < -0.001:
		if momShort > -0.002 && momShort < 0.005 {
			momOpp = 1.0
		} else {
			momOpp = 0.5
		}
	default:
		momOpp = 0.5
	}

	divergencePenalty := 1.0
	if rsiBearishDiv {
		divergencePenalty = 0.5
	}

	var volOpp float64
	switch {
	case volRatio > 1.5:
		if rsi < 55 {
			volOpp = 1.0
		} else {
			volOpp = 0.3
		}
	case volRatio > 1.2:
		volOpp = 0.8
	case volRatio > 0.8:
		volOpp = 0.6
	default:
		volOpp = 0.4
	}

	trendOpp := clamp(trendScore/10, 0, 1)

	var macdOpp float64
	switch {
	case momLong > 0 && macd > -0.5 && macd < 0:
		macdOpp = 1.0
	case macd > 0:
		if macd < 2 {
			macdOpp = 0.7
		} else {
			macdOpp = 0.3
		}
	default:
		macdOpp = 0.5
	}

	opportunity := (rsiOpp*0.25 +
		bbOpp*0.20 +
		stochOpp*0.15 +
		momOpp*0.15 +
		volOpp*0.10 +
		trendOpp*0.10 +
		macdOpp*0.05) * divergencePenalty
	return round2(opportunity * 100)
}

// Combined is the sole ranking key.
func Combined(opportunity, composite, volumeComposite, strength float64) float64 {
	return opportunity*0.50 + composite*0.25 + volumeComposite*0.15 + strength*0.10
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
