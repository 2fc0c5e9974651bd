package stream

import (
	"math"
	"strings"
	"time"

	"github.com/sawpanic/momentumscan/internal/domain"
)

// ClusterStats summarizes high-volume candle clustering over the last 20 bars.
type ClusterStats struct {
	TotalClusters    int     `json:"total_clusters"`
	BullishClusters  int     `json:"bullish_clusters"`
	BearishClusters  int     `json:"bearish_clusters"`
	DirectionalRatio float64 `json:"directional_ratio"`
	FollowThrough    float64 `json:"follow_through"`
	TrendFormation   bool    `json:"trend_formation_signal"`
	Strength         float64 `json:"cluster_strength"`
}

// ClusterRecord is the persisted clustering row.
type ClusterRecord struct {
	Symbol    string           `json:"symbol"`
	Timeframe domain.Timeframe `json:"timeframe"`
	Timestamp time.Time        `json:"timestamp"`
	ClusterStats
}

// DetectClusters groups runs of consecutive high-volume candles (volume above
// 2x the 20-bar mean) by direction and measures follow-through over the last
// three bars. Needs 20 bars.
func DetectClusters(series domain.Series) (ClusterStats, bool) {
	if len(series) < 20 {
		return ClusterStats{}, false
	}
	recent := series.Tail(20)

	var volSum float64
	for _, c := range recent {
		volSum += c.Volume
	}
	threshold := volSum / float64(len(recent)) * 2.0

	type cluster struct {
		bullish bool
		size    int
	}
	var clusters []cluster
	var cur cluster
	for _, c := range recent {
		if c.Volume <= threshold {
			if cur.size > 0 {
				clusters = append(clusters, cur)
			}
			cur = cluster{}
			continue
		}
		bullish := c.Close > c.Open
		if cur.size == 0 || cur.bullish == bullish {
			cur.bullish = bullish
			cur.size++
		} else {
			clusters = append(clusters, cur)
			cur = cluster{bullish: bullish, size: 1}
		}
	}
	if cur.size > 0 {
		clusters = append(clusters, cur)
	}

	if len(clusters) == 0 {
		return ClusterStats{}, true
	}

	var bull, bear int
	for _, cl := range clusters {
		if cl.bullish {
			bull++
		} else {
			bear++
		}
	}
	ratio := float64(max(bull, bear)) / float64(len(clusters))

	lastBullish := clusters[len(clusters)-1].bullish
	var matching int
	for _, c := range recent.Tail(3) {
		if (c.Close > c.Open) == lastBullish {
			matching++
		}
	}
	followThrough := float64(matching) / 3

	formation := ratio > 0.7 && followThrough > 0.5
	return ClusterStats{
		TotalClusters:    len(clusters),
		BullishClusters:  bull,
		BearishClusters:  bear,
		DirectionalRatio: ratio,
		FollowThrough:    followThrough,
		TrendFormation:   formation,
		Strength:         ratio * followThrough,
	}, true
}

// ReversionStats is the exhaustion-flag breakdown behind the reversion score.
type ReversionStats struct {
	Score              float64 `json:"reversion_score"`
	MomentumExhaustion bool    `json:"momentum_exhaustion"`
	ConsecutiveMoves   int     `json:"consecutive_moves"`
	VolumeExhaustion   bool    `json:"volume_exhaustion"`
	ExcessiveGain      bool    `json:"excessive_gain"`
	RecentGainPct      float64 `json:"recent_gain_pct"`
	Overbought         bool    `json:"is_overbought"`
	Oversold           bool    `json:"is_oversold"`
	Direction          string  `json:"reversion_direction"`
	Candidate          bool    `json:"reversion_candidate"`
}

// DetectReversion scores mean-reversion likelihood from four exhaustion flags,
// each worth 25 points: a run of 4+ same-direction moves, a fading volume
// spike, a >15% five-bar move, and an RSI extreme. Needs 10 bars.
func DetectReversion(series domain.Series) (ReversionStats, bool) {
	if len(series) < 10 {
		return ReversionStats{}, false
	}
	recent := series.Tail(10)
	closes := recent.Closes()
	volumes := recent.Volumes()

	changes := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			changes = append(changes, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	consecutive := consecutiveMoves(changes)
	momentumExhaustion := consecutive >= 4

	var volSum float64
	for _, v := range volumes {
		volSum += v
	}
	volMean := volSum / float64(len(volumes))
	n := len(volumes)
	last3Mean := (volumes[n-1] + volumes[n-2] + volumes[n-3]) / 3
	var volTrend float64
	var trendTerms int
	for i := n - 2; i < n; i++ {
		if volumes[i-1] != 0 {
			volTrend += (volumes[i] - volumes[i-1]) / volumes[i-1]
			trendTerms++
		}
	}
	if trendTerms > 0 {
		volTrend /= float64(trendTerms)
	}
	volumeExhaustion := last3Mean > volMean*1.5 && volTrend < -0.1

	all := series.Closes()
	var recentGain float64
	if len(all) >= 5 && all[len(all)-5] != 0 {
		recentGain = (all[len(all)-1] - all[len(all)-5]) / all[len(all)-5]
	}
	excessiveGain := math.Abs(recentGain) > 0.15

	rsi := simpleRSI(all, 14)
	overbought := rsi > 70
	oversold := rsi < 30

	flags := 0
	for _, f := range []bool{momentumExhaustion, volumeExhaustion, excessiveGain, overbought || oversold} {
		if f {
			flags++
		}
	}
	score := float64(flags) / 4 * 100

	direction := "bullish"
	if recentGain > 0 {
		direction = "bearish"
	}

	return ReversionStats{
		Score:              score,
		MomentumExhaustion: momentumExhaustion,
		ConsecutiveMoves:   consecutive,
		VolumeExhaustion:   volumeExhaustion,
		ExcessiveGain:      excessiveGain,
		RecentGainPct:      recentGain * 100,
		Overbought:         overbought,
		Oversold:           oversold,
		Direction:          direction,
		Candidate:          score > 50,
	}, true
}

// consecutiveMoves counts same-direction non-trivial (>0.1%) returns from the
// end of the window.
func consecutiveMoves(changes []float64) int {
	valid := make([]float64, 0, len(changes))
	for _, c := range changes {
		if math.Abs(c) > 0.001 {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return 0
	}
	lastSign := math.Signbit(valid[len(valid)-1])
	count := 1
	for i := len(valid) - 2; i >= 0; i-- {
		if math.Signbit(valid[i]) == lastSign {
			count++
		} else {
			break
		}
	}
	return count
}

// simpleRSI is the plain rolling-mean RSI used by the reversion detector (not
// Wilder's); 50 when undefined.
func simpleRSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// MomentumStats is the cluster-validated momentum sub-score.
type MomentumStats struct {
	Score            float64 `json:"momentum_score"`
	PriceChangePct   float64 `json:"price_change_pct"`
	VolumeRatio      float64 `json:"volume_ratio"`
	ClusterValidated bool    `json:"cluster_validated"`
	Strength         string  `json:"strength_classification"`
}

// DetectMomentum scores 10-bar price momentum weighted by the 5-vs-20 bar
// volume ratio, boosted by x(1+cluster_strength) when clustering confirms the
// move. Needs 20 bars. Capped at 100.
func DetectMomentum(series domain.Series, clusters ClusterStats) (MomentumStats, bool) {
	if len(series) < 20 {
		return MomentumStats{}, false
	}
	recent := series.Tail(20)
	closes := recent.Closes()
	volumes := recent.Volumes()

	var priceChange float64
	if closes[len(closes)-10] != 0 {
		priceChange = (closes[len(closes)-1] - closes[len(closes)-10]) / closes[len(closes)-10]
	}

	var last5, total float64
	for i, v := range volumes {
		total += v
		if i >= len(volumes)-5 {
			last5 += v
		}
	}
	volRatio := 1.0
	if total > 0 {
		volRatio = (last5 / 5) / (total / float64(len(volumes)))
	}

	score := math.Abs(priceChange) * volRatio * 100

	validated := clusters.TrendFormation && clusters.Strength > 0.5
	if validated {
		score *= 1 + clusters.Strength
	}
	if score > 100 {
		score = 100
	}

	strength := "weak"
	if score > 80 {
		strength = "strong"
	} else if score > 50 {
		strength = "moderate"
	}

	return MomentumStats{
		Score:            score,
		PriceChangePct:   priceChange * 100,
		VolumeRatio:      volRatio,
		ClusterValidated: validated,
		Strength:         strength,
	}, true
}

// SignalTypeOf derives the categorical signal. Momentum wins outright above
// 70 without a reversion candidate; a reversion candidate names its direction;
// otherwise the combined score grades STRONG/WEAK by the momentum sign.
func SignalTypeOf(momentum MomentumStats, reversion ReversionStats, combined float64) string {
	if momentum.Score > 70 && !reversion.Candidate {
		if momentum.PriceChangePct > 0 {
			return "MOMENTUM_BUY"
		}
		return "MOMENTUM_SELL"
	}
	if reversion.Candidate {
		return "REVERSION_" + strings.ToUpper(reversion.Direction)
	}
	if combined > 60 {
		if momentum.PriceChangePct > 0 {
			return "STRONG_BUY"
		}
		return "STRONG_SELL"
	}
	if combined > 40 {
		if momentum.PriceChangePct > 0 {
			return "WEAK_BUY"
		}
		return "WEAK_SELL"
	}
	return "NEUTRAL"
}
