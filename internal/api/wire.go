package api

import (
	"time"

	"github.com/sawpanic/momentumscan/internal/indicator"
	"github.com/sawpanic/momentumscan/internal/scan"
	"github.com/sawpanic/momentumscan/internal/scoring"
)

// WireIndicators is the abbreviated indicator block of the wire signal.
type WireIndicators struct {
	RSI    float64 `json:"rsi"`
	MACD   string  `json:"macd"`
	EMA    string  `json:"ema"`
	Volume string  `json:"volume"`
}

// WireAdvanced is the full scoring block of the wire signal.
type WireAdvanced struct {
	OpportunityScore float64  `json:"opportunity_score"`
	CompositeScore   float64  `json:"composite_score"`
	TrendScore       float64  `json:"trend_score"`
	ConfidenceScore  float64  `json:"confidence_score"`
	CombinedScore    float64  `json:"combined_score"`
	IchimokuBullish  bool     `json:"ichimoku_bullish"`
	VWAPBullish      bool     `json:"vwap_bullish"`
	BBPosition       *float64 `json:"bb_position"`
}

// WireSignal is the stable signal shape served by the scan endpoints.
type WireSignal struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Timeframe string    `json:"timeframe"`
	Signal    string    `json:"signal"`
	Strength  int       `json:"strength"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`

	Indicators   WireIndicators       `json:"indicators"`
	Advanced     WireAdvanced         `json:"advanced"`
	RiskReward   scoring.RiskAdvisory `json:"risk_reward"`
	MarketRegime indicator.Regime     `json:"market_regime"`
}

// toWire shapes one scan row onto the wire contract.
func toWire(r scan.Row) WireSignal {
	macd := "bearish"
	ema := "below"
	var rsi float64
	var bbPos *float64
	var ichimoku, vwap bool
	var trend float64
	if fv := r.Features; fv != nil {
		rsi = fv.RSI
		if fv.MACDHist > 0 {
			macd = "bullish"
		}
		if fv.EMA513Bullish {
			ema = "above"
		}
		bbPos = fv.BBPosition
		ichimoku = fv.IchimokuBullish
		vwap = fv.VWAPBullish
		trend = fv.TrendScore
	}

	volume := "medium"
	if fv := r.Features; fv != nil {
		if fv.VolumeRatio > 2 {
			volume = "very_high"
		} else if fv.VolumeRatio > 1.5 {
			volume = "high"
		}
	}

	return WireSignal{
		ID:        r.ID,
		Symbol:    r.Pair,
		Exchange:  r.Exchange,
		Timeframe: r.Timeframe,
		Signal:    r.Label.Direction(),
		Strength:  int(r.Strength),
		Price:     r.Price,
		Change:    r.Change,
		Volume:    r.VolumeUSD,
		Timestamp: r.Timestamp,
		Indicators: WireIndicators{
			RSI:    rsi,
			MACD:   macd,
			EMA:    ema,
			Volume: volume,
		},
		Advanced: WireAdvanced{
			OpportunityScore: r.Opportunity,
			CompositeScore:   r.Composite,
			TrendScore:       trend,
			ConfidenceScore:  r.Confidence,
			CombinedScore:    r.Combined,
			IchimokuBullish:  ichimoku,
			VWAPBullish:      vwap,
			BBPosition:       bbPos,
		},
		RiskReward:   r.Risk,
		MarketRegime: r.Regime,
	}
}

func toWireAll(rows []scan.Row) []WireSignal {
	out := make([]WireSignal, len(rows))
	for i, r := range rows {
		out[i] = toWire(r)
	}
	return out
}

// filterWire applies the signal-direction and minimum-strength filters.
func filterWire(signals []WireSignal, direction string, minStrength int) []WireSignal {
	out := make([]WireSignal, 0, len(signals))
	for _, s := range signals {
		if direction != "" && direction != "all" && s.Signal != direction {
			continue
		}
		if s.Strength < minStrength {
			continue
		}
		out = append(out, s)
	}
	return out
}
