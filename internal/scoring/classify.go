// Package scoring turns a feature vector into labels, scores, and the
// risk advisory. Everything here is deterministic; the same inputs always
// produce the same outputs.
package scoring

import "math"

// Label is the seven-step signal classification.
type Label string

const (
	StrongBuy  Label = "Strong Buy"
	Buy        Label = "Buy"
	WeakBuy    Label = "Weak Buy"
	Neutral    Label = "Neutral"
	WeakSell   Label = "Weak Sell"
	Sell       Label = "Sell"
	StrongSell Label = "Strong Sell"
)

// Direction collapses a label onto the wire vocabulary.
func (l Label) Direction() string {
	switch l {
	case StrongBuy, Buy, WeakBuy:
		return "BUY"
	case StrongSell, Sell, WeakSell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// IsBuy reports whether the label is any of the buy grades.
func (l Label) IsBuy() bool { return l.Direction() == "BUY" }

// IsSell reports whether the label is any of the sell grades.
func (l Label) IsSell() bool { return l.Direction() == "SELL" }

// Thresholds are the per-(market, style) classification knobs.
type Thresholds struct {
	MomentumShort float64 `yaml:"momentum_short"`
	RSIMin        float64 `yaml:"rsi_min"`
	RSIMax        float64 `yaml:"rsi_max"`
	MACDMin       float64 `yaml:"macd_min"`
}

// ClassifyLabel applies the exact momentum-signal rules, first match wins.
func ClassifyLabel(momShort, momLong, rsi, macd float64, th Thresholds, ichimokuBullish bool) Label {
	momTh := th.MomentumShort

	if momShort > momTh*2 && momLong > momTh &&
		rsi > th.RSIMin && rsi < th.RSIMax &&
		macd > th.MACDMin && ichimokuBullish {
		return StrongBuy
	}
	if momShort > momTh && rsi > th.RSIMin && macd > 0 {
		return Buy
	}
	if momShort > 0 && rsi > 45 && macd > 0 {
		return WeakBuy
	}
	if momShort < -momTh*2 && momLong < -momTh &&
		rsi < 100-th.RSIMin && rsi > 20 &&
		macd < -th.MACDMin && !ichimokuBullish {
		return StrongSell
	}
	if momShort < -momTh && rsi < 100-th.RSIMin && macd < 0 {
		return Sell
	}
	if momShort < 0 && rsi < 55 && macd < 0 {
		return WeakSell
	}
	return Neutral
}

// State is the legacy categorical signal state.
type State string

const (
	StateConsistentUptrend State = "Consistent Uptrend"
	StateNewSpike          State = "New Spike"
	StateToppingOut        State = "Topping Out"
	StateLagging           State = "Lagging"
	StateModerateUptrend   State = "Moderate Uptrend"
	StatePotentialReversal State = "Potential Reversal"
	StateConsolidation     State = "Consolidation"
	StateWeakUptrend       State = "Weak Uptrend"
	StateOverbought        State = "Overbought"
	StateOversold          State = "Oversold"
	StateMACDBullish       State = "MACD Bullish"
	StateMACDBearish       State = "MACD Bearish"
	StateNeutral           State = "Neutral"
)

// ClassifyState applies the volatility-scaled legacy state rules in fixed
// order; the first matching predicate wins.
func ClassifyState(mom7d, mom30d, rsi, macd, bbPosition, volRatio float64) State {
	v := clamp(volRatio, 0.5, 2.0)
	thHigh := 0.07 * v
	thMed := 0.035 * v
	thLow := 0.015 * v

	switch {
	case mom7d > thMed && mom30d > thHigh && mom7d < 0.5*mom30d:
		return StateConsistentUptrend
	case mom7d > thHigh && math.Abs(mom30d) < thMed:
		return StateNewSpike
	case mom7d < -thMed && mom30d > thHigh && bbPosition > 0.80 && rsi > 65:
		return StateToppingOut
	case math.Abs(mom7d) < thLow && math.Abs(mom30d) < thMed:
		return StateLagging
	case thLow < mom7d && mom7d < thHigh && thMed < mom30d && mom30d < thHigh:
		return StateModerateUptrend
	case mom7d > thMed && mom30d < -thMed && rsi < 45:
		return StatePotentialReversal
	case math.Abs(mom7d) < thLow && math.Abs(mom30d) < thLow && rsi >= 40 && rsi <= 60:
		return StateConsolidation
	case mom7d > thLow && math.Abs(mom30d) < thLow:
		return StateWeakUptrend
	case rsi > 75 && mom7d > thMed:
		return StateOverbought
	case rsi < 25 && mom7d < -thMed:
		return StateOversold
	case macd > 0 && mom7d > thMed:
		return StateMACDBullish
	case macd < 0 && mom7d < -thMed:
		return StateMACDBearish
	default:
		return StateNeutral
	}
}

// RegimeState is the granular market-phase classification, a finer-grained
// companion to the legacy states.
type RegimeState string

const (
	BullEarly        RegimeState = "BULL_EARLY"
	BullStrong       RegimeState = "BULL_STRONG"
	BullParabolic    RegimeState = "BULL_PARABOLIC"
	BearEarly        RegimeState = "BEAR_EARLY"
	BearStrong       RegimeState = "BEAR_STRONG"
	BearCapitulation RegimeState = "BEAR_CAPITULATION"
	NeutralAccum     RegimeState = "NEUTRAL_ACCUM"
	NeutralDist      RegimeState = "NEUTRAL_DIST"
	NeutralState     RegimeState = "NEUTRAL"
)

// ClassifyRegimeState derives the market phase from daily/weekly/monthly
// momentum, RSI, and Bollinger position, scaled by volume.
func ClassifyRegimeState(mom1d, mom7d, mom30d, rsi, bbPos, volRatio float64) RegimeState {
	v := clamp(volRatio, 0.5, 2.0)
	thWeak := 0.015 * v
	thMed := 0.035 * v
	thStrong := 0.075 * v

	breakoutUp := bbPos > 0.85 && mom1d > thWeak
	breakoutDn := bbPos < 0.15 && mom1d < -thWeak
	thrustUp := mom1d > thMed && mom7d > thMed
	thrustDn := mom1d < -thMed && mom7d < -thMed
	parabolic := math.Abs(mom1d) > thStrong && math.Abs(mom7d) > thStrong

	switch {
	case parabolic && mom1d > 0:
		return BullParabolic
	case parabolic && mom1d < 0:
		return BearCapitulation
	case thrustUp:
		return BullStrong
	case thrustDn:
		return BearStrong
	case breakoutUp:
		return BullEarly
	case breakoutDn:
		return BearEarly
	}
	if -thWeak < mom7d && mom7d < thWeak {
		if rsi < 35 && mom1d > 0 {
			return NeutralAccum
		}
		if rsi > 65 && mom1d < 0 {
			return NeutralDist
		}
	}
	return NeutralState
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
