package scoring

import (
	"fmt"
	"math"

	"github.com/sawpanic/momentumscan/internal/domain"
)

// RiskAdvisory is the stop-loss / take-profit recommendation for one signal.
type RiskAdvisory struct {
	EntryPrice      float64  `json:"entry_price"`
	StopLoss        float64  `json:"stop_loss"`
	TakeProfit      float64  `json:"take_profit"`
	RiskAmount      float64  `json:"risk_amount"`
	RewardAmount    float64  `json:"reward_amount"`
	RiskRewardRatio float64  `json:"risk_reward_ratio"`
	StopLossPct     float64  `json:"stop_loss_pct"`
	TakeProfitPct   float64  `json:"take_profit_pct"`
	SupportLevel    *float64 `json:"support_level"`
	ResistanceLevel *float64 `json:"resistance_level"`
}

// StopTakeProfit derives the advisory. For a buy the stop is the tightest
// valid candidate of (1.5·ATR below entry, 0.5% below support, 3% below
// entry), candidates outside the (0.5%, 8%) distance band discarded; the
// take-profit is the closer of the RR target and just under resistance.
// Mirrored for a sell; Neutral gets conservative ±3% levels.
func StopTakeProfit(price float64, series domain.Series, label Label, atr float64, bbLower, bbUpper *float64, riskReward float64) RiskAdvisory {
	if riskReward <= 0 {
		riskReward = 2.5
	}
	if atr == 0 && len(series) > 0 {
		n := len(series)
		take := 14
		if n < take {
			take = n
		}
		var sum float64
		for _, c := range series[n-take:] {
			sum += c.High - c.Low
		}
		atr = sum / float64(take)
	}

	swingLow, swingHigh := recentSwing(series, 20)
	support := swingLow
	if bbLower != nil {
		support = *bbLower
	}
	resistance := swingHigh
	if bbUpper != nil {
		resistance = *bbUpper
	}

	var stop, tp, risk, actualRR float64
	switch {
	case label.IsBuy():
		candidates := []float64{price - atr*1.5, support * 0.995, price * 0.97}
		valid := make([]float64, 0, len(candidates))
		for _, s := range candidates {
			d := (price - s) / price
			if d > 0.005 && d < 0.08 {
				valid = append(valid, s)
			}
		}
		stop = price - atr*1.5
		if len(valid) > 0 {
			stop = valid[0]
			for _, s := range valid[1:] {
				stop = math.Max(stop, s)
			}
		}
		risk = price - stop
		rewardByRR := price + risk*riskReward
		resistanceTP := resistance * 0.995
		if resistanceTP > price && resistanceTP < rewardByRR {
			tp = resistanceTP
			actualRR = (tp - price) / risk
		} else {
			tp = rewardByRR
			actualRR = riskReward
		}

	case label.IsSell():
		candidates := []float64{price + atr*1.5, resistance * 1.005, price * 1.03}
		valid := make([]float64, 0, len(candidates))
		for _, s := range candidates {
			d := (s - price) / price
			if d > 0.005 && d < 0.08 {
				valid = append(valid, s)
			}
		}
		stop = price + atr*1.5
		if len(valid) > 0 {
			stop = valid[0]
			for _, s := range valid[1:] {
				stop = math.Min(stop, s)
			}
		}
		risk = stop - price
		rewardByRR := price - risk*riskReward
		supportTP := support * 1.005
		if supportTP < price && supportTP > rewardByRR {
			tp = supportTP
			actualRR = (price - tp) / risk
		} else {
			tp = rewardByRR
			actualRR = riskReward
		}

	default:
		stop = price * 0.97
		tp = price * 1.03
		risk = price - stop
		if risk > 0 {
			actualRR = (tp - price) / risk
		}
	}

	adv := RiskAdvisory{
		EntryPrice:      round8(price),
		StopLoss:        round8(stop),
		TakeProfit:      round8(tp),
		RiskAmount:      round8(math.Abs(price - stop)),
		RewardAmount:    round8(math.Abs(tp - price)),
		RiskRewardRatio: round2(actualRR),
		StopLossPct:     round2((stop - price) / price * 100),
		TakeProfitPct:   round2((tp - price) / price * 100),
	}
	if support != 0 {
		s := round8(support)
		adv.SupportLevel = &s
	}
	if resistance != 0 {
		r := round8(resistance)
		adv.ResistanceLevel = &r
	}
	return adv
}

func recentSwing(series domain.Series, lookback int) (low, high float64) {
	if len(series) == 0 {
		return 0, 0
	}
	window := series.Tail(lookback)
	low, high = window[0].Low, window[0].High
	for _, c := range window[1:] {
		low = math.Min(low, c.Low)
		high = math.Max(high, c.High)
	}
	return low, high
}

// PositionSize is the sizing advisory for one trade.
type PositionSize struct {
	PositionValue    float64  `json:"position_value"`
	Units            float64  `json:"units"`
	MarginRequired   float64  `json:"margin_required"`
	RiskAmountUSD    float64  `json:"risk_amount_usd"`
	AdjustedRiskUSD  float64  `json:"adjusted_risk_usd"`
	TotalFees        float64  `json:"total_fees"`
	StopDistancePct  float64  `json:"stop_distance_pct"`
	StopDistanceUSD  float64  `json:"stop_distance_usd"`
	Leverage         float64  `json:"leverage"`
	LiquidationPrice *float64 `json:"liquidation_price"`
	AccountBalance   float64  `json:"account_balance"`
	RiskPerTradePct  float64  `json:"risk_per_trade_pct"`
	MarginUsagePct   float64  `json:"margin_usage_pct"`
	Warnings         []string `json:"warnings"`
	SafeToTrade      bool     `json:"safe_to_trade"`
}

// CalculatePositionSize sizes a position from the account risk budget and the
// stop distance: position_value = risk_usd / stop_distance · leverage.
func CalculatePositionSize(balance, riskPct, entry, stop, leverage, feeRate float64) (PositionSize, error) {
	if balance <= 0 {
		return PositionSize{}, fmt.Errorf("accountBalance must be positive")
	}
	if entry <= 0 {
		return PositionSize{}, fmt.Errorf("entryPrice must be positive")
	}
	if stop == entry {
		return PositionSize{}, fmt.Errorf("stopLoss must differ from entryPrice")
	}
	if leverage <= 0 {
		leverage = 1
	}

	riskUSD := balance * riskPct / 100
	stopDistance := math.Abs((entry - stop) / entry)
	basePosition := riskUSD / stopDistance
	positionValue := basePosition * leverage
	units := positionValue / entry
	totalFees := 2 * positionValue * feeRate
	marginRequired := positionValue / leverage

	var liquidation *float64
	if leverage > 1 {
		buffer := marginRequired * 0.9
		var lp float64
		if stop < entry {
			lp = entry - buffer/units
		} else {
			lp = entry + buffer/units
		}
		lp = round8(lp)
		liquidation = &lp
	}

	var warnings []string
	if marginRequired > balance {
		warnings = append(warnings, "Insufficient balance for this position")
	}
	if marginRequired > balance*0.5 {
		warnings = append(warnings, "Position uses >50% of account (high risk)")
	}
	if leverage > 3 {
		warnings = append(warnings, fmt.Sprintf("High leverage (%.0fx) - increased liquidation risk", leverage))
	}
	if riskPct > 3 {
		warnings = append(warnings, fmt.Sprintf("Risking %.1f%% per trade (recommended: 1-2%%)", riskPct))
	}
	if liquidation != nil &&
		((stop < entry && *liquidation > stop) || (stop > entry && *liquidation < stop)) {
		warnings = append(warnings, "Liquidation price is beyond stop-loss - very risky!")
	}

	safe := true
	for _, w := range warnings {
		if w == "Insufficient balance for this position" || w == "Liquidation price is beyond stop-loss - very risky!" {
			safe = false
		}
	}

	return PositionSize{
		PositionValue:    round2(positionValue),
		Units:            round8(units),
		MarginRequired:   round2(marginRequired),
		RiskAmountUSD:    round2(riskUSD),
		AdjustedRiskUSD:  round2(riskUSD - totalFees),
		TotalFees:        round2(totalFees),
		StopDistancePct:  round2(stopDistance * 100),
		StopDistanceUSD:  round2(math.Abs(entry-stop) * units),
		Leverage:         leverage,
		LiquidationPrice: liquidation,
		AccountBalance:   balance,
		RiskPerTradePct:  riskPct,
		MarginUsagePct:   round2(marginRequired / balance * 100),
		Warnings:         warnings,
		SafeToTrade:      safe,
	}, nil
}

func round8(v float64) float64 { return math.Round(v*1e8) / 1e8 }
