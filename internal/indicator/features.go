package indicator

import (
	"fmt"

	"github.com/sawpanic/momentumscan/internal/domain"
)

// Options parameterize feature computation. Zero values take the defaults.
type Options struct {
	ShortPeriod int // momentum short period
	LongPeriod  int // momentum long period
	ProfileBins int
	FibLookback int
}

func (o Options) withDefaults() Options {
	if o.ShortPeriod <= 0 {
		o.ShortPeriod = 7
	}
	if o.LongPeriod <= 0 {
		o.LongPeriod = 30
	}
	if o.ProfileBins <= 0 {
		o.ProfileBins = 50
	}
	if o.FibLookback <= 0 {
		o.FibLookback = 55
	}
	return o
}

// FeatureVector is the full indicator battery for one candle window. Optional
// fields use pointers; nil means the window was too short and the scorer
// treats the value as neutral.
type FeatureVector struct {
	Price float64

	MomentumShort float64
	MomentumLong  float64
	Momentum1d    float64
	Momentum7d    float64
	Momentum30d   float64

	RSI    float64
	StochK *float64
	StochD *float64

	MACDHist float64
	EMA5     float64
	EMA9     float64
	EMA13    float64
	EMA21    float64
	EMA50    float64
	EMA200   float64
	SMA20    float64
	SMA50    float64
	ADX      float64

	ATR        float64
	BBUpper    *float64
	BBMiddle   *float64
	BBLower    *float64
	BBWidth    *float64
	BBPosition *float64

	VolumeRatio   float64
	OBV           float64
	VolumeHist    []float64
	POCPrice      float64
	POCDistance   float64
	AnchoredPOC   float64
	FixedRangePOC float64

	Ichimoku        *Ichimoku
	IchimokuBullish bool

	VWAP        float64
	VWAPBullish bool

	Fib           *FibLevels
	FibConfluence float64

	TrendScore    float64
	RSIBearishDiv bool

	EMA513Bullish   bool
	EMA921Bullish   bool
	EMA50200Bullish bool

	Regime Regime
}

// BBPositionOrNeutral returns the Bollinger position, 0.5 when unavailable.
func (fv *FeatureVector) BBPositionOrNeutral() float64 {
	if fv.BBPosition == nil {
		return 0.5
	}
	return *fv.BBPosition
}

// Compute derives the feature vector from one cleaned candle window.
func Compute(series domain.Series, opts Options) (*FeatureVector, error) {
	opts = opts.withDefaults()
	maxPeriod := opts.ShortPeriod
	if opts.LongPeriod > maxPeriod {
		maxPeriod = opts.LongPeriod
	}
	if len(series) < maxPeriod+2 || len(series) < 30 {
		need := maxPeriod + 2
		if need < 30 {
			need = 30
		}
		return nil, fmt.Errorf("%w: have %d candles, need at least %d",
			ErrInsufficientData, len(series), need)
	}

	closes := series.Closes()
	volumes := series.Volumes()
	price := closes[len(closes)-1]

	fv := &FeatureVector{Price: price}

	fv.MomentumShort, _ = Momentum(closes, opts.ShortPeriod)
	fv.MomentumLong, _ = Momentum(closes, opts.LongPeriod)
	fv.Momentum1d, _ = Momentum(closes, 1)
	fv.Momentum7d, _ = Momentum(closes, 7)
	fv.Momentum30d, _ = Momentum(closes, 30)

	fv.RSI, _ = RSI(closes, 14)
	if k, d, ok := Stochastic(series, 14); ok {
		fv.StochK, fv.StochD = &k, &d
	}

	fv.MACDHist, _ = MACDHist(closes, 12, 26, 9)
	fv.EMA5, _ = EMA(closes, 5)
	fv.EMA9, _ = EMA(closes, 9)
	fv.EMA13, _ = EMA(closes, 13)
	fv.EMA21, _ = EMA(closes, 21)
	fv.EMA50, _ = EMA(closes, 50)
	fv.EMA200, _ = EMA(closes, 200)
	fv.SMA20, _ = SMA(closes, 20)
	fv.SMA50, _ = SMA(closes, 50)
	fv.ADX, _ = ADX(series, 14)
	fv.ATR, _ = ATR(series, 14)

	if upper, middle, lower, ok := Bollinger(closes, 20, 2); ok {
		width := 0.0
		if middle != 0 {
			width = (upper - lower) / middle
		}
		pos := BollingerPosition(price, upper, lower)
		fv.BBUpper, fv.BBMiddle, fv.BBLower = &upper, &middle, &lower
		fv.BBWidth, fv.BBPosition = &width, &pos
	}

	fv.VolumeRatio = VolumeRatio(volumes)
	fv.OBV = OBV(series)

	if hist, poc, ok := VolumeProfile(series, opts.ProfileBins); ok {
		fv.VolumeHist = hist
		fv.POCPrice = poc
		if poc != 0 {
			fv.POCDistance = (price - poc) / poc
		}
	}
	if _, poc, ok := AnchoredVolumeProfile(series, opts.ProfileBins); ok {
		fv.AnchoredPOC = poc
	}
	priceRange := rangeOf(series) * 0.2
	if _, poc, ok := FixedRangeVolumeProfile(series, priceRange, opts.ProfileBins); ok {
		fv.FixedRangePOC = poc
	}

	if ic, ok := ComputeIchimoku(series, 9, 26, 52); ok {
		fv.Ichimoku = &ic
		fv.IchimokuBullish = ic.Bullish(price)
	}

	if vwap, ok := VWAP(series); ok {
		fv.VWAP = vwap
		fv.VWAPBullish = price > vwap
	}

	lookback := opts.FibLookback
	if len(series) < lookback {
		lookback = len(series)
	}
	if fib, ok := ComputeFib(series, lookback); ok {
		fv.Fib = &fib
		fv.FibConfluence = FibConfluence(fib, price, fv.POCPrice, fv.VWAP, 0.005)
	}

	fv.TrendScore = TrendScore(series, fv.ADX)
	fv.RSIBearishDiv = RSIBearishDivergence(series, 14, 10)

	fv.EMA513Bullish = fv.EMA5 > fv.EMA13 && fv.EMA13 != 0
	fv.EMA921Bullish = fv.EMA9 > fv.EMA21 && fv.EMA21 != 0
	fv.EMA50200Bullish = fv.EMA50 > fv.EMA200 && fv.EMA200 != 0

	fv.Regime = DetectRegime(series, fv.ADX, fv.ATR)

	return fv, nil
}

func rangeOf(series domain.Series) float64 {
	if len(series) == 0 {
		return 0
	}
	hi, lo := series[0].High, series[0].Low
	for _, c := range series[1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return hi - lo
}
