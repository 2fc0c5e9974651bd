package stream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/momentumscan/internal/config"
	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/metrics"
	"github.com/sawpanic/momentumscan/internal/scan"
)

// Signal is one continuous-scanner observation for a (symbol, timeframe).
type Signal struct {
	Symbol     string           `json:"symbol"`
	Exchange   string           `json:"exchange"`
	Style      string           `json:"style"`
	Timeframe  domain.Timeframe `json:"timeframe"`
	Timestamp  time.Time        `json:"timestamp"`
	Price      float64          `json:"price"`
	Momentum   MomentumStats    `json:"momentum"`
	Reversion  ReversionStats   `json:"reversion"`
	Clustering ClusterStats     `json:"clustering"`
	Combined   float64          `json:"combined_score"`
	SignalType string           `json:"signal_type"`
}

// Tick is one live quote observation.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
}

// Breadth is the advancing/declining summary over the tick buffers.
type Breadth struct {
	Advancing    int     `json:"advancing"`
	Declining    int     `json:"declining"`
	BreadthRatio float64 `json:"breadth_ratio"`
	MarketBias   string  `json:"market_bias"`
}

// MarketState is the periodically refreshed global snapshot.
type MarketState struct {
	Timestamp        time.Time `json:"timestamp"`
	Breadth          Breadth   `json:"breadth"`
	VolatilityRegime string    `json:"volatility_regime"`
	ActiveSignals    int       `json:"active_signals"`
}

// FullScanSnapshot keeps the head of the last periodic full scan.
type FullScanSnapshot struct {
	Timestamp        time.Time  `json:"timestamp"`
	TotalSignals     int        `json:"total_signals"`
	TopOpportunities []scan.Row `json:"top_opportunities"`
}

// Sink receives everything the continuous scanner persists.
type Sink interface {
	AppendSignal(ctx context.Context, symbol string, sig Signal) error
	WriteOHLCV(ctx context.Context, symbol string, tf domain.Timeframe, series domain.Series) error
	AppendCluster(ctx context.Context, rec ClusterRecord) error
}

// Continuous runs the four monitoring loops and owns their shared buffers.
type Continuous struct {
	cfg     config.StreamConfig
	scanner *scan.Scanner
	sink    Sink
	log     zerolog.Logger

	mu           sync.RWMutex
	ticks        map[string]*Ring[Tick]
	candles      map[string]*Ring[domain.Candle]
	signals      map[string]*Ring[Signal]
	marketState  *MarketState
	lastFullScan *FullScanSnapshot

	symbols   []string
	exchanges []string

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewContinuous(cfg config.StreamConfig, scanner *scan.Scanner, sink Sink, log zerolog.Logger) *Continuous {
	return &Continuous{
		cfg:     cfg,
		scanner: scanner,
		sink:    sink,
		log:     log.With().Str("component", "continuous").Logger(),
		ticks:   make(map[string]*Ring[Tick]),
		candles: make(map[string]*Ring[domain.Candle]),
		signals: make(map[string]*Ring[Signal]),
	}
}

// Running reports whether the loops are live.
func (c *Continuous) Running() bool { return c.running.Load() }

// Start launches the four loops. Returns an error if already running or no
// configured exchange matches the request.
func (c *Continuous) Start(symbols, exchanges []string) error {
	if c.running.Load() {
		return fmt.Errorf("continuous scanner already running")
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to monitor")
	}
	var usable []string
	for _, id := range exchanges {
		if c.scanner.Client(id) != nil {
			usable = append(usable, id)
		}
	}
	if len(usable) == 0 {
		return fmt.Errorf("none of the requested exchanges are configured")
	}

	c.symbols = symbols
	c.exchanges = usable
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running.Store(true)

	c.log.Info().
		Int("symbols", len(symbols)).
		Strs("exchanges", usable).
		Msg("continuous scanner started")

	c.runLoop(ctx, "tick", c.cfg.TickInterval, c.tickPass)
	c.runLoop(ctx, "signal", c.cfg.SignalInterval, c.signalPass)
	c.runLoop(ctx, "market_state", c.cfg.MarketStateInterval, c.marketStatePass)
	c.runLoop(ctx, "full_scan", c.cfg.FullScanInterval, c.fullScanPass)
	return nil
}

// Stop cancels the loops and waits for them to drain. Buffers are preserved
// for shutdown inspection.
func (c *Continuous) Stop() {
	if !c.running.Load() {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.running.Store(false)
	c.log.Info().Msg("continuous scanner stopped")
}

// runLoop drives one pass function at the given period. A failed pass logs,
// counts, and sleeps half the period before the next attempt.
func (c *Continuous) runLoop(ctx context.Context, name string, period time.Duration, pass func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if ctx.Err() != nil {
				return
			}
			sleep := period
			if err := pass(ctx); err != nil && ctx.Err() == nil {
				metrics.StreamLoopErrors.WithLabelValues(name).Inc()
				c.log.Error().Str("loop", name).Err(err).Msg("loop pass failed")
				sleep = period / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
		}
	}()
}

func (c *Continuous) tickPass(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, id := range c.exchanges {
		client := c.scanner.Client(id)
		for _, pair := range c.symbols {
			wg.Add(1)
			go func(id, pair string) {
				defer wg.Done()
				sym := domain.Symbol{Exchange: id, Pair: pair}
				ticker, err := client.Ticker(ctx, sym)
				if err != nil {
					c.log.Debug().Str("symbol", sym.String()).Err(err).Msg("tick fetch failed")
					return
				}
				c.tickRing(sym.String()).Push(Tick{
					Symbol:    sym.String(),
					Timestamp: time.Now().UTC(),
					Price:     ticker.Last,
					Volume:    ticker.QuoteVolume,
					Bid:       ticker.Bid,
					Ask:       ticker.Ask,
				})
			}(id, pair)
		}
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Continuous) signalPass(ctx context.Context) error {
	styles := make([]string, 0, len(c.cfg.Timeframes))
	for style := range c.cfg.Timeframes {
		styles = append(styles, style)
	}
	sort.Strings(styles)

	var wg sync.WaitGroup
	for _, pair := range c.symbols {
		for _, style := range styles {
			wg.Add(1)
			go func(pair, style string) {
				defer wg.Done()
				c.generateSignal(ctx, pair, style, c.cfg.Timeframes[style])
			}(pair, style)
		}
	}
	wg.Wait()
	return ctx.Err()
}

// generateSignal tries each exchange in order; the first that yields candles
// wins for this (symbol, timeframe) pass.
func (c *Continuous) generateSignal(ctx context.Context, pair, style string, tf domain.Timeframe) {
	for _, id := range c.exchanges {
		client := c.scanner.Client(id)
		sym := domain.Symbol{Exchange: id, Pair: pair}
		series, err := client.OHLCV(ctx, sym, tf, 100)
		if err != nil || len(series) == 0 {
			continue
		}

		candleRing := c.candleRing(sym.String(), tf)
		last, ok := candleRing.Last()
		for _, candle := range series {
			if !ok || candle.Timestamp.After(last.Timestamp) {
				candleRing.Push(candle)
			}
		}

		clusters, _ := DetectClusters(series)
		reversion, _ := DetectReversion(series)
		momentum, _ := DetectMomentum(series, clusters)
		combined := momentum.Score*c.cfg.MomentumBias + reversion.Score*(1-c.cfg.MomentumBias)

		sig := Signal{
			Symbol:     pair,
			Exchange:   id,
			Style:      style,
			Timeframe:  tf,
			Timestamp:  time.Now().UTC(),
			Price:      series.Last().Close,
			Momentum:   momentum,
			Reversion:  reversion,
			Clustering: clusters,
			Combined:   combined,
			SignalType: SignalTypeOf(momentum, reversion, combined),
		}
		c.signalRing(sym.String(), style).Push(sig)

		if c.sink != nil {
			if err := c.sink.AppendSignal(ctx, sym.String(), sig); err != nil {
				c.log.Warn().Err(err).Msg("signal persist failed")
			}
			if err := c.sink.WriteOHLCV(ctx, sym.String(), tf, series.Tail(500)); err != nil {
				c.log.Warn().Err(err).Msg("ohlcv persist failed")
			}
			if clusters.TotalClusters > 0 {
				rec := ClusterRecord{
					Symbol:       sym.String(),
					Timeframe:    tf,
					Timestamp:    sig.Timestamp,
					ClusterStats: clusters,
				}
				if err := c.sink.AppendCluster(ctx, rec); err != nil {
					c.log.Warn().Err(err).Msg("cluster persist failed")
				}
			}
		}
		return
	}
}

func (c *Continuous) marketStatePass(ctx context.Context) error {
	c.mu.RLock()
	tickRings := make([]*Ring[Tick], 0, len(c.ticks))
	for _, r := range c.ticks {
		tickRings = append(tickRings, r)
	}
	signalRings := make([]*Ring[Signal], 0, len(c.signals))
	for _, r := range c.signals {
		signalRings = append(signalRings, r)
	}
	c.mu.RUnlock()

	var advancing, declining int
	var changes []float64
	for _, r := range tickRings {
		ticks := r.Items()
		if len(ticks) < 2 {
			continue
		}
		diff := ticks[len(ticks)-1].Price - ticks[0].Price
		if diff > 0 {
			advancing++
		} else if diff < 0 {
			declining++
		}
		for i := 1; i < len(ticks); i++ {
			if ticks[i-1].Price != 0 {
				change := (ticks[i].Price - ticks[i-1].Price) / ticks[i-1].Price
				if change < 0 {
					change = -change
				}
				changes = append(changes, change)
			}
		}
	}

	ratio := 0.5
	if advancing+declining > 0 {
		ratio = float64(advancing) / float64(advancing+declining)
	}
	bias := "neutral"
	if ratio > 0.6 {
		bias = "bullish"
	} else if ratio < 0.4 {
		bias = "bearish"
	}

	regime := "unknown"
	if len(changes) > 0 {
		var sum float64
		for _, v := range changes {
			sum += v
		}
		mean := sum / float64(len(changes))
		switch {
		case mean > 0.01:
			regime = "high"
		case mean > 0.005:
			regime = "medium"
		default:
			regime = "low"
		}
	}

	var active int
	for _, r := range signalRings {
		for _, s := range r.Items() {
			if s.Combined > 60 {
				active++
			}
		}
	}

	state := &MarketState{
		Timestamp: time.Now().UTC(),
		Breadth: Breadth{
			Advancing:    advancing,
			Declining:    declining,
			BreadthRatio: ratio,
			MarketBias:   bias,
		},
		VolatilityRegime: regime,
		ActiveSignals:    active,
	}

	c.mu.Lock()
	c.marketState = state
	c.mu.Unlock()
	return ctx.Err()
}

func (c *Continuous) fullScanPass(ctx context.Context) error {
	primary := c.exchanges[0]
	res, err := c.scanner.ScanExchange(ctx, primary, scan.Options{
		Style:        domain.StyleMedium,
		FullAnalysis: true,
	})
	if err != nil {
		return err
	}
	top := res.Rows
	if len(top) > 10 {
		top = top[:10]
	}
	c.mu.Lock()
	c.lastFullScan = &FullScanSnapshot{
		Timestamp:        time.Now().UTC(),
		TotalSignals:     len(res.Rows),
		TopOpportunities: top,
	}
	c.mu.Unlock()
	return nil
}

func (c *Continuous) tickRing(key string) *Ring[Tick] {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.ticks[key]
	if !ok {
		r = NewRing[Tick](c.cfg.TickBufferSize)
		c.ticks[key] = r
	}
	return r
}

func (c *Continuous) candleRing(symbol string, tf domain.Timeframe) *Ring[domain.Candle] {
	key := symbol + ":" + string(tf)
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.candles[key]
	if !ok {
		r = NewRing[domain.Candle](c.cfg.CandleBufferSize)
		c.candles[key] = r
	}
	return r
}

func (c *Continuous) signalRing(symbol, style string) *Ring[Signal] {
	key := symbol + ":" + style
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.signals[key]
	if !ok {
		r = NewRing[Signal](c.cfg.SignalBufferSize)
		c.signals[key] = r
	}
	return r
}

// MarketState returns the latest snapshot, nil before the first pass.
func (c *Continuous) MarketState() *MarketState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marketState
}

// LastFullScan returns the latest periodic-scan snapshot.
func (c *Continuous) LastFullScan() *FullScanSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFullScan
}

// BufferSizes reports current buffer occupancy for the status endpoint.
func (c *Continuous) BufferSizes() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ticks, candles, signals := 0, 0, 0
	for _, r := range c.ticks {
		ticks += r.Len()
	}
	for _, r := range c.candles {
		candles += r.Len()
	}
	for _, r := range c.signals {
		signals += r.Len()
	}
	return map[string]int{"ticks": ticks, "candles": candles, "signals": signals}
}

// LatestSignals filters buffered signals by symbol substring, timeframe, and
// minimum score, sorted by (combined desc, timestamp desc).
func (c *Continuous) LatestSignals(symbol string, tf string, minScore float64, limit int) []Signal {
	if limit <= 0 {
		limit = 50
	}
	c.mu.RLock()
	rings := make([]*Ring[Signal], 0, len(c.signals))
	for _, r := range c.signals {
		rings = append(rings, r)
	}
	c.mu.RUnlock()

	var out []Signal
	for _, r := range rings {
		for _, s := range r.Items() {
			if symbol != "" && !strings.Contains(s.Symbol, symbol) {
				continue
			}
			if tf != "" && string(s.Timeframe) != tf && s.Style != tf {
				continue
			}
			if s.Combined < minScore {
				continue
			}
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Combined != out[j].Combined {
			return out[i].Combined > out[j].Combined
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ConfluenceResult is the multi-timeframe agreement summary for one symbol.
type ConfluenceResult struct {
	Symbol             string            `json:"symbol"`
	Confluence         bool              `json:"confluence"`
	TimeframesAnalyzed int               `json:"timeframes_analyzed"`
	AverageScore       float64           `json:"average_score"`
	BullishTimeframes  int               `json:"bullish_timeframes"`
	BearishTimeframes  int               `json:"bearish_timeframes"`
	DominantBias       string            `json:"dominant_bias"`
	Details            map[string]Signal `json:"timeframe_details"`
	Recommendation     string            `json:"recommendation"`
	Message            string            `json:"message,omitempty"`
}

// Confluence gathers the latest signal per configured timeframe and checks
// directional agreement. Confluence requires two or more timeframes agreeing
// and every agreeing signal at or above minScore; the recommendation is
// STRONG above a mean of 75, MODERATE on confluence, WEAK otherwise.
func (c *Continuous) Confluence(symbol string, minScore float64) ConfluenceResult {
	if minScore <= 0 {
		minScore = c.cfg.ConfluenceThreshold
	}
	if minScore <= 0 {
		minScore = 60
	}
	details := make(map[string]Signal)
	c.mu.RLock()
	for style := range c.cfg.Timeframes {
		for key, r := range c.signals {
			if !strings.Contains(key, symbol) || !strings.HasSuffix(key, ":"+style) {
				continue
			}
			if s, ok := r.Last(); ok {
				details[style] = s
			}
		}
	}
	c.mu.RUnlock()

	if len(details) == 0 {
		return ConfluenceResult{Symbol: symbol, Message: "No signals found"}
	}

	var sum float64
	var bullish, bearish int
	bullMin, bearMin := 101.0, 101.0
	for _, s := range details {
		sum += s.Combined
		switch {
		case strings.Contains(s.SignalType, "BUY") || strings.Contains(s.SignalType, "BULLISH"):
			bullish++
			if s.Combined < bullMin {
				bullMin = s.Combined
			}
		case strings.Contains(s.SignalType, "SELL") || strings.Contains(s.SignalType, "BEARISH"):
			bearish++
			if s.Combined < bearMin {
				bearMin = s.Combined
			}
		}
	}
	mean := sum / float64(len(details))

	bias := "neutral"
	dominantMin := 0.0
	if bullish > bearish {
		bias = "bullish"
		dominantMin = bullMin
	} else if bearish > bullish {
		bias = "bearish"
		dominantMin = bearMin
	}

	confluence := (bullish >= 2 || bearish >= 2) && dominantMin >= minScore

	rec := "WEAK"
	if confluence {
		rec = "MODERATE"
		if mean > 75 {
			rec = "STRONG"
		}
	}

	return ConfluenceResult{
		Symbol:             symbol,
		Confluence:         confluence,
		TimeframesAnalyzed: len(details),
		AverageScore:       mean,
		BullishTimeframes:  bullish,
		BearishTimeframes:  bearish,
		DominantBias:       bias,
		Details:            details,
		Recommendation:     rec,
	}
}

// SeedSignal injects a signal into the buffers. Test and replay hook.
func (c *Continuous) SeedSignal(symbol string, sig Signal) {
	c.signalRing(symbol, sig.Style).Push(sig)
}
