// Package scan runs the synchronous scan pipeline: enumerate markets, fan out
// per-symbol analysis through the exchange gates, score, rank, truncate.
package scan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/momentumscan/internal/config"
	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/exchange"
	"github.com/sawpanic/momentumscan/internal/indicator"
	"github.com/sawpanic/momentumscan/internal/metrics"
	"github.com/sawpanic/momentumscan/internal/scoring"
)

// Row is one scored symbol, the unit of every scan result and of signal
// persistence. Rows are immutable after creation.
type Row struct {
	ID        string `json:"id"`
	Pair      string `json:"symbol"`
	Exchange  string `json:"exchange"`
	Timeframe string `json:"timeframe"`

	Label       scoring.Label       `json:"signal_label"`
	State       scoring.State       `json:"signal_state"`
	RegimeState scoring.RegimeState `json:"state"`

	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	VolumeUSD float64   `json:"volume_usd"`
	Timestamp time.Time `json:"timestamp"`

	Strength        float64 `json:"signal_strength"`
	Composite       float64 `json:"composite_score"`
	VolumeComposite float64 `json:"volume_composite_score"`
	Opportunity     float64 `json:"opportunity_score"`
	Combined        float64 `json:"combined_score"`
	Confidence      float64 `json:"confidence_score"`

	Risk   scoring.RiskAdvisory `json:"risk_reward"`
	Regime indicator.Regime     `json:"market_regime"`

	// Features carries the full vector for API shaping; not persisted.
	Features *indicator.FeatureVector `json:"-"`
}

// Timing is the single-scan phase breakdown, in seconds.
type Timing struct {
	Initialization float64 `json:"initialization"`
	ScanExecution  float64 `json:"scan_execution"`
	Filtering      float64 `json:"filtering"`
	Total          float64 `json:"total"`
}

// Result is one exchange's ranked scan output.
type Result struct {
	Exchange     string    `json:"exchange"`
	Rows         []Row     `json:"signals"`
	TotalScanned int       `json:"total_scanned"`
	Timing       Timing    `json:"timing"`
	Timestamp    time.Time `json:"timestamp"`
}

// Options parameterize one scan request.
type Options struct {
	Style        domain.Style
	MarketType   domain.MarketType
	Quote        string
	FullAnalysis bool
	MinVolumeUSD float64
	TopN         int
}

// Scanner owns the per-exchange clients and runs scans against them.
type Scanner struct {
	cfg     *config.Config
	clients map[string]*exchange.Client
	log     zerolog.Logger
}

func New(cfg *config.Config, clients map[string]*exchange.Client, log zerolog.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		clients: clients,
		log:     log.With().Str("component", "scanner").Logger(),
	}
}

// Client returns the client for one exchange, nil when not configured.
func (s *Scanner) Client(id string) *exchange.Client { return s.clients[id] }

// Exchanges lists the configured exchange IDs.
func (s *Scanner) Exchanges() []string {
	out := make([]string, 0, len(s.clients))
	for id := range s.clients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ScanExchange runs the full single-exchange pipeline. Per-symbol failures
// are logged and dropped; only a markets-enumeration failure fails the scan.
func (s *Scanner) ScanExchange(ctx context.Context, exchangeID string, opts Options) (*Result, error) {
	client, ok := s.clients[exchangeID]
	if !ok {
		return nil, fmt.Errorf("exchange %q not configured", exchangeID)
	}
	opts = s.withDefaults(opts)
	total := time.Now()

	tf, err := domain.TimeframeForStyle(opts.Style)
	if err != nil {
		return nil, err
	}

	symbols, err := client.Markets(ctx, opts.MarketType, opts.Quote)
	if err != nil {
		return nil, fmt.Errorf("list markets on %s: %w", exchangeID, err)
	}
	if len(symbols) > s.cfg.Scan.MaxSymbols {
		symbols = symbols[:s.cfg.Scan.MaxSymbols]
	}
	initDone := time.Now()

	s.log.Info().
		Str("exchange", exchangeID).
		Str("timeframe", string(tf)).
		Int("symbols", len(symbols)).
		Msg("scan started")

	rows := s.analyzeAll(ctx, client, symbols, tf, opts)
	execDone := time.Now()

	kept := rows[:0]
	for _, r := range rows {
		if r.VolumeUSD >= opts.MinVolumeUSD {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Combined > kept[j].Combined })
	if len(kept) > opts.TopN {
		kept = kept[:opts.TopN]
	}
	filterDone := time.Now()

	metrics.ScanDuration.WithLabelValues(exchangeID).Observe(filterDone.Sub(total).Seconds())
	for _, r := range kept {
		metrics.SignalsFound.WithLabelValues(r.Label.Direction()).Inc()
	}

	s.log.Info().
		Str("exchange", exchangeID).
		Int("scanned", len(symbols)).
		Int("signals", len(kept)).
		Dur("elapsed", filterDone.Sub(total)).
		Msg("scan complete")

	return &Result{
		Exchange:     exchangeID,
		Rows:         kept,
		TotalScanned: len(symbols),
		Timestamp:    time.Now().UTC(),
		Timing: Timing{
			Initialization: initDone.Sub(total).Seconds(),
			ScanExecution:  execDone.Sub(initDone).Seconds(),
			Filtering:      filterDone.Sub(execDone).Seconds(),
			Total:          filterDone.Sub(total).Seconds(),
		},
	}, nil
}

// analyzeAll fans the symbol list out across workers. The exchange gate
// bounds the I/O side; the worker count bounds the CPU side.
func (s *Scanner) analyzeAll(ctx context.Context, client *exchange.Client, symbols []domain.Symbol, tf domain.Timeframe, opts Options) []Row {
	workers := s.cfg.Gate.MaxConcurrent
	if workers > len(symbols) {
		workers = len(symbols)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan domain.Symbol)
	out := make(chan Row, len(symbols))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				row, err := s.analyzeSymbol(ctx, client, sym, tf, opts)
				if err != nil {
					s.log.Debug().Str("symbol", sym.String()).Err(err).Msg("symbol skipped")
					continue
				}
				out <- *row
			}
		}()
	}

	for _, sym := range symbols {
		select {
		case jobs <- sym:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	close(out)

	rows := make([]Row, 0, len(symbols))
	for r := range out {
		rows = append(rows, r)
	}
	return rows
}

func (s *Scanner) analyzeSymbol(ctx context.Context, client *exchange.Client, sym domain.Symbol, tf domain.Timeframe, opts Options) (*Row, error) {
	periods := s.cfg.PeriodsFor(string(opts.MarketType), opts.Style)
	limit := fetchLimit(periods, opts.FullAnalysis)

	series, err := client.OHLCV(ctx, sym, tf, limit)
	if err != nil {
		return nil, err
	}

	fv, err := indicator.Compute(series, indicator.Options{
		ShortPeriod: periods.Short,
		LongPeriod:  periods.Long,
		ProfileBins: s.cfg.Scan.ProfileBins,
	})
	if err != nil {
		return nil, err
	}

	th := s.cfg.ThresholdsFor(string(opts.MarketType), opts.Style)
	label := scoring.ClassifyLabel(fv.MomentumShort, fv.MomentumLong, fv.RSI, fv.MACDHist, th, fv.IchimokuBullish)
	state := scoring.ClassifyState(fv.Momentum7d, fv.Momentum30d, fv.RSI, fv.MACDHist, fv.BBPositionOrNeutral(), fv.VolumeRatio)
	regimeState := scoring.ClassifyRegimeState(fv.Momentum1d, fv.Momentum7d, fv.Momentum30d, fv.RSI, fv.BBPositionOrNeutral(), fv.VolumeRatio)

	strength := scoring.SignalStrength(fv.MomentumShort, fv.MomentumLong, fv.RSI, fv.MACDHist, fv.VolumeRatio)
	composite := scoring.Composite(fv.MomentumShort, fv.MomentumLong, fv.RSI, fv.MACDHist, fv.TrendScore, fv.VolumeRatio, fv.IchimokuBullish, fv.FibConfluence)
	volComposite := scoring.VolumeComposite(fv.VolumeRatio, fv.VolumeHist, fv.POCDistance)
	opportunity := scoring.Opportunity(fv.MomentumShort, fv.MomentumLong, fv.RSI, fv.MACDHist, fv.BBPosition, fv.TrendScore, fv.VolumeRatio, fv.StochK, fv.RSIBearishDiv)
	combined := scoring.Combined(opportunity, composite, volComposite, strength)
	confidence := indicator.ConfidenceScore(fv.MomentumShort, fv.MomentumLong, fv.RSI, fv.MACDHist, fv.TrendScore, fv.VolumeRatio)

	risk := scoring.StopTakeProfit(fv.Price, series, label, fv.ATR, fv.BBLower, fv.BBUpper, 2.5)

	return &Row{
		ID:              uuid.NewString(),
		Pair:            sym.Pair,
		Exchange:        sym.Exchange,
		Timeframe:       string(opts.Style),
		Label:           label,
		State:           state,
		RegimeState:     regimeState,
		Price:           fv.Price,
		Change:          round2(fv.MomentumShort * 100),
		VolumeUSD:       volumeUSD(series, opts.MarketType),
		Timestamp:       time.Now().UTC(),
		Strength:        strength,
		Composite:       composite,
		VolumeComposite: volComposite,
		Opportunity:     opportunity,
		Combined:        combined,
		Confidence:      confidence,
		Risk:            risk,
		Regime:          fv.Regime,
		Features:        fv,
	}, nil
}

func (s *Scanner) withDefaults(opts Options) Options {
	if opts.Style == "" {
		opts.Style = domain.StyleMedium
	}
	if opts.MarketType == "" {
		opts.MarketType = domain.MarketType(s.cfg.MarketType)
	}
	if opts.TopN <= 0 {
		opts.TopN = s.cfg.Scan.TopN
	}
	if opts.MinVolumeUSD <= 0 {
		opts.MinVolumeUSD = s.cfg.Scan.MinVolumeUSD
	}
	return opts
}

// fetchLimit sizes the candle request: enough history for the longest
// momentum window, tripled (capped at 500) when the full battery is wanted.
func fetchLimit(p config.MomentumPeriods, fullAnalysis bool) int {
	base := p.Long
	if p.Short > base {
		base = p.Short
	}
	base += 50
	if !fullAnalysis {
		return base
	}
	limit := base * 3
	if limit > 500 {
		limit = 500
	}
	return limit
}

// volumeUSD approximates traded value: mean(volume · close) for crypto,
// mean(volume) for forex where volume is already notional.
func volumeUSD(series domain.Series, market domain.MarketType) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, c := range series {
		if market == domain.MarketForex {
			sum += c.Volume
		} else {
			sum += c.Volume * c.Close
		}
	}
	return sum / float64(len(series))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
