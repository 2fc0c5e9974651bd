package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/scan"
	"github.com/sawpanic/momentumscan/internal/scoring"
)

// ScanRequest parameterizes a one-shot scan. Exchange accepts a string or an
// array of strings; more than one exchange implies a parallel scan unless
// overridden.
type ScanRequest struct {
	Timeframe    string          `json:"timeframe"`
	Exchange     json.RawMessage `json:"exchange"`
	Parallel     *bool           `json:"parallel"`
	Signal       string          `json:"signal"`
	MinStrength  *int            `json:"minStrength"`
	FullAnalysis *bool           `json:"fullAnalysis"`
}

type scanFilters struct {
	Signal      string `json:"signal"`
	MinStrength int    `json:"min_strength"`
}

type scanMetadata struct {
	Count           int               `json:"count"`
	Timeframe       string            `json:"timeframe"`
	Exchanges       []string          `json:"exchanges"`
	Timestamp       time.Time         `json:"timestamp"`
	DurationSeconds float64           `json:"duration_seconds"`
	TotalScanned    int               `json:"total_scanned"`
	Performance     *scan.Performance `json:"performance,omitempty"`
	FiltersApplied  scanFilters       `json:"filters_applied"`
}

type scanResponse struct {
	Signals  []WireSignal `json:"signals"`
	Metadata scanMetadata `json:"metadata"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
			return
		}
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = string(domain.StyleMedium)
	}
	if _, err := domain.TimeframeForStyle(domain.Style(timeframe)); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeframe %q", timeframe))
		return
	}

	signal := req.Signal
	if signal == "" {
		signal = "all"
	}
	if signal != "all" && signal != "BUY" && signal != "SELL" && signal != "HOLD" {
		writeError(w, http.StatusBadRequest, "signal must be one of all, BUY, SELL, HOLD")
		return
	}

	minStrength := 50
	if req.MinStrength != nil {
		minStrength = *req.MinStrength
	}
	if minStrength < 0 || minStrength > 100 {
		writeError(w, http.StatusBadRequest, "minStrength must be between 0 and 100")
		return
	}

	exchanges, err := parseExchanges(req.Exchange)
	if err != nil {
		writeError(w, http.StatusBadRequest, "exchange must be a string or an array of strings")
		return
	}
	if len(exchanges) == 0 {
		exchanges = s.scanner.Exchanges()
		if len(exchanges) > 1 {
			exchanges = exchanges[:1]
		}
	}
	if len(exchanges) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no exchanges configured")
		return
	}

	fullAnalysis := true
	if req.FullAnalysis != nil {
		fullAnalysis = *req.FullAnalysis
	}
	parallel := len(exchanges) > 1
	if req.Parallel != nil {
		parallel = *req.Parallel
	}

	opts := scan.Options{
		Style:        domain.Style(timeframe),
		FullAnalysis: fullAnalysis,
	}

	start := time.Now()
	var signals []WireSignal
	var totalScanned int
	var perf *scan.Performance

	if parallel {
		res := s.scanner.ScanParallel(r.Context(), exchanges, opts)
		signals = toWireAll(res.Rows)
		totalScanned = res.TotalScanned
		perf = &res.Performance
	} else {
		res, scanErr := s.scanner.ScanExchange(r.Context(), exchanges[0], opts)
		if scanErr != nil {
			writeError(w, http.StatusBadGateway, scanErr.Error())
			return
		}
		signals = toWireAll(res.Rows)
		totalScanned = res.TotalScanned
	}

	filtered := filterWire(signals, signal, minStrength)
	now := time.Now().UTC()

	s.mu.Lock()
	s.last = &lastScan{
		Signals:   signals,
		Exchanges: exchanges,
		Timeframe: timeframe,
		Timestamp: now,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, scanResponse{
		Signals: filtered,
		Metadata: scanMetadata{
			Count:           len(filtered),
			Timeframe:       timeframe,
			Exchanges:       exchanges,
			Timestamp:       now,
			DurationSeconds: time.Since(start).Seconds(),
			TotalScanned:    totalScanned,
			Performance:     perf,
			FiltersApplied:  scanFilters{Signal: signal, MinStrength: minStrength},
		},
	})
}

// handleSignals re-filters the retained result of the most recent scan.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last == nil {
		writeJSON(w, http.StatusOK, scanResponse{
			Signals:  []WireSignal{},
			Metadata: scanMetadata{FiltersApplied: scanFilters{Signal: "all"}},
		})
		return
	}

	q := r.URL.Query()
	signal := q.Get("signal")
	if signal == "" {
		signal = "all"
	}
	minStrength := 0
	if v := q.Get("minStrength"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "minStrength must be between 0 and 100")
			return
		}
		minStrength = n
	}

	filtered := filterWire(last.Signals, signal, minStrength)
	if ex := q.Get("exchange"); ex != "" {
		kept := filtered[:0]
		for _, sig := range filtered {
			if sig.Exchange == ex {
				kept = append(kept, sig)
			}
		}
		filtered = kept
	}

	writeJSON(w, http.StatusOK, scanResponse{
		Signals: filtered,
		Metadata: scanMetadata{
			Count:          len(filtered),
			Timeframe:      last.Timeframe,
			Exchanges:      last.Exchanges,
			Timestamp:      last.Timestamp,
			FiltersApplied: scanFilters{Signal: signal, MinStrength: minStrength},
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	resp := map[string]any{
		"exchanges":          s.scanner.Exchanges(),
		"continuous_running": s.continuous.Running(),
	}
	if last != nil {
		resp["last_scan_timestamp"] = last.Timestamp
		resp["last_scan_count"] = len(last.Signals)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ContinuousStartRequest names the universe the loops should monitor.
type ContinuousStartRequest struct {
	Symbols   []string `json:"symbols"`
	Exchanges []string `json:"exchanges"`
}

func (s *Server) handleContinuousStart(w http.ResponseWriter, r *http.Request) {
	var req ContinuousStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols must not be empty")
		return
	}
	exchanges := req.Exchanges
	if len(exchanges) == 0 {
		exchanges = s.scanner.Exchanges()
	}
	if err := s.continuous.Start(req.Symbols, exchanges); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "started",
		"symbols":   req.Symbols,
		"exchanges": exchanges,
	})
}

func (s *Server) handleContinuousStop(w http.ResponseWriter, r *http.Request) {
	if !s.continuous.Running() {
		writeError(w, http.StatusServiceUnavailable, "Scanner not running")
		return
	}
	s.continuous.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleContinuousStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":      s.continuous.Running(),
		"buffer_sizes": s.continuous.BufferSizes(),
		"market_state": s.continuous.MarketState(),
	})
}

func (s *Server) handleContinuousSignals(w http.ResponseWriter, r *http.Request) {
	if !s.continuous.Running() {
		writeError(w, http.StatusServiceUnavailable, "Scanner not running")
		return
	}
	q := r.URL.Query()
	minScore := 0.0
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_score must be a number")
			return
		}
		minScore = f
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	signals := s.continuous.LatestSignals(q.Get("symbol"), q.Get("timeframe"), minScore, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"signals": signals,
		"count":   len(signals),
	})
}

func (s *Server) handleConfluence(w http.ResponseWriter, r *http.Request) {
	if !s.continuous.Running() {
		writeError(w, http.StatusServiceUnavailable, "Scanner not running")
		return
	}
	symbol := pathSymbol(mux.Vars(r)["symbol"])
	minScore := 0.0
	if v := r.URL.Query().Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_score must be a number")
			return
		}
		minScore = f
	}
	writeJSON(w, http.StatusOK, s.continuous.Confluence(symbol, minScore))
}

func (s *Server) handleMarketState(w http.ResponseWriter, r *http.Request) {
	if !s.continuous.Running() {
		writeError(w, http.StatusServiceUnavailable, "Scanner not running")
		return
	}
	state := s.continuous.MarketState()
	if state == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "warming up"})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleTrainingData(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(mux.Vars(r)["symbol"])
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	timeframes := make([]domain.Timeframe, 0, len(s.cfg.Stream.Timeframes))
	for _, tf := range s.cfg.Stream.Timeframes {
		timeframes = append(timeframes, tf)
	}

	ds, err := s.store.TrainingDataset(symbol, days, timeframes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"days":    days,
		"dataset": ds,
	})
}

// PositionRequest carries the sizing inputs for one trade.
type PositionRequest struct {
	AccountBalance float64 `json:"accountBalance"`
	RiskPerTrade   float64 `json:"riskPerTrade"`
	EntryPrice     float64 `json:"entryPrice"`
	StopLoss       float64 `json:"stopLoss"`
	Leverage       float64 `json:"leverage"`
	FeeRate        float64 `json:"feeRate"`
}

func (s *Server) handlePositionCalculate(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	size, err := scoring.CalculatePositionSize(
		req.AccountBalance, req.RiskPerTrade, req.EntryPrice,
		req.StopLoss, req.Leverage, req.FeeRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, size)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// parseExchanges accepts "kraken" or ["kraken", "bybit"].
func parseExchanges(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil, nil
		}
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// pathSymbol restores the pair separator; "BTC-USDT" in the path means
// "BTC/USDT".
func pathSymbol(v string) string {
	return strings.ReplaceAll(v, "-", "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
