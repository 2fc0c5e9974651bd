package scan

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// ExchangeOutcome is one exchange's entry in the parallel breakdown.
type ExchangeOutcome struct {
	Exchange     string  `json:"exchange"`
	Success      bool    `json:"success"`
	Duration     float64 `json:"duration"`
	SignalsFound int     `json:"signals_found"`
	Error        string  `json:"error,omitempty"`
}

// Performance quantifies the parallel win over a sequential run. The
// sequential estimate is the sum of the per-exchange durations.
type Performance struct {
	ParallelDuration    float64           `json:"parallel_duration"`
	SequentialEstimated float64           `json:"sequential_duration_estimated"`
	Speedup             float64           `json:"speedup"`
	TimeSaved           float64           `json:"time_saved"`
	Filtering           float64           `json:"filtering"`
	Exchanges           []ExchangeOutcome `json:"exchanges"`
}

// ParallelResult aggregates per-exchange scans with the timing breakdown.
type ParallelResult struct {
	Rows         []Row       `json:"signals"`
	TotalScanned int         `json:"total_scanned"`
	Performance  Performance `json:"performance"`
	Timestamp    time.Time   `json:"timestamp"`
}

// ScanParallel runs one independent scan per exchange concurrently. A failed
// exchange is reported in its outcome; the aggregate never fails because of
// one exchange.
func (s *Scanner) ScanParallel(ctx context.Context, exchanges []string, opts Options) *ParallelResult {
	start := time.Now()

	type slot struct {
		result  *Result
		outcome ExchangeOutcome
	}
	slots := make([]slot, len(exchanges))

	var wg sync.WaitGroup
	for i, id := range exchanges {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			began := time.Now()
			res, err := s.ScanExchange(ctx, id, opts)
			elapsed := time.Since(began).Seconds()
			out := ExchangeOutcome{Exchange: id, Duration: elapsed}
			if err != nil {
				out.Error = err.Error()
				s.log.Warn().Str("exchange", id).Err(err).Msg("parallel scan leg failed")
			} else {
				out.Success = true
				out.SignalsFound = len(res.Rows)
			}
			slots[i] = slot{result: res, outcome: out}
		}(i, id)
	}
	wg.Wait()
	parallelDur := time.Since(start).Seconds()

	filterStart := time.Now()
	var rows []Row
	var totalScanned int
	outcomes := make([]ExchangeOutcome, len(slots))
	var sequential float64
	for i, sl := range slots {
		outcomes[i] = sl.outcome
		sequential += sl.outcome.Duration
		if sl.result != nil {
			rows = append(rows, sl.result.Rows...)
			totalScanned += sl.result.TotalScanned
		}
	}
	sortRows(rows)
	filtering := time.Since(filterStart).Seconds()

	speedup := 1.0
	if parallelDur > 0 {
		speedup = sequential / parallelDur
	}

	return &ParallelResult{
		Rows:         rows,
		TotalScanned: totalScanned,
		Timestamp:    time.Now().UTC(),
		Performance: Performance{
			ParallelDuration:    round3(parallelDur),
			SequentialEstimated: round3(sequential),
			Speedup:             round2(speedup),
			TimeSaved:           round3(sequential - parallelDur),
			Filtering:           round3(filtering),
			Exchanges:           outcomes,
		},
	}
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Combined > rows[j].Combined })
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
