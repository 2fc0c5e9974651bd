// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentumscan",
		Name:      "fetches_total",
		Help:      "Exchange fetches by exchange, operation and result.",
	}, []string{"exchange", "op", "result"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "momentumscan",
		Name:      "fetch_duration_seconds",
		Help:      "Exchange fetch latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"exchange", "op"})

	RateLimitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentumscan",
		Name:      "rate_limit_errors_total",
		Help:      "Rate-limit refusals per exchange.",
	}, []string{"exchange"})

	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentumscan",
		Name:      "breaker_trips_total",
		Help:      "Rate-limit circuit breaker trips per exchange.",
	}, []string{"exchange"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentumscan",
		Name:      "cache_hits_total",
		Help:      "OHLCV cache hits and misses.",
	}, []string{"result"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "momentumscan",
		Name:      "scan_duration_seconds",
		Help:      "Full scan duration per exchange.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120, 300},
	}, []string{"exchange"})

	SignalsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentumscan",
		Name:      "signals_found_total",
		Help:      "Signals produced by scans, labelled by signal.",
	}, []string{"signal"})

	StreamLoopErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momentumscan",
		Name:      "stream_loop_errors_total",
		Help:      "Continuous-scanner loop iteration failures.",
	}, []string{"loop"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "momentumscan",
		Name:      "websocket_clients",
		Help:      "Currently connected websocket subscribers.",
	})
)

// Handler exposes the default registry, mounted on /metrics.
func Handler() http.Handler { return promhttp.Handler() }
