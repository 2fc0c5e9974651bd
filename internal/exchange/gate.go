package exchange

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/momentumscan/internal/metrics"
)

// GateConfig holds the per-adapter throttling policy.
type GateConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent_requests"`
	RateLimitDelay   time.Duration `yaml:"rate_limit_delay"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	BreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	BreakerPause     time.Duration `yaml:"circuit_breaker_pause"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
}

// Gate is the process-wide throttle for one adapter: a bounded-concurrency
// semaphore, a token-bucket pacer between fetches, a retry policy, and two
// breakers. The rate-limit breaker is a consecutive-error counter that pauses
// the whole adapter; the transient breaker (gobreaker) sheds load when the
// upstream keeps failing hard for non-rate-limit reasons.
type Gate struct {
	exchange string
	cfg      GateConfig
	sem      chan struct{}
	pacer    *rate.Limiter

	rlErrors    atomic.Int32
	pausedUntil atomic.Int64 // unix nanos; 0 when not paused

	transient *gobreaker.CircuitBreaker
	log       zerolog.Logger
}

// NewGate builds a gate for one adapter.
func NewGate(exchange string, cfg GateConfig, log zerolog.Logger) *Gate {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimitDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.RateLimitDelay), 1)
	}

	st := gobreaker.Settings{
		Name:     exchange,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
	}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}

	return &Gate{
		exchange:  exchange,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		pacer:     pacer,
		transient: gobreaker.NewCircuitBreaker(st),
		log:       log.With().Str("exchange", exchange).Logger(),
	}
}

// PausedUntil returns the deadline of the current rate-limit pause, or the
// zero time when the adapter is not paused.
func (g *Gate) PausedUntil() time.Time {
	ns := g.pausedUntil.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Do runs fn under the gate: semaphore, rate-limit pause, pacing, per-call
// timeout, and up to RetryAttempts attempts with linear backoff. Errors are
// returned already classified.
func (g *Gate) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return Classify(g.exchange, op, ctx.Err())
	}
	defer func() { <-g.sem }()

	attempts := g.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if werr := g.waitForPause(ctx); werr != nil {
			return Classify(g.exchange, op, werr)
		}
		if werr := g.pacer.Wait(ctx); werr != nil {
			return Classify(g.exchange, op, werr)
		}

		err = g.attempt(ctx, op, fn)
		if err == nil {
			g.rlErrors.Store(0)
			return nil
		}
		g.observe(op, err)
		if !IsRetryable(err) || attempt == attempts-1 {
			break
		}
		backoff := g.cfg.RetryDelay * time.Duration(attempt+1)
		g.log.Warn().Str("op", op).Int("attempt", attempt+1).Dur("backoff", backoff).Err(err).
			Msg("fetch failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Classify(g.exchange, op, ctx.Err())
		}
	}
	return err
}

func (g *Gate) attempt(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.FetchTimeout)
	defer cancel()

	_, err := g.transient.Execute(func() (any, error) {
		err := fn(callCtx)
		if err == nil {
			return nil, nil
		}
		err = Classify(g.exchange, op, err)
		// Rate limits are handled by the counter breaker; reporting them as
		// gobreaker failures would conflate the two pause mechanisms.
		if IsRateLimited(err) {
			return nil, &softError{err}
		}
		return nil, err
	})
	if err == nil {
		return nil
	}
	var soft *softError
	if errors.As(err, &soft) {
		return soft.err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return NewError(KindTransient, g.exchange, op, err)
	}
	return Classify(g.exchange, op, err)
}

// observe feeds the rate-limit counter breaker. Consecutive rate-limit errors
// at the threshold pause the adapter and reset the counter; any other error
// resets the counter.
func (g *Gate) observe(op string, err error) {
	if !IsRateLimited(err) {
		g.rlErrors.Store(0)
		return
	}
	metrics.RateLimitErrors.WithLabelValues(g.exchange).Inc()
	n := g.rlErrors.Add(1)
	if int(n) >= g.cfg.BreakerThreshold && g.cfg.BreakerThreshold > 0 {
		until := time.Now().Add(g.cfg.BreakerPause)
		g.pausedUntil.Store(until.UnixNano())
		g.rlErrors.Store(0)
		metrics.BreakerTrips.WithLabelValues(g.exchange).Inc()
		g.log.Warn().Str("op", op).Time("until", until).
			Msg("rate-limit circuit breaker tripped, pausing adapter")
	}
}

func (g *Gate) waitForPause(ctx context.Context) error {
	for {
		ns := g.pausedUntil.Load()
		if ns == 0 {
			return nil
		}
		until := time.Unix(0, ns)
		wait := time.Until(until)
		if wait <= 0 {
			g.pausedUntil.CompareAndSwap(ns, 0)
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// softError carries a rate-limit error through gobreaker without counting it
// as a breaker failure.
type softError struct{ err error }

func (s *softError) Error() string { return s.err.Error() }
func (s *softError) Unwrap() error { return s.err }
