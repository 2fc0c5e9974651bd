package exchange

import (
	"context"
	"time"

	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/metrics"
)

// Client pairs an adapter with its gate and cache. All scanning code fetches
// through a Client, never through a raw Adapter.
type Client struct {
	adapter Adapter
	gate    *Gate
	cache   Cache
}

func NewClient(adapter Adapter, gate *Gate, cache Cache) *Client {
	return &Client{adapter: adapter, gate: gate, cache: cache}
}

func (c *Client) ID() string { return c.adapter.ID() }

// Gate exposes the throttle for status reporting.
func (c *Client) Gate() *Gate { return c.gate }

func (c *Client) Markets(ctx context.Context, marketType domain.MarketType, quote string) ([]domain.Symbol, error) {
	var out []domain.Symbol
	err := c.timed(ctx, "fetch_markets", func(ctx context.Context) error {
		var err error
		out, err = c.adapter.FetchMarkets(ctx, marketType, quote)
		return err
	})
	return out, err
}

// OHLCV is a cache read-through fetch. Candles are cleaned at ingress, so the
// cache only ever holds validated, strictly ordered series.
func (c *Client) OHLCV(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) (domain.Series, error) {
	if c.cache != nil {
		if series, ok := c.cache.Get(ctx, symbol, tf, limit); ok {
			return series, nil
		}
	}
	var series domain.Series
	err := c.timed(ctx, "fetch_ohlcv", func(ctx context.Context) error {
		raw, err := c.adapter.FetchOHLCV(ctx, symbol, tf, limit)
		if err != nil {
			return err
		}
		series = domain.Clean(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Put(ctx, symbol, tf, limit, series)
	}
	return series, nil
}

func (c *Client) Ticker(ctx context.Context, symbol domain.Symbol) (domain.Ticker, error) {
	var out domain.Ticker
	err := c.timed(ctx, "fetch_ticker", func(ctx context.Context) error {
		var err error
		out, err = c.adapter.FetchTicker(ctx, symbol)
		return err
	})
	return out, err
}

func (c *Client) Close() error { return c.adapter.Close() }

func (c *Client) timed(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := c.gate.Do(ctx, op, fn)
	metrics.FetchDuration.WithLabelValues(c.adapter.ID(), op).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	metrics.FetchesTotal.WithLabelValues(c.adapter.ID(), op, result).Inc()
	return err
}
