package exchange

import (
	"context"

	"github.com/sawpanic/momentumscan/internal/domain"
)

// Adapter is the unified exchange contract. Implementations normalize
// upstream responses into domain types and classify every error through the
// taxonomy in errors.go; the orchestrator never sees anything else.
type Adapter interface {
	// ID returns the exchange identifier, e.g. "kucoinfutures".
	ID() string

	// FetchMarkets lists active markets matching the market type whose quote
	// currency passes the universe filter (USDT/USD/BUSD for crypto, the
	// major-pair allowlist for forex).
	FetchMarkets(ctx context.Context, marketType domain.MarketType, quote string) ([]domain.Symbol, error)

	// FetchOHLCV returns up to limit candles, oldest first. Malformed candles
	// are dropped before return.
	FetchOHLCV(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) (domain.Series, error)

	// FetchTicker returns the latest quote.
	FetchTicker(ctx context.Context, symbol domain.Symbol) (domain.Ticker, error)

	// Close releases upstream connections. In-flight fetches are abandoned.
	Close() error
}

// ForexMajorPairs is the fixed allowlist applied when scanning forex markets.
var ForexMajorPairs = map[string]bool{
	"EUR/USD": true, "GBP/USD": true, "USD/JPY": true, "AUD/USD": true,
	"USD/CAD": true, "NZD/USD": true, "GBP/JPY": true, "EUR/JPY": true,
	"USD/CHF": true, "EUR/GBP": true,
}

// CryptoQuotes is the quote-currency filter for crypto markets.
var CryptoQuotes = map[string]bool{"USDT": true, "USD": true, "BUSD": true}
