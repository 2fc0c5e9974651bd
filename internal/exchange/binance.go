package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/momentumscan/internal/domain"
)

const binanceBaseURL = "https://api.binance.com/api/v3"

var binanceIntervals = map[domain.Timeframe]string{
	domain.TF1m: "1m", domain.TF5m: "5m", domain.TF1h: "1h",
	domain.TF4h: "4h", domain.TF1d: "1d", domain.TF1w: "1w",
}

// BinanceAdapter talks to Binance's public spot REST API.
type BinanceAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewBinanceAdapter() *BinanceAdapter {
	return &BinanceAdapter{
		baseURL:    binanceBaseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (b *BinanceAdapter) ID() string { return "binance" }

func (b *BinanceAdapter) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

func (b *BinanceAdapter) FetchMarkets(ctx context.Context, marketType domain.MarketType, quote string) ([]domain.Symbol, error) {
	if marketType == domain.MarketForex {
		// Binance spot lists no fiat-to-fiat majors.
		return nil, nil
	}
	var resp struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := b.get(ctx, "/exchangeInfo", nil, &resp); err != nil {
		return nil, err
	}

	var out []domain.Symbol
	for _, s := range resp.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		if quote != "" && s.QuoteAsset != quote {
			continue
		}
		if quote == "" && !CryptoQuotes[s.QuoteAsset] {
			continue
		}
		out = append(out, domain.Symbol{
			Exchange: "binance",
			Pair:     s.BaseAsset + "/" + s.QuoteAsset,
			Quote:    s.QuoteAsset,
		})
	}
	return out, nil
}

func (b *BinanceAdapter) FetchOHLCV(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) (domain.Series, error) {
	interval, ok := binanceIntervals[tf]
	if !ok {
		return nil, NewError(KindFatal, "binance", "fetch_ohlcv", fmt.Errorf("unsupported timeframe %q", tf))
	}
	params := url.Values{
		"symbol":   {binancePairName(symbol.Pair)},
		"interval": {interval},
	}
	if limit > 0 {
		if limit > 1000 {
			limit = 1000
		}
		params.Set("limit", strconv.Itoa(limit))
	}

	var rows [][]any
	if err := b.get(ctx, "/klines", params, &rows); err != nil {
		return nil, err
	}

	out := make(domain.Series, 0, len(rows))
	for _, row := range rows {
		// [openTime(ms), open, high, low, close, volume, closeTime, ...]
		if len(row) < 6 {
			continue
		}
		ms, ok := row[0].(float64)
		if !ok {
			continue
		}
		out = append(out, domain.Candle{
			Timestamp: time.UnixMilli(int64(ms)).UTC(),
			Open:      parseNum(row[1]),
			High:      parseNum(row[2]),
			Low:       parseNum(row[3]),
			Close:     parseNum(row[4]),
			Volume:    parseNum(row[5]),
		})
	}
	return out, nil
}

func (b *BinanceAdapter) FetchTicker(ctx context.Context, symbol domain.Symbol) (domain.Ticker, error) {
	params := url.Values{"symbol": {binancePairName(symbol.Pair)}}
	var resp struct {
		LastPrice   string `json:"lastPrice"`
		BidPrice    string `json:"bidPrice"`
		AskPrice    string `json:"askPrice"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := b.get(ctx, "/ticker/24hr", params, &resp); err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{
		Last:        parseNum(resp.LastPrice),
		Bid:         parseNum(resp.BidPrice),
		Ask:         parseNum(resp.AskPrice),
		QuoteVolume: parseNum(resp.QuoteVolume),
	}, nil
}

func (b *BinanceAdapter) get(ctx context.Context, path string, params url.Values, out any) error {
	u := b.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return NewError(KindFatal, "binance", path, err)
	}
	req.Header.Set("User-Agent", "momentumscan/1.0")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Classify("binance", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(KindTransient, "binance", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		// 418 is Binance's repeat-offender IP ban response.
		return NewError(KindRateLimited, "binance", path, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusBadRequest:
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code == -1121 {
			return NewError(KindSymbolUnknown, "binance", path, fmt.Errorf("%s", apiErr.Msg))
		}
		return NewError(KindFatal, "binance", path, fmt.Errorf("status 400: %s", body))
	case resp.StatusCode != http.StatusOK:
		return NewError(KindTransient, "binance", path, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(KindTransient, "binance", path, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func binancePairName(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}
