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

const krakenBaseURL = "https://api.kraken.com/0/public"

// krakenIntervals maps timeframes to Kraken's interval parameter (minutes).
var krakenIntervals = map[domain.Timeframe]int{
	domain.TF1m: 1, domain.TF5m: 5, domain.TF1h: 60,
	domain.TF4h: 240, domain.TF1d: 1440, domain.TF1w: 10080,
}

// KrakenAdapter talks to Kraken's public REST API. Spot markets only.
type KrakenAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewKrakenAdapter() *KrakenAdapter {
	return &KrakenAdapter{
		baseURL:    krakenBaseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (k *KrakenAdapter) ID() string { return "kraken" }

func (k *KrakenAdapter) Close() error {
	k.httpClient.CloseIdleConnections()
	return nil
}

type krakenPairInfo struct {
	WSName string `json:"wsname"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Status string `json:"status"`
}

func (k *KrakenAdapter) FetchMarkets(ctx context.Context, marketType domain.MarketType, quote string) ([]domain.Symbol, error) {
	var resp struct {
		Error  []string                  `json:"error"`
		Result map[string]krakenPairInfo `json:"result"`
	}
	if err := k.get(ctx, "/AssetPairs", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, Classify("kraken", "fetch_markets", fmt.Errorf("kraken: %s", strings.Join(resp.Error, "; ")))
	}

	var out []domain.Symbol
	for _, info := range resp.Result {
		if info.Status != "" && info.Status != "online" {
			continue
		}
		pair := info.WSName // already "BASE/QUOTE"
		if pair == "" {
			continue
		}
		q := pairQuote(pair)
		switch marketType {
		case domain.MarketForex:
			if !ForexMajorPairs[pair] {
				continue
			}
		default:
			if quote != "" && q != quote {
				continue
			}
			if quote == "" && !CryptoQuotes[q] {
				continue
			}
		}
		out = append(out, domain.Symbol{Exchange: "kraken", Pair: pair, Quote: q})
	}
	return out, nil
}

func (k *KrakenAdapter) FetchOHLCV(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) (domain.Series, error) {
	interval, ok := krakenIntervals[tf]
	if !ok {
		return nil, NewError(KindFatal, "kraken", "fetch_ohlcv", fmt.Errorf("unsupported timeframe %q", tf))
	}
	params := url.Values{
		"pair":     {krakenPairName(symbol.Pair)},
		"interval": {strconv.Itoa(interval)},
	}

	var resp struct {
		Error  []string                   `json:"error"`
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := k.get(ctx, "/OHLC", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, Classify("kraken", "fetch_ohlcv", fmt.Errorf("kraken: %s", strings.Join(resp.Error, "; ")))
	}

	// Result carries the pair data plus a "last" cursor; take the first array.
	var rows [][]any
	for key, raw := range resp.Result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, NewError(KindTransient, "kraken", "fetch_ohlcv", fmt.Errorf("decode ohlc: %w", err))
		}
		break
	}

	out := make(domain.Series, 0, len(rows))
	for _, row := range rows {
		// [time, open, high, low, close, vwap, volume, count]
		if len(row) < 7 {
			continue
		}
		ts, ok := row[0].(float64)
		if !ok {
			continue
		}
		c := domain.Candle{
			Timestamp: time.Unix(int64(ts), 0).UTC(),
			Open:      parseNum(row[1]),
			High:      parseNum(row[2]),
			Low:       parseNum(row[3]),
			Close:     parseNum(row[4]),
			Volume:    parseNum(row[6]),
		}
		out = append(out, c)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (k *KrakenAdapter) FetchTicker(ctx context.Context, symbol domain.Symbol) (domain.Ticker, error) {
	params := url.Values{"pair": {krakenPairName(symbol.Pair)}}

	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			C []string `json:"c"` // last trade [price, lot volume]
			B []string `json:"b"` // best bid [price, whole lot, lot]
			A []string `json:"a"` // best ask
			V []string `json:"v"` // volume [today, 24h]
			P []string `json:"p"` // vwap [today, 24h]
		} `json:"result"`
	}
	if err := k.get(ctx, "/Ticker", params, &resp); err != nil {
		return domain.Ticker{}, err
	}
	if len(resp.Error) > 0 {
		return domain.Ticker{}, Classify("kraken", "fetch_ticker", fmt.Errorf("kraken: %s", strings.Join(resp.Error, "; ")))
	}
	for _, t := range resp.Result {
		tk := domain.Ticker{
			Last: parseStr(t.C, 0),
			Bid:  parseStr(t.B, 0),
			Ask:  parseStr(t.A, 0),
		}
		// Kraken reports base volume; approximate quote volume with 24h vwap.
		tk.QuoteVolume = parseStr(t.V, 1) * parseStr(t.P, 1)
		return tk, nil
	}
	return domain.Ticker{}, NewError(KindSymbolUnknown, "kraken", "fetch_ticker",
		fmt.Errorf("kraken does not have market %s", symbol.Pair))
}

func (k *KrakenAdapter) get(ctx context.Context, path string, params url.Values, out any) error {
	u := k.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return NewError(KindFatal, "kraken", path, err)
	}
	req.Header.Set("User-Agent", "momentumscan/1.0")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return Classify("kraken", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return NewError(KindRateLimited, "kraken", path, fmt.Errorf("status 429"))
	}
	if resp.StatusCode != http.StatusOK {
		return NewError(KindTransient, "kraken", path, fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(KindTransient, "kraken", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(KindTransient, "kraken", path, fmt.Errorf("decode: %w", err))
	}
	return nil
}

// krakenPairName strips the slash; Kraken accepts "XBTUSD"-style pair queries
// and resolves its own aliases.
func krakenPairName(pair string) string {
	p := strings.ReplaceAll(pair, "/", "")
	return strings.ReplaceAll(p, "BTC", "XBT")
}

func pairQuote(pair string) string {
	if i := strings.LastIndexByte(pair, '/'); i >= 0 {
		return pair[i+1:]
	}
	return ""
}

func parseNum(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

func parseStr(arr []string, idx int) float64 {
	if idx >= len(arr) {
		return 0
	}
	f, _ := strconv.ParseFloat(arr[idx], 64)
	return f
}
