package exchange

import "fmt"

// NewAdapter builds the adapter for a supported exchange name.
func NewAdapter(name string) (Adapter, error) {
	switch name {
	case "kraken":
		return NewKrakenAdapter(), nil
	case "binance":
		return NewBinanceAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", name)
	}
}

// SupportedExchanges lists the exchanges NewAdapter accepts.
func SupportedExchanges() []string { return []string{"kraken", "binance"} }
