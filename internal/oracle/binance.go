// Package oracle supplies real prices when use_real_prices is on.
package oracle

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	market "simtrade-core/pkg/market/binance"
)

// Binance quotes each symbol against one quote asset from the public
// ticker endpoint.
type Binance struct {
	client *market.Client
	quote  string
}

// NewBinance creates the Binance oracle.
func NewBinance(client *market.Client, quote string) *Binance {
	if quote == "" {
		quote = "USDT"
	}
	return &Binance{client: client, quote: strings.ToUpper(quote)}
}

// Name identifies the oracle in movement logs.
func (b *Binance) Name() string { return "binance" }

// Prices fetches the last price of every symbol in one request. The quote
// asset itself is priced at 1.
func (b *Binance) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	pairs := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if s == b.quote {
			out[s] = decimal.NewFromInt(1)
			continue
		}
		pair := s + b.quote
		pairs = append(pairs, pair)
		bySymbol[pair] = s
	}

	tickers, err := b.client.TickerPrices(ctx, pairs)
	if err != nil {
		return nil, err
	}
	for _, t := range tickers {
		if s, ok := bySymbol[t.Symbol]; ok && t.Price.IsPositive() {
			out[s] = t.Price
		}
	}
	return out, nil
}
