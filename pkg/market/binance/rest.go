// Package market is a small client for Binance public spot market data.
package market

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the production REST endpoint.
const DefaultBaseURL = "https://api.binance.com"

// Client wraps public REST endpoints; no API key is needed.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a REST client against baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/api/v3/ping", nil)
	return err
}

// TickerPrices returns the last price of each pair. Unknown pairs make
// Binance reject the whole request.
func (c *Client) TickerPrices(ctx context.Context, pairs []string) ([]TickerPrice, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	list, err := json.Marshal(pairs)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbols", string(list))

	body, err := c.do(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return nil, err
	}
	var out []TickerPrice
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decode ticker prices")
	}
	return out, nil
}

// Klines fetches the most recent klines of symbol.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "decode klines")
	}
	klines := make([]Kline, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline
		if len(item) < 9 {
			continue
		}
		klines = append(klines, Kline{
			Symbol:         symbol,
			OpenTime:       toInt64(item[0]),
			Open:           toDecimal(item[1]),
			High:           toDecimal(item[2]),
			Low:            toDecimal(item[3]),
			Close:          toDecimal(item[4]),
			Volume:         toDecimal(item[5]),
			CloseTime:      toInt64(item[6]),
			QuoteVolume:    toDecimal(item[7]),
			NumberOfTrades: int(toInt64(item[8])),
		})
	}
	return klines, nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.BaseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "binance %s", path)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, errors.Errorf("binance %s status %d: %s", path, res.StatusCode, string(body))
	}
	return body, nil
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case string:
		d, _ := decimal.NewFromString(t)
		return d
	case float64:
		return decimal.NewFromFloat(t)
	default:
		return decimal.Zero
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}
