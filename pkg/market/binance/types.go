package market

import "github.com/shopspring/decimal"

// Kline is one candlestick. Prices and volumes keep Binance's decimal strings.
type Kline struct {
	Symbol         string
	OpenTime       int64 // ms
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         decimal.Decimal
	CloseTime      int64 // ms
	QuoteVolume    decimal.Decimal
	NumberOfTrades int
}

// TickerPrice is the last traded price of a pair.
type TickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}
