package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message types on the wire.
const (
	TypePriceEvent    = "price_event"
	TypeTradeUpdate   = "trade_update"
	TypeBalanceUpdate = "balance_update"
	TypeMarketSummary = "market_summary"
)

// Topic names.
const (
	MarketSummaryTopic = "market.summary"
	PricePrefix        = "price."
	UserPrefix         = "user."
)

// PriceTopic is the topic carrying price events for symbol.
func PriceTopic(symbol string) string { return PricePrefix + symbol }

// UserTradesTopic is the topic carrying trade updates for a user.
func UserTradesTopic(userID string) string { return UserPrefix + userID + ".trades" }

// UserBalanceTopic is the topic carrying balance updates for a user.
func UserBalanceTopic(userID string) string { return UserPrefix + userID + ".balance" }

// Message is the envelope every subscriber receives.
type Message struct {
	Type    string    `json:"type"`
	Topic   string    `json:"topic"`
	Seq     uint64    `json:"seq"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

// PriceEvent is published on price.{symbol} for every price write.
type PriceEvent struct {
	Symbol     string          `json:"symbol"`
	Old        decimal.Decimal `json:"old"`
	New        decimal.Decimal `json:"new"`
	ChangePct  float64         `json:"change_pct"`
	Reason     string          `json:"reason"`
	ScenarioID string          `json:"scenario_id,omitempty"`
	Change1h   float64         `json:"change_1h"`
	Change24h  float64         `json:"change_24h"`
	Change7d   float64         `json:"change_7d"`
	Change30d  float64         `json:"change_30d"`
	Windows    string          `json:"windows"`
	Version    uint64          `json:"version"`
	At         time.Time       `json:"at"`
}

// TradeUpdate is published on user.{id}.trades on every revaluation and on
// resolution.
type TradeUpdate struct {
	TradeID          string          `json:"trade_id"`
	Symbol           string          `json:"symbol"`
	Side             string          `json:"side"`
	Status           string          `json:"status"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	Quantity         decimal.Decimal `json:"quantity"`
	Notional         decimal.Decimal `json:"notional"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	ResolutionReason string          `json:"resolution_reason,omitempty"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

// BalanceUpdate is published on user.{id}.balance after every ledger write.
type BalanceUpdate struct {
	Symbol    string          `json:"symbol"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Kind      string          `json:"kind"`
	Key       string          `json:"key"`
}

// MarketSummary is published periodically on market.summary.
type MarketSummary struct {
	Instruments    int             `json:"instruments"`
	TotalMarketCap decimal.Decimal `json:"total_market_cap"`
	TopGainers     []SummaryItem   `json:"top_gainers"`
	TopLosers      []SummaryItem   `json:"top_losers"`
	ActiveTrades   int             `json:"active_trades"`
	At             time.Time       `json:"at"`
}

// SummaryItem is one row of the market summary leaderboards.
type SummaryItem struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change24h float64         `json:"change_24h"`
}
