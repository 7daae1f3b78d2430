package api

import (
	"time"

	"github.com/shopspring/decimal"

	"simtrade-core/internal/pricing"
	"simtrade-core/pkg/db"
)

type instrumentView struct {
	Symbol            string          `json:"symbol"`
	DisplayName       string          `json:"display_name"`
	Categories        []string        `json:"categories"`
	IsStablecoin      bool            `json:"is_stablecoin"`
	IsTradeable       bool            `json:"is_tradeable"`
	IsActive          bool            `json:"is_active"`
	Rank              int             `json:"rank"`
	VolatilityClass   float64         `json:"volatility_class"`
	Precision         int32           `json:"precision"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
	MarketCap         decimal.Decimal `json:"market_cap"`
	Volume24h         decimal.Decimal `json:"volume_24h"`
	Change1h          float64         `json:"change_1h"`
	Change24h         float64         `json:"change_24h"`
	Change7d          float64         `json:"change_7d"`
	Change30d         float64         `json:"change_30d"`
	Windows           string          `json:"windows"`
	LastMovementAt    *time.Time      `json:"last_movement_at,omitempty"`
	Version           uint64          `json:"version"`
}

func newInstrumentView(i db.Instrument) instrumentView {
	v := instrumentView{
		Symbol:            i.Symbol,
		DisplayName:       i.DisplayName,
		Categories:        i.Categories,
		IsStablecoin:      i.IsStablecoin,
		IsTradeable:       i.IsTradeable,
		IsActive:          i.IsActive,
		Rank:              i.Rank,
		VolatilityClass:   i.VolatilityClass,
		Precision:         i.Precision,
		CurrentPrice:      i.CurrentPrice,
		CirculatingSupply: i.CirculatingSupply,
		MarketCap:         i.MarketCap(),
		Volume24h:         i.Volume24h,
		Change1h:          i.Change1h,
		Change24h:         i.Change24h,
		Change7d:          i.Change7d,
		Change30d:         i.Change30d,
		Windows:           pricing.WindowsProxy,
		LastMovementAt:    optTime(i.LastMovementAt),
		Version:           i.Version,
	}
	if v.Categories == nil {
		v.Categories = []string{}
	}
	return v
}

type balanceView struct {
	Symbol              string          `json:"symbol"`
	Total               decimal.Decimal `json:"total"`
	Available           decimal.Decimal `json:"available"`
	Reserved            decimal.Decimal `json:"reserved"`
	CumulativeDeposited decimal.Decimal `json:"cumulative_deposited"`
	CumulativeWithdrawn decimal.Decimal `json:"cumulative_withdrawn"`
	UpdatedAt           *time.Time      `json:"updated_at,omitempty"`
}

func newBalanceView(b db.BalanceLine) balanceView {
	return balanceView{
		Symbol:              b.Symbol,
		Total:               b.Total,
		Available:           b.Available,
		Reserved:            b.Reserved,
		CumulativeDeposited: b.CumulativeDeposited,
		CumulativeWithdrawn: b.CumulativeWithdrawn,
		UpdatedAt:           optTime(b.UpdatedAt),
	}
}

type tradeView struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Symbol           string          `json:"symbol"`
	QuoteSymbol      string          `json:"quote_symbol"`
	Side             string          `json:"side"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	Quantity         decimal.Decimal `json:"quantity"`
	Notional         decimal.Decimal `json:"notional"`
	Status           string          `json:"status"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	DurationSeconds  int64           `json:"duration_seconds"`
	OpenedAt         time.Time       `json:"opened_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`
	ResolutionReason string          `json:"resolution_reason,omitempty"`
}

func newTradeView(t db.Trade) tradeView {
	return tradeView{
		ID:               t.ID,
		UserID:           t.UserID,
		Symbol:           t.Symbol,
		QuoteSymbol:      t.QuoteSymbol,
		Side:             t.Side,
		EntryPrice:       t.EntryPrice,
		Quantity:         t.Quantity,
		Notional:         t.Notional,
		Status:           t.Status,
		CurrentPrice:     t.CurrentPrice,
		UnrealizedPnL:    t.UnrealizedPnL,
		RealizedPnL:      t.RealizedPnL,
		DurationSeconds:  t.DurationSeconds,
		OpenedAt:         t.OpenedAt,
		ExpiresAt:        t.ExpiresAt(),
		ClosedAt:         optTime(t.ClosedAt),
		ResolutionReason: t.ResolutionReason,
	}
}

func newTradeViews(ts []db.Trade) []tradeView {
	out := make([]tradeView, 0, len(ts))
	for _, t := range ts {
		out = append(out, newTradeView(t))
	}
	return out
}

type fundingView struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Amount     decimal.Decimal `json:"amount"`
	Address    string          `json:"address"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Reviewer   string          `json:"reviewer,omitempty"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
	Note       string          `json:"note,omitempty"`
}

func newFundingView(f db.FundingRequest) fundingView {
	return fundingView{
		ID:         f.ID,
		Kind:       f.Kind,
		UserID:     f.UserID,
		Symbol:     f.Symbol,
		Amount:     f.Amount,
		Address:    f.Address,
		Status:     f.Status,
		CreatedAt:  f.CreatedAt,
		ExpiresAt:  optTime(f.ExpiresAt),
		Reviewer:   f.Reviewer,
		ReviewedAt: optTime(f.ReviewedAt),
		Note:       f.Note,
	}
}

func newFundingViews(fs []db.FundingRequest) []fundingView {
	out := make([]fundingView, 0, len(fs))
	for _, f := range fs {
		out = append(out, newFundingView(f))
	}
	return out
}

type walletView struct {
	Symbol           string `json:"symbol"`
	Address          string `json:"address"`
	MinConfirmations int    `json:"min_confirmations"`
	IsPrimary        bool   `json:"is_primary"`
	IsActive         bool   `json:"is_active"`
}

func newWalletView(w db.DepositWallet) walletView {
	return walletView{
		Symbol:           w.Symbol,
		Address:          w.Address,
		MinConfirmations: w.MinConfirmations,
		IsPrimary:        w.IsPrimary,
		IsActive:         w.IsActive,
	}
}

type scenarioView struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Target                string     `json:"target"`
	PercentageChange      float64    `json:"percentage_change"`
	ScheduledFor          time.Time  `json:"scheduled_for"`
	RepeatIntervalSeconds int64      `json:"repeat_interval_seconds,omitempty"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	IsActive              bool       `json:"is_active"`
	ExecutionCount        int        `json:"execution_count"`
	LastExecutedAt        *time.Time `json:"last_executed_at,omitempty"`
}

func newScenarioView(s db.Scenario) scenarioView {
	return scenarioView{
		ID:                    s.ID,
		Name:                  s.Name,
		Target:                s.Target,
		PercentageChange:      s.PercentageChange,
		ScheduledFor:          s.ScheduledFor,
		RepeatIntervalSeconds: s.RepeatIntervalSeconds,
		ExpiresAt:             optTime(s.ExpiresAt),
		IsActive:              s.IsActive,
		ExecutionCount:        s.ExecutionCount,
		LastExecutedAt:        optTime(s.LastExecutedAt),
	}
}

type movementView struct {
	Symbol        string          `json:"symbol"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	NewPrice      decimal.Decimal `json:"new_price"`
	ChangePct     float64         `json:"change_pct"`
	MovementType  string          `json:"movement_type"`
	ScenarioID    string          `json:"scenario_id,omitempty"`
	At            time.Time       `json:"at"`
}

type userView struct {
	ID        string    `json:"id"`
	Frozen    bool      `json:"frozen"`
	Banned    bool      `json:"banned"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserView(u db.User) userView {
	return userView{ID: u.ID, Frozen: u.Frozen, Banned: u.Banned, CreatedAt: u.CreatedAt}
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
