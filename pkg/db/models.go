package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a principal known to the auth oracle.
type User struct {
	ID        string
	Frozen    bool
	Banned    bool
	CreatedAt time.Time
}

// Blocked reports whether the user may not move free balance or trade.
func (u User) Blocked() bool { return u.Frozen || u.Banned }

// Instrument is a tradable asset with its simulated price state.
type Instrument struct {
	Symbol            string
	DisplayName       string
	Categories        []string
	IsStablecoin      bool
	IsTradeable       bool
	IsActive          bool
	Rank              int
	VolatilityClass   float64
	Precision         int32
	CurrentPrice      decimal.Decimal
	CirculatingSupply decimal.Decimal
	LastMovementAt    time.Time
	Change1h          float64
	Change24h         float64
	Change7d          float64
	Change30d         float64
	Volume24h         decimal.Decimal
	Version           uint64 // in-memory only
}

// MarketCap is derived, never stored.
func (i Instrument) MarketCap() decimal.Decimal {
	return i.CurrentPrice.Mul(i.CirculatingSupply)
}

// DepositWallet is a platform address users send deposits to.
type DepositWallet struct {
	Symbol           string
	Address          string
	MinConfirmations int
	IsPrimary        bool
	IsActive         bool
	CreatedAt        time.Time
}

// BalanceLine is one (user, symbol) balance. Total = Available + Reserved.
type BalanceLine struct {
	UserID              string
	Symbol              string
	Total               decimal.Decimal
	Available           decimal.Decimal
	Reserved            decimal.Decimal
	CumulativeDeposited decimal.Decimal
	CumulativeWithdrawn decimal.Decimal
	UpdatedAt           time.Time
}

// JournalEntry is the idempotency record of one ledger mutation.
type JournalEntry struct {
	Key       string
	UserID    string
	Symbol    string
	Kind      string
	Source    string
	Amount    decimal.Decimal
	Delta     decimal.Decimal
	Snapshot  BalanceLine
	CreatedAt time.Time
}

// Reservation is held funds pending settlement, release or debit.
type Reservation struct {
	Key       string
	UserID    string
	Symbol    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// FundingRequest is a deposit or withdrawal awaiting review.
type FundingRequest struct {
	ID         string
	Kind       string // deposit | withdrawal
	UserID     string
	Symbol     string
	Amount     decimal.Decimal
	Address    string
	Status     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Reviewer   string
	ReviewedAt time.Time
	Note       string
}

// Trade is a user position on one instrument.
type Trade struct {
	ID               string
	UserID           string
	Symbol           string
	QuoteSymbol      string
	Side             string
	EntryPrice       decimal.Decimal
	Quantity         decimal.Decimal
	Notional         decimal.Decimal
	OpenedAt         time.Time
	DurationSeconds  int64
	Status           string
	CurrentPrice     decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	RealizedPnL      decimal.Decimal
	ClosedAt         time.Time
	ResolutionReason string
	UpdatedAt        time.Time
}

// ExpiresAt is when the trade resolves if nothing closes it first.
func (t Trade) ExpiresAt() time.Time {
	return t.OpenedAt.Add(time.Duration(t.DurationSeconds) * time.Second)
}

// Scenario is an admin-scheduled price shock.
type Scenario struct {
	ID                    string
	Name                  string
	Target                string // symbol or "all"
	PercentageChange      float64
	ScheduledFor          time.Time
	RepeatIntervalSeconds int64
	ExpiresAt             time.Time
	IsActive              bool
	ExecutionCount        int
	LastExecutedAt        time.Time
	CreatedAt             time.Time
}

// PriceMovement is one entry of the append-only movement log.
type PriceMovement struct {
	Symbol        string
	PreviousPrice decimal.Decimal
	NewPrice      decimal.Decimal
	ChangePct     float64
	MovementType  string
	ScenarioID    string
	At            time.Time
}
