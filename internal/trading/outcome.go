package trading

import (
	"github.com/shopspring/decimal"

	"simtrade-core/internal/settings"
	"simtrade-core/pkg/db"
	"simtrade-core/pkg/money"
)

// Trade statuses.
const (
	StatusActive     = "active"
	StatusClosedWin  = "closed_win"
	StatusClosedLoss = "closed_loss"
	StatusCancelled  = "cancelled"
)

// Sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Resolution reasons.
const (
	ReasonProbabilistic = "probabilistic"
	ReasonExpired       = "expired"
	ReasonStopOut       = "stop_out"
	ReasonForceClose    = "force_close"
	ReasonEarlyClose    = "early_close"
)

// Rand is the outcome draw source. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

func sign(side string) decimal.Decimal {
	if side == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Unrealized marks t to price. A long position at the price floor is worth
// nothing, so it marks at the full notional loss.
func Unrealized(t db.Trade, price decimal.Decimal) decimal.Decimal {
	if t.Side == SideBuy && price.LessThanOrEqual(money.PriceFloor) {
		return t.Notional.Neg()
	}
	return price.Sub(t.EntryPrice).Mul(t.Quantity).Mul(sign(t.Side))
}

// StoppedOut reports whether unrealized breaches the loss limit.
func StoppedOut(t db.Trade, unrealized decimal.Decimal, maxLossFraction float64) bool {
	limit := t.Notional.Mul(decimal.NewFromFloat(maxLossFraction)).Neg()
	return unrealized.LessThanOrEqual(limit)
}

// MarketOutcome is the live result bounded by the reservation.
func MarketOutcome(t db.Trade, unrealized decimal.Decimal) decimal.Decimal {
	return decimal.Max(unrealized, t.Notional.Neg())
}

// DrawWin draws r from (0,100] and wins when r <= winRate.
func DrawWin(rng Rand, winRate float64) bool {
	r := 100 * (1 - rng.Float64())
	return r <= winRate
}

// ProbabilisticOutcome is the administrator-tuned expiry result.
func ProbabilisticOutcome(t db.Trade, s settings.TradingSettings, win bool) decimal.Decimal {
	if win {
		return money.Percent(t.Notional, s.ActiveProfitPercent)
	}
	return decimal.Max(money.Percent(t.Notional, s.ActiveLossPercent).Neg(), t.Notional.Neg())
}

// StatusFor maps a realized result to the closed status.
func StatusFor(realized decimal.Decimal) string {
	if realized.IsPositive() {
		return StatusClosedWin
	}
	return StatusClosedLoss
}
