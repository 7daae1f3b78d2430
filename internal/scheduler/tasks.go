package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"simtrade-core/internal/events"
	"simtrade-core/internal/pricing"
	"simtrade-core/internal/settings"
)

// Subtask names, in cycle order.
const (
	TaskPriceTick     = "price_tick"
	TaskScenarios     = "scenarios"
	TaskTradeExpiry   = "trade_expiry"
	TaskDepositExpiry = "deposit_expiry"
	TaskIdleAccrual   = "idle_accrual"
	TaskMarketSummary = "market_summary"
	TaskPrune         = "prune"
)

// Retention of pruned history.
const (
	MovementRetention = 30 * 24 * time.Hour
	TradeRetention    = 90 * 24 * time.Hour
	PruneInterval     = time.Hour
)

// Prices is the pricing engine surface a cycle drives.
type Prices interface {
	Tick(ctx context.Context) (pricing.TickResult, error)
	RunDueScenarios(ctx context.Context, now time.Time) (pricing.ScenarioResult, error)
	PublishSummary(activeTrades int) events.MarketSummary
}

// Trades resolves expired trades.
type Trades interface {
	CheckExpiries(ctx context.Context, now time.Time) (int, error)
	ActiveCount() int
}

// Funding expires deposits and accrues idle profit.
type Funding interface {
	ExpireDeposits(ctx context.Context, now time.Time) (int, error)
	AccrueIdle(ctx context.Context, now time.Time) (int, error)
}

// Pruner deletes old history.
type Pruner interface {
	PruneMovements(ctx context.Context, before time.Time) (int64, error)
	PruneClosedTrades(ctx context.Context, before time.Time) (int64, error)
}

// Deps are the components the standard cycle drives.
type Deps struct {
	Prices   Prices
	Trades   Trades
	Funding  Funding
	Pruner   Pruner
	Settings func() settings.TradingSettings
}

// StandardTasks builds the simulator cycle in its fixed order.
func StandardTasks(d Deps) []Task {
	cfg := d.Settings
	if cfg == nil {
		cfg = settings.Defaults
	}
	return []Task{
		{
			Name: TaskPriceTick,
			Run: func(ctx context.Context, _ time.Time) (Result, error) {
				res, err := d.Prices.Tick(ctx)
				return Result{Instruments: res.Processed}, err
			},
		},
		{
			Name: TaskScenarios,
			Run: func(ctx context.Context, now time.Time) (Result, error) {
				res, err := d.Prices.RunDueScenarios(ctx, now)
				return Result{Instruments: res.Applied}, err
			},
		},
		{
			Name: TaskTradeExpiry,
			Run: func(ctx context.Context, now time.Time) (Result, error) {
				n, err := d.Trades.CheckExpiries(ctx, now)
				return Result{Trades: n}, err
			},
		},
		{
			Name: TaskDepositExpiry,
			Run: func(ctx context.Context, now time.Time) (Result, error) {
				_, err := d.Funding.ExpireDeposits(ctx, now)
				return Result{}, err
			},
		},
		{
			Name: TaskIdleAccrual,
			Run: func(ctx context.Context, now time.Time) (Result, error) {
				_, err := d.Funding.AccrueIdle(ctx, now)
				return Result{}, err
			},
		},
		{
			Name:     TaskMarketSummary,
			Interval: func() time.Duration { return cfg().SummaryInterval() },
			Run: func(context.Context, time.Time) (Result, error) {
				d.Prices.PublishSummary(d.Trades.ActiveCount())
				return Result{}, nil
			},
		},
		{
			Name:     TaskPrune,
			Interval: func() time.Duration { return PruneInterval },
			Run: func(ctx context.Context, now time.Time) (Result, error) {
				if _, err := d.Pruner.PruneMovements(ctx, now.Add(-MovementRetention)); err != nil {
					return Result{}, errors.Wrap(err, "prune movements")
				}
				_, err := d.Pruner.PruneClosedTrades(ctx, now.Add(-TradeRetention))
				return Result{}, errors.Wrap(err, "prune trades")
			},
		},
	}
}
