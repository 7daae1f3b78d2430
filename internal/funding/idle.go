package funding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/ledger"
	"simtrade-core/pkg/money"
)

// AccrueIdle credits idle_profit_percent of the quote balance to every user
// without an open trade. Each (user, period) is credited at most once.
func (s *Service) AccrueIdle(ctx context.Context, now time.Time) (int, error) {
	cfg := s.settings()
	if cfg.IdleProfitPercent <= 0 || cfg.IdleDurationSeconds <= 0 {
		return 0, nil
	}
	symbol := cfg.DefaultQuoteSymbol
	period := now.Unix() / int64(cfg.IdleDurationSeconds)
	places := s.inst.Precision(symbol)

	credited := 0
	for _, user := range s.ledger.Users() {
		if ctx.Err() != nil {
			return credited, ctx.Err()
		}
		if s.trading != nil && s.trading.HasActive(user) {
			continue
		}
		amount := money.Round(money.Percent(s.ledger.Line(user, symbol).Available, cfg.IdleProfitPercent), places)
		if !amount.IsPositive() {
			continue
		}

		key := fmt.Sprintf("idle:%s:%s:%d", user, symbol, period)
		res, err := s.ledger.Credit(ctx, user, symbol, amount, key, ledger.SourceIdle)
		switch {
		case errs.CodeOf(err) == errs.UserFrozen:
			continue
		case err != nil:
			s.log.Warn("idle accrual failed", zap.String("user_id", user), zap.Error(err))
			continue
		case !res.Duplicate:
			credited++
		}
	}
	if credited > 0 {
		s.log.Info("💤 idle profit accrued", zap.Int("users", credited), zap.Int64("period", period))
	}
	return credited, nil
}
