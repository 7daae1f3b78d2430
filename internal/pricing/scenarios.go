package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/pkg/db"
	"simtrade-core/pkg/money"
)

// TargetAll applies a scenario to the top ranked instruments.
const TargetAll = "all"

// ScenarioResult summarizes one RunDueScenarios pass.
type ScenarioResult struct {
	Executed int
	Applied  int
	Failed   int
	Retired  int
}

// CreateScenario validates and stores a new active scenario.
func (e *Engine) CreateScenario(ctx context.Context, s db.Scenario) (db.Scenario, error) {
	if e.scenarios == nil {
		return db.Scenario{}, errs.New(errs.Unavailable, "scenario store not configured")
	}
	if s.Target == "" {
		return db.Scenario{}, errs.New(errs.InvalidArgument, "scenario target is required")
	}
	if s.Target != TargetAll && !e.reg.Known(s.Target) {
		return db.Scenario{}, errs.Newf(errs.UnknownSymbol, "unknown symbol %s", s.Target)
	}
	if s.PercentageChange <= -100 {
		return db.Scenario{}, errs.New(errs.InvalidArgument, "percentage_change must be > -100")
	}
	if s.RepeatIntervalSeconds < 0 {
		return db.Scenario{}, errs.New(errs.InvalidArgument, "repeat_interval_seconds must be >= 0")
	}

	now := e.now()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.ScheduledFor.IsZero() {
		s.ScheduledFor = now
	}
	s.IsActive = true
	s.CreatedAt = now
	if err := e.scenarios.SaveScenario(ctx, s); err != nil {
		return db.Scenario{}, errs.Wrap(err, errs.Internal, "save scenario")
	}
	e.log.Info("🎬 scenario scheduled", zap.String("scenario_id", s.ID), zap.String("target", s.Target),
		zap.Float64("pct", s.PercentageChange), zap.Time("scheduled_for", s.ScheduledFor))
	return s, nil
}

// CancelScenario deactivates an active scenario. Applications already in
// flight complete.
func (e *Engine) CancelScenario(ctx context.Context, id string) error {
	if e.scenarios == nil {
		return errs.New(errs.Unavailable, "scenario store not configured")
	}
	active, err := e.scenarios.ActiveScenarios(ctx)
	if err != nil {
		return errs.Wrap(err, errs.Internal, "load scenarios")
	}
	for _, s := range active {
		if s.ID == id {
			s.IsActive = false
			return errs.Wrap(e.scenarios.SaveScenario(ctx, s), errs.Internal, "save scenario")
		}
	}
	return errs.Newf(errs.NotFound, "no active scenario %s", id)
}

// RunDueScenarios applies every active scenario scheduled at or before now.
// One-shot scenarios deactivate; repeating ones advance by their interval
// until they pass their expiry.
func (e *Engine) RunDueScenarios(ctx context.Context, now time.Time) (ScenarioResult, error) {
	var res ScenarioResult
	if e.scenarios == nil {
		return res, nil
	}
	active, err := e.scenarios.ActiveScenarios(ctx)
	if err != nil {
		return res, errs.Wrap(err, errs.Internal, "load scenarios")
	}

	for _, s := range active {
		if s.ScheduledFor.After(now) {
			continue
		}
		if !due(s, now) {
			s.IsActive = false
			res.Retired++
			e.save(ctx, s)
			continue
		}

		for _, sym := range e.targets(s) {
			inst, ok := e.reg.Get(sym)
			if !ok || !inst.IsActive {
				res.Failed++
				continue
			}
			next := money.ClampPrice(money.Grow(inst.CurrentPrice, s.PercentageChange))
			if err := e.apply(sym, next, MoveScenario, s.ID); err != nil {
				res.Failed++
				e.log.Warn("⚠️ scenario application failed", zap.String("scenario_id", s.ID),
					zap.String("symbol", sym), zap.Error(err))
				continue
			}
			res.Applied++
		}

		res.Executed++
		s.ExecutionCount++
		s.LastExecutedAt = now
		if s.RepeatIntervalSeconds > 0 {
			s.ScheduledFor = s.ScheduledFor.Add(time.Duration(s.RepeatIntervalSeconds) * time.Second)
			if !s.ExpiresAt.IsZero() && s.ScheduledFor.After(s.ExpiresAt) {
				s.IsActive = false
				res.Retired++
			}
		} else {
			s.IsActive = false
			res.Retired++
		}
		e.save(ctx, s)
		e.log.Info("🎬 scenario executed", zap.String("scenario_id", s.ID), zap.String("target", s.Target),
			zap.Float64("pct", s.PercentageChange), zap.Int("executions", s.ExecutionCount))
	}
	return res, nil
}

// due reports whether s runs at now.
func due(s db.Scenario, now time.Time) bool {
	if s.ScheduledFor.After(now) {
		return false
	}
	return s.ExpiresAt.IsZero() || !now.After(s.ExpiresAt)
}

// dueTargets is the set of symbols scenarios due at now will move.
func (e *Engine) dueTargets(ctx context.Context, now time.Time) map[string]bool {
	if e.scenarios == nil {
		return nil
	}
	active, err := e.scenarios.ActiveScenarios(ctx)
	if err != nil {
		e.log.Warn("⚠️ scenarios not loaded for tick", zap.Error(err))
		return nil
	}
	var out map[string]bool
	for _, s := range active {
		if !due(s, now) {
			continue
		}
		if out == nil {
			out = make(map[string]bool)
		}
		for _, sym := range e.targets(s) {
			out[sym] = true
		}
	}
	return out
}

func (e *Engine) targets(s db.Scenario) []string {
	if s.Target != TargetAll {
		return []string{s.Target}
	}
	top := e.reg.TopRanked(e.settings().ScenarioTopN)
	out := make([]string, 0, len(top))
	for _, i := range top {
		out = append(out, i.Symbol)
	}
	return out
}

func (e *Engine) save(ctx context.Context, s db.Scenario) {
	if err := e.scenarios.SaveScenario(ctx, s); err != nil {
		e.log.Error("❌ scenario state not saved", zap.String("scenario_id", s.ID), zap.Error(err))
	}
}
