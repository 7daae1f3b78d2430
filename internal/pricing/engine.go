// Package pricing advances simulated prices: natural motion in rotating
// batches, scheduled scenarios, admin overrides and external oracles.
package pricing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/events"
	"simtrade-core/internal/registry"
	"simtrade-core/internal/settings"
	"simtrade-core/pkg/db"
	"simtrade-core/pkg/money"
)

// Movement types recorded in the movement log and price events.
const (
	MoveNatural  = "natural"
	MoveScenario = "scenario"
	MoveOverride = "admin_override"
	MoveOracle   = "oracle"
)

// WindowsProxy marks change windows derived from the last tick only.
const WindowsProxy = "proxy"

// Rand is the random source. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Oracle quotes external prices for a batch of symbols.
type Oracle interface {
	Name() string
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Bias may rewrite a natural change before it is applied.
type Bias interface {
	Adjust(symbol string, delta float64) float64
}

// Publisher receives price events.
type Publisher interface {
	Publish(topic, msgType string, payload any) events.Message
}

// Writer receives movement log rows.
type Writer interface {
	Write(s db.Stmt)
}

// ScenarioStore persists scenarios.
type ScenarioStore interface {
	ActiveScenarios(ctx context.Context) ([]db.Scenario, error)
	SaveScenario(ctx context.Context, s db.Scenario) error
}

// Options wires the engine.
type Options struct {
	Registry  *registry.Registry
	Settings  func() settings.TradingSettings
	Publisher Publisher
	Writer    Writer
	Scenarios ScenarioStore
	Oracle    Oracle
	Bias      Bias
	Rand      Rand
	Logger    *zap.Logger
	Now       func() time.Time
}

// TickResult summarizes one rotation batch.
type TickResult struct {
	Source    string
	Processed int
	Failed    int
	Skipped   bool
	// Deferred counts instruments left to a scenario due this cycle.
	Deferred int
}

// Engine drives every price write.
type Engine struct {
	reg       *registry.Registry
	settings  func() settings.TradingSettings
	pub       Publisher
	writer    Writer
	scenarios ScenarioStore
	oracle    Oracle
	bias      Bias
	log       *zap.Logger
	now       func() time.Time

	rngMu sync.Mutex
	rng   Rand

	mu     sync.Mutex
	cursor int
}

// New creates a price engine.
func New(opts Options) *Engine {
	e := &Engine{
		reg:       opts.Registry,
		settings:  opts.Settings,
		pub:       opts.Publisher,
		writer:    opts.Writer,
		scenarios: opts.Scenarios,
		oracle:    opts.Oracle,
		bias:      opts.Bias,
		rng:       opts.Rand,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if e.settings == nil {
		e.settings = settings.Defaults
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.With(zap.String("component", "pricing"))
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Float64 serializes access to the underlying source.
func (e *Engine) Float64() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

// nextBatch advances the rotation pointer over active instruments.
func (e *Engine) nextBatch(size int) []db.Instrument {
	active := e.reg.List(registry.Filter{ActiveOnly: true})
	if len(active) == 0 {
		return nil
	}
	if size > len(active) {
		size = len(active)
	}

	e.mu.Lock()
	start := e.cursor % len(active)
	e.cursor = (start + size) % len(active)
	e.mu.Unlock()

	batch := make([]db.Instrument, 0, size)
	for i := 0; i < size; i++ {
		batch = append(batch, active[(start+i)%len(active)])
	}
	return batch
}

// Tick advances the next batch of the rotation. Per-instrument failures are
// logged and counted; an oracle failure skips the batch.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	s := e.settings()
	batch := e.nextBatch(s.InstrumentBatchSize)
	if len(batch) == 0 {
		return TickResult{Source: MoveNatural}, nil
	}
	now := e.now()
	batch, deferred := e.withoutScenarioTargets(ctx, batch, now)
	if s.UseRealPrices && e.oracle != nil {
		res := e.tickOracle(ctx, batch)
		res.Deferred = deferred
		return res, nil
	}

	res := TickResult{Source: MoveNatural, Deferred: deferred}
	for _, inst := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		delta := NaturalDelta(inst, now, e)
		if s.ProfitLossMode == settings.PLBiased && e.bias != nil {
			delta = e.bias.Adjust(inst.Symbol, delta)
		}
		next := money.ClampPrice(money.Grow(inst.CurrentPrice, delta))
		if err := e.apply(inst.Symbol, next, MoveNatural, ""); err != nil {
			res.Failed++
			e.log.Warn("⚠️ price update failed", zap.String("symbol", inst.Symbol), zap.Error(err))
			continue
		}
		res.Processed++
	}
	return res, nil
}

// withoutScenarioTargets drops instruments a due scenario will move, so a
// scenario is the only movement of its targets in that cycle.
func (e *Engine) withoutScenarioTargets(ctx context.Context, batch []db.Instrument, now time.Time) ([]db.Instrument, int) {
	held := e.dueTargets(ctx, now)
	if len(held) == 0 {
		return batch, 0
	}
	kept := batch[:0:0]
	for _, inst := range batch {
		if !held[inst.Symbol] {
			kept = append(kept, inst)
		}
	}
	return kept, len(batch) - len(kept)
}

func (e *Engine) tickOracle(ctx context.Context, batch []db.Instrument) TickResult {
	res := TickResult{Source: MoveOracle}
	symbols := make([]string, 0, len(batch))
	for _, inst := range batch {
		symbols = append(symbols, inst.Symbol)
	}

	quotes, err := e.oracle.Prices(ctx, symbols)
	if err != nil {
		e.log.Warn("⚠️ oracle unavailable, batch skipped", zap.String("oracle", e.oracle.Name()),
			zap.Int("batch", len(batch)), zap.Error(err))
		res.Skipped = true
		return res
	}
	for _, sym := range symbols {
		p, ok := quotes[sym]
		if !ok || !p.IsPositive() {
			continue
		}
		if err := e.apply(sym, p, MoveOracle, ""); err != nil {
			res.Failed++
			e.log.Warn("⚠️ oracle price rejected", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		res.Processed++
	}
	return res
}

// apply writes price through the registry; the event and movement row are
// emitted under the symbol lock so their order matches the write order.
func (e *Engine) apply(symbol string, price decimal.Decimal, moveType, scenarioID string) error {
	_, err := e.reg.SetPrice(symbol, price, moveType, func(prev, next db.Instrument) {
		pct := money.ChangePct(prev.CurrentPrice, next.CurrentPrice)
		if e.writer != nil {
			e.writer.Write(db.MovementStmt(db.PriceMovement{
				Symbol:        symbol,
				PreviousPrice: prev.CurrentPrice,
				NewPrice:      next.CurrentPrice,
				ChangePct:     pct,
				MovementType:  moveType,
				ScenarioID:    scenarioID,
				At:            next.LastMovementAt,
			}))
		}
		if e.pub != nil {
			e.pub.Publish(events.PriceTopic(symbol), events.TypePriceEvent, events.PriceEvent{
				Symbol:     symbol,
				Old:        prev.CurrentPrice,
				New:        next.CurrentPrice,
				ChangePct:  pct,
				Reason:     moveType,
				ScenarioID: scenarioID,
				Change1h:   next.Change1h,
				Change24h:  next.Change24h,
				Change7d:   next.Change7d,
				Change30d:  next.Change30d,
				Windows:    WindowsProxy,
				Version:    next.Version,
				At:         next.LastMovementAt,
			})
		}
	})
	return err
}

// Override sets an administrator price.
func (e *Engine) Override(ctx context.Context, symbol string, price decimal.Decimal) (db.Instrument, error) {
	if !price.IsPositive() {
		return db.Instrument{}, errs.ErrAmountNonPositive
	}
	if err := e.apply(symbol, price, MoveOverride, ""); err != nil {
		return db.Instrument{}, err
	}
	inst, _ := e.reg.Get(symbol)
	e.log.Info("🛠️ price overridden", zap.String("symbol", symbol), zap.String("price", inst.CurrentPrice.String()))
	return inst, nil
}
