// Package trading runs the trade lifecycle: open against a reservation,
// revalue on every price event, resolve once and settle through the ledger.
package trading

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/events"
	"simtrade-core/internal/ledger"
	"simtrade-core/internal/monitor"
	"simtrade-core/internal/settings"
	"simtrade-core/pkg/db"
	"simtrade-core/pkg/money"
)

// Ledger is the slice of the ledger trades need.
type Ledger interface {
	Reserve(ctx context.Context, user, symbol string, amount decimal.Decimal, key string, attach ...db.Stmt) (ledger.Result, error)
	Release(ctx context.Context, key string, attach ...db.Stmt) (ledger.Result, error)
	Settle(ctx context.Context, key string, delta decimal.Decimal, attach ...db.Stmt) (ledger.Result, error)
	Reservation(key string) (db.Reservation, bool)
}

// Instruments resolves prices and precision.
type Instruments interface {
	Get(symbol string) (db.Instrument, bool)
	Precision(symbol string) int32
}

// Gate reports users that may not trade.
type Gate interface {
	Blocked(userID string) bool
}

// Store loads trades.
type Store interface {
	ActiveTrades(ctx context.Context) ([]db.Trade, error)
	GetTrade(ctx context.Context, id string) (db.Trade, error)
}

// History lists a user's trades.
type History interface {
	TradesByUser(ctx context.Context, userID string, limit int) ([]db.Trade, error)
}

// Publisher receives trade updates.
type Publisher interface {
	Publish(topic, msgType string, payload any) events.Message
}

// Writer receives revaluation rows.
type Writer interface {
	Write(s db.Stmt)
}

// Notifier is told about closed trades.
type Notifier interface {
	TradeClosed(ctx context.Context, t db.Trade)
}

// OpenRequest asks for a new trade.
type OpenRequest struct {
	UserID          string
	Symbol          string
	Side            string
	Quantity        decimal.Decimal
	DurationSeconds int64
	QuoteSymbol     string
}

// Options wires the engine.
type Options struct {
	Ledger      Ledger
	Instruments Instruments
	Gate        Gate
	Store       Store
	History     History
	Publisher   Publisher
	Writer      Writer
	Notifier    Notifier
	Metrics     *monitor.SystemMetrics
	Settings    func() settings.TradingSettings
	Rand        Rand
	Logger      *zap.Logger
	Now         func() time.Time
}

type position struct {
	mu sync.Mutex
	t  db.Trade
}

// Engine owns every active trade.
type Engine struct {
	ledger   Ledger
	inst     Instruments
	gate     Gate
	store    Store
	history  History
	pub      Publisher
	writer   Writer
	notifier Notifier
	metrics  *monitor.SystemMetrics
	settings func() settings.TradingSettings
	log      *zap.Logger
	now      func() time.Time

	rngMu sync.Mutex
	rng   Rand

	mu       sync.RWMutex
	active   map[string]*position
	bySymbol map[string]map[string]*position
	closed   bool

	consumer sync.WaitGroup
}

// New creates a trade engine.
func New(opts Options) *Engine {
	e := &Engine{
		ledger:   opts.Ledger,
		inst:     opts.Instruments,
		gate:     opts.Gate,
		store:    opts.Store,
		history:  opts.History,
		pub:      opts.Publisher,
		writer:   opts.Writer,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		settings: opts.Settings,
		rng:      opts.Rand,
		log:      opts.Logger,
		now:      opts.Now,
		active:   make(map[string]*position),
		bySymbol: make(map[string]map[string]*position),
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
	e.log = e.log.With(zap.String("component", "trading"))
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) draw(winRate float64) bool {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return DrawWin(e.rng, winRate)
}

// register tracks p as active. It fails once the engine is stopped.
func (e *Engine) register(p *position) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.active[p.t.ID] = p
	if e.bySymbol[p.t.Symbol] == nil {
		e.bySymbol[p.t.Symbol] = make(map[string]*position)
	}
	e.bySymbol[p.t.Symbol][p.t.ID] = p
	return true
}

func (e *Engine) unregister(t db.Trade) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, t.ID)
	if m := e.bySymbol[t.Symbol]; m != nil {
		delete(m, t.ID)
		if len(m) == 0 {
			delete(e.bySymbol, t.Symbol)
		}
	}
}

func (e *Engine) lookup(id string) (*position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.active[id]
	return p, ok
}

func (e *Engine) onSymbol(symbol string) []*position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*position, 0, len(e.bySymbol[symbol]))
	for _, p := range e.bySymbol[symbol] {
		out = append(out, p)
	}
	return out
}

// OpenTrade reserves the notional and registers an active trade. The trade
// row is written in the reservation's transaction.
func (e *Engine) OpenTrade(ctx context.Context, req OpenRequest) (db.Trade, error) {
	s := e.settings()
	if !s.TradingOpen() {
		return db.Trade{}, errs.ErrTradingDisabled
	}
	if e.gate != nil && e.gate.Blocked(req.UserID) {
		return db.Trade{}, errs.Newf(errs.UserBlocked, "user %s may not trade", req.UserID)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return db.Trade{}, errs.Newf(errs.InvalidArgument, "side must be buy or sell, got %q", req.Side)
	}
	if !req.Quantity.IsPositive() {
		return db.Trade{}, errs.ErrAmountNonPositive
	}
	if req.DurationSeconds <= 0 {
		return db.Trade{}, errs.New(errs.InvalidArgument, "duration_seconds must be positive")
	}
	if req.QuoteSymbol == "" {
		req.QuoteSymbol = s.DefaultQuoteSymbol
	}
	if req.QuoteSymbol == req.Symbol {
		return db.Trade{}, errs.New(errs.InvalidArgument, "quote symbol must differ from the traded symbol")
	}
	inst, ok := e.inst.Get(req.Symbol)
	if !ok {
		return db.Trade{}, errs.Newf(errs.UnknownSymbol, "unknown symbol %s", req.Symbol)
	}
	if !inst.IsActive || !inst.IsTradeable {
		return db.Trade{}, errs.Newf(errs.InstrumentUntradeable, "%s is not tradeable", req.Symbol)
	}

	if e.metrics != nil {
		defer monitor.NewTimer(e.metrics.OpenLatency).Stop()
	}

	ctx, cancel := context.WithTimeout(ctx, s.RequestTimeout())
	defer cancel()

	now := e.now()
	t := db.Trade{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		QuoteSymbol:     req.QuoteSymbol,
		Side:            req.Side,
		EntryPrice:      inst.CurrentPrice,
		Quantity:        req.Quantity,
		Notional:        inst.CurrentPrice.Mul(req.Quantity),
		OpenedAt:        now,
		DurationSeconds: req.DurationSeconds,
		Status:          StatusActive,
		CurrentPrice:    inst.CurrentPrice,
		UnrealizedPnL:   decimal.Zero,
		RealizedPnL:     decimal.Zero,
		UpdatedAt:       now,
	}

	if _, err := e.ledger.Reserve(ctx, t.UserID, t.QuoteSymbol, t.Notional, t.ID, db.TradeInsertStmt(t)); err != nil {
		return db.Trade{}, err
	}

	p := &position{t: t}
	if !e.register(p) {
		t.Status = StatusCancelled
		t.ClosedAt = e.now()
		t.UpdatedAt = t.ClosedAt
		t.ResolutionReason = "shutdown"
		if _, err := e.ledger.Release(context.WithoutCancel(ctx), t.ID, db.TradeUpdateStmt(t)); err != nil {
			e.log.Error("❌ reservation of cancelled trade not released", zap.String("trade_id", t.ID), zap.Error(err))
		}
		return t, errs.New(errs.Unavailable, "trade engine is shutting down")
	}

	if e.metrics != nil {
		e.metrics.IncrementTradesOpened()
	}
	e.publish(t)
	e.log.Info("📝 trade opened", zap.String("trade_id", t.ID), zap.String("user_id", t.UserID),
		zap.String("symbol", t.Symbol), zap.String("side", t.Side),
		zap.String("entry", t.EntryPrice.String()), zap.String("notional", t.Notional.String()))
	return t, nil
}

func (e *Engine) publish(t db.Trade) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(events.UserTradesTopic(t.UserID), events.TypeTradeUpdate, events.TradeUpdate{
		TradeID:          t.ID,
		Symbol:           t.Symbol,
		Side:             t.Side,
		Status:           t.Status,
		EntryPrice:       t.EntryPrice,
		CurrentPrice:     t.CurrentPrice,
		Quantity:         t.Quantity,
		Notional:         t.Notional,
		UnrealizedPnL:    t.UnrealizedPnL,
		RealizedPnL:      t.RealizedPnL,
		ResolutionReason: t.ResolutionReason,
		ExpiresAt:        t.ExpiresAt(),
	})
}

// OnPrice revalues every active trade on the event's symbol and stops out
// those past the loss limit. It returns how many trades were stopped out.
func (e *Engine) OnPrice(ctx context.Context, ev events.PriceEvent) int {
	s := e.settings()
	stopped := 0
	for _, p := range e.onSymbol(ev.Symbol) {
		p.mu.Lock()
		if p.t.Status != StatusActive {
			p.mu.Unlock()
			continue
		}
		p.t.CurrentPrice = ev.New
		p.t.UnrealizedPnL = Unrealized(p.t, ev.New)
		p.t.UpdatedAt = e.now()
		if e.writer != nil {
			e.writer.Write(db.TradeRevalueStmt(p.t))
		}
		e.publish(p.t)

		if StoppedOut(p.t, p.t.UnrealizedPnL, s.MaxLossFraction) {
			if _, err := e.resolveLocked(ctx, p, ReasonStopOut); err != nil {
				e.log.Warn("⚠️ stop-out settlement failed", zap.String("trade_id", p.t.ID), zap.Error(err))
			} else {
				stopped++
			}
		}
		p.mu.Unlock()
	}
	return stopped
}

// CheckExpiries resolves trades whose duration has elapsed at now.
func (e *Engine) CheckExpiries(ctx context.Context, now time.Time) (int, error) {
	e.mu.RLock()
	due := make([]*position, 0)
	for _, p := range e.active {
		due = append(due, p)
	}
	e.mu.RUnlock()

	resolved := 0
	var firstErr error
	for _, p := range due {
		p.mu.Lock()
		if p.t.Status == StatusActive && !now.Before(p.t.ExpiresAt()) {
			if _, err := e.resolveLocked(ctx, p, ReasonExpired); err != nil {
				e.log.Warn("⚠️ expiry settlement failed", zap.String("trade_id", p.t.ID), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			} else {
				resolved++
			}
		}
		p.mu.Unlock()
	}
	return resolved, firstErr
}

// CloseTrade is the user's early close.
func (e *Engine) CloseTrade(ctx context.Context, userID, id string) (db.Trade, error) {
	if !e.settings().EarlyCloseEnabled {
		return db.Trade{}, errs.ErrEarlyCloseDisabled
	}
	return e.closeTrade(ctx, id, userID, ReasonEarlyClose)
}

// ForceClose is the administrator close.
func (e *Engine) ForceClose(ctx context.Context, id, reason string) (db.Trade, error) {
	label := ReasonForceClose
	if reason != "" {
		label += ":" + reason
	}
	return e.closeTrade(ctx, id, "", label)
}

func (e *Engine) closeTrade(ctx context.Context, id, owner, reason string) (db.Trade, error) {
	p, ok := e.lookup(id)
	if !ok {
		return db.Trade{}, e.inactiveOrMissing(ctx, id, owner)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if owner != "" && p.t.UserID != owner {
		return db.Trade{}, errs.Newf(errs.TradeNotFound, "trade %s not found", id)
	}
	if p.t.Status != StatusActive {
		return p.t, errs.Newf(errs.TradeNotActive, "trade %s is %s", id, p.t.Status)
	}
	return e.resolveLocked(ctx, p, reason)
}

func (e *Engine) inactiveOrMissing(ctx context.Context, id, owner string) error {
	if e.store != nil {
		if t, err := e.store.GetTrade(ctx, id); err == nil && (owner == "" || t.UserID == owner) {
			return errs.Newf(errs.TradeNotActive, "trade %s is %s", id, t.Status)
		}
	}
	return errs.Newf(errs.TradeNotFound, "trade %s not found", id)
}

// resolveLocked computes the outcome and settles it. The caller holds p.mu.
func (e *Engine) resolveLocked(ctx context.Context, p *position, reason string) (db.Trade, error) {
	s := e.settings()
	closed := p.t
	realized := MarketOutcome(closed, closed.UnrealizedPnL)
	if reason == ReasonExpired && s.OutcomeMode == settings.OutcomeProbabilistic {
		realized = ProbabilisticOutcome(closed, s, e.draw(s.ActiveWinRatePercent))
		reason = ReasonProbabilistic
	}
	// Rounding may push a full loss past the reservation.
	realized = decimal.Max(money.Round(realized, e.inst.Precision(closed.QuoteSymbol)), closed.Notional.Neg())

	now := e.now()
	closed.RealizedPnL = realized
	closed.Status = StatusFor(realized)
	closed.ResolutionReason = reason
	closed.ClosedAt = now
	closed.UpdatedAt = now

	var timer *monitor.Timer
	if e.metrics != nil {
		timer = monitor.NewTimer(e.metrics.SettleLatency)
	}
	res, err := e.ledger.Settle(context.WithoutCancel(ctx), closed.ID, realized, db.TradeUpdateStmt(closed))
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		return p.t, err
	}
	if res.Duplicate {
		closed.RealizedPnL = res.Delta
		closed.Status = StatusFor(res.Delta)
	}

	p.t = closed
	e.unregister(closed)
	e.publish(closed)
	if e.notifier != nil {
		e.notifier.TradeClosed(ctx, closed)
	}
	e.log.Info("🏁 trade resolved", zap.String("trade_id", closed.ID), zap.String("user_id", closed.UserID),
		zap.String("status", closed.Status), zap.String("reason", reason),
		zap.String("realized", realized.String()))
	return closed, nil
}

// Resume reloads active trades after a restart.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	trades, err := e.store.ActiveTrades(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range trades {
		if _, ok := e.ledger.Reservation(t.ID); !ok {
			e.log.Error("❌ active trade has no reservation", zap.String("trade_id", t.ID))
		}
		e.register(&position{t: t})
	}
	e.log.Info("♻️ active trades resumed", zap.Int("count", len(trades)))
	return len(trades), nil
}

// NetExposure is the signed open notional on symbol: buys add, sells
// subtract.
func (e *Engine) NetExposure(symbol string) decimal.Decimal {
	net := decimal.Zero
	for _, p := range e.onSymbol(symbol) {
		p.mu.Lock()
		if p.t.Status == StatusActive {
			net = net.Add(p.t.Notional.Mul(sign(p.t.Side)))
		}
		p.mu.Unlock()
	}
	return net
}

// ActiveTrades lists a user's active trades, oldest first. An empty user
// lists all of them.
func (e *Engine) ActiveTrades(userID string) []db.Trade {
	e.mu.RLock()
	ps := make([]*position, 0, len(e.active))
	for _, p := range e.active {
		ps = append(ps, p)
	}
	e.mu.RUnlock()

	var out []db.Trade
	for _, p := range ps {
		p.mu.Lock()
		t := p.t
		p.mu.Unlock()
		if t.Status == StatusActive && (userID == "" || t.UserID == userID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// ActiveCount is the number of active trades.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// HasActive reports whether userID has an active trade.
func (e *Engine) HasActive(userID string) bool {
	return len(e.ActiveTrades(userID)) > 0
}

// Get returns a trade, active or historical.
func (e *Engine) Get(ctx context.Context, id string) (db.Trade, error) {
	if p, ok := e.lookup(id); ok {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.t, nil
	}
	if e.store != nil {
		t, err := e.store.GetTrade(ctx, id)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return db.Trade{}, errs.Wrap(err, errs.Internal, "load trade")
		}
	}
	return db.Trade{}, errs.Newf(errs.TradeNotFound, "trade %s not found", id)
}

// List returns a user's most recent trades.
func (e *Engine) List(ctx context.Context, userID string, limit int) ([]db.Trade, error) {
	if e.history == nil {
		return e.ActiveTrades(userID), nil
	}
	trades, err := e.history.TradesByUser(ctx, userID, limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.Internal, "list trades")
	}
	return trades, nil
}

// Start consumes price events from sub until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context, sub *events.Subscriber) {
	e.consumer.Add(1)
	go func() {
		defer e.consumer.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				if ev, ok := msg.Payload.(events.PriceEvent); ok {
					e.OnPrice(ctx, ev)
				}
			}
		}
	}()
}

// Stop refuses new trades and waits for in-flight resolutions, which hold
// their position's lock. Active trades stay persisted for Resume.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.closed = true
	ps := make([]*position, 0, len(e.active))
	for _, p := range e.active {
		ps = append(ps, p)
	}
	e.mu.Unlock()

	for _, p := range ps {
		p.mu.Lock()
		p.mu.Unlock() //nolint:staticcheck
	}
	e.log.Info("🛑 trade engine stopped", zap.Int("active", len(ps)))
}

// Wait blocks until the price consumer has exited.
func (e *Engine) Wait() { e.consumer.Wait() }
