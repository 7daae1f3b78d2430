// Package registry is the instrument catalog. Reads never lock; price writes
// are serialized per symbol so observers see them in write order.
package registry

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/pkg/db"
	"simtrade-core/pkg/money"
)

// Store persists instruments.
type Store interface {
	ListInstruments(ctx context.Context) ([]db.Instrument, error)
	UpsertInstrument(ctx context.Context, i db.Instrument) error
}

// Writer receives asynchronous row writes in submission order.
type Writer interface {
	Write(s db.Stmt)
}

// Filter narrows List.
type Filter struct {
	ActiveOnly    bool
	TradeableOnly bool
	Category      string
}

func (f Filter) match(i *db.Instrument) bool {
	if f.ActiveOnly && !i.IsActive {
		return false
	}
	if f.TradeableOnly && !(i.IsTradeable && i.IsActive) {
		return false
	}
	if f.Category != "" {
		for _, c := range i.Categories {
			if c == f.Category {
				return true
			}
		}
		return false
	}
	return true
}

type entry struct {
	mu   sync.Mutex
	snap atomic.Pointer[db.Instrument]
}

// Registry holds every instrument.
type Registry struct {
	symbols atomic.Pointer[map[string]*entry]
	addMu   sync.Mutex

	store  Store
	writer Writer
	log    *zap.Logger
	now    func() time.Time
}

// New creates an empty registry. store and writer may be nil.
func New(store Store, writer Writer, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		store:  store,
		writer: writer,
		log:    log.With(zap.String("component", "registry")),
		now:    time.Now,
	}
	empty := make(map[string]*entry)
	r.symbols.Store(&empty)
	return r
}

// Load fills the registry from the store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.ListInstruments(ctx)
	if err != nil {
		return err
	}
	for _, i := range list {
		r.put(i)
	}
	r.log.Info("📈 instruments loaded", zap.Int("count", len(list)))
	return nil
}

func (r *Registry) lookup(symbol string) (*entry, bool) {
	e, ok := (*r.symbols.Load())[symbol]
	return e, ok
}

// put installs i as a new snapshot, creating the entry when needed.
func (r *Registry) put(i db.Instrument) {
	e := r.entryFor(i.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev := e.snap.Load(); prev != nil {
		i.Version = prev.Version + 1
	}
	e.snap.Store(&i)
}

func (r *Registry) entryFor(symbol string) *entry {
	if e, ok := r.lookup(symbol); ok {
		return e
	}
	r.addMu.Lock()
	defer r.addMu.Unlock()
	cur := *r.symbols.Load()
	if e, ok := cur[symbol]; ok {
		return e
	}
	next := make(map[string]*entry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	e := &entry{}
	next[symbol] = e
	r.symbols.Store(&next)
	return e
}

// Get returns the current snapshot of symbol.
func (r *Registry) Get(symbol string) (db.Instrument, bool) {
	e, ok := r.lookup(symbol)
	if !ok {
		return db.Instrument{}, false
	}
	snap := e.snap.Load()
	if snap == nil {
		return db.Instrument{}, false
	}
	return *snap, true
}

// List returns matching instruments ordered by rank, then symbol.
func (r *Registry) List(f Filter) []db.Instrument {
	var out []db.Instrument
	for _, e := range *r.symbols.Load() {
		snap := e.snap.Load()
		if snap != nil && f.match(snap) {
			out = append(out, *snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// TopRanked returns the n best ranked active instruments.
func (r *Registry) TopRanked(n int) []db.Instrument {
	list := r.List(Filter{ActiveOnly: true})
	if n >= 0 && len(list) > n {
		list = list[:n]
	}
	return list
}

// Upsert creates or replaces an instrument's static fields. A zero seed
// price keeps the current price of an existing instrument.
func (r *Registry) Upsert(ctx context.Context, seed db.Instrument) (db.Instrument, error) {
	if seed.Symbol == "" {
		return db.Instrument{}, errs.New(errs.InvalidArgument, "symbol is required")
	}
	if seed.Precision <= 0 {
		seed.Precision = money.DefaultPrecision
	}
	seed.Categories = append([]string(nil), seed.Categories...)

	e := r.entryFor(seed.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := seed
	if prev := e.snap.Load(); prev != nil {
		next.Version = prev.Version + 1
		if seed.CurrentPrice.IsZero() {
			next.CurrentPrice = prev.CurrentPrice
			next.LastMovementAt = prev.LastMovementAt
		}
	}
	if next.CurrentPrice.IsZero() {
		return db.Instrument{}, errs.Newf(errs.InvalidArgument, "instrument %s needs a price", seed.Symbol)
	}
	next.CurrentPrice = money.ClampPrice(next.CurrentPrice)
	if next.IsStablecoin && (next.VolatilityClass <= 0 || next.VolatilityClass > StablecoinVolatility) {
		next.VolatilityClass = StablecoinVolatility
	}

	if r.store != nil {
		if err := r.store.UpsertInstrument(ctx, next); err != nil {
			return db.Instrument{}, errs.Wrap(err, errs.Internal, "persist instrument")
		}
	}
	e.snap.Store(&next)
	return next, nil
}

// Deactivate hides symbol from trading and the price rotation.
func (r *Registry) Deactivate(ctx context.Context, symbol string) error {
	e, ok := r.lookup(symbol)
	if !ok || e.snap.Load() == nil {
		return errs.Newf(errs.UnknownSymbol, "unknown symbol %s", symbol)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := *e.snap.Load()
	next.IsActive = false
	next.IsTradeable = false
	next.Version++
	if r.store != nil {
		if err := r.store.UpsertInstrument(ctx, next); err != nil {
			return errs.Wrap(err, errs.Internal, "persist instrument")
		}
	}
	e.snap.Store(&next)
	r.log.Info("⏸️ instrument deactivated", zap.String("symbol", symbol))
	return nil
}

// PublishFunc observes a price write while the symbol is still locked.
type PublishFunc func(prev, next db.Instrument)

// SetPrice writes a new price clamped to the floor, refreshes the change
// window proxies and volume, and bumps the version. publish runs before the
// symbol lock is released.
func (r *Registry) SetPrice(symbol string, price decimal.Decimal, reason string, publish PublishFunc) (db.Instrument, error) {
	e, ok := r.lookup(symbol)
	if !ok || e.snap.Load() == nil {
		return db.Instrument{}, errs.Newf(errs.UnknownSymbol, "unknown symbol %s", symbol)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := *e.snap.Load()
	next := prev
	next.CurrentPrice = money.ClampPrice(price)
	next.LastMovementAt = r.now()
	next.Version = prev.Version + 1

	delta := money.ChangePct(prev.CurrentPrice, next.CurrentPrice)
	next.Change1h = 0.3 * delta
	next.Change24h = delta
	next.Change7d = 1.5 * delta
	next.Change30d = 3 * delta
	next.Volume24h = money.Grow(prev.Volume24h, math.Abs(delta)-0.5)
	if next.Volume24h.IsNegative() {
		next.Volume24h = decimal.Zero
	}

	e.snap.Store(&next)
	if r.writer != nil {
		r.writer.Write(db.InstrumentPriceStmt(next))
	}
	if publish != nil {
		publish(prev, next)
	}
	r.log.Debug("price set", zap.String("symbol", symbol), zap.String("price", next.CurrentPrice.String()),
		zap.String("reason", reason))
	return next, nil
}

// Known reports whether symbol exists.
func (r *Registry) Known(symbol string) bool {
	_, ok := r.Get(symbol)
	return ok
}

// Price returns the current price of symbol.
func (r *Registry) Price(symbol string) (decimal.Decimal, bool) {
	i, ok := r.Get(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return i.CurrentPrice, true
}

// IsStablecoin reports whether symbol is a stablecoin.
func (r *Registry) IsStablecoin(symbol string) bool {
	i, ok := r.Get(symbol)
	return ok && i.IsStablecoin
}

// Precision is the fractional digits balances of symbol are rounded to.
func (r *Registry) Precision(symbol string) int32 {
	if i, ok := r.Get(symbol); ok && i.Precision > 0 {
		return i.Precision
	}
	return money.DefaultPrecision
}

// Len is the number of instruments.
func (r *Registry) Len() int { return len(*r.symbols.Load()) }
