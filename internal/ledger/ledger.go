// Package ledger is the custodial multi-currency balance book. Every
// mutation is keyed for idempotency, persisted atomically with its journal
// entry and published on the owner's balance topic.
package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/events"
	"simtrade-core/pkg/cache"
	"simtrade-core/pkg/db"
)

// Journal kinds.
const (
	KindCredit  = "credit"
	KindDebit   = "debit"
	KindReserve = "reserve"
	KindRelease = "release"
	KindSettle  = "settle"
)

// Credit sources.
const (
	SourceDeposit = "deposit"
	SourceIdle    = "idle"
	SourceAdmin   = "admin"
)

// Store persists ledger state.
type Store interface {
	ApplyLedger(ctx context.Context, m db.LedgerMutation) error
	LoadBalances(ctx context.Context) ([]db.BalanceLine, error)
	LoadReservations(ctx context.Context) ([]db.Reservation, error)
	LoadJournal(ctx context.Context) ([]db.JournalEntry, error)
}

// Publisher receives balance updates.
type Publisher interface {
	Publish(topic, msgType string, payload any) events.Message
}

// Gate reports users that may not move free balance.
type Gate interface {
	Blocked(userID string) bool
}

// Prices resolves symbols for validation and valuation.
type Prices interface {
	Known(symbol string) bool
	Price(symbol string) (decimal.Decimal, bool)
	IsStablecoin(symbol string) bool
}

// Result is the outcome of a ledger operation.
type Result struct {
	Line      db.BalanceLine
	Amount    decimal.Decimal
	Delta     decimal.Decimal
	Duplicate bool
}

// Options wires optional collaborators.
type Options struct {
	Store     Store
	Publisher Publisher
	Gate      Gate
	Prices    Prices
	Logger    *zap.Logger
	// LockTimeout bounds line lock waits; read on every call.
	LockTimeout func() time.Duration
	Now         func() time.Time
}

type line struct {
	lock  lineLock
	state atomic.Pointer[db.BalanceLine]
}

// Ledger owns every balance line.
type Ledger struct {
	lines *cache.Sharded[*line]

	resMu        sync.RWMutex
	reservations map[string]db.Reservation

	jMu     sync.RWMutex
	journal map[string]db.JournalEntry

	store       Store
	pub         Publisher
	gate        Gate
	prices      Prices
	log         *zap.Logger
	lockTimeout func() time.Duration
	now         func() time.Time
}

// New creates an empty ledger.
func New(opts Options) *Ledger {
	l := &Ledger{
		lines:        cache.NewSharded[*line](),
		reservations: make(map[string]db.Reservation),
		journal:      make(map[string]db.JournalEntry),
		store:        opts.Store,
		pub:          opts.Publisher,
		gate:         opts.Gate,
		prices:       opts.Prices,
		log:          opts.Logger,
		lockTimeout:  opts.LockTimeout,
		now:          opts.Now,
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	l.log = l.log.With(zap.String("component", "ledger"))
	if l.lockTimeout == nil {
		l.lockTimeout = func() time.Duration { return 5 * time.Second }
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Load restores lines, open reservations and the journal from the store.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	balances, err := l.store.LoadBalances(ctx)
	if err != nil {
		return err
	}
	reservations, err := l.store.LoadReservations(ctx)
	if err != nil {
		return err
	}
	journal, err := l.store.LoadJournal(ctx)
	if err != nil {
		return err
	}

	for _, b := range balances {
		l.getLine(b.UserID, b.Symbol).state.Store(&b)
	}
	l.resMu.Lock()
	for _, r := range reservations {
		l.reservations[r.Key] = r
	}
	l.resMu.Unlock()
	l.jMu.Lock()
	for _, j := range journal {
		l.journal[j.Key] = j
	}
	l.jMu.Unlock()

	l.log.Info("💰 ledger loaded",
		zap.Int("lines", len(balances)),
		zap.Int("reservations", len(reservations)),
		zap.Int("journal", len(journal)))
	return nil
}

func lineKey(user, symbol string) string { return user + "|" + symbol }

func journalKey(kind, key string) string { return kind + ":" + key }

func zeroLine(user, symbol string) db.BalanceLine {
	return db.BalanceLine{
		UserID:              user,
		Symbol:              symbol,
		Total:               decimal.Zero,
		Available:           decimal.Zero,
		Reserved:            decimal.Zero,
		CumulativeDeposited: decimal.Zero,
		CumulativeWithdrawn: decimal.Zero,
	}
}

func (l *Ledger) getLine(user, symbol string) *line {
	return l.lines.GetOrCreate(lineKey(user, symbol), func() *line {
		ln := &line{lock: newLineLock()}
		z := zeroLine(user, symbol)
		ln.state.Store(&z)
		return ln
	})
}

func (l *Ledger) acquire(ctx context.Context, ln *line) error {
	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout())
	defer cancel()
	if err := ln.lock.Lock(lockCtx); err != nil {
		return errs.Wrap(err, errs.Unavailable, "balance line busy")
	}
	return nil
}

func (l *Ledger) recorded(kind, key string) (db.JournalEntry, bool) {
	l.jMu.RLock()
	defer l.jMu.RUnlock()
	j, ok := l.journal[journalKey(kind, key)]
	return j, ok
}

func duplicate(j db.JournalEntry) Result {
	return Result{Line: j.Snapshot, Amount: j.Amount, Delta: j.Delta, Duplicate: true}
}

// Reservation returns the open reservation under key.
func (l *Ledger) Reservation(key string) (db.Reservation, bool) {
	l.resMu.RLock()
	defer l.resMu.RUnlock()
	r, ok := l.reservations[key]
	return r, ok
}

func (l *Ledger) validate(user, symbol string, amount decimal.Decimal, key string) error {
	if user == "" || key == "" {
		return errs.New(errs.InvalidArgument, "user and key are required")
	}
	if !amount.IsPositive() {
		return errs.ErrAmountNonPositive
	}
	if l.prices != nil && !l.prices.Known(symbol) {
		return errs.Newf(errs.UnknownSymbol, "unknown symbol %s", symbol)
	}
	return nil
}

func (l *Ledger) blocked(user string) error {
	if l.gate != nil && l.gate.Blocked(user) {
		return errs.Newf(errs.UserFrozen, "user %s is frozen", user)
	}
	return nil
}

type change struct {
	kind, source, key string
	amount, delta     decimal.Decimal
	next              db.BalanceLine
	put               *db.Reservation
	del               string
	attach            []db.Stmt
}

// commit persists c, then applies it in memory and publishes. The caller
// holds the line lock.
func (l *Ledger) commit(ctx context.Context, ln *line, c change) (Result, error) {
	now := l.now()
	c.next.UpdatedAt = now
	entry := db.JournalEntry{
		Key:       journalKey(c.kind, c.key),
		UserID:    c.next.UserID,
		Symbol:    c.next.Symbol,
		Kind:      c.kind,
		Source:    c.source,
		Amount:    c.amount,
		Delta:     c.delta,
		Snapshot:  c.next,
		CreatedAt: now,
	}

	if l.store != nil {
		err := l.store.ApplyLedger(ctx, db.LedgerMutation{
			Line:              c.next,
			Journal:           entry,
			PutReservation:    c.put,
			DeleteReservation: c.del,
			Attach:            c.attach,
		})
		if errors.Is(err, db.ErrDuplicateKey) {
			return Result{}, errs.Wrap(err, errs.DuplicateKey, "ledger key already used")
		}
		if err != nil {
			l.log.Error("❌ ledger write failed, line unchanged",
				zap.String("user_id", c.next.UserID), zap.String("symbol", c.next.Symbol),
				zap.String("kind", c.kind), zap.String("key", c.key), zap.Error(err))
			return Result{}, errs.Wrap(err, errs.Internal, "persist ledger mutation")
		}
	}

	next := c.next
	ln.state.Store(&next)

	l.resMu.Lock()
	if c.put != nil {
		l.reservations[c.put.Key] = *c.put
	}
	if c.del != "" {
		delete(l.reservations, c.del)
	}
	l.resMu.Unlock()

	l.jMu.Lock()
	l.journal[entry.Key] = entry
	l.jMu.Unlock()

	if l.pub != nil {
		l.pub.Publish(events.UserBalanceTopic(next.UserID), events.TypeBalanceUpdate, events.BalanceUpdate{
			Symbol:    next.Symbol,
			Total:     next.Total,
			Available: next.Available,
			Reserved:  next.Reserved,
			Kind:      c.kind,
			Key:       c.key,
		})
	}

	return Result{Line: next, Amount: c.amount, Delta: c.delta}, nil
}

// Credit adds amount to the user's free balance.
func (l *Ledger) Credit(ctx context.Context, user, symbol string, amount decimal.Decimal, key, source string, attach ...db.Stmt) (Result, error) {
	if err := l.validate(user, symbol, amount, key); err != nil {
		return Result{}, err
	}
	if j, ok := l.recorded(KindCredit, key); ok {
		return duplicate(j), nil
	}
	if err := l.blocked(user); err != nil {
		return Result{}, err
	}

	ln := l.getLine(user, symbol)
	if err := l.acquire(ctx, ln); err != nil {
		return Result{}, err
	}
	defer ln.lock.Unlock()

	if j, ok := l.recorded(KindCredit, key); ok {
		return duplicate(j), nil
	}

	next := *ln.state.Load()
	next.Total = next.Total.Add(amount)
	next.Available = next.Available.Add(amount)
	if source == SourceDeposit {
		next.CumulativeDeposited = next.CumulativeDeposited.Add(amount)
	}

	res, err := l.commit(ctx, ln, change{kind: KindCredit, source: source, key: key, amount: amount, delta: amount, next: next, attach: attach})
	if err == nil {
		l.log.Info("💵 balance credited", zap.String("user_id", user), zap.String("symbol", symbol),
			zap.String("amount", amount.String()), zap.String("source", source))
	}
	return res, err
}

// Reserve moves amount from available to reserved under key.
func (l *Ledger) Reserve(ctx context.Context, user, symbol string, amount decimal.Decimal, key string, attach ...db.Stmt) (Result, error) {
	if err := l.validate(user, symbol, amount, key); err != nil {
		return Result{}, err
	}
	if j, ok := l.recorded(KindReserve, key); ok {
		return duplicate(j), nil
	}
	if err := l.blocked(user); err != nil {
		return Result{}, err
	}

	ln := l.getLine(user, symbol)
	if err := l.acquire(ctx, ln); err != nil {
		return Result{}, err
	}
	defer ln.lock.Unlock()

	if j, ok := l.recorded(KindReserve, key); ok {
		return duplicate(j), nil
	}

	next := *ln.state.Load()
	if next.Available.LessThan(amount) {
		return Result{}, errs.Newf(errs.InsufficientFunds, "need %s %s, have %s", amount, symbol, next.Available)
	}
	next.Available = next.Available.Sub(amount)
	next.Reserved = next.Reserved.Add(amount)

	res, err := l.commit(ctx, ln, change{
		kind: KindReserve, key: key, amount: amount, next: next, attach: attach,
		put: &db.Reservation{Key: key, UserID: user, Symbol: symbol, Amount: amount, CreatedAt: l.now()},
	})
	if err == nil {
		l.log.Debug("🔒 balance reserved", zap.String("user_id", user), zap.String("symbol", symbol),
			zap.String("amount", amount.String()), zap.String("key", key))
	}
	return res, err
}

// Release returns an open reservation to available. Unknown or already
// released keys are a no-op reported as Duplicate.
func (l *Ledger) Release(ctx context.Context, key string, attach ...db.Stmt) (Result, error) {
	r, ok := l.Reservation(key)
	if !ok {
		return Result{Duplicate: true}, nil
	}

	ln := l.getLine(r.UserID, r.Symbol)
	if err := l.acquire(ctx, ln); err != nil {
		return Result{}, err
	}
	defer ln.lock.Unlock()

	if r, ok = l.Reservation(key); !ok {
		return Result{Line: *ln.state.Load(), Duplicate: true}, nil
	}

	next := *ln.state.Load()
	next.Available = next.Available.Add(r.Amount)
	next.Reserved = next.Reserved.Sub(r.Amount)

	res, err := l.commit(ctx, ln, change{kind: KindRelease, key: key, amount: r.Amount, next: next, del: key, attach: attach})
	if err == nil {
		l.log.Debug("🔓 reservation released", zap.String("user_id", r.UserID), zap.String("key", key))
	}
	return res, err
}

// Settle closes the reservation under key and applies the signed delta.
// A repeat returns the first result with Duplicate set.
func (l *Ledger) Settle(ctx context.Context, key string, delta decimal.Decimal, attach ...db.Stmt) (Result, error) {
	if j, ok := l.recorded(KindSettle, key); ok {
		return duplicate(j), nil
	}
	r, ok := l.Reservation(key)
	if !ok {
		return Result{}, errs.Newf(errs.NotFound, "no open reservation %s", key)
	}

	ln := l.getLine(r.UserID, r.Symbol)
	if err := l.acquire(ctx, ln); err != nil {
		return Result{}, err
	}
	defer ln.lock.Unlock()

	if j, ok := l.recorded(KindSettle, key); ok {
		return duplicate(j), nil
	}
	if r, ok = l.Reservation(key); !ok {
		return Result{}, errs.Newf(errs.NotFound, "no open reservation %s", key)
	}
	if delta.LessThan(r.Amount.Neg()) {
		return Result{}, errs.Newf(errs.InvalidArgument, "settlement delta %s exceeds reserved %s", delta, r.Amount)
	}

	next := *ln.state.Load()
	next.Reserved = next.Reserved.Sub(r.Amount)
	next.Available = next.Available.Add(r.Amount).Add(delta)
	next.Total = next.Total.Add(delta)

	res, err := l.commit(ctx, ln, change{kind: KindSettle, key: key, amount: r.Amount, delta: delta, next: next, del: key, attach: attach})
	if err == nil {
		l.log.Info("✅ reservation settled", zap.String("user_id", r.UserID), zap.String("symbol", r.Symbol),
			zap.String("key", key), zap.String("delta", delta.String()))
	}
	return res, err
}

// Debit removes amount from the user. A reservation under the same key is
// consumed; otherwise free balance is reduced.
func (l *Ledger) Debit(ctx context.Context, user, symbol string, amount decimal.Decimal, key string, attach ...db.Stmt) (Result, error) {
	if err := l.validate(user, symbol, amount, key); err != nil {
		return Result{}, err
	}
	if j, ok := l.recorded(KindDebit, key); ok {
		return duplicate(j), nil
	}

	r, reserved := l.Reservation(key)
	if reserved && (r.UserID != user || r.Symbol != symbol || !r.Amount.Equal(amount)) {
		return Result{}, errs.Newf(errs.InvalidArgument, "debit does not match reservation %s", key)
	}
	if !reserved {
		if err := l.blocked(user); err != nil {
			return Result{}, err
		}
	}

	ln := l.getLine(user, symbol)
	if err := l.acquire(ctx, ln); err != nil {
		return Result{}, err
	}
	defer ln.lock.Unlock()

	if j, ok := l.recorded(KindDebit, key); ok {
		return duplicate(j), nil
	}

	next := *ln.state.Load()
	c := change{kind: KindDebit, key: key, amount: amount, delta: amount.Neg(), attach: attach}
	_, stillReserved := l.Reservation(key)
	switch {
	case reserved && !stillReserved:
		return Result{}, errs.Newf(errs.StateTransitionForbidden, "reservation %s released before debit", key)
	case reserved:
		next.Reserved = next.Reserved.Sub(amount)
		c.del = key
	default:
		if next.Available.LessThan(amount) {
			return Result{}, errs.Newf(errs.InsufficientFunds, "need %s %s, have %s", amount, symbol, next.Available)
		}
		next.Available = next.Available.Sub(amount)
	}
	next.Total = next.Total.Sub(amount)
	next.CumulativeWithdrawn = next.CumulativeWithdrawn.Add(amount)
	c.next = next

	res, err := l.commit(ctx, ln, c)
	if err == nil {
		l.log.Info("💸 balance debited", zap.String("user_id", user), zap.String("symbol", symbol),
			zap.String("amount", amount.String()), zap.Bool("reserved", c.del != ""))
	}
	return res, err
}

// Line returns one balance line; absent lines read as zero.
func (l *Ledger) Line(user, symbol string) db.BalanceLine {
	if ln, ok := l.lines.Get(lineKey(user, symbol)); ok {
		return *ln.state.Load()
	}
	return zeroLine(user, symbol)
}

// Snapshot returns every line of user ordered by symbol.
func (l *Ledger) Snapshot(user string) []db.BalanceLine {
	prefix := user + "|"
	var out []db.BalanceLine
	l.lines.Range(func(k string, ln *line) bool {
		if strings.HasPrefix(k, prefix) {
			out = append(out, *ln.state.Load())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ValuationUSD sums total × price over the user's lines. Stablecoins count
// at 1 and symbols without a price count 0.
func (l *Ledger) ValuationUSD(user string) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range l.Snapshot(user) {
		switch {
		case l.prices == nil:
		case l.prices.IsStablecoin(b.Symbol):
			sum = sum.Add(b.Total)
		default:
			if p, ok := l.prices.Price(b.Symbol); ok {
				sum = sum.Add(b.Total.Mul(p))
			}
		}
	}
	return sum
}

// Reservations lists every open reservation, oldest first.
func (l *Ledger) Reservations() []db.Reservation {
	l.resMu.RLock()
	out := make([]db.Reservation, 0, len(l.reservations))
	for _, r := range l.reservations {
		out = append(out, r)
	}
	l.resMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Users lists every user holding at least one line.
func (l *Ledger) Users() []string {
	seen := make(map[string]struct{})
	for _, k := range l.lines.Keys() {
		if i := strings.IndexByte(k, '|'); i > 0 {
			seen[k[:i]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// LineCount is the number of balance lines held.
func (l *Ledger) LineCount() int { return l.lines.Len() }

// CheckInvariants verifies total = available + reserved, non-negativity and
// that open reservations add up to each line's reserved amount.
func (l *Ledger) CheckInvariants() error {
	held := make(map[string]decimal.Decimal)
	for _, r := range l.Reservations() {
		k := lineKey(r.UserID, r.Symbol)
		held[k] = held[k].Add(r.Amount)
	}

	var bad error
	l.lines.Range(func(k string, ln *line) bool {
		b := ln.state.Load()
		switch {
		case !b.Total.Equal(b.Available.Add(b.Reserved)):
			bad = errs.Newf(errs.Internal, "%s: total %s != available %s + reserved %s", k, b.Total, b.Available, b.Reserved)
		case b.Total.IsNegative() || b.Available.IsNegative() || b.Reserved.IsNegative():
			bad = errs.Newf(errs.Internal, "%s: negative balance", k)
		case !b.Reserved.Equal(held[k]):
			bad = errs.Newf(errs.Internal, "%s: reserved %s but reservations hold %s", k, b.Reserved, held[k])
		}
		return bad == nil
	})
	return bad
}
