// Package funding reviews deposit and withdrawal requests and moves the
// approved amounts through the ledger.
package funding

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/ledger"
	"simtrade-core/internal/settings"
	"simtrade-core/pkg/db"
)

// Request kinds.
const (
	KindDeposit    = "deposit"
	KindWithdrawal = "withdrawal"
)

// Request statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
)

// Ledger is the slice of the ledger funding needs.
type Ledger interface {
	Credit(ctx context.Context, user, symbol string, amount decimal.Decimal, key, source string, attach ...db.Stmt) (ledger.Result, error)
	Reserve(ctx context.Context, user, symbol string, amount decimal.Decimal, key string, attach ...db.Stmt) (ledger.Result, error)
	Release(ctx context.Context, key string, attach ...db.Stmt) (ledger.Result, error)
	Debit(ctx context.Context, user, symbol string, amount decimal.Decimal, key string, attach ...db.Stmt) (ledger.Result, error)
	Line(user, symbol string) db.BalanceLine
	Users() []string
}

// Store persists requests and wallets.
type Store interface {
	InsertFunding(ctx context.Context, f db.FundingRequest) error
	GetFunding(ctx context.Context, id string) (db.FundingRequest, error)
	DuePendingDeposits(ctx context.Context, now time.Time) ([]db.FundingRequest, error)
	PendingFunding(ctx context.Context, kind string) ([]db.FundingRequest, error)
	UpsertWallet(ctx context.Context, w db.DepositWallet) error
	ListWallets(ctx context.Context, symbol string) ([]db.DepositWallet, error)
	Exec(ctx context.Context, stmts ...db.Stmt) error
}

// Instruments validates symbols and rounds amounts.
type Instruments interface {
	Known(symbol string) bool
	Precision(symbol string) int32
}

// Notifier is told about reviewed requests.
type Notifier interface {
	FundingReviewed(ctx context.Context, f db.FundingRequest)
}

// Options wires the service.
type Options struct {
	Ledger      Ledger
	Store       Store
	Instruments Instruments
	Notifier    Notifier
	// Trading reports users with open positions; they earn no idle credit.
	Trading  interface{ HasActive(userID string) bool }
	Settings func() settings.TradingSettings
	Logger   *zap.Logger
	Now      func() time.Time
}

// Review is the result of a state transition.
type Review struct {
	Request   db.FundingRequest
	Balance   db.BalanceLine
	Duplicate bool
}

// Service owns funding request transitions.
type Service struct {
	ledger   Ledger
	store    Store
	inst     Instruments
	notifier Notifier
	trading  interface{ HasActive(userID string) bool }
	settings func() settings.TradingSettings
	log      *zap.Logger
	now      func() time.Time

	// mu serializes reviews so a request leaves pending exactly once.
	mu sync.Mutex
}

// New creates a funding service.
func New(opts Options) *Service {
	s := &Service{
		ledger:   opts.Ledger,
		store:    opts.Store,
		inst:     opts.Instruments,
		notifier: opts.Notifier,
		trading:  opts.Trading,
		settings: opts.Settings,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if s.settings == nil {
		s.settings = settings.Defaults
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("component", "funding"))
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func ledgerKey(kind, id string) string { return kind + ":" + id }

func (s *Service) validate(user, symbol string, amount decimal.Decimal, address string) error {
	switch {
	case user == "":
		return errs.New(errs.InvalidArgument, "user id is required")
	case !amount.IsPositive():
		return errs.ErrAmountNonPositive
	case !s.inst.Known(symbol):
		return errs.Newf(errs.UnknownSymbol, "unknown symbol %s", symbol)
	case address == "":
		return errs.New(errs.InvalidArgument, "address is required")
	}
	return nil
}

// CreateDeposit records a pending deposit from the user's address and
// returns the platform wallet to send it to.
func (s *Service) CreateDeposit(ctx context.Context, user, symbol string, amount decimal.Decimal, from string) (db.FundingRequest, db.DepositWallet, error) {
	if err := s.validate(user, symbol, amount, from); err != nil {
		return db.FundingRequest{}, db.DepositWallet{}, err
	}
	wallet, err := s.PrimaryWallet(ctx, symbol)
	if err != nil {
		return db.FundingRequest{}, db.DepositWallet{}, err
	}

	now := s.now()
	f := db.FundingRequest{
		ID:        uuid.NewString(),
		Kind:      KindDeposit,
		UserID:    user,
		Symbol:    symbol,
		Amount:    amount,
		Address:   from,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.settings().DepositTTL()),
	}
	if err := s.store.InsertFunding(ctx, f); err != nil {
		return db.FundingRequest{}, db.DepositWallet{}, errs.Wrap(err, errs.Unavailable, "store deposit request")
	}

	s.log.Info("📥 deposit requested", zap.String("id", f.ID), zap.String("user_id", user),
		zap.String("symbol", symbol), zap.String("amount", amount.String()))
	return f, wallet, nil
}

// CreateWithdrawal reserves amount and records a pending withdrawal in the
// same transaction.
func (s *Service) CreateWithdrawal(ctx context.Context, user, symbol string, amount decimal.Decimal, to string) (db.FundingRequest, error) {
	if err := s.validate(user, symbol, amount, to); err != nil {
		return db.FundingRequest{}, err
	}

	f := db.FundingRequest{
		ID:        uuid.NewString(),
		Kind:      KindWithdrawal,
		UserID:    user,
		Symbol:    symbol,
		Amount:    amount,
		Address:   to,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	if _, err := s.ledger.Reserve(ctx, user, symbol, amount, ledgerKey(KindWithdrawal, f.ID), db.FundingInsertStmt(f)); err != nil {
		return db.FundingRequest{}, err
	}

	s.log.Info("📤 withdrawal requested", zap.String("id", f.ID), zap.String("user_id", user),
		zap.String("symbol", symbol), zap.String("amount", amount.String()))
	return f, nil
}

func (s *Service) get(ctx context.Context, id, kind string) (db.FundingRequest, error) {
	f, err := s.store.GetFunding(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return db.FundingRequest{}, errs.Newf(errs.NotFound, "%s request %s not found", kind, id)
	}
	if err != nil {
		return db.FundingRequest{}, errs.Wrap(err, errs.Unavailable, "load funding request")
	}
	if f.Kind != kind {
		return db.FundingRequest{}, errs.Newf(errs.NotFound, "%s request %s not found", kind, id)
	}
	return f, nil
}

func forbidden(f db.FundingRequest, to string) error {
	return errs.Newf(errs.StateTransitionForbidden, "%s %s is %s, cannot become %s", f.Kind, f.ID, f.Status, to)
}

func reviewed(f db.FundingRequest, status, reviewer, note string, at time.Time) db.FundingRequest {
	f.Status, f.Reviewer, f.Note, f.ReviewedAt = status, reviewer, note, at
	return f
}

// ConfirmDeposit credits the deposit. Confirming an already confirmed
// request returns the balance recorded by the first confirmation.
func (s *Service) ConfirmDeposit(ctx context.Context, id, reviewer, note string) (Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.get(ctx, id, KindDeposit)
	if err != nil {
		return Review{}, err
	}
	if f.Status != StatusPending && f.Status != StatusConfirmed {
		return Review{}, forbidden(f, StatusConfirmed)
	}

	now := s.now()
	if f, err = s.expireIfDue(ctx, f, now); err != nil {
		return Review{}, err
	}
	if f.Status == StatusExpired {
		return Review{}, forbidden(f, StatusConfirmed)
	}
	res, err := s.ledger.Credit(ctx, f.UserID, f.Symbol, f.Amount, ledgerKey(KindDeposit, f.ID), ledger.SourceDeposit,
		db.FundingStatusStmt(f.ID, StatusConfirmed, reviewer, note, now))
	if err != nil {
		return Review{}, err
	}
	if res.Duplicate {
		return Review{Request: f, Balance: res.Line, Duplicate: true}, nil
	}

	f = reviewed(f, StatusConfirmed, reviewer, note, now)
	s.log.Info("✅ deposit confirmed", zap.String("id", f.ID), zap.String("user_id", f.UserID),
		zap.String("symbol", f.Symbol), zap.String("amount", f.Amount.String()), zap.String("reviewer", reviewer))
	s.notify(ctx, f)
	return Review{Request: f, Balance: res.Line}, nil
}

// RejectDeposit closes a pending deposit without crediting.
func (s *Service) RejectDeposit(ctx context.Context, id, reviewer, note string) (db.FundingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.get(ctx, id, KindDeposit)
	if err != nil {
		return db.FundingRequest{}, err
	}
	if f.Status != StatusPending {
		return db.FundingRequest{}, forbidden(f, StatusRejected)
	}

	now := s.now()
	if f, err = s.expireIfDue(ctx, f, now); err != nil {
		return db.FundingRequest{}, err
	}
	if f.Status == StatusExpired {
		return db.FundingRequest{}, forbidden(f, StatusRejected)
	}
	if err := s.store.Exec(ctx, db.FundingStatusStmt(f.ID, StatusRejected, reviewer, note, now)); err != nil {
		return db.FundingRequest{}, errs.Wrap(err, errs.Unavailable, "reject deposit")
	}
	f = reviewed(f, StatusRejected, reviewer, note, now)
	s.log.Info("⛔ deposit rejected", zap.String("id", f.ID), zap.String("reviewer", reviewer))
	s.notify(ctx, f)
	return f, nil
}

// ExpireDeposits moves every pending deposit past its expiry to expired.
func (s *Service) ExpireDeposits(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, err := s.store.DuePendingDeposits(ctx, now)
	if err != nil {
		return 0, errs.Wrap(err, errs.Unavailable, "load due deposits")
	}
	if len(due) == 0 {
		return 0, nil
	}
	stmts := make([]db.Stmt, 0, len(due))
	for _, f := range due {
		stmts = append(stmts, db.FundingStatusStmt(f.ID, StatusExpired, "system", "expired", now))
	}
	if err := s.store.Exec(ctx, stmts...); err != nil {
		return 0, errs.Wrap(err, errs.Unavailable, "expire deposits")
	}
	s.log.Info("⌛ deposits expired", zap.Int("count", len(due)))
	return len(due), nil
}

// expireIfDue marks a pending deposit past its expiry as expired ahead of the
// sweep.
func (s *Service) expireIfDue(ctx context.Context, f db.FundingRequest, now time.Time) (db.FundingRequest, error) {
	if f.Status != StatusPending || f.ExpiresAt.IsZero() || now.Before(f.ExpiresAt) {
		return f, nil
	}
	if err := s.store.Exec(ctx, db.FundingStatusStmt(f.ID, StatusExpired, "system", "expired", now)); err != nil {
		return f, errs.Wrap(err, errs.Unavailable, "expire deposit")
	}
	s.log.Info("⌛ deposit expired on review", zap.String("id", f.ID))
	return reviewed(f, StatusExpired, "system", "expired", now), nil
}

// ApproveWithdrawal debits the reserved amount.
func (s *Service) ApproveWithdrawal(ctx context.Context, id, reviewer, note string) (Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.get(ctx, id, KindWithdrawal)
	if err != nil {
		return Review{}, err
	}
	if f.Status != StatusPending && f.Status != StatusConfirmed {
		return Review{}, forbidden(f, StatusConfirmed)
	}

	now := s.now()
	res, err := s.ledger.Debit(ctx, f.UserID, f.Symbol, f.Amount, ledgerKey(KindWithdrawal, f.ID),
		db.FundingStatusStmt(f.ID, StatusConfirmed, reviewer, note, now))
	if err != nil {
		return Review{}, err
	}
	if res.Duplicate {
		return Review{Request: f, Balance: res.Line, Duplicate: true}, nil
	}

	f = reviewed(f, StatusConfirmed, reviewer, note, now)
	s.log.Info("✅ withdrawal approved", zap.String("id", f.ID), zap.String("user_id", f.UserID),
		zap.String("symbol", f.Symbol), zap.String("amount", f.Amount.String()), zap.String("reviewer", reviewer))
	s.notify(ctx, f)
	return Review{Request: f, Balance: res.Line}, nil
}

// RejectWithdrawal releases the reservation back to available.
func (s *Service) RejectWithdrawal(ctx context.Context, id, reviewer, note string) (Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.get(ctx, id, KindWithdrawal)
	if err != nil {
		return Review{}, err
	}
	if f.Status != StatusPending {
		return Review{}, forbidden(f, StatusRejected)
	}

	now := s.now()
	status := db.FundingStatusStmt(f.ID, StatusRejected, reviewer, note, now)
	res, err := s.ledger.Release(ctx, ledgerKey(KindWithdrawal, f.ID), status)
	if err != nil {
		return Review{}, err
	}
	if res.Duplicate {
		// No reservation left to release; record the rejection on its own.
		if err := s.store.Exec(ctx, status); err != nil {
			return Review{}, errs.Wrap(err, errs.Unavailable, "reject withdrawal")
		}
		res.Line = s.ledger.Line(f.UserID, f.Symbol)
	}

	f = reviewed(f, StatusRejected, reviewer, note, now)
	s.log.Info("⛔ withdrawal rejected", zap.String("id", f.ID), zap.String("reviewer", reviewer))
	s.notify(ctx, f)
	return Review{Request: f, Balance: res.Line}, nil
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id string) (db.FundingRequest, error) {
	f, err := s.store.GetFunding(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return db.FundingRequest{}, errs.Newf(errs.NotFound, "funding request %s not found", id)
	}
	return f, err
}

// Pending lists pending requests of kind, oldest first.
func (s *Service) Pending(ctx context.Context, kind string) ([]db.FundingRequest, error) {
	if kind != KindDeposit && kind != KindWithdrawal {
		return nil, errs.Newf(errs.InvalidArgument, "unknown request kind %q", kind)
	}
	return s.store.PendingFunding(ctx, kind)
}

func (s *Service) notify(ctx context.Context, f db.FundingRequest) {
	if s.notifier != nil {
		s.notifier.FundingReviewed(ctx, f)
	}
}
