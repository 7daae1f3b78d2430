package funding

import (
	"context"

	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/pkg/db"
)

// AddWallet stores a deposit wallet. The first wallet of a symbol becomes
// primary; a new primary demotes the old one.
func (s *Service) AddWallet(ctx context.Context, w db.DepositWallet) (db.DepositWallet, error) {
	switch {
	case !s.inst.Known(w.Symbol):
		return db.DepositWallet{}, errs.Newf(errs.UnknownSymbol, "unknown symbol %s", w.Symbol)
	case w.Address == "":
		return db.DepositWallet{}, errs.New(errs.InvalidArgument, "address is required")
	case w.MinConfirmations < 0:
		return db.DepositWallet{}, errs.New(errs.InvalidArgument, "min_confirmations must be >= 0")
	}

	if !w.IsPrimary {
		if _, err := s.PrimaryWallet(ctx, w.Symbol); errs.CodeOf(err) == errs.NotFound {
			w.IsPrimary = true
		}
	}
	if w.IsPrimary {
		w.IsActive = true
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}
	if err := s.store.UpsertWallet(ctx, w); err != nil {
		return db.DepositWallet{}, errs.Wrap(err, errs.Unavailable, "store wallet")
	}

	s.log.Info("🏦 deposit wallet saved", zap.String("symbol", w.Symbol),
		zap.String("address", w.Address), zap.Bool("primary", w.IsPrimary))
	return w, nil
}

// PrimaryWallet returns the active primary wallet for symbol.
func (s *Service) PrimaryWallet(ctx context.Context, symbol string) (db.DepositWallet, error) {
	list, err := s.Wallets(ctx, symbol)
	if err != nil {
		return db.DepositWallet{}, err
	}
	for _, w := range list {
		if w.IsPrimary && w.IsActive {
			return w, nil
		}
	}
	return db.DepositWallet{}, errs.Newf(errs.NotFound, "no deposit wallet for %s", symbol)
}

// Wallets lists wallets for symbol, primary first. An empty symbol lists all.
func (s *Service) Wallets(ctx context.Context, symbol string) ([]db.DepositWallet, error) {
	list, err := s.store.ListWallets(ctx, symbol)
	if err != nil {
		return nil, errs.Wrap(err, errs.Unavailable, "list wallets")
	}
	return list, nil
}
