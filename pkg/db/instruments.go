package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

const instrumentColumns = `symbol, display_name, categories, is_stablecoin, is_tradeable, is_active,
	rank_no, volatility_class, price_precision, current_price, circulating_supply, last_movement_at,
	change_1h, change_24h, change_7d, change_30d, volume_24h`

// UpsertInstrument stores the full instrument row.
func (d *Database) UpsertInstrument(ctx context.Context, i Instrument) error {
	s := InstrumentUpsertStmt(i)
	_, err := d.DB.ExecContext(ctx, s.Query, s.Args...)
	return errors.Wrapf(err, "upsert instrument %s", i.Symbol)
}

// InstrumentUpsertStmt is the full upsert as a Stmt.
func InstrumentUpsertStmt(i Instrument) Stmt {
	return Stmt{
		Query: `INSERT INTO instruments (` + instrumentColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				display_name = excluded.display_name,
				categories = excluded.categories,
				is_stablecoin = excluded.is_stablecoin,
				is_tradeable = excluded.is_tradeable,
				is_active = excluded.is_active,
				rank_no = excluded.rank_no,
				volatility_class = excluded.volatility_class,
				price_precision = excluded.price_precision,
				current_price = excluded.current_price,
				circulating_supply = excluded.circulating_supply,
				last_movement_at = excluded.last_movement_at,
				change_1h = excluded.change_1h,
				change_24h = excluded.change_24h,
				change_7d = excluded.change_7d,
				change_30d = excluded.change_30d,
				volume_24h = excluded.volume_24h`,
		Args: []any{i.Symbol, i.DisplayName, strings.Join(i.Categories, ","), boolInt(i.IsStablecoin),
			boolInt(i.IsTradeable), boolInt(i.IsActive), i.Rank, i.VolatilityClass, i.Precision,
			i.CurrentPrice, i.CirculatingSupply, toUnix(i.LastMovementAt),
			i.Change1h, i.Change24h, i.Change7d, i.Change30d, i.Volume24h},
	}
}

// InstrumentPriceStmt updates only the market columns of an existing row,
// leaving flags written synchronously by Upsert and Deactivate untouched.
func InstrumentPriceStmt(i Instrument) Stmt {
	return Stmt{
		Query: `UPDATE instruments SET current_price = ?, last_movement_at = ?,
				change_1h = ?, change_24h = ?, change_7d = ?, change_30d = ?, volume_24h = ?
			WHERE symbol = ?`,
		Args: []any{i.CurrentPrice, toUnix(i.LastMovementAt),
			i.Change1h, i.Change24h, i.Change7d, i.Change30d, i.Volume24h, i.Symbol},
	}
}

// ListInstruments returns every stored instrument ordered by rank.
func (d *Database) ListInstruments(ctx context.Context) ([]Instrument, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+instrumentColumns+` FROM instruments ORDER BY rank_no, symbol`)
	if err != nil {
		return nil, errors.Wrap(err, "query instruments")
	}
	defer rows.Close()

	var res []Instrument
	for rows.Next() {
		var (
			i                         Instrument
			cats                      string
			stable, tradeable, active int
			lastMove                  int64
		)
		if err := rows.Scan(&i.Symbol, &i.DisplayName, &cats, &stable, &tradeable, &active,
			&i.Rank, &i.VolatilityClass, &i.Precision, &i.CurrentPrice, &i.CirculatingSupply, &lastMove,
			&i.Change1h, &i.Change24h, &i.Change7d, &i.Change30d, &i.Volume24h); err != nil {
			return nil, errors.Wrap(err, "scan instrument")
		}
		if cats != "" {
			i.Categories = strings.Split(cats, ",")
		}
		i.IsStablecoin, i.IsTradeable, i.IsActive = stable == 1, tradeable == 1, active == 1
		i.LastMovementAt = fromUnix(lastMove)
		res = append(res, i)
	}
	return res, rows.Err()
}

// UpsertWallet stores a deposit wallet. A primary wallet demotes every
// other wallet of the same symbol in the same transaction.
func (d *Database) UpsertWallet(ctx context.Context, w DepositWallet) error {
	return d.InTx(ctx, func(tx *sql.Tx) error {
		if w.IsPrimary {
			if _, err := tx.ExecContext(ctx, `
				UPDATE deposit_wallets SET is_primary = 0 WHERE symbol = ? AND address != ?
			`, w.Symbol, w.Address); err != nil {
				return errors.Wrap(err, "demote primary wallet")
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO deposit_wallets (symbol, address, min_confirmations, is_primary, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, address) DO UPDATE SET
				min_confirmations = excluded.min_confirmations,
				is_primary = excluded.is_primary,
				is_active = excluded.is_active
		`, w.Symbol, w.Address, w.MinConfirmations, boolInt(w.IsPrimary), boolInt(w.IsActive), toUnix(w.CreatedAt))
		return errors.Wrap(err, "upsert wallet")
	})
}

// ListWallets returns wallets for symbol, or all wallets when symbol is empty.
func (d *Database) ListWallets(ctx context.Context, symbol string) ([]DepositWallet, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, address, min_confirmations, is_primary, is_active, created_at
		FROM deposit_wallets WHERE ? = '' OR symbol = ?
		ORDER BY symbol, is_primary DESC, created_at
	`, symbol, symbol)
	if err != nil {
		return nil, errors.Wrap(err, "query wallets")
	}
	defer rows.Close()

	var res []DepositWallet
	for rows.Next() {
		var (
			w               DepositWallet
			primary, active int
			created         int64
		)
		if err := rows.Scan(&w.Symbol, &w.Address, &w.MinConfirmations, &primary, &active, &created); err != nil {
			return nil, errors.Wrap(err, "scan wallet")
		}
		w.IsPrimary, w.IsActive, w.CreatedAt = primary == 1, active == 1, fromUnix(created)
		res = append(res, w)
	}
	return res, rows.Err()
}
