package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const tradeColumns = `id, user_id, symbol, quote_symbol, side, entry_price, quantity, notional,
	opened_at, duration_seconds, status, current_price, unrealized_pnl, realized_pnl,
	closed_at, resolution_reason, updated_at`

// TradeInsertStmt builds the insert for a newly opened trade.
func TradeInsertStmt(t Trade) Stmt {
	return Stmt{
		Query: `INSERT INTO trades (` + tradeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		Args: []any{t.ID, t.UserID, t.Symbol, t.QuoteSymbol, t.Side, t.EntryPrice, t.Quantity, t.Notional,
			toUnix(t.OpenedAt), t.DurationSeconds, t.Status, t.CurrentPrice, t.UnrealizedPnL, t.RealizedPnL,
			toUnix(t.ClosedAt), t.ResolutionReason, toUnix(t.UpdatedAt)},
	}
}

// TradeUpdateStmt builds the update of a trade's mutable columns.
func TradeUpdateStmt(t Trade) Stmt {
	return Stmt{
		Query: `UPDATE trades SET status = ?, current_price = ?, unrealized_pnl = ?, realized_pnl = ?,
			closed_at = ?, resolution_reason = ?, updated_at = ? WHERE id = ?`,
		Args: []any{t.Status, t.CurrentPrice, t.UnrealizedPnL, t.RealizedPnL,
			toUnix(t.ClosedAt), t.ResolutionReason, toUnix(t.UpdatedAt), t.ID},
	}
}

// TradeRevalueStmt updates the live valuation of an active trade only.
func TradeRevalueStmt(t Trade) Stmt {
	return Stmt{
		Query: `UPDATE trades SET current_price = ?, unrealized_pnl = ?, updated_at = ?
			WHERE id = ? AND status = 'active'`,
		Args: []any{t.CurrentPrice, t.UnrealizedPnL, toUnix(t.UpdatedAt), t.ID},
	}
}

// ActiveTrades returns all trades still marked active.
func (d *Database) ActiveTrades(ctx context.Context) ([]Trade, error) {
	return d.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE status = 'active' ORDER BY opened_at`)
}

// GetTrade returns a trade by id.
func (d *Database) GetTrade(ctx context.Context, id string) (Trade, error) {
	res, err := d.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	if err != nil {
		return Trade{}, err
	}
	if len(res) == 0 {
		return Trade{}, ErrNotFound
	}
	return res[0], nil
}

// PruneClosedTrades deletes closed trades older than before.
func (d *Database) PruneClosedTrades(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		DELETE FROM trades WHERE status != 'active' AND closed_at > 0 AND closed_at < ?
	`, toUnix(before))
	if err != nil {
		return 0, errors.Wrap(err, "prune trades")
	}
	return res.RowsAffected()
}

func (d *Database) queryTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	return scanTrades(d.DB.QueryContext(ctx, query, args...))
}

func scanTrades(rows *sql.Rows, err error) ([]Trade, error) {
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var (
			t                         Trade
			opened, closed, updatedAt int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.QuoteSymbol, &t.Side, &t.EntryPrice, &t.Quantity, &t.Notional,
			&opened, &t.DurationSeconds, &t.Status, &t.CurrentPrice, &t.UnrealizedPnL, &t.RealizedPnL,
			&closed, &t.ResolutionReason, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		t.OpenedAt, t.ClosedAt, t.UpdatedAt = fromUnix(opened), fromUnix(closed), fromUnix(updatedAt)
		res = append(res, t)
	}
	return res, rows.Err()
}
