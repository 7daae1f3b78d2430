// Package db provides SQLite storage for the simulator, including
// user-isolated read queries.
package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

var ErrUserIDRequired = errors.New("user_id is required for data isolation")

// UserQueries provides user-isolated database queries.
type UserQueries struct {
	db *sql.DB
}

// NewUserQueries creates a new UserQueries instance.
func NewUserQueries(db *sql.DB) *UserQueries {
	return &UserQueries{db: db}
}

// Queries returns the user-isolated query set over this database.
func (d *Database) Queries() *UserQueries {
	return NewUserQueries(d.DB)
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

// TradesByUser returns the newest trades for a user.
func (q *UserQueries) TradesByUser(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	return scanTrades(q.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE user_id = ?
		ORDER BY opened_at DESC
		LIMIT ?
	`, userID, limit))
}

// ----------------------------------------
// Funding Queries
// ----------------------------------------

// FundingByUser returns the newest deposit and withdrawal requests of a user.
func (q *UserQueries) FundingByUser(ctx context.Context, userID string, limit int) ([]FundingRequest, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	return scanFunding(q.db.QueryContext(ctx, `
		SELECT `+fundingColumns+` FROM funding_requests
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit))
}

// ----------------------------------------
// Balance Queries
// ----------------------------------------

// BalancesByUser returns the persisted balance lines of a user.
func (q *UserQueries) BalancesByUser(ctx context.Context, userID string) ([]BalanceLine, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, symbol, total, available, reserved, cumulative_deposited, cumulative_withdrawn, updated_at
		FROM balances
		WHERE user_id = ?
		ORDER BY symbol
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query balances")
	}
	defer rows.Close()

	var lines []BalanceLine
	for rows.Next() {
		var (
			l  BalanceLine
			ts int64
		)
		if err := rows.Scan(&l.UserID, &l.Symbol, &l.Total, &l.Available, &l.Reserved,
			&l.CumulativeDeposited, &l.CumulativeWithdrawn, &ts); err != nil {
			return nil, errors.Wrap(err, "scan balance")
		}
		l.UpdatedAt = fromUnix(ts)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
