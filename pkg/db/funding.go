package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const fundingColumns = `id, kind, user_id, symbol, amount, address, status, created_at, expires_at, reviewer, reviewed_at, note`

// InsertFunding stores a new funding request.
func (d *Database) InsertFunding(ctx context.Context, f FundingRequest) error {
	s := FundingInsertStmt(f)
	_, err := d.DB.ExecContext(ctx, s.Query, s.Args...)
	return errors.Wrap(err, "insert funding request")
}

// FundingInsertStmt is the insert as a Stmt for ledger-attached writes.
func FundingInsertStmt(f FundingRequest) Stmt {
	return Stmt{
		Query: `INSERT INTO funding_requests (` + fundingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		Args: []any{f.ID, f.Kind, f.UserID, f.Symbol, f.Amount, f.Address, f.Status,
			toUnix(f.CreatedAt), toUnix(f.ExpiresAt), f.Reviewer, toUnix(f.ReviewedAt), f.Note},
	}
}

// FundingStatusStmt moves a pending request to status. It matches nothing
// once the request has left pending.
func FundingStatusStmt(id, status, reviewer, note string, at time.Time) Stmt {
	return Stmt{
		Query: `UPDATE funding_requests SET status = ?, reviewer = ?, reviewed_at = ?, note = ?
			WHERE id = ? AND status = 'pending'`,
		Args: []any{status, reviewer, toUnix(at), note, id},
	}
}

// GetFunding returns a funding request by id.
func (d *Database) GetFunding(ctx context.Context, id string) (FundingRequest, error) {
	res, err := scanFunding(d.DB.QueryContext(ctx, `SELECT `+fundingColumns+` FROM funding_requests WHERE id = ?`, id))
	if err != nil {
		return FundingRequest{}, err
	}
	if len(res) == 0 {
		return FundingRequest{}, ErrNotFound
	}
	return res[0], nil
}

// DuePendingDeposits returns pending deposits whose expiry has passed.
func (d *Database) DuePendingDeposits(ctx context.Context, now time.Time) ([]FundingRequest, error) {
	return scanFunding(d.DB.QueryContext(ctx, `
		SELECT `+fundingColumns+` FROM funding_requests
		WHERE kind = 'deposit' AND status = 'pending' AND expires_at > 0 AND expires_at <= ?
		ORDER BY expires_at
	`, toUnix(now)))
}

// PendingFunding returns every pending request of kind, oldest first.
func (d *Database) PendingFunding(ctx context.Context, kind string) ([]FundingRequest, error) {
	return scanFunding(d.DB.QueryContext(ctx, `
		SELECT `+fundingColumns+` FROM funding_requests
		WHERE kind = ? AND status = 'pending' ORDER BY created_at
	`, kind))
}

func scanFunding(rows *sql.Rows, err error) ([]FundingRequest, error) {
	if err != nil {
		return nil, errors.Wrap(err, "query funding requests")
	}
	defer rows.Close()

	var res []FundingRequest
	for rows.Next() {
		var (
			f                          FundingRequest
			created, expires, reviewed int64
		)
		if err := rows.Scan(&f.ID, &f.Kind, &f.UserID, &f.Symbol, &f.Amount, &f.Address, &f.Status,
			&created, &expires, &f.Reviewer, &reviewed, &f.Note); err != nil {
			return nil, errors.Wrap(err, "scan funding request")
		}
		f.CreatedAt, f.ExpiresAt, f.ReviewedAt = fromUnix(created), fromUnix(expires), fromUnix(reviewed)
		res = append(res, f)
	}
	return res, rows.Err()
}
