package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// LedgerMutation is everything one ledger operation writes. It commits
// atomically together with the caller's attached statements.
type LedgerMutation struct {
	Line              BalanceLine
	Journal           JournalEntry
	PutReservation    *Reservation
	DeleteReservation string
	Attach            []Stmt
}

// ApplyLedger persists a ledger mutation in one transaction. A journal key
// that already exists returns ErrDuplicateKey and nothing is written.
func (d *Database) ApplyLedger(ctx context.Context, m LedgerMutation) error {
	return d.InTx(ctx, func(tx *sql.Tx) error {
		j := m.Journal
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_journal (
				entry_key, user_id, symbol, kind, source, amount, delta,
				snap_total, snap_available, snap_reserved, snap_deposited, snap_withdrawn, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entry_key) DO NOTHING
		`, j.Key, j.UserID, j.Symbol, j.Kind, j.Source, j.Amount, j.Delta,
			j.Snapshot.Total, j.Snapshot.Available, j.Snapshot.Reserved,
			j.Snapshot.CumulativeDeposited, j.Snapshot.CumulativeWithdrawn, toUnix(j.CreatedAt))
		if err != nil {
			return errors.Wrap(err, "insert journal")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Wrapf(ErrDuplicateKey, "journal %s", j.Key)
		}

		l := m.Line
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (user_id, symbol, total, available, reserved, cumulative_deposited, cumulative_withdrawn, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, symbol) DO UPDATE SET
				total = excluded.total,
				available = excluded.available,
				reserved = excluded.reserved,
				cumulative_deposited = excluded.cumulative_deposited,
				cumulative_withdrawn = excluded.cumulative_withdrawn,
				updated_at = excluded.updated_at
		`, l.UserID, l.Symbol, l.Total, l.Available, l.Reserved,
			l.CumulativeDeposited, l.CumulativeWithdrawn, toUnix(l.UpdatedAt)); err != nil {
			return errors.Wrap(err, "upsert balance")
		}

		if r := m.PutReservation; r != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO reservations (res_key, user_id, symbol, amount, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, r.Key, r.UserID, r.Symbol, r.Amount, toUnix(r.CreatedAt)); err != nil {
				return errors.Wrap(err, "insert reservation")
			}
		}
		if m.DeleteReservation != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE res_key = ?`, m.DeleteReservation); err != nil {
				return errors.Wrap(err, "delete reservation")
			}
		}

		return execAll(ctx, tx, m.Attach)
	})
}

// LoadBalances returns every persisted balance line.
func (d *Database) LoadBalances(ctx context.Context) ([]BalanceLine, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_id, symbol, total, available, reserved, cumulative_deposited, cumulative_withdrawn, updated_at
		FROM balances`)
	if err != nil {
		return nil, errors.Wrap(err, "query balances")
	}
	defer rows.Close()

	var res []BalanceLine
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
		res = append(res, l)
	}
	return res, rows.Err()
}

// LoadReservations returns every open reservation.
func (d *Database) LoadReservations(ctx context.Context) ([]Reservation, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT res_key, user_id, symbol, amount, created_at FROM reservations`)
	if err != nil {
		return nil, errors.Wrap(err, "query reservations")
	}
	defer rows.Close()

	var res []Reservation
	for rows.Next() {
		var (
			r  Reservation
			ts int64
		)
		if err := rows.Scan(&r.Key, &r.UserID, &r.Symbol, &r.Amount, &ts); err != nil {
			return nil, errors.Wrap(err, "scan reservation")
		}
		r.CreatedAt = fromUnix(ts)
		res = append(res, r)
	}
	return res, rows.Err()
}

// LoadJournal returns every journal entry (the idempotency index).
func (d *Database) LoadJournal(ctx context.Context) ([]JournalEntry, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT entry_key, user_id, symbol, kind, source, amount, delta,
			snap_total, snap_available, snap_reserved, snap_deposited, snap_withdrawn, created_at
		FROM ledger_journal`)
	if err != nil {
		return nil, errors.Wrap(err, "query journal")
	}
	defer rows.Close()

	var res []JournalEntry
	for rows.Next() {
		var (
			j  JournalEntry
			ts int64
		)
		if err := rows.Scan(&j.Key, &j.UserID, &j.Symbol, &j.Kind, &j.Source, &j.Amount, &j.Delta,
			&j.Snapshot.Total, &j.Snapshot.Available, &j.Snapshot.Reserved,
			&j.Snapshot.CumulativeDeposited, &j.Snapshot.CumulativeWithdrawn, &ts); err != nil {
			return nil, errors.Wrap(err, "scan journal")
		}
		j.CreatedAt = fromUnix(ts)
		j.Snapshot.UserID, j.Snapshot.Symbol, j.Snapshot.UpdatedAt = j.UserID, j.Symbol, j.CreatedAt
		res = append(res, j)
	}
	return res, rows.Err()
}
