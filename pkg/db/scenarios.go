package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// SaveScenario inserts or replaces a scenario.
func (d *Database) SaveScenario(ctx context.Context, s Scenario) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO scenarios (
			id, name, target, percentage_change, scheduled_for, repeat_interval_seconds,
			expires_at, is_active, execution_count, last_executed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			target = excluded.target,
			percentage_change = excluded.percentage_change,
			scheduled_for = excluded.scheduled_for,
			repeat_interval_seconds = excluded.repeat_interval_seconds,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active,
			execution_count = excluded.execution_count,
			last_executed_at = excluded.last_executed_at
	`, s.ID, s.Name, s.Target, s.PercentageChange, toUnix(s.ScheduledFor), s.RepeatIntervalSeconds,
		toUnix(s.ExpiresAt), boolInt(s.IsActive), s.ExecutionCount, toUnix(s.LastExecutedAt), toUnix(s.CreatedAt))
	return errors.Wrapf(err, "save scenario %s", s.ID)
}

// ActiveScenarios returns active scenarios ordered by schedule.
func (d *Database) ActiveScenarios(ctx context.Context) ([]Scenario, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, target, percentage_change, scheduled_for, repeat_interval_seconds,
			expires_at, is_active, execution_count, last_executed_at, created_at
		FROM scenarios WHERE is_active = 1 ORDER BY scheduled_for, id`)
	if err != nil {
		return nil, errors.Wrap(err, "query scenarios")
	}
	defer rows.Close()

	var res []Scenario
	for rows.Next() {
		var (
			s                                     Scenario
			scheduled, expires, lastExec, created int64
			active                                int
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Target, &s.PercentageChange, &scheduled, &s.RepeatIntervalSeconds,
			&expires, &active, &s.ExecutionCount, &lastExec, &created); err != nil {
			return nil, errors.Wrap(err, "scan scenario")
		}
		s.ScheduledFor, s.ExpiresAt = fromUnix(scheduled), fromUnix(expires)
		s.LastExecutedAt, s.CreatedAt = fromUnix(lastExec), fromUnix(created)
		s.IsActive = active == 1
		res = append(res, s)
	}
	return res, rows.Err()
}

// MovementStmt appends one price movement log entry.
func MovementStmt(m PriceMovement) Stmt {
	return Stmt{
		Query: `INSERT INTO price_movements (symbol, previous_price, new_price, change_pct, movement_type, scenario_id, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		Args: []any{m.Symbol, m.PreviousPrice, m.NewPrice, m.ChangePct, m.MovementType, m.ScenarioID, toUnix(m.At)},
	}
}

// Movements returns the newest movement log entries for symbol.
func (d *Database) Movements(ctx context.Context, symbol string, limit int) ([]PriceMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, previous_price, new_price, change_pct, movement_type, scenario_id, at
		FROM price_movements WHERE symbol = ?
		ORDER BY at DESC, id DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query movements")
	}
	defer rows.Close()

	var res []PriceMovement
	for rows.Next() {
		var (
			m  PriceMovement
			at int64
		)
		if err := rows.Scan(&m.Symbol, &m.PreviousPrice, &m.NewPrice, &m.ChangePct, &m.MovementType, &m.ScenarioID, &at); err != nil {
			return nil, errors.Wrap(err, "scan movement")
		}
		m.At = fromUnix(at)
		res = append(res, m)
	}
	return res, rows.Err()
}

// PruneMovements deletes movement log entries older than before.
func (d *Database) PruneMovements(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM price_movements WHERE at < ?`, toUnix(before))
	if err != nil {
		return 0, errors.Wrap(err, "prune movements")
	}
	return res.RowsAffected()
}
