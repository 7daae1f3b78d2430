package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// EnsureUser creates the user row on first sight and returns it.
func (d *Database) EnsureUser(ctx context.Context, id string, now time.Time) (User, error) {
	if id == "" {
		return User{}, ErrUserIDRequired
	}
	if _, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, frozen, banned, created_at) VALUES (?, 0, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, toUnix(now)); err != nil {
		return User{}, errors.Wrap(err, "ensure user")
	}
	return d.GetUser(ctx, id)
}

// GetUser returns a user by id.
func (d *Database) GetUser(ctx context.Context, id string) (User, error) {
	var (
		u              User
		frozen, banned int
		created        int64
	)
	err := d.DB.QueryRowContext(ctx, `SELECT id, frozen, banned, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &frozen, &banned, &created)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "get user")
	}
	u.Frozen, u.Banned, u.CreatedAt = frozen == 1, banned == 1, fromUnix(created)
	return u, nil
}

// SetUserFlags updates the frozen and banned flags.
func (d *Database) SetUserFlags(ctx context.Context, id string, frozen, banned bool) error {
	res, err := d.DB.ExecContext(ctx, `UPDATE users SET frozen = ?, banned = ? WHERE id = ?`,
		boolInt(frozen), boolInt(banned), id)
	if err != nil {
		return errors.Wrap(err, "set user flags")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns every known user.
func (d *Database) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT id, frozen, banned, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "query users")
	}
	defer rows.Close()

	var res []User
	for rows.Next() {
		var (
			u              User
			frozen, banned int
			created        int64
		)
		if err := rows.Scan(&u.ID, &frozen, &banned, &created); err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		u.Frozen, u.Banned, u.CreatedAt = frozen == 1, banned == 1, fromUnix(created)
		res = append(res, u)
	}
	return res, rows.Err()
}

// LoadSettings returns the persisted settings payload, if any.
func (d *Database) LoadSettings(ctx context.Context) (string, bool, error) {
	var payload string
	err := d.DB.QueryRowContext(ctx, `SELECT payload FROM trading_settings WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "load settings")
	}
	return payload, true, nil
}

// SaveSettings replaces the settings payload.
func (d *Database) SaveSettings(ctx context.Context, payload string, now time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trading_settings (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, payload, toUnix(now))
	return errors.Wrap(err, "save settings")
}
