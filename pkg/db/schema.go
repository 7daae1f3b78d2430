package db

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    frozen INTEGER NOT NULL DEFAULT 0,
    banned INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS instruments (
    symbol TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    categories TEXT NOT NULL DEFAULT '',
    is_stablecoin INTEGER NOT NULL DEFAULT 0,
    is_tradeable INTEGER NOT NULL DEFAULT 1,
    is_active INTEGER NOT NULL DEFAULT 1,
    rank_no INTEGER NOT NULL DEFAULT 0,
    volatility_class REAL NOT NULL DEFAULT 0,
    price_precision INTEGER NOT NULL DEFAULT 8,
    current_price TEXT NOT NULL,
    circulating_supply TEXT NOT NULL DEFAULT '0',
    last_movement_at INTEGER NOT NULL DEFAULT 0,
    change_1h REAL NOT NULL DEFAULT 0,
    change_24h REAL NOT NULL DEFAULT 0,
    change_7d REAL NOT NULL DEFAULT 0,
    change_30d REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deposit_wallets (
    symbol TEXT NOT NULL,
    address TEXT NOT NULL,
    min_confirmations INTEGER NOT NULL DEFAULT 1,
    is_primary INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (symbol, address)
);

CREATE TABLE IF NOT EXISTS balances (
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    total TEXT NOT NULL,
    available TEXT NOT NULL,
    reserved TEXT NOT NULL,
    cumulative_deposited TEXT NOT NULL,
    cumulative_withdrawn TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, symbol)
);

CREATE TABLE IF NOT EXISTS ledger_journal (
    entry_key TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    kind TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,
    delta TEXT NOT NULL,
    snap_total TEXT NOT NULL,
    snap_available TEXT NOT NULL,
    snap_reserved TEXT NOT NULL,
    snap_deposited TEXT NOT NULL,
    snap_withdrawn TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reservations (
    res_key TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    amount TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS funding_requests (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    amount TEXT NOT NULL,
    address TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL DEFAULT 0,
    reviewer TEXT NOT NULL DEFAULT '',
    reviewed_at INTEGER NOT NULL DEFAULT 0,
    note TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_funding_status ON funding_requests(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_funding_user ON funding_requests(user_id, created_at);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry_price TEXT NOT NULL,
    quantity TEXT NOT NULL,
    notional TEXT NOT NULL,
    opened_at INTEGER NOT NULL,
    duration_seconds INTEGER NOT NULL,
    status TEXT NOT NULL,
    current_price TEXT NOT NULL,
    unrealized_pnl TEXT NOT NULL DEFAULT '0',
    realized_pnl TEXT NOT NULL DEFAULT '0',
    closed_at INTEGER NOT NULL DEFAULT 0,
    resolution_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, opened_at);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status, closed_at);

CREATE TABLE IF NOT EXISTS scenarios (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    target TEXT NOT NULL,
    percentage_change REAL NOT NULL,
    scheduled_for INTEGER NOT NULL,
    repeat_interval_seconds INTEGER NOT NULL DEFAULT 0,
    expires_at INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    execution_count INTEGER NOT NULL DEFAULT 0,
    last_executed_at INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS price_movements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    previous_price TEXT NOT NULL,
    new_price TEXT NOT NULL,
    change_pct REAL NOT NULL,
    movement_type TEXT NOT NULL,
    scenario_id TEXT NOT NULL DEFAULT '',
    at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_movements_at ON price_movements(at);
CREATE INDEX IF NOT EXISTS idx_price_movements_symbol ON price_movements(symbol, at);

CREATE TABLE IF NOT EXISTS trading_settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    payload TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return errors.New("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}

	// Columns added after the first release; older DB files lack them.
	if err := ensureColumn(d.DB, "instruments", "volume_24h", "TEXT NOT NULL DEFAULT '0'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "quote_symbol", "TEXT NOT NULL DEFAULT 'USDT'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "updated_at", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return errors.Wrapf(err, "alter table %s add column %s", table, column)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, errors.Wrapf(err, "pragma table_info(%s)", table)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
