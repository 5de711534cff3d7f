// Package schema owns the ledger's relational layout: table and index
// definitions, the two-part schema version stamped into the store, and
// the full reparse that a minor version bump (or manual rollback)
// triggers (§3, §4.8).
package schema

import (
	"database/sql"
	"fmt"
)

// VersionMajor changes whenever a stored table's shape changes in a way
// that cannot be reconciled by reparse (column removed/retyped, key
// changed). A stored major version that doesn't match forces a full
// rebuild from block 0 — the store refuses to open otherwise.
const VersionMajor = 1

// VersionMinor changes whenever a parsing rule changes in a way that
// would alter derived table contents without altering their shape.
// Opening a store stamped with an older minor version triggers reparse.
const VersionMinor = 1

// ddl is executed once against a fresh database. Every statement is
// idempotent (CREATE TABLE/INDEX IF NOT EXISTS) so it is also safe to
// run again after a reparse has dropped the derived tables.
const ddl = `
CREATE TABLE IF NOT EXISTS schema_version (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	major INTEGER NOT NULL,
	minor INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
	block_index INTEGER PRIMARY KEY,
	block_hash TEXT NOT NULL UNIQUE,
	block_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	tx_index INTEGER PRIMARY KEY,
	tx_hash TEXT NOT NULL UNIQUE,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	destination TEXT,
	native_amount INTEGER NOT NULL,
	fee INTEGER NOT NULL,
	data BLOB,
	supported INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_transactions_block ON transactions(block_index);

CREATE TABLE IF NOT EXISTS debits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	block_index INTEGER NOT NULL,
	address TEXT NOT NULL,
	asset TEXT NOT NULL,
	amount INTEGER NOT NULL,
	event TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_debits_address_asset ON debits(address, asset);

CREATE TABLE IF NOT EXISTS credits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	block_index INTEGER NOT NULL,
	address TEXT NOT NULL,
	asset TEXT NOT NULL,
	amount INTEGER NOT NULL,
	event TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credits_address_asset ON credits(address, asset);

CREATE TABLE IF NOT EXISTS balances (
	address TEXT NOT NULL,
	asset TEXT NOT NULL,
	balance INTEGER NOT NULL,
	PRIMARY KEY (address, asset)
);

CREATE TABLE IF NOT EXISTS messages (
	message_index INTEGER PRIMARY KEY AUTOINCREMENT,
	block_index INTEGER NOT NULL,
	category TEXT NOT NULL,
	command TEXT NOT NULL,
	bindings TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_block ON messages(block_index);

CREATE TABLE IF NOT EXISTS sends (
	tx_index INTEGER PRIMARY KEY,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	asset TEXT NOT NULL,
	amount INTEGER NOT NULL,
	validity TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS burns (
	tx_index INTEGER PRIMARY KEY,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	burned INTEGER NOT NULL,
	earned INTEGER NOT NULL,
	validity TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cancels (
	tx_index INTEGER PRIMARY KEY,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	offer_hash TEXT NOT NULL,
	validity TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dividends (
	tx_index INTEGER PRIMARY KEY,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	asset TEXT NOT NULL,
	dividend_asset TEXT NOT NULL,
	amount_per_unit INTEGER NOT NULL,
	fee_paid INTEGER NOT NULL,
	validity TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS callbacks (
	tx_index INTEGER PRIMARY KEY,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	asset TEXT NOT NULL,
	fraction REAL NOT NULL,
	validity TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS btcpays (
	tx_index INTEGER PRIMARY KEY,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	order_match_id TEXT NOT NULL,
	validity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_btcpays_match ON btcpays(order_match_id);

CREATE TABLE IF NOT EXISTS issuances (
	tx_index INTEGER PRIMARY KEY,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	asset TEXT NOT NULL,
	amount INTEGER NOT NULL,
	divisible INTEGER NOT NULL,
	callable INTEGER NOT NULL,
	call_date INTEGER NOT NULL,
	call_price REAL NOT NULL,
	description TEXT NOT NULL,
	validity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issuances_asset ON issuances(asset);

CREATE TABLE IF NOT EXISTS orders (
	tx_index INTEGER PRIMARY KEY,
	tx_hash TEXT NOT NULL,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	give_asset TEXT NOT NULL,
	give_amount INTEGER NOT NULL,
	give_remaining INTEGER NOT NULL,
	get_asset TEXT NOT NULL,
	get_amount INTEGER NOT NULL,
	get_remaining INTEGER NOT NULL,
	expiration INTEGER NOT NULL,
	expire_index INTEGER NOT NULL,
	fee_required INTEGER NOT NULL,
	status TEXT NOT NULL,
	validity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_pair ON orders(give_asset, get_asset, status);
CREATE INDEX IF NOT EXISTS idx_orders_expire ON orders(expire_index);

CREATE TABLE IF NOT EXISTS order_matches (
	id TEXT PRIMARY KEY,
	tx0_index INTEGER NOT NULL,
	tx1_index INTEGER NOT NULL,
	tx0_hash TEXT NOT NULL,
	tx1_hash TEXT NOT NULL,
	tx0_address TEXT NOT NULL,
	tx1_address TEXT NOT NULL,
	forward_asset TEXT NOT NULL,
	forward_amount INTEGER NOT NULL,
	backward_asset TEXT NOT NULL,
	backward_amount INTEGER NOT NULL,
	block_index INTEGER NOT NULL,
	match_expire_index INTEGER NOT NULL,
	validity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_matches_expire ON order_matches(match_expire_index);

CREATE TABLE IF NOT EXISTS bets (
	tx_index INTEGER PRIMARY KEY,
	tx_hash TEXT NOT NULL,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	feed_address TEXT NOT NULL,
	bet_type INTEGER NOT NULL,
	deadline INTEGER NOT NULL,
	wager_amount INTEGER NOT NULL,
	wager_remaining INTEGER NOT NULL,
	counterwager_amount INTEGER NOT NULL,
	counterwager_remaining INTEGER NOT NULL,
	target_value REAL NOT NULL,
	leverage INTEGER NOT NULL,
	expiration INTEGER NOT NULL,
	expire_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	validity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bets_feed ON bets(feed_address, bet_type, status);
CREATE INDEX IF NOT EXISTS idx_bets_expire ON bets(expire_index);

CREATE TABLE IF NOT EXISTS bet_matches (
	id TEXT PRIMARY KEY,
	tx0_index INTEGER NOT NULL,
	tx1_index INTEGER NOT NULL,
	tx0_hash TEXT NOT NULL,
	tx1_hash TEXT NOT NULL,
	tx0_address TEXT NOT NULL,
	tx1_address TEXT NOT NULL,
	feed_address TEXT NOT NULL,
	initial_value REAL NOT NULL,
	deadline INTEGER NOT NULL,
	target_value REAL NOT NULL,
	leverage INTEGER NOT NULL,
	forward_amount INTEGER NOT NULL,
	backward_amount INTEGER NOT NULL,
	block_index INTEGER NOT NULL,
	match_expire_index INTEGER NOT NULL,
	validity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bet_matches_feed ON bet_matches(feed_address, validity);

CREATE TABLE IF NOT EXISTS broadcasts (
	tx_index INTEGER PRIMARY KEY,
	block_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	value REAL NOT NULL,
	fee_fraction_int INTEGER NOT NULL,
	text TEXT NOT NULL,
	locked INTEGER NOT NULL DEFAULT 0,
	validity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_broadcasts_source ON broadcasts(source, tx_index);

CREATE TABLE IF NOT EXISTS order_expirations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	block_index INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS order_match_expirations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_match_id TEXT NOT NULL,
	tx0_address TEXT NOT NULL,
	tx1_address TEXT NOT NULL,
	block_index INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bet_expirations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bet_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	block_index INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bet_match_expirations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bet_match_id TEXT NOT NULL,
	tx0_address TEXT NOT NULL,
	tx1_address TEXT NOT NULL,
	block_index INTEGER NOT NULL
);
`

// derivedTables are every table dropped and recreated by a reparse. blocks
// and transactions are the ingested chain history and survive reparse.
var derivedTables = []string{
	"debits", "credits", "balances", "messages",
	"sends", "burns", "cancels", "dividends", "callbacks", "btcpays", "issuances",
	"orders", "order_matches", "bets", "bet_matches", "broadcasts",
	"order_expirations", "order_match_expirations", "bet_expirations", "bet_match_expirations",
}

// Open prepares db for use: WAL journaling, foreign keys off, and
// table/index creation if missing. It does not limit the pool's number of
// connections. It does not check or stamp the schema version — callers
// do that with NeedsReparse/Stamp so they can decide between "fresh
// database" and "needs reparse" first.
func Open(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// StoredVersion reads the stamped (major, minor) pair, or (0, 0) if the
// database has never been stamped (a brand new store).
func StoredVersion(db *sql.DB) (major, minor int, err error) {
	row := db.QueryRow("SELECT major, minor FROM schema_version WHERE id = 0")
	err = row.Scan(&major, &minor)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read schema version: %w", err)
	}
	return major, minor, nil
}

// Stamp records the current (major, minor) version into the store.
func Stamp(db *sql.DB) error {
	_, err := db.Exec(
		`INSERT INTO schema_version (id, major, minor) VALUES (0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET major=excluded.major, minor=excluded.minor`,
		VersionMajor, VersionMinor,
	)
	if err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return nil
}

// ErrMajorMismatch is returned by NeedsReparse when the store was built
// under an incompatible major version and must be rebuilt from block 0.
var ErrMajorMismatch = fmt.Errorf("schema: stored major version is incompatible, rebuild required")

// NeedsReparse reports whether the store's stamped minor version is
// behind this build's, which must trigger a full reparse at startup (§4.8).
// A stored major version of 0 means a brand new database: no reparse
// needed, just a fresh schema and an initial stamp.
func NeedsReparse(db *sql.DB) (bool, error) {
	major, minor, err := StoredVersion(db)
	if err != nil {
		return false, err
	}
	if major == 0 && minor == 0 {
		return false, nil
	}
	if major != VersionMajor {
		return false, ErrMajorMismatch
	}
	return minor != VersionMinor, nil
}

// DropDerived drops every derived table (everything but blocks and
// transactions) as the first step of a reparse.
func DropDerived(db *sql.DB) error {
	for _, table := range derivedTables {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}
