// Package ledger implements the two balance-mutating primitives every
// parser uses to move assets: credit and debit (§4.3). Both operate
// inside the caller's block transaction and journal to the append-only
// debits/credits tables before touching the mutable balances row.
package ledger

import (
	"database/sql"
	"fmt"

	"github.com/chancecoin/xcpd/internal/protocol"
)

// Ledger wraps a single in-flight block transaction. It is constructed
// fresh for every block and discarded once that block's transaction
// commits or rolls back.
type Ledger struct {
	tx *sql.Tx
}

// New wraps tx for balance mutation.
func New(tx *sql.Tx) *Ledger {
	return &Ledger{tx: tx}
}

// Credit appends to credits, upserts balances (insert if missing, add
// otherwise), and writes a message row of category "credit". amount must
// be non-negative; a zero-amount credit is recorded (mirrors the
// reference implementation, which still journals no-op credits for
// determinism of message_index ordering).
func (l *Ledger) Credit(blockIndex int64, address, asset string, amount int64, event string) error {
	if amount < 0 {
		return fmt.Errorf("ledger: credit amount must be non-negative, got %d", amount)
	}

	if _, err := l.tx.Exec(
		`INSERT INTO credits (block_index, address, asset, amount, event) VALUES (?, ?, ?, ?, ?)`,
		blockIndex, address, asset, amount, event,
	); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert credit: %w", err)}
	}

	if _, err := l.tx.Exec(
		`INSERT INTO balances (address, asset, balance) VALUES (?, ?, ?)
		 ON CONFLICT(address, asset) DO UPDATE SET balance = balance + excluded.balance`,
		address, asset, amount,
	); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("upsert balance: %w", err)}
	}

	return l.message(blockIndex, "credit", event, address, asset, amount)
}

// Debit requires balance(address, asset) ≥ amount. On insufficient
// balance it returns protocol.ErrInsufficientBalance and mutates
// nothing. On success: balance -= amount, a debits row is appended, and
// a message row is written.
func (l *Ledger) Debit(blockIndex int64, address, asset string, amount int64, event string) error {
	if amount < 0 {
		return fmt.Errorf("ledger: debit amount must be non-negative, got %d", amount)
	}

	var balance int64
	err := l.tx.QueryRow(
		`SELECT balance FROM balances WHERE address = ? AND asset = ?`, address, asset,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		balance = 0
	} else if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("read balance: %w", err)}
	}

	if balance < amount {
		return protocol.ErrInsufficientBalance
	}

	if _, err := l.tx.Exec(
		`UPDATE balances SET balance = balance - ? WHERE address = ? AND asset = ?`,
		amount, address, asset,
	); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("update balance: %w", err)}
	}

	if _, err := l.tx.Exec(
		`INSERT INTO debits (block_index, address, asset, amount, event) VALUES (?, ?, ?, ?, ?)`,
		blockIndex, address, asset, amount, event,
	); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert debit: %w", err)}
	}

	return l.message(blockIndex, "debit", event, address, asset, amount)
}

// Balance returns the current stored balance, or 0 if the address has
// never held the asset.
func (l *Ledger) Balance(address, asset string) (int64, error) {
	var balance int64
	err := l.tx.QueryRow(
		`SELECT balance FROM balances WHERE address = ? AND asset = ?`, address, asset,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &protocol.DatabaseError{Err: fmt.Errorf("read balance: %w", err)}
	}
	return balance, nil
}

func (l *Ledger) message(blockIndex int64, category, event, address, asset string, amount int64) error {
	bindings := fmt.Sprintf(`{"address":%q,"asset":%q,"amount":%d,"event":%q}`, address, asset, amount, event)
	_, err := l.tx.Exec(
		`INSERT INTO messages (block_index, category, command, bindings) VALUES (?, ?, ?, ?)`,
		blockIndex, category, category, bindings,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert message: %w", err)}
	}
	return nil
}
