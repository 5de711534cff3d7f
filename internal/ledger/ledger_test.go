package ledger

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chancecoin/xcpd/internal/protocol"
	"github.com/chancecoin/xcpd/internal/schema"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := schema.Open(db); err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	return db
}

func TestCreditCreatesBalanceRow(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	l := New(tx)

	if err := l.Credit(1, "A", "XCP", 500, "tx1"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := l.Credit(1, "A", "XCP", 250, "tx2"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	balance, err := l.Balance("A", "XCP")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 750 {
		t.Fatalf("balance = %d, want 750", balance)
	}

	var creditRows int
	if err := tx.QueryRow("SELECT COUNT(*) FROM credits WHERE address='A'").Scan(&creditRows); err != nil {
		t.Fatalf("count credits: %v", err)
	}
	if creditRows != 2 {
		t.Fatalf("credit rows = %d, want 2", creditRows)
	}

	var messageRows int
	if err := tx.QueryRow("SELECT COUNT(*) FROM messages WHERE category='credit'").Scan(&messageRows); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messageRows != 2 {
		t.Fatalf("message rows = %d, want 2", messageRows)
	}
}

func TestDebitRejectsInsufficientBalance(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	l := New(tx)

	if err := l.Credit(1, "A", "XCP", 100, "issuance"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	err = l.Debit(1, "A", "XCP", 101, "overspend")
	if !errors.Is(err, protocol.ErrInsufficientBalance) {
		t.Fatalf("Debit error = %v, want ErrInsufficientBalance", err)
	}

	balance, err := l.Balance("A", "XCP")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance after failed debit = %d, want unchanged 100", balance)
	}
}

func TestDebitSucceedsAndJournals(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	l := New(tx)

	if err := l.Credit(1, "A", "XCP", 100, "issuance"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := l.Debit(2, "A", "XCP", 40, "send"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	balance, err := l.Balance("A", "XCP")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 60 {
		t.Fatalf("balance = %d, want 60", balance)
	}

	var debitRows int
	if err := tx.QueryRow("SELECT COUNT(*) FROM debits WHERE address='A'").Scan(&debitRows); err != nil {
		t.Fatalf("count debits: %v", err)
	}
	if debitRows != 1 {
		t.Fatalf("debit rows = %d, want 1", debitRows)
	}
}

func TestBalanceOfUnknownAddressIsZero(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	l := New(tx)

	balance, err := l.Balance("nobody", "XCP")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
}
