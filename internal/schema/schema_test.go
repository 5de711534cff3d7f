package schema

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Open(db); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func TestFreshDatabaseNeedsNoReparse(t *testing.T) {
	db := openTestDB(t)
	needs, err := NeedsReparse(db)
	if err != nil {
		t.Fatalf("NeedsReparse: %v", err)
	}
	if needs {
		t.Fatalf("fresh database should not need reparse")
	}
}

func TestStampAndDetectMinorBump(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(
		`INSERT INTO schema_version (id, major, minor) VALUES (0, ?, ?)`,
		VersionMajor, VersionMinor-1,
	); err != nil {
		t.Fatalf("seed stale version: %v", err)
	}

	needs, err := NeedsReparse(db)
	if err != nil {
		t.Fatalf("NeedsReparse: %v", err)
	}
	if !needs {
		t.Fatalf("stale minor version should trigger reparse")
	}

	if err := Stamp(db); err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	major, minor, err := StoredVersion(db)
	if err != nil {
		t.Fatalf("StoredVersion: %v", err)
	}
	if major != VersionMajor || minor != VersionMinor {
		t.Fatalf("stored version = (%d,%d), want (%d,%d)", major, minor, VersionMajor, VersionMinor)
	}

	needs, err = NeedsReparse(db)
	if err != nil {
		t.Fatalf("NeedsReparse after stamp: %v", err)
	}
	if needs {
		t.Fatalf("freshly stamped database should not need reparse")
	}
}

func TestMajorMismatchRejected(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(
		`INSERT INTO schema_version (id, major, minor) VALUES (0, ?, ?)`,
		VersionMajor+1, VersionMinor,
	); err != nil {
		t.Fatalf("seed future major version: %v", err)
	}

	if _, err := NeedsReparse(db); err != ErrMajorMismatch {
		t.Fatalf("NeedsReparse error = %v, want ErrMajorMismatch", err)
	}
}

func TestDropDerivedLeavesBlocksAndTransactions(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`INSERT INTO blocks (block_index, block_hash, block_time) VALUES (1, 'abc', 1000)`); err != nil {
		t.Fatalf("seed blocks: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO balances (address, asset, balance) VALUES ('A', 'XCP', 100)`); err != nil {
		t.Fatalf("seed balances: %v", err)
	}

	if err := DropDerived(db); err != nil {
		t.Fatalf("DropDerived: %v", err)
	}

	var blockCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM blocks").Scan(&blockCount); err != nil {
		t.Fatalf("count blocks: %v", err)
	}
	if blockCount != 1 {
		t.Fatalf("blocks survived = %d, want 1", blockCount)
	}

	var balanceTableExists int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='balances'").Scan(&balanceTableExists)
	if err != nil {
		t.Fatalf("check balances table: %v", err)
	}
	if balanceTableExists != 0 {
		t.Fatalf("balances table should have been dropped")
	}

	if err := Open(db); err != nil {
		t.Fatalf("recreate schema after drop: %v", err)
	}
	var balanceCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM balances").Scan(&balanceCount); err != nil {
		t.Fatalf("count balances after recreate: %v", err)
	}
	if balanceCount != 0 {
		t.Fatalf("recreated balances table should be empty, got %d rows", balanceCount)
	}
}
