package follower

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/chancecoin/xcpd/internal/schema"
	"github.com/chancecoin/xcpd/internal/txdecode"
)

// fakeChain is an in-memory ChainClient backed by a slice of blocks whose
// hashes can be mutated between calls to simulate a reorg.
type fakeChain struct {
	blocks  []ChainBlock
	getTx   func(txid string) (*txdecode.RawTx, error)
}

func (f *fakeChain) GetBlockCount(ctx context.Context) (uint32, error) {
	return uint32(len(f.blocks)), nil
}

func (f *fakeChain) GetBlockHash(ctx context.Context, height uint32) (string, error) {
	if int(height) < 1 || int(height) > len(f.blocks) {
		return "", fmt.Errorf("height %d out of range", height)
	}
	return f.blocks[height-1].Hash, nil
}

func (f *fakeChain) GetBlock(ctx context.Context, hash string) (*ChainBlock, error) {
	for _, b := range f.blocks {
		if b.Hash == hash {
			block := b
			return &block, nil
		}
	}
	return nil, fmt.Errorf("no such block %s", hash)
}

func (f *fakeChain) GetRawTransaction(ctx context.Context, txid string) (*txdecode.RawTx, error) {
	if f.getTx != nil {
		return f.getTx(txid)
	}
	return nil, fmt.Errorf("no transaction %s", txid)
}

func openFollowerTestDB(t *testing.T) *sql.DB {
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

func newTestFollower(db *sql.DB, chain ChainClient) *Follower {
	extractor := txdecode.NewExtractor(&chaincfg.RegressionNetParams, nil, "unspendable-address")
	return New(db, chain, extractor, Config{BlockFirst: 1, UnspendableAddr: "unspendable-address"})
}

func TestCatchUpIngestsEveryBlock(t *testing.T) {
	db := openFollowerTestDB(t)
	chain := &fakeChain{blocks: []ChainBlock{
		{Hash: "hash1", Time: 1000},
		{Hash: "hash2", Time: 1010},
		{Hash: "hash3", Time: 1020},
	}}
	f := newTestFollower(db, chain)

	if err := f.catchUp(context.Background()); err != nil {
		t.Fatalf("catchUp: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		t.Fatalf("count blocks: %v", err)
	}
	if count != 3 {
		t.Fatalf("stored block count = %d, want 3", count)
	}

	last, err := f.lastBlockIndex(db)
	if err != nil {
		t.Fatalf("lastBlockIndex: %v", err)
	}
	if last != 3 {
		t.Fatalf("last block index = %d, want 3", last)
	}
}

func TestCatchUpIsIdempotent(t *testing.T) {
	db := openFollowerTestDB(t)
	chain := &fakeChain{blocks: []ChainBlock{{Hash: "hash1", Time: 1000}}}
	f := newTestFollower(db, chain)

	if err := f.catchUp(context.Background()); err != nil {
		t.Fatalf("first catchUp: %v", err)
	}
	if err := f.catchUp(context.Background()); err != nil {
		t.Fatalf("second catchUp: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		t.Fatalf("count blocks: %v", err)
	}
	if count != 1 {
		t.Fatalf("stored block count = %d, want 1 (no duplicate ingestion)", count)
	}
}

func TestDetectReorgFindsMismatchingHeight(t *testing.T) {
	db := openFollowerTestDB(t)
	chain := &fakeChain{blocks: []ChainBlock{
		{Hash: "hash1", Time: 1000},
		{Hash: "hash2", Time: 1010},
		{Hash: "hash3", Time: 1020},
	}}
	f := newTestFollower(db, chain)
	if err := f.catchUp(context.Background()); err != nil {
		t.Fatalf("catchUp: %v", err)
	}

	height, err := f.detectReorg(context.Background())
	if err != nil {
		t.Fatalf("detectReorg (no reorg): %v", err)
	}
	if height != -1 {
		t.Fatalf("detectReorg found a mismatch = %d, want none", height)
	}

	// Simulate a reorg: block 2 on the chain now has a different hash.
	chain.blocks[1].Hash = "hash2-reorged"

	height, err = f.detectReorg(context.Background())
	if err != nil {
		t.Fatalf("detectReorg (reorg): %v", err)
	}
	if height != 2 {
		t.Fatalf("detectReorg height = %d, want 2", height)
	}
}

func TestOnBlockHookFiresPerAppliedBlock(t *testing.T) {
	db := openFollowerTestDB(t)
	chain := &fakeChain{blocks: []ChainBlock{
		{Hash: "hash1", Time: 1000},
		{Hash: "hash2", Time: 1010},
	}}
	extractor := txdecode.NewExtractor(&chaincfg.RegressionNetParams, nil, "unspendable-address")

	var applied []int64
	f := New(db, chain, extractor, Config{
		BlockFirst:      1,
		UnspendableAddr: "unspendable-address",
		OnBlock: func(height int64, hash string) {
			applied = append(applied, height)
		},
	})

	if err := f.catchUp(context.Background()); err != nil {
		t.Fatalf("catchUp: %v", err)
	}
	if len(applied) != 2 || applied[0] != 1 || applied[1] != 2 {
		t.Fatalf("OnBlock calls = %v, want [1 2]", applied)
	}
}

func TestOnReorgHookFiresAfterRollback(t *testing.T) {
	db := openFollowerTestDB(t)
	chain := &fakeChain{blocks: []ChainBlock{
		{Hash: "hash1", Time: 1000},
		{Hash: "hash2", Time: 1010},
	}}
	extractor := txdecode.NewExtractor(&chaincfg.RegressionNetParams, nil, "unspendable-address")

	var reorgHeight int64 = -1
	f := New(db, chain, extractor, Config{
		BlockFirst:      1,
		UnspendableAddr: "unspendable-address",
		OnReorg: func(height int64) {
			reorgHeight = height
		},
	})

	if err := f.catchUp(context.Background()); err != nil {
		t.Fatalf("catchUp: %v", err)
	}
	if err := f.rollbackTo(context.Background(), 1); err != nil {
		t.Fatalf("rollbackTo: %v", err)
	}
	if reorgHeight != 1 {
		t.Fatalf("OnReorg height = %d, want 1", reorgHeight)
	}
}

func TestRollbackToRemovesBlocksAboveHeight(t *testing.T) {
	db := openFollowerTestDB(t)
	chain := &fakeChain{blocks: []ChainBlock{
		{Hash: "hash1", Time: 1000},
		{Hash: "hash2", Time: 1010},
		{Hash: "hash3", Time: 1020},
	}}
	f := newTestFollower(db, chain)
	if err := f.catchUp(context.Background()); err != nil {
		t.Fatalf("catchUp: %v", err)
	}

	if err := f.rollbackTo(context.Background(), 1); err != nil {
		t.Fatalf("rollbackTo: %v", err)
	}

	last, err := f.lastBlockIndex(db)
	if err != nil {
		t.Fatalf("lastBlockIndex: %v", err)
	}
	if last != 1 {
		t.Fatalf("last block index after rollback = %d, want 1", last)
	}

	var major, minor int
	if err := db.QueryRow(`SELECT major, minor FROM schema_version WHERE id = 0`).Scan(&major, &minor); err != nil {
		t.Fatalf("read schema_version after reparse: %v", err)
	}
	if major != schema.VersionMajor || minor != schema.VersionMinor {
		t.Fatalf("schema_version after reparse = (%d,%d), want (%d,%d)", major, minor, schema.VersionMajor, schema.VersionMinor)
	}
}
