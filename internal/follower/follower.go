// Package follower is the orchestrator loop (§4.7): it ingests new
// chain blocks, detects reorganizations up to a fixed depth, and
// applies each block atomically against the ledger store. It is the
// engine's single writer.
package follower

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chancecoin/xcpd/internal/expiry"
	"github.com/chancecoin/xcpd/internal/ledger"
	"github.com/chancecoin/xcpd/internal/parser"
	"github.com/chancecoin/xcpd/internal/protocol"
	"github.com/chancecoin/xcpd/internal/txdecode"
	"github.com/chancecoin/xcpd/pkg/logging"
)

// ChainClient is the subset of chainclient.Client the follower needs.
type ChainClient interface {
	GetBlockCount(ctx context.Context) (uint32, error)
	GetBlockHash(ctx context.Context, height uint32) (string, error)
	GetBlock(ctx context.Context, hash string) (*ChainBlock, error)
	GetRawTransaction(ctx context.Context, txid string) (*txdecode.RawTx, error)
}

// ChainBlock is the decoded block shape the follower consumes.
type ChainBlock struct {
	Hash string
	Time uint32
	Tx   []string
}

// ReorgDepth bounds how far back the follower looks for a mismatching
// stored block hash (§4.7); a divergence deeper than this is not
// detected.
const ReorgDepth = 10

// Config configures a Follower.
type Config struct {
	BlockFirst      int64
	PollInterval    time.Duration
	UnspendableAddr string

	// OnBlock, if set, is called after a block has been committed to the
	// store. height is the applied block's index.
	OnBlock func(height int64, hash string)

	// OnReorg, if set, is called after a rollback has committed, with the
	// new chain tip height (the height rolled back to).
	OnReorg func(height int64)
}

// Follower drives the block-by-block ingestion and reorg-handling loop.
type Follower struct {
	db        *sql.DB
	chain     ChainClient
	extractor *txdecode.Extractor
	cfg       Config
	log       *logging.Logger
}

// New builds a Follower. db must already have its schema created.
func New(db *sql.DB, chain ChainClient, extractor *txdecode.Extractor, cfg Config) *Follower {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Follower{
		db:        db,
		chain:     chain,
		extractor: extractor,
		cfg:       cfg,
		log:       logging.GetDefault().Component("follower"),
	}
}

// Run drives the loop until ctx is cancelled, then returns nil. It never
// returns a non-nil error; chain RPC and store failures are logged and
// retried after backoff rather than propagated.
func (f *Follower) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := f.catchUp(ctx); err != nil {
			f.log.Warn("catch-up iteration failed, backing off", "error", err)
			if !sleep(ctx, f.cfg.PollInterval) {
				return nil
			}
			continue
		}

		reorgHeight, err := f.detectReorg(ctx)
		if err != nil {
			f.log.Warn("reorg detection failed, backing off", "error", err)
			if !sleep(ctx, f.cfg.PollInterval) {
				return nil
			}
			continue
		}
		if reorgHeight >= 0 {
			if err := f.rollbackTo(ctx, int64(reorgHeight)-1); err != nil {
				f.log.Error("rollback failed", "error", err)
				if !sleep(ctx, f.cfg.PollInterval) {
					return nil
				}
			}
			continue
		}

		if !sleep(ctx, f.cfg.PollInterval) {
			return nil
		}
	}
}

// sleep blocks for d or until ctx is cancelled, reporting which happened.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// lastBlockIndex returns the highest stored block_index, or BlockFirst-1
// if the store is empty.
func (f *Follower) lastBlockIndex(q interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}) (int64, error) {
	var last sql.NullInt64
	if err := q.QueryRow(`SELECT MAX(block_index) FROM blocks`).Scan(&last); err != nil {
		return 0, &protocol.DatabaseError{Err: fmt.Errorf("read last block: %w", err)}
	}
	if !last.Valid {
		return f.cfg.BlockFirst - 1, nil
	}
	return last.Int64, nil
}

// catchUp applies every confirmed block not yet stored, one store
// transaction per block.
func (f *Follower) catchUp(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		last, err := f.lastBlockIndex(f.db)
		if err != nil {
			return err
		}
		count, err := f.chain.GetBlockCount(ctx)
		if err != nil {
			return &protocol.ChainRPCError{Err: err}
		}
		if last+1 > int64(count) {
			return nil
		}

		if err := f.applyBlock(ctx, last+1); err != nil {
			return err
		}
	}
}

// applyBlock fetches and parses a single block inside one store
// transaction: block row, expirations, then per-tx extraction and
// dispatch, in that order (§4.7, §5).
func (f *Follower) applyBlock(ctx context.Context, height int64) error {
	hash, err := f.chain.GetBlockHash(ctx, uint32(height))
	if err != nil {
		return &protocol.ChainRPCError{Err: err}
	}
	block, err := f.chain.GetBlock(ctx, hash)
	if err != nil {
		return &protocol.ChainRPCError{Err: err}
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("begin block transaction: %w", err)}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(
		`INSERT INTO blocks (block_index, block_hash, block_time) VALUES (?, ?, ?)`,
		height, block.Hash, block.Time,
	); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert block: %w", err)}
	}

	l := ledger.New(tx)

	if err := expiry.Run(tx, l, height); err != nil {
		return err
	}

	var nextTxIndex int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(tx_index), -1) + 1 FROM transactions`).Scan(&nextTxIndex); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("read next tx_index: %w", err)}
	}

	for _, txid := range block.Tx {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM transactions WHERE tx_hash = ?`, txid).Scan(&exists); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("check existing tx: %w", err)}
		}
		if exists > 0 {
			continue
		}

		raw, err := f.chain.GetRawTransaction(ctx, txid)
		if err != nil {
			return &protocol.ChainRPCError{Err: err}
		}

		extracted, err := f.extractor.Extract(ctx, raw)
		if err != nil {
			return &protocol.ChainRPCError{Err: err}
		}
		if extracted == nil {
			continue
		}

		txIndex := nextTxIndex
		nextTxIndex++

		if _, err := tx.Exec(
			`INSERT INTO transactions (tx_index, tx_hash, block_index, source, destination, native_amount, fee, data, supported)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			txIndex, txid, height, extracted.Source, extracted.Destination, extracted.NativeAmount, extracted.Fee, extracted.Data,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("insert transaction: %w", err)}
		}

		pctx := &parser.Context{
			DB:     tx,
			Ledger: l,
			Tx: parser.Tx{
				TxIndex:      txIndex,
				TxHash:       txid,
				BlockIndex:   height,
				BlockTime:    block.Time,
				Source:       extracted.Source,
				Destination:  extracted.Destination,
				NativeAmount: extracted.NativeAmount,
				Fee:          extracted.Fee,
			},
		}

		if extracted.Destination == f.cfg.UnspendableAddr && len(extracted.Data) == 0 {
			if err := parser.ParseBurn(pctx, f.cfg.BlockFirst); err != nil {
				return err
			}
			continue
		}

		supported, err := parser.Dispatch(pctx, extracted.Data)
		if err != nil {
			return err
		}
		if !supported {
			if _, err := tx.Exec(`UPDATE transactions SET supported = 0 WHERE tx_index = ?`, txIndex); err != nil {
				return &protocol.DatabaseError{Err: fmt.Errorf("mark unsupported: %w", err)}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("commit block: %w", err)}
	}
	if f.cfg.OnBlock != nil {
		f.cfg.OnBlock(height, block.Hash)
	}
	return nil
}

// detectReorg compares stored block hashes against the chain for the
// last ReorgDepth heights. Returns the first mismatching height, or -1
// if none mismatch.
func (f *Follower) detectReorg(ctx context.Context) (int, error) {
	last, err := f.lastBlockIndex(f.db)
	if err != nil {
		return -1, err
	}

	start := last - ReorgDepth + 1
	if start < f.cfg.BlockFirst {
		start = f.cfg.BlockFirst
	}

	for h := start; h <= last; h++ {
		var storedHash string
		err := f.db.QueryRow(`SELECT block_hash FROM blocks WHERE block_index = ?`, h).Scan(&storedHash)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return -1, &protocol.DatabaseError{Err: fmt.Errorf("read stored hash at %d: %w", h, err)}
		}

		chainHash, err := f.chain.GetBlockHash(ctx, uint32(h))
		if err != nil {
			return -1, &protocol.ChainRPCError{Err: err}
		}
		if chainHash != storedHash {
			return int(h), nil
		}
	}
	return -1, nil
}

// rollbackTo deletes every block and transaction above height, then
// reparses (§4.7, §4.8).
func (f *Follower) rollbackTo(ctx context.Context, height int64) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("begin rollback transaction: %w", err)}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM transactions WHERE block_index > ?`, height); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("delete transactions: %w", err)}
	}
	if _, err := tx.Exec(`DELETE FROM blocks WHERE block_index > ?`, height); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("delete blocks: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("commit rollback: %w", err)}
	}

	if err := f.Reparse(ctx); err != nil {
		return err
	}
	if f.cfg.OnReorg != nil {
		f.cfg.OnReorg(height)
	}
	return nil
}
