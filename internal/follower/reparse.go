package follower

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chancecoin/xcpd/internal/expiry"
	"github.com/chancecoin/xcpd/internal/ledger"
	"github.com/chancecoin/xcpd/internal/parser"
	"github.com/chancecoin/xcpd/internal/protocol"
	"github.com/chancecoin/xcpd/internal/schema"
)

// Reparse rebuilds every derived table by replaying stored transactions
// in ascending block order (§4.8). It does not touch blocks or
// transactions, which already hold the raw chain history; it only
// recomputes everything the parser and matcher derive from them. Called
// both after a rollback and at startup when NeedsReparse reports a
// minor version bump.
func (f *Follower) Reparse(ctx context.Context) error {
	f.log.Info("reparsing ledger")

	if err := schema.DropDerived(f.db); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("drop derived tables: %w", err)}
	}
	if err := schema.Open(f.db); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("recreate schema: %w", err)}
	}

	rows, err := f.db.Query(`SELECT block_index FROM blocks ORDER BY block_index ASC`)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("list blocks: %w", err)}
	}
	var heights []int64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return &protocol.DatabaseError{Err: fmt.Errorf("scan block height: %w", err)}
		}
		heights = append(heights, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, height := range heights {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := f.reparseBlock(height); err != nil {
			return err
		}
	}

	if err := schema.Stamp(f.db); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("stamp schema version: %w", err)}
	}

	f.log.Info("reparse complete", "blocks", len(heights))
	return nil
}

// reparseBlock replays every already-extracted transaction stored for
// height inside one store transaction, in tx_index order.
func (f *Follower) reparseBlock(height int64) error {
	tx, err := f.db.Begin()
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("begin reparse transaction: %w", err)}
	}
	defer tx.Rollback() //nolint:errcheck

	var blockTime uint32
	if err := tx.QueryRow(`SELECT block_time FROM blocks WHERE block_index = ?`, height).Scan(&blockTime); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("read block time: %w", err)}
	}

	l := ledger.New(tx)

	if err := expiry.Run(tx, l, height); err != nil {
		return err
	}

	rows, err := tx.Query(
		`SELECT tx_index, tx_hash, source, destination, native_amount, fee, data
		 FROM transactions WHERE block_index = ? ORDER BY tx_index ASC`,
		height,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("list transactions for block %d: %w", height, err)}
	}
	type storedTx struct {
		txIndex      int64
		txHash       string
		source       string
		destination  sql.NullString
		nativeAmount int64
		fee          int64
		data         []byte
	}
	var stored []storedTx
	for rows.Next() {
		var s storedTx
		if err := rows.Scan(&s.txIndex, &s.txHash, &s.source, &s.destination, &s.nativeAmount, &s.fee, &s.data); err != nil {
			rows.Close()
			return &protocol.DatabaseError{Err: fmt.Errorf("scan stored transaction: %w", err)}
		}
		stored = append(stored, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, s := range stored {
		pctx := &parser.Context{
			DB:     tx,
			Ledger: l,
			Tx: parser.Tx{
				TxIndex:      s.txIndex,
				TxHash:       s.txHash,
				BlockIndex:   height,
				BlockTime:    blockTime,
				Source:       s.source,
				Destination:  s.destination.String,
				NativeAmount: s.nativeAmount,
				Fee:          s.fee,
			},
		}

		if s.destination.String == f.cfg.UnspendableAddr && len(s.data) == 0 {
			if err := parser.ParseBurn(pctx, f.cfg.BlockFirst); err != nil {
				return err
			}
			continue
		}

		supported, err := parser.Dispatch(pctx, s.data)
		if err != nil {
			return err
		}
		if !supported {
			if _, err := tx.Exec(`UPDATE transactions SET supported = 0 WHERE tx_index = ?`, s.txIndex); err != nil {
				return &protocol.DatabaseError{Err: fmt.Errorf("mark unsupported: %w", err)}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("commit reparse block: %w", err)}
	}
	return nil
}
