// Package parser implements the per-message-type handlers dispatched
// from a stripped transaction payload (§4.2). Every handler shares the
// same contract: decode, clamp, validate, write the typed row, and on
// validity="valid" mutate the ledger and enqueue matching/expiration
// side effects. Handlers never return an error for a bad message — only
// for store or programmer failures, which abort the enclosing block.
package parser

import (
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/chancecoin/xcpd/internal/ledger"
	"github.com/chancecoin/xcpd/internal/protocol"
)

// Tx is everything a handler needs about the transaction it is parsing.
type Tx struct {
	TxIndex      int64
	TxHash       string
	BlockIndex   int64
	BlockTime    uint32
	Source       string
	Destination  string
	NativeAmount int64
	Fee          int64
}

// Context is threaded through every handler: the live block transaction,
// the ledger built on top of it, and the transaction under parse.
type Context struct {
	DB     *sql.Tx
	Ledger *ledger.Ledger
	Tx     Tx
}

// Handler parses message body (the payload after the 4-byte type id has
// been stripped) against tx.
type Handler func(ctx *Context, body []byte) error

// dispatch maps message type id to its handler. Built once via init so
// every parser file can register itself without a central edit.
var dispatch = map[uint32]Handler{}

func register(id uint32, h Handler) {
	dispatch[id] = h
}

// Dispatch reads the 4-byte big-endian type id from data and runs the
// matching handler. An unrecognized type id (or a payload shorter than
// 4 bytes) is not an error: Dispatch returns (false, nil) and the caller
// marks the already-written transaction row supported=false.
func Dispatch(ctx *Context, data []byte) (supported bool, err error) {
	if len(data) < 4 {
		return false, nil
	}
	typeID := binary.BigEndian.Uint32(data[0:4])
	handler, ok := dispatch[typeID]
	if !ok {
		return false, nil
	}
	if err := handler(ctx, data[4:]); err != nil {
		return true, err
	}
	return true, nil
}

// assetName renders an asset id as its stored symbol, falling back to a
// hex placeholder only if the id is outside the valid encoding space
// (which validation should already have rejected).
func assetName(id uint64) string {
	name, err := protocol.AssetIDToName(id)
	if err != nil {
		return "INVALID:" + hex.EncodeToString([]byte(fmt.Sprintf("%d", id)))
	}
	return name
}

// writeMessageBindings appends a human-readable JSON blob to the messages
// table alongside whatever the ledger already wrote for credits/debits of
// this transaction. No handler currently calls it: the only message rows
// written during parsing are the ledger's credit/debit rows.
func writeMessageBindings(ctx *Context, category, bindings string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO messages (block_index, category, command, bindings) VALUES (?, ?, ?, ?)`,
		ctx.Tx.BlockIndex, category, category, bindings,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert message: %w", err)}
	}
	return nil
}
