package parser

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/chancecoin/xcpd/internal/protocol"
	"github.com/chancecoin/xcpd/internal/settlement"
)

func init() {
	register(protocol.MessageTypeBroadcast, handleBroadcast)
}

func handleBroadcast(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeBroadcastMessage(body)
	if err != nil {
		return writeBroadcast(ctx, broadcastFields{}, false, "invalid: could not unpack")
	}

	fields := broadcastFields{
		timestamp:      int64(msg.Timestamp),
		value:          msg.Value,
		feeFractionInt: int64(msg.FeeFractionInt),
		text:           msg.Text,
	}

	var priorLocked bool
	var priorTimestamp int64
	hasPrior := true
	row := ctx.DB.QueryRow(
		`SELECT locked, timestamp FROM broadcasts WHERE source = ? AND validity = 'valid' ORDER BY tx_index DESC LIMIT 1`,
		ctx.Tx.Source,
	)
	if scanErr := row.Scan(&priorLocked, &priorTimestamp); scanErr == sql.ErrNoRows {
		hasPrior = false
	} else if scanErr != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("read prior broadcast: %w", scanErr)}
	}

	var problems []string
	if hasPrior && priorLocked {
		problems = append(problems, "locked feed")
	}
	if hasPrior && fields.timestamp <= priorTimestamp {
		problems = append(problems, "non-monotonic timestamp")
	}

	if verr := protocol.NewValidationError(problems); verr != nil {
		return writeBroadcast(ctx, fields, false, "invalid: "+verr.Error())
	}

	if strings.EqualFold(fields.text, "lock") {
		lockFields := broadcastFields{timestamp: fields.timestamp, text: fields.text}
		return writeBroadcast(ctx, lockFields, true, "valid")
	}

	if err := writeBroadcast(ctx, fields, false, "valid"); err != nil {
		return err
	}

	// A negative (or NaN) value is recorded but settles nothing.
	if !(fields.value >= 0) {
		return nil
	}

	return settlement.Settle(ctx.DB, ctx.Ledger, ctx.Tx.BlockIndex, ctx.Tx.Source, fields.timestamp, fields.value, fields.feeFractionInt)
}

type broadcastFields struct {
	timestamp      int64
	value          float64
	feeFractionInt int64
	text           string
}

func writeBroadcast(ctx *Context, f broadcastFields, locked bool, validity string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO broadcasts (tx_index, block_index, source, timestamp, value, fee_fraction_int, text, locked, validity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.BlockIndex, ctx.Tx.Source, f.timestamp, f.value, f.feeFractionInt, f.text, locked, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert broadcast: %w", err)}
	}
	return nil
}
