package parser

import (
	"errors"
	"fmt"

	"github.com/chancecoin/xcpd/internal/protocol"
)

func init() {
	register(protocol.MessageTypeSend, handleSend)
}

func handleSend(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeSendMessage(body)
	if err != nil {
		return writeSend(ctx, "", 0, "invalid: could not unpack")
	}

	assetID := protocol.ClampUint64(msg.AssetID)
	amount := protocol.ClampUint64(msg.Amount)
	asset := assetName(assetID)

	var problems []string
	if ctx.Tx.Destination == "" {
		problems = append(problems, "no destination")
	}
	if amount == 0 {
		problems = append(problems, "zero amount")
	}

	if verr := protocol.NewValidationError(problems); verr != nil {
		return writeSend(ctx, asset, int64(amount), "invalid: "+verr.Error())
	}

	event := ctx.Tx.TxHash
	if err := ctx.Ledger.Debit(ctx.Tx.BlockIndex, ctx.Tx.Source, asset, int64(amount), event); err != nil {
		if errors.Is(err, protocol.ErrInsufficientBalance) {
			return writeSend(ctx, asset, int64(amount), "invalid: insufficient balance")
		}
		return err
	}
	if err := ctx.Ledger.Credit(ctx.Tx.BlockIndex, ctx.Tx.Destination, asset, int64(amount), event); err != nil {
		return err
	}

	return writeSend(ctx, asset, int64(amount), "valid")
}

func writeSend(ctx *Context, asset string, amount int64, validity string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO sends (tx_index, block_index, source, destination, asset, amount, validity)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.BlockIndex, ctx.Tx.Source, ctx.Tx.Destination, asset, amount, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert send: %w", err)}
	}
	return nil
}
