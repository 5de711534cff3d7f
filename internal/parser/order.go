package parser

import (
	"errors"
	"fmt"

	"github.com/chancecoin/xcpd/internal/matcher"
	"github.com/chancecoin/xcpd/internal/protocol"
)

func init() {
	register(protocol.MessageTypeOrder, handleOrder)
}

func handleOrder(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeOrderMessage(body)
	if err != nil {
		return writeOrder(ctx, orderFields{}, "invalid: could not unpack")
	}

	fields := orderFields{
		giveAsset:   assetName(protocol.ClampUint64(msg.GiveAsset)),
		giveAmount:  int64(protocol.ClampUint64(msg.GiveAmount)),
		getAsset:    assetName(protocol.ClampUint64(msg.GetAsset)),
		getAmount:   int64(protocol.ClampUint64(msg.GetAmount)),
		expiration:  int64(msg.Expiration),
		feeRequired: int64(protocol.ClampUint64(msg.FeeRequired)),
	}

	var problems []string
	if fields.giveAmount <= 0 || fields.getAmount <= 0 {
		problems = append(problems, "non-positive amount")
	}
	if fields.giveAsset == fields.getAsset {
		problems = append(problems, "give and get asset must differ")
	}
	if fields.expiration == 0 {
		problems = append(problems, "zero expiration")
	}

	if verr := protocol.NewValidationError(problems); verr != nil {
		return writeOrder(ctx, fields, "invalid: "+verr.Error())
	}

	event := ctx.Tx.TxHash
	if fields.giveAsset != protocol.NativeSymbol {
		if err := ctx.Ledger.Debit(ctx.Tx.BlockIndex, ctx.Tx.Source, fields.giveAsset, fields.giveAmount, event); err != nil {
			if errors.Is(err, protocol.ErrInsufficientBalance) {
				return writeOrder(ctx, fields, "invalid: insufficient balance")
			}
			return err
		}
	}

	if err := writeOrder(ctx, fields, "valid"); err != nil {
		return err
	}

	newOrder := &matcher.Order{
		TxIndex:       ctx.Tx.TxIndex,
		TxHash:        ctx.Tx.TxHash,
		Source:        ctx.Tx.Source,
		GiveAsset:     fields.giveAsset,
		GiveAmount:    fields.giveAmount,
		GiveRemaining: fields.giveAmount,
		GetAsset:      fields.getAsset,
		GetAmount:     fields.getAmount,
		GetRemaining:  fields.getAmount,
		Expiration:    fields.expiration,
	}
	return matcher.MatchOrders(ctx.DB, ctx.Ledger, ctx.Tx.BlockIndex, newOrder)
}

type orderFields struct {
	giveAsset   string
	giveAmount  int64
	getAsset    string
	getAmount   int64
	expiration  int64
	feeRequired int64
}

func writeOrder(ctx *Context, f orderFields, validity string) error {
	status := "open"
	if validity != "valid" {
		status = "invalid"
	}
	expireIndex := ctx.Tx.BlockIndex + f.expiration
	_, err := ctx.DB.Exec(
		`INSERT INTO orders
		 (tx_index, tx_hash, block_index, source, give_asset, give_amount, give_remaining,
		  get_asset, get_amount, get_remaining, expiration, expire_index, fee_required, status, validity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.TxHash, ctx.Tx.BlockIndex, ctx.Tx.Source,
		f.giveAsset, f.giveAmount, f.giveAmount,
		f.getAsset, f.getAmount, f.getAmount,
		f.expiration, expireIndex, f.feeRequired, status, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert order: %w", err)}
	}
	return nil
}
