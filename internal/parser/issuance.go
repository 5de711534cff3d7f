package parser

import (
	"errors"
	"fmt"

	"github.com/chancecoin/xcpd/internal/protocol"
)

// IssuanceFee is the XCP cost of issuing or resetting an asset, destroyed
// (debited with no matching credit) rather than paid to any address.
const IssuanceFee = 5 * protocol.UNIT

func init() {
	register(protocol.MessageTypeIssuance, handleIssuance)
}

func handleIssuance(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeIssuanceMessage(body)
	if err != nil {
		return writeIssuance(ctx, issuanceFields{}, "invalid: could not unpack")
	}

	assetID := protocol.ClampUint64(msg.AssetID)
	fields := issuanceFields{
		asset:       assetName(assetID),
		amount:      int64(protocol.ClampUint64(msg.Amount)),
		divisible:   msg.Divisible,
		callable:    msg.Callable,
		callDate:    int64(msg.CallDate),
		callPrice:   float64(msg.CallPrice),
		description: msg.Description,
	}

	var problems []string
	if protocol.IsReservedAsset(fields.asset) {
		problems = append(problems, "cannot issue reserved asset")
	}
	if fields.amount < 0 {
		problems = append(problems, "negative amount")
	}
	if len(fields.description) > protocol.MaxTextLength {
		problems = append(problems, "description too long")
	}

	if verr := protocol.NewValidationError(problems); verr != nil {
		return writeIssuance(ctx, fields, "invalid: "+verr.Error())
	}

	event := ctx.Tx.TxHash
	if err := ctx.Ledger.Debit(ctx.Tx.BlockIndex, ctx.Tx.Source, protocol.XCPSymbol, IssuanceFee, event); err != nil {
		if errors.Is(err, protocol.ErrInsufficientBalance) {
			return writeIssuance(ctx, fields, "invalid: insufficient balance for issuance fee")
		}
		return err
	}

	if fields.amount > 0 {
		if err := ctx.Ledger.Credit(ctx.Tx.BlockIndex, ctx.Tx.Source, fields.asset, fields.amount, event); err != nil {
			return err
		}
	}

	return writeIssuance(ctx, fields, "valid")
}

type issuanceFields struct {
	asset       string
	amount      int64
	divisible   bool
	callable    bool
	callDate    int64
	callPrice   float64
	description string
}

func writeIssuance(ctx *Context, f issuanceFields, validity string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO issuances
		 (tx_index, block_index, source, asset, amount, divisible, callable, call_date, call_price, description, validity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.BlockIndex, ctx.Tx.Source,
		f.asset, f.amount, f.divisible, f.callable, f.callDate, f.callPrice, f.description, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert issuance: %w", err)}
	}
	return nil
}
