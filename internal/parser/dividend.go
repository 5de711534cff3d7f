package parser

import (
	"errors"
	"fmt"

	"github.com/chancecoin/xcpd/internal/protocol"
)

// DividendFeeFraction is the fraction of the total payout destroyed as a
// fee when a dividend is declared, in XCP.
const DividendFeeFraction = 0.0001

func init() {
	register(protocol.MessageTypeDividend, handleDividend)
}

func handleDividend(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeDividendMessage(body)
	if err != nil {
		return writeDividend(ctx, "", 0, 0, "invalid: could not unpack")
	}

	assetID := protocol.ClampUint64(msg.AssetID)
	asset := assetName(assetID)
	amountPerUnit := int64(protocol.ClampUint64(msg.AmountPerUnit))

	var problems []string
	if amountPerUnit <= 0 {
		problems = append(problems, "non-positive amount per unit")
	}
	if protocol.IsReservedAsset(asset) {
		problems = append(problems, "cannot pay dividends on a reserved asset")
	}

	if verr := protocol.NewValidationError(problems); verr != nil {
		return writeDividend(ctx, asset, amountPerUnit, 0, "invalid: "+verr.Error())
	}

	rows, err := ctx.DB.Query(`SELECT address, balance FROM balances WHERE asset = ? AND balance > 0`, asset)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("query holders: %w", err)}
	}
	type holder struct {
		address string
		balance int64
	}
	var holders []holder
	var totalUnits int64
	for rows.Next() {
		var h holder
		if err := rows.Scan(&h.address, &h.balance); err != nil {
			rows.Close()
			return &protocol.DatabaseError{Err: fmt.Errorf("scan holder: %w", err)}
		}
		holders = append(holders, h)
		totalUnits += h.balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	totalPayout := int64(0)
	for _, h := range holders {
		totalPayout += (h.balance / protocol.UNIT) * amountPerUnit
	}
	fee := int64(float64(totalPayout) * DividendFeeFraction)

	event := ctx.Tx.TxHash
	if err := ctx.Ledger.Debit(ctx.Tx.BlockIndex, ctx.Tx.Source, protocol.XCPSymbol, totalPayout+fee, event); err != nil {
		if errors.Is(err, protocol.ErrInsufficientBalance) {
			return writeDividend(ctx, asset, amountPerUnit, 0, "invalid: insufficient balance for payout")
		}
		return err
	}

	for _, h := range holders {
		share := (h.balance / protocol.UNIT) * amountPerUnit
		if share <= 0 {
			continue
		}
		if err := ctx.Ledger.Credit(ctx.Tx.BlockIndex, h.address, protocol.XCPSymbol, share, event); err != nil {
			return err
		}
	}

	return writeDividend(ctx, asset, amountPerUnit, fee, "valid")
}

func writeDividend(ctx *Context, asset string, amountPerUnit, feePaid int64, validity string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO dividends (tx_index, block_index, source, asset, dividend_asset, amount_per_unit, fee_paid, validity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.BlockIndex, ctx.Tx.Source, asset, protocol.XCPSymbol, amountPerUnit, feePaid, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert dividend: %w", err)}
	}
	return nil
}
