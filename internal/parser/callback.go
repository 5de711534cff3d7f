package parser

import (
	"errors"
	"fmt"
	"math"

	"github.com/chancecoin/xcpd/internal/protocol"
)

// handleCallback implements the callback message's side effect as a
// first-class message type: pro-rata redemption of a fraction of a
// callable asset's outstanding units at the issuer's call price (the
// semantics recorded as the decision for this message type, since the
// dispatcher references it without fully specifying on-chain effect).
func init() {
	register(protocol.MessageTypeCallback, handleCallback)
}

func handleCallback(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeCallbackMessage(body)
	if err != nil {
		return writeCallback(ctx, "", msg.Fraction, "invalid: could not unpack")
	}

	assetID := protocol.ClampUint64(msg.AssetID)
	asset := assetName(assetID)
	fraction := msg.Fraction

	var problems []string
	if fraction <= 0 || fraction > 1 {
		problems = append(problems, "fraction out of range (0,1]")
	}
	if protocol.IsReservedAsset(asset) {
		problems = append(problems, "cannot call back a reserved asset")
	}

	var callable bool
	var callDate int64
	var callPrice float64
	var issuer string
	row := ctx.DB.QueryRow(
		`SELECT source, callable, call_date, call_price FROM issuances
		 WHERE asset = ? AND validity = 'valid' ORDER BY tx_index DESC LIMIT 1`,
		asset,
	)
	if scanErr := row.Scan(&issuer, &callable, &callDate, &callPrice); scanErr != nil {
		problems = append(problems, "asset not issued")
	} else {
		if !callable {
			problems = append(problems, "asset is not callable")
		}
		if issuer != ctx.Tx.Source {
			problems = append(problems, "only the issuer may call back its asset")
		}
		if int64(ctx.Tx.BlockTime) < callDate {
			problems = append(problems, "call date not reached")
		}
	}

	if verr := protocol.NewValidationError(problems); verr != nil {
		return writeCallback(ctx, asset, fraction, "invalid: "+verr.Error())
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
	for rows.Next() {
		var h holder
		if err := rows.Scan(&h.address, &h.balance); err != nil {
			rows.Close()
			return &protocol.DatabaseError{Err: fmt.Errorf("scan holder: %w", err)}
		}
		holders = append(holders, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	event := ctx.Tx.TxHash
	for _, h := range holders {
		redeemed := int64(math.Floor(float64(h.balance) * fraction))
		if redeemed <= 0 {
			continue
		}
		payout := int64(math.Floor(float64(redeemed) * callPrice))

		if err := ctx.Ledger.Debit(ctx.Tx.BlockIndex, h.address, asset, redeemed, event); err != nil {
			if errors.Is(err, protocol.ErrInsufficientBalance) {
				continue
			}
			return err
		}
		if payout > 0 {
			if err := ctx.Ledger.Debit(ctx.Tx.BlockIndex, ctx.Tx.Source, protocol.XCPSymbol, payout, event); err != nil {
				if errors.Is(err, protocol.ErrInsufficientBalance) {
					continue
				}
				return err
			}
			if err := ctx.Ledger.Credit(ctx.Tx.BlockIndex, h.address, protocol.XCPSymbol, payout, event); err != nil {
				return err
			}
		}
	}

	return writeCallback(ctx, asset, fraction, "valid")
}

func writeCallback(ctx *Context, asset string, fraction float64, validity string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO callbacks (tx_index, block_index, source, asset, fraction, validity) VALUES (?, ?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.BlockIndex, ctx.Tx.Source, asset, fraction, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert callback: %w", err)}
	}
	return nil
}
