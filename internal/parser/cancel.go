package parser

import (
	"encoding/hex"
	"fmt"

	"github.com/chancecoin/xcpd/internal/protocol"
)

func init() {
	register(protocol.MessageTypeCancel, handleCancel)
}

func handleCancel(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeCancelMessage(body)
	if err != nil {
		return writeCancel(ctx, "", "invalid: could not unpack")
	}

	offerHash := hex.EncodeToString(msg.OfferHash[:])

	if cancelled, err := cancelOrder(ctx, offerHash); err != nil {
		return err
	} else if cancelled {
		return writeCancel(ctx, offerHash, "valid")
	}

	if cancelled, err := cancelBet(ctx, offerHash); err != nil {
		return err
	} else if cancelled {
		return writeCancel(ctx, offerHash, "valid")
	}

	return writeCancel(ctx, offerHash, "invalid: no open offer with this hash belonging to source")
}

func cancelOrder(ctx *Context, txHash string) (bool, error) {
	var giveAsset string
	var giveRemaining int64
	var source string
	row := ctx.DB.QueryRow(
		`SELECT source, give_asset, give_remaining FROM orders WHERE tx_hash = ? AND status = 'open'`, txHash,
	)
	if err := row.Scan(&source, &giveAsset, &giveRemaining); err != nil {
		return false, nil
	}
	if source != ctx.Tx.Source {
		return false, nil
	}

	if giveAsset != protocol.NativeSymbol && giveRemaining > 0 {
		if err := ctx.Ledger.Credit(ctx.Tx.BlockIndex, source, giveAsset, giveRemaining, "cancel:"+txHash); err != nil {
			return false, err
		}
	}
	if _, err := ctx.DB.Exec(`UPDATE orders SET status = 'cancelled', give_remaining = 0 WHERE tx_hash = ?`, txHash); err != nil {
		return false, &protocol.DatabaseError{Err: fmt.Errorf("cancel order: %w", err)}
	}
	return true, nil
}

func cancelBet(ctx *Context, txHash string) (bool, error) {
	var source string
	var wagerRemaining int64
	row := ctx.DB.QueryRow(
		`SELECT source, wager_remaining FROM bets WHERE tx_hash = ? AND status = 'open'`, txHash,
	)
	if err := row.Scan(&source, &wagerRemaining); err != nil {
		return false, nil
	}
	if source != ctx.Tx.Source {
		return false, nil
	}

	if wagerRemaining > 0 {
		if err := ctx.Ledger.Credit(ctx.Tx.BlockIndex, source, protocol.XCPSymbol, wagerRemaining, "cancel:"+txHash); err != nil {
			return false, err
		}
	}
	if _, err := ctx.DB.Exec(`UPDATE bets SET status = 'cancelled', wager_remaining = 0 WHERE tx_hash = ?`, txHash); err != nil {
		return false, &protocol.DatabaseError{Err: fmt.Errorf("cancel bet: %w", err)}
	}
	return true, nil
}

func writeCancel(ctx *Context, offerHash, validity string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO cancels (tx_index, block_index, source, offer_hash, validity) VALUES (?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.BlockIndex, ctx.Tx.Source, offerHash, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert cancel: %w", err)}
	}
	return nil
}
