package parser

import (
	"encoding/hex"
	"fmt"

	"github.com/chancecoin/xcpd/internal/protocol"
)

func init() {
	register(protocol.MessageTypeBTCPay, handleBTCPay)
}

func handleBTCPay(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeBTCPayMessage(body)
	if err != nil {
		return writeBTCPay(ctx, "", "invalid: could not unpack")
	}

	id := msg.OrderMatchID()
	matchID := hex.EncodeToString(id[:])

	var (
		tx0Address, tx1Address string
		forwardAsset           string
		forwardAmount          int64
		backwardAsset          string
		backwardAmount         int64
		validity               string
	)
	row := ctx.DB.QueryRow(
		`SELECT tx0_address, tx1_address, forward_asset, forward_amount, backward_asset, backward_amount, validity
		 FROM order_matches WHERE id = ?`,
		matchID,
	)
	if scanErr := row.Scan(&tx0Address, &tx1Address, &forwardAsset, &forwardAmount, &backwardAsset, &backwardAmount, &validity); scanErr != nil {
		return writeBTCPay(ctx, matchID, "invalid: no such order match")
	}

	if validity != "pending" {
		return writeBTCPay(ctx, matchID, "invalid: order match not pending")
	}

	// Exactly one leg of a pending match is NATIVE-denominated (it was
	// never escrowed at order-open time); that leg's owner must pay it
	// on-chain, to the counterparty, before the other leg's escrow is
	// released.
	payer, payee, requiredAmount := tx1Address, tx0Address, forwardAmount
	creditAsset, creditAmount := backwardAsset, backwardAmount
	if forwardAsset != protocol.NativeSymbol {
		payer, payee, requiredAmount = tx0Address, tx1Address, backwardAmount
		creditAsset, creditAmount = forwardAsset, forwardAmount
	}

	if ctx.Tx.Source != payer {
		return writeBTCPay(ctx, matchID, "invalid: not a party to this match")
	}
	if ctx.Tx.Destination != payee || ctx.Tx.NativeAmount < requiredAmount {
		return writeBTCPay(ctx, matchID, "invalid: insufficient native payment")
	}

	if err := ctx.Ledger.Credit(ctx.Tx.BlockIndex, payer, creditAsset, creditAmount, "btcpay:"+matchID); err != nil {
		return err
	}

	if _, err := ctx.DB.Exec(`UPDATE order_matches SET validity = 'valid' WHERE id = ?`, matchID); err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("settle order_match: %w", err)}
	}

	return writeBTCPay(ctx, matchID, "valid")
}

func writeBTCPay(ctx *Context, matchID, validity string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO btcpays (tx_index, block_index, source, order_match_id, validity) VALUES (?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.BlockIndex, ctx.Tx.Source, matchID, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert btcpay: %w", err)}
	}
	return nil
}
