package parser

import (
	"errors"
	"fmt"

	"github.com/chancecoin/xcpd/internal/matcher"
	"github.com/chancecoin/xcpd/internal/protocol"
)

func init() {
	register(protocol.MessageTypeBet, handleBet)
}

func handleBet(ctx *Context, body []byte) error {
	msg, err := protocol.DecodeBetMessage(body)
	if err != nil {
		return writeBet(ctx, betFields{}, "invalid: could not unpack")
	}

	fields := betFields{
		feedAddress:  ctx.Tx.Destination,
		betType:      msg.BetType,
		deadline:     int64(msg.Deadline),
		wager:        int64(protocol.ClampUint64(msg.Wager)),
		counterwager: int64(protocol.ClampUint64(msg.Counterwager)),
		targetValue:  msg.TargetValue,
		leverage:     int64(msg.Leverage),
		expiration:   int64(msg.Expiration),
	}

	var problems []string
	switch fields.betType {
	case protocol.BetTypeBullCFD, protocol.BetTypeBearCFD, protocol.BetTypeEqual, protocol.BetTypeNotEqual:
	default:
		problems = append(problems, "unknown bet type")
	}
	if fields.wager <= 0 || fields.counterwager <= 0 {
		problems = append(problems, "non-positive wager")
	}
	if fields.expiration == 0 {
		problems = append(problems, "zero expiration")
	}
	if fields.feedAddress == "" {
		problems = append(problems, "no feed address")
	}

	if verr := protocol.NewValidationError(problems); verr != nil {
		return writeBet(ctx, fields, "invalid: "+verr.Error())
	}

	event := ctx.Tx.TxHash
	if err := ctx.Ledger.Debit(ctx.Tx.BlockIndex, ctx.Tx.Source, protocol.XCPSymbol, fields.wager, event); err != nil {
		if errors.Is(err, protocol.ErrInsufficientBalance) {
			return writeBet(ctx, fields, "invalid: insufficient balance")
		}
		return err
	}

	if err := writeBet(ctx, fields, "valid"); err != nil {
		return err
	}

	newBet := &matcher.Bet{
		TxIndex:               ctx.Tx.TxIndex,
		TxHash:                ctx.Tx.TxHash,
		Source:                ctx.Tx.Source,
		FeedAddress:           fields.feedAddress,
		BetType:               fields.betType,
		Deadline:              fields.deadline,
		WagerRemaining:        fields.wager,
		CounterwagerRemaining: fields.counterwager,
		TargetValue:           fields.targetValue,
		Leverage:              fields.leverage,
		Expiration:            fields.expiration,
	}
	return matcher.MatchBets(ctx.DB, ctx.Ledger, ctx.Tx.BlockIndex, newBet)
}

type betFields struct {
	feedAddress  string
	betType      protocol.BetType
	deadline     int64
	wager        int64
	counterwager int64
	targetValue  float64
	leverage     int64
	expiration   int64
}

func writeBet(ctx *Context, f betFields, validity string) error {
	status := "open"
	if validity != "valid" {
		status = "invalid"
	}
	expireIndex := ctx.Tx.BlockIndex + f.expiration
	_, err := ctx.DB.Exec(
		`INSERT INTO bets
		 (tx_index, tx_hash, block_index, source, feed_address, bet_type, deadline,
		  wager_amount, wager_remaining, counterwager_amount, counterwager_remaining,
		  target_value, leverage, expiration, expire_index, status, validity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.TxHash, ctx.Tx.BlockIndex, ctx.Tx.Source, f.feedAddress, f.betType, f.deadline,
		f.wager, f.wager, f.counterwager, f.counterwager,
		f.targetValue, f.leverage, f.expiration, expireIndex, status, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert bet: %w", err)}
	}
	return nil
}
