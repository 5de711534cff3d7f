package parser

import (
	"errors"
	"fmt"

	"github.com/chancecoin/xcpd/internal/protocol"
)

// BurnWindow is the number of blocks after blockFirst over which the XCP
// earned per NATIVE burned decays linearly from BurnStartMultiplier to
// BurnEndMultiplier, then holds flat. Burns are the only source of new
// XCP supply.
const BurnWindow = 43200

// BurnStartMultiplier and BurnEndMultiplier bound the earned/burned
// ratio (earned XCP per whole NATIVE unit burned).
const (
	BurnStartMultiplier = 1.0
	BurnEndMultiplier   = 0.5
)

// ParseBurn handles a transaction whose destination is the configured
// unspendable burn sink. Unlike the dispatched message types, burns
// carry no payload and are identified purely by destination (§4.1); the
// follower calls this directly instead of routing through Dispatch.
// blockFirst is the follower's configured BLOCK_FIRST, the height from
// which BurnWindow is measured.
func ParseBurn(ctx *Context, blockFirst int64) error {
	burned := ctx.Tx.NativeAmount
	if burned <= 0 {
		return writeBurn(ctx, 0, 0, "invalid: zero amount")
	}

	earned := earnedForBurn(burned, ctx.Tx.BlockIndex, blockFirst)

	if err := ctx.Ledger.Credit(ctx.Tx.BlockIndex, ctx.Tx.Source, protocol.XCPSymbol, earned, ctx.Tx.TxHash); err != nil {
		if errors.Is(err, protocol.ErrInsufficientBalance) {
			return writeBurn(ctx, burned, 0, "invalid: insufficient balance")
		}
		return err
	}

	return writeBurn(ctx, burned, earned, "valid")
}

// earnedForBurn applies the linear decay schedule: the rate falls
// linearly from BurnStartMultiplier at blockFirst to BurnEndMultiplier
// BurnWindow blocks later, then stays at BurnEndMultiplier.
func earnedForBurn(burnedNative int64, blockIndex, blockFirst int64) int64 {
	elapsed := blockIndex - blockFirst
	if elapsed < 0 {
		elapsed = 0
	}
	multiplier := BurnStartMultiplier
	if elapsed >= BurnWindow {
		multiplier = BurnEndMultiplier
	} else {
		fraction := float64(elapsed) / float64(BurnWindow)
		multiplier = BurnStartMultiplier - fraction*(BurnStartMultiplier-BurnEndMultiplier)
	}
	return int64(float64(burnedNative) * multiplier)
}

func writeBurn(ctx *Context, burned, earned int64, validity string) error {
	_, err := ctx.DB.Exec(
		`INSERT INTO burns (tx_index, block_index, source, burned, earned, validity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ctx.Tx.TxIndex, ctx.Tx.BlockIndex, ctx.Tx.Source, burned, earned, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert burn: %w", err)}
	}
	return nil
}
