// Package settlement implements the broadcast-driven contract
// settlement pipeline (§4.6): for every valid, non-lock broadcast with a
// non-negative value (the broadcast parser skips the others) it
// walks the open bet matches on that feed and force-liquidates or
// settles contract-for-difference and equal/not-equal wagers. The
// arithmetic mirrors the reference implementation's broadcast handler
// bit-for-bit: integer escrow amounts, a rational leverage multiplier,
// and round-half-even at the final credit step.
package settlement

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chancecoin/xcpd/internal/ledger"
	"github.com/chancecoin/xcpd/internal/protocol"
)

// OpenBetMatch is the subset of a bet_matches row settlement needs.
type OpenBetMatch struct {
	ID             string
	Tx0Index       int64
	Tx1Index       int64
	Tx0Address     string
	Tx1Address     string
	Tx0BetType     protocol.BetType
	Tx1BetType     protocol.BetType
	InitialValue   float64
	Deadline       int64
	TargetValue    float64
	Leverage       int64
	ForwardAmount  int64
	BackwardAmount int64
}

// Settle processes one valid broadcast on feedAddress against every open
// bet match on that feed, in (tx1_index, tx0_index) ascending order
// (§4.6 step 3). db is the live block transaction, l the ledger built
// on it. timestamp/value/feeFractionInt are the broadcast's fields.
func Settle(db *sql.Tx, l *ledger.Ledger, blockIndex int64, feedAddress string, timestamp int64, value float64, feeFractionInt int64) error {
	rows, err := db.Query(
		`SELECT bm.id, bm.tx0_index, bm.tx1_index, o0.bet_type, o1.bet_type,
		        bm.initial_value, bm.deadline, bm.target_value, bm.leverage,
		        bm.forward_amount, bm.backward_amount, bm.tx0_address, bm.tx1_address
		 FROM bet_matches bm
		 JOIN bets o0 ON o0.tx_index = bm.tx0_index
		 JOIN bets o1 ON o1.tx_index = bm.tx1_index
		 WHERE bm.feed_address = ? AND bm.validity = 'valid'
		 ORDER BY bm.tx1_index ASC, bm.tx0_index ASC`,
		feedAddress,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("query open bet matches: %w", err)}
	}
	defer rows.Close()

	var matches []OpenBetMatch
	for rows.Next() {
		var m OpenBetMatch
		if err := rows.Scan(&m.ID, &m.Tx0Index, &m.Tx1Index, &m.Tx0BetType, &m.Tx1BetType,
			&m.InitialValue, &m.Deadline, &m.TargetValue, &m.Leverage,
			&m.ForwardAmount, &m.BackwardAmount, &m.Tx0Address, &m.Tx1Address); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("scan bet match: %w", err)}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, m := range matches {
		if err := settleOne(db, l, blockIndex, feedAddress, timestamp, value, feeFractionInt, m); err != nil {
			return err
		}
	}
	return nil
}

func settleOne(db *sql.Tx, l *ledger.Ledger, blockIndex int64, feedAddress string, timestamp int64, value float64, feeFractionInt int64, m OpenBetMatch) error {
	totalEscrow := m.ForwardAmount + m.BackwardAmount
	fee := decimal.NewFromInt(totalEscrow).
		Mul(decimal.NewFromInt(feeFractionInt)).
		Div(decimal.NewFromInt(1e8)).
		RoundBank(0).IntPart()

	isCFD := isCFDPair(m.Tx0BetType, m.Tx1BetType)

	if isCFD {
		leverage := decimal.NewFromInt(m.Leverage).Div(decimal.NewFromInt(protocol.LeverageUnit))
		delta := decimal.NewFromFloat(value).Sub(decimal.NewFromFloat(m.InitialValue))
		bearCredit := decimal.NewFromInt(totalEscrow).
			Sub(delta.Mul(leverage).Mul(decimal.NewFromInt(protocol.UNIT))).
			RoundBank(0)
		bullCredit := decimal.NewFromInt(totalEscrow).Sub(bearCredit)

		bullAddr, bearAddr := resolveCFDAddresses(m)

		switch {
		case bullCredit.GreaterThanOrEqual(decimal.NewFromInt(totalEscrow)):
			return finishCFD(db, l, blockIndex, feedAddress, m, bullAddr, totalEscrow, bearAddr, 0, fee, "Force-Liquidated Bear")
		case bullCredit.LessThanOrEqual(decimal.Zero):
			return finishCFD(db, l, blockIndex, feedAddress, m, bullAddr, 0, bearAddr, totalEscrow, fee, "Force-Liquidated Bull")
		case timestamp >= m.Deadline:
			return finishCFD(db, l, blockIndex, feedAddress, m, bullAddr, bullCredit.IntPart(), bearAddr, bearCredit.IntPart(), fee, "Settled (CFD)")
		default:
			return nil
		}
	}

	// Equal / NotEqual: only settles at or after the deadline.
	if timestamp < m.Deadline {
		return nil
	}

	equalAddr, notEqualAddr := resolveEqualAddresses(m)
	var winner string
	var validity string
	if value == m.TargetValue {
		winner = equalAddr
		validity = "Settled for Equal"
	} else {
		winner = notEqualAddr
		validity = "Settled for NotEqual"
	}

	if err := l.Credit(blockIndex, winner, protocol.XCPSymbol, totalEscrow, "bet_match:"+m.ID); err != nil {
		return err
	}
	if fee > 0 {
		if err := l.Credit(blockIndex, feedAddress, protocol.XCPSymbol, fee, "bet_match_fee:"+m.ID); err != nil {
			return err
		}
	}
	return markSettled(db, m.ID, validity)
}

func isCFDPair(a, b protocol.BetType) bool {
	return (a == protocol.BetTypeBullCFD && b == protocol.BetTypeBearCFD) ||
		(a == protocol.BetTypeBearCFD && b == protocol.BetTypeBullCFD)
}

// resolveCFDAddresses identifies the bull/bear legs of a CFD match: the
// side with the lower bet_type id is bull (per the reference
// implementation's bull/bear identification rule).
func resolveCFDAddresses(m OpenBetMatch) (bullAddr, bearAddr string) {
	if m.Tx0BetType < m.Tx1BetType {
		return m.Tx0Address, m.Tx1Address
	}
	return m.Tx1Address, m.Tx0Address
}

func resolveEqualAddresses(m OpenBetMatch) (equalAddr, notEqualAddr string) {
	if m.Tx0BetType == protocol.BetTypeEqual {
		return m.Tx0Address, m.Tx1Address
	}
	return m.Tx1Address, m.Tx0Address
}

func finishCFD(db *sql.Tx, l *ledger.Ledger, blockIndex int64, feedAddress string, m OpenBetMatch, bullAddr string, bullCredit int64, bearAddr string, bearCredit int64, fee int64, validity string) error {
	if bullCredit > 0 {
		if err := l.Credit(blockIndex, bullAddr, protocol.XCPSymbol, bullCredit, "bet_match:"+m.ID); err != nil {
			return err
		}
	}
	if bearCredit > 0 {
		if err := l.Credit(blockIndex, bearAddr, protocol.XCPSymbol, bearCredit, "bet_match:"+m.ID); err != nil {
			return err
		}
	}
	if fee > 0 {
		if err := l.Credit(blockIndex, feedAddress, protocol.XCPSymbol, fee, "bet_match_fee:"+m.ID); err != nil {
			return err
		}
	}
	return markSettled(db, m.ID, validity)
}

func markSettled(db *sql.Tx, id, validity string) error {
	_, err := db.Exec(`UPDATE bet_matches SET validity = ? WHERE id = ?`, validity, id)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("mark bet_match settled: %w", err)}
	}
	return nil
}
