package matcher

import (
	"database/sql"
	"fmt"

	"github.com/chancecoin/xcpd/internal/ledger"
	"github.com/chancecoin/xcpd/internal/protocol"
)

// Bet is the subset of a bets row the matcher reads and mutates.
type Bet struct {
	TxIndex                int64
	TxHash                 string
	Source                 string
	FeedAddress            string
	BetType                protocol.BetType
	Deadline               int64
	WagerRemaining         int64
	CounterwagerRemaining  int64
	TargetValue            float64
	Leverage               int64
	Expiration             int64
}

// pairedBetType returns the bet type that matches t within its pair
// ({BullCFD, BearCFD} or {Equal, NotEqual}), or ok=false if t starts no
// recognized pair.
func pairedBetType(t protocol.BetType) (protocol.BetType, bool) {
	switch t {
	case protocol.BetTypeBullCFD:
		return protocol.BetTypeBearCFD, true
	case protocol.BetTypeBearCFD:
		return protocol.BetTypeBullCFD, true
	case protocol.BetTypeEqual:
		return protocol.BetTypeNotEqual, true
	case protocol.BetTypeNotEqual:
		return protocol.BetTypeEqual, true
	default:
		return 0, false
	}
}

// MatchBets pairs a freshly-inserted valid bet against open bets on the
// same feed with the complementary type, FIFO by tx_index. Both sides
// escrow wager_amount of XCP at bet-open time (unlike orders, bets are
// always XCP-denominated so there is no NATIVE-pending case).
func MatchBets(db *sql.Tx, l *ledger.Ledger, blockIndex int64, newBet *Bet) error {
	counterType, ok := pairedBetType(newBet.BetType)
	if !ok {
		return nil
	}

	rows, err := db.Query(
		`SELECT tx_index, tx_hash, source, feed_address, bet_type, deadline, wager_remaining, counterwager_remaining, target_value, leverage, expiration
		 FROM bets
		 WHERE feed_address = ? AND bet_type = ? AND status = 'open' AND validity = 'valid' AND wager_remaining > 0
		 ORDER BY tx_index ASC`,
		newBet.FeedAddress, counterType,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("query candidate bets: %w", err)}
	}
	defer rows.Close()

	var candidates []Bet
	for rows.Next() {
		var c Bet
		if err := rows.Scan(&c.TxIndex, &c.TxHash, &c.Source, &c.FeedAddress, &c.BetType, &c.Deadline,
			&c.WagerRemaining, &c.CounterwagerRemaining, &c.TargetValue, &c.Leverage, &c.Expiration); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("scan candidate bet: %w", err)}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, old := range candidates {
		if newBet.WagerRemaining == 0 {
			break
		}
		if old.Deadline != newBet.Deadline || old.TargetValue != newBet.TargetValue || old.Leverage != newBet.Leverage {
			continue
		}

		forward := min64(newBet.WagerRemaining, old.CounterwagerRemaining)
		if forward == 0 {
			continue
		}
		backward := min64(newBet.CounterwagerRemaining, old.WagerRemaining)
		if backward == 0 {
			continue
		}

		expireIndex := blockIndex + min64(old.Expiration, newBet.Expiration)
		id := matchID(old.TxHash, newBet.TxHash, old.TxIndex, newBet.TxIndex)

		var initialValue float64
		err := db.QueryRow(
			`SELECT value FROM broadcasts WHERE source = ? AND validity = 'valid' ORDER BY tx_index DESC LIMIT 1`,
			old.FeedAddress,
		).Scan(&initialValue)
		if err != nil && err != sql.ErrNoRows {
			return &protocol.DatabaseError{Err: fmt.Errorf("read feed value: %w", err)}
		}

		_, err = db.Exec(
			`INSERT INTO bet_matches
			 (id, tx0_index, tx1_index, tx0_hash, tx1_hash, tx0_address, tx1_address,
			  feed_address, initial_value, deadline, target_value, leverage,
			  forward_amount, backward_amount, block_index, match_expire_index, validity)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'valid')`,
			id, old.TxIndex, newBet.TxIndex, old.TxHash, newBet.TxHash, old.Source, newBet.Source,
			old.FeedAddress, initialValue, old.Deadline, old.TargetValue, old.Leverage,
			forward, backward, blockIndex, expireIndex,
		)
		if err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("insert bet_match: %w", err)}
		}

		newBet.WagerRemaining -= forward
		newBet.CounterwagerRemaining -= backward
		old.WagerRemaining -= backward
		old.CounterwagerRemaining -= forward

		if _, err := db.Exec(
			`UPDATE bets SET wager_remaining = ?, counterwager_remaining = ?,
			 status = CASE WHEN wager_remaining <= 0 THEN 'filled' ELSE status END
			 WHERE tx_index = ?`,
			old.WagerRemaining, old.CounterwagerRemaining, old.TxIndex,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("update matched bet: %w", err)}
		}

		if _, err := db.Exec(
			`UPDATE bets SET wager_remaining = ?, counterwager_remaining = ?,
			 status = CASE WHEN wager_remaining <= 0 THEN 'filled' ELSE status END
			 WHERE tx_index = ?`,
			newBet.WagerRemaining, newBet.CounterwagerRemaining, newBet.TxIndex,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("update new bet: %w", err)}
		}
	}

	return nil
}
