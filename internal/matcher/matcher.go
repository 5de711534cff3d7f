// Package matcher implements the order↔order and bet↔bet pairing engine
// (§4.4): FIFO-by-arrival candidate scan, the price/ratio acceptance
// test, and match-record creation including the NATIVE-pair pending
// state that a later btcpay message settles.
package matcher

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/chancecoin/xcpd/internal/ledger"
	"github.com/chancecoin/xcpd/internal/protocol"
)

// Order is the subset of an orders row the matcher reads and mutates.
type Order struct {
	TxIndex       int64
	TxHash        string
	Source        string
	GiveAsset     string
	GiveAmount    int64
	GiveRemaining int64
	GetAsset      string
	GetAmount     int64
	GetRemaining  int64
	Expiration    int64
}

// MatchOrders pairs a freshly-inserted valid order against the open book
// of inverse-pair orders, strictly FIFO by tx_index (§4.4 steps 1-4). db
// is the live block transaction; l is the ledger built on top of it.
func MatchOrders(db *sql.Tx, l *ledger.Ledger, blockIndex int64, newOrder *Order) error {
	rows, err := db.Query(
		`SELECT tx_index, tx_hash, source, give_asset, give_amount, give_remaining, get_asset, get_amount, get_remaining, expiration
		 FROM orders
		 WHERE give_asset = ? AND get_asset = ? AND status = 'open' AND validity = 'valid' AND give_remaining > 0
		 ORDER BY tx_index ASC`,
		newOrder.GetAsset, newOrder.GiveAsset,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("query candidate orders: %w", err)}
	}
	defer rows.Close()

	type candidate struct {
		Order
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.TxIndex, &c.TxHash, &c.Source, &c.GiveAsset, &c.GiveAmount, &c.GiveRemaining,
			&c.GetAsset, &c.GetAmount, &c.GetRemaining, &c.Expiration); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("scan candidate order: %w", err)}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, old := range candidates {
		if newOrder.GiveRemaining == 0 {
			break
		}

		// Acceptable iff price(old) <= 1/price(new), equivalently
		// new.get_amount * old.get_amount <= new.give_amount * old.give_amount.
		// Products can exceed the int64 range, so compare in arbitrary
		// precision rather than risk silent wraparound.
		lhs := new(big.Int).Mul(big.NewInt(newOrder.GetAmount), big.NewInt(old.GetAmount))
		rhs := new(big.Int).Mul(big.NewInt(newOrder.GiveAmount), big.NewInt(old.GiveAmount))
		if lhs.Cmp(rhs) > 0 {
			continue
		}

		forward := min64(newOrder.GiveRemaining, old.GetRemaining)
		if forward == 0 {
			continue
		}
		// backward_amount = forward * old.give_amount / old.get_amount, rounded down.
		backward := new(big.Int).Mul(big.NewInt(forward), big.NewInt(old.GiveAmount))
		backward.Quo(backward, big.NewInt(old.GetAmount))
		if !backward.IsInt64() {
			continue
		}
		backwardAmount := backward.Int64()
		if backwardAmount == 0 {
			continue
		}

		if err := settleOrderMatch(db, l, blockIndex, newOrder, &old.Order, forward, backwardAmount); err != nil {
			return err
		}

		newOrder.GiveRemaining -= forward
		newOrder.GetRemaining -= backwardAmount
		old.GiveRemaining -= backwardAmount
		old.GetRemaining -= forward

		if _, err := db.Exec(
			`UPDATE orders SET give_remaining = ?, get_remaining = ?, status = CASE WHEN give_remaining <= 0 THEN 'filled' ELSE status END
			 WHERE tx_index = ?`,
			old.GiveRemaining, old.GetRemaining, old.TxIndex,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("update matched order: %w", err)}
		}

		if _, err := db.Exec(
			`UPDATE orders SET give_remaining = ?, get_remaining = ?, status = CASE WHEN give_remaining <= 0 THEN 'filled' ELSE status END
			 WHERE tx_index = ?`,
			newOrder.GiveRemaining, newOrder.GetRemaining, newOrder.TxIndex,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("update new order: %w", err)}
		}
	}

	return nil
}

// settleOrderMatch writes the order_match row and, for non-NATIVE pairs,
// moves the already-escrowed assets immediately. NATIVE-denominated
// legs are never escrowed (nothing is debited for them at order-open
// time) so the match starts 'pending' until a btcpay message settles it.
func settleOrderMatch(db *sql.Tx, l *ledger.Ledger, blockIndex int64, newOrder, old *Order, forward, backward int64) error {
	isNativePair := newOrder.GiveAsset == protocol.NativeSymbol || newOrder.GetAsset == protocol.NativeSymbol
	validity := "valid"
	if isNativePair {
		validity = "pending"
	}

	expireIndex := blockIndex + min64(old.Expiration, newOrder.Expiration)

	id := matchID(old.TxHash, newOrder.TxHash, old.TxIndex, newOrder.TxIndex)

	_, err := db.Exec(
		`INSERT INTO order_matches
		 (id, tx0_index, tx1_index, tx0_hash, tx1_hash, tx0_address, tx1_address,
		  forward_asset, forward_amount, backward_asset, backward_amount,
		  block_index, match_expire_index, validity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, old.TxIndex, newOrder.TxIndex, old.TxHash, newOrder.TxHash, old.Source, newOrder.Source,
		newOrder.GiveAsset, forward, old.GiveAsset, backward,
		blockIndex, expireIndex, validity,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("insert order_match: %w", err)}
	}

	if !isNativePair {
		event := fmt.Sprintf("order_match:%s", id)
		if err := l.Credit(blockIndex, old.Source, newOrder.GiveAsset, forward, event); err != nil {
			return err
		}
		if err := l.Credit(blockIndex, newOrder.Source, old.GiveAsset, backward, event); err != nil {
			return err
		}
	}

	return nil
}

// matchID is the network-wide order_match identifier: the raw
// concatenation of the two transaction hashes in tx_index arrival
// order (earlier order first). Fixed here per the decision recorded for
// the protocol's order-match-id open question.
func matchID(hashA, hashB string, idxA, idxB int64) string {
	if idxA <= idxB {
		return hashA + hashB
	}
	return hashB + hashA
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
