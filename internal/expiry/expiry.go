// Package expiry implements per-block expiration of unmatched orders
// and bets and of unsettled matches (§4.5). It runs at the start of each
// block's parse, before any transaction in that block is dispatched.
package expiry

import (
	"database/sql"
	"fmt"

	"github.com/chancecoin/xcpd/internal/ledger"
	"github.com/chancecoin/xcpd/internal/protocol"
)

// Run expires every order/bet whose expire_index has been reached and
// every unsettled match whose match_expire_index has been reached (an
// order_match still 'pending', a bet_match still 'valid'), crediting back
// whatever remains in escrow.
func Run(db *sql.Tx, l *ledger.Ledger, blockIndex int64) error {
	if err := expireOrders(db, l, blockIndex); err != nil {
		return err
	}
	if err := expireOrderMatches(db, l, blockIndex); err != nil {
		return err
	}
	if err := expireBets(db, l, blockIndex); err != nil {
		return err
	}
	if err := expireBetMatches(db, l, blockIndex); err != nil {
		return err
	}
	return nil
}

func expireOrders(db *sql.Tx, l *ledger.Ledger, blockIndex int64) error {
	rows, err := db.Query(
		`SELECT tx_index, source, give_asset, give_remaining FROM orders
		 WHERE status = 'open' AND validity = 'valid' AND expire_index <= ? AND give_remaining > 0`,
		blockIndex,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("query expiring orders: %w", err)}
	}
	type row struct {
		txIndex       int64
		source        string
		giveAsset     string
		giveRemaining int64
	}
	var expiring []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.txIndex, &r.source, &r.giveAsset, &r.giveRemaining); err != nil {
			rows.Close()
			return &protocol.DatabaseError{Err: fmt.Errorf("scan expiring order: %w", err)}
		}
		expiring = append(expiring, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, r := range expiring {
		if r.giveAsset != protocol.NativeSymbol {
			if err := l.Credit(blockIndex, r.source, r.giveAsset, r.giveRemaining, "order_expiration"); err != nil {
				return err
			}
		}
		if _, err := db.Exec(
			`INSERT INTO order_expirations (order_index, source, block_index) VALUES (?, ?, ?)`,
			r.txIndex, r.source, blockIndex,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("insert order_expiration: %w", err)}
		}
		if _, err := db.Exec(`UPDATE orders SET status = 'expired' WHERE tx_index = ?`, r.txIndex); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("mark order expired: %w", err)}
		}
	}
	return nil
}

func expireOrderMatches(db *sql.Tx, l *ledger.Ledger, blockIndex int64) error {
	rows, err := db.Query(
		`SELECT id, tx0_address, tx1_address, forward_asset, forward_amount, backward_asset, backward_amount
		 FROM order_matches WHERE validity = 'pending' AND match_expire_index <= ?`,
		blockIndex,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("query expiring order matches: %w", err)}
	}
	type row struct {
		id                                           string
		tx0Address, tx1Address                       string
		forwardAsset, backwardAsset                   string
		forwardAmount, backwardAmount                 int64
	}
	var expiring []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.tx0Address, &r.tx1Address, &r.forwardAsset, &r.forwardAmount, &r.backwardAsset, &r.backwardAmount); err != nil {
			rows.Close()
			return &protocol.DatabaseError{Err: fmt.Errorf("scan expiring order match: %w", err)}
		}
		expiring = append(expiring, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, r := range expiring {
		// The NATIVE leg was never escrowed, so nothing is forfeited for
		// it; the party who escrowed the counter-asset gets it back. The
		// forward leg was escrowed by tx1 and the backward leg by tx0.
		if r.forwardAsset != protocol.NativeSymbol {
			if err := l.Credit(blockIndex, r.tx1Address, r.forwardAsset, r.forwardAmount, "order_match_expiration:"+r.id); err != nil {
				return err
			}
		}
		if r.backwardAsset != protocol.NativeSymbol {
			if err := l.Credit(blockIndex, r.tx0Address, r.backwardAsset, r.backwardAmount, "order_match_expiration:"+r.id); err != nil {
				return err
			}
		}
		if _, err := db.Exec(
			`INSERT INTO order_match_expirations (order_match_id, tx0_address, tx1_address, block_index) VALUES (?, ?, ?, ?)`,
			r.id, r.tx0Address, r.tx1Address, blockIndex,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("insert order_match_expiration: %w", err)}
		}
		if _, err := db.Exec(`UPDATE order_matches SET validity = 'expired' WHERE id = ?`, r.id); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("mark order_match expired: %w", err)}
		}
	}
	return nil
}

func expireBets(db *sql.Tx, l *ledger.Ledger, blockIndex int64) error {
	rows, err := db.Query(
		`SELECT tx_index, source, wager_remaining FROM bets
		 WHERE status = 'open' AND validity = 'valid' AND expire_index <= ? AND wager_remaining > 0`,
		blockIndex,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("query expiring bets: %w", err)}
	}
	type row struct {
		txIndex        int64
		source         string
		wagerRemaining int64
	}
	var expiring []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.txIndex, &r.source, &r.wagerRemaining); err != nil {
			rows.Close()
			return &protocol.DatabaseError{Err: fmt.Errorf("scan expiring bet: %w", err)}
		}
		expiring = append(expiring, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, r := range expiring {
		if err := l.Credit(blockIndex, r.source, protocol.XCPSymbol, r.wagerRemaining, "bet_expiration"); err != nil {
			return err
		}
		if _, err := db.Exec(
			`INSERT INTO bet_expirations (bet_index, source, block_index) VALUES (?, ?, ?)`,
			r.txIndex, r.source, blockIndex,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("insert bet_expiration: %w", err)}
		}
		if _, err := db.Exec(`UPDATE bets SET status = 'expired' WHERE tx_index = ?`, r.txIndex); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("mark bet expired: %w", err)}
		}
	}
	return nil
}

func expireBetMatches(db *sql.Tx, l *ledger.Ledger, blockIndex int64) error {
	rows, err := db.Query(
		`SELECT id, tx0_address, tx1_address, forward_amount, backward_amount
		 FROM bet_matches WHERE validity = 'valid' AND match_expire_index <= ?`,
		blockIndex,
	)
	if err != nil {
		return &protocol.DatabaseError{Err: fmt.Errorf("query expiring bet matches: %w", err)}
	}
	type row struct {
		id                             string
		tx0Address, tx1Address         string
		forwardAmount, backwardAmount  int64
	}
	var expiring []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.tx0Address, &r.tx1Address, &r.forwardAmount, &r.backwardAmount); err != nil {
			rows.Close()
			return &protocol.DatabaseError{Err: fmt.Errorf("scan expiring bet match: %w", err)}
		}
		expiring = append(expiring, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &protocol.DatabaseError{Err: err}
	}

	for _, r := range expiring {
		// forward_amount came from tx1's wager, backward_amount from tx0's.
		if err := l.Credit(blockIndex, r.tx1Address, protocol.XCPSymbol, r.forwardAmount, "bet_match_expiration:"+r.id); err != nil {
			return err
		}
		if err := l.Credit(blockIndex, r.tx0Address, protocol.XCPSymbol, r.backwardAmount, "bet_match_expiration:"+r.id); err != nil {
			return err
		}
		if _, err := db.Exec(
			`INSERT INTO bet_match_expirations (bet_match_id, tx0_address, tx1_address, block_index) VALUES (?, ?, ?, ?)`,
			r.id, r.tx0Address, r.tx1Address, blockIndex,
		); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("insert bet_match_expiration: %w", err)}
		}
		if _, err := db.Exec(`UPDATE bet_matches SET validity = 'expired' WHERE id = ?`, r.id); err != nil {
			return &protocol.DatabaseError{Err: fmt.Errorf("mark bet_match expired: %w", err)}
		}
	}
	return nil
}
