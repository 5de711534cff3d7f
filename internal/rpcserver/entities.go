package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chancecoin/xcpd/internal/filterquery"
)

// entityDef pairs a filterquery.Entity with the SELECT column list used
// to scan its rows into a generic map, and the column to order by when
// the caller specifies none.
type entityDef struct {
	name          string
	entity        filterquery.Entity
	columns       []string
	defaultOrder  string
}

var entityRegistry = []entityDef{
	{
		name: "transactions",
		entity: filterquery.Entity{Table: "transactions", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source",
			"destination": "destination", "supported": "supported",
		}},
		columns:      []string{"tx_index", "tx_hash", "block_index", "source", "destination", "native_amount", "fee", "supported"},
		defaultOrder: "tx_index",
	},
	{
		name: "sends",
		entity: filterquery.Entity{Table: "sends", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source",
			"destination": "destination", "asset": "asset", "amount": "amount",
		}},
		columns:      []string{"tx_index", "block_index", "source", "destination", "asset", "amount", "validity"},
		defaultOrder: "tx_index",
	},
	{
		name: "burns",
		entity: filterquery.Entity{Table: "burns", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source",
			"burned": "burned", "earned": "earned",
		}},
		columns:      []string{"tx_index", "block_index", "source", "burned", "earned", "validity"},
		defaultOrder: "tx_index",
	},
	{
		name: "orders",
		entity: filterquery.Entity{Table: "orders", ValidityField: "status", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source",
			"give_asset": "give_asset", "get_asset": "get_asset", "status": "status",
		}},
		columns: []string{
			"tx_index", "tx_hash", "block_index", "source", "give_asset", "give_amount", "give_remaining",
			"get_asset", "get_amount", "get_remaining", "expiration", "expire_index", "fee_required",
			"status", "validity",
		},
		defaultOrder: "tx_index",
	},
	{
		name: "order_matches",
		entity: filterquery.Entity{Table: "order_matches", Fields: map[string]string{
			"tx0_address": "tx0_address", "tx1_address": "tx1_address",
			"forward_asset": "forward_asset", "backward_asset": "backward_asset",
			"block_index": "block_index",
		}},
		columns: []string{
			"id", "tx0_index", "tx1_index", "tx0_address", "tx1_address",
			"forward_asset", "forward_amount", "backward_asset", "backward_amount",
			"block_index", "match_expire_index", "validity",
		},
		defaultOrder: "block_index",
	},
	{
		name: "bets",
		entity: filterquery.Entity{Table: "bets", ValidityField: "status", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source",
			"feed_address": "feed_address", "bet_type": "bet_type", "status": "status",
		}},
		columns: []string{
			"tx_index", "tx_hash", "block_index", "source", "feed_address", "bet_type", "deadline",
			"wager_amount", "wager_remaining", "counterwager_amount", "counterwager_remaining",
			"target_value", "leverage", "expiration", "expire_index", "status", "validity",
		},
		defaultOrder: "tx_index",
	},
	{
		name: "bet_matches",
		entity: filterquery.Entity{Table: "bet_matches", Fields: map[string]string{
			"tx0_address": "tx0_address", "tx1_address": "tx1_address", "feed_address": "feed_address",
			"block_index": "block_index",
		}},
		columns: []string{
			"id", "tx0_index", "tx1_index", "tx0_address", "tx1_address", "feed_address",
			"initial_value", "deadline", "target_value", "leverage",
			"forward_amount", "backward_amount", "block_index", "match_expire_index", "validity",
		},
		defaultOrder: "block_index",
	},
	{
		name: "broadcasts",
		entity: filterquery.Entity{Table: "broadcasts", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source",
		}},
		columns:      []string{"tx_index", "block_index", "source", "timestamp", "value", "fee_fraction_int", "text", "locked", "validity"},
		defaultOrder: "tx_index",
	},
	{
		name: "issuances",
		entity: filterquery.Entity{Table: "issuances", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source", "asset": "asset",
		}},
		columns: []string{
			"tx_index", "block_index", "source", "asset", "amount", "divisible",
			"callable", "call_date", "call_price", "description", "validity",
		},
		defaultOrder: "tx_index",
	},
	{
		name: "dividends",
		entity: filterquery.Entity{Table: "dividends", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source", "asset": "asset",
		}},
		columns:      []string{"tx_index", "block_index", "source", "asset", "dividend_asset", "amount_per_unit", "fee_paid", "validity"},
		defaultOrder: "tx_index",
	},
	{
		name: "cancels",
		entity: filterquery.Entity{Table: "cancels", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source",
		}},
		columns:      []string{"tx_index", "block_index", "source", "offer_hash", "validity"},
		defaultOrder: "tx_index",
	},
	{
		name: "btcpays",
		entity: filterquery.Entity{Table: "btcpays", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source", "order_match_id": "order_match_id",
		}},
		columns:      []string{"tx_index", "block_index", "source", "order_match_id", "validity"},
		defaultOrder: "tx_index",
	},
	{
		name: "callbacks",
		entity: filterquery.Entity{Table: "callbacks", Fields: map[string]string{
			"tx_index": "tx_index", "block_index": "block_index", "source": "source", "asset": "asset",
		}},
		columns:      []string{"tx_index", "block_index", "source", "asset", "fraction", "validity"},
		defaultOrder: "tx_index",
	},
	{
		name: "balances",
		entity: filterquery.Entity{Table: "balances", Fields: map[string]string{
			"address": "address", "asset": "asset",
		}},
		columns:      []string{"address", "asset", "balance"},
		defaultOrder: "address",
	},
}

// getEntityParams is the shared shape of every get_<entity> call's params.
type getEntityParams struct {
	Filters    []filterquery.Filter   `json:"filters"`
	FilterOp   filterquery.Combinator `json:"filterop"`
	Validity   string                 `json:"validity"`
	OrderBy    string                 `json:"order_by"`
	OrderDir   string                 `json:"order_dir"`
	StartBlock int64                  `json:"start_block"`
	EndBlock   int64                  `json:"end_block"`
}

func (s *Server) makeGetEntityHandler(def entityDef) Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p getEntityParams
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("bad params: %w", err)
			}
		}

		q := filterquery.Query{
			Filters:    p.Filters,
			FilterOp:   p.FilterOp,
			Validity:   p.Validity,
			OrderBy:    p.OrderBy,
			OrderDir:   p.OrderDir,
			StartBlock: p.StartBlock,
			EndBlock:   p.EndBlock,
		}
		if q.OrderBy == "" {
			q.OrderBy = def.defaultOrder
		}

		where, args, err := filterquery.Compile(def.entity, q)
		if err != nil {
			return nil, err
		}
		orderClause, err := filterquery.CompileOrderBy(def.entity, q)
		if err != nil {
			return nil, err
		}

		query := "SELECT " + columnList(def.columns) + " FROM " + def.entity.Table
		if where != "" {
			query += " WHERE " + where
		}
		if orderClause != "" {
			query += " " + orderClause
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		results, err := scanRowsToMaps(rows, def.columns)
		if err != nil {
			return nil, err
		}
		return results, nil
	}
}

func columnList(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
