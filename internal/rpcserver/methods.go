package rpcserver

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/chancecoin/xcpd/internal/protocol"
	"github.com/chancecoin/xcpd/internal/schema"
	"github.com/chancecoin/xcpd/internal/txcompose"
	"github.com/chancecoin/xcpd/pkg/helpers"
)

func (s *Server) getAssetInfo(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Asset string `json:"asset"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT source, amount, divisible, callable, call_date, call_price, description
		 FROM issuances WHERE asset = ? AND validity = 'valid' ORDER BY tx_index DESC LIMIT 1`,
		p.Asset,
	)
	var issuer, description string
	var amount int64
	var divisible, callable int
	var callDate int64
	var callPrice float64
	if err := row.Scan(&issuer, &amount, &divisible, &callable, &callDate, &callPrice, &description); err != nil {
		return nil, fmt.Errorf("asset %s: %w", p.Asset, err)
	}

	var supply int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM issuances WHERE asset = ? AND validity = 'valid'`, p.Asset,
	).Scan(&supply); err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"asset":       p.Asset,
		"issuer":      issuer,
		"divisible":   divisible != 0,
		"callable":    callable != 0,
		"call_date":   callDate,
		"call_price":  callPrice,
		"description": description,
		"supply":      supply,
	}
	if divisible != 0 {
		result["supply_normalized"] = helpers.FormatAmount(uint64(supply), 8)
	}
	return result, nil
}

func (s *Server) getAssetNames(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT asset FROM issuances WHERE validity = 'valid' ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Server) getBlockInfo(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		BlockIndex int64 `json:"block_index"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	var hash string
	var blockTime int64
	err := s.db.QueryRowContext(ctx, `SELECT block_hash, block_time FROM blocks WHERE block_index = ?`, p.BlockIndex).
		Scan(&hash, &blockTime)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"block_index": p.BlockIndex,
		"block_hash":  hash,
		"block_time":  blockTime,
	}, nil
}

func (s *Server) getRunningInfo(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var lastBlock sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(block_index) FROM blocks`).Scan(&lastBlock); err != nil {
		return nil, err
	}
	major, minor, err := schema.StoredVersion(s.db)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"last_block":    lastBlock.Int64,
		"version_major": major,
		"version_minor": minor,
	}, nil
}

func (s *Server) getElementCounts(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	tables := []string{
		"blocks", "transactions", "sends", "burns", "orders", "order_matches",
		"bets", "bet_matches", "broadcasts", "issuances", "dividends", "cancels", "btcpays", "callbacks",
	}
	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

func (s *Server) getMessages(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		BlockIndex int64 `json:"block_index"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_index, category, command, bindings FROM messages WHERE block_index = ? ORDER BY message_index ASC`,
		p.BlockIndex,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRowsToMaps(rows, []string{"message_index", "category", "command", "bindings"})
}

func (s *Server) xcpSupply(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var burned int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(earned),0) FROM burns WHERE validity = 'valid'`,
	).Scan(&burned); err != nil {
		return nil, err
	}
	return burned, nil
}

// composeParams is the shared shape of create_<type> params: the funding
// inputs and destination/change the caller has already selected, plus
// the type-specific message fields.
type composeParams struct {
	Inputs           []txcompose.Input `json:"inputs"`
	Destination      string            `json:"destination"`
	DestinationValue int64             `json:"destination_value"`
	ChangeAddress    string            `json:"change_address"`
	ChangeValue      int64             `json:"change_value"`
}

func (s *Server) createSend(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		Asset       string `json:"asset"`
		Amount      uint64 `json:"amount"`
		QuantityStr string `json:"quantity,omitempty"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	assetID, err := protocol.AssetNameToID(p.Asset)
	if err != nil {
		return nil, err
	}
	amount := p.Amount
	if p.QuantityStr != "" {
		amount, err = helpers.ParseAmount(p.QuantityStr, 8)
		if err != nil {
			return nil, fmt.Errorf("quantity: %w", err)
		}
	}
	body := protocol.SendMessage{AssetID: assetID, Amount: amount}.Encode()
	return s.compose(p.composeParams, protocol.MessageTypeSend, body)
}

func (s *Server) createOrder(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		GiveAsset   string `json:"give_asset"`
		GiveAmount  uint64 `json:"give_amount"`
		GetAsset    string `json:"get_asset"`
		GetAmount   uint64 `json:"get_amount"`
		Expiration  uint16 `json:"expiration"`
		FeeRequired uint64 `json:"fee_required"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	giveID, err := protocol.AssetNameToID(p.GiveAsset)
	if err != nil {
		return nil, err
	}
	getID, err := protocol.AssetNameToID(p.GetAsset)
	if err != nil {
		return nil, err
	}
	body := protocol.OrderMessage{
		GiveAsset: giveID, GiveAmount: p.GiveAmount,
		GetAsset: getID, GetAmount: p.GetAmount,
		Expiration: p.Expiration, FeeRequired: p.FeeRequired,
	}.Encode()
	return s.compose(p.composeParams, protocol.MessageTypeOrder, body)
}

func (s *Server) createBet(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		BetType      uint16  `json:"bet_type"`
		Deadline     uint32  `json:"deadline"`
		Wager        uint64  `json:"wager"`
		Counterwager uint64  `json:"counterwager"`
		TargetValue  float64 `json:"target_value"`
		Leverage     uint16  `json:"leverage"`
		Expiration   uint16  `json:"expiration"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	body := protocol.BetMessage{
		BetType: protocol.BetType(p.BetType), Deadline: p.Deadline,
		Wager: p.Wager, Counterwager: p.Counterwager,
		TargetValue: p.TargetValue, Leverage: p.Leverage, Expiration: p.Expiration,
	}.Encode()
	return s.compose(p.composeParams, protocol.MessageTypeBet, body)
}

func (s *Server) createIssuance(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		Asset       string  `json:"asset"`
		Amount      uint64  `json:"amount"`
		Divisible   bool    `json:"divisible"`
		Callable    bool    `json:"callable"`
		CallDate    uint32  `json:"call_date"`
		CallPrice   float32 `json:"call_price"`
		Description string  `json:"description"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	assetID, err := protocol.AssetNameToID(p.Asset)
	if err != nil {
		return nil, err
	}
	body, err := protocol.IssuanceMessage{
		AssetID: assetID, Amount: p.Amount, Divisible: p.Divisible,
		Callable: p.Callable, CallDate: p.CallDate, CallPrice: p.CallPrice,
		Description: p.Description,
	}.Encode()
	if err != nil {
		return nil, err
	}
	return s.compose(p.composeParams, protocol.MessageTypeIssuance, body)
}

func (s *Server) createBroadcast(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		Timestamp      uint32  `json:"timestamp"`
		Value          float64 `json:"value"`
		FeeFractionInt uint32  `json:"fee_fraction_int"`
		Text           string  `json:"text"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	body, err := protocol.BroadcastMessage{
		Timestamp: p.Timestamp, Value: p.Value, FeeFractionInt: p.FeeFractionInt, Text: p.Text,
	}.Encode()
	if err != nil {
		return nil, err
	}
	return s.compose(p.composeParams, protocol.MessageTypeBroadcast, body)
}

func (s *Server) createBTCPay(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		Tx0Hash string `json:"tx0_hash"`
		Tx1Hash string `json:"tx1_hash"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	var tx0, tx1 [32]byte
	if err := decodeHash32(p.Tx0Hash, &tx0); err != nil {
		return nil, err
	}
	if err := decodeHash32(p.Tx1Hash, &tx1); err != nil {
		return nil, err
	}
	body := protocol.BTCPayMessage{Tx0Hash: tx0, Tx1Hash: tx1}.Encode()
	return s.compose(p.composeParams, protocol.MessageTypeBTCPay, body)
}

func (s *Server) createCancel(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		OfferHash string `json:"offer_hash"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	var offerHash [32]byte
	if err := decodeHash32(p.OfferHash, &offerHash); err != nil {
		return nil, err
	}
	body := protocol.CancelMessage{OfferHash: offerHash}.Encode()
	return s.compose(p.composeParams, protocol.MessageTypeCancel, body)
}

// createDividend always pays in XCP: the dividend message carries no
// separate dividend-asset field (§4's dividend handler always destroys
// and redistributes XCP regardless of which asset's holders are paid).
func (s *Server) createDividend(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		Asset         string `json:"asset"`
		AmountPerUnit uint64 `json:"amount_per_unit"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	assetID, err := protocol.AssetNameToID(p.Asset)
	if err != nil {
		return nil, err
	}
	body := protocol.DividendMessage{AssetID: assetID, AmountPerUnit: p.AmountPerUnit}.Encode()
	return s.compose(p.composeParams, protocol.MessageTypeDividend, body)
}

func (s *Server) createCallback(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		composeParams
		Asset    string  `json:"asset"`
		Fraction float64 `json:"fraction"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	assetID, err := protocol.AssetNameToID(p.Asset)
	if err != nil {
		return nil, err
	}
	body := protocol.CallbackMessage{Fraction: p.Fraction, AssetID: assetID}.Encode()
	return s.compose(p.composeParams, protocol.MessageTypeCallback, body)
}

func (s *Server) transmit(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		SignedHex string `json:"signed_hex"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bad params: %w", err)
	}
	return s.chain.SendRawTransaction(ctx, p.SignedHex)
}

func (s *Server) compose(p composeParams, typeID uint32, body []byte) (interface{}, error) {
	payload := append(protocol.TypeIDBytes(typeID), body...)
	hexTx, err := txcompose.Build(txcompose.Request{
		Inputs:           p.Inputs,
		Destination:      p.Destination,
		DestinationValue: p.DestinationValue,
		ChangeAddress:    p.ChangeAddress,
		ChangeValue:      p.ChangeValue,
		Payload:          payload,
	}, s.params)
	if err != nil {
		return nil, err
	}
	return map[string]string{"rawtransaction": hexTx}, nil
}

func decodeHash32(hexStr string, out *[32]byte) error {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return fmt.Errorf("hash must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return nil
}
