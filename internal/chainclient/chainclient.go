// Package chainclient is a thin adapter over the external full node's
// JSON-RPC surface. It exposes the four queries the follower and
// extractor need (§6): block count, block hash, block contents, and
// decoded raw transactions, plus SendRawTransaction, which the RPC
// server's transmit method uses to broadcast an already-signed
// transaction. It never signs anything.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chancecoin/xcpd/internal/protocol"
)

// Client talks to a Bitcoin-Core-style JSON-RPC node over HTTP Basic auth.
type Client struct {
	url        string
	user       string
	pass       string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// Config configures a Client.
type Config struct {
	URL     string
	User    string
	Pass    string
	Timeout time.Duration
}

// New creates a new chain client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		user:       cfg.User,
		pass:       cfg.Pass,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Block is the decoded structure returned by getblock.
type Block struct {
	Hash string   `json:"hash"`
	Time uint32   `json:"time"`
	Tx   []string `json:"tx"`
}

// TxInput is one input of a decoded transaction.
type TxInput struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Coinbase string `json:"coinbase,omitempty"`
}

// TxOutput is one output of a decoded transaction.
type TxOutput struct {
	Value        float64 `json:"value"`
	ScriptPubKey struct {
		Asm string `json:"asm"`
		Hex string `json:"hex"`
	} `json:"scriptPubKey"`
}

// RawTransaction is the decoded structure returned by getrawtransaction
// with verbose=1.
type RawTransaction struct {
	TxID    string     `json:"txid"`
	Vin     []TxInput  `json:"vin"`
	Vout    []TxOutput `json:"vout"`
}

// GetBlockCount returns the height of the chain tip.
func (c *Client) GetBlockCount(ctx context.Context) (uint32, error) {
	result, err := c.call(ctx, "getblockcount", []interface{}{})
	if err != nil {
		return 0, &protocol.ChainRPCError{Err: err}
	}
	var height uint32
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, &protocol.ChainRPCError{Err: err}
	}
	return height, nil
}

// GetBlockHash returns the block hash at the given height.
func (c *Client) GetBlockHash(ctx context.Context, height uint32) (string, error) {
	result, err := c.call(ctx, "getblockhash", []interface{}{height})
	if err != nil {
		return "", &protocol.ChainRPCError{Err: err}
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", &protocol.ChainRPCError{Err: err}
	}
	return hash, nil
}

// GetBlock returns the decoded block for the given hash.
func (c *Client) GetBlock(ctx context.Context, hash string) (*Block, error) {
	result, err := c.call(ctx, "getblock", []interface{}{hash})
	if err != nil {
		return nil, &protocol.ChainRPCError{Err: err}
	}
	var block Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, &protocol.ChainRPCError{Err: err}
	}
	return &block, nil
}

// GetRawTransaction returns the decoded transaction for txid.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (*RawTransaction, error) {
	result, err := c.call(ctx, "getrawtransaction", []interface{}{txid, 1})
	if err != nil {
		return nil, &protocol.ChainRPCError{Err: err}
	}
	var tx RawTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, &protocol.ChainRPCError{Err: err}
	}
	return &tx, nil
}

// SendRawTransaction broadcasts a signed raw transaction and returns its txid.
func (c *Client) SendRawTransaction(ctx context.Context, hexTx string) (string, error) {
	result, err := c.call(ctx, "sendrawtransaction", []interface{}{hexTx})
	if err != nil {
		return "", &protocol.ChainRPCError{Err: err}
	}
	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", &protocol.ChainRPCError{Err: err}
	}
	return txid, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}
