package follower

import (
	"context"

	"github.com/chancecoin/xcpd/internal/chainclient"
	"github.com/chancecoin/xcpd/internal/txdecode"
)

// ChainAdapter wraps a chainclient.Client to satisfy ChainClient and
// txdecode.TxFetcher, translating the RPC client's wire types into the
// shapes the follower and extractor consume.
type ChainAdapter struct {
	client *chainclient.Client
}

// NewChainAdapter builds a ChainAdapter over an already-configured client.
func NewChainAdapter(client *chainclient.Client) *ChainAdapter {
	return &ChainAdapter{client: client}
}

func (a *ChainAdapter) GetBlockCount(ctx context.Context) (uint32, error) {
	return a.client.GetBlockCount(ctx)
}

func (a *ChainAdapter) GetBlockHash(ctx context.Context, height uint32) (string, error) {
	return a.client.GetBlockHash(ctx, height)
}

func (a *ChainAdapter) GetBlock(ctx context.Context, hash string) (*ChainBlock, error) {
	block, err := a.client.GetBlock(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &ChainBlock{Hash: block.Hash, Time: block.Time, Tx: block.Tx}, nil
}

func (a *ChainAdapter) GetRawTransaction(ctx context.Context, txid string) (*txdecode.RawTx, error) {
	raw, err := a.client.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	vin := make([]txdecode.RawTxInput, len(raw.Vin))
	for i, in := range raw.Vin {
		vin[i] = txdecode.RawTxInput{TxID: in.TxID, Vout: in.Vout, Coinbase: in.Coinbase}
	}
	vout := make([]txdecode.RawTxOutput, len(raw.Vout))
	for i, out := range raw.Vout {
		vout[i] = txdecode.RawTxOutput{Value: out.Value, ScriptPubKeyHex: out.ScriptPubKey.Hex}
	}
	return &txdecode.RawTx{TxID: raw.TxID, Vin: vin, Vout: vout}, nil
}
