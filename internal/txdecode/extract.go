package txdecode

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/chancecoin/xcpd/internal/protocol"
)

// RawTx is the minimal shape the extractor needs from a decoded chain
// transaction. It mirrors chainclient.RawTransaction so this package
// doesn't need to import the RPC client.
type RawTx struct {
	TxID string
	Vin  []RawTxInput
	Vout []RawTxOutput
}

type RawTxInput struct {
	TxID     string
	Vout     uint32
	Coinbase string
}

type RawTxOutput struct {
	Value           float64
	ScriptPubKeyHex string
}

// TxFetcher resolves a previous transaction by id, used to look up the
// script and value an input spends.
type TxFetcher interface {
	GetRawTransaction(ctx context.Context, txid string) (*RawTx, error)
}

// Extracted is the (source, destination, native_amount, fee, payload)
// tuple the extractor produces for one transaction (§4.1). A nil
// Extracted (with no error) means the transaction carries no protocol
// message and must not be written to the transactions table.
type Extracted struct {
	Source       string
	Destination  string
	NativeAmount int64
	Fee          int64
	Data         []byte
}

// Extractor decodes chain transactions into the protocol's extracted
// tuple.
type Extractor struct {
	params      *chaincfg.Params
	fetcher     TxFetcher
	unspendable string
}

// NewExtractor builds an Extractor for the given network params. fetcher
// is used to resolve the scripts and values an input's previous outputs.
func NewExtractor(params *chaincfg.Params, fetcher TxFetcher, unspendableAddress string) *Extractor {
	return &Extractor{params: params, fetcher: fetcher, unspendable: unspendableAddress}
}

// Extract applies §4.1 to tx. Returns (nil, nil) for transactions that
// carry no protocol message and must be silently skipped.
func (e *Extractor) Extract(ctx context.Context, tx *RawTx) (*Extracted, error) {
	source, fee, err := e.resolveInputs(ctx, tx)
	if err != nil {
		// Rejection, not a hard error: the transaction simply isn't ours.
		return nil, nil //nolint:nilerr
	}

	destination, nativeAmount, data := e.scanOutputs(tx)

	isBurn := destination == e.unspendable
	if !isBurn {
		if !bytes.HasPrefix(data, protocol.PREFIX) {
			// No recognizable message and not a burn: nothing to record.
			return nil, nil
		}
		data = data[len(protocol.PREFIX):]
	}

	if len(data) == 0 && !isBurn {
		return nil, nil
	}

	return &Extracted{
		Source:       source,
		Destination:  destination,
		NativeAmount: nativeAmount,
		Fee:          fee,
		Data:         data,
	}, nil
}

// resolveInputs walks every input, rejecting coinbase transactions,
// transactions whose inputs spend non-P2PKH outputs, and transactions
// whose inputs don't all originate from the same address. Returns the
// single common source address and the fee (sum of input values minus
// sum of output values).
func (e *Extractor) resolveInputs(ctx context.Context, tx *RawTx) (source string, fee int64, err error) {
	if len(tx.Vin) == 0 {
		return "", 0, fmt.Errorf("no inputs")
	}

	var inputsTotal int64
	for _, vin := range tx.Vin {
		if vin.Coinbase != "" {
			return "", 0, fmt.Errorf("coinbase input")
		}

		prevTx, ferr := e.fetcher.GetRawTransaction(ctx, vin.TxID)
		if ferr != nil {
			return "", 0, fmt.Errorf("resolve prevout %s:%d: %w", vin.TxID, vin.Vout, ferr)
		}
		if int(vin.Vout) >= len(prevTx.Vout) {
			return "", 0, fmt.Errorf("vout %d out of range for %s", vin.Vout, vin.TxID)
		}
		prevOut := prevTx.Vout[vin.Vout]

		script, serr := hex.DecodeString(prevOut.ScriptPubKeyHex)
		if serr != nil {
			return "", 0, fmt.Errorf("bad prevout script: %w", serr)
		}
		decoded, derr := DecodeScript(script, e.params)
		if derr != nil || decoded.Address == "" {
			return "", 0, fmt.Errorf("prevout %s:%d is not a p2pkh output", vin.TxID, vin.Vout)
		}

		if source == "" {
			source = decoded.Address
		} else if source != decoded.Address {
			return "", 0, fmt.Errorf("inputs originate from multiple addresses")
		}

		inputsTotal += protocol.FloatToBaseUnits(prevOut.Value)
	}

	var outputsTotal int64
	for _, vout := range tx.Vout {
		outputsTotal += protocol.FloatToBaseUnits(vout.Value)
	}

	return source, inputsTotal - outputsTotal, nil
}

// scanOutputs walks outputs in order: the first P2PKH output seen before
// any payload chunk has accumulated becomes the destination; every
// OP_RETURN or bare-multisig chunk found (before or after) is concatenated
// in output order to form the payload.
func (e *Extractor) scanOutputs(tx *RawTx) (destination string, nativeAmount int64, data []byte) {
	haveChunk := false
	for _, vout := range tx.Vout {
		script, err := hex.DecodeString(vout.ScriptPubKeyHex)
		if err != nil {
			continue
		}
		decoded, err := DecodeScript(script, e.params)
		if err != nil {
			continue
		}
		if decoded.Address != "" && !haveChunk && destination == "" {
			destination = decoded.Address
			nativeAmount = protocol.FloatToBaseUnits(vout.Value)
			continue
		}
		if len(decoded.Chunk) > 0 {
			data = append(data, decoded.Chunk...)
			haveChunk = true
		}
	}
	return destination, nativeAmount, data
}
