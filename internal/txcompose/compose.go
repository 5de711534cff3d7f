// Package txcompose builds the unsigned raw transactions the write API's
// create_<type> methods hand back to callers (§6). Composition embeds
// the payload as a single OP_RETURN output carrying PREFIX + encoded
// message; the caller is responsible for selecting inputs, paying the
// fee, and signing before calling transmit.
package txcompose

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/chancecoin/xcpd/internal/protocol"
)

// Input is an outpoint the caller has already selected to fund the
// transaction. Composition does not perform coin selection; that is the
// wallet's job.
type Input struct {
	TxID string
	Vout uint32
}

// Request is everything composition needs to build one transaction: the
// funding inputs, the destination (for sends/orders this is the
// counterparty; for issuances/broadcasts it is conventionally the
// source itself), how much NATIVE value to carry to that destination,
// a change address/amount, and the encoded message payload.
type Request struct {
	Inputs           []Input
	Destination      string
	DestinationValue int64
	ChangeAddress    string
	ChangeValue      int64
	Payload          []byte
}

// Build composes an unsigned transaction for req against params and
// returns it hex-encoded, ready for signing and transmit. Output order
// is destination, then data carrier, then change, matching the
// extractor's rule (§4.1) that the destination is the first P2PKH output
// not preceded by a data chunk — so destination must come before the
// OP_RETURN output, and change after it.
func Build(req Request, params *chaincfg.Params) (string, error) {
	if len(req.Inputs) == 0 {
		return "", fmt.Errorf("txcompose: at least one input is required")
	}
	if len(req.Payload) == 0 {
		return "", fmt.Errorf("txcompose: empty payload")
	}

	tx := wire.NewMsgTx(wire.TxVersion)

	for _, in := range req.Inputs {
		hash, err := chainhashFromHex(in.TxID)
		if err != nil {
			return "", fmt.Errorf("txcompose: bad input txid %s: %w", in.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil))
	}

	if req.Destination != "" {
		addr, err := btcutil.DecodeAddress(req.Destination, params)
		if err != nil {
			return "", fmt.Errorf("txcompose: decode destination %s: %w", req.Destination, err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return "", fmt.Errorf("txcompose: destination script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(req.DestinationValue, script))
	}

	dataScript, err := txscript.NullDataScript(append(append([]byte{}, protocol.PREFIX...), req.Payload...))
	if err != nil {
		return "", fmt.Errorf("txcompose: build data script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(0, dataScript))

	if req.ChangeAddress != "" && req.ChangeValue > 0 {
		addr, err := btcutil.DecodeAddress(req.ChangeAddress, params)
		if err != nil {
			return "", fmt.Errorf("txcompose: decode change address %s: %w", req.ChangeAddress, err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return "", fmt.Errorf("txcompose: change script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(req.ChangeValue, script))
	}

	return serializeTxHex(tx)
}
