package txcompose

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func TestBuildEmbedsPrefixedPayloadInFirstOutput(t *testing.T) {
	req := Request{
		Inputs:           []Input{{TxID: strings.Repeat("11", 32), Vout: 0}},
		Destination:      "",
		DestinationValue: 0,
		Payload:          []byte{0x00, 0x00, 0x00, 0x01, 0xAA, 0xBB},
	}

	hexTx, err := Build(req, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	raw, err := hex.DecodeString(hexTx)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatalf("deserialize tx: %v", err)
	}

	if len(tx.TxOut) != 1 {
		t.Fatalf("TxOut count = %d, want 1 (data carrier only)", len(tx.TxOut))
	}
	class := txscript.GetScriptClass(tx.TxOut[0].PkScript)
	if class != txscript.NullDataTy {
		t.Fatalf("output script class = %v, want NullDataTy", class)
	}
}

func TestBuildRejectsEmptyPayload(t *testing.T) {
	req := Request{Inputs: []Input{{TxID: strings.Repeat("11", 32), Vout: 0}}}
	if _, err := Build(req, &chaincfg.RegressionNetParams); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestBuildRejectsNoInputs(t *testing.T) {
	req := Request{Payload: []byte{0x01}}
	if _, err := Build(req, &chaincfg.RegressionNetParams); err == nil {
		t.Fatalf("expected error for no inputs")
	}
}
