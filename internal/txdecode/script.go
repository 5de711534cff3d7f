// Package txdecode recognizes the two output script shapes the protocol
// embeds data in or pays value through (pay-to-pubkey-hash and 1-of-N bare
// multisig, plus bare OP_RETURN), and extracts the (source, destination,
// amount, fee, payload) tuple for a decoded chain transaction (§4.1).
package txdecode

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// DecodedOutput is the result of classifying a single output script.
type DecodedOutput struct {
	// Address is set when the script is a recognized P2PKH output.
	Address string
	// Chunk is set when the script carries an embedded payload (either a
	// bare OP_RETURN push or the faked pubkey of a 1-of-N multisig).
	Chunk []byte
}

// DecodeScript classifies a single output script against the two shapes
// the protocol understands. An output that is neither a P2PKH pay script
// nor a payload carrier yields a zero-value DecodedOutput.
func DecodeScript(script []byte, params *chaincfg.Params) (DecodedOutput, error) {
	class := txscript.GetScriptClass(script)

	switch class {
	case txscript.PubKeyHashTy:
		return decodeP2PKH(script, params)
	case txscript.NullDataTy:
		return decodeNullData(script)
	case txscript.MultiSigTy:
		return decodeBareMultisig(script)
	default:
		return DecodedOutput{}, nil
	}
}

// decodeP2PKH extracts the base58check address from a
// DUP HASH160 <20-byte-hash> EQUALVERIFY CHECKSIG script.
func decodeP2PKH(script []byte, params *chaincfg.Params) (DecodedOutput, error) {
	pushes, err := txscript.PushedData(script)
	if err != nil || len(pushes) != 1 || len(pushes[0]) != 20 {
		return DecodedOutput{}, fmt.Errorf("malformed p2pkh script")
	}
	addr, err := btcutil.NewAddressPubKeyHash(pushes[0], params)
	if err != nil {
		return DecodedOutput{}, fmt.Errorf("p2pkh address: %w", err)
	}
	return DecodedOutput{Address: addr.EncodeAddress()}, nil
}

// decodeNullData extracts the single data push of an OP_RETURN output as
// a raw payload chunk, with no length/padding framing of its own.
func decodeNullData(script []byte) (DecodedOutput, error) {
	pushes, err := txscript.PushedData(script)
	if err != nil || len(pushes) != 1 {
		return DecodedOutput{}, fmt.Errorf("malformed null-data script")
	}
	return DecodedOutput{Chunk: pushes[0]}, nil
}

// decodeBareMultisig extracts the payload hidden in the first pushed
// "pubkey" of a bare 1-of-N multisig output. Genuine pubkeys are 33 bytes
// (compressed): a 1-byte type prefix followed by 32 bytes of data. The
// protocol hides its chunk in those 32 bytes as len(1 byte) ‖ data(len
// bytes) ‖ padding.
func decodeBareMultisig(script []byte) (DecodedOutput, error) {
	pushes, err := txscript.PushedData(script)
	if err != nil || len(pushes) < 2 {
		return DecodedOutput{}, fmt.Errorf("malformed multisig script")
	}
	fakePubKey := pushes[0]
	if len(fakePubKey) != 33 {
		return DecodedOutput{}, fmt.Errorf("unexpected pubkey length %d", len(fakePubKey))
	}
	body := fakePubKey[1:]
	chunkLen := int(body[0])
	if chunkLen > len(body)-1 {
		return DecodedOutput{}, fmt.Errorf("multisig chunk length %d exceeds payload space", chunkLen)
	}
	return DecodedOutput{Chunk: body[1 : 1+chunkLen]}, nil
}

// ChunkHex is a debug helper used by tests and logs.
func (d DecodedOutput) ChunkHex() string {
	return hex.EncodeToString(d.Chunk)
}
