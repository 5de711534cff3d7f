package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxTextLength bounds the length-prefixed text/description fields carried
// by issuance and broadcast messages.
const MaxTextLength = 52

// SendMessage is message type 0: a plain asset transfer.
type SendMessage struct {
	AssetID uint64
	Amount  uint64
}

func (m SendMessage) Encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], m.AssetID)
	binary.BigEndian.PutUint64(buf[8:16], m.Amount)
	return buf
}

func DecodeSendMessage(b []byte) (SendMessage, error) {
	if len(b) != 16 {
		return SendMessage{}, fmt.Errorf("send: want 16 bytes, got %d", len(b))
	}
	return SendMessage{
		AssetID: binary.BigEndian.Uint64(b[0:8]),
		Amount:  binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// OrderMessage is message type 10: an offer to trade one asset for another.
type OrderMessage struct {
	GiveAsset    uint64
	GiveAmount   uint64
	GetAsset     uint64
	GetAmount    uint64
	Expiration   uint16
	FeeRequired  uint64
}

func (m OrderMessage) Encode() []byte {
	buf := make([]byte, 42)
	binary.BigEndian.PutUint64(buf[0:8], m.GiveAsset)
	binary.BigEndian.PutUint64(buf[8:16], m.GiveAmount)
	binary.BigEndian.PutUint64(buf[16:24], m.GetAsset)
	binary.BigEndian.PutUint64(buf[24:32], m.GetAmount)
	binary.BigEndian.PutUint16(buf[32:34], m.Expiration)
	binary.BigEndian.PutUint64(buf[34:42], m.FeeRequired)
	return buf
}

func DecodeOrderMessage(b []byte) (OrderMessage, error) {
	if len(b) != 42 {
		return OrderMessage{}, fmt.Errorf("order: want 42 bytes, got %d", len(b))
	}
	return OrderMessage{
		GiveAsset:   binary.BigEndian.Uint64(b[0:8]),
		GiveAmount:  binary.BigEndian.Uint64(b[8:16]),
		GetAsset:    binary.BigEndian.Uint64(b[16:24]),
		GetAmount:   binary.BigEndian.Uint64(b[24:32]),
		Expiration:  binary.BigEndian.Uint16(b[32:34]),
		FeeRequired: binary.BigEndian.Uint64(b[34:42]),
	}, nil
}

// BTCPayMessage is message type 11: settles a pending native-currency
// order match by referencing the two transaction hashes that formed it.
type BTCPayMessage struct {
	Tx0Hash [32]byte
	Tx1Hash [32]byte
}

// OrderMatchID returns the network-wide id for the match this payment
// references: the hex-free concatenation of the two raw 32-byte hashes in
// the order they were supplied (the matcher always records tx0 as the
// earlier-arriving order).
func (m BTCPayMessage) OrderMatchID() [64]byte {
	var id [64]byte
	copy(id[0:32], m.Tx0Hash[:])
	copy(id[32:64], m.Tx1Hash[:])
	return id
}

func (m BTCPayMessage) Encode() []byte {
	buf := make([]byte, 64)
	copy(buf[0:32], m.Tx0Hash[:])
	copy(buf[32:64], m.Tx1Hash[:])
	return buf
}

func DecodeBTCPayMessage(b []byte) (BTCPayMessage, error) {
	if len(b) != 64 {
		return BTCPayMessage{}, fmt.Errorf("btcpay: want 64 bytes, got %d", len(b))
	}
	var m BTCPayMessage
	copy(m.Tx0Hash[:], b[0:32])
	copy(m.Tx1Hash[:], b[32:64])
	return m, nil
}

// IssuanceMessage is message type 20: creates or resets an asset.
type IssuanceMessage struct {
	AssetID     uint64
	Amount      uint64
	Divisible   bool
	Callable    bool
	CallDate    uint32
	CallPrice   float32
	Description string
}

func (m IssuanceMessage) Encode() ([]byte, error) {
	if len(m.Description) > MaxTextLength {
		return nil, fmt.Errorf("issuance: description exceeds %d bytes", MaxTextLength)
	}
	buf := make([]byte, 8+8+1+1+4+4+1+len(m.Description))
	off := 0
	binary.BigEndian.PutUint64(buf[off:off+8], m.AssetID)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], m.Amount)
	off += 8
	buf[off] = boolByte(m.Divisible)
	off++
	buf[off] = boolByte(m.Callable)
	off++
	binary.BigEndian.PutUint32(buf[off:off+4], m.CallDate)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], math.Float32bits(m.CallPrice))
	off += 4
	buf[off] = byte(len(m.Description))
	off++
	copy(buf[off:], m.Description)
	return buf, nil
}

func DecodeIssuanceMessage(b []byte) (IssuanceMessage, error) {
	const fixed = 8 + 8 + 1 + 1 + 4 + 4 + 1
	if len(b) < fixed {
		return IssuanceMessage{}, fmt.Errorf("issuance: want at least %d bytes, got %d", fixed, len(b))
	}
	var m IssuanceMessage
	off := 0
	m.AssetID = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	m.Amount = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	m.Divisible = b[off] != 0
	off++
	m.Callable = b[off] != 0
	off++
	m.CallDate = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	m.CallPrice = math.Float32frombits(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	descLen := int(b[off])
	off++
	if descLen > MaxTextLength || off+descLen != len(b) {
		return IssuanceMessage{}, fmt.Errorf("issuance: bad description length %d", descLen)
	}
	m.Description = string(b[off : off+descLen])
	return m, nil
}

// BroadcastMessage is message type 30: a feed update, optionally a lock.
type BroadcastMessage struct {
	Timestamp      uint32
	Value          float64
	FeeFractionInt uint32
	Text           string
}

func (m BroadcastMessage) Encode() ([]byte, error) {
	if len(m.Text) > MaxTextLength {
		return nil, fmt.Errorf("broadcast: text exceeds %d bytes", MaxTextLength)
	}
	buf := make([]byte, 4+8+4+1+len(m.Text))
	off := 0
	binary.BigEndian.PutUint32(buf[off:off+4], m.Timestamp)
	off += 4
	binary.BigEndian.PutUint64(buf[off:off+8], math.Float64bits(m.Value))
	off += 8
	binary.BigEndian.PutUint32(buf[off:off+4], m.FeeFractionInt)
	off += 4
	buf[off] = byte(len(m.Text))
	off++
	copy(buf[off:], m.Text)
	return buf, nil
}

func DecodeBroadcastMessage(b []byte) (BroadcastMessage, error) {
	const fixed = 4 + 8 + 4 + 1
	if len(b) < fixed {
		return BroadcastMessage{}, fmt.Errorf("broadcast: want at least %d bytes, got %d", fixed, len(b))
	}
	var m BroadcastMessage
	off := 0
	m.Timestamp = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	m.Value = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	m.FeeFractionInt = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	textLen := int(b[off])
	off++
	if textLen > MaxTextLength || off+textLen != len(b) {
		return BroadcastMessage{}, fmt.Errorf("broadcast: bad text length %d", textLen)
	}
	m.Text = string(b[off : off+textLen])
	return m, nil
}

// BetMessage is message type 40: a wager against a feed.
type BetMessage struct {
	BetType      BetType
	Deadline     uint32
	Wager        uint64
	Counterwager uint64
	TargetValue  float64
	Leverage     uint16
	Expiration   uint16
}

func (m BetMessage) Encode() []byte {
	buf := make([]byte, 2+4+8+8+8+2+2)
	off := 0
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(m.BetType))
	off += 2
	binary.BigEndian.PutUint32(buf[off:off+4], m.Deadline)
	off += 4
	binary.BigEndian.PutUint64(buf[off:off+8], m.Wager)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], m.Counterwager)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], math.Float64bits(m.TargetValue))
	off += 8
	binary.BigEndian.PutUint16(buf[off:off+2], m.Leverage)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], m.Expiration)
	return buf
}

func DecodeBetMessage(b []byte) (BetMessage, error) {
	const want = 2 + 4 + 8 + 8 + 8 + 2 + 2
	if len(b) != want {
		return BetMessage{}, fmt.Errorf("bet: want %d bytes, got %d", want, len(b))
	}
	var m BetMessage
	off := 0
	m.BetType = BetType(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	m.Deadline = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	m.Wager = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	m.Counterwager = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	m.TargetValue = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	m.Leverage = binary.BigEndian.Uint16(b[off : off+2])
	off += 2
	m.Expiration = binary.BigEndian.Uint16(b[off : off+2])
	return m, nil
}

// DividendMessage is message type 50: pays holders of an asset pro rata.
type DividendMessage struct {
	AmountPerUnit uint64
	AssetID       uint64
}

func (m DividendMessage) Encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], m.AmountPerUnit)
	binary.BigEndian.PutUint64(buf[8:16], m.AssetID)
	return buf
}

func DecodeDividendMessage(b []byte) (DividendMessage, error) {
	if len(b) != 16 {
		return DividendMessage{}, fmt.Errorf("dividend: want 16 bytes, got %d", len(b))
	}
	return DividendMessage{
		AmountPerUnit: binary.BigEndian.Uint64(b[0:8]),
		AssetID:       binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// CancelMessage is message type 70: cancels an open order or bet by hash.
type CancelMessage struct {
	OfferHash [32]byte
}

func (m CancelMessage) Encode() []byte {
	buf := make([]byte, 32)
	copy(buf, m.OfferHash[:])
	return buf
}

func DecodeCancelMessage(b []byte) (CancelMessage, error) {
	if len(b) != 32 {
		return CancelMessage{}, fmt.Errorf("cancel: want 32 bytes, got %d", len(b))
	}
	var m CancelMessage
	copy(m.OfferHash[:], b)
	return m, nil
}

// CallbackMessage is message type 21: calls a fraction of a callable
// asset's outstanding units back at the issuer's call price.
type CallbackMessage struct {
	Fraction float64
	AssetID  uint64
}

func (m CallbackMessage) Encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(m.Fraction))
	binary.BigEndian.PutUint64(buf[8:16], m.AssetID)
	return buf
}

func DecodeCallbackMessage(b []byte) (CallbackMessage, error) {
	if len(b) != 16 {
		return CallbackMessage{}, fmt.Errorf("callback: want 16 bytes, got %d", len(b))
	}
	return CallbackMessage{
		Fraction: math.Float64frombits(binary.BigEndian.Uint64(b[0:8])),
		AssetID:  binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// TypeIDBytes returns the 4-byte big-endian message type id prefix used
// to tag an encoded message body before it is embedded in a payload.
func TypeIDBytes(id uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return buf
}
