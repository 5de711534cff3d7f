package protocol

import (
	"bytes"
	"testing"
)

func TestSendMessageRoundTrip(t *testing.T) {
	want := SendMessage{AssetID: 1, Amount: 3000000000}
	got, err := DecodeSendMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestOrderMessageRoundTrip(t *testing.T) {
	want := OrderMessage{
		GiveAsset:   1,
		GiveAmount:  1000000000,
		GetAsset:    17577,
		GetAmount:   2000000000,
		Expiration:  1000,
		FeeRequired: 0,
	}
	got, err := DecodeOrderMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestBTCPayMessageRoundTrip(t *testing.T) {
	var want BTCPayMessage
	for i := range want.Tx0Hash {
		want.Tx0Hash[i] = byte(i)
	}
	for i := range want.Tx1Hash {
		want.Tx1Hash[i] = byte(255 - i)
	}
	got, err := DecodeBTCPayMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch")
	}
	id := got.OrderMatchID()
	if !bytes.Equal(id[0:32], want.Tx0Hash[:]) || !bytes.Equal(id[32:64], want.Tx1Hash[:]) {
		t.Fatalf("order match id concatenation wrong")
	}
}

func TestIssuanceMessageRoundTrip(t *testing.T) {
	want := IssuanceMessage{
		AssetID:     17577,
		Amount:      100000000000,
		Divisible:   true,
		Callable:    false,
		CallDate:    0,
		CallPrice:   0,
		Description: "a test asset",
	}
	enc, err := want.Encode()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	got, err := DecodeIssuanceMessage(enc)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestIssuanceMessageDescriptionTooLong(t *testing.T) {
	long := make([]byte, MaxTextLength+1)
	for i := range long {
		long[i] = 'x'
	}
	m := IssuanceMessage{Description: string(long)}
	if _, err := m.Encode(); err == nil {
		t.Fatalf("expected error for over-long description")
	}
}

func TestBroadcastMessageRoundTrip(t *testing.T) {
	want := BroadcastMessage{
		Timestamp:      1700000000,
		Value:          123.456,
		FeeFractionInt: 5000000,
		Text:           "price update",
	}
	enc, err := want.Encode()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	got, err := DecodeBroadcastMessage(enc)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestBetMessageRoundTrip(t *testing.T) {
	want := BetMessage{
		BetType:      BetTypeBullCFD,
		Deadline:     1700000000,
		Wager:        100 * UNIT,
		Counterwager: 100 * UNIT,
		TargetValue:  0,
		Leverage:     5040,
		Expiration:   1000,
	}
	got, err := DecodeBetMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDividendMessageRoundTrip(t *testing.T) {
	want := DividendMessage{AmountPerUnit: 500, AssetID: 17577}
	got, err := DecodeDividendMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestCancelMessageRoundTrip(t *testing.T) {
	var want CancelMessage
	for i := range want.OfferHash {
		want.OfferHash[i] = byte(i * 3)
	}
	got, err := DecodeCancelMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch")
	}
}

func TestCallbackMessageRoundTrip(t *testing.T) {
	want := CallbackMessage{Fraction: 0.25, AssetID: 17577}
	got, err := DecodeCallbackMessage(want.Encode())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	if _, err := DecodeSendMessage([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected decode error for short buffer")
	}
	if _, err := DecodeOrderMessage(make([]byte, 41)); err == nil {
		t.Fatalf("expected decode error for short buffer")
	}
}
