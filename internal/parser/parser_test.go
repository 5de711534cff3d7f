package parser

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chancecoin/xcpd/internal/ledger"
	"github.com/chancecoin/xcpd/internal/protocol"
	"github.com/chancecoin/xcpd/internal/schema"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := schema.Open(db); err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	return db
}

func newCtx(t *testing.T, tx *sql.Tx, blockIndex int64, txIndex int64, source, destination string) *Context {
	t.Helper()
	return &Context{
		DB:     tx,
		Ledger: ledger.New(tx),
		Tx: Tx{
			TxIndex:      txIndex,
			TxHash:       "txhash" + string(rune('0'+txIndex)),
			BlockIndex:   blockIndex,
			Source:       source,
			Destination:  destination,
			NativeAmount: 0,
			Fee:          1000,
		},
	}
}

func TestHandleIssuanceThenSend(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	ctx := newCtx(t, tx, 1, 1, "issuer", "")
	issuerIssuance := IssuanceFee
	if err := ctx.Ledger.Credit(1, "issuer", protocol.XCPSymbol, issuerIssuance, "seed"); err != nil {
		t.Fatalf("seed issuer balance: %v", err)
	}

	assetID, err := protocol.AssetNameToID("AAA")
	if err != nil {
		t.Fatalf("AssetNameToID: %v", err)
	}
	issuanceMsg := protocol.IssuanceMessage{AssetID: assetID, Amount: 1000 * protocol.UNIT, Divisible: true}
	body, err := issuanceMsg.Encode()
	if err != nil {
		t.Fatalf("encode issuance: %v", err)
	}

	supported, err := Dispatch(ctx, append(protocol.TypeIDBytes(protocol.MessageTypeIssuance), body...))
	if err != nil {
		t.Fatalf("Dispatch issuance: %v", err)
	}
	if !supported {
		t.Fatalf("issuance type should be supported")
	}

	balance, err := ctx.Ledger.Balance("issuer", "AAA")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 1000*protocol.UNIT {
		t.Fatalf("issuer AAA balance = %d, want %d", balance, 1000*protocol.UNIT)
	}

	var validity string
	if err := tx.QueryRow(`SELECT validity FROM issuances WHERE tx_index = 1`).Scan(&validity); err != nil {
		t.Fatalf("read issuance row: %v", err)
	}
	if validity != "valid" {
		t.Fatalf("issuance validity = %q, want valid", validity)
	}

	sendCtx := newCtx(t, tx, 2, 2, "issuer", "bob")
	sendMsg := protocol.SendMessage{AssetID: assetID, Amount: 300 * protocol.UNIT}
	supported, err = Dispatch(sendCtx, append(protocol.TypeIDBytes(protocol.MessageTypeSend), sendMsg.Encode()...))
	if err != nil {
		t.Fatalf("Dispatch send: %v", err)
	}
	if !supported {
		t.Fatalf("send type should be supported")
	}

	issuerBalance, err := sendCtx.Ledger.Balance("issuer", "AAA")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if issuerBalance != 700*protocol.UNIT {
		t.Fatalf("issuer AAA balance after send = %d, want %d", issuerBalance, 700*protocol.UNIT)
	}
	bobBalance, err := sendCtx.Ledger.Balance("bob", "AAA")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bobBalance != 300*protocol.UNIT {
		t.Fatalf("bob AAA balance = %d, want %d", bobBalance, 300*protocol.UNIT)
	}
}

func TestHandleSendInsufficientBalanceIsInvalidNotFatal(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	ctx := newCtx(t, tx, 1, 1, "poor", "rich")

	sendMsg := protocol.SendMessage{AssetID: 1, Amount: 1000 * protocol.UNIT}
	supported, err := Dispatch(ctx, append(protocol.TypeIDBytes(protocol.MessageTypeSend), sendMsg.Encode()...))
	if err != nil {
		t.Fatalf("Dispatch should not return an error for a failed validation: %v", err)
	}
	if !supported {
		t.Fatalf("send type should be supported")
	}

	var validity string
	if err := tx.QueryRow(`SELECT validity FROM sends WHERE tx_index = 1`).Scan(&validity); err != nil {
		t.Fatalf("read send row: %v", err)
	}
	if validity != "invalid: insufficient balance" {
		t.Fatalf("validity = %q, want insufficient balance rejection", validity)
	}
}

func TestDispatchUnknownTypeIsUnsupported(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	ctx := newCtx(t, tx, 1, 1, "a", "b")

	supported, err := Dispatch(ctx, append(protocol.TypeIDBytes(9999), []byte{0x01, 0x02}...))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if supported {
		t.Fatalf("unknown type id should not be supported")
	}
}

func TestOrderMatchCreatesMatchRecord(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	ctxA := newCtx(t, tx, 100, 1, "A", "")
	ctxA.Tx.TxHash = "hashA"
	if err := ctxA.Ledger.Credit(100, "A", "XCP", 10*protocol.UNIT, "seed"); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	aaaID, err := protocol.AssetNameToID("AAA")
	if err != nil {
		t.Fatalf("AssetNameToID: %v", err)
	}

	orderA := protocol.OrderMessage{
		GiveAsset: 1, GiveAmount: 10 * protocol.UNIT,
		GetAsset: aaaID, GetAmount: 20 * protocol.UNIT,
		Expiration: 100,
	}
	supported, err := Dispatch(ctxA, append(protocol.TypeIDBytes(protocol.MessageTypeOrder), orderA.Encode()...))
	if err != nil {
		t.Fatalf("Dispatch order A: %v", err)
	}
	if !supported {
		t.Fatalf("order should be supported")
	}

	ctxB := newCtx(t, tx, 101, 2, "B", "")
	ctxB.Tx.TxHash = "hashB"
	if err := ctxB.Ledger.Credit(101, "B", "AAA", 20*protocol.UNIT, "seed"); err != nil {
		t.Fatalf("seed B: %v", err)
	}
	orderB := protocol.OrderMessage{
		GiveAsset: aaaID, GiveAmount: 20 * protocol.UNIT,
		GetAsset: 1, GetAmount: 10 * protocol.UNIT,
		Expiration: 100,
	}
	supported, err = Dispatch(ctxB, append(protocol.TypeIDBytes(protocol.MessageTypeOrder), orderB.Encode()...))
	if err != nil {
		t.Fatalf("Dispatch order B: %v", err)
	}
	if !supported {
		t.Fatalf("order should be supported")
	}

	var matchCount int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM order_matches`).Scan(&matchCount); err != nil {
		t.Fatalf("count order_matches: %v", err)
	}
	if matchCount != 1 {
		t.Fatalf("order_matches count = %d, want 1", matchCount)
	}

	aBalance, err := ctxB.Ledger.Balance("A", "AAA")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if aBalance != 20*protocol.UNIT {
		t.Fatalf("A AAA balance = %d, want %d", aBalance, 20*protocol.UNIT)
	}
	bBalance, err := ctxB.Ledger.Balance("B", "XCP")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bBalance != 10*protocol.UNIT {
		t.Fatalf("B XCP balance = %d, want %d", bBalance, 10*protocol.UNIT)
	}

	// Both orders' remaining amounts must reach zero: order A's row (the
	// resting order) and order B's own row (the incoming, matching order).
	var aGiveRemaining, aGetRemaining int64
	if err := tx.QueryRow(`SELECT give_remaining, get_remaining FROM orders WHERE tx_index = 1`).Scan(&aGiveRemaining, &aGetRemaining); err != nil {
		t.Fatalf("read order A row: %v", err)
	}
	if aGiveRemaining != 0 || aGetRemaining != 0 {
		t.Fatalf("order A remaining = (%d, %d), want (0, 0)", aGiveRemaining, aGetRemaining)
	}
	var bGiveRemaining, bGetRemaining int64
	if err := tx.QueryRow(`SELECT give_remaining, get_remaining FROM orders WHERE tx_index = 2`).Scan(&bGiveRemaining, &bGetRemaining); err != nil {
		t.Fatalf("read order B row: %v", err)
	}
	if bGiveRemaining != 0 || bGetRemaining != 0 {
		t.Fatalf("order B remaining = (%d, %d), want (0, 0)", bGiveRemaining, bGetRemaining)
	}
}
