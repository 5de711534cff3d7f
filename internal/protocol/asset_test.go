package protocol

import "testing"

func TestAssetReservedSymbols(t *testing.T) {
	id, err := AssetNameToID("NATIVE")
	if err != nil || id != 0 {
		t.Fatalf("NATIVE: got (%d, %v)", id, err)
	}
	id, err = AssetNameToID("XCP")
	if err != nil || id != 1 {
		t.Fatalf("XCP: got (%d, %v)", id, err)
	}
	name, err := AssetIDToName(0)
	if err != nil || name != NativeSymbol {
		t.Fatalf("id 0: got (%s, %v)", name, err)
	}
	name, err = AssetIDToName(1)
	if err != nil || name != XCPSymbol {
		t.Fatalf("id 1: got (%s, %v)", name, err)
	}
}

func TestAssetNameRoundTrip(t *testing.T) {
	for _, name := range []string{"AAA", "XYZ", "COUNTERPARTY", "ZZZZZZZZZZZZ"} {
		id, err := AssetNameToID(name)
		if err != nil {
			t.Fatalf("%s: encode error: %v", name, err)
		}
		if id <= AssetIDReservedMax {
			t.Fatalf("%s: encoded id %d not above reserved floor", name, id)
		}
		got, err := AssetIDToName(id)
		if err != nil {
			t.Fatalf("%s: decode error: %v", name, err)
		}
		if got != name {
			t.Fatalf("round trip mismatch: %s -> %d -> %s", name, id, got)
		}
	}
}

func TestAssetNameRejectsLowercaseAndReservedOverlap(t *testing.T) {
	if _, err := AssetNameToID("aaa"); err == nil {
		t.Fatalf("expected rejection of lowercase asset name")
	}
	if _, err := AssetIDToName(2); err == nil {
		t.Fatalf("expected rejection of id below named-asset floor")
	}
}
