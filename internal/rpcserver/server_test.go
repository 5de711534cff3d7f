package rpcserver

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chancecoin/xcpd/internal/chainclient"
	"github.com/chancecoin/xcpd/internal/schema"
)

func openTestServer(t *testing.T) (*Server, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := schema.Open(db); err != nil {
		t.Fatalf("schema.Open: %v", err)
	}
	chain := chainclient.New(chainclient.Config{URL: "http://127.0.0.1:0"})
	s := New(db, chain, Config{})
	return s, db
}

func TestHandleRPCGetSends(t *testing.T) {
	s, db := openTestServer(t)
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO blocks (block_index, block_hash, block_time) VALUES (1, 'h1', 100)`); err != nil {
		t.Fatalf("seed block: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO sends (tx_index, block_index, source, destination, asset, amount, validity)
		 VALUES (1, 1, 'addrA', 'addrB', 'XCP', 500, 'valid')`,
	); err != nil {
		t.Fatalf("seed send: %v", err)
	}

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "get_sends", ID: 1})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleRPC(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}

	rows, ok := resp.Result.([]interface{})
	if !ok || len(rows) != 1 {
		t.Fatalf("result = %#v, want one row", resp.Result)
	}
	row := rows[0].(map[string]interface{})
	if row["source"] != "addrA" || row["destination"] != "addrB" {
		t.Fatalf("unexpected row: %#v", row)
	}
}

func TestHandleRPCUnknownMethod(t *testing.T) {
	s, db := openTestServer(t)
	defer db.Close()

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "no_such_method", ID: 1})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleRPC(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Fatalf("error = %+v, want MethodNotFound", resp.Error)
	}
}

func TestGetRunningInfoReportsStampedVersion(t *testing.T) {
	s, db := openTestServer(t)
	defer db.Close()

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "get_running_info", ID: 1})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleRPC(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["version_major"].(float64) != float64(schema.VersionMajor) {
		t.Fatalf("version_major = %v, want %d", result["version_major"], schema.VersionMajor)
	}
}
