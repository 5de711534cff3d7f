package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chain.URL == "" {
		t.Fatal("default chain URL is empty")
	}
	if cfg.Chain.BlockFirst <= 0 {
		t.Fatalf("BlockFirst = %d, want positive", cfg.Chain.BlockFirst)
	}
	if cfg.Chain.UnspendableAddr == "" {
		t.Fatal("default unspendable address is empty")
	}
	if cfg.RPC.Port == 0 {
		t.Fatal("default RPC port is zero")
	}
	if cfg.Testnet {
		t.Fatal("default config should not select testnet")
	}
}

func TestRPCConfigAddr(t *testing.T) {
	cfg := RPCConfig{Host: "127.0.0.1", Port: 4000}
	if got, want := cfg.Addr(), "127.0.0.1:4000"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, dir)
	}

	path := ConfigPath(dir)
	if _, err := filepath.Abs(path); err != nil {
		t.Fatalf("ConfigPath produced an invalid path: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir)
	if err != nil {
		t.Fatalf("Load (create): %v", err)
	}
	first.Chain.URL = "http://example.invalid:8332"
	first.RPC.Port = 5000
	if err := first.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := Load(dir)
	if err != nil {
		t.Fatalf("Load (read back): %v", err)
	}
	if second.Chain.URL != "http://example.invalid:8332" {
		t.Fatalf("Chain.URL = %q, want round-tripped value", second.Chain.URL)
	}
	if second.RPC.Port != 5000 {
		t.Fatalf("RPC.Port = %d, want 5000", second.RPC.Port)
	}
}

func TestExpandPath(t *testing.T) {
	if got := ExpandPath("/already/absolute"); got != "/already/absolute" {
		t.Fatalf("ExpandPath(absolute) = %q, want unchanged", got)
	}

	home := ExpandPath("~/xcpd")
	if home == "~/xcpd" {
		t.Fatal("ExpandPath did not expand leading ~")
	}
}
