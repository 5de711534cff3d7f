// Package main provides the xcpd daemon: a block follower and JSON-RPC
// server for a Counterparty-style embedded protocol layered on a
// Bitcoin-like chain.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chancecoin/xcpd/internal/chainclient"
	"github.com/chancecoin/xcpd/internal/config"
	"github.com/chancecoin/xcpd/internal/follower"
	"github.com/chancecoin/xcpd/internal/rpcserver"
	"github.com/chancecoin/xcpd/internal/schema"
	"github.com/chancecoin/xcpd/internal/txdecode"
	"github.com/chancecoin/xcpd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.xcpd", "Data directory")
		rpcAddr     = flag.String("rpc", "", "JSON-RPC listen address, overrides config")
		testnet     = flag.Bool("testnet", false, "Run against testnet")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("xcpd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	cfg, err := config.Load(effectiveDataDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	cfg.Testnet = *testnet
	if *rpcAddr != "" {
		host, port, perr := splitHostPort(*rpcAddr)
		if perr == nil {
			cfg.RPC.Host, cfg.RPC.Port = host, port
		}
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", config.ConfigPath(effectiveDataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := filepath.Join(config.ExpandPath(cfg.DataDir), "xcpd.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		log.Fatal("failed to create data directory", "error", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		log.Fatal("failed to open ledger store", "error", err)
	}
	defer db.Close()

	if err := schema.Open(db); err != nil {
		log.Fatal("failed to prepare schema", "error", err)
	}

	needsReparse, err := schema.NeedsReparse(db)
	if err != nil {
		log.Fatal("failed to check schema version", "error", err)
	}

	params := &chaincfg.MainNetParams
	if cfg.Testnet {
		params = &chaincfg.TestNet3Params
	}

	chain := chainclient.New(chainclient.Config{
		URL:  cfg.Chain.URL,
		User: cfg.Chain.User,
		Pass: cfg.Chain.Pass,
	})
	adapter := follower.NewChainAdapter(chain)
	extractor := txdecode.NewExtractor(params, adapter, cfg.Chain.UnspendableAddr)

	rpcServer := rpcserver.New(db, chain, rpcserver.Config{
		Addr:    cfg.RPC.Addr(),
		User:    cfg.RPC.User,
		Pass:    cfg.RPC.Pass,
		Testnet: cfg.Testnet,
	})

	flw := follower.New(db, adapter, extractor, follower.Config{
		BlockFirst:      cfg.Chain.BlockFirst,
		UnspendableAddr: cfg.Chain.UnspendableAddr,
		OnBlock: func(height int64, hash string) {
			log.Info("block applied", "height", height, "hash", hash)
			rpcServer.Broadcast(rpcserver.EventNewBlock, map[string]interface{}{
				"block_index": height,
				"block_hash":  hash,
			})
		},
		OnReorg: func(height int64) {
			log.Warn("reorg handled", "new_tip", height)
			rpcServer.Broadcast(rpcserver.EventReorg, map[string]interface{}{
				"block_index": height,
			})
		},
	})

	if needsReparse {
		log.Info("schema version bumped, reparsing ledger from stored transactions")
		if err := flw.Reparse(ctx); err != nil {
			log.Fatal("reparse failed", "error", err)
		}
	}
	if err := schema.Stamp(db); err != nil {
		log.Fatal("failed to stamp schema version", "error", err)
	}

	if err := rpcServer.Start(); err != nil {
		log.Fatal("failed to start rpc server", "error", err)
	}

	go func() {
		if err := flw.Run(ctx); err != nil {
			log.Error("follower stopped", "error", err)
		}
	}()

	log.Info("xcpd started", "rpc_addr", cfg.RPC.Addr(), "testnet", cfg.Testnet)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	if err := rpcServer.Stop(); err != nil {
		log.Error("error stopping rpc server", "error", err)
	}
	log.Info("goodbye")
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
