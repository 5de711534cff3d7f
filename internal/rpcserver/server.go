// Package rpcserver is the read-only JSON-RPC 2.0 surface over the
// ledger store (§6). It never mutates: every method is a SELECT against
// the store compiled through internal/filterquery, plus the small set of
// create_<type>/transmit write methods that only compose and forward a
// raw transaction without touching the store.
package rpcserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/chancecoin/xcpd/internal/chainclient"
	"github.com/chancecoin/xcpd/pkg/logging"
)

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Config configures a Server.
type Config struct {
	Addr    string
	User    string
	Pass    string
	Testnet bool
}

// Server is the daemon's read-only + write-composition JSON-RPC surface.
type Server struct {
	db     *sql.DB
	chain  *chainclient.Client
	cfg    Config
	params *chaincfg.Params
	log    *logging.Logger

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex

	hub *wsHub
}

// New builds a Server over the ledger store handle db. The get_* and
// other read methods only issue SELECTs against it; New does not open a
// separate connection or put db into read-only mode, and cmd/xcpd passes
// the same *sql.DB the follower writes through.
func New(db *sql.DB, chain *chainclient.Client, cfg Config) *Server {
	params := &chaincfg.MainNetParams
	if cfg.Testnet {
		params = &chaincfg.TestNet3Params
	}
	s := &Server{
		db:       db,
		chain:    chain,
		cfg:      cfg,
		params:   params,
		log:      logging.GetDefault().Component("rpcserver"),
		handlers: make(map[string]Handler),
		hub:      newWSHub(),
	}
	s.registerHandlers()
	return s
}

// Broadcast pushes a ledger event to every subscribed WebSocket client.
// The follower calls this after applying a block or rolling one back.
func (s *Server) Broadcast(eventType EventType, data interface{}) {
	s.hub.Broadcast(eventType, data)
}

func (s *Server) registerHandlers() {
	for _, entity := range entityRegistry {
		s.handlers["get_"+entity.name] = s.makeGetEntityHandler(entity)
	}
	s.handlers["get_asset_info"] = s.getAssetInfo
	s.handlers["get_asset_names"] = s.getAssetNames
	s.handlers["get_block_info"] = s.getBlockInfo
	s.handlers["get_running_info"] = s.getRunningInfo
	s.handlers["get_element_counts"] = s.getElementCounts
	s.handlers["get_messages"] = s.getMessages
	s.handlers["xcp_supply"] = s.xcpSupply

	s.handlers["create_send"] = s.createSend
	s.handlers["create_order"] = s.createOrder
	s.handlers["create_bet"] = s.createBet
	s.handlers["create_issuance"] = s.createIssuance
	s.handlers["create_broadcast"] = s.createBroadcast
	s.handlers["create_btcpay"] = s.createBTCPay
	s.handlers["create_cancel"] = s.createCancel
	s.handlers["create_dividend"] = s.createDividend
	s.handlers["create_callback"] = s.createCallback
	s.handlers["transmit"] = s.transmit
}

// Start begins serving on cfg.Addr.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go s.hub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.server = &http.Server{
		Handler:      s.basicAuth(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("rpc server error", "error", err)
		}
	}()

	s.log.Info("rpc server started", "addr", s.cfg.Addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.User != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.cfg.User || pass != s.cfg.Pass {
				w.Header().Set("WWW-Authenticate", `Basic realm="xcpd"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "parse error", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "invalid request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, InternalError, err.Error(), nil)
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Result: result, ID: id}) //nolint:errcheck
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message, Data: data}, ID: id}) //nolint:errcheck
}
