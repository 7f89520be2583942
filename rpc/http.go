package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"blockcoop/core"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the node over JSON-RPC. Administrative methods are gated by
// a bearer token carried in the Authorization header on top of the on-state
// role checks the engines perform.
type Server struct {
	node      *core.Node
	authToken string
}

func NewServer(node *core.Node, authToken string) *Server {
	return &Server{node: node, authToken: strings.TrimSpace(authToken)}
}

// Handler returns the http handler serving the RPC endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

func (s *Server) Start(addr string) error {
	fmt.Printf("Starting JSON-RPC server on %s\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "bcoop_getPackage":
		s.handleGetPackage(w, req)
	case "bcoop_listActivePackages":
		s.handleListActivePackages(w, req)
	case "bcoop_nextPackageId":
		s.handleNextPackageID(w, req)
	case "bcoop_purchase":
		s.handlePurchase(w, req)
	case "bcoop_claimVested":
		s.handleClaimVested(w, req)
	case "bcoop_getUserStats":
		s.handleGetUserStats(w, req)
	case "bcoop_getUserPurchases":
		s.handleGetUserPurchases(w, req)
	case "bcoop_getUserPackageIds":
		s.handleGetUserPackageIDs(w, req)
	case "bcoop_getVestingSummary":
		s.handleGetVestingSummary(w, req)
	case "bcoop_getVestingGrants":
		s.handleGetVestingGrants(w, req)
	case "bcoop_getBalance":
		s.handleGetBalance(w, req)
	case "bcoop_getMarketPrice":
		s.handleGetMarketPrice(w, req)
	case "bcoop_getFeeBucket":
		s.handleGetFeeBucket(w, req)
	case "bcoop_getLiquidityParams":
		s.handleGetLiquidityParams(w, req)
	case "bcoop_getEvents":
		s.handleGetEvents(w, req)
	case "bcoopAdmin_addPackage":
		s.withAuth(w, r, req, s.handleAddPackage)
	case "bcoopAdmin_setPackageActive":
		s.withAuth(w, r, req, s.handleSetPackageActive)
	case "bcoopAdmin_setExchangeRate":
		s.withAuth(w, r, req, s.handleSetExchangeRate)
	case "bcoopAdmin_setTreasury":
		s.withAuth(w, r, req, s.handleSetTreasury)
	case "bcoopAdmin_setTreasuryBps":
		s.withAuth(w, r, req, s.handleSetTreasuryBps)
	case "bcoopAdmin_setFeeBucket":
		s.withAuth(w, r, req, s.handleSetFeeBucket)
	case "bcoopAdmin_setLiquidityTargetPrice":
		s.withAuth(w, r, req, s.handleSetLiquidityTargetPrice)
	case "bcoopAdmin_setLiquiditySlippage":
		s.withAuth(w, r, req, s.handleSetLiquiditySlippage)
	case "bcoopAdmin_setLiquidityDeadline":
		s.withAuth(w, r, req, s.handleSetLiquidityDeadline)
	case "bcoopAdmin_setLiquidityTreasury":
		s.withAuth(w, r, req, s.handleSetLiquidityTreasury)
	case "bcoopAdmin_mintPayment":
		s.withAuth(w, r, req, s.handleMintPayment)
	case "bcoopAdmin_pause":
		s.withAuth(w, r, req, s.handlePause)
	case "bcoopAdmin_resume":
		s.withAuth(w, r, req, s.handleResume)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

func (s *Server) withAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, handler func(http.ResponseWriter, *RPCRequest)) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	handler(w, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}
