package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lendpool/config"
	"lendpool/core"
	nativecommon "lendpool/native/common"
	"lendpool/native/lendbook"
	"lendpool/native/lending"
	"lendpool/native/oracle"
	"lendpool/observability"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the node over JSON-RPC 2.0. Privileged methods require the
// bearer token named by the config; mutating methods are rate limited per
// client source.
type Server struct {
	node      *core.Node
	cfg       config.RPC
	authToken string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer wires a server around the node. The admin token is read from the
// environment variable named by cfg.AdminTokenEnv; when the variable is
// empty every privileged method is refused.
func NewServer(node *core.Node, cfg config.RPC) *Server {
	token := strings.TrimSpace(os.Getenv(cfg.AdminTokenEnv))
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	return &Server{
		node:      node,
		cfg:       cfg,
		authToken: token,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Handler returns the HTTP handler serving the RPC endpoint and the event
// stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEvents)
	return mux
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.serverMu.Lock()
	s.httpServer = server
	s.serverMu.Unlock()
	return server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	server := s.httpServer
	s.serverMu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
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

// writeNodeError translates node and engine errors into JSON-RPC errors.
// Missing records map to 404, domain refusals to invalid params, paused
// modules to 503; anything else is a server fault.
func writeNodeError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, lending.ErrLoanNotFound),
		errors.Is(err, lending.ErrPositionNotFound),
		errors.Is(err, lending.ErrTokenUnknown),
		errors.Is(err, lendbook.ErrListingNotFound),
		errors.Is(err, oracle.ErrUnknownSymbol):
		status = http.StatusNotFound
		code = codeInvalidParams
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
	default:
		message := err.Error()
		if strings.HasPrefix(message, "lending engine:") ||
			strings.HasPrefix(message, "lendbook:") ||
			strings.HasPrefix(message, "oracle:") ||
			strings.HasPrefix(message, "state:") ||
			strings.HasPrefix(message, "node:") {
			status = http.StatusBadRequest
			code = codeInvalidParams
		}
	}
	writeError(w, status, id, code, err.Error(), nil)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	w = recorder
	req := &RPCRequest{}
	start := time.Now()
	defer func() {
		observability.ModuleMetrics().Observe(moduleForMethod(req.Method), req.Method, recorder.status, time.Since(start))
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

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
	case "lending_deposit":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendingDeposit(w, r, req)
	case "lending_withdraw":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendingWithdraw(w, r, req)
	case "lending_depositCollateral":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendingDepositCollateral(w, r, req)
	case "lending_withdrawCollateral":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendingWithdrawCollateral(w, r, req)
	case "lending_setCollateralFlag":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendingSetCollateralFlag(w, r, req)
	case "lending_borrow":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendingBorrow(w, r, req)
	case "lending_repay":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendingRepay(w, r, req)
	case "lending_liquidate":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendingLiquidate(w, r, req)
	case "lending_getMarket":
		s.handleLendingGetMarket(w, r, req)
	case "lending_getMarkets":
		s.handleLendingGetMarkets(w, r, req)
	case "lending_getPosition":
		s.handleLendingGetPosition(w, r, req)
	case "lending_getPositions":
		s.handleLendingGetPositions(w, r, req)
	case "lending_getLoan":
		s.handleLendingGetLoan(w, r, req)
	case "lending_getLoans":
		s.handleLendingGetLoans(w, r, req)
	case "lending_loanDebt":
		s.handleLendingLoanDebt(w, r, req)
	case "lending_liquidatable":
		s.handleLendingLiquidatable(w, r, req)
	case "lending_health":
		s.handleLendingHealth(w, r, req)
	case "lending_feeBalance":
		s.handleLendingFeeBalance(w, r, req)
	case "lendbook_list":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendbookList(w, r, req)
	case "lendbook_cancel":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendbookCancel(w, r, req)
	case "lendbook_match":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleLendbookMatch(w, r, req)
	case "lendbook_get":
		s.handleLendbookGet(w, r, req)
	case "lendbook_open":
		s.handleLendbookOpen(w, r, req)
	case "oracle_setPrice":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleOracleSetPrice(w, r, req)
	case "oracle_getQuote":
		s.handleOracleGetQuote(w, r, req)
	case "oracle_symbols":
		s.handleOracleSymbols(w, r, req)
	case "lend_getBalance":
		s.handleGetBalance(w, r, req)
	case "lend_transfer":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleTransfer(w, r, req)
	case "admin_mint":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminMint(w, r, req)
	case "admin_listToken":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminListToken(w, r, req)
	case "admin_updateToken":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminUpdateToken(w, r, req)
	case "admin_withdrawFees":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminWithdrawFees(w, r, req)
	case "admin_pause":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminPause(w, r, req)
	case "admin_pauses":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminPauses(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
	}
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

// allowMutation enforces the per-source rate limit on state-changing
// methods. It writes the error response itself when the limit is hit.
func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if s.allowSource(clientSource(r)) {
		return true
	}
	observability.ModuleMetrics().RecordThrottle(moduleForMethod(req.Method), "rate_limit")
	writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
	return false
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.RateBurst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// moduleForMethod extracts the namespace prefix used for metric labels.
func moduleForMethod(method string) string {
	if idx := strings.Index(method, "_"); idx > 0 {
		return method[:idx]
	}
	return method
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
