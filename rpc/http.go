package rpc

import (
	"bytes"
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridfund/core/events"
	"gridfund/native/projects"
	"gridfund/native/token"
	"gridfund/observability"
)

const (
	jsonRPCVersion     = "2.0"
	maxRequestBytes    = 1 << 20 // 1 MiB
	rateLimitWindow    = time.Minute
	maxWritesPerWindow = 30
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Domain error codes mirror the ledger error taxonomy.
const (
	codeLedgerInvalidParams = -32021
	codeLedgerNotFound      = -32022
	codeLedgerForbidden     = -32023
	codeLedgerConflict      = -32024
	codeLedgerUnderfunded   = -32025
	codeLedgerInternal      = -32026
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the ledger engine over JSON-RPC with an event stream and
// Prometheus metrics on the same listener.
type Server struct {
	engine *projects.Engine
	ledger *token.Ledger
	bus    *events.Bus

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
	trustProxy   bool
	lastDropped  uint64
}

// NewServer wires the RPC surface around the engine, the asset ledger and the
// event bus. The mutating-method auth token is read from GRIDFUND_RPC_TOKEN.
func NewServer(engine *projects.Engine, ledger *token.Ledger, bus *events.Bus) *Server {
	token := strings.TrimSpace(os.Getenv("GRIDFUND_RPC_TOKEN"))
	return &Server{
		engine:       engine,
		ledger:       ledger,
		bus:          bus,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    token,
	}
}

// SetTrustProxy makes client identification honor X-Forwarded-For.
func (s *Server) SetTrustProxy(trust bool) { s.trustProxy = trust }

// Handler returns the HTTP handler serving RPC, the websocket event stream,
// metrics and the health probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves the RPC surface on addr until the listener fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
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

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	w = rec

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
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "engine unavailable", nil)
		return
	}

	defer func() {
		observability.LedgerMetrics().Observe(req.Method, rec.status, time.Since(started))
		s.publishDroppedEvents()
	}()

	if mutatingMethods[req.Method] {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if limitErr := s.checkRateLimit(r); limitErr != nil {
			writeError(w, http.StatusTooManyRequests, req.ID, limitErr.Code, limitErr.Message, limitErr.Data)
			return
		}
	}

	switch req.Method {
	case "projects_create":
		s.handleProjectCreate(w, req)
	case "projects_get":
		s.handleProjectGet(w, req)
	case "projects_count":
		s.handleProjectCount(w, req)
	case "projects_invest":
		s.handleInvest(w, req)
	case "projects_markFundingFailed":
		s.handleMarkFundingFailed(w, req)
	case "projects_completeConstruction":
		s.handleCompleteConstruction(w, req)
	case "projects_depositPayoutFunds":
		s.handleDepositPayoutFunds(w, req)
	case "projects_claimInterest":
		s.handleClaimInterest(w, req)
	case "projects_claimPrincipal":
		s.handleClaimPrincipal(w, req)
	case "projects_claimRefund":
		s.handleClaimRefund(w, req)
	case "projects_recordEnergy":
		s.handleRecordEnergy(w, req)
	case "projects_energyRecords":
		s.handleEnergyRecords(w, req)
	case "projects_investors":
		s.handleInvestors(w, req)
	case "projects_investment":
		s.handleInvestment(w, req)
	case "projects_timeline":
		s.handleTimeline(w, req)
	case "projects_availableInterest":
		s.handleAvailableInterest(w, req)
	case "projects_availablePrincipal":
		s.handleAvailablePrincipal(w, req)
	case "projects_isFundingFailed":
		s.handleIsFundingFailed(w, req)
	case "projects_interestRate":
		s.handleInterestRate(w, req)
	case "projects_escrowBalance":
		s.handleEscrowBalance(w, req)
	case "admin_add":
		s.handleAdminAdd(w, req)
	case "admin_remove":
		s.handleAdminRemove(w, req)
	case "admin_list":
		s.handleAdminList(w, req)
	case "token_mint":
		s.handleTokenMint(w, req)
	case "token_balance":
		s.handleTokenBalance(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

var mutatingMethods = map[string]bool{
	"projects_create":               true,
	"projects_invest":               true,
	"projects_markFundingFailed":    true,
	"projects_completeConstruction": true,
	"projects_depositPayoutFunds":   true,
	"projects_claimInterest":        true,
	"projects_claimPrincipal":       true,
	"projects_claimRefund":          true,
	"projects_recordEnergy":         true,
	"admin_add":                     true,
	"admin_remove":                  true,
	"token_mint":                    true,
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "rpc auth token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func (s *Server) checkRateLimit(r *http.Request) *RPCError {
	clientIP, err := s.resolveClientIP(r)
	if err != nil {
		return &RPCError{Code: codeInvalidRequest, Message: "invalid client address"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	limiter, ok := s.rateLimiters[clientIP]
	if !ok || now.Sub(limiter.windowStart) >= rateLimitWindow {
		s.rateLimiters[clientIP] = &rateLimiter{count: 1, windowStart: now}
		return nil
	}
	if limiter.count >= maxWritesPerWindow {
		return &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"}
	}
	limiter.count++
	return nil
}

func (s *Server) resolveClientIP(r *http.Request) (string, error) {
	if s.trustProxy {
		forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
		if forwarded != "" {
			parts := strings.Split(forwarded, ",")
			candidate := strings.TrimSpace(parts[0])
			if ip := net.ParseIP(candidate); ip != nil {
				return ip.String(), nil
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if ip := net.ParseIP(strings.TrimSpace(r.RemoteAddr)); ip != nil {
			return ip.String(), nil
		}
		return "", err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid remote address %q", r.RemoteAddr)
	}
	return ip.String(), nil
}

func (s *Server) publishDroppedEvents() {
	if s.bus == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := s.bus.Dropped()
	if dropped > s.lastDropped {
		observability.LedgerMetrics().RecordDroppedEvents(dropped - s.lastDropped)
		s.lastDropped = dropped
	}
}
