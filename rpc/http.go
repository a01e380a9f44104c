package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"dinmarket/core/state"
	"dinmarket/native/checkout"
	"dinmarket/native/common"
	"dinmarket/native/orderlog"
	"dinmarket/native/registry"
	"dinmarket/native/token"
	"dinmarket/observability"
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
	codeRejected       = -32030
	codeRateLimited    = -32020
)

// Server exposes the settlement engine and its collaborators over JSON-RPC.
type Server struct {
	engine   *checkout.Engine
	accounts *state.Manager
	registry *registry.Registry
	static   *registry.StaticResolver
	resolver string
	ledger   *token.Ledger
	orders   *orderlog.Log
	pauses   *common.PauseSet
	metrics  *observability.CheckoutMetrics
	logger   *slog.Logger

	authToken string

	mu        sync.Mutex
	visitors  map[string]*visitor
	newLimit  func() *rate.Limiter
	lastPrune time.Time
}

// visitorIdleTTL bounds how long an idle client keeps its rate limiter.
const visitorIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ServerConfig wires the collaborators a Server exposes.
type ServerConfig struct {
	Engine   *checkout.Engine
	Accounts *state.Manager
	Registry *registry.Registry
	Static   *registry.StaticResolver
	// ResolverID is the identifier the static resolver is registered
	// under; provisioning binds new DINs to it.
	ResolverID string
	Ledger     *token.Ledger
	Orders     *orderlog.Log
	// Pauses is the pause set admin methods toggle. Nil disables the
	// system_setPaused method.
	Pauses  *common.PauseSet
	Metrics *observability.CheckoutMetrics
	Logger     *slog.Logger
	// AdminToken guards provisioning methods. Empty disables them.
	AdminToken string
	// RatePerMinute caps requests per client address. Zero disables.
	RatePerMinute float64
	RateBurst     int
}

// NewServer creates a JSON-RPC server for the given collaborators.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    cfg.Engine,
		accounts:  cfg.Accounts,
		registry:  cfg.Registry,
		static:    cfg.Static,
		resolver:  cfg.ResolverID,
		ledger:    cfg.Ledger,
		orders:    cfg.Orders,
		pauses:    cfg.Pauses,
		metrics:   cfg.Metrics,
		logger:    logger,
		authToken: strings.TrimSpace(cfg.AdminToken),
		visitors:  make(map[string]*visitor),
		lastPrune: time.Now(),
	}
	if cfg.RatePerMinute > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 10
		}
		s.newLimit = func() *rate.Limiter {
			return rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), burst)
		}
	}
	return s
}

// Router assembles the HTTP surface: the JSON-RPC endpoint plus health and
// metrics routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on the given address and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
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
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) allow(r *http.Request) bool {
	if s.newLimit == nil {
		return true
	}
	id := clientID(r)
	now := time.Now()
	s.mu.Lock()
	if now.Sub(s.lastPrune) >= visitorIdleTTL {
		s.pruneVisitors(now)
		s.lastPrune = now
	}
	v, ok := s.visitors[id]
	if !ok {
		v = &visitor{limiter: s.newLimit()}
		s.visitors[id] = v
	}
	v.lastSeen = now
	s.mu.Unlock()
	return v.limiter.Allow()
}

// pruneVisitors drops limiters idle past the TTL. Caller holds s.mu.
func (s *Server) pruneVisitors(now time.Time) {
	for id, v := range s.visitors {
		if now.Sub(v.lastSeen) >= visitorIdleTTL {
			delete(s.visitors, id)
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	return header == "Bearer "+s.authToken
}

// handle is the main request handler that routes to method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/json")
	requestID := uuid.NewString()
	logger := s.logger.With("requestId", requestID, "client", clientID(r))

	if !s.allow(r) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", nil)
		return
	}
	logger = logger.With("method", req.Method)

	switch req.Method {
	case "checkout_buy":
		s.handleBuy(w, &req, logger)
	case "checkout_isValidOrder":
		s.handleIsValidOrder(w, &req)
	case "checkout_isValidSignature":
		s.handleIsValidSignature(w, &req)
	case "checkout_getOrder":
		s.handleGetOrder(w, &req)
	case "checkout_orderCount":
		s.handleOrderCount(w, &req)
	case "checkout_getBalance":
		s.handleGetBalance(w, &req)
	case "registry_register":
		s.handleAdmin(w, r, &req, logger, s.handleRegistryRegister)
	case "registry_setMerchant":
		s.handleAdmin(w, r, &req, logger, s.handleRegistrySetMerchant)
	case "token_mint":
		s.handleAdmin(w, r, &req, logger, s.handleTokenMint)
	case "token_setWhitelisted":
		s.handleAdmin(w, r, &req, logger, s.handleTokenSetWhitelisted)
	case "system_setPaused":
		s.handleAdmin(w, r, &req, logger, s.handleSetPaused)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

type adminHandler func(w http.ResponseWriter, req *RPCRequest, logger *slog.Logger)

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest, logger *slog.Logger, next adminHandler) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", nil)
		return
	}
	next(w, req, logger)
}
