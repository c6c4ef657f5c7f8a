// Package transport provides HTTP API handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/abisig/internal/abisig"
	"github.com/gateway-fm/abisig/internal/storage"
	"github.com/gateway-fm/abisig/pkg/types"
)

// Input validation constants
const (
	maxRequestBody  = 1 << 20 // Maximum derive request body: 1 MiB
	maxQueryLen     = 256     // Maximum search query length
	defaultPageSize = 50
	maxPageSize     = 500
)

// ErrScanInProgress is returned by DirectoryAPI.Scan when a scan is already
// running.
var ErrScanInProgress = errors.New("scan already in progress")

// DeriveRequest is the body of POST /v1/derive. Exactly one of Signature and
// Entry must be set.
type DeriveRequest struct {
	Signature string          `json:"signature,omitempty"`
	Kind      types.EntryKind `json:"kind,omitempty"` // applies to Signature only
	Entry     *abisig.Entry   `json:"entry,omitempty"`
}

// validateDeriveRequest validates the derive request parameters
func validateDeriveRequest(req *DeriveRequest) error {
	if req.Signature == "" && req.Entry == nil {
		return fmt.Errorf("one of signature or entry is required")
	}
	if req.Signature != "" && req.Entry != nil {
		return fmt.Errorf("signature and entry are mutually exclusive")
	}
	switch req.Kind {
	case "", types.KindFunction, types.KindEvent, types.KindError:
	default:
		return fmt.Errorf("invalid kind: %s (valid: function, event, error)", req.Kind)
	}
	return nil
}

// DirectoryAPI defines the interface for the signature directory that
// handlers need.
type DirectoryAPI interface {
	LookupSelector(ctx context.Context, selector string) ([]storage.SignatureRecord, error)
	SearchSignatures(ctx context.Context, query string, limit, offset int) (*storage.PaginatedSignatures, error)
	Collisions(ctx context.Context) ([]storage.Collision, error)
	ListSources(ctx context.Context, limit, offset int) (*storage.PaginatedSources, error)

	// Scan rescans the configured artifact tree into the store.
	Scan(ctx context.Context) (*types.ScanSummary, error)
	Status(ctx context.Context) (*types.ServerStatus, error)
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckStore() error
	// CheckRPC returns false when no RPC endpoint is configured.
	CheckRPC() (bool, error)
}

// Server handles HTTP requests for the signature directory.
type Server struct {
	api       DirectoryAPI
	health    HealthChecker
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer
	gatherer  prometheus.Gatherer

	// CORS configuration
	corsAllowedOrigins []string // Parsed list of allowed origins
	corsAllowAll       bool     // True if "*" or empty (allow all origins)
}

// NewServer creates a new HTTP server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(api DirectoryAPI, health HealthChecker, gatherer prometheus.Gatherer, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Create WebSocket server for streaming scan events
	wsServer := NewWebSocketServer(logger)
	wsServer.Start()

	s := &Server{
		api:       api,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
		gatherer:  gatherer,
	}

	// Parse CORS allowed origins
	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Events returns the WebSocket broadcaster. Register it as a scan observer
// to stream file reports to subscribers.
func (s *Server) Events() *WebSocketServer {
	return s.wsServer
}

// Close stops the WebSocket broadcaster and disconnects subscribers.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Versioned API endpoints (v1)
	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/selectors/", s.corsMiddleware(s.handleSelector))
	mux.HandleFunc("/v1/signatures", s.corsMiddleware(s.handleSignatures))
	mux.HandleFunc("/v1/collisions", s.corsMiddleware(s.handleCollisions))
	mux.HandleFunc("/v1/sources", s.corsMiddleware(s.handleSources))
	mux.HandleFunc("/v1/derive", s.corsMiddleware(s.handleDerive))
	mux.HandleFunc("/v1/scan", s.corsMiddleware(s.handleScan))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics (unversioned - standard path)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Check if the origin is in the allowed list
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// writeJSON writes a 200 JSON response
func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parsePagination reads limit and offset query parameters. Out-of-range
// values fall back to the defaults.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize

	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxPageSize {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// handleStatus returns store stats and the last scan summary.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := s.api.Status(r.Context())
	if err != nil {
		s.writeJSONError(w, "Failed to get status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	status.Uptime = time.Since(s.startTime).Round(time.Second).String()
	s.writeJSON(w, status)
}

// handleSelector handles GET /v1/selectors/{selector}.
func (s *Server) handleSelector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	selector := strings.TrimPrefix(r.URL.Path, "/v1/selectors/")
	if selector == "" || strings.Contains(selector, "/") {
		s.writeJSONError(w, "Missing selector", http.StatusBadRequest)
		return
	}

	records, err := s.api.LookupSelector(r.Context(), selector)
	if err != nil {
		if errors.Is(err, abisig.ErrInvalidSelector) {
			s.writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSONError(w, "Failed to look up selector: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		s.writeJSONError(w, "Selector not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, records)
}

// handleSignatures handles GET /v1/signatures?q=&limit=&offset=.
func (s *Server) handleSignatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLen {
		s.writeJSONError(w, fmt.Sprintf("Query exceeds maximum of %d characters", maxQueryLen), http.StatusBadRequest)
		return
	}
	limit, offset := parsePagination(r)

	result, err := s.api.SearchSignatures(r.Context(), query, limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to search signatures: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, result)
}

// handleCollisions lists selectors shared by several signatures.
func (s *Server) handleCollisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	collisions, err := s.api.Collisions(r.Context())
	if err != nil {
		s.writeJSONError(w, "Failed to list collisions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if collisions == nil {
		collisions = []storage.Collision{}
	}

	s.writeJSON(w, collisions)
}

// handleSources lists scanned artifact files.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, offset := parsePagination(r)
	result, err := s.api.ListSources(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to list sources: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, result)
}

// handleDerive derives a selector without touching the store.
func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DeriveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Validate request parameters
	if err := validateDeriveRequest(&req); err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	var (
		derived types.Derived
		err     error
	)
	if req.Entry != nil {
		derived, err = abisig.Derive(*req.Entry)
	} else {
		derived, err = abisig.DeriveSignature(req.Signature, req.Kind)
	}
	if err != nil {
		s.writeJSONError(w, "Derivation failed: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.writeJSON(w, derived)
}

// handleScan rescans the artifact tree. Only one scan runs at a time.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.api.Scan(r.Context())
	if err != nil {
		if errors.Is(err, ErrScanInProgress) {
			s.writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		s.logger.Error("Scan failed", slog.String("error", err.Error()))
		s.writeJSONError(w, "Scan failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, summary)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "skipped", "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		// Check store
		start := time.Now()
		err := s.health.CheckStore()
		check := ReadinessCheck{
			Name:      "store",
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		} else {
			check.Status = "ok"
		}
		checks = append(checks, check)

		// Check RPC (optional)
		start = time.Now()
		configured, err := s.health.CheckRPC()
		check = ReadinessCheck{
			Name:      "rpc",
			LatencyMs: time.Since(start).Milliseconds(),
		}
		switch {
		case !configured:
			check.Status = "skipped"
			check.LatencyMs = 0
		case err != nil:
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		default:
			check.Status = "ok"
		}
		checks = append(checks, check)
	}

	response := map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}
