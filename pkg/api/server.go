// Package api exposes the lock arbitration engine over HTTP and
// WebSocket. It is adapted from the teacher's agent API server: the same
// mux-plus-CORS-middleware shape, the same writeJSON/writeError helpers,
// generalized from agent lifecycle endpoints to lock operations.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/lockarb/lockd/pkg/audit"
	"github.com/lockarb/lockd/pkg/lock"
	"github.com/lockarb/lockd/pkg/metrics"
	"github.com/lockarb/lockd/pkg/policy"
)

// Server is the lock arbitration HTTP façade.
type Server struct {
	engine     *lock.Engine
	policy     *policy.Checker
	audit      *audit.Store
	metrics    *metrics.Metrics
	settings   *Settings
	hub        *Hub
	resources  *resourceSet
	httpServer *http.Server
}

// Settings holds configurable server settings.
type Settings struct {
	AllowedOrigins []string
	mu             sync.RWMutex
}

// DefaultSettings returns default server settings.
func DefaultSettings() *Settings {
	return &Settings{AllowedOrigins: []string{"*"}}
}

// Config holds server construction parameters.
type Config struct {
	Engine   *lock.Engine
	Policy   *policy.Checker
	Audit    *audit.Store
	Metrics  *metrics.Metrics
	Settings *Settings
}

// NewServer creates a new API server around an already-constructed engine.
func NewServer(cfg Config) *Server {
	if cfg.Settings == nil {
		cfg.Settings = DefaultSettings()
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.NewChecker()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	s := &Server{
		engine:    cfg.Engine,
		policy:    cfg.Policy,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		settings:  cfg.Settings,
		hub:       newHub(),
		resources: newResourceSet(),
	}
	go s.hub.run()
	return s
}

// WatchedResources returns every resource that has had a lock request
// queued, for a Scavenger to sweep.
func (s *Server) WatchedResources() []lock.Keys {
	snapshot := s.resources.snapshot()
	keys := make([]lock.Keys, 0, len(snapshot))
	for _, pair := range snapshot {
		keys = append(keys, lock.Keys{ResourceType: pair[0], ResourceID: pair[1]})
	}
	return keys
}

// Handler builds the routed mux, useful for tests that want to drive the
// server with httptest.NewServer without binding a real port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.corsMiddleware(s.metrics.InstrumentHTTP(pattern, h)))
	}

	route("/v1/locks/acquire", s.handleAcquire)
	route("/v1/locks/release", s.handleRelease)
	route("/v1/locks/cancel", s.handleCancel)
	route("/v1/locks/extend", s.handleExtend)
	route("GET /v1/locks/{lock_id}/status", s.handleStatus)
	route("/v1/locks/cleanup", s.handleCleanup)
	route("/v1/policies/check", s.handlePolicyCheck)
	route("/v1/audit", s.handleAudit)
	mux.HandleFunc("/v1/ws", s.handleWebSocket)

	mux.Handle("/metrics", s.metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	return mux
}

// Start runs the HTTP server on the given port until it errors or is
// stopped via Stop.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}

	fmt.Printf("lockd: api server listening on :%d\n", port)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.settings.mu.RLock()
		origins := s.settings.AllowedOrigins
		s.settings.mu.RUnlock()

		origin := r.Header.Get("Origin")
		allowed := false
		for _, o := range origins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a transport-level error: malformed request bodies,
// missing required fields. Engine-level failures (not found, not owner,
// expired) are reported as 200 with a structured error body instead —
// see writeEngineError — because they are expected, routine outcomes of
// arbitration, not transport faults.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

// writeEngineError maps a *lock.Error into the same 200-with-body shape
// as a successful response, distinguished only by its status field.
func writeEngineError(w http.ResponseWriter, err error) {
	if lockErr, ok := lock.AsError(err); ok {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "error",
			"kind":    string(lockErr.Kind),
			"message": lockErr.Message,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
