package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/shardbroker/pkg/breaker"
	"github.com/cuemby/shardbroker/pkg/cache"
	"github.com/cuemby/shardbroker/pkg/cache/substrate"
	"github.com/cuemby/shardbroker/pkg/metrics"
	"github.com/cuemby/shardbroker/pkg/types"
)

// HealthServer provides HTTP health check endpoints for the broker
// process, kept to the teacher's three-endpoint shape (/health, /ready,
// /metrics); readiness now checks the breaker store and cache
// substrate instead of raft-leader/storage state.
type HealthServer struct {
	breakers *breaker.Store
	cache    substrate.Substrate
	version  string
	mux      *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server. Either
// dependency may be nil (e.g. in tests), in which case the
// corresponding readiness check reports "not initialized".
func NewHealthServer(breakers *breaker.Store, cache substrate.Substrate, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		breakers: breakers,
		cache:    cache,
		version:  version,
		mux:      mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/admin/reset-breakers", hs.resetBreakersHandler)
	mux.HandleFunc("/admin/breakers", hs.breakersHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 if the process is alive.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler checks whether the broker is ready to accept traffic:
// the breaker store is wired (shard dispatch has somewhere to record
// state) and the cache substrate answers a basic scan.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.breakers != nil {
		snapshot := hs.breakers.Snapshot()
		openCount := 0
		for _, rec := range snapshot {
			if rec.State == types.BreakerOpen {
				openCount++
			}
		}
		checks["breakers"] = fmt.Sprintf("ok (%d shard(s) tracked, %d open)", len(snapshot), openCount)
	} else {
		checks["breakers"] = "not initialized"
		ready = false
		message = "Breaker store not initialized"
	}

	if hs.cache != nil {
		if _, err := hs.cache.Scan(""); err != nil {
			checks["cache"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Cache substrate not accessible"
			}
		} else {
			checks["cache"] = fmt.Sprintf("ok (hit rate %.2f)", cache.HitRate())
		}
	} else {
		checks["cache"] = "not initialized"
		ready = false
		if message == "" {
			message = "Cache substrate not initialized"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// resetBreakersHandler clears all process-global circuit breaker state
// (spec §6 reset_circuit_breakers), exposed for test harnesses driving a
// live broker process rather than an in-process Go caller.
func (hs *HealthServer) resetBreakersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if hs.breakers == nil {
		http.Error(w, "breaker store not initialized", http.StatusServiceUnavailable)
		return
	}

	hs.breakers.Reset()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// breakersHandler is the read-only companion to resetBreakersHandler: a
// debug dump of every shard's breaker state (SPEC_FULL's
// SnapshotCircuitBreakers supplement to spec §6's reset-only hook).
func (hs *HealthServer) breakersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if hs.breakers == nil {
		http.Error(w, "breaker store not initialized", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(hs.breakers.Snapshot())
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
