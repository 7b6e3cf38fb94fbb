package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/comet/pkg/metrics"
	"github.com/cuemby/comet/pkg/types"
)

// Status is the view of the running broker the health endpoints report on
type Status interface {
	LedgerCount() (int, error)
	SubscriberCount() int
	ReceiverAddr() net.Addr  // nil when the receiver is disabled
	PublisherAddr() net.Addr // nil when the publisher is disabled
	RemoteStates() map[string]types.ConnState
}

// HealthServer provides HTTP health check and metrics endpoints
type HealthServer struct {
	status  Status
	version string
	mux     *http.ServeMux
	server  *http.Server
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(status Status, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		status:  status,
		version: version,
		mux:     mux,
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/live", hs.liveHandler)
	mux.Handle("/metrics", metrics.Handler())

	hs.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return hs
}

// Serve serves the endpoints on ln until Shutdown is called
func (hs *HealthServer) Serve(ln net.Listener) error {
	if err := hs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint from the component registry
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := metrics.GetHealth()
	response := HealthResponse{
		Status:     health.Status,
		Timestamp:  time.Now(),
		Version:    hs.version,
		Uptime:     health.Uptime,
		Components: health.Components,
	}

	statusCode := http.StatusOK
	if health.Status == metrics.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint
// The broker is ready when the ledger answers and every critical component
// has reported in healthy. Remote subscriptions are informational only.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.status == nil {
		checks["ledger"] = "not initialized"
		ready = false
		message = "Broker not initialized"
	} else {
		if count, err := hs.status.LedgerCount(); err != nil {
			checks["ledger"] = fmt.Sprintf("error: %v", err)
			ready = false
			message = "Ledger not accessible"
		} else {
			checks["ledger"] = fmt.Sprintf("ok (%d ivorns)", count)
		}

		checks["receiver"] = describeListener(hs.status.ReceiverAddr())
		checks["publisher"] = describeListener(hs.status.PublisherAddr())
		if hs.status.PublisherAddr() != nil {
			checks["publisher"] += fmt.Sprintf(" (%d subscribers)", hs.status.SubscriberCount())
		}

		for remote, state := range hs.status.RemoteStates() {
			checks["remote:"+remote] = string(state)
		}
	}

	if readiness := metrics.GetReadiness(); readiness.Status != metrics.StatusReady {
		ready = false
		if message == "" {
			message = readiness.Message
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

func describeListener(addr net.Addr) string {
	if addr == nil {
		return "disabled"
	}
	return "listening on " + addr.String()
}

// liveHandler answers as long as the process is serving HTTP
func (hs *HealthServer) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
		"uptime": metrics.GetHealth().Uptime,
	})
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
