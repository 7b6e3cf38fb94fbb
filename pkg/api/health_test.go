package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/comet/pkg/metrics"
	"github.com/cuemby/comet/pkg/types"
)

type fakeStatus struct {
	ledgerCount int
	ledgerErr   error
	subscribers int
	receiver    net.Addr
	publisher   net.Addr
	remotes     map[string]types.ConnState
}

func (f *fakeStatus) LedgerCount() (int, error)                { return f.ledgerCount, f.ledgerErr }
func (f *fakeStatus) SubscriberCount() int                     { return f.subscribers }
func (f *fakeStatus) ReceiverAddr() net.Addr                   { return f.receiver }
func (f *fakeStatus) PublisherAddr() net.Addr                  { return f.publisher }
func (f *fakeStatus) RemoteStates() map[string]types.ConnState { return f.remotes }

func healthyBroker() *fakeStatus {
	return &fakeStatus{
		ledgerCount: 3,
		subscribers: 2,
		receiver:    &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8098},
		publisher:   &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8099},
		remotes:     map[string]types.ConnState{"upstream.example.org:8099": types.ConnStateConnecting},
	}
}

func registerCritical(healthy bool) {
	for _, name := range []string{"ledger", "receiver", "publisher"} {
		metrics.RegisterComponent(name, healthy, "")
	}
}

func serve(hs *HealthServer, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, req)
	return w
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	registerCritical(true)
	hs := NewHealthServer(healthyBroker(), "v0.1.0")

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request succeeds", http.MethodGet, http.StatusOK},
		{"POST request fails", http.MethodPost, http.StatusMethodNotAllowed},
		{"DELETE request fails", http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(hs, tt.method, "/health")
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, "v0.1.0", response.Version)
				assert.NotZero(t, response.Timestamp)
				assert.Equal(t, "healthy", response.Components["ledger"])
			}
		})
	}
}

func TestHealthHandlerUnhealthyComponent(t *testing.T) {
	registerCritical(true)
	metrics.UpdateComponent("publisher", false, "listener closed")
	t.Cleanup(func() { registerCritical(true) })

	w := serve(NewHealthServer(healthyBroker(), "dev"), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "unhealthy: listener closed", response.Components["publisher"])
}

func TestReadyHandlerReady(t *testing.T) {
	registerCritical(true)

	w := serve(NewHealthServer(healthyBroker(), "dev"), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "ok (3 ivorns)", response.Checks["ledger"])
	assert.Equal(t, "listening on 127.0.0.1:8098", response.Checks["receiver"])
	assert.Equal(t, "listening on 127.0.0.1:8099 (2 subscribers)", response.Checks["publisher"])
	assert.Equal(t, "connecting", response.Checks["remote:upstream.example.org:8099"])
}

func TestReadyHandlerLedgerError(t *testing.T) {
	registerCritical(true)
	status := healthyBroker()
	status.ledgerErr = errors.New("database not open")
	status.publisher = nil

	w := serve(NewHealthServer(status, "dev"), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "not ready", response.Status)
	assert.Contains(t, response.Checks["ledger"], "database not open")
	assert.Equal(t, "disabled", response.Checks["publisher"])
	assert.Equal(t, "Ledger not accessible", response.Message)
}

// TestReadyHandlerNoBroker tests readiness endpoint with nothing to report on
func TestReadyHandlerNoBroker(t *testing.T) {
	hs := NewHealthServer(nil, "dev")

	w := serve(hs, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "not ready", response.Status)
	assert.Equal(t, "not initialized", response.Checks["ledger"])
	assert.NotEmpty(t, response.Message)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(hs, http.MethodPost, "/ready").Code)
}

// TestRoutes verifies every endpoint is registered
func TestRoutes(t *testing.T) {
	registerCritical(true)
	hs := NewHealthServer(healthyBroker(), "dev")

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusOK},
		{"/live", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nonexistent", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, serve(hs, http.MethodGet, tt.path).Code)
		})
	}
}

func TestServeAndShutdown(t *testing.T) {
	hs := NewHealthServer(healthyBroker(), "dev")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- hs.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, hs.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
