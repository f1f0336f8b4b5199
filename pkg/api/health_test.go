package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/breaker"
	"github.com/cuemby/shardbroker/pkg/cache/substrate"
	"github.com/cuemby/shardbroker/pkg/types"
)

type failingSubstrate struct{ substrate.Substrate }

func (failingSubstrate) Scan(prefix string) ([]string, error) {
	return nil, errors.New("substrate unreachable")
}

func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil, nil, "")

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request succeeds", http.MethodGet, http.StatusOK},
		{"POST request fails", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request fails", http.MethodPut, http.StatusMethodNotAllowed},
		{"DELETE request fails", http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				err := json.NewDecoder(w.Body).Decode(&response)
				assert.NoError(t, err)
				assert.Equal(t, "healthy", response.Status)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

func TestHealthHandlerJSONFormat(t *testing.T) {
	hs := NewHealthServer(nil, nil, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	hs.healthHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response HealthResponse
	err := json.NewDecoder(w.Body).Decode(&response)
	assert.NoError(t, err)
	assert.Equal(t, "healthy", response.Status)
	assert.False(t, response.Timestamp.IsZero())
	assert.Equal(t, "1.0.0", response.Version)
}

func TestReadyHandlerNoDependencies(t *testing.T) {
	hs := NewHealthServer(nil, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response ReadyResponse
	err := json.NewDecoder(w.Body).Decode(&response)
	assert.NoError(t, err)

	assert.Equal(t, "not ready", response.Status)
	assert.Contains(t, response.Checks["breakers"], "not initialized")
	assert.Contains(t, response.Checks["cache"], "not initialized")
	assert.NotEmpty(t, response.Message)
}

func TestReadyHandlerAllWired(t *testing.T) {
	hs := NewHealthServer(breaker.NewStore(), substrate.NewMemSubstrate(), "")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	err := json.NewDecoder(w.Body).Decode(&response)
	assert.NoError(t, err)
	assert.Equal(t, "ready", response.Status)
	assert.Contains(t, response.Checks["breakers"], "ok")
	assert.Contains(t, response.Checks["cache"], "ok")
}

func TestReadyHandlerReportsOpenBreakers(t *testing.T) {
	store := breaker.NewStore()
	for i := 0; i < 5; i++ {
		store.RecordFailure(types.ShardID("shard-0"))
	}
	require := assert.New(t)
	require.True(store.IsOpen(types.ShardID("shard-0")))

	hs := NewHealthServer(store, substrate.NewMemSubstrate(), "")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "an open breaker degrades but does not fail readiness")

	var response ReadyResponse
	err := json.NewDecoder(w.Body).Decode(&response)
	assert.NoError(t, err)
	assert.Contains(t, response.Checks["breakers"], "1 open")
}

func TestReadyHandlerCacheError(t *testing.T) {
	hs := NewHealthServer(breaker.NewStore(), failingSubstrate{}, "")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ReadyResponse
	err := json.NewDecoder(w.Body).Decode(&response)
	assert.NoError(t, err)
	assert.Contains(t, response.Checks["cache"], "error")
}

func TestResetBreakersHandler(t *testing.T) {
	store := breaker.NewStore()
	for i := 0; i < 5; i++ {
		store.RecordFailure(types.ShardID("shard-0"))
	}
	assert.True(t, store.IsOpen(types.ShardID("shard-0")))

	hs := NewHealthServer(store, substrate.NewMemSubstrate(), "")

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-breakers", nil)
	w := httptest.NewRecorder()
	hs.resetBreakersHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, store.IsOpen(types.ShardID("shard-0")))
}

func TestResetBreakersHandlerNotInitialized(t *testing.T) {
	hs := NewHealthServer(nil, substrate.NewMemSubstrate(), "")

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-breakers", nil)
	w := httptest.NewRecorder()
	hs.resetBreakersHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestResetBreakersHandlerMethodValidation(t *testing.T) {
	hs := NewHealthServer(breaker.NewStore(), substrate.NewMemSubstrate(), "")

	req := httptest.NewRequest(http.MethodGet, "/admin/reset-breakers", nil)
	w := httptest.NewRecorder()
	hs.resetBreakersHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestBreakersHandler(t *testing.T) {
	store := breaker.NewStore()
	for i := 0; i < 3; i++ {
		store.RecordFailure(types.ShardID("shard-0"))
	}

	hs := NewHealthServer(store, substrate.NewMemSubstrate(), "")

	req := httptest.NewRequest(http.MethodGet, "/admin/breakers", nil)
	w := httptest.NewRecorder()
	hs.breakersHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var snapshot map[types.ShardID]types.BreakerRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snapshot))
	assert.Contains(t, snapshot, types.ShardID("shard-0"))
}

func TestBreakersHandlerNotInitialized(t *testing.T) {
	hs := NewHealthServer(nil, substrate.NewMemSubstrate(), "")

	req := httptest.NewRequest(http.MethodGet, "/admin/breakers", nil)
	w := httptest.NewRecorder()
	hs.breakersHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBreakersHandlerMethodValidation(t *testing.T) {
	hs := NewHealthServer(breaker.NewStore(), substrate.NewMemSubstrate(), "")

	req := httptest.NewRequest(http.MethodPost, "/admin/breakers", nil)
	w := httptest.NewRecorder()
	hs.breakersHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestReadyHandlerMethodValidation(t *testing.T) {
	hs := NewHealthServer(nil, nil, "")

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request accepted", http.MethodGet, http.StatusServiceUnavailable},
		{"POST request rejected", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request rejected", http.MethodPut, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ready", nil)
			w := httptest.NewRecorder()

			hs.readyHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestNewHealthServer(t *testing.T) {
	hs := NewHealthServer(nil, nil, "")

	assert.NotNil(t, hs)
	assert.NotNil(t, hs.mux)
	assert.Nil(t, hs.breakers)

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/nonexistent", http.StatusNotFound},
		{"/admin/reset-breakers", http.StatusMethodNotAllowed},
		{"/admin/breakers", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			hs.mux.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func TestGetHandler(t *testing.T) {
	hs := NewHealthServer(nil, nil, "")

	handler := hs.GetHandler()
	assert.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthServerConcurrency(t *testing.T) {
	hs := NewHealthServer(breaker.NewStore(), substrate.NewMemSubstrate(), "")

	done := make(chan bool, 20)

	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			hs.healthHandler(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			hs.readyHandler(w, req)
			assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, w.Code)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}
}
