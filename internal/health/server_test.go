package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/pkg/bus"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthy(context.Context) error { return nil }

func get(t *testing.T, handler http.Handler, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w, response
}

func TestHealthCheck_MethodNotAllowed(t *testing.T) {
	server := NewServer(":0", pingFunc(healthy), nil)

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/healthz", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthCheck_Healthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := bus.NewClient(&redis.Options{Addr: mr.Addr()}, "lab", 1)
	require.NoError(t, err)
	defer client.Close()

	w, response := get(t, NewServer(":0", client, nil).Handler(), "/healthz")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, Response{Status: "healthy", Redis: "connected"}, response)
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	server := NewServer(":0", pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	}), nil)

	w, response := get(t, server.Handler(), "/healthz")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "disconnected", response.Redis)
	assert.Equal(t, "connection refused", response.Error)
}

func TestHealthCheck_ReportsSyncState(t *testing.T) {
	syncing := true
	server := NewServer(":0", pingFunc(healthy), nil, WithSyncState(func() bool { return syncing }))

	_, response := get(t, server.Handler(), "/healthz")
	assert.Equal(t, "syncing", response.Session)

	syncing = false
	_, response = get(t, server.Handler(), "/healthz")
	assert.Equal(t, "live", response.Session)
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	metrics.RecordPublished()

	server := NewServer("127.0.0.1:0", pingFunc(healthy), reg)
	require.NoError(t, server.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, server.Shutdown(ctx))
	}()

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "redwood_envelopes_published_total")
}

func TestServer_StartFailsOnBadAddress(t *testing.T) {
	server := NewServer("not-an-address", pingFunc(healthy), nil)
	assert.Error(t, server.Start())
	assert.NoError(t, server.Shutdown(context.Background()))
}
