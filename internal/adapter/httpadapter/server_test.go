package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-predict-service/internal/adapter/httpadapter"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

func newTestServer(checks httpadapter.Checks, reg *prometheus.Registry) *httpadapter.Server {
	return httpadapter.NewServer(":0", checks, reg, slog.Default())
}

func get(t *testing.T, srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil, prometheus.NewRegistry())
	rec := get(t, srv, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyzReturns200WhenEveryCheckPasses(t *testing.T) {
	checks := httpadapter.Checks{
		{Name: "database", Checker: &mockReadiness{}},
		{Name: "model", Checker: &mockReadiness{}},
	}
	rec := get(t, newTestServer(checks, prometheus.NewRegistry()), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestReadyzReturns503NamingFailedCheck(t *testing.T) {
	checks := httpadapter.Checks{
		{Name: "database", Checker: &mockReadiness{err: errors.New("connection refused")}},
		{Name: "model", Checker: &mockReadiness{}},
	}
	rec := get(t, newTestServer(checks, prometheus.NewRegistry()), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "database: connection refused", body["error"])
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "aqi_predict_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rec := get(t, newTestServer(nil, reg), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aqi_predict_test_total 1")
}

func TestUnknownRouteIs404(t *testing.T) {
	rec := get(t, newTestServer(nil, prometheus.NewRegistry()), "/results")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
