package handlers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubChecker — заглушка ReadinessChecker.
type stubChecker struct {
	status, message string
}

func (s stubChecker) CheckReady() (string, string) { return s.status, s.message }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, "", "", "")
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	require.Equal(t, statusOK, resp.Status)
	require.Equal(t, "archive-service", resp.Service)
}

func TestHealthReady(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing", "dir")

	tests := []struct {
		name       string
		store      ReadinessChecker
		storageDir string
		walDir     string
		wantHTTP   int
		wantStatus string
	}{
		{"всё доступно", stubChecker{status: statusOK}, t.TempDir(), t.TempDir(), http.StatusOK, statusOK},
		{"хранилище записей недоступно", stubChecker{status: statusFail, message: "down"}, t.TempDir(), t.TempDir(), http.StatusServiceUnavailable, statusFail},
		{"хранилище записей не задано", nil, t.TempDir(), t.TempDir(), http.StatusServiceUnavailable, statusFail},
		{"WAL недоступен", stubChecker{status: statusOK}, t.TempDir(), missing, http.StatusOK, statusDegraded},
		{"директория хранения недоступна", stubChecker{status: statusOK}, missing, t.TempDir(), http.StatusServiceUnavailable, statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.store, tt.storageDir, t.TempDir(), tt.walDir)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			require.Equal(t, tt.wantHTTP, rec.Code, rec.Body.String())
			resp := decode[healthResponse](t, rec)
			require.Equal(t, tt.wantStatus, resp.Status)
			require.Contains(t, resp.Checks, "record_store")
		})
	}
}

func TestOverallStatus(t *testing.T) {
	require.Equal(t, statusOK, overallStatus(statusOK, statusOK))
	require.Equal(t, statusDegraded, overallStatus(statusOK, statusDegraded))
	require.Equal(t, statusFail, overallStatus(statusDegraded, statusFail))
}

func TestGetMetrics(t *testing.T) {
	h := NewHealthHandler(nil, "", "", "")
	rec := httptest.NewRecorder()
	h.GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
