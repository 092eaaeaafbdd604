package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/archive-service/internal/service"
)

// stubReclaimer — заглушка ReclaimRunner.
type stubReclaimer struct {
	result *service.SweepResult
	err    error
}

func (s *stubReclaimer) RunOnce(context.Context) (*service.SweepResult, error) {
	return s.result, s.err
}

func TestMaintenance_Reclaim(t *testing.T) {
	h := NewMaintenanceHandler(&stubReclaimer{result: &service.SweepResult{
		Candidates: 3,
		Reclaimed:  2,
		Failed:     1,
		Duration:   time.Millisecond,
	}}, testLogger())

	rec := httptest.NewRecorder()
	h.Reclaim(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reclaim", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[service.SweepResult](t, rec)
	require.Equal(t, 3, got.Candidates)
	require.Equal(t, 2, got.Reclaimed)
	require.Equal(t, 1, got.Failed)
}

func TestMaintenance_ReclaimInProgress(t *testing.T) {
	h := NewMaintenanceHandler(&stubReclaimer{err: service.ErrReclaimInProgress}, testLogger())

	rec := httptest.NewRecorder()
	h.Reclaim(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reclaim", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "RECLAIM_IN_PROGRESS", errorCode(t, rec))
}
