// health.go — обработчики health endpoints для Kubernetes probes.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (хранилище записей, директории хранения, WAL)
// /metrics — Prometheus метрики
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/archive-service/internal/config"
)

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// HealthHandler реализует health endpoints.
type HealthHandler struct {
	store ReadinessChecker
	// dirs — директории, недоступность которых на запись делает сервис неготовым
	dirs map[string]string
	// walDir — директория WAL (недоступность — degraded)
	walDir      string
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// store может быть nil — readiness вернёт "fail".
func NewHealthHandler(store ReadinessChecker, storageDir, tempDir, walDir string) *HealthHandler {
	dirs := map[string]string{}
	if storageDir != "" {
		dirs["storage"] = storageDir
	}
	if tempDir != "" {
		dirs["temp"] = tempDir
	}
	return &HealthHandler{
		store:       store,
		dirs:        dirs,
		walDir:      walDir,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse — ответ liveness/readiness probe.
type healthResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks,omitempty"`
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "archive-service",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]healthCheckResult, len(h.dirs)+2)

	if h.store != nil {
		st, msg := h.store.CheckReady()
		checks["record_store"] = healthCheckResult{Status: st, Message: msg}
	} else {
		checks["record_store"] = healthCheckResult{Status: statusFail, Message: "не инициализировано"}
	}

	statuses := []string{checks["record_store"].Status}
	for name, dir := range h.dirs {
		res := checkWritable(dir, statusFail)
		checks[name] = res
		statuses = append(statuses, res.Status)
	}
	if h.walDir != "" {
		res := checkWritable(h.walDir, statusDegraded)
		checks["wal"] = res
		statuses = append(statuses, res.Status)
	}

	resp := healthResponse{
		Status:    overallStatus(statuses...),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "archive-service",
		Checks:    checks,
	}

	httpStatus := http.StatusOK
	if resp.Status == statusFail {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// checkWritable проверяет доступность директории на запись.
// failStatus — статус при недоступности.
func checkWritable(dir, failStatus string) healthCheckResult {
	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return healthCheckResult{
			Status:  failStatus,
			Message: "Директория недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)
	return healthCheckResult{Status: statusOK}
}

// overallStatus определяет итоговый статус из статусов проверок.
// Если хотя бы одна проверка fail — итог fail.
// Если хотя бы одна degraded — итог degraded. Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		switch s {
		case statusFail:
			return statusFail
		case statusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
