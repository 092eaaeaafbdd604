// metrics.go — Prometheus HTTP метрики для Archive Service.
// Регистрирует метрики: as_http_requests_total, as_http_request_duration_seconds.
// Бизнес-метрики (as_artifacts_total, as_operations_total) объявлены здесь
// и обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "as_http_requests_total",
			Help: "Общее количество HTTP-запросов к Archive Service",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "as_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Archive Service в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// ArtifactsTotal — текущее количество записей об артефактах по статусам (gauge).
	ArtifactsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "as_artifacts_total",
			Help: "Текущее количество записей об артефактах",
		},
		[]string{"status"},
	)

	// OperationsTotal — общее количество операций с артефактами.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "as_operations_total",
			Help: "Общее количество операций с артефактами",
		},
		[]string{"operation", "result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Идентификаторы артефактов заменяются на {id}
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

const artifactsPrefix = "/api/v1/artifacts/"

// normalizePath заменяет идентификатор артефакта на {id} для предотвращения
// взрывного роста кардинальности метрик. Неизвестные пути сводятся к "other".
// /api/v1/artifacts/a1b2c3d4-e5f6-7890-abcd-ef1234567890/download → /api/v1/artifacts/{id}/download
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/artifacts",
		"/api/v1/archives/compress", "/api/v1/archives/decompress",
		"/api/v1/maintenance/reclaim":
		return path
	}

	if rest, ok := strings.CutPrefix(path, artifactsPrefix); ok && rest != "" {
		id, suffix, _ := strings.Cut(rest, "/")
		if id != "" {
			switch suffix {
			case "":
				return artifactsPrefix + "{id}"
			case "download":
				return artifactsPrefix + "{id}/download"
			}
		}
	}
	return "other"
}
