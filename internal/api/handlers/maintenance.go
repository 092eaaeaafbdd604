// maintenance.go — обработчик POST /api/v1/maintenance/reclaim.
// Делегирует внеочередной цикл очистки в ReclaimService.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/archive-service/internal/service"
)

// ReclaimRunner — интерфейс для запуска цикла очистки.
// Позволяет тестировать handler без полного ReclaimService.
type ReclaimRunner interface {
	// RunOnce выполняет один цикл очистки.
	// ErrReclaimInProgress, если цикл уже выполняется.
	RunOnce(ctx context.Context) (*service.SweepResult, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reclaimer ReclaimRunner
	logger    *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reclaimer ReclaimRunner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		reclaimer: reclaimer,
		logger:    logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Reclaim обрабатывает POST /api/v1/maintenance/reclaim.
// Запускает синхронный цикл очистки и возвращает результат.
// Если цикл уже выполняется — 409 RECLAIM_IN_PROGRESS.
func (h *MaintenanceHandler) Reclaim(w http.ResponseWriter, r *http.Request) {
	result, err := h.reclaimer.RunOnce(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
