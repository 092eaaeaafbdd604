// errors.go — единая точка преобразования ошибок сервисного слоя в HTTP-ответы.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/archive-service/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-service/internal/service"
)

// writeServiceError записывает ответ по виду ошибки сервиса.
// Клиентские ошибки (4xx) отдаются с текстом ошибки,
// серверные (5xx) логируются, клиенту — краткое описание.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrUnsupportedType):
		apierrors.UnsupportedType(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrFileNotFound):
		apierrors.FileNotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.InvalidTransition(w, err.Error())
	case errors.Is(err, service.ErrReclaimInProgress):
		apierrors.ReclaimInProgress(w, "Очистка уже выполняется")
	case errors.Is(err, service.ErrArchiveFailed):
		logServerError(r, logger, err)
		apierrors.ArchiveFailed(w, "Ошибка архивации")
	case errors.Is(err, service.ErrIOFailure):
		logServerError(r, logger, err)
		apierrors.IOFailure(w, "Ошибка файловой системы")
	case errors.Is(err, context.Canceled):
		// Клиент отключился, ответ уже никто не прочитает
		logger.Debug("Запрос отменён клиентом", slog.String("path", r.URL.Path))
	default:
		logServerError(r, logger, err)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

func logServerError(r *http.Request, logger *slog.Logger, err error) {
	logger.ErrorContext(r.Context(), "Ошибка обработки запроса",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}
