// artifacts.go — HTTP handlers операций с артефактами.
// Сжатие, распаковка, список, метаданные, скачивание.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/archive-service/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-service/internal/repository"
	"github.com/bigkaa/goartstore/archive-service/internal/service"
)

// multipartField — имя поля multipart с загружаемыми файлами (повторяемое).
const multipartField = "files"

// multipartMemory — объём multipart, хранимый в памяти; остальное — во временных файлах.
const multipartMemory = 32 << 20

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// ArchiveOperations — операции загрузки и скачивания.
type ArchiveOperations interface {
	Compress(ctx context.Context, inputs []service.Input) (*service.UploadResult, error)
	Decompress(ctx context.Context, inputs []service.Input) (*service.UploadResult, error)
	Download(ctx context.Context, id string) (*service.Download, error)
}

// ArtifactReader — чтение записей об артефактах.
type ArtifactReader interface {
	Get(ctx context.Context, id string) (*model.ArtifactRecord, error)
	List(ctx context.Context, filter repository.ListFilter, limit, offset int) ([]*model.ArtifactRecord, int, error)
}

// ArtifactsHandler — обработчик endpoints артефактов.
type ArtifactsHandler struct {
	archives      ArchiveOperations
	reader        ArtifactReader
	maxUploadSize int64
	logger        *slog.Logger
}

// NewArtifactsHandler создаёт обработчик. maxUploadSize — лимит тела запроса загрузки.
func NewArtifactsHandler(archives ArchiveOperations, reader ArtifactReader, maxUploadSize int64, logger *slog.Logger) *ArtifactsHandler {
	return &ArtifactsHandler{
		archives:      archives,
		reader:        reader,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "artifacts_handler")),
	}
}

// uploadResponse — ответ на успешную загрузку.
type uploadResponse struct {
	model.ArtifactView
	Entries []string `json:"entries"`
}

// listResponse — страница списка артефактов.
type listResponse struct {
	Items   []model.ArtifactView `json:"items"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
	HasMore bool                 `json:"has_more"`
}

// Compress обрабатывает POST /api/v1/archives/compress.
// Multipart form: files (один или несколько файлов).
func (h *ArtifactsHandler) Compress(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, h.archives.Compress)
}

// Decompress обрабатывает POST /api/v1/archives/decompress.
// Multipart form: files (.zip или .gz).
func (h *ArtifactsHandler) Decompress(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, h.archives.Decompress)
}

type uploadFunc func(ctx context.Context, inputs []service.Input) (*service.UploadResult, error)

func (h *ArtifactsHandler) upload(w http.ResponseWriter, r *http.Request, run uploadFunc) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер загрузки превышает %d байт", maxErr.Limit))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[multipartField]
	if len(headers) == 0 {
		apierrors.ValidationError(w, fmt.Sprintf("Поле '%s' обязательно", multipartField))
		return
	}

	inputs, closeAll, err := openParts(headers)
	defer closeAll()
	if err != nil {
		writeServiceError(w, r, h.logger, fmt.Errorf("%w: %v", service.ErrIOFailure, err))
		return
	}

	result, err := run(r.Context(), inputs)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		ArtifactView: model.ToView(result.Record),
		Entries:      result.Entries,
	})
}

// openParts открывает файлы multipart в порядке их следования.
func openParts(headers []*multipart.FileHeader) ([]service.Input, func(), error) {
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	inputs := make([]service.Input, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("открытие части %q: %w", fh.Filename, err)
		}
		files = append(files, f)
		inputs = append(inputs, service.Input{Name: fh.Filename, Reader: f})
	}
	return inputs, closeAll, nil
}

// List обрабатывает GET /api/v1/artifacts.
// Пагинация: limit, offset. Фильтр: status.
func (h *ArtifactsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	offset := 0
	var filter repository.ListFilter

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			apierrors.ValidationError(w, fmt.Sprintf("Параметр limit должен быть от 1 до %d", maxListLimit))
			return
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apierrors.ValidationError(w, "Параметр offset не может быть отрицательным")
			return
		}
		offset = n
	}
	if v := q.Get("status"); v != "" {
		st, ok := model.ParseStatus(v)
		if !ok {
			apierrors.ValidationError(w, fmt.Sprintf("Недопустимый статус: %s", v))
			return
		}
		filter.Status = &st
	}

	items, total, err := h.reader.List(r.Context(), filter, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	views := make([]model.ArtifactView, 0, len(items))
	for _, item := range items {
		views = append(views, model.ToView(item))
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:   views,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	})
}

// Get обрабатывает GET /api/v1/artifacts/{artifact_id}.
func (h *ArtifactsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reader.Get(r.Context(), chi.URLParam(r, "artifact_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ToView(rec))
}

// Download обрабатывает GET /api/v1/artifacts/{artifact_id}/download.
// Поддерживает Range requests (206) через http.ServeContent.
func (h *ArtifactsHandler) Download(w http.ResponseWriter, r *http.Request) {
	d, err := h.archives.Download(r.Context(), chi.URLParam(r, "artifact_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer d.File.Close()

	contentType := "application/octet-stream"
	if d.Record.Kind == model.KindCompressed {
		contentType = "application/zip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, d.Name, d.ModTime, d.File)
}

// writeJSON сериализует v в ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
