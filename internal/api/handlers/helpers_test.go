package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/archive-service/internal/archive"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/archive-service/internal/repository"
	"github.com/bigkaa/goartstore/archive-service/internal/service"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testAPI — роутер поверх реальных сервисов с in-memory хранилищем записей.
type testAPI struct {
	router  http.Handler
	engine  *service.LifecycleEngine
	store   *filestore.FileStore
	reclaim *service.ReclaimService
}

func newTestAPI(t *testing.T, maxUpload int64, policy lifecycle.Policy) *testAPI {
	t.Helper()
	root := t.TempDir()

	store, err := filestore.New(filepath.Join(root, "storage"), filepath.Join(root, "temp"))
	require.NoError(t, err)
	w, err := wal.New(filepath.Join(root, "wal"), testLogger())
	require.NoError(t, err)

	repo := repository.NewMemoryRepository()
	clock := func() time.Time { return time.Now().UTC() }
	engine := service.NewLifecycleEngine(repo, store, service.NewCacheService(100, time.Minute), policy, clock, testLogger())
	archives := service.NewArchiveService(engine, store, archive.NewZipBackend(0), w, repo, testLogger())
	reclaim := service.NewReclaimService(engine, repo, service.ReclaimConfig{
		Interval:             time.Second,
		Concurrency:          2,
		FailureWarnThreshold: 3,
	}, testLogger())

	artifacts := NewArtifactsHandler(archives, engine, maxUpload, testLogger())
	maintenance := NewMaintenanceHandler(reclaim, testLogger())

	return &testAPI{
		router:  newRouter(artifacts, maintenance),
		engine:  engine,
		store:   store,
		reclaim: reclaim,
	}
}

// newRouter монтирует обработчики на те же пути, что и сервер.
func newRouter(artifacts *ArtifactsHandler, maintenance *MaintenanceHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/archives/compress", artifacts.Compress)
	r.Post("/api/v1/archives/decompress", artifacts.Decompress)
	r.Get("/api/v1/artifacts", artifacts.List)
	r.Get("/api/v1/artifacts/{artifact_id}", artifacts.Get)
	r.Get("/api/v1/artifacts/{artifact_id}/download", artifacts.Download)
	r.Post("/api/v1/maintenance/reclaim", maintenance.Reclaim)
	return r
}

// part — один файл multipart-запроса.
type part struct {
	name    string
	content []byte
}

// multipartBody собирает тело запроса с повторяемым полем files.
func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(multipartField, p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (a *testAPI) upload(t *testing.T, path string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// errorCode извлекает код ошибки из тела ответа.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
