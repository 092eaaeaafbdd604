package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
)

const apiPrefix = "/api/v1"

// zipBytes собирает zip-архив в памяти.
func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// TestCompress_DownloadFlow проверяет сжатие, скачивание и переход в downloaded.
func TestCompress_DownloadFlow(t *testing.T) {
	api := newTestAPI(t, 0, lifecycle.Policy{})

	rec := api.upload(t, apiPrefix+"/archives/compress",
		part{"report.pdf", []byte("pdf body")},
		part{"notes.txt", []byte("notes")},
	)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[uploadResponse](t, rec)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "report.zip", created.FileName)
	require.Equal(t, string(model.KindCompressed), created.Kind)
	require.Equal(t, string(model.StatusUploaded), created.Status)
	require.Equal(t, []string{"report.pdf", "notes.txt"}, created.Entries)
	require.Nil(t, created.DownloadedAt)

	dl := api.do(http.MethodGet, apiPrefix+"/artifacts/"+created.ID+"/download", nil)
	require.Equal(t, http.StatusOK, dl.Code, dl.Body.String())
	require.Equal(t, "application/zip", dl.Header().Get("Content-Type"))
	require.Contains(t, dl.Header().Get("Content-Disposition"), `filename=report.zip`)

	zr, err := zip.NewReader(bytes.NewReader(dl.Body.Bytes()), int64(dl.Body.Len()))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	require.ElementsMatch(t, []string{"report.pdf", "notes.txt"}, names)

	got := api.do(http.MethodGet, apiPrefix+"/artifacts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	view := decode[model.ArtifactView](t, got)
	require.Equal(t, string(model.StatusDownloaded), view.Status)
	require.NotNil(t, view.DownloadedAt)
}

// TestDecompress_Zip проверяет распаковку и скачивание первой записи.
func TestDecompress_Zip(t *testing.T) {
	api := newTestAPI(t, 0, lifecycle.Policy{})

	rec := api.upload(t, apiPrefix+"/archives/decompress",
		part{"bundle.zip", zipBytes(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})},
	)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[uploadResponse](t, rec)
	require.Equal(t, string(model.KindExtracted), created.Kind)
	require.Equal(t, "a.txt", created.FileName)
	require.Equal(t, []string{"a.txt", "b.txt"}, created.Entries)

	dl := api.do(http.MethodGet, apiPrefix+"/artifacts/"+created.ID+"/download", nil)
	require.Equal(t, http.StatusOK, dl.Code)
	require.Equal(t, "application/octet-stream", dl.Header().Get("Content-Type"))
	require.Equal(t, "alpha", dl.Body.String())
}

// TestDownload_Range проверяет частичную отдачу.
func TestDownload_Range(t *testing.T) {
	api := newTestAPI(t, 0, lifecycle.Policy{})

	rec := api.upload(t, apiPrefix+"/archives/decompress",
		part{"bundle.zip", zipBytes(t, map[string]string{"digits.txt": "0123456789"})},
	)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[uploadResponse](t, rec).ID

	dl := api.do(http.MethodGet, apiPrefix+"/artifacts/"+id+"/download", http.Header{"Range": {"bytes=2-5"}})
	require.Equal(t, http.StatusPartialContent, dl.Code)
	require.Equal(t, "2345", dl.Body.String())
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		parts    []part
		maxBytes int64
		status   int
		code     string
	}{
		{
			name:   "нет файлов",
			path:   "/archives/compress",
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "неподдерживаемое расширение",
			path:   "/archives/decompress",
			parts:  []part{{"data.rar", []byte("x")}},
			status: http.StatusBadRequest,
			code:   "UNSUPPORTED_TYPE",
		},
		{
			name:   "повреждённый архив",
			path:   "/archives/decompress",
			parts:  []part{{"broken.zip", []byte("not a zip")}},
			status: http.StatusInternalServerError,
			code:   "ARCHIVE_FAILED",
		},
		{
			name:   "путь вне директории в архиве",
			path:   "/archives/decompress",
			parts:  []part{{"evil.zip", zipBytes(t, map[string]string{"../escape.txt": "x"})}},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "пустой архив",
			path:   "/archives/decompress",
			parts:  []part{{"empty.zip", zipBytes(t, map[string]string{})}},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:     "превышен размер",
			path:     "/archives/compress",
			parts:    []part{{"big.bin", bytes.Repeat([]byte("x"), 4096)}},
			maxBytes: 1024,
			status:   http.StatusRequestEntityTooLarge,
			code:     "FILE_TOO_LARGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, tt.maxBytes, lifecycle.Policy{})
			rec := api.upload(t, apiPrefix+tt.path, tt.parts...)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.Equal(t, tt.code, errorCode(t, rec))

			list := api.do(http.MethodGet, apiPrefix+"/artifacts", nil)
			require.Equal(t, 0, decode[listResponse](t, list).Total, "при ошибке запись не создаётся")
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	api := newTestAPI(t, 0, lifecycle.Policy{})
	rec := api.do(http.MethodPost, apiPrefix+"/archives/compress", http.Header{"Content-Type": {"application/json"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestGet_NotFound(t *testing.T) {
	api := newTestAPI(t, 0, lifecycle.Policy{})

	rec := api.do(http.MethodGet, apiPrefix+"/artifacts/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, rec))

	dl := api.do(http.MethodGet, apiPrefix+"/artifacts/does-not-exist/download", nil)
	require.Equal(t, http.StatusNotFound, dl.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, dl))
}

// TestList_PaginationAndFilter проверяет пагинацию и фильтр по статусу.
func TestList_PaginationAndFilter(t *testing.T) {
	api := newTestAPI(t, 0, lifecycle.Policy{})

	ids := make([]string, 0, 3)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		rec := api.upload(t, apiPrefix+"/archives/compress", part{name, []byte(name)})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		ids = append(ids, decode[uploadResponse](t, rec).ID)
	}
	dl := api.do(http.MethodGet, apiPrefix+"/artifacts/"+ids[0]+"/download", nil)
	require.Equal(t, http.StatusOK, dl.Code)

	page := decode[listResponse](t, api.do(http.MethodGet, apiPrefix+"/artifacts?limit=2", nil))
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasMore)

	page = decode[listResponse](t, api.do(http.MethodGet, apiPrefix+"/artifacts?limit=2&offset=2", nil))
	require.Len(t, page.Items, 1)
	require.False(t, page.HasMore)

	page = decode[listResponse](t, api.do(http.MethodGet, apiPrefix+"/artifacts?status=downloaded", nil))
	require.Equal(t, 1, page.Total)
	require.Equal(t, ids[0], page.Items[0].ID)

	for _, q := range []string{"limit=0", "limit=1001", "limit=x", "offset=-1", "status=archived"} {
		rec := api.do(http.MethodGet, apiPrefix+"/artifacts?"+q, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
		require.Equal(t, "VALIDATION_ERROR", errorCode(t, rec), q)
	}
}

// TestReclaim_ThenDownload проверяет, что после очистки файл недоступен, а запись сохранена.
func TestReclaim_ThenDownload(t *testing.T) {
	api := newTestAPI(t, 0, lifecycle.Policy{RetentionDelay: 0})

	rec := api.upload(t, apiPrefix+"/archives/compress", part{"data.csv", []byte("1,2,3")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[uploadResponse](t, rec).ID

	dl := api.do(http.MethodGet, apiPrefix+"/artifacts/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, dl.Code)
	_, _ = io.Copy(io.Discard, dl.Body)

	sweep := api.do(http.MethodPost, apiPrefix+"/maintenance/reclaim", nil)
	require.Equal(t, http.StatusOK, sweep.Code, sweep.Body.String())
	require.True(t, strings.Contains(sweep.Body.String(), `"reclaimed":1`), sweep.Body.String())

	view := decode[model.ArtifactView](t, api.do(http.MethodGet, apiPrefix+"/artifacts/"+id, nil))
	require.Equal(t, string(model.StatusDeleted), view.Status)
	require.NotNil(t, view.DeletedAt)

	again := api.do(http.MethodGet, apiPrefix+"/artifacts/"+id+"/download", nil)
	require.Equal(t, http.StatusNotFound, again.Code)
	require.Equal(t, "FILE_NOT_FOUND", errorCode(t, again))
}
