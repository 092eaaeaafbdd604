package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/archive-service/internal/archive"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-service/internal/repository"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/wal"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock — управляемые часы.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testEnv — связанный набор сервисов поверх in-memory хранилища записей.
type testEnv struct {
	repo     repository.ArtifactRepository
	store    *filestore.FileStore
	wal      *wal.WAL
	clock    *fakeClock
	engine   *LifecycleEngine
	archives *ArchiveService
	reclaim  *ReclaimService
}

const testRetention = 5 * time.Second

func newTestEnv(t *testing.T, policy lifecycle.Policy) *testEnv {
	t.Helper()
	return newTestEnvWithBackend(t, policy, archive.NewZipBackend(0))
}

func newTestEnvWithBackend(t *testing.T, policy lifecycle.Policy, backend archive.Backend) *testEnv {
	t.Helper()
	root := t.TempDir()

	store, err := filestore.New(filepath.Join(root, "storage"), filepath.Join(root, "temp"))
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	w, err := wal.New(filepath.Join(root, "wal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	repo := repository.NewMemoryRepository()
	clock := newFakeClock()
	engine := NewLifecycleEngine(repo, store, NewCacheService(100, time.Minute), policy, clock.Now, testLogger())

	return &testEnv{
		repo:     repo,
		store:    store,
		wal:      w,
		clock:    clock,
		engine:   engine,
		archives: NewArchiveService(engine, store, backend, w, repo, testLogger()),
		reclaim: NewReclaimService(engine, repo, ReclaimConfig{
			Interval:             10 * time.Millisecond,
			Concurrency:          4,
			FailureWarnThreshold: 3,
		}, testLogger()),
	}
}

// putRecord создаёт запись и, если withFile, её backing-файл.
func (e *testEnv) putRecord(t *testing.T, rec *model.ArtifactRecord, withFile bool) {
	t.Helper()
	if withFile {
		dir, err := e.store.OutputDir(rec.StorageKey)
		if err != nil {
			t.Fatalf("ошибка создания директории артефакта: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, rec.FileName+rec.Kind.Suffix()), []byte("data"), 0o640); err != nil {
			t.Fatalf("ошибка записи backing-файла: %v", err)
		}
	}
	if err := e.repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("ошибка создания записи: %v", err)
	}
}

// downloadedRecord возвращает запись в статусе downloaded, скачанную в at.
func downloadedRecord(id, key string, at time.Time) *model.ArtifactRecord {
	uploaded := at.Add(-time.Minute)
	return &model.ArtifactRecord{
		ID:           id,
		FileName:     "file-" + id,
		StorageKey:   key,
		Kind:         model.KindCompressed,
		Status:       model.StatusDownloaded,
		UploadedAt:   uploaded,
		DownloadedAt: &at,
	}
}

func (e *testEnv) mustGet(t *testing.T, id string) *model.ArtifactRecord {
	t.Helper()
	rec, err := e.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("ошибка чтения записи %s: %v", id, err)
	}
	return rec
}
