package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
)

// newRecord создаёт запись в статусе uploaded с заданным временем загрузки.
func newRecord(uploadedAt time.Time) *model.ArtifactRecord {
	return &model.ArtifactRecord{
		ID:         uuid.New().String(),
		FileName:   "report.pdf",
		StorageKey: uuid.New().String(),
		Kind:       model.KindCompressed,
		Status:     model.StatusUploaded,
		UploadedAt: uploadedAt,
	}
}

// runContract прогоняет общий контракт ArtifactRepository на реализации,
// возвращаемой newRepo (каждый подтест получает чистый репозиторий).
func runContract(t *testing.T, newRepo func(t *testing.T) ArtifactRepository) {
	t.Helper()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	t.Run("Create и GetByID", func(t *testing.T) {
		repo := newRepo(t)
		rec := newRecord(t0)

		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.GetByID(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != model.StatusUploaded {
			t.Errorf("Status = %s, ожидался uploaded", got.Status)
		}
		if got.FileName != rec.FileName || got.StorageKey != rec.StorageKey || got.Kind != rec.Kind {
			t.Errorf("поля записи не совпадают: %+v", got)
		}
		// Хранение с точностью до микросекунды
		if want := t0.Truncate(time.Microsecond); !got.UploadedAt.Equal(want) {
			t.Errorf("UploadedAt = %v, ожидалось %v", got.UploadedAt, want)
		}
		if got.DownloadedAt != nil || got.DeletedAt != nil {
			t.Error("DownloadedAt и DeletedAt должны быть пустыми")
		}
	})

	t.Run("Create дубликата", func(t *testing.T) {
		repo := newRepo(t)
		rec := newRecord(t0)
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		dup := rec.Clone()
		dup.StorageKey = uuid.New().String()
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrDuplicateID) {
			t.Errorf("ожидалась ErrDuplicateID, получено %v", err)
		}
	})

	t.Run("GetByID неизвестного ID", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.GetByID(ctx, "does-not-exist"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := newRepo(t)
		rec := newRecord(t0)
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}

		dl := t0.Add(time.Second)
		rec.Status = model.StatusDownloaded
		rec.DownloadedAt = &dl
		rec.ReclaimFailures = 2
		if err := repo.Update(ctx, rec); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.GetByID(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != model.StatusDownloaded {
			t.Errorf("Status = %s, ожидался downloaded", got.Status)
		}
		if got.DownloadedAt == nil || !got.DownloadedAt.Equal(dl.Truncate(time.Microsecond)) {
			t.Errorf("DownloadedAt = %v, ожидалось %v", got.DownloadedAt, dl)
		}
		if got.ReclaimFailures != 2 {
			t.Errorf("ReclaimFailures = %d, ожидалось 2", got.ReclaimFailures)
		}
	})

	t.Run("Update неизвестного ID", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Update(ctx, newRecord(t0)); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("изменение возвращённой записи не влияет на хранилище", func(t *testing.T) {
		repo := newRepo(t)
		rec := newRecord(t0)
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		rec.Status = model.StatusDeleted

		got, _ := repo.GetByID(ctx, rec.ID)
		got.FileName = "changed"

		again, _ := repo.GetByID(ctx, rec.ID)
		if again.Status != model.StatusUploaded || again.FileName != "report.pdf" {
			t.Errorf("запись изменена извне: %+v", again)
		}
	})

	t.Run("FindEligibleForReclamation строго меньше", func(t *testing.T) {
		repo := newRepo(t)

		mk := func(dl time.Time) *model.ArtifactRecord {
			rec := newRecord(t0.Add(-time.Hour))
			rec.Status = model.StatusDownloaded
			rec.DownloadedAt = &dl
			if err := repo.Create(ctx, rec); err != nil {
				t.Fatalf("Create: %v", err)
			}
			return rec
		}
		older := mk(t0.Add(-time.Second))
		atBound := mk(t0)
		_ = mk(t0.Add(time.Second))

		// Запись в другом статусе не попадает в выборку
		uploaded := newRecord(t0.Add(-time.Hour))
		if err := repo.Create(ctx, uploaded); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.FindEligibleForReclamation(ctx, model.StatusDownloaded, t0)
		if err != nil {
			t.Fatalf("FindEligibleForReclamation: %v", err)
		}
		if len(got) != 1 || got[0].ID != older.ID {
			t.Errorf("ожидалась только запись %s, получено %d записей", older.ID, len(got))
		}

		got, err = repo.FindEligibleForReclamation(ctx, model.StatusDownloaded, t0.Add(time.Microsecond))
		if err != nil {
			t.Fatalf("FindEligibleForReclamation: %v", err)
		}
		ids := map[string]bool{}
		for _, r := range got {
			ids[r.ID] = true
		}
		if len(got) != 2 || !ids[older.ID] || !ids[atBound.ID] {
			t.Errorf("ожидались записи %s и %s, получено %v", older.ID, atBound.ID, ids)
		}

		got, err = repo.FindEligibleForReclamation(ctx, model.StatusUploaded, t0)
		if err != nil {
			t.Fatalf("FindEligibleForReclamation(uploaded): %v", err)
		}
		if len(got) != 1 || got[0].ID != uploaded.ID {
			t.Errorf("по uploaded_at ожидалась запись %s, получено %d записей", uploaded.ID, len(got))
		}

		got, err = repo.FindEligibleForReclamation(ctx, model.StatusDeleted, t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("FindEligibleForReclamation(deleted): %v", err)
		}
		if len(got) != 0 {
			t.Errorf("deleted не подлежит очистке, получено %d записей", len(got))
		}
	})

	t.Run("List и CountByStatus", func(t *testing.T) {
		repo := newRepo(t)
		for i := range 5 {
			rec := newRecord(t0.Add(time.Duration(i) * time.Second))
			if i%2 == 0 {
				dl := rec.UploadedAt.Add(time.Millisecond)
				rec.Status = model.StatusDownloaded
				rec.DownloadedAt = &dl
			}
			if err := repo.Create(ctx, rec); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		items, total, err := repo.List(ctx, ListFilter{}, 2, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if total != 5 || len(items) != 2 {
			t.Fatalf("List: total=%d len=%d, ожидалось 5 и 2", total, len(items))
		}
		if !items[0].UploadedAt.After(items[1].UploadedAt) {
			t.Error("List: ожидался порядок от новых к старым")
		}

		status := model.StatusDownloaded
		items, total, err = repo.List(ctx, ListFilter{Status: &status}, 10, 0)
		if err != nil {
			t.Fatalf("List(downloaded): %v", err)
		}
		if total != 3 || len(items) != 3 {
			t.Errorf("List(downloaded): total=%d len=%d, ожидалось 3", total, len(items))
		}

		items, _, err = repo.List(ctx, ListFilter{}, 10, 10)
		if err != nil {
			t.Fatalf("List(offset): %v", err)
		}
		if len(items) != 0 {
			t.Errorf("List за пределами: ожидался пустой результат, получено %d", len(items))
		}

		counts, err := repo.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("CountByStatus: %v", err)
		}
		if counts[model.StatusDownloaded] != 3 || counts[model.StatusUploaded] != 2 {
			t.Errorf("CountByStatus = %v", counts)
		}
	})
}

// TestMemoryRepository_Contract проверяет in-memory реализацию.
func TestMemoryRepository_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) ArtifactRepository {
		return NewMemoryRepository()
	})
}
