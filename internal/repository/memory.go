package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
)

// memoryRepo — потокобезопасная in-memory реализация ArtifactRepository.
// Не персистентная: содержимое теряется при рестарте.
// Записи копируются при записи и чтении, внешние изменения не влияют на хранилище.
type memoryRepo struct {
	mu      sync.RWMutex
	records map[string]*model.ArtifactRecord // artifact_id → record
}

// NewMemoryRepository создаёт пустой in-memory репозиторий.
func NewMemoryRepository() ArtifactRepository {
	return &memoryRepo{
		records: make(map[string]*model.ArtifactRecord),
	}
}

func (r *memoryRepo) Create(_ context.Context, rec *model.ArtifactRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	r.records[rec.ID] = normalizeRecord(rec)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*model.ArtifactRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *memoryRepo) FindEligibleForReclamation(
	_ context.Context,
	status model.ArtifactStatus,
	olderThan time.Time,
) ([]*model.ArtifactRecord, error) {
	if timestampColumn(status) == "" {
		return nil, nil
	}
	olderThan = normalizeTime(olderThan)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.ArtifactRecord
	for _, rec := range r.records {
		if rec.Status != status {
			continue
		}
		ts := rec.UploadedAt
		if status == model.StatusDownloaded {
			if rec.DownloadedAt == nil {
				continue
			}
			ts = *rec.DownloadedAt
		}
		if ts.Before(olderThan) {
			result = append(result, rec.Clone())
		}
	}
	return result, nil
}

func (r *memoryRepo) Update(_ context.Context, rec *model.ArtifactRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; !ok {
		return ErrNotFound
	}
	r.records[rec.ID] = normalizeRecord(rec)
	return nil
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*model.ArtifactRecord, int, error) {
	r.mu.RLock()
	matched := make([]*model.ArtifactRecord, 0, len(r.records))
	for _, rec := range r.records {
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	r.mu.RUnlock()

	// Новые первые, при равенстве — по ID для стабильной пагинации
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UploadedAt.Equal(matched[j].UploadedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})

	total := len(matched)
	if offset >= total {
		return []*model.ArtifactRecord{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *memoryRepo) CountByStatus(_ context.Context) (map[model.ArtifactStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[model.ArtifactStatus]int)
	for _, rec := range r.records {
		result[rec.Status]++
	}
	return result, nil
}

// normalizeRecord возвращает копию записи с метками времени той же точности,
// что и в SQL-реализациях.
func normalizeRecord(rec *model.ArtifactRecord) *model.ArtifactRecord {
	c := rec.Clone()
	c.UploadedAt = normalizeTime(c.UploadedAt)
	c.DownloadedAt = normalizeTimePtr(c.DownloadedAt)
	c.DeletedAt = normalizeTimePtr(c.DeletedAt)
	return c
}
