// lifecycle.go — движок жизненного цикла артефактов.
//
// Единственное место, где принимаются решения о переходах статусов.
// Каждая операция над записью выполняется под мьютексом её идентификатора:
// чтение → проверка перехода → запись в хранилище не перемежается
// с другой операцией над той же записью. Разные артефакты не блокируют
// друг друга, фоновая очистка держит только мьютекс обрабатываемой записи.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-service/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-service/internal/repository"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/filestore"
)

// Clock — источник текущего времени. В тестах подменяется.
type Clock func() time.Time

// NewArtifact — параметры регистрации артефакта.
type NewArtifact struct {
	// ID — заранее выделенный идентификатор (пусто — сгенерировать)
	ID string
	// FileName — логическое имя без суффикса типа
	FileName string
	// StorageKey — поддиректория артефакта в хранилище
	StorageKey string
	// Kind — compressed или extracted
	Kind model.ArtifactKind
}

// Download — открытый backing-файл артефакта для отдачи клиенту.
// Вызывающий код обязан закрыть File.
type Download struct {
	File    *os.File
	Name    string
	Size    int64
	ModTime time.Time
	Record  *model.ArtifactRecord
}

// ArtifactFiles — операции движка с файлами артефактов в хранилище.
// Реализуется *filestore.FileStore.
type ArtifactFiles interface {
	Exists(relPath string) bool
	Open(relPath string) (*os.File, error)
	RemoveTree(key string) error
}

var _ ArtifactFiles = (*filestore.FileStore)(nil)

// LifecycleEngine — движок переходов uploaded → downloaded → deleted.
type LifecycleEngine struct {
	repo   repository.ArtifactRepository
	store  ArtifactFiles
	cache  *CacheService
	policy lifecycle.Policy
	now    Clock
	locks  *keyedMutex
	logger *slog.Logger
}

// NewLifecycleEngine создаёт движок. cache может быть nil, now — nil (time.Now).
func NewLifecycleEngine(
	repo repository.ArtifactRepository,
	store ArtifactFiles,
	cache *CacheService,
	policy lifecycle.Policy,
	now Clock,
	logger *slog.Logger,
) *LifecycleEngine {
	if now == nil {
		now = time.Now
	}
	return &LifecycleEngine{
		repo:   repo,
		store:  store,
		cache:  cache,
		policy: policy,
		now:    now,
		locks:  newKeyedMutex(),
		logger: logger.With(slog.String("component", "lifecycle")),
	}
}

// Policy возвращает политику хранения движка.
func (e *LifecycleEngine) Policy() lifecycle.Policy {
	return e.policy
}

// Now возвращает текущее время движка (UTC, точность — микросекунда).
func (e *LifecycleEngine) Now() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// Register создаёт запись со статусом uploaded и uploaded_at = now.
// Вызывается один раз после успешной архивации или распаковки.
func (e *LifecycleEngine) Register(ctx context.Context, params NewArtifact) (*model.ArtifactRecord, error) {
	if params.FileName == "" || params.StorageKey == "" {
		return nil, fmt.Errorf("%w: имя файла и ключ хранения обязательны", ErrValidation)
	}
	id := params.ID
	if id == "" {
		id = uuid.New().String()
	}

	rec := &model.ArtifactRecord{
		ID:         id,
		FileName:   params.FileName,
		StorageKey: params.StorageKey,
		Kind:       params.Kind,
		Status:     model.StatusUploaded,
		UploadedAt: e.Now(),
	}
	if err := e.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("ошибка регистрации артефакта %s: %w", id, err)
	}
	e.remember(rec)
	middleware.ArtifactsTotal.WithLabelValues(string(model.StatusUploaded)).Inc()

	e.logger.Info("Артефакт зарегистрирован",
		slog.String("artifact_id", rec.ID),
		slog.String("file_name", rec.FileName),
		slog.String("kind", string(rec.Kind)),
	)
	return rec.Clone(), nil
}

// Get возвращает запись по идентификатору (через кэш, если он включён).
// Промах кэша читается под мьютексом записи: в кэш не попадает копия,
// прочитанная до завершения перехода статуса.
func (e *LifecycleEngine) Get(ctx context.Context, id string) (*model.ArtifactRecord, error) {
	if e.cache != nil {
		if rec, ok := e.cache.Get(id); ok {
			return rec, nil
		}
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	e.remember(rec)
	return rec, nil
}

// List возвращает страницу записей и общее количество.
func (e *LifecycleEngine) List(ctx context.Context, filter repository.ListFilter, limit, offset int) ([]*model.ArtifactRecord, int, error) {
	return e.repo.List(ctx, filter, limit, offset)
}

// MarkDownloaded переводит запись в downloaded и обновляет downloaded_at.
// Повторный вызов для downloaded записи продлевает окно хранения.
// ErrNotFound — неизвестный id, ErrFileNotFound — backing-файл отсутствует,
// ErrInvalidTransition — запись уже deleted.
func (e *LifecycleEngine) MarkDownloaded(ctx context.Context, id string) (*model.ArtifactRecord, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.validate(rec, model.StatusDownloaded); err != nil {
		return nil, err
	}
	if !e.store.Exists(rec.BackingPath()) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	if err := e.markDownloaded(ctx, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// OpenForDownload открывает backing-файл и переводит запись в downloaded
// под мьютексом записи: скачивание не пересекается с очисткой того же артефакта.
// Для deleted записи возвращает ErrFileNotFound, запись не меняется.
func (e *LifecycleEngine) OpenForDownload(ctx context.Context, id string) (*Download, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == model.StatusDeleted {
		return nil, fmt.Errorf("%w: артефакт %s удалён", ErrFileNotFound, id)
	}
	if err := e.validate(rec, model.StatusDownloaded); err != nil {
		return nil, err
	}

	f, err := e.store.Open(rec.BackingPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("Backing-файл артефакта отсутствует",
				slog.String("artifact_id", id),
				slog.String("path", rec.BackingPath()),
			)
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
		}
		return nil, fmt.Errorf("%w: открытие файла артефакта %s: %v", ErrIOFailure, id, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat файла артефакта %s: %v", ErrIOFailure, id, err)
	}

	if err := e.markDownloaded(ctx, rec); err != nil {
		f.Close()
		return nil, err
	}

	return &Download{
		File:    f,
		Name:    rec.DownloadName(),
		Size:    stat.Size(),
		ModTime: stat.ModTime(),
		Record:  rec.Clone(),
	}, nil
}

// Reclaim удаляет дерево файлов артефакта и переводит запись в deleted.
// Допустимость перепроверяется под мьютексом записи: если артефакт
// скачали повторно после выборки кандидатов, возвращается ErrReclaimNotDue.
// Отсутствующие файлы считаются уже удалёнными. При ошибке удаления запись
// остаётся в прежнем статусе, счётчик ReclaimFailures увеличивается,
// обновлённая запись возвращается вместе с ошибкой ErrIOFailure.
func (e *LifecycleEngine) Reclaim(ctx context.Context, id string) (*model.ArtifactRecord, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.validate(rec, model.StatusDeleted); err != nil {
		return nil, err
	}
	now := e.Now()
	if !lifecycle.ReclaimDue(rec, now, e.policy) {
		return rec, ErrReclaimNotDue
	}

	if !e.store.Exists(rec.BackingPath()) {
		e.logger.Warn("Backing-файл уже отсутствует, запись помечается deleted",
			slog.String("artifact_id", id),
			slog.String("path", rec.BackingPath()),
		)
	}

	if err := e.store.RemoveTree(rec.StorageKey); err != nil {
		rec.ReclaimFailures++
		if upErr := e.repo.Update(ctx, rec); upErr != nil {
			e.logger.Error("Не удалось сохранить счётчик неудачных очисток",
				slog.String("artifact_id", id),
				slog.String("error", upErr.Error()),
			)
		} else {
			e.remember(rec)
		}
		return rec.Clone(), fmt.Errorf("%w: удаление файлов артефакта %s: %v", ErrIOFailure, id, err)
	}

	prev := rec.Status
	rec.Status = model.StatusDeleted
	rec.DeletedAt = &now
	rec.ReclaimFailures = 0
	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("ошибка обновления записи %s: %w", id, err)
	}
	e.remember(rec)
	middleware.ArtifactsTotal.WithLabelValues(string(prev)).Dec()
	middleware.ArtifactsTotal.WithLabelValues(string(model.StatusDeleted)).Inc()

	e.logger.Info("Артефакт очищен",
		slog.String("artifact_id", id),
		slog.String("previous_status", string(prev)),
	)
	return rec.Clone(), nil
}

// RefreshGauges пересчитывает gauge as_artifacts_total по хранилищу записей.
func (e *LifecycleEngine) RefreshGauges(ctx context.Context) error {
	counts, err := e.repo.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, st := range []model.ArtifactStatus{model.StatusUploaded, model.StatusDownloaded, model.StatusDeleted} {
		middleware.ArtifactsTotal.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	return nil
}

// markDownloaded записывает переход в downloaded. Вызывается под мьютексом записи.
// downloaded_at не убывает и не меньше uploaded_at, даже если часы сдвинулись назад.
func (e *LifecycleEngine) markDownloaded(ctx context.Context, rec *model.ArtifactRecord) error {
	now := e.Now()
	if now.Before(rec.UploadedAt) {
		now = rec.UploadedAt
	}
	if rec.DownloadedAt != nil && now.Before(*rec.DownloadedAt) {
		now = *rec.DownloadedAt
	}

	prev := rec.Status
	rec.Status = model.StatusDownloaded
	rec.DownloadedAt = &now
	if err := e.repo.Update(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
		}
		return fmt.Errorf("ошибка обновления записи %s: %w", rec.ID, err)
	}
	e.remember(rec)
	if prev != model.StatusDownloaded {
		middleware.ArtifactsTotal.WithLabelValues(string(prev)).Dec()
		middleware.ArtifactsTotal.WithLabelValues(string(model.StatusDownloaded)).Inc()
	}

	e.logger.Debug("Артефакт скачан",
		slog.String("artifact_id", rec.ID),
		slog.Time("downloaded_at", now),
	)
	return nil
}

// load читает запись из хранилища записей (источник истины, без кэша).
func (e *LifecycleEngine) load(ctx context.Context, id string) (*model.ArtifactRecord, error) {
	rec, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка чтения записи %s: %w", id, err)
	}
	return rec, nil
}

// validate проверяет переход статуса и приводит ошибку к ErrInvalidTransition.
func (e *LifecycleEngine) validate(rec *model.ArtifactRecord, to model.ArtifactStatus) error {
	if err := lifecycle.Validate(rec.Status, to, e.policy); err != nil {
		return fmt.Errorf("%w: артефакт %s: %v", ErrInvalidTransition, rec.ID, err)
	}
	return nil
}

func (e *LifecycleEngine) remember(rec *model.ArtifactRecord) {
	if e.cache != nil {
		e.cache.Set(rec)
	}
}
