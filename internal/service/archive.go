// archive.go — сервис загрузки с архивацией и скачивания артефактов.
//
// Поток загрузки (сжатие и распаковка):
//  1. Валидация входов (для распаковки — расширение каждого файла)
//  2. Ключ хранения + WAL StartTransaction(artifact_create)
//  3. Рабочие копии во временной директории (streaming + SHA-256 в журнал)
//  4. Backend.Compress / Backend.Decompress в директорию артефакта
//  5. Удаление рабочих копий
//  6. LifecycleEngine.Register
//  7. WAL Commit
//
// При ошибке до Register — удаление рабочих копий и выходной директории,
// WAL Rollback. Запись создаётся только после успешной архивации.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-service/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-service/internal/archive"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-service/internal/repository"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/wal"
)

// Input — один загружаемый файл.
type Input struct {
	// Name — оригинальное имя файла
	Name string
	// Reader — поток данных файла
	Reader io.Reader
}

// UploadResult — результат загрузки.
type UploadResult struct {
	// Record — зарегистрированный артефакт
	Record *model.ArtifactRecord
	// Entries — имена файлов внутри артефакта
	Entries []string
	// InputBytes — суммарный размер загруженных данных
	InputBytes int64
}

// ArchiveService — сервис архивации, распаковки и скачивания.
type ArchiveService struct {
	engine    *LifecycleEngine
	store     *filestore.FileStore
	backend   archive.Backend
	walEngine *wal.WAL
	repo      repository.ArtifactRepository
	logger    *slog.Logger
}

// NewArchiveService создаёт сервис архивации.
func NewArchiveService(
	engine *LifecycleEngine,
	store *filestore.FileStore,
	backend archive.Backend,
	walEngine *wal.WAL,
	repo repository.ArtifactRepository,
	logger *slog.Logger,
) *ArchiveService {
	return &ArchiveService{
		engine:    engine,
		store:     store,
		backend:   backend,
		walEngine: walEngine,
		repo:      repo,
		logger:    logger.With(slog.String("component", "archive_service")),
	}
}

// Compress сжимает загруженные файлы в один zip-артефакт.
// Имя артефакта — имя первого файла без расширения.
func (s *ArchiveService) Compress(ctx context.Context, inputs []Input) (*UploadResult, error) {
	if err := validateInputs(inputs); err != nil {
		return nil, err
	}
	return s.upload(ctx, "compress", inputs, func(workDir, outDir string, saved []*filestore.SaveResult) (string, []string, error) {
		fileName := compressedName(saved[0].Name)
		dst := filepath.Join(outDir, fileName+model.CompressedSuffix)
		if err := s.backend.Compress(workDir, dst); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrArchiveFailed, err)
		}
		entries := make([]string, 0, len(saved))
		for _, sr := range saved {
			entries = append(entries, sr.Name)
		}
		return fileName, entries, nil
	}, model.KindCompressed)
}

// Decompress распаковывает загруженные архивы (.zip, .gz) в один артефакт.
// Имя артефакта — путь первой извлечённой записи первого архива.
// Неподдерживаемое расширение отклоняется до записи на диск.
func (s *ArchiveService) Decompress(ctx context.Context, inputs []Input) (*UploadResult, error) {
	if err := validateInputs(inputs); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if !archive.SupportedExtension(in.Name) {
			middleware.OperationsTotal.WithLabelValues("decompress", "rejected").Inc()
			return nil, fmt.Errorf("%w: %q (поддерживаются .zip, .gz)", ErrUnsupportedType, in.Name)
		}
	}

	return s.upload(ctx, "decompress", inputs, func(_, outDir string, saved []*filestore.SaveResult) (string, []string, error) {
		var all []string
		for _, sr := range saved {
			entries, err := s.backend.Decompress(sr.FullPath, outDir)
			if err != nil {
				return "", nil, classifyBackendError(err)
			}
			all = append(all, entries...)
		}
		return all[0], all, nil
	}, model.KindExtracted)
}

// Download открывает артефакт для отдачи и переводит запись в downloaded.
func (s *ArchiveService) Download(ctx context.Context, id string) (*Download, error) {
	d, err := s.engine.OpenForDownload(ctx, id)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return nil, err
	}
	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	return d, nil
}

// archiveFunc выполняет архивацию рабочих копий workDir в outDir.
// Возвращает логическое имя артефакта и список его файлов.
type archiveFunc func(workDir, outDir string, saved []*filestore.SaveResult) (string, []string, error)

// upload — общий поток загрузки с WAL-транзакцией.
func (s *ArchiveService) upload(
	ctx context.Context,
	op string,
	inputs []Input,
	run archiveFunc,
	kind model.ArtifactKind,
) (result *UploadResult, err error) {
	defer func() {
		if err != nil {
			middleware.OperationsTotal.WithLabelValues(op, "error").Inc()
		} else {
			middleware.OperationsTotal.WithLabelValues(op, "success").Inc()
		}
	}()

	key, err := s.store.NewWorkspace()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	artifactID := uuid.New().String()

	walEntry, err := s.walEngine.StartTransaction(wal.OpArtifactCreate, key, artifactID)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		_ = s.store.RemoveWorkingCopies(key)
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	rollback := func() {
		if rmErr := s.store.RemoveWorkingCopies(key); rmErr != nil {
			s.logger.Error("Ошибка удаления рабочих копий",
				slog.String("storage_key", key),
				slog.String("error", rmErr.Error()),
			)
		}
		if rmErr := s.store.RemoveTree(key); rmErr != nil {
			s.logger.Error("Ошибка удаления директории артефакта",
				slog.String("storage_key", key),
				slog.String("error", rmErr.Error()),
			)
		}
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	saved := make([]*filestore.SaveResult, 0, len(inputs))
	var total int64
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			rollback()
			return nil, err
		}
		sr, err := s.store.SaveWorkingCopy(key, in.Name, in.Reader)
		if err != nil {
			rollback()
			return nil, classifySaveError(in.Name, err)
		}
		saved = append(saved, sr)
		total += sr.Size
		s.logger.Debug("Рабочая копия сохранена",
			slog.String("operation", op),
			slog.String("storage_key", key),
			slog.String("file_name", sr.Name),
			slog.Int64("size", sr.Size),
			slog.String("checksum", sr.Checksum),
		)
	}

	outDir, err := s.store.OutputDir(key)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	fileName, entries, err := run(filepath.Dir(saved[0].FullPath), outDir, saved)
	if err != nil {
		rollback()
		s.logger.Error("Ошибка архивации",
			slog.String("operation", op),
			slog.String("storage_key", key),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if rmErr := s.store.RemoveWorkingCopies(key); rmErr != nil {
		s.logger.Warn("Не удалось удалить рабочие копии",
			slog.String("storage_key", key),
			slog.String("error", rmErr.Error()),
		)
	}

	rec, err := s.engine.Register(ctx, NewArtifact{
		ID:         artifactID,
		FileName:   fileName,
		StorageKey: key,
		Kind:       kind,
	})
	if err != nil {
		rollback()
		return nil, err
	}

	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		// Запись уже создана; незакоммиченная транзакция разрешится при старте
		s.logger.Error("Ошибка коммита WAL (артефакт зарегистрирован)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("artifact_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Артефакт создан",
		slog.String("operation", op),
		slog.String("artifact_id", rec.ID),
		slog.String("file_name", rec.FileName),
		slog.Int("inputs", len(inputs)),
		slog.Int("entries", len(entries)),
		slog.Int64("input_bytes", total),
	)
	return &UploadResult{Record: rec, Entries: entries, InputBytes: total}, nil
}

// RecoverPending разрешает транзакции, оставшиеся pending после падения.
// Если запись с идентификатором транзакции существует — транзакция коммитится,
// иначе файлы ключа хранения удаляются и транзакция откатывается.
// Вызывается при старте, до приёма запросов. Возвращает число откатов.
func (s *ArchiveService) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.walEngine.RecoverPending()
	if err != nil {
		return 0, err
	}

	rolledBack := 0
	for _, entry := range pending {
		if entry.ArtifactID != "" {
			_, getErr := s.repo.GetByID(ctx, entry.ArtifactID)
			if getErr == nil {
				if err := s.walEngine.Commit(entry.TransactionID); err != nil {
					return rolledBack, err
				}
				continue
			}
			if !errors.Is(getErr, repository.ErrNotFound) {
				return rolledBack, getErr
			}
		}

		if err := s.store.RemoveWorkingCopies(entry.StorageKey); err != nil {
			return rolledBack, err
		}
		if err := s.store.RemoveTree(entry.StorageKey); err != nil {
			return rolledBack, err
		}
		if err := s.walEngine.Rollback(entry.TransactionID); err != nil {
			return rolledBack, err
		}
		rolledBack++
	}

	if _, err := s.walEngine.CleanCommitted(); err != nil {
		s.logger.Warn("Ошибка очистки завершённых WAL-записей", slog.String("error", err.Error()))
	}
	if len(pending) > 0 {
		s.logger.Info("Восстановление после сбоя завершено",
			slog.Int("pending", len(pending)),
			slog.Int("rolled_back", rolledBack),
		)
	}
	return rolledBack, nil
}

// validateInputs проверяет, что загрузка содержит хотя бы один файл с именем.
func validateInputs(inputs []Input) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: не передано ни одного файла", ErrValidation)
	}
	for i, in := range inputs {
		if strings.TrimSpace(in.Name) == "" {
			return fmt.Errorf("%w: файл #%d без имени", ErrValidation, i+1)
		}
		if in.Reader == nil {
			return fmt.Errorf("%w: файл %q без данных", ErrValidation, in.Name)
		}
	}
	return nil
}

// compressedName возвращает логическое имя сжатого артефакта:
// имя файла без расширения (report.pdf → report).
func compressedName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		return name
	}
	return base
}

// classifySaveError приводит ошибку записи рабочей копии к таксономии сервиса.
func classifySaveError(name string, err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return fmt.Errorf("%w: лимит %d байт", ErrFileTooLarge, maxErr.Limit)
	case errors.Is(err, filestore.ErrInvalidName):
		return fmt.Errorf("%w: недопустимое имя файла %q", ErrValidation, name)
	default:
		return fmt.Errorf("%w: сохранение %q: %v", ErrIOFailure, name, err)
	}
}

// classifyBackendError приводит ошибку распаковки к таксономии сервиса.
func classifyBackendError(err error) error {
	switch {
	case errors.Is(err, archive.ErrUnsupportedFormat):
		return fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	case errors.Is(err, archive.ErrTooLarge):
		return fmt.Errorf("%w: %v", ErrFileTooLarge, err)
	case errors.Is(err, archive.ErrUnsafeEntry), errors.Is(err, archive.ErrEmptyArchive):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
}
