// Пакет repository — хранилище записей об артефактах.
//
// Три реализации одного контракта ArtifactRepository:
//   - PostgreSQL (pgx) — основная для развёртывания с внешней БД
//   - SQLite (database/sql) — single-node хранилище по умолчанию
//   - in-memory — для тестов и эфемерного запуска
//
// Все запросы — чистый SQL, без ORM. Запись никогда не удаляется
// физически: deleted — конечный статус, доступный для чтения.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicateID — запись с таким идентификатором уже существует.
	ErrDuplicateID = errors.New("дублирующийся идентификатор артефакта")
)

// ListFilter — фильтры для списка артефактов.
type ListFilter struct {
	// Status — фильтр по статусу (nil = без фильтра)
	Status *model.ArtifactStatus
}

// ArtifactRepository — контракт хранилища записей об артефактах.
type ArtifactRepository interface {
	// Create вставляет новую запись. ErrDuplicateID при коллизии ID.
	Create(ctx context.Context, rec *model.ArtifactRecord) error
	// GetByID возвращает запись по ID или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.ArtifactRecord, error)
	// FindEligibleForReclamation возвращает записи с указанным статусом,
	// у которых значимая метка времени строго меньше olderThan:
	// downloaded_at для downloaded, uploaded_at для uploaded.
	// Порядок не определён.
	FindEligibleForReclamation(ctx context.Context, status model.ArtifactStatus, olderThan time.Time) ([]*model.ArtifactRecord, error)
	// Update перезаписывает запись целиком по ID. ErrNotFound, если ID неизвестен.
	Update(ctx context.Context, rec *model.ArtifactRecord) error
	// List возвращает страницу записей (новые первые) и общее количество.
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*model.ArtifactRecord, int, error)
	// CountByStatus возвращает количество записей по каждому статусу.
	CountByStatus(ctx context.Context) (map[model.ArtifactStatus]int, error)
}

// DBTX — интерфейс для выполнения SQL-запросов PostgreSQL.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// timestampColumn возвращает столбец, по которому отбираются кандидаты
// на очистку для данного статуса. Пустая строка — статус не подлежит очистке.
func timestampColumn(status model.ArtifactStatus) string {
	switch status {
	case model.StatusDownloaded:
		return "downloaded_at"
	case model.StatusUploaded:
		return "uploaded_at"
	default:
		return ""
	}
}

// normalizeTime приводит время к UTC с точностью до микросекунды —
// общей точности всех реализаций хранилища.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := normalizeTime(*t)
	return &n
}
