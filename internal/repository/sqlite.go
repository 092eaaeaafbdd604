package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
)

// sqliteRepo — реализация ArtifactRepository через database/sql (драйвер ncruces/go-sqlite3).
// Метки времени хранятся как INTEGER — Unix-время в микросекундах (UTC).
type sqliteRepo struct {
	db *sql.DB
}

// NewSQLiteRepository создаёт репозиторий артефактов поверх SQLite.
// Схема создаётся database.OpenSQLite.
func NewSQLiteRepository(db *sql.DB) ArtifactRepository {
	return &sqliteRepo{db: db}
}

func (r *sqliteRepo) Create(ctx context.Context, rec *model.ArtifactRecord) error {
	query := `
		INSERT INTO artifacts (artifact_id, file_name, storage_key, kind, status,
			uploaded_at, downloaded_at, deleted_at, reclaim_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(artifact_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.FileName, rec.StorageKey, string(rec.Kind), string(rec.Status),
		toMicros(rec.UploadedAt), toMicrosPtr(rec.DownloadedAt), toMicrosPtr(rec.DeletedAt),
		rec.ReclaimFailures,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания записи артефакта: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка создания записи артефакта: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	return nil
}

func (r *sqliteRepo) GetByID(ctx context.Context, id string) (*model.ArtifactRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM artifacts WHERE artifact_id = ?`, artifactColumns)

	rec, err := scanSQLiteArtifact(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения артефакта: %w", err)
	}
	return rec, nil
}

func (r *sqliteRepo) FindEligibleForReclamation(
	ctx context.Context,
	status model.ArtifactStatus,
	olderThan time.Time,
) ([]*model.ArtifactRecord, error) {
	column := timestampColumn(status)
	if column == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM artifacts WHERE status = ? AND %s < ?`, artifactColumns, column)

	rows, err := r.db.QueryContext(ctx, query, string(status), toMicros(olderThan))
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска кандидатов на очистку: %w", err)
	}
	return collectSQLiteArtifacts(rows)
}

func (r *sqliteRepo) Update(ctx context.Context, rec *model.ArtifactRecord) error {
	query := `
		UPDATE artifacts
		SET file_name = ?, storage_key = ?, kind = ?, status = ?,
			uploaded_at = ?, downloaded_at = ?, deleted_at = ?, reclaim_failures = ?
		WHERE artifact_id = ?`

	res, err := r.db.ExecContext(ctx, query,
		rec.FileName, rec.StorageKey, string(rec.Kind), string(rec.Status),
		toMicros(rec.UploadedAt), toMicrosPtr(rec.DownloadedAt), toMicrosPtr(rec.DeletedAt),
		rec.ReclaimFailures, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления артефакта: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка обновления артефакта: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*model.ArtifactRecord, int, error) {
	where := ""
	var args []any
	if filter.Status != nil {
		where = "WHERE status = ?"
		args = append(args, string(*filter.Status))
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM artifacts %s`, where)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта артефактов: %w", err)
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM artifacts %s ORDER BY uploaded_at DESC, artifact_id LIMIT ? OFFSET ?`,
		artifactColumns, where,
	)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка артефактов: %w", err)
	}
	items, err := collectSQLiteArtifacts(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *sqliteRepo) CountByStatus(ctx context.Context) (map[model.ArtifactStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM artifacts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта артефактов по статусам: %w", err)
	}
	defer rows.Close()

	result := make(map[model.ArtifactStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования счётчика: %w", err)
		}
		result[model.ArtifactStatus(status)] = count
	}
	return result, rows.Err()
}

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteArtifact(row rowScanner) (*model.ArtifactRecord, error) {
	var (
		rec          model.ArtifactRecord
		kind         string
		status       string
		uploadedAt   int64
		downloadedAt sql.NullInt64
		deletedAt    sql.NullInt64
	)
	if err := row.Scan(
		&rec.ID, &rec.FileName, &rec.StorageKey, &kind, &status,
		&uploadedAt, &downloadedAt, &deletedAt, &rec.ReclaimFailures,
	); err != nil {
		return nil, err
	}
	rec.Kind = model.ArtifactKind(kind)
	rec.Status = model.ArtifactStatus(status)
	rec.UploadedAt = fromMicros(uploadedAt)
	rec.DownloadedAt = fromNullMicros(downloadedAt)
	rec.DeletedAt = fromNullMicros(deletedAt)
	return &rec, nil
}

func collectSQLiteArtifacts(rows *sql.Rows) ([]*model.ArtifactRecord, error) {
	defer rows.Close()

	var result []*model.ArtifactRecord
	for rows.Next() {
		rec, err := scanSQLiteArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования артефакта: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func toMicrosPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}
