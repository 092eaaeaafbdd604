package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
)

// artifactColumns — список столбцов таблицы artifacts для SELECT-запросов.
const artifactColumns = `artifact_id, file_name, storage_key, kind, status,
	uploaded_at, downloaded_at, deleted_at, reclaim_failures`

// postgresRepo — реализация ArtifactRepository через pgx.
type postgresRepo struct {
	db DBTX
}

// NewPostgresRepository создаёт репозиторий артефактов поверх PostgreSQL.
func NewPostgresRepository(db DBTX) ArtifactRepository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) Create(ctx context.Context, rec *model.ArtifactRecord) error {
	query := `
		INSERT INTO artifacts (artifact_id, file_name, storage_key, kind, status,
			uploaded_at, downloaded_at, deleted_at, reclaim_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.FileName, rec.StorageKey, string(rec.Kind), string(rec.Status),
		normalizeTime(rec.UploadedAt), normalizeTimePtr(rec.DownloadedAt), normalizeTimePtr(rec.DeletedAt),
		rec.ReclaimFailures,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		return fmt.Errorf("ошибка создания записи артефакта: %w", err)
	}
	return nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*model.ArtifactRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM artifacts WHERE artifact_id = $1`, artifactColumns)

	rec, err := scanArtifact(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения артефакта: %w", err)
	}
	return rec, nil
}

func (r *postgresRepo) FindEligibleForReclamation(
	ctx context.Context,
	status model.ArtifactStatus,
	olderThan time.Time,
) ([]*model.ArtifactRecord, error) {
	column := timestampColumn(status)
	if column == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM artifacts WHERE status = $1 AND %s < $2`, artifactColumns, column)

	rows, err := r.db.Query(ctx, query, string(status), normalizeTime(olderThan))
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска кандидатов на очистку: %w", err)
	}
	return collectArtifacts(rows)
}

func (r *postgresRepo) Update(ctx context.Context, rec *model.ArtifactRecord) error {
	query := `
		UPDATE artifacts
		SET file_name = $2, storage_key = $3, kind = $4, status = $5,
			uploaded_at = $6, downloaded_at = $7, deleted_at = $8,
			reclaim_failures = $9, updated_at = NOW()
		WHERE artifact_id = $1`

	tag, err := r.db.Exec(ctx, query,
		rec.ID, rec.FileName, rec.StorageKey, string(rec.Kind), string(rec.Status),
		normalizeTime(rec.UploadedAt), normalizeTimePtr(rec.DownloadedAt), normalizeTimePtr(rec.DeletedAt),
		rec.ReclaimFailures,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления артефакта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepo) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*model.ArtifactRecord, int, error) {
	where := ""
	var args []any
	if filter.Status != nil {
		where = "WHERE status = $1"
		args = append(args, string(*filter.Status))
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM artifacts %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта артефактов: %w", err)
	}

	argNum := len(args) + 1
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM artifacts %s ORDER BY uploaded_at DESC LIMIT $%d OFFSET $%d`,
		artifactColumns, where, argNum, argNum+1,
	)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка артефактов: %w", err)
	}
	items, err := collectArtifacts(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *postgresRepo) CountByStatus(ctx context.Context) (map[model.ArtifactStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM artifacts GROUP BY status`)
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

// scanArtifact сканирует одну строку artifacts в ArtifactRecord.
func scanArtifact(row pgx.Row) (*model.ArtifactRecord, error) {
	var (
		rec    model.ArtifactRecord
		kind   string
		status string
	)
	if err := row.Scan(
		&rec.ID, &rec.FileName, &rec.StorageKey, &kind, &status,
		&rec.UploadedAt, &rec.DownloadedAt, &rec.DeletedAt, &rec.ReclaimFailures,
	); err != nil {
		return nil, err
	}
	rec.Kind = model.ArtifactKind(kind)
	rec.Status = model.ArtifactStatus(status)
	rec.UploadedAt = rec.UploadedAt.UTC()
	rec.DownloadedAt = normalizeTimePtr(rec.DownloadedAt)
	rec.DeletedAt = normalizeTimePtr(rec.DeletedAt)
	return &rec, nil
}

// collectArtifacts вычитывает все строки и закрывает rows.
func collectArtifacts(rows pgx.Rows) ([]*model.ArtifactRecord, error) {
	defer rows.Close()

	var result []*model.ArtifactRecord
	for rows.Next() {
		rec, err := scanArtifact(rows)
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

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
