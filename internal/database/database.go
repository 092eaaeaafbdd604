// Пакет database — подключение к хранилищу записей об артефактах:
// PostgreSQL через pgxpool с миграциями golang-migrate
// и SQLite (ncruces/go-sqlite3) со встроенной схемой.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bigkaa/goartstore/archive-service/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteSchema — схема SQLite. Метки времени — Unix-время в микросекундах.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id      TEXT PRIMARY KEY,
	file_name        TEXT NOT NULL,
	storage_key      TEXT NOT NULL UNIQUE,
	kind             TEXT NOT NULL CHECK (kind IN ('compressed', 'extracted')),
	status           TEXT NOT NULL CHECK (status IN ('uploaded', 'downloaded', 'deleted')),
	uploaded_at      INTEGER NOT NULL,
	downloaded_at    INTEGER,
	deleted_at       INTEGER,
	reclaim_failures INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_artifacts_status_downloaded ON artifacts (status, downloaded_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_status_uploaded ON artifacts (status, uploaded_at);
`

// Connect создаёт пул подключений к PostgreSQL.
// Выполняет ping для проверки доступности.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
	)

	return pool, nil
}

// Migrate применяет SQL-миграции из embedded FS к базе данных PostgreSQL.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// OpenSQLite открывает (или создаёт) файл SQLite и применяет схему.
// Родительская директория создаётся с правами 0700.
// Журнал — WAL, busy_timeout — 5 секунд.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ошибка создания директории SQLite: %w", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", path, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка применения схемы SQLite: %w", err)
	}
	return db, nil
}

// ReadinessChecker — проверка готовности хранилища записей для health endpoint.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{name: "PostgreSQL", ping: pool.Ping}
}

// NewSQLiteReadinessChecker создаёт проверку готовности SQLite.
func NewSQLiteReadinessChecker(db *sql.DB) *ReadinessChecker {
	return &ReadinessChecker{name: "SQLite", ping: db.PingContext}
}

// CheckReady проверяет подключение через ping.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return "fail", fmt.Sprintf("%s недоступен: %v", c.name, err)
	}
	return "ok", "подключение активно"
}
