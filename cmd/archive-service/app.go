package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/archive-service/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-service/internal/archive"
	"github.com/bigkaa/goartstore/archive-service/internal/config"
	"github.com/bigkaa/goartstore/archive-service/internal/database"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/archive-service/internal/repository"
	"github.com/bigkaa/goartstore/archive-service/internal/service"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/archive-service/internal/storage/wal"
)

// app — связанные компоненты сервиса.
type app struct {
	engine    *service.LifecycleEngine
	archives  *service.ArchiveService
	reclaim   *service.ReclaimService
	dephealth *service.DephealthService
	readiness handlers.ReadinessChecker
	closers   []func()
}

// memoryReadiness — хранилище записей в памяти всегда готово.
type memoryReadiness struct{}

func (memoryReadiness) CheckReady() (string, string) { return "ok", "in-memory" }

// newApp инициализирует хранилища и сервисы согласно конфигурации.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	repo, err := a.openRepository(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := filestore.New(cfg.FileStoragePath, cfg.TempStoragePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка инициализации FileStore: %w", err)
	}

	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка инициализации WAL: %w", err)
	}

	policy := lifecycle.Policy{
		RetentionDelay:          cfg.RetentionDelay,
		ExpireUndownloadedAfter: cfg.ExpireUndownloadedAfter,
	}
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	a.engine = service.NewLifecycleEngine(repo, store, cache, policy, nil, logger)
	a.archives = service.NewArchiveService(a.engine, store, archive.NewZipBackend(cfg.MaxExtractedSize),
		walEngine, repo, logger)
	a.reclaim = service.NewReclaimService(a.engine, repo, service.ReclaimConfig{
		Interval:             cfg.ReclamationInterval,
		Concurrency:          cfg.ReclaimConcurrency,
		FailureWarnThreshold: cfg.ReclaimFailureWarnThreshold,
	}, logger)
	return a, nil
}

// openRepository открывает хранилище записей выбранного драйвера.
func (a *app) openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.ArtifactRepository, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, err
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.readiness = database.NewReadinessChecker(pool)

		serviceID := cfg.DephealthName
		if serviceID == "" {
			serviceID = "archive-service"
		}
		sqlDB := stdlib.OpenDBFromPool(pool)
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		pgURL := fmt.Sprintf("postgres://%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
		dh, err := service.NewDephealthService(serviceID, sqlDB, pgURL, cfg.DephealthCheckInterval, logger)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else {
			a.dephealth = dh
		}
		return repository.NewPostgresRepository(pool), nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.readiness = database.NewSQLiteReadinessChecker(db)
		logger.Info("Хранилище записей SQLite открыто", slog.String("path", cfg.SQLitePath))
		return repository.NewSQLiteRepository(db), nil

	default:
		a.readiness = memoryReadiness{}
		logger.Warn("Хранилище записей в памяти: записи не переживут перезапуск")
		return repository.NewMemoryRepository(), nil
	}
}

// Close освобождает ресурсы в обратном порядке открытия.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
