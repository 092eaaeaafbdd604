package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/archive-service/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-service/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-service/internal/config"
	"github.com/bigkaa/goartstore/archive-service/internal/server"
)

// runServe поднимает все компоненты, обслуживает HTTP до сигнала
// завершения и останавливает фоновые процессы в обратном порядке.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Archive Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("db_driver", cfg.DBDriver),
		slog.String("retention_delay", cfg.RetentionDelay.String()),
		slog.String("reclamation_interval", cfg.ReclamationInterval.String()),
	)

	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Незавершённые загрузки разрешаются до приёма запросов
	if _, err := a.archives.RecoverPending(ctx); err != nil {
		return err
	}
	if err := a.engine.RefreshGauges(ctx); err != nil {
		logger.Warn("Не удалось обновить метрики артефактов", slog.String("error", err.Error()))
	}

	a.reclaim.Start(ctx)
	defer a.reclaim.Stop()

	if a.dephealth != nil {
		if err := a.dephealth.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		} else {
			defer a.dephealth.Stop()
		}
	}

	var auth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		auth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   10 * time.Second,
			RefreshInterval: 15 * time.Minute,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("AS_JWKS_URL не задан, API доступно без аутентификации")
	}

	srv := server.New(cfg, logger, server.Handlers{
		Health:      handlers.NewHealthHandler(a.readiness, cfg.FileStoragePath, cfg.TempStoragePath, cfg.WALDir),
		Artifacts:   handlers.NewArtifactsHandler(a.archives, a.engine, cfg.MaxUploadSize, logger),
		Maintenance: handlers.NewMaintenanceHandler(a.reclaim, logger),
	}, auth)

	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}
