// Пакет server — HTTP-сервер Archive Service с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/goartstore/archive-service/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-service/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-service/internal/config"
)

// Handlers — набор обработчиков, монтируемых на роутер.
type Handlers struct {
	Health      *handlers.HealthHandler
	Artifacts   *handlers.ArtifactsHandler
	Maintenance *handlers.MaintenanceHandler
}

// Server — HTTP-сервер Archive Service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// NewRouter создаёт chi-роутер со всеми маршрутами.
// auth == nil — API доступно без аутентификации.
func NewRouter(h Handlers, auth *middleware.JWTAuth, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Публичные endpoints
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	// scoped навешивает проверку scope, только если аутентификация включена.
	scoped := func(scope string) func(http.Handler) http.Handler {
		if auth == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.RequireScope(scope)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware())
		}

		r.With(scoped(middleware.ScopeArchivesWrite)).Post("/archives/compress", h.Artifacts.Compress)
		r.With(scoped(middleware.ScopeArchivesWrite)).Post("/archives/decompress", h.Artifacts.Decompress)

		r.Group(func(r chi.Router) {
			r.Use(scoped(middleware.ScopeArtifactsRead))
			r.Get("/artifacts", h.Artifacts.List)
			r.Get("/artifacts/{artifact_id}", h.Artifacts.Get)
			r.Get("/artifacts/{artifact_id}/download", h.Artifacts.Download)
		})

		r.With(scoped(middleware.ScopeMaintenance)).Post("/maintenance/reclaim", h.Maintenance.Reclaim)
	})

	return router
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, auth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(h, auth, logger),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом
// AS_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
