// reclaim.go — сервис фоновой очистки (reclamation) артефактов.
//
// Каждый тик:
//  1. cutoff = now - retentionDelay (+1µs: хранилище отбирает «строго меньше»)
//  2. выборка downloaded записей с downloaded_at < cutoff
//     (и uploaded с uploaded_at < now - expireUndownloadedAfter, если политика включена)
//  3. Reclaim для каждой записи независимо, с ограниченным параллелизмом
//
// Тики не пересекаются: если предыдущий ещё выполняется, очередной пропускается.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-service/internal/repository"
)

// Prometheus метрики очистки
var (
	// reclaimRunsTotal — количество выполненных циклов очистки.
	reclaimRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_reclaim_runs_total",
		Help: "Общее количество выполненных циклов очистки",
	})

	// reclaimSkippedRunsTotal — количество тиков, пропущенных из-за выполняющегося цикла.
	reclaimSkippedRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_reclaim_skipped_runs_total",
		Help: "Количество циклов очистки, пропущенных из-за выполняющегося цикла",
	})

	// reclaimArtifactsTotal — результаты обработки отдельных артефактов.
	reclaimArtifactsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "as_reclaim_artifacts_total",
		Help: "Количество артефактов, обработанных очисткой, по результату",
	}, []string{"result"})

	// reclaimStuckArtifacts — артефакты, чья очистка не удалась подряд не менее порога раз.
	reclaimStuckArtifacts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "as_reclaim_stuck_artifacts",
		Help: "Количество артефактов с повторяющимися ошибками очистки в последнем цикле",
	})

	// reclaimDurationSeconds — длительность цикла очистки.
	reclaimDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "as_reclaim_duration_seconds",
		Help:    "Длительность цикла очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult — результат одного цикла очистки.
type SweepResult struct {
	// Candidates — количество отобранных кандидатов
	Candidates int `json:"candidates"`
	// Reclaimed — количество артефактов, переведённых в deleted
	Reclaimed int `json:"reclaimed"`
	// Skipped — кандидаты, чей срок при перепроверке не наступил
	Skipped int `json:"skipped"`
	// Failed — количество ошибок (записи остаются для следующего цикла)
	Failed int `json:"failed"`
	// Stuck — записи, чья очистка не удалась не менее порога раз подряд
	Stuck int `json:"stuck"`
	// Duration — длительность выполнения
	Duration time.Duration `json:"duration_ns"`
}

// ReclaimConfig — параметры сервиса очистки.
type ReclaimConfig struct {
	// Interval — период тиков (AS_RECLAMATION_INTERVAL)
	Interval time.Duration
	// Concurrency — количество параллельно очищаемых артефактов
	Concurrency int
	// FailureWarnThreshold — после скольких неудач подряд логировать WARN
	FailureWarnThreshold int
}

// ReclaimService — фоновый планировщик очистки.
type ReclaimService struct {
	engine *LifecycleEngine
	repo   repository.ArtifactRepository
	cfg    ReclaimConfig
	logger *slog.Logger

	mu sync.Mutex // защита от параллельного запуска RunOnce

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReclaimService создаёт сервис очистки.
func NewReclaimService(
	engine *LifecycleEngine,
	repo repository.ArtifactRepository,
	cfg ReclaimConfig,
	logger *slog.Logger,
) *ReclaimService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &ReclaimService{
		engine: engine,
		repo:   repo,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "reclaim")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
// Повторный вызов без Stop игнорируется.
func (s *ReclaimService) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)

	s.logger.Info("Очистка артефактов запущена",
		slog.String("interval", s.cfg.Interval.String()),
		slog.String("retention_delay", s.engine.Policy().RetentionDelay.String()),
		slog.Int("concurrency", s.cfg.Concurrency),
	)
}

// Stop останавливает фоновый процесс и ждёт завершения текущего цикла.
func (s *ReclaimService) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("Очистка артефактов остановлена")
}

// run — основной цикл фоновой горутины.
func (s *ReclaimService) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrReclaimInProgress) &&
				!errors.Is(err, context.Canceled) {
				s.logger.Error("Ошибка цикла очистки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Если цикл уже выполняется, возвращает ErrReclaimInProgress без ожидания.
// Ошибки отдельных записей не прерывают цикл и не возвращаются вызывающему.
func (s *ReclaimService) RunOnce(ctx context.Context) (*SweepResult, error) {
	if !s.mu.TryLock() {
		reclaimSkippedRunsTotal.Inc()
		s.logger.Debug("Цикл очистки пропущен: предыдущий ещё выполняется")
		return nil, ErrReclaimInProgress
	}
	defer s.mu.Unlock()

	start := time.Now()
	candidates, err := s.candidates(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Candidates: len(candidates)}
	var resMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range candidates {
		g.Go(func() error {
			outcome := s.reclaimOne(gctx, id)
			resMu.Lock()
			defer resMu.Unlock()
			switch outcome {
			case outcomeReclaimed:
				result.Reclaimed++
			case outcomeSkipped:
				result.Skipped++
			case outcomeStuck:
				result.Stuck++
				result.Failed++
			default:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)

	reclaimRunsTotal.Inc()
	reclaimArtifactsTotal.WithLabelValues("reclaimed").Add(float64(result.Reclaimed))
	reclaimArtifactsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	reclaimArtifactsTotal.WithLabelValues("failed").Add(float64(result.Failed))
	reclaimStuckArtifacts.Set(float64(result.Stuck))
	reclaimDurationSeconds.Observe(result.Duration.Seconds())

	level := slog.LevelDebug
	if result.Reclaimed > 0 || result.Failed > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "Цикл очистки завершён",
		slog.Int("candidates", result.Candidates),
		slog.Int("reclaimed", result.Reclaimed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration),
	)

	return result, ctx.Err()
}

// candidates возвращает идентификаторы записей, подлежащих очистке.
func (s *ReclaimService) candidates(ctx context.Context) ([]string, error) {
	policy := s.engine.Policy()
	now := s.engine.Now()

	recs, err := s.repo.FindEligibleForReclamation(ctx, model.StatusDownloaded,
		lifecycle.ReclaimCutoff(now, policy.RetentionDelay))
	if err != nil {
		return nil, err
	}
	if policy.ExpiresUndownloaded() {
		expired, err := s.repo.FindEligibleForReclamation(ctx, model.StatusUploaded,
			lifecycle.ReclaimCutoff(now, policy.ExpireUndownloadedAfter))
		if err != nil {
			return nil, err
		}
		recs = append(recs, expired...)
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

type reclaimOutcome int

const (
	outcomeReclaimed reclaimOutcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeStuck
)

// reclaimOne очищает одну запись и логирует результат.
func (s *ReclaimService) reclaimOne(ctx context.Context, id string) reclaimOutcome {
	rec, err := s.engine.Reclaim(ctx, id)
	switch {
	case err == nil:
		return outcomeReclaimed
	case errors.Is(err, ErrReclaimNotDue):
		return outcomeSkipped
	}

	attrs := []any{
		slog.String("artifact_id", id),
		slog.String("error", err.Error()),
	}
	if rec != nil {
		attrs = append(attrs, slog.String("path", rec.BackingPath()))
	}
	s.logger.Error("Ошибка очистки артефакта", attrs...)

	if rec != nil && s.cfg.FailureWarnThreshold > 0 && rec.ReclaimFailures >= s.cfg.FailureWarnThreshold {
		s.logger.Warn("Артефакт не удаётся очистить несколько циклов подряд",
			slog.String("artifact_id", id),
			slog.Int("failures", rec.ReclaimFailures),
			slog.String("status", string(rec.Status)),
		)
		return outcomeStuck
	}
	return outcomeFailed
}
