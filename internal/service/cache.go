// Пакет service — бизнес-логика Archive Service.
// CacheService — LRU-кэш записей об артефактах с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cache_hits_total",
		Help: "Общее количество попаданий в кэш записей об артефактах.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "as_cache_misses_total",
		Help: "Общее количество промахов кэша записей об артефактах.",
	})
)

// CacheService — кэш записей для чтения метаданных.
// Решения о переходах статусов принимаются только по хранилищу записей,
// кэш обслуживает GET-запросы метаданных.
type CacheService struct {
	cache *expirable.LRU[string, *model.ArtifactRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.ArtifactRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает копию записи из кэша.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(id string) (*model.ArtifactRecord, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше (сохраняется копия).
func (c *CacheService) Set(rec *model.ArtifactRecord) {
	c.cache.Add(rec.ID, rec.Clone())
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
