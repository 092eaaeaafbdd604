// Пакет config — загрузка и валидация конфигурации Archive Service.
//
// Источники (по возрастанию приоритета):
//  1. значения по умолчанию
//  2. YAML-файл, указанный в AS_CONFIG_FILE (опционально)
//  3. переменные окружения AS_*
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы хранилища записей об артефактах.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config содержит все параметры конфигурации Archive Service.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корень хранилища готовых артефактов
	FileStoragePath string
	// Корень рабочих копий загруженных файлов
	TempStoragePath string
	// Путь к директории WAL
	WALDir string
	// Время после последнего скачивания, по истечении которого артефакт очищается
	RetentionDelay time.Duration
	// Период запуска очистки
	ReclamationInterval time.Duration
	// Срок жизни нескачанного артефакта (0 — не истекает)
	ExpireUndownloadedAfter time.Duration
	// Количество артефактов, очищаемых параллельно в одном проходе
	ReclaimConcurrency int
	// Число подряд неудачных очисток, после которого пишется WARN
	ReclaimFailureWarnThreshold int
	// Максимальный размер тела запроса загрузки в байтах
	MaxUploadSize int64
	// Лимит суммарного размера распакованных данных одного архива
	MaxExtractedSize int64

	// Драйвер хранилища записей: sqlite, postgres, memory
	DBDriver string
	// Путь к файлу SQLite
	SQLitePath string
	// Параметры PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Размер LRU-кэша метаданных
	CacheSize int
	// TTL записей кэша
	CacheTTL time.Duration

	// URL JWKS endpoint (пусто — аутентификация отключена)
	JWKSUrl string
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя владельца пода для метки name в topologymetrics
	DephealthName string
}

// fileConfig — структура YAML-файла конфигурации.
// Длительности задаются строками в формате Go (5s, 1h).
type fileConfig struct {
	Port                    int    `yaml:"port"`
	FileStoragePath         string `yaml:"fileStoragePath"`
	TempStoragePath         string `yaml:"tempStoragePath"`
	WALDir                  string `yaml:"walDir"`
	RetentionDelay          string `yaml:"retentionDelay"`
	ReclamationInterval     string `yaml:"reclamationInterval"`
	ExpireUndownloadedAfter string `yaml:"expireUndownloadedAfter"`
	MaxUploadSize           int64  `yaml:"maxUploadSize"`
	Database                struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlitePath"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		Name       string `yaml:"name"`
		User       string `yaml:"user"`
		Password   string `yaml:"password"`
		SSLMode    string `yaml:"sslMode"`
	} `yaml:"database"`
}

// loadFile читает YAML-файл конфигурации. Пустой путь — пустая конфигурация.
func loadFile(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации %s: %w", path, err)
	}
	return fc, nil
}

// Load загружает конфигурацию из файла и переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	fc, err := loadFile(os.Getenv("AS_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	// AS_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("AS_PORT", orInt(fc.Port, 8040))
	if err != nil {
		return nil, fmt.Errorf("AS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("AS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// AS_FILE_STORAGE_PATH — обязательный
	cfg.FileStoragePath = getEnvDefault("AS_FILE_STORAGE_PATH", fc.FileStoragePath)
	if cfg.FileStoragePath == "" {
		return nil, fmt.Errorf("AS_FILE_STORAGE_PATH: обязательный параметр не задан")
	}

	// AS_TEMP_STORAGE_PATH — обязательный
	cfg.TempStoragePath = getEnvDefault("AS_TEMP_STORAGE_PATH", fc.TempStoragePath)
	if cfg.TempStoragePath == "" {
		return nil, fmt.Errorf("AS_TEMP_STORAGE_PATH: обязательный параметр не задан")
	}
	if filepath.Clean(cfg.TempStoragePath) == filepath.Clean(cfg.FileStoragePath) {
		return nil, fmt.Errorf("AS_TEMP_STORAGE_PATH: должен отличаться от AS_FILE_STORAGE_PATH")
	}

	// AS_WAL_DIR — по умолчанию {file storage}/.wal
	cfg.WALDir = getEnvDefault("AS_WAL_DIR", orString(fc.WALDir, filepath.Join(cfg.FileStoragePath, ".wal")))

	// AS_RETENTION_DELAY — по умолчанию 5s
	cfg.RetentionDelay, err = getDuration("AS_RETENTION_DELAY", fc.RetentionDelay, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if cfg.RetentionDelay < 0 {
		return nil, fmt.Errorf("AS_RETENTION_DELAY: значение не может быть отрицательным")
	}

	// AS_RECLAMATION_INTERVAL — по умолчанию 5s
	cfg.ReclamationInterval, err = getDuration("AS_RECLAMATION_INTERVAL", fc.ReclamationInterval, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if cfg.ReclamationInterval <= 0 {
		return nil, fmt.Errorf("AS_RECLAMATION_INTERVAL: значение должно быть положительным")
	}

	// AS_EXPIRE_UNDOWNLOADED_AFTER — 0 отключает истечение нескачанных артефактов
	cfg.ExpireUndownloadedAfter, err = getDuration("AS_EXPIRE_UNDOWNLOADED_AFTER", fc.ExpireUndownloadedAfter, 0)
	if err != nil {
		return nil, err
	}
	if cfg.ExpireUndownloadedAfter < 0 {
		return nil, fmt.Errorf("AS_EXPIRE_UNDOWNLOADED_AFTER: значение не может быть отрицательным")
	}

	// AS_RECLAIM_CONCURRENCY — по умолчанию 4
	cfg.ReclaimConcurrency, err = getEnvInt("AS_RECLAIM_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("AS_RECLAIM_CONCURRENCY: %w", err)
	}
	if cfg.ReclaimConcurrency < 1 {
		return nil, fmt.Errorf("AS_RECLAIM_CONCURRENCY: значение должно быть >= 1")
	}

	// AS_RECLAIM_FAILURE_WARN_THRESHOLD — по умолчанию 3
	cfg.ReclaimFailureWarnThreshold, err = getEnvInt("AS_RECLAIM_FAILURE_WARN_THRESHOLD", 3)
	if err != nil {
		return nil, fmt.Errorf("AS_RECLAIM_FAILURE_WARN_THRESHOLD: %w", err)
	}

	// AS_MAX_UPLOAD_SIZE — по умолчанию 1 GB
	cfg.MaxUploadSize, err = getEnvInt64("AS_MAX_UPLOAD_SIZE", orInt64(fc.MaxUploadSize, 1073741824))
	if err != nil {
		return nil, fmt.Errorf("AS_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("AS_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	// AS_MAX_EXTRACTED_SIZE — по умолчанию 10 GB
	cfg.MaxExtractedSize, err = getEnvInt64("AS_MAX_EXTRACTED_SIZE", 10*1073741824)
	if err != nil {
		return nil, fmt.Errorf("AS_MAX_EXTRACTED_SIZE: %w", err)
	}
	if cfg.MaxExtractedSize <= 0 {
		return nil, fmt.Errorf("AS_MAX_EXTRACTED_SIZE: значение должно быть положительным")
	}

	// AS_DB_DRIVER — по умолчанию sqlite
	cfg.DBDriver = getEnvDefault("AS_DB_DRIVER", orString(fc.Database.Driver, DriverSQLite))
	switch cfg.DBDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return nil, fmt.Errorf("AS_DB_DRIVER: недопустимое значение %q, допустимые: sqlite, postgres, memory", cfg.DBDriver)
	}
	cfg.SQLitePath = getEnvDefault("AS_SQLITE_PATH",
		orString(fc.Database.SQLitePath, filepath.Join(cfg.FileStoragePath, "artifacts.db")))

	cfg.DBHost = getEnvDefault("AS_DB_HOST", orString(fc.Database.Host, "localhost"))
	cfg.DBPort, err = getEnvInt("AS_DB_PORT", orInt(fc.Database.Port, 5432))
	if err != nil {
		return nil, fmt.Errorf("AS_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("AS_DB_NAME", orString(fc.Database.Name, "archive"))
	cfg.DBUser = getEnvDefault("AS_DB_USER", orString(fc.Database.User, "archive"))
	cfg.DBPassword = getEnvDefault("AS_DB_PASSWORD", fc.Database.Password)
	cfg.DBSSLMode = getEnvDefault("AS_DB_SSL_MODE", orString(fc.Database.SSLMode, "disable"))
	if cfg.DBDriver == DriverPostgres && cfg.DBPassword == "" {
		return nil, fmt.Errorf("AS_DB_PASSWORD: обязателен для драйвера postgres")
	}

	// AS_CACHE_SIZE — по умолчанию 1000
	cfg.CacheSize, err = getEnvInt("AS_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("AS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("AS_CACHE_SIZE: значение должно быть >= 1")
	}
	cfg.CacheTTL, err = getEnvDuration("AS_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_CACHE_TTL: %w", err)
	}

	// AS_JWKS_URL — опционально, включает JWT-аутентификацию
	cfg.JWKSUrl = getEnvDefault("AS_JWKS_URL", "")
	cfg.JWTLeeway, err = getEnvDuration("AS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_JWT_LEEWAY: %w", err)
	}

	// AS_TLS_CERT / AS_TLS_KEY — задаются парой
	cfg.TLSCert = getEnvDefault("AS_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("AS_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("AS_TLS_CERT и AS_TLS_KEY должны быть заданы вместе")
	}

	// AS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AS_LOG_LEVEL: %w", err)
	}

	// AS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("AS_HTTP_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("AS_HTTP_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("AS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// AS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("AS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// AS_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("AS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 5s, 1h)", val)
	}
	return d, nil
}

// getDuration — длительность из окружения, затем из файла, затем по умолчанию.
func getDuration(key, fileVal string, defaultVal time.Duration) (time.Duration, error) {
	def := defaultVal
	if fileVal != "" {
		d, err := time.ParseDuration(fileVal)
		if err != nil {
			return 0, fmt.Errorf("%s: некорректная длительность в файле конфигурации: %q", key, fileVal)
		}
		def = d
	}
	d, err := getEnvDuration(key, def)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orInt64(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
