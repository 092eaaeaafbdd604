// Точка входа Archive Service — сервиса сжатия и распаковки файлов
// с автоматической очисткой скачанных артефактов.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/archive-service/internal/config"
	"github.com/bigkaa/goartstore/archive-service/internal/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd собирает дерево команд. Без подкоманды выполняется serve.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "archive-service",
		Short:         "Сервис сжатия и распаковки файлов с очисткой скачанных артефактов",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Запустить HTTP-сервер и фоновую очистку",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Выполнить один цикл очистки и завершиться",
			RunE:  runSweep,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Применить миграции PostgreSQL и завершиться",
			RunE:  runMigrate,
		},
	)
	return root
}

// loadConfig загружает конфигурацию и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.reclaim.RunOnce(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DBDriver != config.DriverPostgres {
		return errors.New("миграции применяются только для AS_DB_DRIVER=postgres (схема SQLite создаётся при открытии)")
	}
	return database.Migrate(cfg, logger)
}
