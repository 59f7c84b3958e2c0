package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roman-kulish/ferrybox-co2/internal/storage"
)

// Run processes the configured window and stores it as a new run.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer store.Close()

	pipeline := NewPipeline(config, store, logger)

	result, err := pipeline.Process(ctx)
	if err != nil {
		return err
	}

	if _, err = pipeline.Persist(ctx, result); err != nil {
		return fmt.Errorf("persisting window %s: %w", result.Window, err)
	}
	return nil
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dir, err := filepath.Abs(config.DataDirectory)
	if err != nil {
		return nil, fmt.Errorf("resolving storage directory '%s': %w", config.DataDirectory, err)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dir, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	return storage.NewSqliteStore(filepath.Join(dir, DatabaseFile), storage.WithMaxBatchSize(config.MaxBatchSize)), nil
}
