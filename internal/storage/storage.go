// Package storage provides the cache artifact backends for normalized station tables.
package storage

import (
	"fmt"

	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/internal/storage/sqlite"
	"github.com/yegors/stationmap/pkg/logger"
)

// Backend names accepted in [cache].backend
const (
	BackendNDJSON  = "ndjson"
	BackendParquet = "parquet"
	BackendSQLite  = "sqlite"
)

// New creates the store selected by cfg.Backend
func New(cfg config.CacheConfig, log *logger.Logger) (stations.Store, error) {
	switch cfg.Backend {
	case BackendNDJSON, "":
		return NewNDJSONStore(cfg.Dir, log), nil
	case BackendParquet:
		return NewParquetStore(cfg.Dir, log), nil
	case BackendSQLite:
		store, err := sqlite.NewStationStorage(cfg.SQLitePath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
}
