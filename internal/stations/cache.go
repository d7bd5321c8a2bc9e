package stations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/internal/synoptic"
	"github.com/yegors/stationmap/pkg/logger"
)

var (
	// ErrCacheMiss is returned by a Store when no artifact exists for a kind
	ErrCacheMiss = errors.New("no cached station table")
	// ErrKindMismatch is returned when an artifact holds a different kind than requested
	ErrKindMismatch = errors.New("cached station table has a different kind")
)

// Fetcher retrieves raw station records for a kind
type Fetcher interface {
	Fetch(ctx context.Context, kind synoptic.Kind) ([]synoptic.StationRecord, error)
}

// ArtifactInfo describes a persisted table
type ArtifactInfo struct {
	Kind     synoptic.Kind `json:"kind"`
	SavedAt  time.Time     `json:"saved_at"`
	Rows     int           `json:"rows"`
	Location string        `json:"location"`
}

// Store persists one normalized table per kind. Save must replace the previous
// artifact atomically; Load and Stat return ErrCacheMiss when nothing is stored.
type Store interface {
	Load(ctx context.Context, kind synoptic.Kind) (Table, ArtifactInfo, error)
	Save(ctx context.Context, table Table, savedAt time.Time) error
	Delete(ctx context.Context, kind synoptic.Kind) error
	Stat(ctx context.Context, kind synoptic.Kind) (ArtifactInfo, error)
	Close() error
}

// Status reports the cache state of a kind
type Status struct {
	Kind     synoptic.Kind `json:"kind"`
	Present  bool          `json:"present"`
	Expired  bool          `json:"expired"`
	SavedAt  *time.Time    `json:"saved_at,omitempty"`
	Rows     int           `json:"rows"`
	Location string        `json:"location,omitempty"`
}

// Cache returns normalized station tables, fetching only when no usable
// artifact exists for the kind
type Cache struct {
	fetcher Fetcher
	store   Store
	maxAge  time.Duration
	logger  *logger.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewCache creates a new station cache
func NewCache(fetcher Fetcher, store Store, cfg config.CacheConfig, log *logger.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		store:   store,
		maxAge:  time.Duration(cfg.MaxAgeMinutes) * time.Minute,
		logger:  log.Named("station-cache"),
		now:     time.Now,
	}
}

// Get returns the cached table for kind, fetching and persisting it on a miss.
// A failed fetch leaves the store untouched.
func (c *Cache) Get(ctx context.Context, kind synoptic.Kind) (Table, error) {
	if err := kind.Validate(); err != nil {
		return Table{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	table, info, err := c.store.Load(ctx, kind)
	switch {
	case err == nil:
		if c.expired(info) {
			c.logger.Info("Station cache expired",
				logger.String("kind", string(kind)),
				logger.Time("saved_at", info.SavedAt),
				logger.Duration("max_age", c.maxAge))
			break
		}
		c.logger.Info("Station cache hit",
			logger.String("kind", string(kind)),
			logger.String("location", info.Location),
			logger.Int("rows", table.Len()))
		return table, nil
	case errors.Is(err, ErrCacheMiss):
		c.logger.Info("Station cache miss",
			logger.String("kind", string(kind)))
	default:
		c.logger.Error("Failed to load station cache",
			logger.String("kind", string(kind)),
			logger.Error(err))
		return Table{}, fmt.Errorf("failed to load %s cache: %w", kind, err)
	}

	return c.fetchAndStore(ctx, kind)
}

// Refresh fetches kind unconditionally. The existing artifact is only replaced
// when the fetch succeeds.
func (c *Cache) Refresh(ctx context.Context, kind synoptic.Kind) (Table, error) {
	if err := kind.Validate(); err != nil {
		return Table{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Refreshing station cache", logger.String("kind", string(kind)))
	return c.fetchAndStore(ctx, kind)
}

// Invalidate removes the artifact for kind so the next Get fetches again
func (c *Cache) Invalidate(ctx context.Context, kind synoptic.Kind) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, kind); err != nil {
		c.logger.Error("Failed to invalidate station cache",
			logger.String("kind", string(kind)),
			logger.Error(err))
		return fmt.Errorf("failed to invalidate %s cache: %w", kind, err)
	}

	c.logger.Info("Invalidated station cache", logger.String("kind", string(kind)))
	return nil
}

// Status reports whether an artifact exists for kind and how old it is
func (c *Cache) Status(ctx context.Context, kind synoptic.Kind) (Status, error) {
	if err := kind.Validate(); err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.store.Stat(ctx, kind)
	if errors.Is(err, ErrCacheMiss) {
		return Status{Kind: kind}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to stat %s cache: %w", kind, err)
	}

	savedAt := info.SavedAt
	return Status{
		Kind:     kind,
		Present:  true,
		Expired:  c.expired(info),
		SavedAt:  &savedAt,
		Rows:     info.Rows,
		Location: info.Location,
	}, nil
}

func (c *Cache) expired(info ArtifactInfo) bool {
	return c.maxAge > 0 && c.now().Sub(info.SavedAt) > c.maxAge
}

// fetchAndStore must be called with mu held
func (c *Cache) fetchAndStore(ctx context.Context, kind synoptic.Kind) (Table, error) {
	records, err := c.fetcher.Fetch(ctx, kind)
	if err != nil {
		c.logger.Error("Failed to fetch stations",
			logger.String("kind", string(kind)),
			logger.Error(err))
		return Table{}, err
	}

	table, problems := Normalize(kind, records)
	for _, p := range problems {
		c.logger.Warn("Dropped station record",
			logger.String("kind", string(kind)),
			logger.String("station_id", p.StationID),
			logger.Int("index", p.Index),
			logger.String("field", p.Field),
			logger.String("reason", p.Reason))
	}

	if err := c.store.Save(ctx, table, c.now().UTC()); err != nil {
		c.logger.Error("Failed to persist station cache",
			logger.String("kind", string(kind)),
			logger.Error(err))
		return Table{}, fmt.Errorf("failed to persist %s cache: %w", kind, err)
	}

	c.logger.Info("Cached station table",
		logger.String("kind", string(kind)),
		logger.Int("fetched", len(records)),
		logger.Int("rows", table.Len()),
		logger.Int("dropped", len(problems)))

	return table, nil
}
