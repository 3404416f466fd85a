// Package schema maintains an in-memory catalog of both backends'
// schemas, refreshed on an interval and persisted as a compressed
// snapshot so restarts do not cold-start against the stores.
package schema

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/backends"
	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/models"
)

// Config controls cache refresh and persistence.
type Config struct {
	// RefreshInterval is how stale a snapshot may be before a refresh
	// runs on Initialize.
	RefreshInterval time.Duration
	// SnapshotPath is where the compressed snapshot lives. Empty
	// disables persistence.
	SnapshotPath string
	// SampleSize bounds document sampling during inference.
	SampleSize int
}

// Cache holds the schemas of every collection and table. All reads go
// through the lock; refreshes replace a backend's map wholesale so
// readers never see a half-built catalog.
type Cache struct {
	mu          sync.RWMutex
	mongo       map[string]models.SchemaEntry
	clickhouse  map[string]models.SchemaEntry
	lastRefresh time.Time

	cfg      Config
	docs     backends.DocumentStore
	columnar backends.ColumnarStore
	log      zerolog.Logger
}

// NewCache creates an empty cache.
func NewCache(cfg Config, docs backends.DocumentStore, columnar backends.ColumnarStore, log zerolog.Logger) *Cache {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	return &Cache{
		mongo:      map[string]models.SchemaEntry{},
		clickhouse: map[string]models.SchemaEntry{},
		cfg:        cfg,
		docs:       docs,
		columnar:   columnar,
		log:        log.With().Str("component", "schema-cache").Logger(),
	}
}

// Initialize loads the snapshot if it is fresh enough, otherwise
// refreshes from the live stores. A missing or unreadable snapshot is
// not an error; it just forces a refresh.
func (c *Cache) Initialize(ctx context.Context) error {
	if c.cfg.SnapshotPath != "" {
		snap, err := loadSnapshot(c.cfg.SnapshotPath)
		if err != nil {
			c.log.Debug().Err(err).Str("path", c.cfg.SnapshotPath).Msg("snapshot not loaded")
		} else if time.Since(snap.LastRefresh) < c.cfg.RefreshInterval {
			c.mu.Lock()
			c.mongo = snap.Mongo
			c.clickhouse = snap.ClickHouse
			c.lastRefresh = snap.LastRefresh
			c.mu.Unlock()
			c.log.Info().Time("last_refresh", snap.LastRefresh).Msg("schema cache loaded from snapshot")
			return nil
		}
	}
	return c.Refresh(ctx)
}

// Refresh rebuilds the catalog from both stores. Each backend refreshes
// independently: a failure on one side logs and keeps that side's
// previous catalog while the other side still updates. The snapshot is
// persisted afterward regardless, so partial progress survives.
func (c *Cache) Refresh(ctx context.Context) error {
	var firstErr error

	if mongo, err := c.refreshMongo(ctx); err != nil {
		c.log.Warn().Err(err).Msg("document store refresh failed")
		firstErr = err
	} else {
		c.mu.Lock()
		c.mongo = mongo
		c.mu.Unlock()
	}

	if clickhouse, err := c.refreshClickHouse(ctx); err != nil {
		c.log.Warn().Err(err).Msg("columnar store refresh failed")
		if firstErr == nil {
			firstErr = err
		}
	} else {
		c.mu.Lock()
		c.clickhouse = clickhouse
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	if c.cfg.SnapshotPath != "" {
		if err := c.persist(); err != nil {
			c.log.Warn().Err(err).Str("path", c.cfg.SnapshotPath).Msg("snapshot persist failed")
		}
	}
	return firstErr
}

func (c *Cache) refreshMongo(ctx context.Context) (map[string]models.SchemaEntry, error) {
	if err := c.docs.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.docs.Disconnect(ctx); err != nil {
			c.log.Debug().Err(err).Msg("document store disconnect")
		}
	}()

	names, err := c.docs.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.SchemaEntry, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		entry, err := c.docs.InferSchema(ctx, name, c.cfg.SampleSize)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeExecutionFailed, "infer %s", name)
		}
		out[name] = entry
	}
	return out, nil
}

func (c *Cache) refreshClickHouse(ctx context.Context) (map[string]models.SchemaEntry, error) {
	if err := c.columnar.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.columnar.Disconnect(ctx); err != nil {
			c.log.Debug().Err(err).Msg("columnar store disconnect")
		}
	}()

	names, err := c.columnar.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.SchemaEntry, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		entry, err := c.columnar.DescribeTable(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeExecutionFailed, "describe %s", name)
		}
		out[name] = entry
	}
	return out, nil
}

// Schema returns one entity's schema, or false when unknown.
func (c *Cache) Schema(backend models.Backend, name string) (models.SchemaEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch backend {
	case models.BackendMongo:
		entry, ok := c.mongo[name]
		return entry, ok
	case models.BackendClickHouse:
		entry, ok := c.clickhouse[name]
		return entry, ok
	default:
		return nil, false
	}
}

// Names returns the cached entity names for a backend, sorted.
func (c *Cache) Names(backend models.Backend) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var src map[string]models.SchemaEntry
	switch backend {
	case models.BackendMongo:
		src = c.mongo
	case models.BackendClickHouse:
		src = c.clickhouse
	default:
		return nil
	}
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LastRefresh reports when the catalog was last rebuilt.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

func (c *Cache) persist() error {
	c.mu.RLock()
	snap := snapshot{
		Mongo:       c.mongo,
		ClickHouse:  c.clickhouse,
		LastRefresh: c.lastRefresh,
	}
	c.mu.RUnlock()
	return saveSnapshot(c.cfg.SnapshotPath, &snap)
}
