package schema

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/models"
)

type fakeDocs struct {
	schemas    map[string]models.SchemaEntry
	listErr    error
	connectErr error
	calls      int
}

func (f *fakeDocs) Connect(ctx context.Context) error    { return f.connectErr }
func (f *fakeDocs) Disconnect(ctx context.Context) error { return nil }

func (f *fakeDocs) ListCollections(ctx context.Context) ([]string, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.schemas))
	for name := range f.schemas {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeDocs) InferSchema(ctx context.Context, collection string, sampleSize int) (models.SchemaEntry, error) {
	return f.schemas[collection], nil
}

func (f *fakeDocs) Find(ctx context.Context, collection string, filter, opts models.Value) ([]models.Row, error) {
	return nil, nil
}
func (f *fakeDocs) Aggregate(ctx context.Context, collection string, pipeline, opts models.Value) ([]models.Row, error) {
	return nil, nil
}
func (f *fakeDocs) Count(ctx context.Context, collection string, filter models.Value) (int64, error) {
	return 0, nil
}
func (f *fakeDocs) InsertOne(ctx context.Context, collection string, document models.Value) (models.Row, error) {
	return nil, nil
}
func (f *fakeDocs) InsertMany(ctx context.Context, collection string, documents models.Value) (models.Row, error) {
	return nil, nil
}
func (f *fakeDocs) UpdateOne(ctx context.Context, collection string, filter, update models.Value) (models.Row, error) {
	return nil, nil
}
func (f *fakeDocs) UpdateMany(ctx context.Context, collection string, filter, update models.Value) (models.Row, error) {
	return nil, nil
}
func (f *fakeDocs) DeleteOne(ctx context.Context, collection string, filter models.Value) (models.Row, error) {
	return nil, nil
}
func (f *fakeDocs) DeleteMany(ctx context.Context, collection string, filter models.Value) (models.Row, error) {
	return nil, nil
}

type fakeColumnar struct {
	schemas    map[string]models.SchemaEntry
	connectErr error
	calls      int
}

func (f *fakeColumnar) Connect(ctx context.Context) error    { return f.connectErr }
func (f *fakeColumnar) Disconnect(ctx context.Context) error { return nil }

func (f *fakeColumnar) ListTables(ctx context.Context) ([]string, error) {
	f.calls++
	names := make([]string, 0, len(f.schemas))
	for name := range f.schemas {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeColumnar) DescribeTable(ctx context.Context, table string) (models.SchemaEntry, error) {
	return f.schemas[table], nil
}

func (f *fakeColumnar) TableColumns(ctx context.Context, table string) ([]string, error) {
	return nil, nil
}
func (f *fakeColumnar) Query(ctx context.Context, sql string, params, settings map[string]interface{}) ([]models.Row, []string, error) {
	return nil, nil, nil
}
func (f *fakeColumnar) QueryStream(ctx context.Context, sql string, params, settings map[string]interface{}, batchSize int) (*models.StreamingResult, error) {
	return nil, nil
}
func (f *fakeColumnar) Exec(ctx context.Context, sql string, params, settings map[string]interface{}) (int64, error) {
	return 0, nil
}

func fixtures() (*fakeDocs, *fakeColumnar) {
	docs := &fakeDocs{schemas: map[string]models.SchemaEntry{
		"users": {"name": models.FieldInfo{Type: "string"}},
	}}
	columnar := &fakeColumnar{schemas: map[string]models.SchemaEntry{
		"orders": {"total": models.FieldInfo{Type: "Float64"}},
		"events": {"ts": models.FieldInfo{Type: "DateTime"}},
	}}
	return docs, columnar
}

func TestCache_Refresh(t *testing.T) {
	docs, columnar := fixtures()
	cache := NewCache(Config{}, docs, columnar, zerolog.Nop())

	require.NoError(t, cache.Refresh(context.Background()))

	entry, ok := cache.Schema(models.BackendMongo, "users")
	require.True(t, ok)
	assert.Equal(t, "string", entry["name"].Type)

	assert.Equal(t, []string{"events", "orders"}, cache.Names(models.BackendClickHouse))
	assert.WithinDuration(t, time.Now(), cache.LastRefresh(), time.Second)
}

func TestCache_RefreshFailureIsolatedPerBackend(t *testing.T) {
	docs, columnar := fixtures()
	docs.connectErr = errors.New(errors.CodeConnectionFailed, "refused")
	cache := NewCache(Config{}, docs, columnar, zerolog.Nop())

	err := cache.Refresh(context.Background())
	assert.Error(t, err)

	// The columnar side still refreshed.
	assert.Equal(t, []string{"events", "orders"}, cache.Names(models.BackendClickHouse))
	assert.Empty(t, cache.Names(models.BackendMongo))
}

func TestCache_FailedRefreshKeepsPreviousCatalog(t *testing.T) {
	docs, columnar := fixtures()
	cache := NewCache(Config{}, docs, columnar, zerolog.Nop())
	require.NoError(t, cache.Refresh(context.Background()))

	docs.listErr = errors.New(errors.CodeExecutionFailed, "cursor timeout")
	assert.Error(t, cache.Refresh(context.Background()))

	// The document catalog from the first refresh survives.
	assert.Equal(t, []string{"users"}, cache.Names(models.BackendMongo))
}

func TestCache_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.snap")

	docs, columnar := fixtures()
	cache := NewCache(Config{SnapshotPath: path}, docs, columnar, zerolog.Nop())
	require.NoError(t, cache.Refresh(context.Background()))

	snap, err := loadSnapshot(path)
	require.NoError(t, err)
	assert.Contains(t, snap.Mongo, "users")
	assert.Contains(t, snap.ClickHouse, "orders")
	assert.WithinDuration(t, cache.LastRefresh(), snap.LastRefresh, time.Second)
}

func TestCache_InitializeUsesFreshSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.snap")
	docs, columnar := fixtures()

	warm := NewCache(Config{SnapshotPath: path}, docs, columnar, zerolog.Nop())
	require.NoError(t, warm.Refresh(context.Background()))
	refreshCalls := docs.calls

	cold := NewCache(Config{SnapshotPath: path, RefreshInterval: time.Hour}, docs, columnar, zerolog.Nop())
	require.NoError(t, cold.Initialize(context.Background()))

	// Fresh snapshot: no store contact.
	assert.Equal(t, refreshCalls, docs.calls)
	assert.Equal(t, []string{"users"}, cold.Names(models.BackendMongo))
}

func TestCache_InitializeRefreshesStaleSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.snap")
	require.NoError(t, saveSnapshot(path, &snapshot{
		Mongo:       map[string]models.SchemaEntry{"stale": {}},
		ClickHouse:  map[string]models.SchemaEntry{},
		LastRefresh: time.Now().Add(-2 * time.Hour),
	}))

	docs, columnar := fixtures()
	cache := NewCache(Config{SnapshotPath: path, RefreshInterval: time.Hour}, docs, columnar, zerolog.Nop())
	require.NoError(t, cache.Initialize(context.Background()))

	assert.Equal(t, []string{"users"}, cache.Names(models.BackendMongo))
	assert.Equal(t, 1, docs.calls)
}

func TestCache_InitializeWithoutSnapshotRefreshes(t *testing.T) {
	docs, columnar := fixtures()
	cache := NewCache(Config{}, docs, columnar, zerolog.Nop())
	require.NoError(t, cache.Initialize(context.Background()))
	assert.Equal(t, 1, docs.calls)
}

func TestCache_RefreshSkipsSystemEntities(t *testing.T) {
	docs, columnar := fixtures()
	docs.schemas["system.views"] = models.SchemaEntry{}
	columnar.schemas["system.parts"] = models.SchemaEntry{}
	cache := NewCache(Config{}, docs, columnar, zerolog.Nop())

	require.NoError(t, cache.Refresh(context.Background()))
	assert.Equal(t, []string{"users"}, cache.Names(models.BackendMongo))
	assert.Equal(t, []string{"events", "orders"}, cache.Names(models.BackendClickHouse))
}

func TestCache_SchemaUnknownBackend(t *testing.T) {
	docs, columnar := fixtures()
	cache := NewCache(Config{}, docs, columnar, zerolog.Nop())
	_, ok := cache.Schema(models.BackendMemory, "x")
	assert.False(t, ok)
	assert.Nil(t, cache.Names(models.BackendMemory))
}
