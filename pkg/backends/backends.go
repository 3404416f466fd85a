// Package backends provides the clients for the two physical data
// stores. Executors and the schema cache depend on the interfaces
// here; tests substitute fakes.
package backends

import (
	"context"

	"github.com/TFMV/fedra/pkg/models"
)

// DocumentStore is the document-oriented backend (MongoDB).
// Connections are scoped: each execution calls Connect, runs one or
// more operations, and always calls Disconnect.
type DocumentStore interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	ListCollections(ctx context.Context) ([]string, error)
	InferSchema(ctx context.Context, collection string, sampleSize int) (models.SchemaEntry, error)

	Find(ctx context.Context, collection string, filter, opts models.Value) ([]models.Row, error)
	Aggregate(ctx context.Context, collection string, pipeline, opts models.Value) ([]models.Row, error)
	Count(ctx context.Context, collection string, filter models.Value) (int64, error)

	// Write operations return a one-row summary (inserted ids, match
	// and modify counts) so every executor path yields tabular data.
	InsertOne(ctx context.Context, collection string, document models.Value) (models.Row, error)
	InsertMany(ctx context.Context, collection string, documents models.Value) (models.Row, error)
	UpdateOne(ctx context.Context, collection string, filter, update models.Value) (models.Row, error)
	UpdateMany(ctx context.Context, collection string, filter, update models.Value) (models.Row, error)
	DeleteOne(ctx context.Context, collection string, filter models.Value) (models.Row, error)
	DeleteMany(ctx context.Context, collection string, filter models.Value) (models.Row, error)
}

// ColumnarStore is the columnar analytical backend (ClickHouse).
type ColumnarStore interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (models.SchemaEntry, error)

	// TableColumns reads the live system catalog so result rows can be
	// paired with their column order.
	TableColumns(ctx context.Context, table string) ([]string, error)

	Query(ctx context.Context, sql string, params, settings map[string]interface{}) ([]models.Row, []string, error)
	QueryStream(ctx context.Context, sql string, params, settings map[string]interface{}, batchSize int) (*models.StreamingResult, error)
	Exec(ctx context.Context, sql string, params, settings map[string]interface{}) (int64, error)
}
