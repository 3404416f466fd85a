// Package mongo implements backends.DocumentStore over the official
// MongoDB driver.
package mongo

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/TFMV/fedra/pkg/backends"
	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/models"
)

// Config holds connection parameters for the document store.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Client is a scoped-connection MongoDB client. Connect and Disconnect
// bracket every execution; the client holds no connection between
// requests.
type Client struct {
	cfg    Config
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

// NewClient creates an unconnected client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg: cfg,
		log: log.With().Str("component", "mongo-client").Logger(),
	}
}

var _ backends.DocumentStore = (*Client)(nil)

// Connect establishes and verifies a connection.
func (c *Client) Connect(ctx context.Context) error {
	opts := options.Client().
		ApplyURI(c.cfg.URI).
		SetServerSelectionTimeout(c.cfg.Timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "mongodb connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return errors.Wrap(err, errors.CodeConnectionFailed, "mongodb ping")
	}

	c.client = client
	c.db = client.Database(c.cfg.Database)
	c.log.Debug().Str("database", c.cfg.Database).Msg("connected")
	return nil
}

// Disconnect releases the connection. Safe to call when never
// connected.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	c.db = nil
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "mongodb disconnect")
	}
	return nil
}

// ListCollections returns the database's collection names.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	names, err := c.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "list collections")
	}
	return names, nil
}

// InferSchema samples documents and records the first-seen type and a
// truncated sample per field.
func (c *Client) InferSchema(ctx context.Context, collection string, sampleSize int) (models.SchemaEntry, error) {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	cursor, err := c.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(int64(sampleSize)))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeExecutionFailed, "sample %s", collection)
	}
	defer cursor.Close(ctx)

	entry := models.SchemaEntry{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, errors.CodeExecutionFailed, "decode sample")
		}
		for field, raw := range doc {
			if _, seen := entry[field]; seen {
				continue
			}
			entry[field] = models.FieldInfo{
				Type:   bsonTypeName(raw),
				Sample: truncateSample(fromBSON(raw).String()),
			}
		}
	}
	return entry, cursor.Err()
}

// Find runs a find with options drawn from the sanitized body:
// limit, skip, projection, sort, hint and maxTimeMS.
func (c *Client) Find(ctx context.Context, collection string, filter, opts models.Value) ([]models.Row, error) {
	findOpts := options.Find()
	if limit, ok := opts.Get("limit"); ok {
		findOpts.SetLimit(int64(limit.Number()))
	}
	if skip, ok := opts.Get("skip"); ok {
		findOpts.SetSkip(int64(skip.Number()))
	}
	if projection, ok := opts.Get("projection"); ok {
		findOpts.SetProjection(projection.ToAny())
	}
	if sortSpec, ok := opts.Get("sort"); ok {
		findOpts.SetSort(sortSpec.ToAny())
	}
	if hint, ok := opts.Get("hint"); ok {
		findOpts.SetHint(hint.ToAny())
	}
	if maxTime, ok := opts.Get("maxTimeMS"); ok {
		findOpts.SetMaxTime(time.Duration(maxTime.Number()) * time.Millisecond)
	}

	cursor, err := c.db.Collection(collection).Find(ctx, toFilter(filter), findOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "find")
	}
	defer cursor.Close(ctx)
	return decodeRows(ctx, cursor)
}

// Aggregate runs an aggregation pipeline.
func (c *Client) Aggregate(ctx context.Context, collection string, pipeline, opts models.Value) ([]models.Row, error) {
	aggOpts := options.Aggregate()
	if maxTime, ok := opts.Get("maxTimeMS"); ok {
		aggOpts.SetMaxTime(time.Duration(maxTime.Number()) * time.Millisecond)
	}

	stages := make([]interface{}, 0, len(pipeline.Array()))
	for _, stage := range pipeline.Array() {
		stages = append(stages, stage.ToAny())
	}

	cursor, err := c.db.Collection(collection).Aggregate(ctx, stages, aggOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "aggregate")
	}
	defer cursor.Close(ctx)
	return decodeRows(ctx, cursor)
}

// Count counts documents matching the filter.
func (c *Client) Count(ctx context.Context, collection string, filter models.Value) (int64, error) {
	n, err := c.db.Collection(collection).CountDocuments(ctx, toFilter(filter))
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeExecutionFailed, "count")
	}
	return n, nil
}

// InsertOne inserts a document and summarizes the result.
func (c *Client) InsertOne(ctx context.Context, collection string, document models.Value) (models.Row, error) {
	res, err := c.db.Collection(collection).InsertOne(ctx, document.ToAny())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "insert_one")
	}
	return models.Row{"inserted_id": idValue(res.InsertedID)}, nil
}

// InsertMany inserts documents and summarizes the result.
func (c *Client) InsertMany(ctx context.Context, collection string, documents models.Value) (models.Row, error) {
	docs := make([]interface{}, 0, len(documents.Array()))
	for _, doc := range documents.Array() {
		docs = append(docs, doc.ToAny())
	}
	res, err := c.db.Collection(collection).InsertMany(ctx, docs)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "insert_many")
	}
	ids := make([]models.Value, 0, len(res.InsertedIDs))
	for _, id := range res.InsertedIDs {
		ids = append(ids, idValue(id))
	}
	return models.Row{"inserted_ids": models.Array(ids...)}, nil
}

// UpdateOne applies an update to the first matching document.
func (c *Client) UpdateOne(ctx context.Context, collection string, filter, update models.Value) (models.Row, error) {
	res, err := c.db.Collection(collection).UpdateOne(ctx, toFilter(filter), update.ToAny())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "update_one")
	}
	return updateSummary(res), nil
}

// UpdateMany applies an update to every matching document.
func (c *Client) UpdateMany(ctx context.Context, collection string, filter, update models.Value) (models.Row, error) {
	res, err := c.db.Collection(collection).UpdateMany(ctx, toFilter(filter), update.ToAny())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "update_many")
	}
	return updateSummary(res), nil
}

// DeleteOne removes the first matching document.
func (c *Client) DeleteOne(ctx context.Context, collection string, filter models.Value) (models.Row, error) {
	res, err := c.db.Collection(collection).DeleteOne(ctx, toFilter(filter))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "delete_one")
	}
	return models.Row{"deleted_count": models.Number(float64(res.DeletedCount))}, nil
}

// DeleteMany removes every matching document.
func (c *Client) DeleteMany(ctx context.Context, collection string, filter models.Value) (models.Row, error) {
	res, err := c.db.Collection(collection).DeleteMany(ctx, toFilter(filter))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "delete_many")
	}
	return models.Row{"deleted_count": models.Number(float64(res.DeletedCount))}, nil
}

func updateSummary(res *mongo.UpdateResult) models.Row {
	return models.Row{
		"matched_count":  models.Number(float64(res.MatchedCount)),
		"modified_count": models.Number(float64(res.ModifiedCount)),
	}
}

func toFilter(filter models.Value) interface{} {
	if filter.IsNull() {
		return bson.D{}
	}
	return filter.ToAny()
}

func decodeRows(ctx context.Context, cursor *mongo.Cursor) ([]models.Row, error) {
	var rows []models.Row
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, errors.CodeExecutionFailed, "decode row")
		}
		row := make(models.Row, len(doc))
		for field, raw := range doc {
			row[field] = fromBSON(raw)
		}
		rows = append(rows, row)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "cursor")
	}
	return rows, nil
}

// fromBSON converts driver-native values into the engine's variant,
// serializing ids and dates to canonical string representations.
func fromBSON(raw interface{}) models.Value {
	switch t := raw.(type) {
	case primitive.ObjectID:
		return models.String(t.Hex())
	case primitive.DateTime:
		return models.String(t.Time().UTC().Format(time.RFC3339))
	case primitive.Timestamp:
		return models.String(time.Unix(int64(t.T), 0).UTC().Format(time.RFC3339))
	case primitive.Decimal128:
		return models.String(t.String())
	case primitive.Binary:
		return models.String(string(t.Data))
	case bson.M:
		fields := make(map[string]models.Value, len(t))
		for k, v := range t {
			fields[k] = fromBSON(v)
		}
		return models.Object(fields)
	case bson.D:
		fields := make(map[string]models.Value, len(t))
		for _, e := range t {
			fields[e.Key] = fromBSON(e.Value)
		}
		return models.Object(fields)
	case bson.A:
		items := make([]models.Value, len(t))
		for i, v := range t {
			items[i] = fromBSON(v)
		}
		return models.Array(items...)
	default:
		return models.FromAny(raw)
	}
}

func idValue(id interface{}) models.Value {
	if oid, ok := id.(primitive.ObjectID); ok {
		return models.String(oid.Hex())
	}
	return models.FromAny(id)
}

func bsonTypeName(raw interface{}) string {
	switch raw.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int32, int64, int:
		return "int"
	case float64, float32:
		return "double"
	case string:
		return "string"
	case bson.A, []interface{}:
		return "array"
	case bson.M, bson.D, map[string]interface{}:
		return "object"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime, time.Time:
		return "datetime"
	default:
		return "unknown"
	}
}

func truncateSample(s string) string {
	if len(s) > 100 {
		return s[:100]
	}
	return s
}
