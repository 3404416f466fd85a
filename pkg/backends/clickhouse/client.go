// Package clickhouse implements backends.ColumnarStore over the native
// ClickHouse protocol driver.
package clickhouse

import (
	"context"
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/backends"
	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/models"
)

// Config holds connection parameters for the columnar store.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is a scoped-connection ClickHouse client over the native
// protocol.
type Client struct {
	cfg  Config
	conn chdriver.Conn
	log  zerolog.Logger
}

// NewClient creates an unconnected client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg: cfg,
		log: log.With().Str("component", "clickhouse-client").Logger(),
	}
}

var _ backends.ColumnarStore = (*Client)(nil)

// Connect opens and verifies a connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{c.cfg.Addr},
		Auth: clickhouse.Auth{
			Database: c.cfg.Database,
			Username: c.cfg.Username,
			Password: c.cfg.Password,
		},
		DialTimeout: c.cfg.Timeout,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "clickhouse open")
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, errors.CodeConnectionFailed, "clickhouse ping")
	}
	c.conn = conn
	c.log.Debug().Str("addr", c.cfg.Addr).Str("database", c.cfg.Database).Msg("connected")
	return nil
}

// Disconnect closes the connection. Safe to call when never connected.
func (c *Client) Disconnect(_ context.Context) error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "clickhouse close")
	}
	return nil
}

// ListTables returns the database's table names.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.conn.Query(ctx, "SHOW TABLES")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "show tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.CodeExecutionFailed, "scan table name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DescribeTable reads the declared schema and fetches one sample value
// per column.
func (c *Client) DescribeTable(ctx context.Context, table string) (models.SchemaEntry, error) {
	rows, err := c.conn.Query(ctx, fmt.Sprintf("DESCRIBE TABLE %s", table))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeExecutionFailed, "describe %s", table)
	}
	defer rows.Close()

	entry := models.SchemaEntry{}
	for rows.Next() {
		var name, typ, defaultType, defaultExpr, comment, codec, ttl string
		if err := rows.Scan(&name, &typ, &defaultType, &defaultExpr, &comment, &codec, &ttl); err != nil {
			return nil, errors.Wrap(err, errors.CodeExecutionFailed, "scan column description")
		}
		entry[name] = models.FieldInfo{
			Type:    typ,
			Default: defaultExpr,
			Comment: comment,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "describe cursor")
	}

	for name, info := range entry {
		sample, err := c.sampleColumn(ctx, table, name)
		if err != nil {
			// A column that cannot be sampled keeps its declared type.
			c.log.Debug().Err(err).Str("table", table).Str("column", name).Msg("sample failed")
			continue
		}
		info.Sample = sample
		entry[name] = info
	}
	return entry, nil
}

func (c *Client) sampleColumn(ctx context.Context, table, column string) (string, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s LIMIT 1", column, table)
	rows, columns, err := c.Query(ctx, sql, nil, nil)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(columns) == 0 {
		return "", nil
	}
	return rows[0].Field(columns[0]).String(), nil
}

// TableColumns reads the column order from the system catalog.
func (c *Client) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := c.conn.Query(ctx,
		"SELECT name FROM system.columns WHERE database = ? AND table = ? ORDER BY position",
		c.cfg.Database, table)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeExecutionFailed, "columns of %s", table)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.CodeExecutionFailed, "scan column name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Query runs a SELECT and materializes every row. Settings ride on the
// context; params bind as named parameters.
func (c *Client) Query(ctx context.Context, sql string, params, settings map[string]interface{}) ([]models.Row, []string, error) {
	rows, err := c.conn.Query(applySettings(ctx, settings), sql, namedParams(params)...)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeExecutionFailed, "query")
	}
	defer rows.Close()
	return scanAll(rows)
}

// QueryStream runs a SELECT and delivers rows in batches over a
// channel. The goroutine stops when the cursor drains, an error occurs
// or the context is canceled.
func (c *Client) QueryStream(ctx context.Context, sql string, params, settings map[string]interface{}, batchSize int) (*models.StreamingResult, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	rows, err := c.conn.Query(applySettings(ctx, settings), sql, namedParams(params)...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "query")
	}

	columns := rows.Columns()
	batches := make(chan []models.Row)
	go func() {
		defer close(batches)
		defer rows.Close()

		batch := make([]models.Row, 0, batchSize)
		for rows.Next() {
			row, err := scanRow(rows, columns)
			if err != nil {
				c.log.Error().Err(err).Msg("stream scan failed")
				return
			}
			batch = append(batch, row)
			if len(batch) == batchSize {
				select {
				case batches <- batch:
				case <-ctx.Done():
					return
				}
				batch = make([]models.Row, 0, batchSize)
			}
		}
		if len(batch) > 0 {
			select {
			case batches <- batch:
			case <-ctx.Done():
			}
		}
	}()

	return &models.StreamingResult{Columns: columns, Batches: batches}, nil
}

// Exec runs a statement that returns no rows.
func (c *Client) Exec(ctx context.Context, sql string, params, settings map[string]interface{}) (int64, error) {
	if err := c.conn.Exec(applySettings(ctx, settings), sql, namedParams(params)...); err != nil {
		return 0, errors.Wrap(err, errors.CodeExecutionFailed, "exec")
	}
	// The native protocol does not report affected rows for DDL/DML.
	return 0, nil
}

func applySettings(ctx context.Context, settings map[string]interface{}) context.Context {
	if len(settings) == 0 {
		return ctx
	}
	chSettings := make(clickhouse.Settings, len(settings))
	for k, v := range settings {
		chSettings[k] = v
	}
	return clickhouse.Context(ctx, clickhouse.WithSettings(chSettings))
}

func namedParams(params map[string]interface{}) []interface{} {
	if len(params) == 0 {
		return nil
	}
	out := make([]interface{}, 0, len(params))
	for name, value := range params {
		out = append(out, clickhouse.Named(name, fmt.Sprintf("%v", value)))
	}
	return out
}

func scanAll(rows chdriver.Rows) ([]models.Row, []string, error) {
	columns := rows.Columns()
	var out []models.Row
	for rows.Next() {
		row, err := scanRow(rows, columns)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeExecutionFailed, "cursor")
	}
	return out, columns, nil
}

// scanRow allocates scan targets from the driver's declared column
// types, then folds them into a Row.
func scanRow(rows chdriver.Rows, columns []string) (models.Row, error) {
	types := rows.ColumnTypes()
	targets := make([]interface{}, len(types))
	for i, t := range types {
		targets[i] = reflect.New(t.ScanType()).Interface()
	}
	if err := rows.Scan(targets...); err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "scan row")
	}

	row := make(models.Row, len(columns))
	for i, name := range columns {
		row[name] = cellValue(reflect.ValueOf(targets[i]).Elem().Interface())
	}
	return row, nil
}

// cellValue converts a scanned driver value into the engine's variant,
// dereferencing Nullable pointers first.
func cellValue(raw interface{}) models.Value {
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return models.Null()
		}
		raw = rv.Elem().Interface()
	}
	if valuer, ok := raw.(driver.Valuer); ok {
		if v, err := valuer.Value(); err == nil {
			raw = v
		}
	}
	return models.FromAny(raw)
}
