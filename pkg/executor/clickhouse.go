package executor

import (
	"context"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/models"
)

var fromTableRe = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z0-9_.]+)`)

// executeClickHouse validates a SQL body, opens a scoped connection
// and runs the statement. Column order comes from the system catalog
// for single-table selects, falling back to the driver's columns.
func (e *Engine) executeClickHouse(ctx context.Context, log zerolog.Logger, body models.Value) *models.TabularResult {
	started := time.Now()
	result := e.runClickHouse(ctx, log, body)
	result.ExecutionSeconds = time.Since(started).Seconds()
	return result
}

func (e *Engine) runClickHouse(ctx context.Context, log zerolog.Logger, body models.Value) *models.TabularResult {
	sanitized, err := e.validator.Validate(body, models.BackendClickHouse)
	if err != nil {
		return models.Failed(err.Error())
	}

	sql := sanitized.GetString("query")
	params := toAnyMap(sanitized, "params")
	settings := toAnyMap(sanitized, "settings")

	if err := e.columnar.Connect(ctx); err != nil {
		return failedFrom(ctx, err)
	}
	defer func() {
		if err := e.columnar.Disconnect(ctx); err != nil {
			log.Debug().Err(err).Msg("columnar store disconnect")
		}
	}()

	rows, driverColumns, err := e.columnar.Query(ctx, sql, params, settings)
	if err != nil {
		return failedFrom(ctx, err)
	}

	result := models.OK(rows)
	result.Columns = driverColumns
	if table := firstFromTable(sql); table != "" {
		if catalog, err := e.columnar.TableColumns(ctx, table); err == nil && len(catalog) > 0 {
			result.Columns = catalog
		}
	}
	return result
}

// ExecuteClickHouseStream validates and runs a SQL body as a lazy
// stream. Unlike Execute, validation failures surface as errors since
// there is no result envelope to fold them into.
func (e *Engine) ExecuteClickHouseStream(ctx context.Context, body models.Value, batchSize int) (*models.StreamingResult, func(), error) {
	sanitized, err := e.validator.Validate(body, models.BackendClickHouse)
	if err != nil {
		return nil, nil, err
	}

	if err := e.columnar.Connect(ctx); err != nil {
		return nil, nil, err
	}
	stream, err := e.columnar.QueryStream(ctx,
		sanitized.GetString("query"),
		toAnyMap(sanitized, "params"),
		toAnyMap(sanitized, "settings"),
		batchSize)
	if err != nil {
		_ = e.columnar.Disconnect(ctx)
		return nil, nil, err
	}

	release := func() {
		if err := e.columnar.Disconnect(ctx); err != nil {
			e.log.Debug().Err(err).Msg("columnar store disconnect")
		}
	}
	return stream, release, nil
}

func firstFromTable(sql string) string {
	m := fromTableRe.FindStringSubmatch(sql)
	if m == nil {
		return ""
	}
	return m[1]
}

func toAnyMap(body models.Value, key string) map[string]interface{} {
	section, ok := body.Get(key)
	if !ok || section.Kind() != models.KindObject {
		return nil
	}
	out, _ := section.ToAny().(map[string]interface{})
	return out
}

// Exec runs a validated statement that returns no rows. Gated on the
// write policy like everything else.
func (e *Engine) Exec(ctx context.Context, body models.Value) *models.TabularResult {
	started := time.Now()

	sanitized, err := e.validator.Validate(body, models.BackendClickHouse)
	if err != nil {
		return models.Failed(err.Error())
	}
	if !e.validator.Policy().EnableWrites {
		return models.Failed(errors.New(errors.CodeValidationFailed, "write operations are disabled").Error())
	}

	if err := e.columnar.Connect(ctx); err != nil {
		return failedFrom(ctx, err)
	}
	defer func() { _ = e.columnar.Disconnect(ctx) }()

	affected, err := e.columnar.Exec(ctx,
		sanitized.GetString("query"),
		toAnyMap(sanitized, "params"),
		toAnyMap(sanitized, "settings"))
	if err != nil {
		return failedFrom(ctx, err)
	}

	result := models.OK([]models.Row{{"affected_rows": models.Number(float64(affected))}})
	result.ExecutionSeconds = time.Since(started).Seconds()
	return result
}
