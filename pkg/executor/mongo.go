package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/models"
	"github.com/TFMV/fedra/pkg/validator"
)

// executeMongo validates a document-store body, opens a scoped
// connection and dispatches by operation. ExecutionSeconds is set on
// every outcome.
func (e *Engine) executeMongo(ctx context.Context, log zerolog.Logger, body models.Value) *models.TabularResult {
	started := time.Now()
	result := e.runMongo(ctx, log, body)
	result.ExecutionSeconds = time.Since(started).Seconds()
	return result
}

func (e *Engine) runMongo(ctx context.Context, log zerolog.Logger, body models.Value) *models.TabularResult {
	sanitized, err := e.validator.Validate(body, models.BackendMongo)
	if err != nil {
		return models.Failed(err.Error())
	}

	collection := sanitized.GetString("collection")
	operation := sanitized.GetString("operation")

	// Second write gate: even if policy drift let a write kind through
	// validation, the executor refuses to dispatch it.
	if validator.IsWriteOperation(operation) && !e.validator.Policy().EnableWrites {
		return models.Failed(errors.New(errors.CodeValidationFailed, "write operations are disabled").Error())
	}

	if err := e.docs.Connect(ctx); err != nil {
		return failedFrom(ctx, err)
	}
	defer func() {
		if err := e.docs.Disconnect(ctx); err != nil {
			log.Debug().Err(err).Msg("document store disconnect")
		}
	}()

	opts, _ := sanitized.Get("options")
	filter, _ := sanitized.Get("filter")

	var rows []models.Row
	switch operation {
	case "find":
		rows, err = e.docs.Find(ctx, collection, filter, opts)
	case "aggregate":
		pipeline, _ := sanitized.Get("pipeline")
		rows, err = e.docs.Aggregate(ctx, collection, pipeline, opts)
	case "count":
		var n int64
		n, err = e.docs.Count(ctx, collection, filter)
		if err == nil {
			rows = []models.Row{{"count": models.Number(float64(n))}}
		}
	case "insert_one":
		document, _ := sanitized.Get("document")
		var summary models.Row
		summary, err = e.docs.InsertOne(ctx, collection, document)
		rows = summaryRows(summary)
	case "insert_many":
		documents, _ := sanitized.Get("documents")
		var summary models.Row
		summary, err = e.docs.InsertMany(ctx, collection, documents)
		rows = summaryRows(summary)
	case "update_one":
		update, _ := sanitized.Get("update")
		var summary models.Row
		summary, err = e.docs.UpdateOne(ctx, collection, filter, update)
		rows = summaryRows(summary)
	case "update_many":
		update, _ := sanitized.Get("update")
		var summary models.Row
		summary, err = e.docs.UpdateMany(ctx, collection, filter, update)
		rows = summaryRows(summary)
	case "delete_one":
		var summary models.Row
		summary, err = e.docs.DeleteOne(ctx, collection, filter)
		rows = summaryRows(summary)
	case "delete_many":
		var summary models.Row
		summary, err = e.docs.DeleteMany(ctx, collection, filter)
		rows = summaryRows(summary)
	default:
		return models.Failed(errors.Newf(errors.CodeValidationFailed,
			"operation %q is not allowed", operation).Error())
	}
	if err != nil {
		return failedFrom(ctx, err)
	}
	return models.OK(rows)
}

func summaryRows(summary models.Row) []models.Row {
	if summary == nil {
		return nil
	}
	return []models.Row{summary}
}
