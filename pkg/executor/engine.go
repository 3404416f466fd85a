// Package executor runs sanitized query plans against the physical
// stores and the in-memory aggregator. Failures never surface as Go
// errors to callers: every path yields a TabularResult whose Success
// flag and Error field carry the outcome.
package executor

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/aggregate"
	"github.com/TFMV/fedra/pkg/backends"
	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/infrastructure/metrics"
	"github.com/TFMV/fedra/pkg/models"
	"github.com/TFMV/fedra/pkg/validator"
)

// Engine dispatches plans to the right executor by the plan union's
// tag.
type Engine struct {
	validator  *validator.Validator
	aggregator *aggregate.Aggregator
	docs       backends.DocumentStore
	columnar   backends.ColumnarStore
	metrics    metrics.Collector
	log        zerolog.Logger
}

// NewEngine wires an engine from its collaborators.
func NewEngine(
	v *validator.Validator,
	agg *aggregate.Aggregator,
	docs backends.DocumentStore,
	columnar backends.ColumnarStore,
	collector metrics.Collector,
	log zerolog.Logger,
) *Engine {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &Engine{
		validator:  v,
		aggregator: agg,
		docs:       docs,
		columnar:   columnar,
		metrics:    collector,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

// Execute runs one plan end to end. Each call gets a request id for
// log correlation.
func (e *Engine) Execute(ctx context.Context, plan *models.QueryPlan) *models.TabularResult {
	requestID := uuid.New().String()
	log := e.log.With().Str("request_id", requestID).Str("source", string(plan.Source)).Logger()
	log.Info().Msg("executing plan")

	e.metrics.IncrementCounter(metrics.MetricQueriesTotal, "source", string(plan.Source))
	timer := e.metrics.StartTimer(metrics.MetricExecutionSeconds, "source", string(plan.Source))
	defer timer.Stop()

	var result *models.TabularResult
	switch plan.Source {
	case models.SourceMongo:
		result = e.executeMongo(ctx, log, plan.Body)
	case models.SourceClickHouse:
		result = e.executeClickHouse(ctx, log, plan.Body)
	case models.SourceFederated:
		result = e.executeFederated(ctx, log, plan.Steps)
	default:
		result = models.Failed(errors.Newf(errors.CodeInvalidPlan,
			"unsupported data source: %s", plan.Source).Error())
	}

	if result.Success {
		e.metrics.RecordGauge(metrics.MetricRowsReturned, float64(result.RowCount), "source", string(plan.Source))
		log.Info().Int("rows", result.RowCount).Float64("seconds", result.ExecutionSeconds).Msg("plan completed")
	} else {
		e.metrics.IncrementCounter(metrics.MetricQueryErrorsTotal, "source", string(plan.Source))
		log.Warn().Str("error", result.Error).Msg("plan failed")
	}
	return result
}

// failedFrom folds an internal error into a failed result, mapping
// context expiry onto the deadline code.
func failedFrom(ctx context.Context, err error) *models.TabularResult {
	if ctx.Err() != nil {
		return models.Failed(errors.Wrap(ctx.Err(), errors.CodeDeadlineExceeded, "query deadline exceeded").Error())
	}
	return models.Failed(err.Error())
}
