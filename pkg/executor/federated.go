package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/infrastructure/metrics"
	"github.com/TFMV/fedra/pkg/models"
)

// executeFederated runs a step pipeline: backend steps fetch rows,
// memory steps combine earlier outputs, and the final step's result is
// returned. The pipeline aborts on the first failed step, naming it.
func (e *Engine) executeFederated(ctx context.Context, log zerolog.Logger, steps []models.Step) *models.TabularResult {
	started := time.Now()
	result := e.runFederated(ctx, log, steps)
	result.ExecutionSeconds = time.Since(started).Seconds()
	return result
}

func (e *Engine) runFederated(ctx context.Context, log zerolog.Logger, steps []models.Step) *models.TabularResult {
	sanitized, err := e.validator.ValidateSteps(steps)
	if err != nil {
		return models.Failed(err.Error())
	}

	outputs := make(map[string]*models.TabularResult, len(sanitized))
	var aggregationSeconds float64

	for _, step := range sanitized {
		log.Debug().
			Int("step", step.Index).
			Str("type", string(step.Kind)).
			Str("backend", string(step.Backend)).
			Str("output", step.OutputName).
			Msg("running step")

		var result *models.TabularResult
		switch step.Backend {
		case models.BackendMongo:
			result = e.executeMongo(ctx, log, step.Body)
		case models.BackendClickHouse:
			result = e.executeClickHouse(ctx, log, step.Body)
		case models.BackendMemory:
			inputs := make([]*models.TabularResult, 0, len(step.Inputs))
			missing := ""
			for _, name := range step.Inputs {
				input, ok := outputs[name]
				if !ok {
					missing = name
					break
				}
				inputs = append(inputs, input)
			}
			if missing != "" {
				return models.Failed(errors.Newf(errors.CodeDependencyFailed,
					"step %d: input %q was not produced by an earlier step", step.Index, missing).Error())
			}
			timer := e.metrics.StartTimer(metrics.MetricAggregationSeconds, "operation", step.Operation)
			result = e.aggregator.Aggregate(inputs, step.Operation, step.Parameters)
			timer.Stop()
			aggregationSeconds += result.AggregationSeconds
		default:
			return models.Failed(errors.Newf(errors.CodeValidationFailed,
				"step %d: unsupported backend: %s", step.Index, step.Backend).Error())
		}

		if !result.Success {
			return models.Failed(errors.Newf(errors.CodeExecutionFailed,
				"step %d (%s) failed: %s", step.Index, step.OutputName, result.Error).Error())
		}
		outputs[step.OutputName] = result

		if step.Kind == models.StepFinal {
			final := *result
			final.AggregationSeconds = aggregationSeconds
			return &final
		}
	}

	// Unreachable: the validator guarantees exactly one final step.
	return models.Failed(errors.New(errors.CodeInvalidPlan, "no final step produced a result").Error())
}
