// Package optimizer applies heuristic rewrites to sanitized plans
// before execution. Every rewrite is pure: the input plan is never
// mutated, and optimizing an already-optimized plan changes nothing.
package optimizer

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/models"
)

// Defaults injected by the optimizer when the plan does not set them.
const (
	DefaultLimit = 100

	defaultMaxThreads     = 4
	defaultMaxMemoryBytes = 10000000000
)

// Optimizer rewrites plans with backend-specific heuristics.
type Optimizer struct {
	log zerolog.Logger
}

// New creates an Optimizer.
func New(log zerolog.Logger) *Optimizer {
	return &Optimizer{log: log.With().Str("component", "optimizer").Logger()}
}

// OptimizePlan returns an optimized copy of the plan.
func (o *Optimizer) OptimizePlan(plan *models.QueryPlan) *models.QueryPlan {
	switch plan.Source {
	case models.SourceMongo:
		return &models.QueryPlan{Source: plan.Source, Body: o.OptimizeMongo(plan.Body)}
	case models.SourceClickHouse:
		return &models.QueryPlan{Source: plan.Source, Body: o.OptimizeClickHouse(plan.Body)}
	case models.SourceFederated:
		return &models.QueryPlan{Source: plan.Source, Steps: o.OptimizeSteps(plan.Steps)}
	default:
		return plan
	}
}

// OptimizeMongo applies read-query defaults: exclude _id via
// projection, bound the result set, and hint an index from the first
// concrete filter key. Write operations pass through untouched.
func (o *Optimizer) OptimizeMongo(body models.Value) models.Value {
	op := body.GetString("operation")
	if op != "find" {
		return body
	}

	opts, _ := body.Get("options")
	if opts.Kind() != models.KindObject {
		opts = models.Object(nil)
	}

	if _, set := opts.Get("projection"); !set {
		opts = opts.Set("projection", models.Object(map[string]models.Value{
			"_id": models.Number(0),
		}))
	}
	if _, set := opts.Get("limit"); !set {
		opts = opts.Set("limit", models.Number(DefaultLimit))
	}
	if _, set := opts.Get("hint"); !set {
		if key := firstIndexableKey(body); key != "" {
			opts = opts.Set("hint", models.Object(map[string]models.Value{
				key: models.Number(1),
			}))
		}
	}

	return body.Set("options", opts)
}

// firstIndexableKey picks the first filter key that is a plain field,
// skipping operator keys like $and and $or.
func firstIndexableKey(body models.Value) string {
	filter, ok := body.Get("filter")
	if !ok || filter.Kind() != models.KindObject {
		return ""
	}
	for _, key := range filter.Keys() {
		if !strings.HasPrefix(key, "$") {
			return key
		}
	}
	return ""
}

// OptimizeClickHouse bounds the result set and injects resource-limit
// settings. The LIMIT append is idempotent: statements already carrying
// a LIMIT are left alone.
func (o *Optimizer) OptimizeClickHouse(body models.Value) models.Value {
	query, ok := body.Get("query")
	if !ok || query.Kind() != models.KindString {
		return body
	}
	sql := query.Str()

	out := body
	if isSelect(sql) && !hasLimit(sql) {
		out = out.Set("query", models.String(strings.TrimRight(sql, " \t\n;")+" LIMIT 100"))
	}

	settings, _ := out.Get("settings")
	if settings.Kind() != models.KindObject {
		settings = models.Object(nil)
	}
	for name, value := range map[string]models.Value{
		"max_threads":            models.Number(defaultMaxThreads),
		"max_memory_usage":       models.Number(defaultMaxMemoryBytes),
		"use_uncompressed_cache": models.Number(1),
	} {
		if _, set := settings.Get(name); !set {
			settings = settings.Set(name, value)
		}
	}
	return out.Set("settings", settings)
}

func isSelect(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "SELECT")
}

func hasLimit(sql string) bool {
	return strings.Contains(strings.ToUpper(sql), "LIMIT")
}

// OptimizeSteps optimizes each backend step's body, hoists memory
// filter steps as early as their inputs allow, keeps the final step
// last, and reindexes.
func (o *Optimizer) OptimizeSteps(steps []models.Step) []models.Step {
	out := make([]models.Step, len(steps))
	for i, step := range steps {
		clean := step
		switch step.Backend {
		case models.BackendMongo:
			clean.Body = o.OptimizeMongo(step.Body)
		case models.BackendClickHouse:
			clean.Body = o.OptimizeClickHouse(step.Body)
		}
		out[i] = clean
	}

	out = hoistFilters(out)

	for i := range out {
		out[i].Index = i
	}
	return out
}

// hoistFilters moves memory filter steps to the earliest position after
// every step that produces one of their inputs. Earlier filtering
// shrinks the rows later joins and unions carry. Order among other
// steps is preserved, and the final step never moves.
func hoistFilters(steps []models.Step) []models.Step {
	producerAt := make(map[string]int, len(steps))
	for i, step := range steps {
		producerAt[step.OutputName] = i
	}

	moved := true
	for moved {
		moved = false
		for i, step := range steps {
			if step.Backend != models.BackendMemory || step.Operation != "filter" || step.Kind == models.StepFinal {
				continue
			}
			earliest := 0
			for _, input := range step.Inputs {
				if at, ok := producerAt[input]; ok && at+1 > earliest {
					earliest = at + 1
				}
			}
			if earliest >= i {
				continue
			}
			// Shift the in-between steps down one slot.
			hoisted := steps[i]
			copy(steps[earliest+1:i+1], steps[earliest:i])
			steps[earliest] = hoisted
			for j := earliest; j <= i; j++ {
				producerAt[steps[j].OutputName] = j
			}
			moved = true
		}
	}
	return steps
}
