// Package validator rejects unsafe or malformed query bodies and
// returns sanitized, canonical copies. It is pure: no I/O, no backend
// contact.
package validator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/fedra/pkg/errors"
	"github.com/TFMV/fedra/pkg/models"
)

// Policy is the security configuration the validator enforces.
type Policy struct {
	// MaxQuerySize bounds the serialized query body, in characters.
	MaxQuerySize int
	// AllowedOperations is the allow-list of document-store operation
	// kinds.
	AllowedOperations []string
	// EnableWrites permits insert/update/delete-class operations and
	// SQL DML. Off by default.
	EnableWrites bool
	// QueryTimeout is the per-query ceiling injected into sanitized
	// bodies (maxTimeMS / max_execution_time).
	QueryTimeout time.Duration
}

// DefaultPolicy mirrors the engine's shipped configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxQuerySize:      10000,
		AllowedOperations: []string{"find", "aggregate", "count"},
		EnableWrites:      false,
		QueryTimeout:      30 * time.Second,
	}
}

// Validator validates query bodies against a Policy.
type Validator struct {
	policy Policy
	log    zerolog.Logger
}

// New creates a Validator.
func New(policy Policy, log zerolog.Logger) *Validator {
	if policy.MaxQuerySize <= 0 {
		policy.MaxQuerySize = 10000
	}
	return &Validator{
		policy: policy,
		log:    log.With().Str("component", "validator").Logger(),
	}
}

// Policy returns the active policy. Executors consult it for the
// second write gate.
func (v *Validator) Policy() Policy { return v.policy }

// Validate checks one single-source body and returns its sanitized
// form. The error message names the rejection cause.
func (v *Validator) Validate(body models.Value, backend models.Backend) (models.Value, error) {
	switch backend {
	case models.BackendMongo:
		return v.validateMongo(body)
	case models.BackendClickHouse:
		return v.validateClickHouse(body)
	default:
		return models.Null(), errors.Newf(errors.CodeValidationFailed, "unsupported backend: %s", backend)
	}
}

// mongoWriteOps are the operation kinds gated behind EnableWrites.
var mongoWriteOps = map[string]bool{
	"insert_one":  true,
	"insert_many": true,
	"update_one":  true,
	"update_many": true,
	"delete_one":  true,
	"delete_many": true,
}

// IsWriteOperation reports whether a document-store operation mutates
// data.
func IsWriteOperation(op string) bool { return mongoWriteOps[op] }

func (v *Validator) validateMongo(body models.Value) (models.Value, error) {
	if body.Kind() != models.KindObject {
		return models.Null(), errors.New(errors.CodeValidationFailed, "query body must be an object")
	}

	collection, ok := body.Get("collection")
	if !ok || collection.Kind() != models.KindString {
		return models.Null(), errors.New(errors.CodeValidationFailed, "collection not specified")
	}
	operation, ok := body.Get("operation")
	if !ok || operation.Kind() != models.KindString {
		return models.Null(), errors.New(errors.CodeValidationFailed, "operation not specified")
	}
	op := operation.Str()

	if !v.operationAllowed(op) {
		return models.Null(), errors.Newf(errors.CodeValidationFailed, "operation %q is not allowed", op)
	}
	if mongoWriteOps[op] && !v.policy.EnableWrites {
		return models.Null(), errors.New(errors.CodeValidationFailed, "write operations are disabled")
	}

	if serialized := body.String(); len(serialized) > v.policy.MaxQuerySize {
		return models.Null(), errors.Newf(errors.CodeValidationFailed,
			"query exceeds maximum size of %d characters", v.policy.MaxQuerySize)
	}

	// Per-operation payload presence, then safety checks on each
	// payload component. The collection name is sanitized, not
	// scanned, so a system-prefixed name is rewritten rather than
	// rejected.
	payloads, err := requiredPayloads(body, op)
	if err != nil {
		return models.Null(), err
	}
	for name, payload := range payloads {
		if reason := scanMongoPayload(payload); reason != "" {
			return models.Null(), errors.Newf(errors.CodeValidationFailed, "invalid %s: %s", name, reason)
		}
	}

	sanitized := body.Set("collection", models.String(CanonicalizeName(collection.Str())))
	sanitized = injectMongoTimeout(sanitized, v.policy.QueryTimeout)
	return sanitized, nil
}

// requiredPayloads returns the body components an operation must carry.
func requiredPayloads(body models.Value, op string) (map[string]models.Value, error) {
	need := func(keys ...string) (map[string]models.Value, error) {
		out := make(map[string]models.Value, len(keys))
		for _, key := range keys {
			payload, ok := body.Get(key)
			if !ok {
				return nil, errors.Newf(errors.CodeValidationFailed, "%s not specified", key)
			}
			out[key] = payload
		}
		return out, nil
	}

	switch op {
	case "find", "count", "delete_one", "delete_many":
		return need("filter")
	case "aggregate":
		return need("pipeline")
	case "insert_one":
		return need("document")
	case "insert_many":
		return need("documents")
	case "update_one", "update_many":
		return need("filter", "update")
	default:
		return nil, errors.Newf(errors.CodeValidationFailed, "operation %q is not allowed", op)
	}
}

func (v *Validator) validateClickHouse(body models.Value) (models.Value, error) {
	if body.Kind() != models.KindObject {
		return models.Null(), errors.New(errors.CodeValidationFailed, "query body must be an object")
	}
	query, ok := body.Get("query")
	if !ok || query.Kind() != models.KindString {
		return models.Null(), errors.New(errors.CodeValidationFailed, "query not specified")
	}
	sql := query.Str()

	if len(sql) > v.policy.MaxQuerySize {
		return models.Null(), errors.Newf(errors.CodeValidationFailed,
			"query exceeds maximum size of %d characters", v.policy.MaxQuerySize)
	}
	if reason := scanSQL(sql); reason != "" {
		return models.Null(), errors.New(errors.CodeValidationFailed, reason)
	}
	if !v.policy.EnableWrites {
		if kw := matchSQLWriteKeyword(sql); kw != "" {
			return models.Null(), errors.Newf(errors.CodeValidationFailed, "write operation (%s) is not allowed", kw)
		}
	}

	params, _ := body.Get("params")
	if params.IsNull() {
		params = models.Object(nil)
	}
	settings, _ := body.Get("settings")
	if settings.IsNull() {
		settings = models.Object(nil)
	}
	settings = injectExecutionTime(settings, v.policy.QueryTimeout)

	sanitized := models.Object(map[string]models.Value{
		"query":    models.String(RewriteTableNames(sql)),
		"params":   params,
		"settings": settings,
	})
	return sanitized, nil
}

// ValidateSteps validates a federated plan's steps recursively by
// backend and returns the sanitized list. Every structural check —
// including the final-step scan — runs over the sanitized list, never
// the input.
func (v *Validator) ValidateSteps(steps []models.Step) ([]models.Step, error) {
	if len(steps) == 0 {
		return nil, errors.New(errors.CodeValidationFailed, "no steps specified")
	}

	sanitized := make([]models.Step, 0, len(steps))
	outputs := make(map[string]int, len(steps))

	for i, step := range steps {
		if step.Kind == "" {
			return nil, errors.Newf(errors.CodeValidationFailed, "step %d: step type not specified", i)
		}
		if step.OutputName == "" {
			return nil, errors.Newf(errors.CodeValidationFailed, "step %d: output name not specified", i)
		}
		if prev, dup := outputs[step.OutputName]; dup {
			return nil, errors.Newf(errors.CodeValidationFailed,
				"step %d: output name %q already produced by step %d", i, step.OutputName, prev)
		}

		clean := step
		clean.Index = i

		switch step.Backend {
		case models.BackendMongo, models.BackendClickHouse:
			body, err := v.Validate(step.Body, step.Backend)
			if err != nil {
				return nil, errors.Wrapf(err, errors.CodeValidationFailed, "step %d", i)
			}
			clean.Body = body
		case models.BackendMemory:
			if step.Operation == "" {
				return nil, errors.Newf(errors.CodeValidationFailed, "step %d: operation not specified", i)
			}
			if len(step.Inputs) == 0 {
				return nil, errors.Newf(errors.CodeValidationFailed, "step %d: inputs not specified", i)
			}
			for _, input := range step.Inputs {
				if _, produced := outputs[input]; !produced {
					return nil, errors.Newf(errors.CodeDependencyFailed,
						"step %d: input %q does not name an earlier step's output", i, input)
				}
			}
		default:
			return nil, errors.Newf(errors.CodeValidationFailed, "step %d: unsupported backend: %s", i, step.Backend)
		}

		outputs[step.OutputName] = i
		sanitized = append(sanitized, clean)
	}

	finalAt := -1
	for i, step := range sanitized {
		if step.Kind != models.StepFinal {
			continue
		}
		if finalAt >= 0 {
			return nil, errors.Newf(errors.CodeValidationFailed,
				"step %d: final step already declared at step %d", i, finalAt)
		}
		finalAt = i
	}
	if finalAt < 0 {
		return nil, errors.New(errors.CodeValidationFailed, "no final step specified")
	}

	return sanitized, nil
}

// ValidatePlan sanitizes a whole plan, dispatching on the union tag.
func (v *Validator) ValidatePlan(plan *models.QueryPlan) (*models.QueryPlan, error) {
	switch plan.Source {
	case models.SourceMongo:
		body, err := v.Validate(plan.Body, models.BackendMongo)
		if err != nil {
			return nil, err
		}
		return &models.QueryPlan{Source: plan.Source, Body: body}, nil
	case models.SourceClickHouse:
		body, err := v.Validate(plan.Body, models.BackendClickHouse)
		if err != nil {
			return nil, err
		}
		return &models.QueryPlan{Source: plan.Source, Body: body}, nil
	case models.SourceFederated:
		steps, err := v.ValidateSteps(plan.Steps)
		if err != nil {
			return nil, err
		}
		return &models.QueryPlan{Source: plan.Source, Steps: steps}, nil
	default:
		return nil, errors.Newf(errors.CodeValidationFailed, "unsupported data source: %s", plan.Source)
	}
}

func (v *Validator) operationAllowed(op string) bool {
	for _, allowed := range v.policy.AllowedOperations {
		if allowed == op {
			return true
		}
	}
	return false
}

// injectMongoTimeout sets options.maxTimeMS when the plan did not.
func injectMongoTimeout(body models.Value, timeout time.Duration) models.Value {
	if timeout <= 0 {
		return body
	}
	opts, _ := body.Get("options")
	if opts.Kind() != models.KindObject {
		opts = models.Object(nil)
	}
	if _, set := opts.Get("maxTimeMS"); set {
		return body
	}
	opts = opts.Set("maxTimeMS", models.Number(float64(timeout.Milliseconds())))
	return body.Set("options", opts)
}

// injectExecutionTime sets max_execution_time when the plan did not.
func injectExecutionTime(settings models.Value, timeout time.Duration) models.Value {
	if timeout <= 0 {
		return settings
	}
	if _, set := settings.Get("max_execution_time"); set {
		return settings
	}
	return settings.Set("max_execution_time", models.Number(float64(int(timeout.Seconds()))))
}
