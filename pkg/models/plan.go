package models

import (
	"encoding/json"
	"fmt"
)

// Backend identifies where a query or step runs.
type Backend string

const (
	BackendMongo      Backend = "mongodb"
	BackendClickHouse Backend = "clickhouse"
	BackendMemory     Backend = "memory"
)

// ParseBackend validates a backend name from an incoming plan.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendMongo, BackendClickHouse, BackendMemory:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("unsupported backend: %q", s)
	}
}

// StepKind is the role a federated step plays in its pipeline.
type StepKind string

const (
	StepQuery     StepKind = "query"
	StepTransform StepKind = "transform"
	StepJoin      StepKind = "join"
	StepUnion     StepKind = "union"
	StepFinal     StepKind = "final"
)

// PlanSource discriminates the QueryPlan union.
type PlanSource string

const (
	SourceMongo      PlanSource = "mongodb"
	SourceClickHouse PlanSource = "clickhouse"
	SourceFederated  PlanSource = "federated"
)

// Step is one unit of work in a federated plan. Mongo/ClickHouse steps
// carry a backend-specific Body; memory steps carry an aggregation
// Operation with Parameters and the names of earlier outputs they
// consume. OutputName is unique within a plan and is how later steps
// reference this step's result.
type Step struct {
	Index      int      `json:"step_index"`
	Kind       StepKind `json:"step_type"`
	Backend    Backend  `json:"backend"`
	Body       Value    `json:"body,omitempty"`
	Operation  string   `json:"operation,omitempty"`
	Parameters Value    `json:"parameters,omitempty"`
	Inputs     []string `json:"inputs,omitempty"`
	OutputName string   `json:"output_name"`
}

// QueryPlan is the tagged union handed to the engine: either one
// single-source body or an ordered federated step list.
type QueryPlan struct {
	Source PlanSource `json:"data_source"`
	Body   Value      `json:"body,omitempty"`
	Steps  []Step     `json:"steps,omitempty"`
}

// IsFederated reports whether the plan is the multi-step variant.
func (p *QueryPlan) IsFederated() bool { return p.Source == SourceFederated }

// ParsePlan decodes a plan document and checks the union is well
// formed: a recognized source, a body for single-source plans, steps
// for federated ones. Deeper validation belongs to the validator.
func ParsePlan(data []byte) (*QueryPlan, error) {
	var plan QueryPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("malformed plan: %w", err)
	}
	switch plan.Source {
	case SourceMongo, SourceClickHouse:
		if plan.Body.IsNull() {
			return nil, fmt.Errorf("%s plan missing body", plan.Source)
		}
		if len(plan.Steps) > 0 {
			return nil, fmt.Errorf("%s plan must not carry steps", plan.Source)
		}
	case SourceFederated:
		if len(plan.Steps) == 0 {
			return nil, fmt.Errorf("federated plan has no steps")
		}
	case "":
		return nil, fmt.Errorf("plan missing data_source")
	default:
		return nil, fmt.Errorf("unsupported data source: %q", plan.Source)
	}
	return &plan, nil
}
