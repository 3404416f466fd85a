package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan_SingleSource(t *testing.T) {
	plan, err := ParsePlan([]byte(`{
		"data_source": "mongodb",
		"body": {"collection": "users", "operation": "find", "filter": {}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, SourceMongo, plan.Source)
	assert.False(t, plan.IsFederated())
	assert.Equal(t, "users", plan.Body.GetString("collection"))
}

func TestParsePlan_Federated(t *testing.T) {
	plan, err := ParsePlan([]byte(`{
		"data_source": "federated",
		"steps": [
			{"step_index": 0, "step_type": "query", "backend": "mongodb", "output_name": "a",
			 "body": {"collection": "users", "operation": "find", "filter": {}}},
			{"step_index": 1, "step_type": "final", "backend": "memory", "output_name": "b",
			 "operation": "limit", "inputs": ["a"], "parameters": {"count": 10}}
		]
	}`))
	require.NoError(t, err)
	assert.True(t, plan.IsFederated())
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, StepFinal, plan.Steps[1].Kind)
	assert.Equal(t, []string{"a"}, plan.Steps[1].Inputs)
}

func TestParsePlan_Rejections(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"malformed", `{`},
		{"missing source", `{"body": {}}`},
		{"unknown source", `{"data_source": "mysql", "body": {}}`},
		{"single source without body", `{"data_source": "clickhouse"}`},
		{"single source with steps", `{"data_source": "mongodb", "body": {"x": 1}, "steps": [{"step_type": "final", "backend": "memory", "output_name": "a"}]}`},
		{"federated without steps", `{"data_source": "federated"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.in))
			assert.Error(t, err)
		})
	}
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("clickhouse")
	require.NoError(t, err)
	assert.Equal(t, BackendClickHouse, b)

	_, err = ParseBackend("postgres")
	assert.Error(t, err)
}
