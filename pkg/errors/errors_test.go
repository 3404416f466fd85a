package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := New(CodeValidationFailed, "operation not allowed")
	assert.Equal(t, "VALIDATION_FAILED: operation not allowed", err.Error())
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, CodeConnectionFailed, "mongodb unreachable")
	assert.Equal(t, "CONNECTION_FAILED: mongodb unreachable (caused by: connection refused)", err.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, CodeExecutionFailed, "query failed")
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestError_IsComparesByCode(t *testing.T) {
	err := Newf(CodeInvalidPlan, "step %d missing body", 2)
	assert.True(t, stderrors.Is(err, New(CodeInvalidPlan, "different message")))
	assert.False(t, stderrors.Is(err, New(CodeExecutionFailed, "step 2 missing body")))
	assert.False(t, stderrors.Is(err, stderrors.New("INVALID_PLAN: step 2 missing body")))
}

func TestNewf(t *testing.T) {
	err := Newf(CodeDependencyFailed, "step %d waits on %q", 3, "joined")
	assert.Equal(t, CodeDependencyFailed, err.Code)
	assert.Equal(t, `step 3 waits on "joined"`, err.Message)
	assert.Nil(t, err.Cause)
}

func TestWrap_NilCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "ignored %d", 1))
}

func TestWrapf(t *testing.T) {
	cause := stderrors.New("no reachable servers")
	err := Wrapf(cause, CodeConnectionFailed, "connect to %s", "mongodb")
	require.NotNil(t, err)
	assert.Equal(t, CodeConnectionFailed, err.Code)
	assert.Equal(t, "connect to mongodb", err.Message)
	assert.Equal(t, cause, err.Cause)
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"direct", New(CodeAggregationFailed, "join failed"), CodeAggregationFailed},
		{"wrapped in foreign error", fmt.Errorf("outer: %w", New(CodeDeadlineExceeded, "timed out")), CodeDeadlineExceeded},
		{"foreign error", stderrors.New("plain"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
		})
	}
}

func TestDomainPredicates(t *testing.T) {
	assert.True(t, IsValidation(New(CodeValidationFailed, "rejected")))
	assert.True(t, IsDependency(New(CodeDependencyFailed, "missing input")))
	assert.True(t, IsConnection(New(CodeConnectionFailed, "refused")))

	// Predicates see through wrapping.
	wrapped := fmt.Errorf("context: %w", New(CodeValidationFailed, "rejected"))
	assert.True(t, IsValidation(wrapped))

	assert.False(t, IsValidation(New(CodeExecutionFailed, "boom")))
	assert.False(t, IsDependency(stderrors.New("plain")))
	assert.False(t, IsConnection(nil))
}

func TestCodeConstants(t *testing.T) {
	assert.Equal(t, "VALIDATION_FAILED", CodeValidationFailed)
	assert.Equal(t, "CONNECTION_FAILED", CodeConnectionFailed)
	assert.Equal(t, "EXECUTION_FAILED", CodeExecutionFailed)
	assert.Equal(t, "DEPENDENCY_FAILED", CodeDependencyFailed)
	assert.Equal(t, "AGGREGATION_FAILED", CodeAggregationFailed)
	assert.Equal(t, "INVALID_PLAN", CodeInvalidPlan)
	assert.Equal(t, "DEADLINE_EXCEEDED", CodeDeadlineExceeded)
	assert.Equal(t, "INTERNAL_ERROR", CodeInternal)
}
