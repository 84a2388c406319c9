package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionError(t *testing.T) {
	tests := []struct {
		name        string
		execErr     *ExecutionError
		expectedMsg string
	}{
		{
			name: "with block id and message",
			execErr: &ExecutionError{
				Kind:    KindHandlerFailure,
				BlockID: "block-456",
				Message: "timed out",
			},
			expectedMsg: "HandlerFailure (block block-456): timed out",
		},
		{
			name: "without block id, wraps underlying error",
			execErr: &ExecutionError{
				Kind: KindRuntimeLimitExceeded,
				Err:  errors.New("layer cap exceeded"),
			},
			expectedMsg: "RuntimeLimitExceeded: layer cap exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedMsg, tt.execErr.Error())
		})
	}
}

func TestExecutionErrorUnwrap(t *testing.T) {
	baseErr := errors.New("boom")
	execErr := &ExecutionError{Kind: KindHandlerFailure, Err: baseErr}

	require.ErrorIs(t, execErr, baseErr)
	assert.Equal(t, baseErr, execErr.Unwrap())
}

func TestNewExecutionError(t *testing.T) {
	err := NewExecutionError(KindReferenceResolutionError, "cond-1", "unresolved token {{foo.bar}}")
	assert.Equal(t, KindReferenceResolutionError, err.Kind)
	assert.Equal(t, "cond-1", err.BlockID)
	assert.False(t, err.Retryable)
}

func TestValidationError(t *testing.T) {
	valErr := &ValidationError{Field: "name", Message: "name is required"}
	assert.Equal(t, "name: name is required", valErr.Error())
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		errs        ValidationErrors
		expectedMsg string
	}{
		{
			name:        "single error",
			errs:        ValidationErrors{{Field: "name", Message: "name is required"}},
			expectedMsg: "name: name is required",
		},
		{
			name: "multiple errors returns first",
			errs: ValidationErrors{
				{Field: "name", Message: "name is required"},
				{Field: "kind", Message: "kind is invalid"},
			},
			expectedMsg: "name: name is required",
		},
		{
			name:        "no errors",
			errs:        ValidationErrors{},
			expectedMsg: "validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedMsg, tt.errs.Error())
		})
	}
}

func TestCommonErrors(t *testing.T) {
	commonErrors := []error{
		ErrClientClosed,
		ErrWorkflowNotFound,
		ErrBlockNotFound,
		ErrExecutorNotFound,
		ErrRequired,
	}

	for _, err := range commonErrors {
		require.Error(t, err)
		assert.NotEmpty(t, err.Error())
	}
}

func TestErrorKindsMatchSpecTaxonomy(t *testing.T) {
	kinds := []ErrorKind{
		KindInvalidWorkflow,
		KindReferenceResolutionError,
		KindInvalidConditionsFormat,
		KindEvaluationError,
		KindNoMatchingBranch,
		KindRouterSelectionError,
		KindHandlerFailure,
		KindRuntimeLimitExceeded,
		KindCancelled,
	}
	seen := make(map[ErrorKind]bool)
	for _, k := range kinds {
		assert.NotEmpty(t, string(k))
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
}
