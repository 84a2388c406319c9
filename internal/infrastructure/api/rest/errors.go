package rest

import (
	"errors"
	"net/http"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// APIError is the structured error body returned by every handler in
// this package (§7 "the engine returns a structured result object; no
// exceptions cross the engine boundary" — the HTTP boundary mirrors
// that for transport-level errors too).
type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func NewAPIErrorWithDetails(code, message string, httpStatus int, details map[string]interface{}) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: httpStatus}
}

var (
	ErrBadRequest       = NewAPIError("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrNotFound         = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrConflict         = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)
	ErrInternalServer   = NewAPIError("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrInvalidJSON      = NewAPIError("INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
	ErrMissingParameter = NewAPIError("MISSING_PARAMETER", "Required parameter is missing", http.StatusBadRequest)
)

// TranslateError maps a domain/engine error to the APIError carrying
// the HTTP status a caller should see. Unrecognized errors fall back to
// a generic 500 so a handler never leaks an internal error verbatim.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var execErr *models.ExecutionError
	if errors.As(err, &execErr) {
		switch execErr.Kind {
		case models.KindInvalidWorkflow:
			return NewAPIErrorWithDetails("INVALID_WORKFLOW", execErr.Error(), http.StatusBadRequest, nil)
		case models.KindRuntimeLimitExceeded:
			return NewAPIErrorWithDetails("RUNTIME_LIMIT_EXCEEDED", execErr.Error(), http.StatusRequestTimeout, nil)
		default:
			return NewAPIErrorWithDetails("EXECUTION_FAILED", execErr.Error(), http.StatusUnprocessableEntity, nil)
		}
	}

	switch {
	case errors.Is(err, models.ErrWorkflowNotFound):
		return NewAPIError("WORKFLOW_NOT_FOUND", "Workflow not found", http.StatusNotFound)
	case errors.Is(err, models.ErrBlockNotFound):
		return NewAPIError("BLOCK_NOT_FOUND", "Block not found", http.StatusNotFound)
	case errors.Is(err, models.ErrExecutorNotFound):
		return NewAPIError("EXECUTOR_NOT_FOUND", "Executor not found", http.StatusNotFound)
	default:
		return NewAPIError("INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
	}
}
