// Package models defines the public domain models and error types for flowrunner.
package models

import (
	"context"
	"errors"
)

// ErrorKind is the semantic error classification surfaced in
// ExecutionResult.error (§7). Kinds are semantic, not Go type names —
// several of them share the *ExecutionError type below and differ only
// in Kind.
type ErrorKind string

const (
	KindInvalidWorkflow          ErrorKind = "InvalidWorkflow"
	KindReferenceResolutionError ErrorKind = "ReferenceResolutionError"
	KindInvalidConditionsFormat  ErrorKind = "InvalidConditionsFormat"
	KindEvaluationError          ErrorKind = "EvaluationError"
	KindNoMatchingBranch         ErrorKind = "NoMatchingBranch"
	KindRouterSelectionError     ErrorKind = "RouterSelectionError"
	KindHandlerFailure           ErrorKind = "HandlerFailure"
	KindRuntimeLimitExceeded     ErrorKind = "RuntimeLimitExceeded"
	KindCancelled                ErrorKind = "Cancelled"
)

// Sentinel errors for conditions that are checked with errors.Is rather
// than by inspecting an ExecutionError's Kind.
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrBlockNotFound    = errors.New("block not found")
	ErrExecutorNotFound = errors.New("executor not found")
	ErrRequired         = errors.New("required field is missing")
)

// ExecutionError is a structured, run-scoped error carrying the
// semantic Kind from §7, the offending block (if any), and whether the
// scheduler may retry the failing block. It implements error so it can
// cross the engine boundary like any other error, while ExecutionResult
// also exposes Kind/BlockID directly for callers that don't want to
// type-assert.
type ExecutionError struct {
	Kind      ErrorKind
	BlockID   string
	Message   string
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	msg := string(e.Kind)
	if e.BlockID != "" {
		msg += " (block " + e.BlockID + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError builds an ExecutionError of the given kind.
func NewExecutionError(kind ErrorKind, blockID, message string) *ExecutionError {
	return &ExecutionError{Kind: kind, BlockID: blockID, Message: message}
}

// IsRetryableError classifies a handler-level error as retryable (§7
// HandlerFailure{Retryable}): network-class failures (those that report
// themselves as Temporary/Timeout, e.g. *net.OpError / *url.Error from
// the Api handler's outbound request) are retryable; a cancelled or
// deadline-exceeded context never is, since retrying it would just fail
// again immediately.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var temporaryErr interface{ Temporary() bool }
	if errors.As(err, &temporaryErr) {
		return temporaryErr.Temporary()
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return false
}

// ValidationError represents a validation error with details, used by
// SerializedWorkflow.Validate and its nested Block/Connection/Loop/
// Parallel validators (§3, §7 InvalidWorkflow).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors represents multiple validation errors collected
// during a single workflow validation pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// ValidationWarning is a non-fatal workflow-load-time observation: the
// workflow is still structurally valid (Validate returns no error) but
// carries an ambiguity the engine cannot resolve on its own (§9). Unlike
// ValidationError it never blocks execution.
type ValidationWarning struct {
	BlockID string
	Field   string
	Message string
}

func (w ValidationWarning) String() string {
	msg := w.Field + ": " + w.Message
	if w.BlockID != "" {
		msg = "block " + w.BlockID + " " + msg
	}
	return msg
}
