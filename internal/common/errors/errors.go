// Package errors provides standardized error handling for the discovery
// pipeline and its BPMN workflow integration.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Router: the classification mechanism itself cannot run. Ambiguous
	// input is never an error.
	ErrCodeClassificationUnavailable ErrorCode = "CLASSIFICATION_UNAVAILABLE"

	// Planner produced a plan inconsistent with its own invariants.
	// Internal contract violation, fatal, logged for diagnosis.
	ErrCodeInvalidPlan ErrorCode = "INVALID_PLAN"

	// Per-call gateway failures, recovered locally by degrading.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"

	// Post-synthesis verification failure. Resolves to a degraded Answer,
	// never to a hard failure.
	ErrCodeGroundingViolation ErrorCode = "GROUNDING_VIOLATION"

	ErrCodeSynthesisFailed  ErrorCode = "SYNTHESIS_FAILED"
	ErrCodeSynthesisTimeout ErrorCode = "SYNTHESIS_TIMEOUT"

	ErrCodeParseError ErrorCode = "PARSE_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewClassificationUnavailableError marks the intent service as down.
// Retryable: the broker may redeliver the job to a healthy instance.
func NewClassificationUnavailableError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeClassificationUnavailable,
		Message:   "Intent classification service unavailable",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidPlanError reports a planner contract violation.
func NewInvalidPlanError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidPlan,
		Message:   "Planner emitted a plan violating its invariants",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBackendTimeoutError reports a single retrieval call exceeding its
// deadline. The gateway absorbs it; it never fails the request.
func NewBackendTimeoutError(backend, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackendTimeout,
		Message:   fmt.Sprintf("Retrieval backend %q timed out", backend),
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewBackendUnavailableError reports a single retrieval call failing.
func NewBackendUnavailableError(backend, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackendUnavailable,
		Message:   fmt.Sprintf("Retrieval backend %q unavailable", backend),
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGroundingViolationError reports claims that failed verification.
func NewGroundingViolationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeGroundingViolation,
		Message:   "Generated answer contained unverifiable claims",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewParseError reports malformed job variables. Never retryable: the
// same payload would fail again.
func NewParseError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeParseError,
		Message:   "Failed to parse job variables",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSynthesisFailedError reports the answer stage failing outright,
// after every fallback was exhausted.
func NewSynthesisFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSynthesisFailed,
		Message:   "Answer synthesis failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// BPMNError represents an error thrown to the workflow engine.
type BPMNError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Retries   int                    `json:"retries"`
	Variables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToBPMNError converts a StandardError into its workflow-engine form,
// assigning a retry budget only to retryable codes.
func ToBPMNError(err *StandardError) *BPMNError {
	retries := 0
	if err.Retryable {
		retries = 1
	}
	return &BPMNError{
		Code:      string(err.Code),
		Message:   err.Message,
		Retryable: err.Retryable,
		Retries:   retries,
		Variables: err.Metadata,
	}
}

// CodeOf extracts the ErrorCode from an error chain, or empty when the
// chain holds no StandardError.
func CodeOf(err error) ErrorCode {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Code
	}
	return ""
}

// IsRetryable reports whether the error is worth one more attempt.
// Transport-level timeouts from the standard library are matched by
// message since they carry no code.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var std *StandardError
	if errors.As(err, &std) {
		return std.Retryable
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}
