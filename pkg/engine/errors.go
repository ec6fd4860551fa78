// Package engine provides the core types of the ensemble history-matching
// orchestrator: run contexts, realization states, the parameter
// materialization pipeline and the ensemble smoother control loop.
package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/histmatch/pkg/parameters"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: a remote evaluator host that is briefly unreachable.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a state conflict that is resolved automatically.
	// Examples: a stale symlink in a run path, an export file from an earlier run.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, too few realizations, a failed update.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource names the ensemble, parameter or file involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes.
const (
	ErrCodeValidation               = "VALIDATION_ERROR"
	ErrCodeNotFound                 = "NOT_FOUND"
	ErrCodeInvalidTransition        = "INVALID_TRANSITION"
	ErrCodeConfigMismatch           = "CONFIG_MISMATCH"
	ErrCodeInsufficientRealizations = "INSUFFICIENT_REALIZATIONS"
	ErrCodeAnalysisFailure          = "ANALYSIS_FAILURE"
	ErrCodeSerializationInvariant   = "SERIALIZATION_INVARIANT_VIOLATION"
	ErrCodeFileSystemConflict       = "FILESYSTEM_CONFLICT"
	ErrCodeEvaluatorFailed          = "EVALUATOR_FAILED"
)

// Sentinels for errors.Is. They compare by class and code.
var (
	ErrConfigMismatch           = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeConfigMismatch}
	ErrInsufficientRealizations = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeInsufficientRealizations}
	ErrAnalysisFailure          = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeAnalysisFailure}
	ErrSerializationInvariant   = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeSerializationInvariant}
	ErrInvalidTransition        = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeInvalidTransition}
)

// NewConfigMismatchError wraps a vector size mismatch for one realization.
func NewConfigMismatchError(realization int, err *parameters.SizeMismatchError) *EngineError {
	return NewPermanentError(err.Error(), err).
		WithCode(ErrCodeConfigMismatch).
		WithResource(err.Key).
		WithOperation("materialize").
		WithDetail("realization", realization).
		WithDetail("declared", err.Declared).
		WithDetail("actual", err.Got)
}

// NewInsufficientRealizationsError reports that fewer than minimum
// realizations are active or succeeded.
func NewInsufficientRealizationsError(phase string, minimum, actual int) *EngineError {
	var msg string
	if phase == "" || phase == PhaseActive {
		msg = fmt.Sprintf("Number of active realizations (%d) is less than the specified MIN_REALIZATIONS (%d)",
			actual, minimum)
	} else {
		msg = fmt.Sprintf("Too many simulations have failed! You can add/adjust MIN_REALIZATIONS to allow failures in your simulations. "+
			"Only %d realizations succeeded, %d required", actual, minimum)
	}
	return NewPermanentError(msg, nil).
		WithCode(ErrCodeInsufficientRealizations).
		WithOperation(phase).
		WithDetail("minimum", minimum).
		WithDetail("actual", actual).
		WithDetail("phase", phase)
}

// NewAnalysisFailureError wraps an error raised by the update step.
func NewAnalysisFailureError(err error) *EngineError {
	return NewPermanentError(fmt.Sprintf("Analysis of simulation failed with the following error: %v", err), err).
		WithCode(ErrCodeAnalysisFailure).
		WithOperation("smoother_update")
}

// NewSerializationError reports a value that must never be serialized.
func NewSerializationError(resource, message string) *EngineError {
	return NewPermanentError(message, nil).
		WithCode(ErrCodeSerializationInvariant).
		WithResource(resource).
		WithOperation("export").
		WithDetail("internal", true)
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsConfigMismatch reports whether err is a ConfigMismatch error.
func IsConfigMismatch(err error) bool {
	return errors.Is(err, ErrConfigMismatch)
}

// IsInsufficientRealizations reports whether err is an InsufficientRealizations error.
func IsInsufficientRealizations(err error) bool {
	return errors.Is(err, ErrInsufficientRealizations)
}

// IsAnalysisFailure reports whether err is an AnalysisFailure error.
func IsAnalysisFailure(err error) bool {
	return errors.Is(err, ErrAnalysisFailure)
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeNotFound
	}
	return false
}
