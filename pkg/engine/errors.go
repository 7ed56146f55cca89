package engine

import (
	"errors"
	"fmt"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// ErrorClass is the coarse category of a simulator error. It decides whether
// the process stops, warns or logs and carries on.
type ErrorClass string

const (
	// ErrorClassLoadFatal stops startup.
	// Examples: missing tag map, malformed row, duplicate address, role violation.
	ErrorClassLoadFatal ErrorClass = "load-fatal"

	// ErrorClassLoadAdvisory is reported at startup but does not stop it.
	// Examples: tag absent from the reference model, non-strict policy finding.
	ErrorClassLoadAdvisory ErrorClass = "load-advisory"

	// ErrorClassAccess is a rejected store access. The caller skips the
	// operation and keeps running.
	ErrorClassAccess ErrorClass = "access"

	// ErrorClassLifecycle is a rejected attack operation.
	// Examples: duplicate attack id, stopping an unknown id, unknown scenario.
	ErrorClassLifecycle ErrorClass = "lifecycle"

	// ErrorClassWorker ends one attack worker and nothing else.
	ErrorClassWorker ErrorClass = "worker"

	// ErrorClassInternal is anything else.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError is a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Tag is the tag involved, if any.
	Tag string `json:"tag,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Tag != "" {
		msg += fmt.Sprintf(" (tag=%s)", e.Tag)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another *EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewError creates a classified error.
func NewError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

// NewAccessError wraps a store access failure.
func NewAccessError(operation string, err error) *EngineError {
	return &EngineError{
		Class:     ErrorClassAccess,
		Message:   "store access rejected",
		Code:      ErrCodeAccessDenied,
		Operation: operation,
		Err:       err,
	}
}

// NewAdvisoryError turns a load warning into an error value for callers
// that collect them.
func NewAdvisoryError(w tags.Warning) *EngineError {
	return &EngineError{
		Class:   ErrorClassLoadAdvisory,
		Message: w.Message,
		Code:    string(w.Kind),
		Tag:     w.Tag,
	}
}

// WithTag adds tag context to an error.
func (e *EngineError) WithTag(tag string) *EngineError {
	e.Tag = tag
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// ClassOf classifies any error produced by the simulator's packages.
// Errors that are already *EngineError keep their class.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Class
	}

	var panicked *attack.PatternPanicError
	switch {
	case errors.Is(err, tags.ErrMissingFile),
		errors.Is(err, tags.ErrMalformedRow),
		errors.Is(err, tags.ErrDuplicateAddress),
		errors.Is(err, tags.ErrDuplicateTag),
		errors.Is(err, tags.ErrRolePolicy),
		errors.Is(err, tags.ErrPolicy):
		return ErrorClassLoadFatal
	case attack.IsAccessError(err):
		return ErrorClassAccess
	case errors.Is(err, attack.ErrDuplicateAttack),
		errors.Is(err, attack.ErrAttackNotFound),
		errors.Is(err, attack.ErrPlantMismatch),
		errors.Is(err, attack.ErrUnknownScenario),
		errors.Is(err, attack.ErrInjectorClosed):
		return ErrorClassLifecycle
	case errors.As(err, &panicked):
		return ErrorClassWorker
	default:
		return ErrorClassInternal
	}
}

// IsFatal returns true if the error should stop startup.
func IsFatal(err error) bool {
	return ClassOf(err) == ErrorClassLoadFatal
}

// IsRecoverable returns true if the caller should log the error and carry on.
func IsRecoverable(err error) bool {
	switch ClassOf(err) {
	case ErrorClassLoadAdvisory, ErrorClassAccess, ErrorClassLifecycle, ErrorClassWorker:
		return true
	default:
		return false
	}
}

// Common error codes.
const (
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeStepFailed   = "STEP_FAILED"
	ErrCodeSnapshot     = "SNAPSHOT_FAILED"
	ErrCodeConfig       = "CONFIG_ERROR"
)
