package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient is a condition the handshake watcher retries internally.
	// It never escapes to callers on its own.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent is fatal and is surfaced to the caller immediately.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes for the handshake error taxonomy.
const (
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeLaunchFailure       = "LAUNCH_FAILURE"
	ErrCodeHandshakeTransient  = "HANDSHAKE_TRANSIENT"
	ErrCodeHandshakeTimeout    = "HANDSHAKE_TIMEOUT"
	ErrCodeWorkerFailed        = "WORKER_FAILED"
	ErrCodeSyncMismatch        = "SYNC_MISMATCH"
	ErrCodeCommandPrecondition = "COMMAND_PRECONDITION"
	ErrCodeCommandFailed       = "COMMAND_FAILED"
	ErrCodePolicyDenied        = "POLICY_DENIED"
)

// EngineError is a classified error carrying the resource and operation it
// occurred in.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Err       error                  `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		fmt.Fprintf(&b, " (resource=%s, operation=%s)", e.Resource, e.Operation)
	case e.Resource != "":
		fmt.Fprintf(&b, " (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *EngineError with the same code.
// A target with an empty code matches any error of the same class.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Class == t.Class
	}
	return e.Code == t.Code
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

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{Class: class, Code: code, Message: message, Err: err}
}

// NewConfigurationError reports an invalid directive or a conflicting worker registration.
func NewConfigurationError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeConfiguration, message, err)
}

// NewLaunchFailure reports that the worker could not be materialized or started.
func NewLaunchFailure(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeLaunchFailure, message, err)
}

// NewHandshakeTransient reports a retryable handshake observation.
func NewHandshakeTransient(message string, err error) *EngineError {
	return newError(ErrorClassTransient, ErrCodeHandshakeTransient, message, err)
}

// NewHandshakeTimeout reports that the worker produced nothing usable before the deadline.
// lastObservation is always part of the message.
func NewHandshakeTimeout(deadline fmt.Stringer, lastObservation string) *EngineError {
	msg := fmt.Sprintf("worker output not available after %s; last observation: %s", deadline, lastObservation)
	return newError(ErrorClassPermanent, ErrCodeHandshakeTimeout, msg, nil).
		WithDetail("last_observation", lastObservation)
}

// NewWorkerFailure reports the presence of a failure log. The log text is
// embedded in the message.
func NewWorkerFailure(failureLogPath, failureText string) *EngineError {
	text := strings.TrimSpace(failureText)
	if text == "" {
		text = "(failure log is empty)"
	}
	msg := fmt.Sprintf("worker reported failure: %s", text)
	return newError(ErrorClassPermanent, ErrCodeWorkerFailed, msg, nil).
		WithDetail("failure_log", failureLogPath)
}

// NewSyncMismatch reports a declared database with no matching output entry.
func NewSyncMismatch(resource string, requested []string, available []string) *EngineError {
	sortedAvail := append([]string(nil), available...)
	sort.Strings(sortedAvail)
	msg := fmt.Sprintf("no worker output entry matches database resource %q (requested: [%s]; available: [%s])",
		resource, strings.Join(requested, ", "), strings.Join(sortedAvail, ", "))
	return newError(ErrorClassPermanent, ErrCodeSyncMismatch, msg, nil).
		WithResource(resource).
		WithDetail("available", sortedAvail)
}

// NewCommandPrecondition reports a one-shot command that cannot run yet.
func NewCommandPrecondition(message string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeCommandPrecondition, message, nil)
}

// NewCommandFailed reports a non-zero exit from a one-shot command.
func NewCommandFailed(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeCommandFailed, message, err)
}

// NewPolicyDenied reports directives rejected by the policy gate.
func NewPolicyDenied(message string) *EngineError {
	return newError(ErrorClassPermanent, ErrCodePolicyDenied, message, nil)
}

// Sentinels for errors.Is checks.
var (
	ErrConfiguration       = &EngineError{Code: ErrCodeConfiguration}
	ErrLaunchFailure       = &EngineError{Code: ErrCodeLaunchFailure}
	ErrHandshakeTransient  = &EngineError{Code: ErrCodeHandshakeTransient}
	ErrHandshakeTimeout    = &EngineError{Code: ErrCodeHandshakeTimeout}
	ErrWorkerFailed        = &EngineError{Code: ErrCodeWorkerFailed}
	ErrSyncMismatch        = &EngineError{Code: ErrCodeSyncMismatch}
	ErrCommandPrecondition = &EngineError{Code: ErrCodeCommandPrecondition}
	ErrCommandFailed       = &EngineError{Code: ErrCodeCommandFailed}
	ErrPolicyDenied        = &EngineError{Code: ErrCodePolicyDenied}
)

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
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

// CodeOf returns the error code of err, or "" when err is not an *EngineError.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
