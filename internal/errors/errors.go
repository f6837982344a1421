// Package errors implements the error taxonomy used across this module: one
// AppError type carrying a machine-checkable Kind and Code, a Retryable
// flag, and the underlying cause, consolidating several competing error
// shapes into one.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError by the retry/surface policy it maps to.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindStoreUnavailable    Kind = "STORE_UNAVAILABLE"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindMalformedExtraction Kind = "MALFORMED_EXTRACTION"
	KindDimensionMismatch   Kind = "DIMENSION_MISMATCH"
	KindAuthFailure         Kind = "AUTH_FAILURE"
	KindCancelled           Kind = "CANCELLED"
	KindConstraintViolation Kind = "CONSTRAINT_VIOLATION"
	KindInternal            Kind = "INTERNAL"
)

// AppError is the single error type used across the module.
type AppError struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// New builds an AppError of the given kind. Retryable defaults to the policy
// implied by Kind (see retryableByDefault) but can be overridden with
// WithRetryable.
func New(kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Retryable: retryableByDefault(kind)}
}

// Wrap attaches context to an existing error. If err is already an
// *AppError its Kind and Retryable flag are preserved; otherwise it is
// classified as internal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Kind: ae.Kind, Code: ae.Code, Message: message, Retryable: ae.Retryable, Cause: ae}
	}
	return &AppError{Kind: KindInternal, Code: "INTERNAL", Message: message, Cause: err}
}

func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func (e *AppError) WithRetryable(r bool) *AppError {
	e.Retryable = r
	return e
}

func retryableByDefault(kind Kind) bool {
	switch kind {
	case KindStoreUnavailable, KindProviderUnavailable:
		return true
	default:
		return false
	}
}

// Is reports whether err (or something it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

func StoreUnavailable(message string, cause error) *AppError {
	return New(KindStoreUnavailable, "store_unavailable", message).WithCause(cause)
}

func ProviderUnavailable(message string, cause error) *AppError {
	return New(KindProviderUnavailable, "provider_unavailable", message).WithCause(cause)
}

func DimensionMismatch(message string) *AppError {
	return New(KindDimensionMismatch, "dimension_mismatch", message)
}

func AuthFailure(message string, cause error) *AppError {
	return New(KindAuthFailure, "auth_failure", message).WithCause(cause)
}

func Validation(message string) *AppError {
	return New(KindValidation, "validation", message)
}

func NotFound(message string) *AppError {
	return New(KindNotFound, "not_found", message)
}

func Cancelled(message string) *AppError {
	return New(KindCancelled, "cancelled", message)
}
