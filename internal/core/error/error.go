package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// StoreErrorMessage describes durable storage failures.
	StoreErrorMessage = "storage operation failed"
)

// Kind classifies an error for the resilience layer.
type Kind string

const (
	// KindTransient marks failures worth retrying (timeouts, 5xx, rate limits).
	KindTransient Kind = "transient"
	// KindPermanent marks failures that retrying cannot fix (bad input, auth).
	KindPermanent Kind = "permanent"
	// KindPolicyViolation marks content rejected by safety or policy checks.
	KindPolicyViolation Kind = "policy_violation"
	// KindUnavailable marks a dependency that is failing fast (open breaker).
	KindUnavailable Kind = "dependency_unavailable"
)

// Error wraps an underlying error with a kind, an HTTP status and a safe message.
type Error struct {
	Err     error
	Kind    Kind
	Status  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the provided information. The kind defaults to
// permanent; use the kind constructors for classified failures.
func New(err error, status int, message string) *Error {
	return &Error{
		Err:     err,
		Kind:    KindPermanent,
		Status:  status,
		Message: message,
	}
}

// Transient wraps err as a retryable failure.
func Transient(err error, message string) *Error {
	return &Error{Err: err, Kind: KindTransient, Status: http.StatusServiceUnavailable, Message: message}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error, message string) *Error {
	return &Error{Err: err, Kind: KindPermanent, Status: http.StatusBadRequest, Message: message}
}

// Policy wraps err as a safety or policy rejection.
func Policy(err error, message string) *Error {
	return &Error{Err: err, Kind: KindPolicyViolation, Status: http.StatusUnprocessableEntity, Message: message}
}

// Unavailable wraps err as a fast-failing dependency.
func Unavailable(err error, message string) *Error {
	return &Error{Err: err, Kind: KindUnavailable, Status: http.StatusBadGateway, Message: message}
}

// KindOf reports the classification of err. Unclassified errors are permanent:
// retrying work we do not understand is worse than surfacing it.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanent
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}

// IsPolicy reports whether err is a safety or policy rejection.
func IsPolicy(err error) bool {
	return KindOf(err) == KindPolicyViolation
}

// IsUnavailable reports whether err is a fast-failing dependency.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// StatusOf returns the HTTP status carried by err, or 500 when unclassified.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the safe user-facing message carried by err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return SystemErrorMessage
}

// Is reports whether the target matches the underlying error or the Error itself.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to Error or the wrapped error in a chain.
func (e *Error) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**Error); ok {
		*t = e
		return true
	}
	return false
}
