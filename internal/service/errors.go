package service

import (
	"errors"
	"fmt"
)

// Error is a domain error returned by service methods.
// Handlers map these to appropriate HTTP responses.
type Error struct {
	Kind    ErrorKind
	Code    string // machine-readable error code (e.g., "invalid_api_key", "quota_exceeded")
	Message string // human-readable message
	Limit   int64  // monthly limit, set on quota errors only

	cause error // never rendered to the caller
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrBadRequest      ErrorKind = iota // 400
	ErrNotFound                         // 404
	ErrForbidden                        // 403
	ErrInternal                         // 500
	ErrUnavailable                      // 503
	ErrUnauthorized                     // 401
	ErrConflict                         // 409
	ErrTooManyRequests                  // 429
)

// Error codes surfaced by the authentication core.
const (
	CodeMissingKey       = "missing_api_key"
	CodeInvalidKey       = "invalid_api_key"
	CodeQuotaExceeded    = "quota_exceeded"
	CodeInsufficientTier = "insufficient_tier"
)

func NewBadRequest(code, message string) *Error {
	return &Error{Kind: ErrBadRequest, Code: code, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func NewForbidden(code, message string) *Error {
	return &Error{Kind: ErrForbidden, Code: code, Message: message}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

func NewUnavailable(code, message string) *Error {
	return &Error{Kind: ErrUnavailable, Code: code, Message: message}
}

func NewUnauthorized(code, message string) *Error {
	return &Error{Kind: ErrUnauthorized, Code: code, Message: message}
}

func NewConflict(code, message string) *Error {
	return &Error{Kind: ErrConflict, Code: code, Message: message}
}

// NewQuotaExceeded reports that a key used up its monthly limit.
func NewQuotaExceeded(limit int64) *Error {
	return &Error{
		Kind:    ErrTooManyRequests,
		Code:    CodeQuotaExceeded,
		Message: fmt.Sprintf("Monthly rate limit of %d requests exceeded. Upgrade your plan for more requests.", limit),
		Limit:   limit,
	}
}

// IsStoreFailure reports whether err is a rejection caused by the key store
// or usage ledger failing rather than by the credential itself.
func IsStoreFailure(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.cause != nil
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
