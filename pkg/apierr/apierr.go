// Package apierr defines the error kinds the narrative service surfaces to callers.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeForbidden              Code = "FORBIDDEN"
	CodeNotFound               Code = "NOT_FOUND"
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeInsufficientEvidence   Code = "INSUFFICIENT_EVIDENCE"
	CodeNarrativeStale         Code = "NARRATIVE_STALE"
	CodeAlignmentFailed        Code = "ALIGNMENT_FAILED"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeFormatNotSupported     Code = "FORMAT_NOT_SUPPORTED"
	CodeEvidencePackageMissing Code = "EVIDENCE_PACKAGE_MISSING"
	CodePublishBlocked         Code = "PUBLISH_BLOCKED"
	CodeInternal               Code = "INTERNAL_ERROR"
)

func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation, CodeFormatNotSupported:
		return http.StatusBadRequest
	case CodeInsufficientEvidence, CodeAlignmentFailed:
		return http.StatusUnprocessableEntity
	case CodeNarrativeStale, CodePublishBlocked, CodeEvidencePackageMissing:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is an expected, enumerable failure. Details carries structured data such as
// the list of missing prerequisites or publish blockers.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithDetails(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Internal hides the cause from the client message; the cause stays reachable
// through errors.Unwrap for logging.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: cause}
}

// As returns the *Error in err's chain, or an INTERNAL_ERROR wrapping err.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
