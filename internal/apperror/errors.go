package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindAuth        Kind = "auth_error"
	KindForbidden   Kind = "forbidden"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindNotActive   Kind = "not_active"
	KindComputation Kind = "computation_error"
	KindPersistence Kind = "persistence_error"
)

// Error is the single error type crossing package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func Auth(format string, args ...any) *Error {
	return newError(KindAuth, nil, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

func NotActive(format string, args ...any) *Error {
	return newError(KindNotActive, nil, format, args...)
}

func Computation(err error, format string, args ...any) *Error {
	return newError(KindComputation, err, format, args...)
}

func Persistence(err error, format string, args ...any) *Error {
	return newError(KindPersistence, err, format, args...)
}

// FromValidation converts ozzo validation errors into a ValidationError.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}
	var ve validation.Errors
	if !errors.As(err, &ve) {
		return newError(KindValidation, err, "invalid payload")
	}
	fields := make([]string, 0, len(ve))
	for field, fe := range ve {
		fields = append(fields, fmt.Sprintf("%s: %v", field, fe))
	}
	sort.Strings(fields)
	return newError(KindValidation, err, "invalid payload (%s)", strings.Join(fields, "; "))
}

func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// StatusCode maps an error to the HTTP status used at the request boundary.
func StatusCode(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindNotActive:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to a client. Wrapped causes
// of internal failures stay in the logs.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Kind == KindComputation && ae.Err != nil {
			return fmt.Sprintf("%s: %v", ae.Message, ae.Err)
		}
		return ae.Message
	}
	return "Server error."
}
