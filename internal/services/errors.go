package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies expected booking failures for callers
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindForbidden        ErrorKind = "forbidden"
	KindInvalidOperation ErrorKind = "invalid_operation"
	KindConflict         ErrorKind = "conflict"
	KindValidationFailed ErrorKind = "validation_failed"
	KindUnavailable      ErrorKind = "unavailable"
)

// BookingError is returned by every booking operation for expected outcomes.
// Message explains why, in terms a client can show.
type BookingError struct {
	Kind    ErrorKind
	Message string
	Fields  ValidationErrors
	Err     error
}

func (e *BookingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BookingError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a BookingError anywhere in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func notFound(format string, args ...interface{}) error {
	return &BookingError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...interface{}) error {
	return &BookingError{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func invalidOperation(format string, args ...interface{}) error {
	return &BookingError{Kind: KindInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...interface{}) error {
	return &BookingError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func validationFailed(fields ValidationErrors) error {
	return &BookingError{Kind: KindValidationFailed, Message: fields.Error(), Fields: fields}
}

func invalidField(field, message string) error {
	return validationFailed(ValidationErrors{{Field: field, Message: message}})
}

// unavailable wraps store failures; the operation is safe to retry
func unavailable(op string, err error) error {
	return &BookingError{Kind: KindUnavailable, Message: op + " failed, please retry", Err: err}
}
