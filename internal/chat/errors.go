package chat

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindUnauthenticated
	KindAuthorization
	KindForbidden
	KindNotFound
	KindConflict
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindAuthorization:
		return "authorization"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindDependency:
		return "dependency"
	}
	return "unknown"
}

// HTTPStatus maps the kind onto the status code reported to clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindAuthorization, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Error is returned by every Service operation. Message is safe to show to
// clients; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind reports the Kind of err, or 0 if err is not a chat error.
func ErrorKind(err error) Kind {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Kind
	}
	return 0
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func authorizationError(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

func forbiddenError(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func notFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func conflictError(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func dependencyError(msg string, err error) *Error {
	return &Error{Kind: KindDependency, Message: msg, Err: err}
}

// NewUnauthenticatedError is used by the transport layers when no verified
// identity accompanies a request.
func NewUnauthenticatedError(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// NewConflictError is shared with the stream coordinator.
func NewConflictError(msg string) *Error {
	return conflictError(msg)
}

// NewValidationError is shared with the transport layers for malformed input.
func NewValidationError(msg string) *Error {
	return validationError(msg)
}
