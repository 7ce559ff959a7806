package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-community/internal/chat"
	"github.com/npezzotti/go-community/internal/database"
)

const (
	codeSuccess = 0
	codeError   = 101
)

// Envelope is the body of every API response.
type Envelope struct {
	Msg     string `json:"msg"`
	Data    any    `json:"data"`
	Success bool   `json:"success"`
	Code    int    `json:"code"`
}

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func (e *ApiError) Envelope() Envelope {
	return Envelope{Msg: e.Message, Success: false, Code: codeError}
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(status int, msg string) *ApiError {
	if msg == "" {
		msg = lower(http.StatusText(status))
	}
	return &ApiError{StatusCode: status, Message: msg}
}

func NewBadRequestError(msg string) *ApiError {
	return newApiError(http.StatusBadRequest, msg)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, "")
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError(msg string) *ApiError {
	return newApiError(http.StatusUnauthorized, msg)
}

func NewTooLargeError() *ApiError {
	return newApiError(http.StatusRequestEntityTooLarge, "file too large")
}

// toApiError maps errors returned by the chat core and the stores onto the
// status and message reported to the client. Causes of server errors are
// kept for the log only.
func toApiError(err error) *ApiError {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		status := chatErr.Kind.HTTPStatus()
		if status >= http.StatusInternalServerError {
			return NewInternalServerError(err)
		}
		return &ApiError{StatusCode: status, Message: chatErr.Message, Err: chatErr.Err}
	}

	if errors.Is(err, database.ErrNotFound) {
		return NewNotFoundError()
	}

	return NewInternalServerError(err)
}
