package chat

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", notFoundError("message not found"))
	assert.Equal(t, KindNotFound, ErrorKind(err))
	assert.Equal(t, Kind(0), ErrorKind(errors.New("plain")))
}

func TestError(t *testing.T) {
	cause := errors.New("connection refused")
	err := dependencyError("failed to save message", cause)
	assert.Equal(t, "failed to save message: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "room already exists", conflictError("room already exists").Error())
}

func TestKindHTTPStatus(t *testing.T) {
	tcases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindAuthorization, http.StatusForbidden},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindDependency, http.StatusInternalServerError},
		{Kind(0), http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.HTTPStatus())
		})
	}
}
