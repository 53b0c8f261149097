package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{Validation(CodeInvalidRequest, "bad"), http.StatusBadRequest},
		{Unauthenticated(), http.StatusUnauthorized},
		{Authorization(CodeInsufficientScope, "no"), http.StatusForbidden},
		{NotFound("gone"), http.StatusNotFound},
		{RateLimited(3), http.StatusTooManyRequests},
		{Upstream(CodeUpstreamError, "boom", nil), http.StatusInternalServerError},
		{Internal(errors.New("x")), http.StatusInternalServerError},
		{&Error{Kind: KindValidation, Status: http.StatusConflict}, http.StatusConflict},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.HTTPStatus(), tt.err.Code)
	}
}

func TestAs(t *testing.T) {
	assert.Nil(t, As(nil))

	wrapped := fmt.Errorf("outer: %w", Authentication(CodeInvalidToken, "bad token"))
	e := As(wrapped)
	assert.Equal(t, KindAuthentication, e.Kind)
	assert.Equal(t, CodeInvalidToken, e.Code)

	plain := As(errors.New("boom"))
	assert.Equal(t, KindInternal, plain.Kind)
	assert.Equal(t, CodeInternal, plain.Code)
	assert.True(t, IsKind(wrapped, KindAuthentication))
	assert.False(t, IsKind(wrapped, KindValidation))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, Validation(CodeInvalidRequest, "top must be a number").WithDetails([]string{"top"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_REQUEST", body["error"])
	assert.Equal(t, "top must be a number", body["error_description"])
	assert.Equal(t, []any{"top"}, body["details"])
}

func TestWriteError_RateLimitHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, RateLimited(42))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))

	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeTooManyRequests, body.Error)
	assert.Equal(t, 42, body.RetryAfter)
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("connection string postgres://secret"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}
