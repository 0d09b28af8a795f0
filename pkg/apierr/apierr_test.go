package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsFindsWrappedError(t *testing.T) {
	base := WithDetails(CodePublishBlocked, "publish blocked", map[string]any{"blockers": []string{"a", "b"}})
	err := fmt.Errorf("publish: %w", base)

	got := As(err)
	require.NotNil(t, got)
	assert.Equal(t, CodePublishBlocked, got.Code)
	assert.True(t, IsCode(err, CodePublishBlocked))
	assert.False(t, IsCode(err, CodeNotFound))
}

func TestAsWrapsUnknownErrorsAsInternal(t *testing.T) {
	cause := errors.New("connection reset")
	got := As(cause)
	require.NotNil(t, got)
	assert.Equal(t, CodeInternal, got.Code)
	assert.Equal(t, "internal error", got.Message)
	assert.ErrorIs(t, got, cause)
	assert.Nil(t, As(nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthorized:         http.StatusUnauthorized,
		CodeForbidden:            http.StatusForbidden,
		CodeNotFound:             http.StatusNotFound,
		CodeValidation:           http.StatusBadRequest,
		CodeInsufficientEvidence: http.StatusUnprocessableEntity,
		CodePublishBlocked:       http.StatusConflict,
		CodeRateLimited:          http.StatusTooManyRequests,
		CodeInternal:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), string(code))
	}
}
