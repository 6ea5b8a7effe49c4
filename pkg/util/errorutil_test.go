package util

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{name: "domain error passes through", err: NewConflict("busy", nil), wantCode: CodeConflict, wantStatus: http.StatusConflict},
		{name: "wrapped domain error", err: fmt.Errorf("ctx: %w", NewForbidden("no")), wantCode: CodeForbidden, wantStatus: http.StatusForbidden},
		{name: "no rows", err: sql.ErrNoRows, wantCode: CodeNotFound, wantStatus: http.StatusNotFound},
		{name: "anything else", err: errors.New("boom"), wantCode: CodeInternal, wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			de := ToDomainError(tc.err)
			require.NotNil(t, de)
			assert.Equal(t, tc.wantCode, de.Code)
			assert.Equal(t, tc.wantStatus, de.HTTPStatus)
		})
	}
	assert.Nil(t, ToDomainError(nil))
}

func TestClockSkewIsRetryable(t *testing.T) {
	cause := errors.New("paused in the future")
	err := NewClockSkew("timestamps run backwards", nil, cause)

	assert.True(t, HasCode(err, CodeClockSkew))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetryable(NewInvalidStateTransition("nope", nil, nil)))
	assert.False(t, HasCode(errors.New("plain"), CodeClockSkew))
}

func TestNotFoundWrap(t *testing.T) {
	cause := errors.New("missing row")
	err := NewNotFoundWrap("ticket", map[string]any{"ticket_id": "t1"}, cause)

	assert.True(t, HasCode(err, CodeNotFound))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ticket not found: missing row", err.Error())
}
