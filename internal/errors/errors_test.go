// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorCodeValues verifies all error codes have non-empty, unique values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation,
		ErrConfiguration,
		ErrDatabase, ErrMigration, ErrConstraint,
		ErrReauthRequired, ErrConnectionInactive, ErrStateInvalid, ErrStateExpired,
		ErrUpstreamUnavailable,
		ErrSyncInProgress, ErrSyncConflict, ErrSyncFailed, ErrMappingChanged, ErrLogCompleted,
		ErrQueueTransition,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		assert.NotEmpty(t, string(code))
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestAppErrorFormatting(t *testing.T) {
	err := New(ErrNotFound, "connection not found")
	assert.Equal(t, "[NOT_FOUND] connection not found", err.Error())

	wrapped := Wrap(ErrDatabase, "query failed", errors.New("disk I/O error"))
	assert.True(t, strings.HasSuffix(wrapped.Error(), "disk I/O error"))
	assert.Equal(t, "disk I/O error", errors.Unwrap(wrapped).Error())

	formatted := Newf(ErrInvalid, "unsupported type %q", "widget")
	assert.Equal(t, `[INVALID_INPUT] unsupported type "widget"`, formatted.Error())
}

func TestIs(t *testing.T) {
	inner := New(ErrReauthRequired, "refresh token expired")
	outer := Wrap(ErrSyncFailed, "sync aborted", inner)
	stdWrapped := fmt.Errorf("invocation: %w", outer)

	assert.True(t, Is(outer, ErrSyncFailed))
	assert.True(t, Is(outer, ErrReauthRequired))
	assert.True(t, Is(stdWrapped, ErrReauthRequired))
	assert.False(t, Is(stdWrapped, ErrNotFound))
	assert.False(t, Is(errors.New("plain"), ErrInternal))
	assert.False(t, Is(nil, ErrInternal))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrConfiguration, CodeOf(fmt.Errorf("x: %w", New(ErrConfiguration, "missing client id"))))
	assert.Equal(t, ErrInternal, CodeOf(errors.New("boom")))
}
