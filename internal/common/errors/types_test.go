package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	t.Run("type and message", func(t *testing.T) {
		err := ConfigInvalidError("channel_id is required")
		assert.Equal(t, "config_invalid: channel_id is required", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ProviderUnavailableError("github", cause)
		assert.Contains(t, err.Error(), "provider_unavailable")
		assert.Contains(t, err.Error(), "cause=connection refused")
	})

	t.Run("with context", func(t *testing.T) {
		err := RateLimitedError("discord").WithContext("rule_id", "r1")
		assert.Contains(t, err.Error(), "rule_id=r1")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := RefreshFailedError("github", cause)

	assert.ErrorIs(t, err, cause)
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{"matching type", NoCredentialError("u1", "github"), ErrTypeNoCredential, true},
		{"non-matching type", NoCredentialError("u1", "github"), ErrTypeRefreshFailed, false},
		{"wrapped app error", fmt.Errorf("task: %w", RateLimitedError("weather")), ErrTypeRateLimited, true},
		{"plain error", errors.New("plain"), ErrTypeInternal, false},
		{"nil error", nil, ErrTypeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsType(tt.err, tt.errType))
		})
	}
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeLockContention, GetType(LockContentionError("r1")))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(ConfigInvalidError("missing field")))
	assert.True(t, IsTransient(ProviderUnavailableError("github", nil)))
	assert.True(t, IsTransient(NoCredentialError("u1", "discord")))
	assert.True(t, IsTransient(errors.New("plain")))
}
