package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "area-engine/internal/common/errors"
)

func testConfig() Config {
	return Config{
		MaxFailures:           3,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	}
}

func TestBreaker_ExecuteSuccess(t *testing.T) {
	b := New("test", testConfig(), nil)

	err := b.Execute(context.Background(), func() error { return nil })

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", testConfig(), nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func() error { return boom })
		assert.Error(t, err)
	}

	assert.True(t, b.IsOpen())

	// Calls while open are rejected with a connection-classified error
	err := b.Execute(context.Background(), func() error { return nil })
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConnection))
}

func TestBreaker_ConfigErrorsDoNotTrip(t *testing.T) {
	b := New("test", testConfig(), nil)

	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func() error {
			return apperrors.ConfigInvalidError("missing channel_id")
		})
	}

	assert.False(t, b.IsOpen())
}

func TestBreaker_InvalidConfigFallsBackToDefault(t *testing.T) {
	b := New("test", Config{}, nil)

	err := b.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)
}

func TestBreaker_Stats(t *testing.T) {
	b := New("stats", testConfig(), nil)

	_ = b.Execute(context.Background(), func() error { return nil })
	_ = b.Execute(context.Background(), func() error { return errors.New("x") })

	stats := b.Stats()
	assert.Equal(t, "stats", stats.Name)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
}
