package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("503"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustedReturnsCause(t *testing.T) {
	cause := errors.New("429 too many requests")
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return Transient(cause)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, cause, err)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	cause := errors.New("401 unauthorized")
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return cause
	})

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDo_ZeroAttemptsStillCallsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(ctx context.Context) error {
		calls++
		return Transient(errors.New("boom"))
	})
	assert.Equal(t, 1, calls)
}

func TestTransientNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, IsNetworkError(nil))
	assert.False(t, IsNetworkError(errors.New("bad request")))
	assert.True(t, IsNetworkError(context.DeadlineExceeded))
	assert.True(t, IsNetworkError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
}

func TestIsTransientStatus(t *testing.T) {
	tests := []struct {
		code     int
		expected bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsTransientStatus(tt.code), "status %d", tt.code)
	}
}
