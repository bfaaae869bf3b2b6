package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions(max int) Options {
	return Options{
		MaxRetries:    max,
		InitialDelay:  time.Millisecond,
		MaxDelay:      4 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	const max = 5
	for n := 0; n < max; n++ {
		t.Run(fmt.Sprintf("%d failures", n), func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), "HeaderByNumber", fastOptions(max), func() error {
				calls++
				if calls <= n {
					return errors.New("connection reset")
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, n+1, calls)
		})
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	last := errors.New("503 service unavailable")
	calls := 0
	err := Do(context.Background(), "FilterLogs", fastOptions(4), func() error {
		calls++
		if calls == 4 {
			return last
		}
		return errors.New("timeout")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)

	var connErr *errs.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "FilterLogs", connErr.Op)
	assert.Equal(t, 4, connErr.Attempts)
	assert.ErrorIs(t, err, last)
}

func TestDoStopsOnValidationError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "decode", fastOptions(5), func() error {
		calls++
		return errs.NewValidationError("budget", "budget must be positive")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errs.IsValidation(err))
	assert.False(t, errs.IsConnection(err))
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{MaxRetries: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}

	calls := 0
	err := Do(ctx, "subscribe", opts, func() error {
		calls++
		cancel()
		return errors.New("dial failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errs.IsConnection(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), "BlockNumber", fastOptions(3), func() (uint64, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("eof")
		}
		return 1234, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), v)
	assert.Equal(t, 2, calls)
}

func TestDelay(t *testing.T) {
	opts := Options{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, opts.Delay(0))
	assert.Equal(t, 2*time.Second, opts.Delay(1))
	assert.Equal(t, 8*time.Second, opts.Delay(3))
	assert.Equal(t, 10*time.Second, opts.Delay(4))
	assert.Equal(t, 10*time.Second, opts.Delay(10))

	def := Options{}.withDefaults()
	assert.Equal(t, DefaultOptions(), def)
}
