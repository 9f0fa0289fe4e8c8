package backoff

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayCapped(t *testing.T) {
	p := Policy{MaxRetries: 10, Initial: time.Second, Max: 2 * time.Second, Multiplier: 2, Jitter: 0}
	require.Equal(t, time.Second, p.Delay(0))
	require.Equal(t, 2*time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(5))
}

func TestRetrySucceedsEventually(t *testing.T) {
	p := Policy{MaxRetries: 3, Initial: time.Microsecond, Max: time.Millisecond, Multiplier: 2}
	calls := 0
	err := p.Retry(func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhausts(t *testing.T) {
	p := Policy{MaxRetries: 2, Initial: time.Microsecond, Max: time.Millisecond, Multiplier: 2}
	wantErr := errors.New("permanent")
	calls := 0
	err := p.Retry(func(attempt int) error {
		calls++
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 3, calls)
}
