package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hshadab/morpho/internal/infra"
	"github.com/stretchr/testify/require"
)

func testWrapper(attempts uint) *Wrapper {
	return NewWrapper("test", WrapperSettings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		RateLimit:   1_000,
		RateBurst:   100,
		CallTimeout: time.Second,
		Attempts:    attempts,
	}, nil)
}

func TestThrottleErrorUnwraps(t *testing.T) {
	cause := errors.New("upstream 429")
	err := &infra.ThrottleError{RetryAfter: time.Second, Cause: cause}
	require.ErrorIs(t, err, cause)
}

func TestWrapperPassesThroughSuccess(t *testing.T) {
	w := testWrapper(3)

	var calls int32
	err := w.Do(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWrapperRetriesWithThrottleHint(t *testing.T) {
	w := testWrapper(3)

	// Сервис каждый раз просит подождать миллисекунду — все три попытки
	// должны уйти, задержка берется из Retry-After, а не из бэкоффа
	var calls int32
	err := w.Do(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return &infra.ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("throttled")}
	})
	require.Error(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestWrapperSingleAttemptMode(t *testing.T) {
	// Attempts == 1 — режим вызовов, которые нельзя повторять
	w := testWrapper(1)

	var calls int32
	err := w.Do(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWrapperBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	w := testWrapper(1)
	boom := errors.New("service down")

	var calls int32
	op := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return boom
	}

	for i := 0; i < 6; i++ {
		require.Error(t, w.Do(context.Background(), op))
	}
	require.EqualValues(t, 6, atomic.LoadInt32(&calls))

	// Седьмой вызов режется разомкнутой цепью, до op не доходит
	require.Error(t, w.Do(context.Background(), op))
	require.EqualValues(t, 6, atomic.LoadInt32(&calls))
}
