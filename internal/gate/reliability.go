package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/hshadab/morpho/internal/infra"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// WrapperSettings — параметры надежности для одного внешнего направления.
type WrapperSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int
	CallTimeout time.Duration
	Attempts    uint
}

// Wrapper оборачивает вызовы к внешнему сервису (verifier-оракул, протокол)
// в цепочку Rate Limiter -> Circuit Breaker -> Retry.
type Wrapper struct {
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	callTimeout time.Duration
	attempts    uint
}

func NewWrapper(name string, s WrapperSettings, metrics *Metrics) *Wrapper {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics == nil {
				return
			}
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1.0
			}
			metrics.BreakerState.WithLabelValues(name).Set(state)
		},
	})

	limiter := rate.NewLimiter(rate.Limit(s.RateLimit), s.RateBurst)

	callTimeout := s.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	attempts := s.Attempts
	if attempts == 0 {
		attempts = 3
	}

	return &Wrapper{
		cb:          cb,
		limiter:     limiter,
		callTimeout: callTimeout,
		attempts:    attempts,
	}
}

// Do выполняет op через всю цепочку защиты.
func (w *Wrapper) Do(ctx context.Context, op func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Внешний сервис сам сказал, сколько ждать
				var tErr *infra.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Сетевой лаг, 500-ка — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
			defer cancel()
			return op(tCtx)
		})

		return nil, retryErr
	})

	return err
}
