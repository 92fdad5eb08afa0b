package infra

import (
	"fmt"
	"time"
)

// ThrottleError возвращают адаптеры внешних сервисов, когда те просят
// подождать (считанный Retry-After заголовок). Retry-цепочка использует
// подсказку вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
