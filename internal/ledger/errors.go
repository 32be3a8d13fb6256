package ledger

import (
	"fmt"
	"time"
)

// ThrottleError сигнализирует, что сайдкар попросил подождать.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}
