package outbox

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError: шлюз попросил подождать (429 + Retry-After)
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// PermanentError: повтор бессмысленен (неверный адрес, отказ шлюза 4xx)
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent delivery failure: %v", e.Cause) }

func (e *PermanentError) Unwrap() error { return e.Cause }

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
