package wait

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned when a poll exceeds its deadline without
// observing the target.
type TimeoutError struct {
	// Target names what was being waited for
	Target string
	// Timeout is the budget that was exceeded
	Timeout time.Duration
	// Last is the last value read, empty if no read succeeded
	Last string
}

func (e *TimeoutError) Error() string {
	if e.Last != "" {
		return fmt.Sprintf("timeout after %s waiting for %s (last state: %s)", e.Timeout, e.Target, e.Last)
	}
	return fmt.Sprintf("timeout after %s waiting for %s", e.Timeout, e.Target)
}

// IsTimeout reports whether err is, or wraps, a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
