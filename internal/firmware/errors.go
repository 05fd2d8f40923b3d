package firmware

import (
	"errors"
	"fmt"

	"github.com/muurk/obmctl/internal/wait"
)

// ErrNoNewImage is returned by Flash when the upload did not produce an
// image the BMC had not seen before.
var ErrNoNewImage = errors.New("uploaded image did not appear in the software inventory")

// ActivationFailedError means the BMC gave up activating an image.
type ActivationFailedError struct {
	ID string
}

func (e *ActivationFailedError) Error() string {
	return fmt.Sprintf("activation of image %s failed", e.ID)
}

// IsActivationFailed reports whether err is an *ActivationFailedError.
func IsActivationFailed(err error) bool {
	var af *ActivationFailedError
	return errors.As(err, &af)
}

// ActivationTimeoutError means an image did not become Active in time. It
// unwraps to the underlying *wait.TimeoutError.
type ActivationTimeoutError struct {
	ID  string
	Err *wait.TimeoutError
}

func (e *ActivationTimeoutError) Error() string {
	return fmt.Sprintf("activation of image %s timed out: %v", e.ID, e.Err)
}

func (e *ActivationTimeoutError) Unwrap() error {
	return e.Err
}

// IsActivationTimeout reports whether err is an *ActivationTimeoutError.
func IsActivationTimeout(err error) bool {
	var at *ActivationTimeoutError
	return errors.As(err, &at)
}
