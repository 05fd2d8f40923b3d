package console

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned when a session is used after its stream ended.
var ErrClosed = errors.New("console stream closed")

// CommandFailedError is returned by Run when a command exits non-zero.
type CommandFailedError struct {
	// Command is the command line that was sent
	Command string
	// Output holds the lines printed before the prompt returned
	Output []string
	// ExitCode is the value reported by "echo $?"
	ExitCode int
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command %q exited with code %d\noutput:\n%s",
		e.Command, e.ExitCode, strings.Join(e.Output, "\n"))
}

// ConnectError means the session could not be (re)established. After the
// reconnect policy is exhausted it is fatal to the current operation.
type ConnectError struct {
	// Target is the remote endpoint, e.g. "bmc:2200"
	Target string
	// Attempts is the number of spawns tried
	Attempts int
	// Err is the last spawn error, nil if spawns succeeded but died at once
	Err error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to get console on %s after %d attempts: %v", e.Target, e.Attempts, e.Err)
	}
	return fmt.Sprintf("unable to get console on %s after %d attempts", e.Target, e.Attempts)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// FramingError means the prompt protocol could not be followed, for example
// the echo never came back or the exit status was not a number.
type FramingError struct {
	Command string
	Phase   Phase
	Output  string
	Err     error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("console framing failed for %q in %s: %v", e.Command, e.Phase, e.Err)
	}
	return fmt.Sprintf("console framing failed for %q in %s (output %q)", e.Command, e.Phase, e.Output)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// CloseError means the clean exit of the remote shell did not complete.
type CloseError struct {
	Target string
	Err    error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("failed to close console on %s: %v", e.Target, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// IsCommandFailed reports whether err is a *CommandFailedError.
func IsCommandFailed(err error) bool {
	var cf *CommandFailedError
	return errors.As(err, &cf)
}
