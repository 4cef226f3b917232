package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted is wrapped by every TerminalError.
	ErrExhausted = errors.New("retries exhausted")

	// ErrTimeout marks an attempt that outlived Policy.Timeout.
	ErrTimeout = errors.New("attempt timed out")
)

// TerminalError reports a call whose attempts all failed.
type TerminalError struct {
	Dependency string
	Attempts   int
	Last       error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Dependency, ErrExhausted, e.Attempts, e.Last)
}

// Unwrap exposes both ErrExhausted and the last attempt's error.
func (e *TerminalError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (invalid input, not found).
// The executor returns it immediately and it does not count against the
// dependency's circuit breaker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
