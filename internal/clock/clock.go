// Package clock provides the injectable time source shared by the
// governor, breakers, retry executor and pipelines.
package clock

import (
	"context"
	"time"

	fbclock "github.com/facebookgo/clock"
)

// Clock is the time source. The real clock wraps the time package; the mock
// only moves when a test calls Add.
type Clock = fbclock.Clock

// Mock is a manually advanced clock for tests.
type Mock = fbclock.Mock

// New returns the real clock.
func New() Clock {
	return fbclock.New()
}

// NewMock returns a mock clock set to the Unix epoch.
func NewMock() *Mock {
	return fbclock.NewMock()
}

// OrReal returns c, or the real clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return New()
	}
	return c
}

// Sleep blocks for d on c, returning early with ctx.Err() if ctx ends first.
// A non-positive d returns immediately.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
