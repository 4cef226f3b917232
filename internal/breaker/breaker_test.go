package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *clock.Mock) {
	m := clock.NewMock()
	return New("feed", Config{FailureThreshold: threshold, ResetTimeout: reset}, m, nil), m
}

// TestOpensExactlyAtThreshold tests that the circuit stays closed until the
// threshold-th consecutive failure.
func TestOpensExactlyAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
		assert.Equal(t, Closed, b.State(), "after %d failures", i+1)
	}
	assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, Open, b.State())
}

// TestSuccessResetsConsecutiveFailures tests that failures must be consecutive.
func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, succeed))
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 2, b.Snapshot().Failures)
}

// TestOpenRejectsWithoutCalling tests the documented scenario: five failures
// open the breaker, a call 1ms later is rejected without invoking the
// operation, and after the reset timeout the next call runs for real.
func TestOpenRejectsWithoutCalling(t *testing.T) {
	b, m := newTestBreaker(5, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, fail)
	}
	require.Equal(t, Open, b.State())

	m.Add(time.Millisecond)
	var calls int
	err := b.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 0, calls)

	snap := b.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.Equal(t, snap.LastFailure.Add(30*time.Second), snap.RetryAt)

	m.Add(30 * time.Second)
	assert.Equal(t, HalfOpen, b.State())
	err = b.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Snapshot().Failures)
}

// TestFailedTrialReopens tests half-open -> open with a refreshed failure time.
func TestFailedTrialReopens(t *testing.T) {
	b, m := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	first := b.Snapshot().LastFailure

	m.Add(time.Minute)
	assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, Open, b.State())
	assert.True(t, b.Snapshot().LastFailure.After(first))

	m.Add(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen, "reset timeout counts from the refreshed failure")
}

// TestHalfOpenAllowsSingleTrial tests that concurrent callers see ErrOpen
// while the trial is in flight.
func TestHalfOpenAllowsSingleTrial(t *testing.T) {
	b, m := newTestBreaker(1, time.Minute)
	ctx := context.Background()
	_ = b.Execute(ctx, fail)
	m.Add(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var invoked atomic.Int32
	for i := 0; i < 5; i++ {
		err := b.Execute(ctx, func(context.Context) error { invoked.Add(1); return nil })
		assert.ErrorIs(t, err, ErrOpen)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(0), invoked.Load())
	assert.Equal(t, Closed, b.State())
}

// TestCancelledCallIsNeutral tests that caller cancellation is not a failure.
func TestCancelledCallIsNeutral(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
}

// TestRegistry_IndependentBreakers tests that dependencies do not share state.
func TestRegistry_IndependentBreakers(t *testing.T) {
	m := clock.NewMock()
	r := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: time.Minute},
		WithClock(m),
		WithOverride("oracle", Config{FailureThreshold: 1}),
	)
	ctx := context.Background()

	_ = r.Get("oracle").Execute(ctx, fail)
	assert.Equal(t, Open, r.GetState("oracle"))
	assert.Equal(t, Closed, r.GetState("feed"))

	_ = r.Get("feed").Execute(ctx, fail)
	assert.Equal(t, Closed, r.GetState("feed"))
	assert.Same(t, r.Get("feed"), r.Get("feed"))

	snaps := r.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, "feed", snaps[0].Dependency)
	assert.Equal(t, "oracle", snaps[1].Dependency)
	assert.Equal(t, Open, snaps[1].State)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "open", Open.String())
	b, err := Open.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "open", string(b))
}
