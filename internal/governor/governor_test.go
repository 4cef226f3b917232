package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newTestGovernor(t *testing.T, windows ...Window) (*Governor, *clock.Mock, *logging.TestLogger) {
	t.Helper()
	m := clock.NewMock()
	tl := logging.NewTestLogger()
	g, err := New(windows, WithClock(m), WithLogger(tl.Underlying()))
	require.NoError(t, err)
	return g, m, tl
}

// TestWaitForSlot_HourlyLimit tests that the 11th call on a 10/hour quota
// blocks until the oldest call ages out.
func TestWaitForSlot_HourlyLimit(t *testing.T) {
	g, m, _ := newTestGovernor(t, Window{Resource: "feed.fetch", Window: time.Hour, Limit: 10})
	ctx := context.Background()
	start := m.Now()

	for i := 0; i < 10; i++ {
		require.NoError(t, g.WaitForSlot(ctx, "feed.fetch"))
	}
	assert.False(t, g.CanProceed("feed.fetch"))

	m.Add(30 * time.Minute)
	assert.False(t, g.CanProceed("feed.fetch"))

	done := make(chan error, 1)
	go func() { done <- g.WaitForSlot(ctx, "feed.fetch") }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.GreaterOrEqual(t, m.Now().Sub(start), time.Hour)
			st := g.Status()
			require.Len(t, st, 1)
			assert.LessOrEqual(t, st[0].Windows[0].Used, 10)
			return
		case <-deadline:
			t.Fatal("WaitForSlot never admitted the call")
		default:
			m.Add(time.Minute)
		}
	}
}

// TestCanProceed_AllWindowsMustHaveCapacity tests multi-window admission.
func TestCanProceed_AllWindowsMustHaveCapacity(t *testing.T) {
	g, m, _ := newTestGovernor(t,
		Window{Resource: "publish", Window: time.Hour, Limit: 3},
		Window{Resource: "publish", Window: time.Minute, Limit: 2},
	)

	g.RecordCall("publish")
	g.RecordCall("publish")
	assert.False(t, g.CanProceed("publish"), "minute window full")

	m.Add(time.Minute)
	assert.True(t, g.CanProceed("publish"))
	g.RecordCall("publish")

	m.Add(time.Minute)
	assert.False(t, g.CanProceed("publish"), "hour window full")

	m.Add(58 * time.Minute)
	assert.True(t, g.CanProceed("publish"), "first two calls aged out of the hour")
}

// TestWindowBoundary tests that a call exactly one window old has expired.
func TestWindowBoundary(t *testing.T) {
	g, m, _ := newTestGovernor(t, Window{Resource: "r", Window: time.Minute, Limit: 1})

	g.RecordCall("r")
	m.Add(time.Minute - time.Millisecond)
	assert.False(t, g.CanProceed("r"))
	m.Add(time.Millisecond)
	assert.True(t, g.CanProceed("r"))
}

// TestWarnOncePerMinute tests the 80% warning is not repeated within a minute.
func TestWarnOncePerMinute(t *testing.T) {
	g, m, tl := newTestGovernor(t, Window{Resource: "oracle.classify", Window: time.Hour, Limit: 10})

	for i := 0; i < 7; i++ {
		g.RecordCall("oracle.classify")
	}
	tl.AssertNotLogged(t, zapcore.WarnLevel, "quota utilization high")

	g.RecordCall("oracle.classify") // 8/10
	g.RecordCall("oracle.classify") // 9/10
	assert.Equal(t, 1, tl.CountLogged(zapcore.WarnLevel, "quota utilization high"))

	m.Add(30 * time.Second)
	g.RecordCall("oracle.classify")
	assert.Equal(t, 1, tl.CountLogged(zapcore.WarnLevel, "quota utilization high"))

	m.Add(30 * time.Second)
	g.RecordCall("oracle.classify")
	assert.Equal(t, 2, tl.CountLogged(zapcore.WarnLevel, "quota utilization high"))
	tl.AssertField(t, "quota utilization high", "resource", "oracle.classify")
}

// TestWaitForSlot_ContextCancelled tests that a blocked wait honors ctx.
func TestWaitForSlot_ContextCancelled(t *testing.T) {
	g, _, _ := newTestGovernor(t, Window{Resource: "r", Window: time.Hour, Limit: 1})
	g.RecordCall("r")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.WaitForSlot(ctx, "r")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestConcurrentCallersNeverExceedLimit tests the limit under contention.
func TestConcurrentCallersNeverExceedLimit(t *testing.T) {
	g, err := New([]Window{{Resource: "feed.fetch", Window: time.Hour, Limit: 50}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.WaitForSlot(ctx, "feed.fetch") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), admitted.Load())
	st := g.Status()
	require.Len(t, st, 1)
	assert.Equal(t, 50, st[0].Windows[0].Used)
	assert.Equal(t, 1.0, st[0].Windows[0].Utilization)
}

func TestUnknownResourceIsUnlimited(t *testing.T) {
	g, _, _ := newTestGovernor(t, Window{Resource: "known", Window: time.Minute, Limit: 1})

	assert.True(t, g.CanProceed("other"))
	assert.NoError(t, g.WaitForSlot(context.Background(), "other"))
	g.RecordCall("other")

	st := g.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "known", st[0].Resource)
}

func TestNew_InvalidWindow(t *testing.T) {
	_, err := New([]Window{{Resource: "r", Window: 0, Limit: 1}})
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = New([]Window{{Resource: "", Window: time.Minute, Limit: 1}})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

// TestStatus_WindowsSorted tests status ordering and stamp expiry.
func TestStatus_WindowsSorted(t *testing.T) {
	g, m, _ := newTestGovernor(t,
		Window{Resource: "b", Window: time.Hour, Limit: 4},
		Window{Resource: "a", Window: time.Hour, Limit: 2},
		Window{Resource: "a", Window: time.Minute, Limit: 1},
	)
	g.RecordCall("a")

	st := g.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "a", st[0].Resource)
	assert.Equal(t, time.Minute, st[0].Windows[0].Window)
	assert.Equal(t, 1, st[0].Windows[0].Used)
	assert.Equal(t, 0.5, st[0].Windows[1].Utilization)

	m.Add(2 * time.Hour)
	st = g.Status()
	assert.Equal(t, 0, st[0].Windows[1].Used)
}
