package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleep_Elapses(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), New(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, New(), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_NonPositive(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), New(), 0))
}

func TestSleep_MockAdvance(t *testing.T) {
	m := NewMock()
	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), m, time.Minute) }()

	// Keep advancing until the sleeper has registered its timer and fired.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			assert.NoError(t, err)
			return
		case <-deadline:
			t.Fatal("sleep did not return after mock advance")
		default:
			m.Add(time.Minute)
		}
	}
}

func TestOrReal(t *testing.T) {
	assert.NotNil(t, OrReal(nil))
	m := NewMock()
	assert.Equal(t, Clock(m), OrReal(m))
}
