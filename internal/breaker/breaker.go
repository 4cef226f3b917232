// Package breaker implements per-dependency circuit breakers.
//
// A breaker opens after FailureThreshold consecutive failures, rejects calls
// with ErrOpen until ResetTimeout has passed since the last failure, then
// lets exactly one trial call through. The trial's outcome closes or reopens
// the circuit.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"go.uber.org/zap"
)

// ErrOpen is returned instead of calling the operation while the circuit is open.
var ErrOpen = errors.New("circuit open")

// State is the breaker state.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Closed, HalfOpen, Open} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown breaker state %q", b)
}

// Config tunes one breaker.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultConfig opens after 5 failures and probes again after a minute.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: time.Minute}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	return c
}

// Snapshot is a read-only view of a breaker.
type Snapshot struct {
	Dependency  string    `json:"dependency"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	RetryAt     time.Time `json:"retry_at,omitempty"`
}

// Breaker guards calls to a single dependency.
type Breaker struct {
	name   string
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a closed breaker. A nil clock or logger falls back to real time
// and a nop logger.
func New(name string, cfg Config, c clock.Clock, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		clock:  clock.OrReal(c),
		logger: logger,
	}
	StateGauge.WithLabelValues(name).Set(float64(Closed))
	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the circuit is open. Any non-nil error from fn other
// than context.Canceled counts as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.done(err)
	return err
}

// State returns the effective state. An open breaker whose reset timeout has
// elapsed reports half-open even before the next call arrives.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.clock.Now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Snapshot returns the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Dependency:  b.name,
		State:       state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
	if state == Open {
		s.RetryAt = b.lastFailure.Add(b.cfg.ResetTimeout)
	}
	return s
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.clock.Now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			RejectedTotal.WithLabelValues(b.name).Inc()
			return ErrOpen
		}
		b.transitionLocked(HalfOpen)
		b.probing = true
		return nil
	default: // HalfOpen
		if b.probing {
			RejectedTotal.WithLabelValues(b.name).Inc()
			return ErrOpen
		}
		b.probing = true
		return nil
	}
}

func (b *Breaker) done(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && !errors.Is(err, context.Canceled)
	if b.state == HalfOpen {
		b.probing = false
	}

	if err != nil && !failed {
		// Cancelled by the caller: neither success nor failure. A cancelled
		// trial leaves the breaker half-open for the next caller to probe.
		return
	}
	if !failed {
		b.failures = 0
		if b.state != Closed {
			b.transitionLocked(Closed)
		}
		return
	}

	b.failures++
	b.lastFailure = b.clock.Now()
	switch b.state {
	case HalfOpen:
		b.transitionLocked(Open)
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(Open)
		}
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	if to == Closed {
		b.failures = 0
	}
	StateGauge.WithLabelValues(b.name).Set(float64(to))
	TransitionsTotal.WithLabelValues(b.name, to.String()).Inc()

	fields := []zap.Field{
		zap.String("dependency", b.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	}
	if to == Open {
		b.logger.Warn("circuit opened", append(fields, zap.Duration("reset_timeout", b.cfg.ResetTimeout))...)
		return
	}
	b.logger.Info("circuit state changed", fields...)
}
