// Package retry executes outbound calls with quota admission, circuit
// breaking, per-attempt timeouts and exponential backoff.
//
// Every attempt of a call first checks the dependency's breaker, then waits
// for a slot on the call's quota resource, then runs the operation under the
// breaker with a hard timeout. Attempts of one call are strictly sequential.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fyrsmithlabs/signald/internal/breaker"
	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// errAbandoned is what the breaker sees when the caller's context ended
// mid-attempt. It wraps context.Canceled so the breaker does not count it.
var errAbandoned = fmt.Errorf("caller abandoned attempt: %w", context.Canceled)

// Limiter admits calls against a named quota resource.
type Limiter interface {
	WaitForSlot(ctx context.Context, resource string) error
}

// Call identifies one logical outbound call.
type Call struct {
	// Dependency selects the circuit breaker and retry policy.
	Dependency string
	// Resource is the quota key consumed by every attempt. Empty means unmetered.
	Resource string
	// Policy overrides the dependency policy when non-nil.
	Policy *Policy
}

// Executor runs calls for every dependency. It is safe for concurrent use.
type Executor struct {
	limiter  Limiter
	breakers *breaker.Registry
	clock    clock.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	jitter   func() float64

	defaultPolicy Policy
	policies      map[string]Policy
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock used for backoff sleeps.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer sets the tracer used for the retry.execute span.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithDefaultPolicy sets the policy for dependencies without an override.
func WithDefaultPolicy(p Policy) Option {
	return func(e *Executor) { e.defaultPolicy = p }
}

// WithPolicy sets the policy for one dependency.
func WithPolicy(dependency string, p Policy) Option {
	return func(e *Executor) { e.policies[dependency] = p }
}

// WithJitterSource replaces the jitter generator. f must return values in [-1, 1].
func WithJitterSource(f func() float64) Option {
	return func(e *Executor) { e.jitter = f }
}

// NewExecutor creates an executor. limiter may be nil for unmetered use; a nil
// registry gets a fresh one with default breaker settings.
func NewExecutor(limiter Limiter, breakers *breaker.Registry, opts ...Option) *Executor {
	e := &Executor{
		limiter:       limiter,
		breakers:      breakers,
		defaultPolicy: DefaultPolicy(),
		policies:      make(map[string]Policy),
		jitter:        func() float64 { return rand.Float64()*2 - 1 },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = clock.OrReal(e.clock)
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/fyrsmithlabs/signald/internal/retry")
	}
	if e.breakers == nil {
		e.breakers = breaker.NewRegistry(breaker.DefaultConfig(), breaker.WithClock(e.clock), breaker.WithLogger(e.logger))
	}
	e.defaultPolicy.ApplyDefaults()
	for dep, p := range e.policies {
		p.ApplyDefaults()
		e.policies[dep] = p
	}
	return e
}

// Breakers returns the registry the executor reports circuit state to.
func (e *Executor) Breakers() *breaker.Registry {
	return e.breakers
}

// PolicyFor returns the effective policy for a call.
func (e *Executor) PolicyFor(call Call) Policy {
	if call.Policy != nil {
		p := *call.Policy
		p.ApplyDefaults()
		return p
	}
	if p, ok := e.policies[call.Dependency]; ok {
		return p
	}
	return e.defaultPolicy
}

// Execute runs op as one logical call.
//
// It returns op's value on the first success. breaker.ErrOpen is returned as
// soon as the dependency's circuit refuses an attempt; it does not consume
// further attempts. Errors marked Permanent are returned without retry.
// Context cancellation returns ctx.Err(). Otherwise, once every attempt has
// failed, the error is a *TerminalError wrapping ErrExhausted.
func Execute[T any](ctx context.Context, e *Executor, call Call, op func(context.Context) (T, error)) (T, error) {
	var zero T
	policy := e.PolicyFor(call)
	br := e.breakers.Get(call.Dependency)
	if call.Resource != "" {
		ctx = logging.WithResource(ctx, call.Resource)
	}

	ctx, span := e.tracer.Start(ctx, "retry.execute", trace.WithAttributes(
		attribute.String("dependency", call.Dependency),
		attribute.String("resource", call.Resource),
	))
	defer span.End()

	finish := func(result string, attempts int, err error) {
		CallsTotal.WithLabelValues(call.Dependency, result).Inc()
		span.SetAttributes(attribute.Int("attempts", attempts), attribute.String("outcome", result))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}

	var last error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if br.State() == breaker.Open {
			finish("circuit_open", attempt-1, breaker.ErrOpen)
			return zero, fmt.Errorf("%s: %w", call.Dependency, breaker.ErrOpen)
		}

		if call.Resource != "" && e.limiter != nil {
			if err := e.limiter.WaitForSlot(ctx, call.Resource); err != nil {
				finish("cancelled", attempt-1, err)
				return zero, err
			}
		}

		var v T
		err := br.Execute(ctx, func(ctx context.Context) error {
			var opErr error
			v, opErr = runAttempt(ctx, policy.Timeout, op)
			last = opErr
			switch {
			case opErr == nil:
				return nil
			case ctx.Err() != nil:
				return errAbandoned
			case IsPermanent(opErr):
				// The dependency answered; the request itself was bad.
				return nil
			default:
				return opErr
			}
		})

		switch {
		case errors.Is(err, breaker.ErrOpen):
			finish("circuit_open", attempt-1, err)
			return zero, fmt.Errorf("%s: %w", call.Dependency, err)
		case last == nil && err == nil:
			AttemptsTotal.WithLabelValues(call.Dependency, "success").Inc()
			if attempt > 1 {
				e.logger.Info("call succeeded after retry",
					append(logging.ContextFields(ctx),
						zap.String("dependency", call.Dependency),
						zap.Int("attempt", attempt),
					)...)
			}
			finish("success", attempt, nil)
			return v, nil
		case ctx.Err() != nil:
			finish("cancelled", attempt, ctx.Err())
			return zero, ctx.Err()
		case IsPermanent(last):
			AttemptsTotal.WithLabelValues(call.Dependency, "permanent").Inc()
			finish("permanent", attempt, last)
			return zero, last
		}

		outcome := "failure"
		if errors.Is(last, ErrTimeout) {
			outcome = "timeout"
		}
		AttemptsTotal.WithLabelValues(call.Dependency, outcome).Inc()

		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt, e.jitter())
		e.logger.Warn("attempt failed, backing off",
			append(logging.ContextFields(ctx),
				zap.String("dependency", call.Dependency),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(last),
			)...)
		if err := clock.Sleep(ctx, e.clock, delay); err != nil {
			finish("cancelled", attempt, err)
			return zero, err
		}
	}

	terr := &TerminalError{Dependency: call.Dependency, Attempts: policy.MaxAttempts, Last: last}
	e.logger.Error("call failed after all attempts",
		append(logging.ContextFields(ctx),
			zap.String("dependency", call.Dependency),
			zap.Int("attempts", policy.MaxAttempts),
			zap.Error(last),
		)...)
	finish("exhausted", policy.MaxAttempts, terr)
	return zero, terr
}

// Do is Execute for operations that only return an error.
func Do(ctx context.Context, e *Executor, call Call, op func(context.Context) error) error {
	_, err := Execute(ctx, e, call, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// runAttempt races op against timeout. The operation keeps running in its
// goroutine after a timeout but its context is cancelled and its result is
// discarded.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	actx := ctx
	cancel := func() {}
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op(actx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && errors.Is(r.err, context.DeadlineExceeded) && actx.Err() != nil {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return r.v, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
