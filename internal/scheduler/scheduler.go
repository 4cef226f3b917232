// Package scheduler runs background jobs as independent periodic loops.
//
// Each job gets its own goroutine: run, sleep for the job's interval, repeat.
// A failed run sleeps for the shorter error backoff (with jitter) instead and
// then resumes the normal cadence. Runs that panic are recovered and counted
// as failures, so a loop never stops on its own. Stop cancels the shared
// context; an in-flight run finishes or times out before its loop exits.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start when the scheduler is running.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// Job is one periodic task.
type Job struct {
	Name         string
	Interval     time.Duration
	ErrorBackoff time.Duration
	// Jitter is the maximum random offset applied to the error backoff.
	Jitter time.Duration
	Run    func(ctx context.Context) error
}

// LoopStatus reports the health of one loop.
type LoopStatus struct {
	Name         string        `json:"name"`
	Running      bool          `json:"running"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	LastErrorAt  time.Time     `json:"last_error_at,omitempty"`
}

type loop struct {
	job Job

	mu     sync.Mutex
	status LoopStatus
}

// Scheduler owns a set of loops.
type Scheduler struct {
	clock  clock.Clock
	logger *zap.Logger
	jitter func() float64

	mu      sync.Mutex
	loops   []*loop
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for inter-run sleeps.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithJitterSource replaces the jitter generator. f must return values in [-1, 1].
func WithJitterSource(f func() float64) Option {
	return func(s *Scheduler) { s.jitter = f }
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jitter: func() float64 { return rand.Float64()*2 - 1 },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrReal(s.clock)
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Add registers a job. Jobs cannot be added while the scheduler is running.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.Name)
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.ErrorBackoff <= 0 || job.ErrorBackoff > job.Interval {
		job.ErrorBackoff = job.Interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %s: %w", job.Name, ErrAlreadyRunning)
	}
	for _, l := range s.loops {
		if l.job.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}
	s.loops = append(s.loops, &loop{job: job, status: LoopStatus{Name: job.Name}})
	return nil
}

// Start launches one goroutine per job. The loops stop when ctx is cancelled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, l := range s.loops {
		s.wg.Add(1)
		go s.runLoop(ctx, l)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.loops)))
	return nil
}

// Stop cancels every loop and waits for them to exit. Calling Stop on a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	cancel()
	s.wg.Wait()
}

// Status returns a snapshot of every loop, sorted by name.
func (s *Scheduler) Status() []LoopStatus {
	s.mu.Lock()
	loops := append([]*loop(nil), s.loops...)
	s.mu.Unlock()

	out := make([]LoopStatus, 0, len(loops))
	for _, l := range loops {
		l.mu.Lock()
		out = append(out, l.status)
		l.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow executes the named job once on the caller's goroutine, recording the
// result like a scheduled run.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *loop
	for _, l := range s.loops {
		if l.job.Name == name {
			target = l
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return s.runOnce(ctx, target)
}

func (s *Scheduler) runLoop(ctx context.Context, l *loop) {
	defer s.wg.Done()

	l.mu.Lock()
	l.status.Running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.status.Running = false
		l.mu.Unlock()
	}()

	log := s.logger.With(zap.String("job.name", l.job.Name))
	log.Debug("loop started", zap.Duration("interval", l.job.Interval))
	defer log.Debug("loop stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		delay := l.job.Interval
		if err := s.runOnce(ctx, l); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay = s.backoff(l.job)
			log.Warn("job run failed, backing off", zap.Duration("delay", delay), zap.Error(err))
		}

		if err := clock.Sleep(ctx, s.clock, delay); err != nil {
			return
		}
	}
}

// runOnce runs the job with panic recovery and records the outcome.
func (s *Scheduler) runOnce(ctx context.Context, l *loop) (err error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(logging.WithJob(ctx, l.job.Name), runID)
	start := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job run panicked, continuing loop",
				zap.String("job.name", l.job.Name),
				zap.String("run.id", runID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("job %s panicked: %v", l.job.Name, r)
		}

		elapsed := s.clock.Now().Sub(start)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		RunsTotal.WithLabelValues(l.job.Name, outcome).Inc()
		RunDuration.WithLabelValues(l.job.Name).Observe(elapsed.Seconds())

		l.mu.Lock()
		l.status.Runs++
		l.status.LastRun = start
		l.status.LastDuration = elapsed
		if err != nil {
			l.status.Failures++
			l.status.LastError = err.Error()
			l.status.LastErrorAt = start
		}
		l.mu.Unlock()
	}()

	return l.job.Run(ctx)
}

func (s *Scheduler) backoff(job Job) time.Duration {
	d := job.ErrorBackoff
	if job.Jitter > 0 {
		d += time.Duration(s.jitter() * float64(job.Jitter))
	}
	if d <= 0 {
		d = job.ErrorBackoff
	}
	return d
}
