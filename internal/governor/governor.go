// Package governor enforces sliding-window call quotas per external resource.
//
// A resource may carry several windows at once (per minute and per hour, for
// example); a call is admitted only when every window has room. Timestamps
// of admitted calls are kept per resource and dropped lazily once they fall
// out of the longest window, so no sweeper goroutine is needed.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"go.uber.org/zap"
)

const (
	// WarnRatio is the utilization at which a resource logs a warning.
	WarnRatio = 0.8

	warnEvery = time.Minute
)

// ErrInvalidWindow is returned by New for a window without a resource,
// a positive duration or a positive limit.
var ErrInvalidWindow = errors.New("invalid quota window")

// Window caps calls to Resource at Limit within any span of Window.
type Window struct {
	Resource string
	Window   time.Duration
	Limit    int
}

// WindowStatus is a point-in-time view of one window.
type WindowStatus struct {
	Window      time.Duration `json:"window"`
	Limit       int           `json:"limit"`
	Used        int           `json:"used"`
	Utilization float64       `json:"utilization"`
}

// ResourceStatus groups the windows of one resource.
type ResourceStatus struct {
	Resource string         `json:"resource"`
	Windows  []WindowStatus `json:"windows"`
}

// Governor tracks quota usage for any number of resources.
// A resource with no configured window is never throttled.
type Governor struct {
	mu        sync.RWMutex
	resources map[string]*resource

	clock  clock.Clock
	logger *zap.Logger
}

type resource struct {
	mu       sync.Mutex
	name     string
	windows  []Window // ascending by Window
	stamps   []time.Time
	lastWarn time.Time
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithLogger sets the logger used for utilization warnings.
func WithLogger(l *zap.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// New builds a governor from a set of windows.
func New(windows []Window, opts ...Option) (*Governor, error) {
	g := &Governor{resources: make(map[string]*resource)}
	for _, opt := range opts {
		opt(g)
	}
	g.clock = clock.OrReal(g.clock)
	if g.logger == nil {
		g.logger = zap.NewNop()
	}

	for _, w := range windows {
		if w.Resource == "" || w.Window <= 0 || w.Limit <= 0 {
			return nil, fmt.Errorf("%w: %+v", ErrInvalidWindow, w)
		}
		r, ok := g.resources[w.Resource]
		if !ok {
			r = &resource{name: w.Resource}
			g.resources[w.Resource] = r
		}
		r.windows = append(r.windows, w)
	}
	for _, r := range g.resources {
		sort.Slice(r.windows, func(i, j int) bool { return r.windows[i].Window < r.windows[j].Window })
	}
	return g, nil
}

func (g *Governor) lookup(key string) *resource {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resources[key]
}

// CanProceed reports whether a call to key would be admitted now.
// It does not reserve anything.
func (g *Governor) CanProceed(key string) bool {
	r := g.lookup(key)
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	wait, _ := r.waitLocked(g.clock.Now())
	return wait == 0
}

// WaitForSlot blocks until every window of key has capacity and then records
// the call. The wait is bounded by the longest window; it returns early only
// when ctx ends.
func (g *Governor) WaitForSlot(ctx context.Context, key string) error {
	r := g.lookup(key)
	if r == nil {
		return ctx.Err()
	}

	start := g.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		now := g.clock.Now()
		wait, blocking := r.waitLocked(now)
		if wait == 0 {
			g.recordLocked(ctx, r, now)
			r.mu.Unlock()
			WaitSeconds.WithLabelValues(key).Observe(now.Sub(start).Seconds())
			return nil
		}
		r.mu.Unlock()

		g.logger.Debug("waiting for quota slot",
			append(logging.ContextFields(ctx),
				zap.String("resource", key),
				zap.Duration("window", blocking),
				zap.Duration("wait", wait),
			)...)
		if err := clock.Sleep(ctx, g.clock, wait); err != nil {
			return err
		}
	}
}

// RecordCall records a call to key made by a caller that did its own
// waiting. Unknown resources are ignored.
func (g *Governor) RecordCall(key string) {
	r := g.lookup(key)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g.recordLocked(context.Background(), r, g.clock.Now())
}

// Status returns the utilization of every configured resource, sorted by name.
func (g *Governor) Status() []ResourceStatus {
	g.mu.RLock()
	names := make([]string, 0, len(g.resources))
	for name := range g.resources {
		names = append(names, name)
	}
	g.mu.RUnlock()
	sort.Strings(names)

	now := g.clock.Now()
	out := make([]ResourceStatus, 0, len(names))
	for _, name := range names {
		r := g.lookup(name)
		r.mu.Lock()
		r.pruneLocked(now)
		st := ResourceStatus{Resource: name, Windows: make([]WindowStatus, 0, len(r.windows))}
		for _, w := range r.windows {
			used := r.countLocked(now, w.Window)
			ws := WindowStatus{
				Window:      w.Window,
				Limit:       w.Limit,
				Used:        used,
				Utilization: float64(used) / float64(w.Limit),
			}
			Utilization.WithLabelValues(name, w.Window.String()).Set(ws.Utilization)
			st.Windows = append(st.Windows, ws)
		}
		r.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (g *Governor) recordLocked(ctx context.Context, r *resource, now time.Time) {
	r.pruneLocked(now)
	r.stamps = append(r.stamps, now)
	AdmittedTotal.WithLabelValues(r.name).Inc()

	var hot *WindowStatus
	for _, w := range r.windows {
		used := r.countLocked(now, w.Window)
		ratio := float64(used) / float64(w.Limit)
		Utilization.WithLabelValues(r.name, w.Window.String()).Set(ratio)
		if ratio >= WarnRatio && hot == nil {
			hot = &WindowStatus{Window: w.Window, Limit: w.Limit, Used: used, Utilization: ratio}
		}
	}
	if hot != nil && (r.lastWarn.IsZero() || now.Sub(r.lastWarn) >= warnEvery) {
		r.lastWarn = now
		g.logger.Warn("quota utilization high",
			append(logging.ContextFields(ctx),
				zap.String("resource", r.name),
				zap.Duration("window", hot.Window),
				zap.Int("used", hot.Used),
				zap.Int("limit", hot.Limit),
			)...)
	}
}

// waitLocked returns how long until every window has room for one more call,
// and the window that is blocking longest. Zero means admit now.
func (r *resource) waitLocked(now time.Time) (time.Duration, time.Duration) {
	r.pruneLocked(now)
	var wait, blocking time.Duration
	for _, w := range r.windows {
		in := r.inWindowLocked(now, w.Window)
		if len(in) < w.Limit {
			continue
		}
		// The call that must expire is the one leaving exactly Limit-1 behind it.
		oldest := in[len(in)-w.Limit]
		if d := oldest.Add(w.Window).Sub(now); d > wait {
			wait, blocking = d, w.Window
		}
	}
	return wait, blocking
}

// inWindowLocked returns the stamps with now-ts < window.
func (r *resource) inWindowLocked(now time.Time, window time.Duration) []time.Time {
	i := sort.Search(len(r.stamps), func(i int) bool {
		return now.Sub(r.stamps[i]) < window
	})
	return r.stamps[i:]
}

func (r *resource) countLocked(now time.Time, window time.Duration) int {
	return len(r.inWindowLocked(now, window))
}

// pruneLocked drops stamps that fell out of the longest window.
func (r *resource) pruneLocked(now time.Time) {
	if len(r.windows) == 0 {
		r.stamps = r.stamps[:0]
		return
	}
	longest := r.windows[len(r.windows)-1].Window
	i := sort.Search(len(r.stamps), func(i int) bool {
		return now.Sub(r.stamps[i]) < longest
	})
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}
