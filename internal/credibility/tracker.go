// Package credibility maintains a running trust score per approved identity.
//
// A record is seeded from the identity's candidate score the first time it is
// updated, or from the neutral score when the identity was approved without
// one. Every later update folds the observations authored since the last
// one into the score with an exponential moving average, so the score follows
// the quality of recent output and can fall as well as rise.
package credibility

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultAlpha is the smoothing factor used when none is configured.
	DefaultAlpha = 0.1

	maxEngagementPoints = 60.0
	topicalPoints       = 40.0
)

// Result summarizes one update pass.
type Result struct {
	Identities   int
	Updated      int
	Failed       int
	Observations int
}

// Tracker updates credibility records.
type Tracker struct {
	store  store.Store
	alpha  float64
	logger *zap.Logger

	mu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a tracker. An alpha outside (0,1] falls back to DefaultAlpha.
func New(st store.Store, alpha float64, opts ...Option) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	t := &Tracker{store: st, alpha: alpha}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// Run is the scheduler entry point.
func (t *Tracker) Run(ctx context.Context) error {
	_, err := t.UpdateAll(ctx)
	return err
}

// UpdateAll updates every approved identity. One identity's failure is
// logged and counted; only a failure to list identities is returned.
func (t *Tracker) UpdateAll(ctx context.Context) (Result, error) {
	approved, err := t.store.ListCandidates(ctx, store.CandidateFilter{Statuses: []store.Status{store.StatusApproved}})
	if err != nil {
		return Result{}, fmt.Errorf("list approved identities: %w", err)
	}

	res := Result{Identities: len(approved)}
	for _, c := range approved {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := t.update(ctx, c)
		if err != nil {
			res.Failed++
			t.logger.Warn("credibility update failed",
				append(logging.ContextFields(ctx), zap.String("identity", c.Identity), zap.Error(err))...)
			continue
		}
		res.Updated++
		res.Observations += n
	}

	t.logger.Info("credibility updated",
		append(logging.ContextFields(ctx),
			zap.Int("identities", res.Identities),
			zap.Int("updated", res.Updated),
			zap.Int("failed", res.Failed),
			zap.Int("observations", res.Observations),
		)...)
	return res, nil
}

// Update folds new observations of one candidate into its record and
// returns the stored result.
func (t *Tracker) Update(ctx context.Context, c store.Candidate) (store.CredibilityRecord, error) {
	if _, err := t.update(ctx, c); err != nil {
		return store.CredibilityRecord{}, err
	}
	return t.store.GetCredibility(ctx, c.Identity)
}

func (t *Tracker) update(ctx context.Context, c store.Candidate) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.store.GetCredibility(ctx, c.Identity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = store.CredibilityRecord{Identity: c.Identity, Score: seed(c)}
	case err != nil:
		return 0, fmt.Errorf("read record: %w", err)
	}
	rec.Category = c.Category

	obs, err := t.store.QueryObservations(ctx, store.ObservationFilter{
		Authors: []string{c.Identity},
		Since:   rec.LastUpdated,
	})
	if err != nil {
		return 0, fmt.Errorf("query observations: %w", err)
	}

	// LastUpdated is the newest observation already folded in. A zero value
	// means none has been, and the whole history is consumed.
	watermark := rec.LastUpdated
	consumed := 0
	for _, o := range obs {
		if !watermark.IsZero() && !o.ObservedAt.After(watermark) {
			continue
		}
		rec.Score = clamp(rec.Score + t.alpha*(Sample(o)-rec.Score))
		rec.Samples++
		rec.LastUpdated = o.ObservedAt
		consumed++
	}

	if err := t.store.UpsertCredibility(ctx, rec); err != nil {
		return 0, fmt.Errorf("write record: %w", err)
	}
	return consumed, nil
}

// Sample is the quality of one observation on the 0-100 scale: log-scaled
// engagement (1000 reactions earn the full range) plus fixed points when the
// observation is about at least one topic.
func Sample(o store.Observation) float64 {
	s := 0.0
	if total := o.Engagement.Total(); total > 0 {
		s += math.Min(maxEngagementPoints, math.Log10(1+float64(total))*20)
	}
	if len(o.Topics) > 0 {
		s += topicalPoints
	}
	return s
}

// seed is the starting score of a new record. Operator-approved and seeded
// identities carry no discovery score and start neutral.
func seed(c store.Candidate) float64 {
	if c.Score <= 0 {
		return store.NeutralCredibility
	}
	return clamp(c.Score)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
