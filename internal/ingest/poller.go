// Package ingest turns the recent posts of approved identities into
// Observation records.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/fyrsmithlabs/signald/internal/feed"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/oracle"
	"github.com/fyrsmithlabs/signald/internal/retry"
	"github.com/fyrsmithlabs/signald/internal/store"
	"go.uber.org/zap"
)

const (
	// DependencyFeed names the breaker and retry policy of feed calls.
	DependencyFeed = "feed"
	// ResourceFetch is the quota consumed by each timeline fetch.
	ResourceFetch = "feed.fetch"
)

// Result summarizes one poll.
type Result struct {
	Identities   int
	Succeeded    int
	Failed       int
	Observations int
	Expired      int
}

// Poller fetches timelines and stores observations.
type Poller struct {
	store       store.Store
	source      feed.Source
	exec        *retry.Executor
	concurrency int
	logger      *zap.Logger
	clock       clock.Clock
	retention   time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithRetention deletes observations posted more than d ago after each
// poll. Zero keeps everything.
func WithRetention(d time.Duration) Option {
	return func(p *Poller) { p.retention = d }
}

// WithClock sets the clock that dates retention cutoffs.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// NewPoller creates a poller. concurrency bounds simultaneous fetches.
func NewPoller(st store.Store, src feed.Source, exec *retry.Executor, concurrency int, logger *zap.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	p := &Poller{store: st, source: src, exec: exec, concurrency: concurrency, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	p.clock = clock.OrReal(p.clock)
	return p
}

// Run is the scheduler entry point.
func (p *Poller) Run(ctx context.Context) error {
	_, err := p.Poll(ctx)
	return err
}

// Poll fetches every approved identity once. Per-identity failures are
// logged and counted; only a failure to list identities is returned.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	approved, err := p.store.ListCandidates(ctx, store.CandidateFilter{Statuses: []store.Status{store.StatusApproved}})
	if err != nil {
		return Result{}, fmt.Errorf("list approved identities: %w", err)
	}

	var stored atomic.Int64
	batch := retry.ExecuteBatch(ctx, approved, p.concurrency, func(ctx context.Context, c store.Candidate) error {
		n, err := p.pollOne(ctx, c.Identity)
		stored.Add(int64(n))
		return err
	})

	res := Result{
		Identities:   len(approved),
		Succeeded:    batch.Succeeded,
		Failed:       batch.Failed,
		Observations: int(stored.Load()),
	}
	for _, f := range batch.Failures {
		p.logger.Warn("ingest failed for identity",
			append(logging.ContextFields(ctx),
				zap.String("identity", approved[f.Index].Identity),
				zap.Error(f.Err),
			)...)
	}
	res.Expired = p.expire(ctx)
	p.logger.Info("ingest completed",
		append(logging.ContextFields(ctx),
			zap.Int("identities", res.Identities),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Int("observations", res.Observations),
			zap.Int("expired", res.Expired),
		)...)
	return res, nil
}

// expire applies the retention window. A failed delete is retried on the
// next poll.
func (p *Poller) expire(ctx context.Context) int {
	if p.retention <= 0 {
		return 0
	}
	cutoff := p.clock.Now().Add(-p.retention)
	n, err := p.store.DeleteObservationsBefore(ctx, cutoff)
	if err != nil {
		p.logger.Warn("expiring observations failed",
			append(logging.ContextFields(ctx), zap.Time("cutoff", cutoff), zap.Error(err))...)
		return 0
	}
	return n
}

func (p *Poller) pollOne(ctx context.Context, identity string) (int, error) {
	posts, err := retry.Execute(ctx, p.exec, retry.Call{Dependency: DependencyFeed, Resource: ResourceFetch},
		func(ctx context.Context) ([]feed.Post, error) {
			return p.source.FetchRecent(ctx, identity)
		})
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	obs := make([]store.Observation, 0, len(posts))
	for _, post := range posts {
		obs = append(obs, ToObservation(identity, post))
	}
	if err := p.store.UpsertObservations(ctx, obs); err != nil {
		return 0, fmt.Errorf("store observations for %s: %w", identity, err)
	}
	return len(obs), nil
}

// ToObservation derives an Observation from a post.
func ToObservation(author string, post feed.Post) store.Observation {
	author = store.NormalizeIdentity(author)
	return store.Observation{
		ID:         ObservationID(author, post.PublishedAt, post.Text),
		Author:     author,
		Text:       post.Text,
		Topics:     Topics(post.Text),
		References: References(post.Text, author),
		Sentiment:  oracle.Sentiment(post.Text),
		Engagement: post.Engagement,
		ObservedAt: post.PublishedAt,
		Source:     post.URL,
	}
}
