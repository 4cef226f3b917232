// Package discovery grows the trusted set of identities.
//
// Each cycle gathers the identities that approved identities referenced in
// the recent reference window, scores them from independent signals, keeps
// those at or above the score threshold (capping how many new ones surface
// per cycle), classifies them, and merges them into candidate state. A
// candidate is promoted only after it has been confirmed in enough separate
// cycles. Candidates not seen for the decay window are pruned and, later,
// purged, except that a rejection marker is never purged.
//
// The pipeline is the only writer of candidate state. Cycles and operator
// actions are serialized on one mutex around the write phase; the read and
// network phase of a cycle runs unlocked, and the write phase re-reads each
// candidate so operator decisions made mid-cycle win.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/fyrsmithlabs/signald/internal/config"
	"github.com/fyrsmithlabs/signald/internal/feed"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/oracle"
	"github.com/fyrsmithlabs/signald/internal/retry"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DependencyOracle = "oracle"
	ResourceClassify = "oracle.classify"
	DependencyFeed   = "feed"
	ResourceProfile  = "feed.profile"
	ResourceFetch    = "feed.fetch"

	maxClassifyTexts = 10
	maxReasonNames   = 3
)

// ErrInvalidIdentity is returned by operator actions given a malformed identity.
var ErrInvalidIdentity = errors.New("invalid identity")

var identityPattern = regexp.MustCompile(`^[a-z0-9_.\-]{1,64}$`)

// Config holds the pipeline thresholds.
type Config struct {
	ScoreThreshold         float64
	MaxNewPerCycle         int
	ConfirmationRunsNeeded int
	DecayWindow            time.Duration
	// ApprovedGrace extends the decay window for approved candidates.
	ApprovedGrace time.Duration
	// PurgeAfter is how long a pruned candidate is kept before deletion.
	// Zero disables purging.
	PurgeAfter       time.Duration
	ReferenceWindow  time.Duration
	FallbackCategory store.Category
	RecentRuns       int
}

// ConfigFrom converts the loaded configuration section.
func ConfigFrom(c config.DiscoveryConfig) (Config, error) {
	fallback := store.CategoryGeneral
	if c.FallbackCategory != "" {
		var err error
		if fallback, err = store.ParseCategory(c.FallbackCategory); err != nil {
			return Config{}, fmt.Errorf("discovery.fallback_category: %w", err)
		}
	}
	return Config{
		ScoreThreshold:         c.ScoreThreshold,
		MaxNewPerCycle:         c.MaxNewPerCycle,
		ConfirmationRunsNeeded: c.ConfirmationRunsNeeded,
		DecayWindow:            c.DecayWindow.Duration(),
		ApprovedGrace:          c.ApprovedGrace.Duration(),
		PurgeAfter:             c.PurgeAfter.Duration(),
		ReferenceWindow:        c.ReferenceWindow.Duration(),
		FallbackCategory:       fallback,
		RecentRuns:             c.RecentRuns,
	}, nil
}

// Summary is the operator view of candidate state.
type Summary struct {
	Suggested  int                  `json:"suggested"`
	Approved   int                  `json:"approved"`
	Rejected   int                  `json:"rejected"`
	Pruned     int                  `json:"pruned"`
	RecentRuns []store.DiscoveryRun `json:"recent_runs"`
}

// Pipeline runs discovery cycles and operator actions.
type Pipeline struct {
	cfg    Config
	store  store.Store
	source feed.Source
	oracle oracle.Classifier
	exec   *retry.Executor
	clock  clock.Clock
	logger *zap.Logger

	mu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline.
func New(cfg Config, st store.Store, src feed.Source, cls oracle.Classifier, exec *retry.Executor, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, store: st, source: src, oracle: cls, exec: exec}
	for _, opt := range opts {
		opt(p)
	}
	p.clock = clock.OrReal(p.clock)
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.exec == nil {
		p.exec = retry.NewExecutor(nil, nil, retry.WithClock(p.clock), retry.WithLogger(p.logger))
	}
	if !p.cfg.FallbackCategory.Valid() {
		p.cfg.FallbackCategory = store.CategoryGeneral
	}
	if p.cfg.ConfirmationRunsNeeded < 1 {
		p.cfg.ConfirmationRunsNeeded = 1
	}
	return p
}

// referenced accumulates what approved identities said about one identity.
type referenced struct {
	identity   string
	mentions   int
	referrers  map[string]bool
	engagement int
	texts      []string
	// newest is the time of the most recent referencing post.
	newest time.Time
}

type scored struct {
	ref       *referenced
	breakdown Breakdown
	score     float64
	category  store.Category
}

// Run is the scheduler entry point.
func (p *Pipeline) Run(ctx context.Context) error {
	_, err := p.RunCycle(ctx)
	return err
}

// RunCycle executes one discovery cycle and returns its run log entry.
// Per-identity collaborator failures are counted in the run and never abort
// it; an error is returned only when candidate or observation state cannot
// be read at all.
func (p *Pipeline) RunCycle(ctx context.Context) (store.DiscoveryRun, error) {
	start := p.clock.Now()
	run := store.DiscoveryRun{ID: uuid.NewString(), StartedAt: start}

	candidates, err := p.loadCandidates(ctx)
	if err != nil {
		return p.abort(ctx, run, fmt.Errorf("load candidates: %w", err))
	}

	approved := make([]string, 0)
	for id, c := range candidates {
		if c.Status == store.StatusApproved {
			approved = append(approved, id)
		}
	}
	sort.Strings(approved)

	var obs []store.Observation
	if len(approved) > 0 {
		obs, err = p.store.QueryObservations(ctx, store.ObservationFilter{
			Authors: approved,
			Since:   start.Add(-p.cfg.ReferenceWindow),
		})
		if err != nil {
			return p.abort(ctx, run, fmt.Errorf("load observations: %w", err))
		}
	}

	refs := gatherReferences(obs, candidates)
	run.Referenced = len(refs)

	scoredList := make([]scored, 0, len(refs))
	for _, r := range refs {
		if err := ctx.Err(); err != nil {
			return p.abort(ctx, run, err)
		}
		profile := p.fetchProfile(ctx, r.identity, &run)
		avg := 0.0
		if r.mentions > 0 {
			avg = float64(r.engagement) / float64(r.mentions)
		}
		b := Score(Signals{
			Mentions:      r.mentions,
			Referrers:     len(r.referrers),
			Profile:       profile,
			AvgEngagement: avg,
		}, start)
		scoredList = append(scoredList, scored{ref: r, breakdown: b, score: b.Total()})
	}
	run.Scored = len(scoredList)

	kept := p.selectKept(scoredList, candidates)
	run.Kept = len(kept)

	for i := range kept {
		if err := ctx.Err(); err != nil {
			return p.abort(ctx, run, err)
		}
		kept[i].category = p.classify(ctx, kept[i].ref, &run)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.refreshApproved(ctx, obs, &run)
	p.merge(ctx, kept, now, &run)
	p.promote(ctx, now, &run)
	p.prune(ctx, now, &run)
	p.purge(ctx, now, &run)

	run.FinishedAt = p.clock.Now()
	if err := p.store.AppendRun(ctx, run); err != nil {
		p.failure(ctx, "store", "", "append run log", err, &run)
	}
	p.updateGauges(ctx)

	p.logger.Info("discovery cycle completed",
		append(logging.ContextFields(ctx),
			zap.String("run_id", run.ID),
			zap.Int("referenced", run.Referenced),
			zap.Int("scored", run.Scored),
			zap.Int("kept", run.Kept),
			zap.Int("new", run.New),
			zap.Int("confirmed", run.Confirmed),
			zap.Int("promoted", run.Promoted),
			zap.Int("pruned", run.Pruned),
			zap.Int("purged", run.Purged),
			zap.Int("failures", run.Failures),
		)...)
	return run, nil
}

func (p *Pipeline) abort(ctx context.Context, run store.DiscoveryRun, err error) (store.DiscoveryRun, error) {
	run.FinishedAt = p.clock.Now()
	run.Error = err.Error()
	p.logger.Error("discovery cycle aborted", append(logging.ContextFields(ctx), zap.String("run_id", run.ID), zap.Error(err))...)
	if ctx.Err() == nil {
		_ = p.store.AppendRun(ctx, run)
	}
	return run, err
}

func (p *Pipeline) loadCandidates(ctx context.Context) (map[string]store.Candidate, error) {
	list, err := p.store.ListCandidates(ctx, store.CandidateFilter{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Candidate, len(list))
	for _, c := range list {
		out[c.Identity] = c
	}
	return out, nil
}

// gatherReferences collects references to identities that are neither
// approved nor ever rejected, sorted by identity.
func gatherReferences(obs []store.Observation, candidates map[string]store.Candidate) []*referenced {
	byID := make(map[string]*referenced)
	for _, o := range obs {
		for _, ref := range o.References {
			id := store.NormalizeIdentity(ref)
			if id == "" || id == o.Author {
				continue
			}
			if c, ok := candidates[id]; ok && excluded(c) {
				continue
			}
			r := byID[id]
			if r == nil {
				r = &referenced{identity: id, referrers: make(map[string]bool)}
				byID[id] = r
			}
			r.mentions++
			r.referrers[o.Author] = true
			r.engagement += o.Engagement.Total()
			if o.ObservedAt.After(r.newest) {
				r.newest = o.ObservedAt
			}
			if len(r.texts) < maxClassifyTexts {
				r.texts = append(r.texts, o.Text)
			}
		}
	}

	out := make([]*referenced, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].identity < out[j].identity })
	return out
}

// excluded reports whether an identity must not be rediscovered.
func excluded(c store.Candidate) bool {
	return c.Status == store.StatusApproved || c.Status == store.StatusRejected || c.EverRejected()
}

func (p *Pipeline) fetchProfile(ctx context.Context, identity string, run *store.DiscoveryRun) feed.Profile {
	profile, err := retry.Execute(ctx, p.exec, retry.Call{Dependency: DependencyFeed, Resource: ResourceProfile},
		func(ctx context.Context) (feed.Profile, error) {
			return p.source.FetchProfile(ctx, identity)
		})
	if err != nil {
		p.failure(ctx, "feed", identity, "profile unavailable, scoring without it", err, run)
		return feed.Profile{Identity: identity}
	}
	return profile
}

// selectKept applies the threshold and caps newly surfaced identities,
// preferring the highest scores. Identities already suggested are not capped.
func (p *Pipeline) selectKept(list []scored, candidates map[string]store.Candidate) []scored {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].ref.identity < list[j].ref.identity
	})

	kept := make([]scored, 0)
	surfaced := 0
	for _, s := range list {
		if s.score < p.cfg.ScoreThreshold {
			continue
		}
		c, ok := candidates[s.ref.identity]
		if !ok || c.Status == store.StatusPruned {
			if p.cfg.MaxNewPerCycle > 0 && surfaced >= p.cfg.MaxNewPerCycle {
				continue
			}
			surfaced++
		}
		kept = append(kept, s)
	}
	return kept
}

// classify asks the oracle for a label, falling back to the configured
// category on any failure. The identity's own posts are preferred; the posts
// that referenced it are used when its feed is unavailable.
func (p *Pipeline) classify(ctx context.Context, r *referenced, run *store.DiscoveryRun) store.Category {
	texts := r.texts
	posts, err := retry.Execute(ctx, p.exec, retry.Call{Dependency: DependencyFeed, Resource: ResourceFetch},
		func(ctx context.Context) ([]feed.Post, error) {
			return p.source.FetchRecent(ctx, r.identity)
		})
	if err == nil && len(posts) > 0 {
		texts = make([]string, 0, maxClassifyTexts)
		for i := len(posts) - 1; i >= 0 && len(texts) < maxClassifyTexts; i-- {
			texts = append(texts, posts[i].Text)
		}
	}

	cat, err := retry.Execute(ctx, p.exec, retry.Call{Dependency: DependencyOracle, Resource: ResourceClassify},
		func(ctx context.Context) (store.Category, error) {
			return p.oracle.Classify(ctx, texts)
		})
	if err == nil && !cat.Valid() {
		err = fmt.Errorf("%w: %d", oracle.ErrUnknownLabel, cat)
	}
	if err != nil {
		p.failure(ctx, "oracle", r.identity, "classification failed, using fallback category", err, run)
		return p.cfg.FallbackCategory
	}
	return cat
}

// refreshApproved moves lastSeen of approved identities to their newest post.
func (p *Pipeline) refreshApproved(ctx context.Context, obs []store.Observation, run *store.DiscoveryRun) {
	latest := make(map[string]time.Time)
	for _, o := range obs {
		if o.ObservedAt.After(latest[o.Author]) {
			latest[o.Author] = o.ObservedAt
		}
	}
	for id, seen := range latest {
		c, err := p.store.GetCandidate(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				p.failure(ctx, "store", id, "read approved candidate", err, run)
			}
			continue
		}
		if c.Status != store.StatusApproved || !seen.After(c.LastSeen) {
			continue
		}
		c.LastSeen = seen
		if err := p.store.UpsertCandidate(ctx, c); err != nil {
			p.failure(ctx, "store", id, "refresh approved candidate", err, run)
		}
	}
}

func (p *Pipeline) merge(ctx context.Context, kept []scored, now time.Time, run *store.DiscoveryRun) {
	for _, s := range kept {
		id := s.ref.identity
		cur, err := p.store.GetCandidate(ctx, id)
		isNew := errors.Is(err, store.ErrNotFound)
		if err != nil && !isNew {
			p.failure(ctx, "store", id, "read candidate", err, run)
			continue
		}

		reason := buildReason(s)
		event := ""
		switch {
		case isNew || (cur.Status == store.StatusPruned && !cur.EverRejected()):
			first := now
			if !isNew && !cur.FirstSeen.IsZero() {
				first = cur.FirstSeen
			}
			cur = store.Candidate{
				Identity:          id,
				Score:             s.score,
				Category:          s.category,
				ConfirmationCount: 1,
				Status:            store.StatusSuggested,
				Reason:            reason,
				FirstSeen:         first,
				LastSeen:          now,
				UpdatedAt:         now,
				LastReferencedAt:  s.ref.newest,
			}
			event = "new"
		case cur.Status == store.StatusSuggested:
			// Posts already counted by an earlier cycle stay in the
			// reference window; they keep the candidate fresh but do not
			// confirm it again.
			if s.ref.newest.After(cur.LastReferencedAt) {
				cur.ConfirmationCount++
				cur.LastReferencedAt = s.ref.newest
				event = "confirmed"
			}
			cur.Score = s.score
			cur.Category = s.category
			cur.Reason = reason
			cur.LastSeen = now
			cur.UpdatedAt = now
		case cur.Status == store.StatusApproved:
			// Approved by an operator while this cycle was running.
			cur.LastSeen = now
			cur.Score = s.score
			cur.UpdatedAt = now
			if s.ref.newest.After(cur.LastReferencedAt) {
				cur.LastReferencedAt = s.ref.newest
			}
		default:
			// Rejected mid-cycle; the operator decision stands.
			continue
		}

		if err := p.store.UpsertCandidate(ctx, cur); err != nil {
			p.failure(ctx, "store", id, "write candidate", err, run)
			continue
		}
		switch event {
		case "new":
			run.New++
		case "confirmed":
			run.Confirmed++
		default:
			continue
		}
		TransitionsTotal.WithLabelValues(event).Inc()
	}
}

func (p *Pipeline) promote(ctx context.Context, now time.Time, run *store.DiscoveryRun) {
	suggested, err := p.store.ListCandidates(ctx, store.CandidateFilter{Statuses: []store.Status{store.StatusSuggested}})
	if err != nil {
		p.failure(ctx, "store", "", "list suggested candidates", err, run)
		return
	}
	for _, c := range suggested {
		if c.ConfirmationCount < p.cfg.ConfirmationRunsNeeded {
			continue
		}
		c.Status = store.StatusApproved
		c.UpdatedAt = now
		if err := p.store.UpsertCandidate(ctx, c); err != nil {
			p.failure(ctx, "store", c.Identity, "promote candidate", err, run)
			continue
		}
		run.Promoted++
		TransitionsTotal.WithLabelValues("promoted").Inc()
		p.logger.Info("candidate promoted",
			append(logging.ContextFields(ctx),
				zap.String("identity", c.Identity),
				zap.Int("confirmations", c.ConfirmationCount),
				zap.Float64("score", c.Score),
			)...)
	}
}

// prune marks candidates whose lastSeen is strictly older than their decay
// window. Approved candidates get the extra grace period.
func (p *Pipeline) prune(ctx context.Context, now time.Time, run *store.DiscoveryRun) {
	all, err := p.store.ListCandidates(ctx, store.CandidateFilter{
		Statuses: []store.Status{store.StatusSuggested, store.StatusApproved, store.StatusRejected},
	})
	if err != nil {
		p.failure(ctx, "store", "", "list candidates for pruning", err, run)
		return
	}
	for _, c := range all {
		if !p.stale(c, now) {
			continue
		}
		c.Status = store.StatusPruned
		c.PrunedAt = now
		c.UpdatedAt = now
		if err := p.store.UpsertCandidate(ctx, c); err != nil {
			p.failure(ctx, "store", c.Identity, "prune candidate", err, run)
			continue
		}
		run.Pruned++
		TransitionsTotal.WithLabelValues("pruned").Inc()
	}
}

func (p *Pipeline) stale(c store.Candidate, now time.Time) bool {
	limit := p.cfg.DecayWindow
	if c.Status == store.StatusApproved {
		limit += p.cfg.ApprovedGrace
	}
	return now.Sub(c.LastSeen) > limit
}

// purge deletes pruned candidates past PurgeAfter. Ever-rejected identities
// are kept so they are never suggested again.
func (p *Pipeline) purge(ctx context.Context, now time.Time, run *store.DiscoveryRun) {
	if p.cfg.PurgeAfter <= 0 {
		return
	}
	pruned, err := p.store.ListCandidates(ctx, store.CandidateFilter{Statuses: []store.Status{store.StatusPruned}})
	if err != nil {
		p.failure(ctx, "store", "", "list pruned candidates", err, run)
		return
	}
	var ids []string
	for _, c := range pruned {
		if !c.EverRejected() && now.Sub(c.PrunedAt) > p.cfg.PurgeAfter {
			ids = append(ids, c.Identity)
		}
	}
	if len(ids) == 0 {
		return
	}
	n, err := p.store.DeleteCandidates(ctx, ids)
	if err != nil {
		p.failure(ctx, "store", "", "purge candidates", err, run)
		return
	}
	run.Purged += n
	TransitionsTotal.WithLabelValues("purged").Add(float64(n))
}

func (p *Pipeline) failure(ctx context.Context, collaborator, identity, msg string, err error, run *store.DiscoveryRun) {
	run.Failures++
	FailuresTotal.WithLabelValues(collaborator).Inc()
	fields := append(logging.ContextFields(ctx), zap.String("collaborator", collaborator), zap.Error(err))
	if identity != "" {
		fields = append(fields, zap.String("identity", identity))
	}
	p.logger.Warn(msg, fields...)
}

func buildReason(s scored) string {
	names := make([]string, 0, len(s.ref.referrers))
	for n := range s.ref.referrers {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) > maxReasonNames {
		names = append(names[:maxReasonNames], "…")
	}
	return fmt.Sprintf("referenced %d times by %d approved identities (%s); score %.1f",
		s.ref.mentions, len(s.ref.referrers), strings.Join(names, ", "), s.score)
}

// Approve marks identity approved, creating it if unknown. Operator actions
// take precedence over automatic transitions and clear any rejection.
func (p *Pipeline) Approve(ctx context.Context, identity, reason string) (store.Candidate, error) {
	return p.operatorAction(ctx, identity, store.StatusApproved, reason)
}

// Reject marks identity rejected, creating it if unknown. A rejected
// identity is never suggested again by discovery.
func (p *Pipeline) Reject(ctx context.Context, identity, reason string) (store.Candidate, error) {
	return p.operatorAction(ctx, identity, store.StatusRejected, reason)
}

func (p *Pipeline) operatorAction(ctx context.Context, identity string, status store.Status, reason string) (store.Candidate, error) {
	id := store.NormalizeIdentity(identity)
	if !identityPattern.MatchString(id) {
		return store.Candidate{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	c, err := p.store.GetCandidate(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c = store.Candidate{Identity: id, Category: p.cfg.FallbackCategory, FirstSeen: now}
	case err != nil:
		return store.Candidate{}, fmt.Errorf("read candidate %s: %w", id, err)
	}

	c.Status = status
	c.LastSeen = now
	c.UpdatedAt = now
	c.PrunedAt = time.Time{}
	if reason != "" {
		c.Reason = reason
	}
	switch status {
	case store.StatusApproved:
		c.RejectedAt = time.Time{}
	case store.StatusRejected:
		c.RejectedAt = now
	}

	if err := p.store.UpsertCandidate(ctx, c); err != nil {
		return store.Candidate{}, fmt.Errorf("write candidate %s: %w", id, err)
	}
	TransitionsTotal.WithLabelValues(status.String()).Inc()
	p.logger.Info("operator action applied",
		append(logging.ContextFields(ctx),
			zap.String("identity", id),
			zap.Stringer("status", status),
		)...)
	return c, nil
}

// SeedApproved approves configured seed identities that have no record yet
// or were pruned without ever being rejected. It returns how many it approved.
func (p *Pipeline) SeedApproved(ctx context.Context, seeds []string) (int, error) {
	n := 0
	for _, s := range seeds {
		id := store.NormalizeIdentity(s)
		c, err := p.store.GetCandidate(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return n, fmt.Errorf("read seed %s: %w", id, err)
		case c.Status != store.StatusPruned || c.EverRejected():
			continue
		}
		if _, err := p.Approve(ctx, id, "seed"); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// GetSummary counts candidates by status and returns the recent run log.
func (p *Pipeline) GetSummary(ctx context.Context) (Summary, error) {
	all, err := p.store.ListCandidates(ctx, store.CandidateFilter{})
	if err != nil {
		return Summary{}, fmt.Errorf("list candidates: %w", err)
	}
	s := countByStatus(all)

	limit := p.cfg.RecentRuns
	if limit <= 0 {
		limit = 10
	}
	s.RecentRuns, err = p.store.RecentRuns(ctx, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("recent runs: %w", err)
	}
	return s, nil
}

// Candidates lists candidates, optionally filtered by status.
func (p *Pipeline) Candidates(ctx context.Context, statuses ...store.Status) ([]store.Candidate, error) {
	return p.store.ListCandidates(ctx, store.CandidateFilter{Statuses: statuses})
}

func countByStatus(all []store.Candidate) Summary {
	var s Summary
	for _, c := range all {
		switch c.Status {
		case store.StatusSuggested:
			s.Suggested++
		case store.StatusApproved:
			s.Approved++
		case store.StatusRejected:
			s.Rejected++
		case store.StatusPruned:
			s.Pruned++
		}
	}
	return s
}

func (p *Pipeline) updateGauges(ctx context.Context) {
	all, err := p.store.ListCandidates(ctx, store.CandidateFilter{})
	if err != nil {
		return
	}
	s := countByStatus(all)
	CandidatesGauge.WithLabelValues("suggested").Set(float64(s.Suggested))
	CandidatesGauge.WithLabelValues("approved").Set(float64(s.Approved))
	CandidatesGauge.WithLabelValues("rejected").Set(float64(s.Rejected))
	CandidatesGauge.WithLabelValues("pruned").Set(float64(s.Pruned))
}
