// Package consensus detects broad independent agreement on a topic and
// shifts in aggregate sentiment over time.
//
// Both detections are read paths over the observation history of approved
// identities. Signals are recomputed on every call; only the snapshots that
// shift detection compares against are persisted.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/fyrsmithlabs/signald/internal/config"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/store"
	"go.uber.org/zap"
)

const (
	highConfidence   = 75.0
	mediumConfidence = 50.0

	increasingRatio = 1.2
	decreasingRatio = 0.8

	reversalChange     = 30.0
	accelerationChange = 15.0
	mediumSeverity     = 20.0
	highSeverity       = 40.0

	// minReversalEvidence is how many observations must carry the old label
	// in the first half, and the new label in the second, before an identity
	// counts as reversed.
	minReversalEvidence = 2
)

// ErrEmptyTopic is returned when no topic is given.
var ErrEmptyTopic = errors.New("empty topic")

// Config holds detection thresholds.
type Config struct {
	MinIdentities int
	// Window is the default consensus window, also used for snapshots.
	Window            time.Duration
	ShiftLookbackDays int
	Topics            []string
}

// ConfigFrom converts the loaded configuration section.
func ConfigFrom(c config.ConsensusConfig) Config {
	return Config{
		MinIdentities:     c.MinIdentities,
		Window:            c.Window.Duration(),
		ShiftLookbackDays: c.ShiftLookbackDays,
		Topics:            c.Topics,
	}
}

// Detector computes consensus signals and narrative shifts.
type Detector struct {
	store  store.Store
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// New creates a detector.
func New(st store.Store, cfg Config, opts ...Option) *Detector {
	if cfg.MinIdentities < 1 {
		cfg.MinIdentities = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = 48 * time.Hour
	}
	if cfg.ShiftLookbackDays < 1 {
		cfg.ShiftLookbackDays = 7
	}
	d := &Detector{store: st, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	d.clock = clock.OrReal(d.clock)
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Config returns the detector's effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect returns at most one signal for topic over the trailing window. A
// non-positive window uses the configured default. No signal is returned when
// fewer than the minimum number of distinct approved identities discussed
// the topic.
func (d *Detector) Detect(ctx context.Context, topic string, window time.Duration) ([]Signal, error) {
	topic = normalizeTopic(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if window <= 0 {
		window = d.cfg.Window
	}
	now := d.clock.Now()

	approved, err := d.approved(ctx)
	if err != nil {
		return nil, err
	}
	if len(approved) < d.cfg.MinIdentities {
		return nil, nil
	}

	obs, err := d.store.QueryObservations(ctx, store.ObservationFilter{
		Authors: approved,
		Topic:   topic,
		Since:   now.Add(-window),
	})
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}

	ids := distinctAuthors(obs)
	if len(ids) < d.cfg.MinIdentities {
		return nil, nil
	}

	avg, err := d.avgCredibility(ctx, ids)
	if err != nil {
		return nil, err
	}

	sig := Signal{
		Topic:              topic,
		Window:             window,
		AgreeingIdentities: ids,
		Count:              len(ids),
		Observations:       len(obs),
		AvgCredibility:     avg,
		Confidence:         confidenceFor(avg),
		Momentum:           momentum(obs, now.Add(-window/2)),
		Sentiment:          distribution(obs),
		ComputedAt:         now,
	}
	d.logger.Debug("consensus signal",
		append(logging.ContextFields(ctx),
			zap.String("topic", topic),
			zap.Int("identities", sig.Count),
			zap.Stringer("confidence", sig.Confidence),
			zap.Stringer("momentum", sig.Momentum),
		)...)
	return []Signal{sig}, nil
}

// DetectShift compares a fresh snapshot of topic against the latest snapshot
// taken at least days earlier. It returns nil when there is nothing to
// compare against or either side has no observations. A non-positive days
// uses the configured lookback. Nothing is written; snapshot history only
// grows through SnapshotAll.
func (d *Detector) DetectShift(ctx context.Context, topic string, days int) (*Shift, error) {
	return d.shift(ctx, topic, days, false)
}

func (d *Detector) shift(ctx context.Context, topic string, days int, persist bool) (*Shift, error) {
	topic = normalizeTopic(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if days <= 0 {
		days = d.cfg.ShiftLookbackDays
	}
	now := d.clock.Now()
	lookback := time.Duration(days) * 24 * time.Hour

	approved, err := d.approved(ctx)
	if err != nil {
		return nil, err
	}

	var recent []store.Observation
	if len(approved) > 0 {
		recent, err = d.store.QueryObservations(ctx, store.ObservationFilter{
			Authors: approved,
			Topic:   topic,
			Since:   now.Add(-d.cfg.Window),
		})
		if err != nil {
			return nil, fmt.Errorf("query observations: %w", err)
		}
	}
	current := snapshot(topic, now, d.cfg.Window, recent)

	previous, err := d.store.LatestSnapshot(ctx, topic, now.Add(-lookback))
	switch {
	case errors.Is(err, store.ErrNotFound):
		if persist {
			d.save(ctx, current)
		}
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	if persist {
		defer d.save(ctx, current)
	}

	if current.Observations == 0 || previous.Observations == 0 {
		return nil, nil
	}

	change := current.BullishPct - previous.BullishPct
	shift := &Shift{
		Topic:         topic,
		Kind:          classify(change),
		Severity:      severityFor(change),
		BullishChange: change,
		Previous:      previous,
		Current:       current,
	}

	var history []store.Observation
	if len(approved) > 0 {
		history, err = d.store.QueryObservations(ctx, store.ObservationFilter{
			Authors: approved,
			Topic:   topic,
			Since:   now.Add(-lookback),
		})
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
	}
	shift.Reversals = reversals(history, now.Add(-lookback/2))
	if len(shift.Reversals) > 0 {
		if err := d.fillCredibility(ctx, shift.Reversals); err != nil {
			return nil, err
		}
		shift.Confidence = reversalConfidence(shift.Reversals)
	}

	d.logger.Info("narrative shift",
		append(logging.ContextFields(ctx),
			zap.String("topic", topic),
			zap.Stringer("kind", shift.Kind),
			zap.Stringer("severity", shift.Severity),
			zap.Float64("bullish_change", change),
			zap.Int("reversals", len(shift.Reversals)),
		)...)
	return shift, nil
}

// SnapshotAll runs shift detection for every tracked topic and records each
// fresh snapshot so history accumulates. Per-topic failures are logged; an error is returned
// only when every topic failed.
func (d *Detector) SnapshotAll(ctx context.Context) error {
	if len(d.cfg.Topics) == 0 {
		return nil
	}
	var errs []error
	for _, topic := range d.cfg.Topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.shift(ctx, topic, 0, true); err != nil {
			d.logger.Warn("snapshot failed",
				append(logging.ContextFields(ctx), zap.String("topic", topic), zap.Error(err))...)
			errs = append(errs, fmt.Errorf("%s: %w", topic, err))
		}
	}
	if len(errs) == len(d.cfg.Topics) {
		return errors.Join(errs...)
	}
	return nil
}

func (d *Detector) save(ctx context.Context, s store.Snapshot) {
	if err := d.store.SaveSnapshot(ctx, s); err != nil {
		d.logger.Warn("save snapshot failed",
			append(logging.ContextFields(ctx), zap.String("topic", s.Topic), zap.Error(err))...)
	}
}

func (d *Detector) approved(ctx context.Context) ([]string, error) {
	list, err := d.store.ListCandidates(ctx, store.CandidateFilter{Statuses: []store.Status{store.StatusApproved}})
	if err != nil {
		return nil, fmt.Errorf("list approved identities: %w", err)
	}
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.Identity
	}
	return ids, nil
}

func (d *Detector) credibility(ctx context.Context, ids []string) (map[string]float64, error) {
	recs, err := d.store.ListCredibility(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list credibility: %w", err)
	}
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		out[id] = store.NeutralCredibility
	}
	for _, r := range recs {
		out[r.Identity] = r.Score
	}
	return out, nil
}

func (d *Detector) avgCredibility(ctx context.Context, ids []string) (float64, error) {
	cred, err := d.credibility(ctx, ids)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, id := range ids {
		sum += cred[id]
	}
	return sum / float64(len(ids)), nil
}

func (d *Detector) fillCredibility(ctx context.Context, revs []Reversal) error {
	ids := make([]string, len(revs))
	for i, r := range revs {
		ids[i] = r.Identity
	}
	cred, err := d.credibility(ctx, ids)
	if err != nil {
		return err
	}
	for i := range revs {
		revs[i].Credibility = cred[revs[i].Identity]
	}
	return nil
}

func normalizeTopic(t string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(t), "$#"))
}

func distinctAuthors(obs []store.Observation) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, o := range obs {
		if !seen[o.Author] {
			seen[o.Author] = true
			ids = append(ids, o.Author)
		}
	}
	sort.Strings(ids)
	return ids
}

func confidenceFor(avg float64) Confidence {
	switch {
	case avg >= highConfidence:
		return ConfidenceHigh
	case avg >= mediumConfidence:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// momentum compares observation counts either side of mid.
func momentum(obs []store.Observation, mid time.Time) Momentum {
	first, second := 0, 0
	for _, o := range obs {
		if o.ObservedAt.Before(mid) {
			first++
		} else {
			second++
		}
	}
	if first == 0 {
		if second > 0 {
			return MomentumIncreasing
		}
		return MomentumStable
	}
	ratio := float64(second) / float64(first)
	switch {
	case ratio > increasingRatio:
		return MomentumIncreasing
	case ratio < decreasingRatio:
		return MomentumDecreasing
	default:
		return MomentumStable
	}
}

func distribution(obs []store.Observation) Distribution {
	var dist Distribution
	if len(obs) == 0 {
		return dist
	}
	for _, o := range obs {
		switch o.Sentiment {
		case store.SentimentBullish:
			dist.Bullish++
		case store.SentimentBearish:
			dist.Bearish++
		default:
			dist.Neutral++
		}
	}
	n := float64(len(obs))
	dist.Bullish = dist.Bullish * 100 / n
	dist.Bearish = dist.Bearish * 100 / n
	dist.Neutral = dist.Neutral * 100 / n
	return dist
}

func snapshot(topic string, at time.Time, window time.Duration, obs []store.Observation) store.Snapshot {
	dist := distribution(obs)
	return store.Snapshot{
		Topic:        topic,
		TakenAt:      at,
		Window:       window,
		Observations: len(obs),
		Identities:   len(distinctAuthors(obs)),
		BullishPct:   dist.Bullish,
		BearishPct:   dist.Bearish,
		NeutralPct:   dist.Neutral,
	}
}

func classify(change float64) ShiftKind {
	switch {
	case change <= -reversalChange:
		return ShiftBullishToBearish
	case change >= reversalChange:
		return ShiftBearishToBullish
	case change >= accelerationChange:
		return ShiftAcceleration
	default:
		return ShiftConsolidation
	}
}

func severityFor(change float64) Severity {
	switch m := math.Abs(change); {
	case m < mediumSeverity:
		return SeverityLow
	case m < highSeverity:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// reversals finds identities whose directional label in the half before mid
// differs from their label after it, with enough evidence for both.
func reversals(obs []store.Observation, mid time.Time) []Reversal {
	type halves struct {
		before, after map[store.Sentiment]int
	}
	byID := make(map[string]*halves)
	for _, o := range obs {
		h := byID[o.Author]
		if h == nil {
			h = &halves{before: make(map[store.Sentiment]int), after: make(map[store.Sentiment]int)}
			byID[o.Author] = h
		}
		if o.ObservedAt.Before(mid) {
			h.before[o.Sentiment]++
		} else {
			h.after[o.Sentiment]++
		}
	}

	var out []Reversal
	for id, h := range byID {
		from, to := dominant(h.before), dominant(h.after)
		if from == store.SentimentNeutral || to == store.SentimentNeutral || from == to {
			continue
		}
		if h.before[from] < minReversalEvidence || h.after[to] < minReversalEvidence {
			continue
		}
		out = append(out, Reversal{Identity: id, From: from, To: to})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// dominant is the most frequent directional label; ties and an empty half
// are neutral.
func dominant(counts map[store.Sentiment]int) store.Sentiment {
	bull, bear := counts[store.SentimentBullish], counts[store.SentimentBearish]
	switch {
	case bull > bear:
		return store.SentimentBullish
	case bear > bull:
		return store.SentimentBearish
	default:
		return store.SentimentNeutral
	}
}

// reversalConfidence is the mean credibility of the reversed identities as a
// fraction, scaled by 1-1/(1+sqrt(n)).
func reversalConfidence(revs []Reversal) float64 {
	sum := 0.0
	for _, r := range revs {
		sum += r.Credibility
	}
	avg := sum / float64(len(revs))
	n := float64(len(revs))
	return avg / 100 * (1 - 1/(1+math.Sqrt(n)))
}
