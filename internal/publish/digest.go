package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/signald/internal/consensus"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/retry"
	"go.uber.org/zap"
)

const (
	// Dependency names the breaker and retry policy of sink calls.
	Dependency = "publish"
	// Resource is the quota consumed by each publish.
	Resource = "publish"

	KindConsensus = "consensus"
)

// Detector is the part of consensus.Detector the digest needs.
type Detector interface {
	Detect(ctx context.Context, topic string, window time.Duration) ([]consensus.Signal, error)
}

// DigestResult summarizes one digest run.
type DigestResult struct {
	Topics    int
	Signals   int
	Published int
	Failed    int
}

// Digest publishes the consensus signals of every tracked topic.
type Digest struct {
	detector Detector
	sink     Sink
	exec     *retry.Executor
	topics   []string
	window   time.Duration
	logger   *zap.Logger
}

// NewDigest creates a digest job. A non-positive window uses the detector's
// default.
func NewDigest(det Detector, sink Sink, exec *retry.Executor, topics []string, window time.Duration, logger *zap.Logger) *Digest {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Digest{detector: det, sink: sink, exec: exec, topics: topics, window: window, logger: logger}
}

// Run is the scheduler entry point.
func (d *Digest) Run(ctx context.Context) error {
	_, err := d.Publish(ctx)
	return err
}

// Publish detects and publishes signals topic by topic. A topic's failure is
// logged and counted; an error is returned only when every topic failed.
func (d *Digest) Publish(ctx context.Context) (DigestResult, error) {
	res := DigestResult{Topics: len(d.topics)}
	var errs []error

	for _, topic := range d.topics {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := d.publishTopic(ctx, topic, &res); err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", topic, err))
			d.logger.Warn("digest failed for topic",
				append(logging.ContextFields(ctx), zap.String("topic", topic), zap.Error(err))...)
		}
	}

	d.logger.Info("digest completed",
		append(logging.ContextFields(ctx),
			zap.Int("topics", res.Topics),
			zap.Int("signals", res.Signals),
			zap.Int("published", res.Published),
			zap.Int("failed", res.Failed),
		)...)
	if len(errs) > 0 && len(errs) == len(d.topics) {
		return res, errors.Join(errs...)
	}
	return res, nil
}

func (d *Digest) publishTopic(ctx context.Context, topic string, res *DigestResult) error {
	sigs, err := d.detector.Detect(ctx, topic, d.window)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	res.Signals += len(sigs)

	for _, sig := range sigs {
		content := Content{Kind: KindConsensus, Topic: sig.Topic, Body: sig, CreatedAt: sig.ComputedAt}
		id, err := retry.Execute(ctx, d.exec, retry.Call{Dependency: Dependency, Resource: Resource},
			func(ctx context.Context) (string, error) {
				return d.sink.Publish(ctx, content)
			})
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		res.Published++
		d.logger.Info("consensus signal published",
			append(logging.ContextFields(ctx),
				zap.String("topic", sig.Topic),
				zap.String("message_id", id),
				zap.Int("identities", sig.Count),
				zap.Stringer("confidence", sig.Confidence),
			)...)
	}
	return nil
}
