// Package publish delivers derived content to the outbound channel.
package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/retry"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// DefaultSubjectPrefix is used when none is configured.
	DefaultSubjectPrefix = "signald"

	flushTimeout = 5 * time.Second
)

// Content is one publishable item.
type Content struct {
	// Kind names the content type and the subject suffix, e.g. "consensus".
	Kind      string
	Topic     string
	Body      any
	CreatedAt time.Time
}

// Sink publishes content and returns the message ID it was published under.
type Sink interface {
	Publish(ctx context.Context, c Content) (string, error)
	Close() error
}

// envelope is the wire form of Content.
type envelope struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Topic     string    `json:"topic,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Body      any       `json:"body"`
}

// NATSSink publishes sonic-encoded envelopes on <prefix>.<kind>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// NewNATSSink publishes on an existing connection. Close does not close it.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// DialNATS connects to url and returns a sink that owns the connection.
func DialNATS(url, prefix string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("signald"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	s := NewNATSSink(nc, prefix)
	s.owned = true
	return s, nil
}

// Subject returns the subject content of kind is published on.
func (s *NATSSink) Subject(kind string) string {
	return s.prefix + "." + kind
}

func (s *NATSSink) Publish(ctx context.Context, c Content) (string, error) {
	if c.Kind == "" {
		return "", retry.Permanent(fmt.Errorf("content kind is required"))
	}
	if s.nc.IsClosed() {
		return "", retry.Permanent(nats.ErrConnectionClosed)
	}

	id := uuid.NewString()
	data, err := sonic.Marshal(envelope{ID: id, Kind: c.Kind, Topic: c.Topic, CreatedAt: c.CreatedAt, Body: c.Body})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("encode %s: %w", c.Kind, err))
	}

	msg := nats.NewMsg(s.Subject(c.Kind))
	msg.Header.Set(nats.MsgIdHdr, id)
	msg.Data = data
	if err := s.nc.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	// FlushWithContext needs a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := s.nc.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush %s: %w", msg.Subject, err)
	}
	return id, nil
}

// Close drains the connection when the sink owns it.
func (s *NATSSink) Close() error {
	if !s.owned || s.nc.IsClosed() {
		return nil
	}
	return s.nc.Drain()
}

// LogSink writes content to the log. It is the sink for local runs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, c Content) (string, error) {
	id := uuid.NewString()
	body, err := sonic.MarshalString(c.Body)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("encode %s: %w", c.Kind, err))
	}
	s.logger.Info("content published",
		append(logging.ContextFields(ctx),
			zap.String("message_id", id),
			zap.String("kind", c.Kind),
			zap.String("topic", c.Topic),
			zap.String("body", body),
		)...)
	return id, nil
}

func (s *LogSink) Close() error { return nil }
