package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/signald/internal/http"

// HTTPMetrics records API traffic and operator decisions.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requests  metric.Int64Counter
	latency   metric.Float64Histogram
	bodyBytes metric.Int64Histogram
	inFlight  metric.Int64UpDownCounter
	decisions metric.Int64Counter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

// init creates every instrument. A failed instrument stays nil and is
// skipped when recording.
func (m *HTTPMetrics) init() {
	m.requests = instrument(m, "requests counter", func() (metric.Int64Counter, error) {
		return m.meter.Int64Counter("signald.http.requests_total",
			metric.WithDescription("API requests by method, route and status code."),
			metric.WithUnit("{request}"))
	})
	m.latency = instrument(m, "latency histogram", func() (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram("signald.http.request_duration_seconds",
			metric.WithDescription("API request latency by method, route and status code."),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	})
	m.bodyBytes = instrument(m, "response size histogram", func() (metric.Int64Histogram, error) {
		return m.meter.Int64Histogram("signald.http.response_size_bytes",
			metric.WithDescription("API response body size by method, route and status code."),
			metric.WithUnit("By"),
			metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536, 262144))
	})
	m.inFlight = instrument(m, "in-flight gauge", func() (metric.Int64UpDownCounter, error) {
		return m.meter.Int64UpDownCounter("signald.http.active_requests",
			metric.WithDescription("API requests currently being served."),
			metric.WithUnit("{request}"))
	})
	m.decisions = instrument(m, "decisions counter", func() (metric.Int64Counter, error) {
		return m.meter.Int64Counter("signald.http.operator_decisions_total",
			metric.WithDescription("Operator approve and reject calls by action and outcome."),
			metric.WithUnit("{decision}"))
	})
}

func instrument[T any](m *HTTPMetrics, what string, create func() (T, error)) T {
	inst, err := create()
	if err != nil {
		m.logger.Warn("failed to create http instrument", zap.String("instrument", what), zap.Error(err))
	}
	return inst
}

// MetricsMiddleware records one data point per request. The endpoint
// attribute is the matched route pattern.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.bodyBytes != nil {
				m.bodyBytes.Record(ctx, c.Response().Size, attrs)
			}
			return nil
		}
	}
}

// RecordDecision counts one operator action. outcome is "ok", "invalid" or
// "error".
func (m *HTTPMetrics) RecordDecision(ctx context.Context, action, outcome string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// normalizePath maps unmatched requests to "/". Matched requests already
// carry the route pattern (e.g. /api/v1/candidates/:identity), so identities
// and topics never become label values.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
