package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"github.com/fyrsmithlabs/signald/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry holds the tracer and meter providers of one process. An exporter
// that fails to start leaves its signal on the global no-op provider and
// marks the instance degraded; the daemon keeps running either way.
type Telemetry struct {
	cfg config.TelemetryConfig

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	healthy atomic.Bool
	failure atomic.Pointer[string]
}

// HealthStatus is the telemetry section of GET /api/v1/status.
type HealthStatus struct {
	Healthy   bool   `json:"healthy"`
	Degraded  bool   `json:"degraded"`
	LastError string `json:"last_error,omitempty"`
}

// Validate checks an enabled telemetry configuration. Plaintext export is
// limited to local collectors.
func Validate(cfg config.TelemetryConfig) error {
	if !cfg.Enabled {
		return nil
	}
	var problems []error
	if cfg.Endpoint == "" {
		problems = append(problems, errors.New("endpoint is required when telemetry is enabled"))
	}
	if cfg.ServiceName == "" {
		problems = append(problems, errors.New("service_name is required when telemetry is enabled"))
	}
	if cfg.Protocol != "grpc" && cfg.Protocol != protocolHTTP {
		problems = append(problems, fmt.Errorf("protocol must be grpc or %s, got %q", protocolHTTP, cfg.Protocol))
	}
	if cfg.Insecure && cfg.Endpoint != "" && !isLocalEndpoint(cfg.Endpoint) {
		problems = append(problems, errors.New("insecure export is only allowed to a local endpoint"))
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		problems = append(problems, fmt.Errorf("sample_rate must be between 0 and 1, got %g", cfg.SampleRate))
	}
	return errors.Join(problems...)
}

// New builds and installs the global providers and the W3C propagator. With
// telemetry disabled it only returns a handle over the global no-op
// providers.
func New(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{cfg: cfg}
	t.healthy.Store(true)
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.fail(err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}
	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.fail(err)
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer is safe on a nil receiver.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter is safe on a nil receiver.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// Shutdown flushes pending spans and metrics. The instance reports unhealthy
// afterwards.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	defer t.healthy.Store(false)

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Health is degraded on a nil receiver.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	h := HealthStatus{Healthy: t.healthy.Load()}
	if msg := t.failure.Load(); msg != nil {
		h.Degraded = true
		h.LastError = *msg
	}
	return h
}

// Enabled reports whether telemetry is configured and not shut down.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.cfg.Enabled && t.healthy.Load()
}

func (t *Telemetry) fail(err error) {
	msg := err.Error()
	t.failure.Store(&msg)
}

func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasSuffix(host, ".local")
}
