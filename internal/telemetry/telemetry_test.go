package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/signald/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.Enabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestValidate(t *testing.T) {
	base := config.Default().Telemetry
	base.Enabled = true
	base.Insecure = true
	require.NoError(t, Validate(base))

	remote := base
	remote.Endpoint = "collector.example.com:4317"
	assert.Error(t, Validate(remote))

	badProto := base
	badProto.Protocol = "udp"
	assert.Error(t, Validate(badProto))

	badRate := base
	badRate.SampleRate = 2
	assert.Error(t, Validate(badRate))
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.False(t, tel.Enabled())
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.Tracer("retry").Start(context.Background(), "retry.execute")
	span.SetAttributes(attribute.String("dependency", "feed"), attribute.Int("attempts", 2))
	span.End()

	tt.AssertSpanAttribute(t, "retry.execute", "dependency", "feed")
	tt.AssertSpanAttribute(t, "retry.execute", "attempts", int64(2))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.True(t, isLocalEndpoint("http://localhost:4318"))
	assert.False(t, isLocalEndpoint("otel.example.com:4317"))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestHealth_ReportsExporterFailure(t *testing.T) {
	tel := &Telemetry{}
	tel.healthy.Store(true)
	tel.fail(errors.New("trace exporter (grpc localhost:4317): connection refused"))

	h := tel.Health()
	assert.True(t, h.Healthy)
	assert.True(t, h.Degraded)
	assert.Contains(t, h.LastError, "connection refused")

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := Validate(config.TelemetryConfig{Enabled: true, Protocol: "udp", SampleRate: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
	assert.Contains(t, err.Error(), "service_name is required")
	assert.Contains(t, err.Error(), "protocol must be")
	assert.Contains(t, err.Error(), "sample_rate")
}
