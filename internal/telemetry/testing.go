package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is an enabled Telemetry whose spans stay in memory. Meters
// fall back to the global provider.
type TestTelemetry struct {
	*Telemetry
	Recorder *tracetest.SpanRecorder
}

func NewTestTelemetry() *TestTelemetry {
	rec := tracetest.NewSpanRecorder()
	tel := &Telemetry{tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))}
	tel.cfg.Enabled = true
	tel.healthy.Store(true)
	return &TestTelemetry{Telemetry: tel, Recorder: rec}
}

// Ended returns the finished spans called name, oldest first.
func (t *TestTelemetry) Ended(name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range t.Recorder.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// AssertSpanAttribute checks the last finished span called name. Integer
// attributes compare as int64.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, name, key string, want any) {
	tb.Helper()
	spans := t.Ended(name)
	if len(spans) == 0 {
		tb.Fatalf("no finished span %q", name)
	}
	last := spans[len(spans)-1]
	for _, kv := range last.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := plain(kv.Value); got != want {
			tb.Errorf("span %q: %s = %v (%T), want %v (%T)", name, key, got, got, want, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %s", name, key)
}

func plain(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	}
	return v.AsInterface()
}
