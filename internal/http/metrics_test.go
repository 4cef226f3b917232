package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/candidates/:identity/approve", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"identity": c.Param("identity")})
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/candidates/alice/approve", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/candidates/bob/approve", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	endpoints := map[string]int64{}
	foundDuration, foundSize := false, false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "signald.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					endpoints[v.AsString()] += dp.Value
				}
			case "signald.http.request_duration_seconds":
				foundDuration = true
			case "signald.http.response_size_bytes":
				foundSize = true
			}
		}
	}

	assert.Equal(t, map[string]int64{
		"/health":                              1,
		"/api/v1/candidates/:identity/approve": 2,
	}, endpoints, "identities never become label values")
	assert.True(t, foundDuration)
	assert.True(t, foundSize)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/api/v1/status", normalizePath("/api/v1/status"))
}

func TestHTTPMetrics_RecordDecision(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &HTTPMetrics{meter: mp.Meter(httpInstrumentationName), logger: zap.NewNop()}
	m.init()

	ctx := context.Background()
	m.RecordDecision(ctx, "approve", "ok")
	m.RecordDecision(ctx, "approve", "ok")
	m.RecordDecision(ctx, "reject", "invalid")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "signald.http.operator_decisions_total" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				action, _ := dp.Attributes.Value("action")
				outcome, _ := dp.Attributes.Value("outcome")
				got[action.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"approve/ok": 2, "reject/invalid": 1}, got)

	var nilMetrics *HTTPMetrics
	assert.NotPanics(t, func() { nilMetrics.RecordDecision(ctx, "approve", "ok") })
}

func TestHTTPMetrics_RecordsErrorStatus(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &HTTPMetrics{meter: mp.Meter(httpInstrumentationName), logger: zap.NewNop()}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/discovery/summary", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "component not configured")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/discovery/summary", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var status int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name == "signald.http.requests_total" {
				v, _ := md.Data.(metricdata.Sum[int64]).DataPoints[0].Attributes.Value("status")
				status = v.AsInt64()
			}
		}
	}
	assert.Equal(t, int64(http.StatusServiceUnavailable), status)
}
