package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/signald/internal/config"
	"github.com/fyrsmithlabs/signald/internal/publish"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/fyrsmithlabs/signald/internal/telemetry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Feed.URLTemplate = "http://feeds.invalid/%s.rss"
	return cfg
}

func TestBuildComponents(t *testing.T) {
	cfg := testConfig(t)
	tel, err := telemetry.New(t.Context(), cfg.Telemetry)
	require.NoError(t, err)

	comps, err := buildComponents(cfg, store.NewMemory(), tel, zap.NewNop())
	require.NoError(t, err)
	defer comps.sink.Close()

	assert.IsType(t, &publish.LogSink{}, comps.sink)
	assert.NotEmpty(t, comps.governor.Status())

	names := []string{}
	for _, j := range jobs(cfg.Scheduler, comps) {
		names = append(names, j.Name)
		assert.Positive(t, j.Interval)
	}
	assert.Equal(t, []string{"discovery", "ingest", "credibility", "consensus-snapshot", "digest"}, names)

	cfg.Scheduler.Digest.Disabled = true
	cfg.Scheduler.Ingest.Disabled = true
	names = names[:0]
	for _, j := range jobs(cfg.Scheduler, comps) {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{"discovery", "credibility", "consensus-snapshot"}, names)
}

func TestBuildComponents_Errors(t *testing.T) {
	tel, err := telemetry.New(t.Context(), config.TelemetryConfig{})
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Feed.URLTemplate = "http://feeds.invalid/rss"
	_, err = buildComponents(cfg, store.NewMemory(), tel, zap.NewNop())
	assert.ErrorContains(t, err, "feed source")

	cfg = testConfig(t)
	cfg.Oracle.Provider = "crystal-ball"
	_, err = buildComponents(cfg, store.NewMemory(), tel, zap.NewNop())
	assert.ErrorContains(t, err, "oracle")

	cfg = testConfig(t)
	cfg.Publish.Driver = "carrier-pigeon"
	_, err = buildComponents(cfg, store.NewMemory(), tel, zap.NewNop())
	assert.ErrorContains(t, err, "unknown publish driver")
}

func TestPolicy(t *testing.T) {
	rc := config.RetryConfig{
		Default: config.RetryPolicyConfig{
			MaxAttempts:  3,
			InitialDelay: config.Duration(time.Second),
			MaxDelay:     config.Duration(30 * time.Second),
			Multiplier:   2,
			Timeout:      config.Duration(10 * time.Second),
		},
		Dependencies: map[string]config.RetryPolicyConfig{
			"oracle": {MaxAttempts: 1, Timeout: config.Duration(time.Minute)},
		},
	}

	p := policy(rc.For("oracle"))
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, time.Minute, p.Timeout)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 2.0, p.Multiplier)

	p = policy(rc.For("feed"))
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 10*time.Second, p.Timeout)
}

func TestInitLogger(t *testing.T) {
	cfg := testConfig(t)
	logger, err := initLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger.Underlying())

	cfg.Logging.Level = "loud"
	_, err = initLogger(cfg)
	assert.Error(t, err)
}
