// Package config provides configuration loading for signald.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file,
// and SIGNALD_-prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete signald configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Store       StoreConfig       `koanf:"store"`
	Quotas      []QuotaConfig     `koanf:"quotas"`
	Breakers    BreakersConfig    `koanf:"breakers"`
	Retry       RetryConfig       `koanf:"retry"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Discovery   DiscoveryConfig   `koanf:"discovery"`
	Credibility CredibilityConfig `koanf:"credibility"`
	Consensus   ConsensusConfig   `koanf:"consensus"`
	Feed        FeedConfig        `koanf:"feed"`
	Oracle      OracleConfig      `koanf:"oracle"`
	Publish     PublishConfig     `koanf:"publish"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	// ObservationRetention is how long observations are kept after they
	// were posted. The ingest job deletes older ones.
	ObservationRetention Duration `koanf:"observation_retention"`
}

// QuotaConfig is one sliding window for a resource. A resource may appear
// several times with different windows.
type QuotaConfig struct {
	Resource string   `koanf:"resource"`
	Window   Duration `koanf:"window"`
	Limit    int      `koanf:"limit"`
}

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `koanf:"failure_threshold"`
	ResetTimeout     Duration `koanf:"reset_timeout"`
}

// BreakersConfig holds the default breaker settings plus per-dependency overrides.
type BreakersConfig struct {
	Default      BreakerConfig            `koanf:"default"`
	Dependencies map[string]BreakerConfig `koanf:"dependencies"`
}

// For returns the breaker settings for a dependency, falling back to the
// default for any unset field.
func (b BreakersConfig) For(dependency string) BreakerConfig {
	out := b.Default
	if o, ok := b.Dependencies[dependency]; ok {
		if o.FailureThreshold > 0 {
			out.FailureThreshold = o.FailureThreshold
		}
		if o.ResetTimeout > 0 {
			out.ResetTimeout = o.ResetTimeout
		}
	}
	return out
}

// RetryPolicyConfig mirrors retry.Policy.
type RetryPolicyConfig struct {
	MaxAttempts   int      `koanf:"max_attempts"`
	InitialDelay  Duration `koanf:"initial_delay"`
	MaxDelay      Duration `koanf:"max_delay"`
	Multiplier    float64  `koanf:"multiplier"`
	JitterPercent float64  `koanf:"jitter_percent"`
	MinDelay      Duration `koanf:"min_delay"`
	Timeout       Duration `koanf:"timeout"`
}

// RetryConfig holds the default retry policy, per-dependency overrides and
// the fan-out width used for batches.
type RetryConfig struct {
	Default          RetryPolicyConfig            `koanf:"default"`
	Dependencies     map[string]RetryPolicyConfig `koanf:"dependencies"`
	BatchConcurrency int                          `koanf:"batch_concurrency"`
}

// For returns the policy for a dependency, falling back to the default for
// any unset field.
func (r RetryConfig) For(dependency string) RetryPolicyConfig {
	out := r.Default
	o, ok := r.Dependencies[dependency]
	if !ok {
		return out
	}
	if o.MaxAttempts > 0 {
		out.MaxAttempts = o.MaxAttempts
	}
	if o.InitialDelay > 0 {
		out.InitialDelay = o.InitialDelay
	}
	if o.MaxDelay > 0 {
		out.MaxDelay = o.MaxDelay
	}
	if o.Multiplier > 0 {
		out.Multiplier = o.Multiplier
	}
	if o.JitterPercent > 0 {
		out.JitterPercent = o.JitterPercent
	}
	if o.MinDelay > 0 {
		out.MinDelay = o.MinDelay
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	return out
}

// JobConfig configures one scheduled loop.
type JobConfig struct {
	Interval     Duration `koanf:"interval"`
	ErrorBackoff Duration `koanf:"error_backoff"`
	Jitter       Duration `koanf:"jitter"`
	Disabled     bool     `koanf:"disabled"`
}

// SchedulerConfig holds the settings of every background loop.
type SchedulerConfig struct {
	Discovery   JobConfig `koanf:"discovery"`
	Ingest      JobConfig `koanf:"ingest"`
	Credibility JobConfig `koanf:"credibility"`
	Snapshot    JobConfig `koanf:"snapshot"`
	Digest      JobConfig `koanf:"digest"`
}

// DiscoveryConfig holds the candidate pipeline thresholds.
type DiscoveryConfig struct {
	ScoreThreshold         float64  `koanf:"score_threshold"`
	MaxNewPerCycle         int      `koanf:"max_new_per_cycle"`
	ConfirmationRunsNeeded int      `koanf:"confirmation_runs_needed"`
	DecayWindow            Duration `koanf:"decay_window"`
	ApprovedGrace          Duration `koanf:"approved_grace"`
	PurgeAfter             Duration `koanf:"purge_after"`
	ReferenceWindow        Duration `koanf:"reference_window"`
	FallbackCategory       string   `koanf:"fallback_category"`
	RecentRuns             int      `koanf:"recent_runs"`
	Seeds                  []string `koanf:"seeds"`
}

// CredibilityConfig tunes incremental credibility updates.
type CredibilityConfig struct {
	Alpha float64 `koanf:"alpha"`
}

// ConsensusConfig holds consensus and shift detection settings.
type ConsensusConfig struct {
	MinIdentities     int      `koanf:"min_identities"`
	Window            Duration `koanf:"window"`
	ShiftLookbackDays int      `koanf:"shift_lookback_days"`
	Topics            []string `koanf:"topics"`
}

// FeedConfig configures the RSS/Atom feed source.
type FeedConfig struct {
	// URLTemplate contains a single %s replaced by the identity.
	URLTemplate        string   `koanf:"url_template"`
	ProfileURLTemplate string   `koanf:"profile_url_template"`
	RequestsPerSecond  float64  `koanf:"requests_per_second"`
	Burst              int      `koanf:"burst"`
	Timeout            Duration `koanf:"timeout"`
	MaxItems           int      `koanf:"max_items"`
}

// OracleConfig selects the classification oracle.
type OracleConfig struct {
	// Provider is "heuristic" or "openai".
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
}

// PublishConfig selects the publishing sink.
type PublishConfig struct {
	// Driver is "log" or "nats".
	Driver        string `koanf:"driver"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "signald"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = "signald.db"
	}
	if cfg.Store.ObservationRetention == 0 {
		cfg.Store.ObservationRetention = Duration(90 * 24 * time.Hour)
	}

	if len(cfg.Quotas) == 0 {
		cfg.Quotas = []QuotaConfig{
			{Resource: "feed.fetch", Window: Duration(time.Minute), Limit: 60},
			{Resource: "feed.fetch", Window: Duration(time.Hour), Limit: 1500},
			{Resource: "feed.profile", Window: Duration(15 * time.Minute), Limit: 300},
			{Resource: "oracle.classify", Window: Duration(time.Minute), Limit: 20},
			{Resource: "publish", Window: Duration(time.Hour), Limit: 10},
			{Resource: "publish", Window: Duration(24 * time.Hour), Limit: 50},
		}
	}

	if cfg.Breakers.Default.FailureThreshold == 0 {
		cfg.Breakers.Default.FailureThreshold = 5
	}
	if cfg.Breakers.Default.ResetTimeout == 0 {
		cfg.Breakers.Default.ResetTimeout = Duration(time.Minute)
	}

	d := &cfg.Retry.Default
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 3
	}
	if d.InitialDelay == 0 {
		d.InitialDelay = Duration(time.Second)
	}
	if d.MaxDelay == 0 {
		d.MaxDelay = Duration(30 * time.Second)
	}
	if d.Multiplier == 0 {
		d.Multiplier = 2
	}
	if d.JitterPercent == 0 {
		d.JitterPercent = 20
	}
	if d.MinDelay == 0 {
		d.MinDelay = Duration(100 * time.Millisecond)
	}
	if d.Timeout == 0 {
		d.Timeout = Duration(30 * time.Second)
	}
	if cfg.Retry.BatchConcurrency == 0 {
		cfg.Retry.BatchConcurrency = 4
	}

	jobDefaults(&cfg.Scheduler.Discovery, 6*time.Hour, 15*time.Minute)
	jobDefaults(&cfg.Scheduler.Ingest, 15*time.Minute, 2*time.Minute)
	jobDefaults(&cfg.Scheduler.Credibility, time.Hour, 10*time.Minute)
	jobDefaults(&cfg.Scheduler.Snapshot, 24*time.Hour, time.Hour)
	jobDefaults(&cfg.Scheduler.Digest, 4*time.Hour, 30*time.Minute)

	if cfg.Discovery.ScoreThreshold == 0 {
		cfg.Discovery.ScoreThreshold = 50
	}
	if cfg.Discovery.MaxNewPerCycle == 0 {
		cfg.Discovery.MaxNewPerCycle = 10
	}
	if cfg.Discovery.ConfirmationRunsNeeded == 0 {
		cfg.Discovery.ConfirmationRunsNeeded = 2
	}
	if cfg.Discovery.DecayWindow == 0 {
		cfg.Discovery.DecayWindow = Duration(30 * 24 * time.Hour)
	}
	if cfg.Discovery.ApprovedGrace == 0 {
		cfg.Discovery.ApprovedGrace = Duration(7 * 24 * time.Hour)
	}
	if cfg.Discovery.PurgeAfter == 0 {
		cfg.Discovery.PurgeAfter = Duration(30 * 24 * time.Hour)
	}
	if cfg.Discovery.ReferenceWindow == 0 {
		cfg.Discovery.ReferenceWindow = Duration(7 * 24 * time.Hour)
	}
	if cfg.Discovery.FallbackCategory == "" {
		cfg.Discovery.FallbackCategory = "general"
	}
	if cfg.Discovery.RecentRuns == 0 {
		cfg.Discovery.RecentRuns = 10
	}

	if cfg.Credibility.Alpha == 0 {
		cfg.Credibility.Alpha = 0.1
	}

	if cfg.Consensus.MinIdentities == 0 {
		cfg.Consensus.MinIdentities = 5
	}
	if cfg.Consensus.Window == 0 {
		cfg.Consensus.Window = Duration(48 * time.Hour)
	}
	if cfg.Consensus.ShiftLookbackDays == 0 {
		cfg.Consensus.ShiftLookbackDays = 7
	}

	if cfg.Feed.RequestsPerSecond == 0 {
		cfg.Feed.RequestsPerSecond = 2
	}
	if cfg.Feed.Burst == 0 {
		cfg.Feed.Burst = 4
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = Duration(15 * time.Second)
	}
	if cfg.Feed.MaxItems == 0 {
		cfg.Feed.MaxItems = 50
	}

	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "heuristic"
	}

	if cfg.Publish.Driver == "" {
		cfg.Publish.Driver = "log"
	}
	if cfg.Publish.SubjectPrefix == "" {
		cfg.Publish.SubjectPrefix = "signald"
	}
}

func jobDefaults(j *JobConfig, interval, backoff time.Duration) {
	if j.Interval == 0 {
		j.Interval = Duration(interval)
	}
	if j.ErrorBackoff == 0 {
		j.ErrorBackoff = Duration(backoff)
	}
	if j.Jitter == 0 {
		j.Jitter = Duration(backoff / 10)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if keep := c.Store.ObservationRetention; keep < c.Discovery.ReferenceWindow || keep < c.Consensus.Window {
		return fmt.Errorf("store.observation_retention %s is shorter than the discovery or consensus window", keep.Duration())
	}

	for i, q := range c.Quotas {
		if q.Resource == "" {
			return fmt.Errorf("quotas[%d]: resource is required", i)
		}
		if q.Window <= 0 || q.Limit <= 0 {
			return fmt.Errorf("quotas[%d] (%s): window and limit must be positive", i, q.Resource)
		}
	}

	if c.Breakers.Default.FailureThreshold < 1 {
		return errors.New("breakers.default.failure_threshold must be at least 1")
	}

	if err := c.Retry.Default.validate(); err != nil {
		return fmt.Errorf("retry.default: %w", err)
	}
	for dep := range c.Retry.Dependencies {
		if err := c.Retry.For(dep).validate(); err != nil {
			return fmt.Errorf("retry.dependencies.%s: %w", dep, err)
		}
	}
	if c.Retry.BatchConcurrency < 1 {
		return errors.New("retry.batch_concurrency must be at least 1")
	}

	if c.Discovery.ScoreThreshold < 0 || c.Discovery.ScoreThreshold > 100 {
		return fmt.Errorf("discovery.score_threshold must be within 0-100, got %v", c.Discovery.ScoreThreshold)
	}
	if c.Discovery.ConfirmationRunsNeeded < 1 {
		return errors.New("discovery.confirmation_runs_needed must be at least 1")
	}
	if c.Credibility.Alpha <= 0 || c.Credibility.Alpha > 1 {
		return fmt.Errorf("credibility.alpha must be within (0,1], got %v", c.Credibility.Alpha)
	}
	if c.Consensus.MinIdentities < 1 {
		return errors.New("consensus.min_identities must be at least 1")
	}

	switch c.Oracle.Provider {
	case "heuristic":
	case "openai":
		if c.Oracle.Model == "" {
			return errors.New("oracle.model is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider)
	}

	switch c.Publish.Driver {
	case "log":
	case "nats":
		if c.Publish.URL == "" {
			return errors.New("publish.url is required for the nats driver")
		}
	default:
		return fmt.Errorf("unknown publish driver %q", c.Publish.Driver)
	}

	return nil
}

func (p RetryPolicyConfig) validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.JitterPercent < 0 || p.JitterPercent > 100 {
		return fmt.Errorf("jitter_percent must be within 0-100, got %v", p.JitterPercent)
	}
	if p.MaxDelay < p.InitialDelay {
		return errors.New("max_delay must not be smaller than initial_delay")
	}
	return nil
}
