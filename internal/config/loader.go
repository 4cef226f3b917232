package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1 << 20

	// EnvPrefix marks the environment variables Load reads.
	EnvPrefix = "SIGNALD_"
)

// Load reads configuration from the YAML file at path (optional, may be
// empty) and then overrides it with environment variables.
//
// Environment variables drop the SIGNALD_ prefix and split on the first
// underscore into section and field:
//
//	SIGNALD_SERVER_HTTP_PORT             -> server.http_port
//	SIGNALD_DISCOVERY_SCORE_THRESHOLD    -> discovery.score_threshold
//	SIGNALD_ORACLE_API_KEY               -> oracle.api_key
//
// Nested sections (quotas, per-dependency overrides) are file-only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read SIGNALD_ environment: %w", err)
	}

	cfg := new(Config)
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if section, field, ok := strings.Cut(key, "_"); ok {
		return section + "." + field
	}
	return key
}

// readConfigFile reads path after checking the open descriptor: regular
// file, at most 1MB, not writable by group or others (it may carry the
// oracle API key).
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	switch {
	case err != nil:
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	case !info.Mode().IsRegular():
		return nil, fmt.Errorf("config file %s is not a regular file", path)
	case runtime.GOOS != "windows" && info.Mode().Perm()&0o022 != 0:
		return nil, fmt.Errorf("insecure config file permissions on %s: %v", path, info.Mode().Perm())
	case info.Size() > maxConfigFileSize:
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	// Bound the read in case the file grows after Stat.
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return content, nil
}
