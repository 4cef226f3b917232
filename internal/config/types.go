package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Duration is a time.Duration read from text. Besides Go duration syntax
// ("90s", "720h") it accepts a leading whole-day count, so decay windows can
// be written "30d" or "1d12h".
type Duration time.Duration

// ParseDuration parses s as a non-negative Duration.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	var days time.Duration
	if i := strings.IndexByte(s, 'd'); i > 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid day count in %q", s)
		}
		if n < 0 {
			return 0, fmt.Errorf("duration cannot be negative: %s", s)
		}
		days = time.Duration(n) * day
		s = s[i+1:]
	}

	var rest time.Duration
	if s != "" {
		var err error
		if rest, err = time.ParseDuration(s); err != nil {
			return 0, err
		}
	}
	if rest < 0 {
		return 0, fmt.Errorf("duration cannot be negative: %s", s)
	}
	return Duration(days + rest), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return fmt.Errorf("empty duration")
	}
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText writes Go duration syntax, which ParseDuration reads back.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is a credential. It prints as [REDACTED] through fmt and text
// encoders; Value returns the raw string.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString covers %#v.
func (s Secret) GoString() string { return "config.Secret(" + s.String() + ")" }

func (s Secret) Value() string { return string(s) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
