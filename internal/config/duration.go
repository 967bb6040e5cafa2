package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config file are Go duration strings ("30s", "6h").
// Every consumer (watchdog interval, HTTP timeouts, sqlite busy_timeout)
// treats the value as a delay, so negatives are rejected.

// ParseDurationField parses the duration at the named config path.
// An empty value parses to zero with no error; callers that want a
// default use ParseDurationOrDefault instead.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def for an omitted or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
