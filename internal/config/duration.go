package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	d, _, err := parseOptionalDuration(path, raw)
	return d, err
}

// ParseDurationOrDefault returns def when raw is empty or "0s".
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

// ParseDurationOrUnset returns def only when raw is empty, so an explicit "0s"
// stays 0.
func ParseDurationOrUnset(path, raw string, def time.Duration) (time.Duration, error) {
	d, set, err := parseOptionalDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if !set {
		return def, nil
	}
	return d, nil
}

func parseOptionalDuration(path, raw string) (time.Duration, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, true, nil
}
