package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMissingValue = errors.New("missing value")

// Args is the command line overlay.
type Args struct {
	URL        string
	Threads    int
	ConfigPath string

	// Unknown holds every argument that is not a recognised flag or its value.
	// Callers log them; they never stop the run.
	Unknown []string
}

// ParseArgs scans -url <base>, -threads <n> and -config <path>. Flags may use
// one or two dashes and the -name=value form. Anything else lands in Unknown.
func ParseArgs(argv []string) (Args, error) {
	var a Args
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		name, value, inline := splitFlag(arg)

		switch name {
		case "url", "threads", "config":
		default:
			a.Unknown = append(a.Unknown, arg)
			continue
		}

		if !inline {
			if i+1 >= len(argv) {
				return Args{}, fmt.Errorf("-%s: %w", name, ErrMissingValue)
			}
			i++
			value = argv[i]
		}

		switch name {
		case "url":
			a.URL = strings.TrimSpace(value)
		case "config":
			a.ConfigPath = strings.TrimSpace(value)
		case "threads":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return Args{}, fmt.Errorf("-threads: invalid number %q", value)
			}
			if n < 1 {
				return Args{}, fmt.Errorf("-threads: must be >= 1, got %d", n)
			}
			a.Threads = n
		}
	}
	return a, nil
}

func splitFlag(arg string) (name, value string, inline bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", "", false
	}
	s := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
	if k, v, ok := strings.Cut(s, "="); ok {
		return k, v, true
	}
	return s, "", false
}

// Overlay copies the non-empty CLI values over the file config.
func (c *Config) Overlay(a Args) {
	if a.URL != "" {
		c.URL = a.URL
	}
	if a.Threads > 0 {
		c.Threads = a.Threads
	}
}
