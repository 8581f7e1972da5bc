package config

import (
	"errors"
	"net/url"
	"runtime"
	"strings"
	"time"

	"fwajob/internal/dispatch"
	"fwajob/internal/poller"
	"fwajob/internal/remote"
	"fwajob/internal/tasksource"
	logx "fwajob/pkg/logx"
)

var ErrNoURL = errors.New("config: url is required (-url <baseUrl>)")

// Settings is a Config with defaults applied and every duration parsed.
type Settings struct {
	URL     string
	Threads int

	Logging  logx.Config
	Remote   remote.Config
	Dispatch dispatch.Config

	ReadyAttempts  int
	ReadyInterval  time.Duration
	FinishAttempts int
	FinishInterval time.Duration
}

// Resolve validates c and applies defaults.
func (c *Config) Resolve() (Settings, error) {
	var s Settings

	s.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if s.URL == "" {
		return Settings{}, ErrNoURL
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Settings{}, errors.New("config: url must be absolute, e.g. https://host")
	}

	s.Threads = c.Threads
	if s.Threads <= 0 {
		s.Threads = runtime.NumCPU()
	}

	console := true
	if c.Logging.Console != nil {
		console = *c.Logging.Console
	}
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		level = "INFO"
	}
	s.Logging = logx.Config{
		Level:   level,
		Console: console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}

	timeout, err := ParseDurationOrDefault("remote.request_timeout", c.Remote.RequestTimeout, remote.DefaultRequestTimeout)
	if err != nil {
		return Settings{}, err
	}
	if c.Remote.MaxConns < 0 || c.Remote.MaxRPS < 0 {
		return Settings{}, errors.New("config: remote.max_conns and remote.max_rps must be >= 0")
	}
	s.Remote = remote.Config{
		BaseURL:        s.URL,
		RequestTimeout: timeout,
		MaxConns:       c.Remote.MaxConns,
		Workers:        s.Threads,
		MaxRPS:         c.Remote.MaxRPS,
	}

	ramp, err := ParseDurationOrUnset("dispatch.ramp_up", c.Dispatch.RampUp, dispatch.DefaultRampUp)
	if err != nil {
		return Settings{}, err
	}
	if ramp == 0 {
		// dispatch treats 0 as "default"; negative disables the stagger.
		ramp = -1
	}
	s.Dispatch = dispatch.Config{RampUp: ramp}

	s.ReadyAttempts = attemptsOrDefault(c.Readiness.Attempts, tasksource.DefaultReadyAttempts)
	if s.ReadyInterval, err = ParseDurationOrUnset("readiness.interval", c.Readiness.Interval, tasksource.DefaultReadyInterval); err != nil {
		return Settings{}, err
	}
	s.FinishAttempts = attemptsOrDefault(c.Finish.Attempts, poller.DefaultMaxAttempts)
	if s.FinishInterval, err = ParseDurationField("finish.interval", c.Finish.Interval); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func attemptsOrDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
