package remote

import "time"

// Config controls the HTTP client used to talk to the stats service.
type Config struct {
	// BaseURL is the service root, e.g. "https://fwastats.example.com".
	// Paths are joined with a single slash.
	BaseURL string

	// RequestTimeout bounds a single call. 0 means DefaultRequestTimeout.
	RequestTimeout time.Duration

	// MaxConns is the per-host connection ceiling.
	// It is raised to Workers when lower; 0 means "use Workers".
	MaxConns int
	Workers  int

	// MaxRPS paces outbound calls across all workers. 0 disables pacing.
	MaxRPS int
}

const (
	DefaultRequestTimeout = 5 * time.Minute

	defaultMaxConns = 4
)

// Status is the common {message, status} reply of the update and finish endpoints.
type Status struct {
	Message string `json:"message"`
	Status  bool   `json:"status"`
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.MaxConns < c.Workers {
		c.MaxConns = c.Workers
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MaxRPS < 0 {
		c.MaxRPS = 0
	}
	return c
}
