package config

// Config is the on-disk job configuration. Every field is optional; the CLI
// arguments -url and -threads override the file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Example (YAML):
//
//	url: https://fwastats.example.com
//	threads: 8
//	logging: { level: INFO, console: true, file: { enabled: true, path: ./fwajob.log } }
//	remote: { request_timeout: 5m, max_conns: 16, max_rps: 0 }
//	dispatch: { ramp_up: 2s }
//	readiness: { attempts: 5, interval: 1s }
//	finish: { attempts: 5, interval: 0s }
type Config struct {
	URL     string `json:"url,omitempty"`
	Threads int    `json:"threads,omitempty"`

	Logging  LoggingConfig  `json:"logging"`
	Remote   RemoteConfig   `json:"remote"`
	Dispatch DispatchConfig `json:"dispatch"`

	// Readiness bounds the ping loop before the task index is fetched.
	Readiness PollConfig `json:"readiness"`
	// Finish bounds the statistics completion poll after the clan phase.
	Finish PollConfig `json:"finish"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RemoteConfig controls the HTTP client.
//
// Defaults:
//   - request_timeout: "5m"
//   - max_conns: 0 (use the worker count)
//   - max_rps: 0 (no pacing)
type RemoteConfig struct {
	RequestTimeout string `json:"request_timeout,omitempty"`
	MaxConns       int    `json:"max_conns,omitempty"`
	MaxRPS         int    `json:"max_rps,omitempty"`
}

// DispatchConfig controls the worker pool.
//
// RampUp is the pause between two worker launches. Omitted means "2s";
// an explicit "0s" starts every worker at once.
type DispatchConfig struct {
	RampUp string `json:"ramp_up,omitempty"`
}

// PollConfig bounds a retry loop.
//
// Attempts <= 0 falls back to the default (5). Interval omitted falls back to
// the loop's own default.
type PollConfig struct {
	Attempts int    `json:"attempts,omitempty"`
	Interval string `json:"interval,omitempty"`
}
