package dispatch

import (
	"context"
	"time"

	"fwajob/internal/remote"
)

// DefaultRampUp is the pause between two worker launches.
//
// The stats service times out the first requests when every worker connects
// at once, so workers are started one by one.
const DefaultRampUp = 2 * time.Second

// Config controls the dispatch engine.
type Config struct {
	// RampUp is the delay between successive worker launches.
	// Negative disables the stagger; 0 means DefaultRampUp.
	RampUp time.Duration
}

func (c Config) rampUp() time.Duration {
	if c.RampUp < 0 {
		return 0
	}
	if c.RampUp == 0 {
		return DefaultRampUp
	}
	return c.RampUp
}

// Task is one unit of update work sent to the stats service.
// Implementations must be immutable once enqueued.
type Task interface {
	// Key identifies the task within a phase (clan id, player tag).
	Key() string
	// Label is a human readable name for logs.
	Label() string
}

// Updater performs one update attempt for a task.
type Updater interface {
	Update(ctx context.Context, t Task) (remote.Status, error)
}

type UpdaterFunc func(ctx context.Context, t Task) (remote.Status, error)

func (f UpdaterFunc) Update(ctx context.Context, t Task) (remote.Status, error) { return f(ctx, t) }

// Outcome is the classified result of one attempt.
type Outcome int

const (
	Success Outcome = iota + 1
	// LogicalFailure is a well-formed reply with status == false.
	LogicalFailure
	// SoftFailure is a transport, status or decode error; eligible for retry.
	SoftFailure
	// ProtocolFault means the service rejects the whole batch.
	ProtocolFault
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case LogicalFailure:
		return "logical_failure"
	case SoftFailure:
		return "soft_failure"
	case ProtocolFault:
		return "protocol_fault"
	default:
		return "unknown"
	}
}

// PhaseResult aggregates one RunPhase call, including its serial retry pass.
//
// Failures is the only number callers need; the other counters are for logs.
// Drained tasks are neither successes nor failures.
type PhaseResult struct {
	Phase   string
	Total   int
	Workers int

	Attempted       int
	Succeeded       int
	LogicalFailures int
	SoftFailures    int
	Requeued        int
	Faults          int
	Drained         int

	Retried       int
	RetryFailures int

	Failures int
	Tripped  bool

	Duration time.Duration
}

// TaskEvent is the Data of task.* events on the bus.
type TaskEvent struct {
	Key       string        `json:"key"`
	Label     string        `json:"label"`
	Worker    string        `json:"worker"`
	Outcome   string        `json:"outcome,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration"`
}

// PhaseEvent is the Data of phase.* and circuit.* events on the bus.
type PhaseEvent struct {
	Total   int          `json:"total"`
	Workers int          `json:"workers"`
	Result  *PhaseResult `json:"result,omitempty"`
}
