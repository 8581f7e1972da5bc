package dispatch

import "sync/atomic"

type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitTripped
)

func (s CircuitState) String() string {
	if s == CircuitTripped {
		return "tripped"
	}
	return "closed"
}

// Circuit is the per-queue drain-and-stop flag.
//
// Any worker that sees a protocol fault trips it; every worker sharing the
// queue reads it before processing a task. It never resets.
type Circuit struct {
	state atomic.Int32
}

// Trip moves the circuit to Tripped. It reports true only for the call that
// performed the transition.
func (c *Circuit) Trip() bool {
	return c.state.CompareAndSwap(int32(CircuitClosed), int32(CircuitTripped))
}

func (c *Circuit) Tripped() bool { return c.State() == CircuitTripped }

func (c *Circuit) State() CircuitState { return CircuitState(c.state.Load()) }
