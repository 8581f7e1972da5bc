package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"fwajob/internal/eventbus"
	"fwajob/internal/remote"
	logx "fwajob/pkg/logx"
)

type workerStats struct {
	attempted int
	succeeded int
	logical   int
	soft      int
	requeued  int
	faults    int
	drained   int

	// failures counts soft and logical failures that were not requeued.
	failures int
}

func (s *workerStats) add(o workerStats) {
	s.attempted += o.attempted
	s.succeeded += o.succeeded
	s.logical += o.logical
	s.soft += o.soft
	s.requeued += o.requeued
	s.faults += o.faults
	s.drained += o.drained
	s.failures += o.failures
}

type worker struct {
	name    string
	engine  *Engine
	phase   string
	queue   *Queue
	retry   *Queue
	circuit *Circuit
	log     logx.Logger
}

func (w *worker) run(ctx context.Context) workerStats {
	var st workerStats
	for {
		t, ok := w.queue.Take()
		if !ok {
			return st
		}
		if w.circuit.Tripped() {
			st.drained++
			w.publish(eventbus.TaskDrained, t, TaskEvent{})
			continue
		}
		w.attempt(ctx, t, &st)
	}
}

// Classify maps one attempt to its outcome. trip reports whether the circuit
// must be tripped: on a protocol fault error, or on any reply whose message
// carries the protocol signature.
func Classify(st remote.Status, err error) (o Outcome, trip bool) {
	if err != nil {
		if remote.IsProtocolFault(err) {
			return ProtocolFault, true
		}
		return SoftFailure, false
	}
	trip = remote.HasProtocolSignature(st.Message)
	if !st.Status {
		return LogicalFailure, trip
	}
	return Success, trip
}

func (w *worker) attempt(ctx context.Context, t Task, st *workerStats) {
	start := time.Now()
	status, err := w.call(ctx, t)
	dur := time.Since(start)
	st.attempted++

	outcome, trip := Classify(status, err)
	ev := TaskEvent{Outcome: outcome.String(), Message: status.Message, Duration: dur}
	if err != nil {
		ev.Error = err.Error()
	}

	switch outcome {
	case Success:
		st.succeeded++
		w.log.Info("task updated",
			logx.String("task", t.Label()),
			logx.Int("remaining", w.queue.Len()),
			logx.String("message", status.Message),
			logx.Bool("status", status.Status),
			logx.Duration("dur", dur),
		)
		w.publish(eventbus.TaskSucceeded, t, ev)

	case LogicalFailure:
		st.logical++
		st.failures++
		w.log.Error("task update rejected",
			logx.String("task", t.Label()),
			logx.Int("remaining", w.queue.Len()),
			logx.String("message", status.Message),
			logx.Bool("status", status.Status),
			logx.Duration("dur", dur),
		)
		w.publish(eventbus.TaskFailed, t, ev)

	case SoftFailure:
		st.soft++
		st.failures++
		w.log.Error("task update failed",
			logx.String("task", t.Label()),
			logx.String("key", t.Key()),
			logx.Err(err),
			logx.Duration("dur", dur),
		)
		if w.retry != nil && w.retry.TryAdd(t) {
			st.failures--
			st.requeued++
			w.publish(eventbus.TaskRequeued, t, ev)
		} else {
			w.publish(eventbus.TaskFailed, t, ev)
		}

	case ProtocolFault:
		st.faults++
		w.log.Error("task update failed",
			logx.String("task", t.Label()),
			logx.String("key", t.Key()),
			logx.Err(err),
		)
		w.publish(eventbus.TaskFailed, t, ev)
	}

	if trip {
		w.tripAndDrain(st)
	}
}

// tripAndDrain stops the queue after a protocol error: every task still queued
// is discarded without a call and without being counted.
func (w *worker) tripAndDrain(st *workerStats) {
	if w.circuit.Trip() {
		w.log.Error("protocol error detected, emptying queue")
		w.engine.bus.Publish(eventbus.Event{Type: eventbus.CircuitTripped, Phase: w.phase, Data: PhaseEvent{}})
	}
	drained := w.queue.Drain()
	st.drained += len(drained)
	for _, t := range drained {
		w.publish(eventbus.TaskDrained, t, TaskEvent{})
	}
}

// call runs the updater, turning a panic into a soft failure for this task only.
func (w *worker) call(ctx context.Context, t Task) (st remote.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.log.Error("task.panic", logx.String("task", t.Label()), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return w.engine.up.Update(ctx, t)
}

func (w *worker) publish(typ string, t Task, ev TaskEvent) {
	ev.Key = t.Key()
	ev.Label = t.Label()
	ev.Worker = w.name
	ev.Remaining = w.queue.Len()
	w.engine.bus.Publish(eventbus.Event{Type: typ, Phase: w.phase, Data: ev})
}
