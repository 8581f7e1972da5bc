package dispatch

import (
	"context"
	"fmt"
	"time"

	"fwajob/internal/eventbus"
	rtsup "fwajob/internal/runtime/supervisor"
	logx "fwajob/pkg/logx"
)

// Engine drains one work list per RunPhase call across a pool of workers.
type Engine struct {
	cfg Config
	up  Updater
	log logx.Logger
	bus eventbus.Bus
}

func New(cfg Config, up Updater, log logx.Logger, bus eventbus.Bus) *Engine {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Engine{
		cfg: cfg,
		up:  up,
		log: log.With(logx.String("comp", "dispatch")),
		bus: bus,
	}
}

// RunPhase processes items with up to workers concurrent workers and returns
// once every item has been attempted or drained.
//
// With enableRetry, entries that fail softly during the parallel pass are
// queued once more and re-attempted by a single serial worker after the pool
// exits. Entries sharing a key are requeued independently.
func (e *Engine) RunPhase(ctx context.Context, phase string, items []Task, workers int, enableRetry bool) PhaseResult {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	res := PhaseResult{Phase: phase, Total: len(items)}
	log := e.log.With(logx.String("phase", phase))

	work := NewQueue(0)
	for _, t := range items {
		if err := work.Add(t); err != nil {
			log.Warn("task rejected", logx.Err(err))
		}
	}
	work.Close()

	if work.IsCompleted() {
		log.Info("no tasks to process")
		res.Duration = time.Since(start)
		return res
	}

	var retry *Queue
	if enableRetry {
		retry = NewQueue(0)
	}

	workers = clampWorkers(workers, work.Len())
	log.Info("processing tasks", logx.Int("tasks", work.Len()), logx.Int("workers", workers), logx.Bool("retry", enableRetry))
	e.bus.Publish(eventbus.Event{Type: eventbus.PhaseStarted, Phase: phase, Data: PhaseEvent{Total: len(items), Workers: workers}})

	parallel := e.runPool(ctx, phase, work, retry, workers, e.cfg.rampUp())
	res.add(parallel)
	res.Workers = parallel.workers
	res.Tripped = parallel.tripped

	if retry != nil {
		retry.Close()
		if n := retry.Len(); n > 0 {
			log.Info("retrying failed updates", logx.Int("tasks", n))
			res.Retried = n
			again := e.runPool(ctx, phase+".retry", retry, nil, 1, 0)
			res.add(again)
			res.RetryFailures = again.failures
		}
	}

	res.Duration = time.Since(start)
	log.Info("phase finished",
		logx.Int("failures", res.Failures),
		logx.Int("succeeded", res.Succeeded),
		logx.Int("requeued", res.Requeued),
		logx.Int("retry_failures", res.RetryFailures),
		logx.Int("drained", res.Drained),
		logx.Bool("tripped", res.Tripped),
		logx.Duration("dur", res.Duration),
	)
	snapshot := res
	e.bus.Publish(eventbus.Event{Type: eventbus.PhaseFinished, Phase: phase, Data: PhaseEvent{Total: len(items), Workers: res.Workers, Result: &snapshot}})
	return res
}

// poolResult is the sum of every worker's stats for one pool run.
type poolResult struct {
	workerStats
	workers int
	tripped bool
}

func (r *PhaseResult) add(p poolResult) {
	r.Attempted += p.attempted
	r.Succeeded += p.succeeded
	r.LogicalFailures += p.logical
	r.SoftFailures += p.soft
	r.Requeued += p.requeued
	r.Faults += p.faults
	r.Drained += p.drained
	r.Failures += p.failures
}

// runPool starts the workers one by one, rampUp apart, and waits for all of them.
func (e *Engine) runPool(ctx context.Context, name string, q *Queue, retry *Queue, workers int, rampUp time.Duration) poolResult {
	circuit := &Circuit{}
	log := e.log.With(logx.String("phase", name))

	sup := rtsup.New(context.Background(), rtsup.WithLogger(log))
	stats := make([]workerStats, workers)

	launched := 0
	for i := 0; i < workers; i++ {
		if i > 0 {
			sleepCtx(ctx, rampUp)
			if q.IsCompleted() {
				log.Debug("queue drained during ramp-up", logx.Int("launched", launched))
				break
			}
		}
		idx := i
		w := worker{
			name:    fmt.Sprintf("%s.worker.%d", name, idx),
			engine:  e,
			phase:   name,
			queue:   q,
			retry:   retry,
			circuit: circuit,
			log:     log.With(logx.Int("worker", idx)),
		}
		sup.Go(w.name, func(_ context.Context) error {
			stats[idx] = w.run(ctx)
			return nil
		})
		launched++
	}

	err := sup.Wait(context.Background())
	snap := sup.Snapshot()
	if err != nil {
		log.Error("worker exited abnormally", logx.Err(err), logx.Int("panics", snap.Panics()))
	}
	for _, r := range snap.Runs {
		fields := []logx.Field{
			logx.String("worker", r.Name),
			logx.Duration("runtime", r.Runtime),
			logx.Int("panics", r.Panics),
		}
		if r.LastErr != "" {
			log.Error("worker finished", append(fields, logx.String("last_err", r.LastErr))...)
			continue
		}
		log.Debug("worker finished", fields...)
	}

	out := poolResult{workers: launched, tripped: circuit.Tripped()}
	for _, st := range stats[:launched] {
		out.workerStats.add(st)
	}
	return out
}

func clampWorkers(workers, items int) int {
	if workers < 1 {
		workers = 1
	}
	if items > 0 && workers > items {
		workers = items
	}
	return workers
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
