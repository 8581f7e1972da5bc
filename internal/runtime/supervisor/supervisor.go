// Package supervisor runs named goroutines under one shared context. Panics
// are recovered, and per-name run statistics are kept for diagnostics.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "fwajob/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	firstErr error
	runs     map[string]*RunStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// RunStats aggregates every goroutine started under one name.
type RunStats struct {
	Name    string        `json:"name"`
	Started int           `json:"started"`
	Running int           `json:"running"`
	Panics  int           `json:"panics"`
	LastErr string        `json:"last_err,omitempty"`
	Runtime time.Duration `json:"runtime"`
}

// Snapshot is a point-in-time copy of the run statistics, sorted by name.
type Snapshot struct {
	FirstError string     `json:"first_error,omitempty"`
	Runs       []RunStats `json:"runs"`
}

// Panics sums the recovered panics of every run.
func (s Snapshot) Panics() int {
	n := 0
	for _, r := range s.Runs {
		n += r.Panics
	}
	return n
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		runs:   map[string]*RunStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Go runs fn in a goroutine registered under name. A returned error other
// than context.Canceled, or a recovered panic, becomes the run's last error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	startedAt := s.begin(name)
	go func() {
		defer s.wg.Done()
		var err error
		panicked := false
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("panic in %s: %v", name, r)
				s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
			s.end(name, startedAt, err, panicked)
		}()

		if err = fn(s.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				err = nil
			} else {
				err = fmt.Errorf("%s: %w", name, err)
			}
		}
	}()
}

func (s *Supervisor) begin(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.runs[name]
	if r == nil {
		r = &RunStats{Name: name}
		s.runs[name] = r
	}
	r.Started++
	r.Running++
	return time.Now()
}

func (s *Supervisor) end(name string, startedAt time.Time, err error, panicked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.runs[name]
	r.Running--
	r.Runtime += time.Since(startedAt)
	if panicked {
		r.Panics++
	}
	if err != nil {
		r.LastErr = err.Error()
		if s.firstErr == nil {
			s.firstErr = err
		}
	}
}

// Err returns the first error recorded by any goroutine.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Runs: make([]RunStats, 0, len(s.runs))}
	if s.firstErr != nil {
		snap.FirstError = s.firstErr.Error()
	}
	for _, r := range s.runs {
		snap.Runs = append(snap.Runs, *r)
	}
	s.mu.Unlock()

	sort.Slice(snap.Runs, func(i, j int) bool { return snap.Runs[i].Name < snap.Runs[j].Name })
	return snap
}

// Stop cancels the shared context and waits like Wait.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done, and returns
// the first recorded error.
func (s *Supervisor) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
