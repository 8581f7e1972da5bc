package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"fwajob/internal/eventbus"
	"fwajob/internal/remote"
	logx "fwajob/pkg/logx"
)

// scriptedUpdater answers each call from a per-key script indexed by attempt.
type scriptedUpdater struct {
	mu       sync.Mutex
	calls    map[string]int
	times    []time.Time
	delay    time.Duration
	fallback func(attempt int) (remote.Status, error)
	script   map[string]func(attempt int) (remote.Status, error)
}

func newScripted() *scriptedUpdater {
	return &scriptedUpdater{
		calls:  map[string]int{},
		script: map[string]func(int) (remote.Status, error){},
		fallback: func(int) (remote.Status, error) {
			return remote.Status{Message: "ok", Status: true}, nil
		},
	}
}

func (u *scriptedUpdater) Update(ctx context.Context, t Task) (remote.Status, error) {
	u.mu.Lock()
	u.calls[t.Key()]++
	n := u.calls[t.Key()]
	u.times = append(u.times, time.Now())
	fn := u.script[t.Key()]
	u.mu.Unlock()

	if u.delay > 0 {
		time.Sleep(u.delay)
	}
	if fn == nil {
		fn = u.fallback
	}
	return fn(n)
}

func (u *scriptedUpdater) callsFor(key string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[key]
}

func (u *scriptedUpdater) totalCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, c := range u.calls {
		n += c
	}
	return n
}

func tasks(keys ...string) []Task {
	out := make([]Task, 0, len(keys))
	for _, k := range keys {
		out = append(out, testTask(k))
	}
	return out
}

func newTestEngine(up Updater, bus eventbus.Bus) *Engine {
	return New(Config{RampUp: -1}, up, logx.Nop(), bus)
}

var errReset = errors.New("connection reset by peer")

// lockedBuffer is a log sink shared by concurrent workers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunPhaseAllSucceed(t *testing.T) {
	t.Parallel()
	up := newScripted()
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", tasks("1", "2", "3"), 2, true)

	if res.Failures != 0 || res.Succeeded != 3 || res.Attempted != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, k := range []string{"1", "2", "3"} {
		if n := up.callsFor(k); n != 1 {
			t.Fatalf("task %s attempted %d times, want 1", k, n)
		}
	}
	if res.Retried != 0 {
		t.Fatalf("no retry pass expected, got %d", res.Retried)
	}
}

func TestRunPhaseProtocolFaultDrainsQueue(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.fallback = func(int) (remote.Status, error) {
		return remote.Status{}, fmt.Errorf("remote status: %s: backend refused", remote.ProtocolSignature)
	}
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", tasks("1", "2"), 1, true)

	if res.Failures != 0 {
		t.Fatalf("Failures = %d, want 0", res.Failures)
	}
	if res.Attempted != 1 || res.Drained != 1 || res.Faults != 1 || !res.Tripped {
		t.Fatalf("unexpected result: %+v", res)
	}
	if up.totalCalls() != 1 {
		t.Fatalf("calls = %d, want 1", up.totalCalls())
	}
	if res.Retried != 0 || res.Requeued != 0 {
		t.Fatalf("protocol faults must not be retried: %+v", res)
	}
}

func TestRunPhaseLogicalFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.script["#P0"] = func(int) (remote.Status, error) {
		return remote.Status{Message: "Player not found", Status: false}, nil
	}
	res := newTestEngine(up, nil).RunPhase(context.Background(), "players", tasks("#P0"), 4, false)

	if res.Failures != 1 || res.LogicalFailures != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if up.callsFor("#P0") != 1 {
		t.Fatalf("calls = %d, want 1", up.callsFor("#P0"))
	}
}

func TestRunPhaseLogicalFailureWithRetryEnabled(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.script["a"] = func(int) (remote.Status, error) { return remote.Status{Status: false}, nil }
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", tasks("a"), 1, true)

	if res.Failures != 1 || res.Requeued != 0 || up.callsFor("a") != 1 {
		t.Fatalf("status=false is counted once and never requeued: %+v", res)
	}
}

func TestRunPhaseSoftFailureRetriedOnce(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.script["a"] = func(attempt int) (remote.Status, error) {
		if attempt == 1 {
			return remote.Status{}, errReset
		}
		return remote.Status{Message: "ok", Status: true}, nil
	}
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", tasks("a", "b"), 2, true)

	if res.Failures != 0 {
		t.Fatalf("Failures = %d, want 0", res.Failures)
	}
	if res.Requeued != 1 || res.Retried != 1 || res.RetryFailures != 0 || res.Succeeded != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if up.callsFor("a") != 2 || up.callsFor("b") != 1 {
		t.Fatalf("calls a=%d b=%d", up.callsFor("a"), up.callsFor("b"))
	}
}

func TestRunPhaseRetryFailureIsCounted(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.fallback = func(int) (remote.Status, error) { return remote.Status{}, errReset }
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", tasks("a", "b", "c"), 3, true)

	if res.Failures != 3 || res.RetryFailures != 3 || res.Requeued != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, k := range []string{"a", "b", "c"} {
		if n := up.callsFor(k); n != 2 {
			t.Fatalf("task %s attempted %d times, want 2", k, n)
		}
	}
}

func TestRunPhaseDuplicateEntriesRequeuedIndependently(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.script["A"] = func(attempt int) (remote.Status, error) {
		if attempt <= 2 {
			return remote.Status{}, errReset
		}
		return remote.Status{Message: "ok", Status: true}, nil
	}
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", tasks("A", "A"), 1, true)

	if res.Failures != 0 || res.Requeued != 2 || res.Retried != 2 || res.Succeeded != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n := up.callsFor("A"); n != 4 {
		t.Fatalf("A attempted %d times, want 4", n)
	}
}

func TestRunPhaseSoftFailureWithoutRetryQueue(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.fallback = func(int) (remote.Status, error) { return remote.Status{}, errReset }
	res := newTestEngine(up, nil).RunPhase(context.Background(), "players", tasks("a", "b"), 2, false)

	if res.Failures != 2 || res.SoftFailures != 2 || res.Requeued != 0 || up.totalCalls() != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunPhaseEmptyStartsNoWorkers(t *testing.T) {
	t.Parallel()
	up := newScripted()
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", nil, 4, true)
	if res != (PhaseResult{Phase: "clans", Duration: res.Duration}) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if up.totalCalls() != 0 {
		t.Fatal("no calls expected")
	}
}

func TestRunPhaseSignatureInReplyMessage(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.fallback = func(int) (remote.Status, error) {
		return remote.Status{Message: "API Error ProtocolError while reading clan", Status: false}, nil
	}
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", tasks("1", "2", "3"), 1, true)

	if res.Failures != 1 || res.Attempted != 1 || res.Drained != 2 || !res.Tripped {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunPhaseRecoversUpdaterPanic(t *testing.T) {
	t.Parallel()
	up := UpdaterFunc(func(ctx context.Context, t Task) (remote.Status, error) {
		panic("nil map")
	})
	res := newTestEngine(up, nil).RunPhase(context.Background(), "clans", tasks("a"), 1, true)
	if res.Failures != 1 || res.Requeued != 1 || res.RetryFailures != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunPhaseStaggersWorkerLaunch(t *testing.T) {
	t.Parallel()
	up := newScripted()
	up.delay = 100 * time.Millisecond
	eng := New(Config{RampUp: 40 * time.Millisecond}, up, logx.Nop(), nil)

	res := eng.RunPhase(context.Background(), "clans", tasks("1", "2", "3", "4", "5", "6"), 3, false)
	if res.Workers != 3 || res.Succeeded != 6 {
		t.Fatalf("unexpected result: %+v", res)
	}

	up.mu.Lock()
	times := append([]time.Time(nil), up.times...)
	up.mu.Unlock()
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	if d := times[1].Sub(times[0]); d < 35*time.Millisecond {
		t.Fatalf("second worker started %v after the first, want >= ramp-up", d)
	}
	if d := times[2].Sub(times[0]); d < 75*time.Millisecond {
		t.Fatalf("third worker started %v after the first, want >= 2x ramp-up", d)
	}
}

func TestRunPhaseStopsLaunchingWhenQueueEmpty(t *testing.T) {
	t.Parallel()
	up := newScripted()
	eng := New(Config{RampUp: 150 * time.Millisecond}, up, logx.Nop(), nil)

	res := eng.RunPhase(context.Background(), "clans", tasks("1", "2"), 4, false)
	if res.Workers != 1 {
		t.Fatalf("Workers = %d, want 1", res.Workers)
	}
	if res.Succeeded != 2 {
		t.Fatalf("Succeeded = %d, want 2", res.Succeeded)
	}
}

func TestRunPhasePublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	up := newScripted()
	up.script["b"] = func(int) (remote.Status, error) { return remote.Status{}, errReset }
	newTestEngine(up, bus).RunPhase(context.Background(), "clans", tasks("a", "b"), 1, true)

	counts := map[string]int{}
	timeout := time.After(time.Second)
	for counts[eventbus.PhaseFinished] == 0 {
		select {
		case e := <-ch:
			counts[e.Type]++
		case <-timeout:
			t.Fatalf("missing phase.finished, got %v", counts)
		}
	}
	if counts[eventbus.PhaseStarted] != 1 || counts[eventbus.TaskSucceeded] != 1 || counts[eventbus.TaskRequeued] != 1 || counts[eventbus.TaskFailed] != 1 {
		t.Fatalf("unexpected events: %v", counts)
	}
}

func TestRunPhaseLogsWorkerRuns(t *testing.T) {
	t.Parallel()
	var out lockedBuffer
	up := newScripted()
	up.delay = 20 * time.Millisecond
	up.script["b"] = func(int) (remote.Status, error) { return remote.Status{}, errReset }
	eng := New(Config{RampUp: -1}, up, logx.NewWriter(&out, "DEBUG"), nil)
	eng.RunPhase(context.Background(), "clans", tasks("a", "b"), 2, true)

	var finished []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if strings.Contains(line, `"message":"worker finished"`) {
			finished = append(finished, line)
		}
	}
	if len(finished) != 3 {
		t.Fatalf("worker finished lines = %d, want 3 (two parallel, one retry):\n%s", len(finished), out.String())
	}
	for _, want := range []string{`"worker":"clans.worker.0"`, `"worker":"clans.worker.1"`, `"worker":"clans.retry.worker.0"`} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("log missing %s", want)
		}
	}
	for _, line := range finished {
		if !strings.Contains(line, `"panics":0`) || !strings.Contains(line, `"runtime"`) {
			t.Fatalf("worker line lacks run stats: %s", line)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  remote.Status
		err     error
		outcome Outcome
		trip    bool
	}{
		{name: "success", status: remote.Status{Status: true}, outcome: Success},
		{name: "logical", status: remote.Status{Status: false}, outcome: LogicalFailure},
		{name: "soft", err: errReset, outcome: SoftFailure},
		{name: "timeout", err: &remote.Error{Kind: remote.KindTimeout}, outcome: SoftFailure},
		{name: "typed fault", err: &remote.Error{Kind: remote.KindStatus, Code: 500, ProtocolFault: true}, outcome: ProtocolFault, trip: true},
		{name: "foreign fault", err: errors.New("API Error ProtocolError"), outcome: ProtocolFault, trip: true},
		{name: "signature in reply", status: remote.Status{Message: "API Error ProtocolError"}, outcome: LogicalFailure, trip: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			o, trip := Classify(tt.status, tt.err)
			if o != tt.outcome || trip != tt.trip {
				t.Fatalf("Classify = %s,%v want %s,%v", o, trip, tt.outcome, tt.trip)
			}
		})
	}
}
