package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"fwajob/internal/dispatch"
	"fwajob/internal/eventbus"
	logx "fwajob/pkg/logx"
)

// Notifier delivers service manager state strings ("READY=1", "STATUS=...").
type Notifier interface {
	Notify(state string) error
}

// SystemdNotifier sends states over $NOTIFY_SOCKET. Outside systemd every
// call is a no-op.
type SystemdNotifier struct{}

func (SystemdNotifier) Notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

// Counters is the live view of the current phase.
type Counters struct {
	Phase     string
	Total     int
	Done      int
	Succeeded int
	Failed    int
	Requeued  int
	Drained   int
	Tripped   bool
}

func (c Counters) String() string {
	if c.Phase == "" {
		return "starting"
	}
	s := fmt.Sprintf("%s: %d/%d done, %d failed, %d requeued", c.Phase, c.Done, c.Total, c.Failed, c.Requeued)
	if c.Tripped {
		s += fmt.Sprintf(", protocol error (%d drained)", c.Drained)
	}
	return s
}

// Reporter follows dispatch events and mirrors progress to the service
// manager status line.
type Reporter struct {
	n   Notifier
	log logx.Logger
	bus eventbus.Bus

	ch    <-chan eventbus.Event
	unsub func()

	every rate.Sometimes

	mu  sync.Mutex
	cur Counters
}

const defaultStatusInterval = time.Second

// New subscribes immediately so no event published after New is missed.
func New(bus eventbus.Bus, n Notifier, log logx.Logger) *Reporter {
	if n == nil {
		n = SystemdNotifier{}
	}
	ch, unsub := bus.Subscribe(256)
	return &Reporter{
		n:     n,
		log:   log.With(logx.String("comp", "progress")),
		bus:   bus,
		ch:    ch,
		unsub: unsub,
		every: rate.Sometimes{Interval: defaultStatusInterval},
	}
}

func (r *Reporter) Ready() {
	r.notify(daemon.SdNotifyReady)
}

// Stopping reports the final summary and the stopping state.
func (r *Reporter) Stopping(summary string) {
	r.notify("STATUS=" + summary)
	r.notify(daemon.SdNotifyStopping)
	if d := eventbus.Dropped(r.bus); d > 0 {
		r.log.Warn("progress events dropped", logx.Int64("dropped", int64(d)))
	}
}

func (r *Reporter) Snapshot() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// Run consumes events until ctx is done. It is meant to run under the
// supervisor.
func (r *Reporter) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-r.ch:
			if !ok {
				return nil
			}
			r.apply(e)
		}
	}
}

func (r *Reporter) apply(e eventbus.Event) {
	r.mu.Lock()
	force := false
	switch e.Type {
	case eventbus.PhaseStarted:
		r.cur = Counters{Phase: e.Phase}
		if pe, ok := e.Data.(dispatch.PhaseEvent); ok {
			r.cur.Total = pe.Total
		}
		force = true
	case eventbus.TaskSucceeded:
		r.cur.Done++
		r.cur.Succeeded++
	case eventbus.TaskFailed:
		r.cur.Done++
		r.cur.Failed++
	case eventbus.TaskRequeued:
		r.cur.Requeued++
	case eventbus.TaskDrained:
		r.cur.Done++
		r.cur.Drained++
	case eventbus.CircuitTripped:
		r.cur.Tripped = true
		force = true
	case eventbus.PhaseFinished:
		force = true
	}
	status := r.cur.String()
	r.mu.Unlock()

	if force {
		r.notify("STATUS=" + status)
		return
	}
	r.every.Do(func() { r.notify("STATUS=" + status) })
}

func (r *Reporter) notify(state string) {
	if err := r.n.Notify(state); err != nil {
		r.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
