package poller

import (
	"context"
	"time"

	"fwajob/internal/remote"
	logx "fwajob/pkg/logx"
)

const (
	finishPath = "Update/UpdateFinished/"

	DefaultMaxAttempts = 5
)

// StatusFetcher is the slice of the remote client the poller needs.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, path string) (remote.Status, error)
}

// ClientFetcher adapts *remote.Client to StatusFetcher.
type ClientFetcher struct{ C *remote.Client }

func (f ClientFetcher) FetchStatus(ctx context.Context, path string) (remote.Status, error) {
	return remote.FetchJSON[remote.Status](ctx, f.C, path)
}

// Poller asks the service whether statistics aggregation has finished.
type Poller struct {
	f   StatusFetcher
	log logx.Logger

	// Interval is the pause between two attempts. 0 polls back to back.
	Interval time.Duration
}

func New(f StatusFetcher, log logx.Logger) *Poller {
	return &Poller{f: f, log: log.With(logx.String("comp", "poller"))}
}

// AwaitCompletion polls until the service reports status == true or
// maxAttempts attempts have been spent. Errors and status == false both use
// up an attempt.
func (p *Poller) AwaitCompletion(ctx context.Context, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		p.log.Info("updating statistics", logx.Int("attempt", attempt))
		st, err := p.f.FetchStatus(ctx, finishPath)
		switch {
		case err != nil:
			p.log.Error("statistics update failed", logx.Int("attempt", attempt), logx.Err(err))
		case st.Status:
			p.log.Info("statistics updated", logx.String("message", st.Message))
			return true
		default:
			p.log.Warn("statistics not finished", logx.String("message", st.Message), logx.Bool("status", st.Status))
		}

		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts && p.Interval > 0 {
			t := time.NewTimer(p.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				p.log.Warn("completion poll canceled", logx.Err(ctx.Err()))
				return false
			case <-t.C:
			}
		}
	}
	p.log.Warn("statistics did not finish", logx.Int("attempts", maxAttempts))
	return false
}
