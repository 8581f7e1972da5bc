package tasksource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fwajob/internal/dispatch"
	"fwajob/internal/remote"
	logx "fwajob/pkg/logx"
)

const (
	pingPath        = "home/ping"
	taskIndexPath   = "Update/GetTasks"
	playerBatchPath = "Update/PlayerBatch"

	DefaultReadyAttempts = 5
	DefaultReadyInterval = time.Second
)

var ErrUnknownTask = errors.New("tasksource: task has no update path")

// Pather is implemented by every task kind this package can update.
type Pather interface {
	Path() string
}

// Source reads work lists from the stats service and performs updates.
type Source struct {
	c   *remote.Client
	log logx.Logger
}

func New(c *remote.Client, log logx.Logger) *Source {
	return &Source{c: c, log: log.With(logx.String("comp", "tasksource"))}
}

// Ping succeeds on any 2xx reply.
func (s *Source) Ping(ctx context.Context) error {
	_, err := s.c.Fetch(ctx, pingPath)
	return err
}

// AwaitReady pings the service up to maxAttempts times, interval apart.
// It reports whether a ping succeeded; callers go on either way.
func (s *Source) AwaitReady(ctx context.Context, maxAttempts int, interval time.Duration) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultReadyAttempts
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.log.Info("connecting", logx.String("url", s.c.BaseURL()), logx.Int("attempt", attempt))
		err := s.Ping(ctx)
		if err == nil {
			return true
		}
		s.log.Error("ping failed", logx.Int("attempt", attempt), logx.Err(err))
		if ctx.Err() != nil {
			return false
		}
		if attempt < maxAttempts && interval > 0 {
			t := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return false
			case <-t.C:
			}
		}
	}
	s.log.Warn("service not ready, continuing", logx.Int("attempts", maxAttempts))
	return false
}

func (s *Source) FetchTaskIndex(ctx context.Context) (Index, error) {
	ix, err := remote.FetchJSON[Index](ctx, s.c, taskIndexPath)
	if err != nil {
		return Index{}, fmt.Errorf("fetch task index: %w", err)
	}
	return ix, nil
}

func (s *Source) FetchPlayerBatch(ctx context.Context) ([]string, error) {
	tags, err := remote.FetchJSON[[]string](ctx, s.c, playerBatchPath)
	if err != nil {
		return nil, fmt.Errorf("fetch player batch: %w", err)
	}
	return tags, nil
}

// Update performs one update call for a ClanTask or PlayerTask.
func (s *Source) Update(ctx context.Context, t dispatch.Task) (remote.Status, error) {
	p, ok := t.(Pather)
	if !ok {
		return remote.Status{}, fmt.Errorf("%w: %T", ErrUnknownTask, t)
	}
	return remote.FetchJSON[remote.Status](ctx, s.c, p.Path())
}

var _ dispatch.Updater = (*Source)(nil)
