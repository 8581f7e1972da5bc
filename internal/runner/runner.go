package runner

import (
	"context"
	"fmt"
	"time"

	"fwajob/internal/dispatch"
	"fwajob/internal/tasksource"
	logx "fwajob/pkg/logx"
)

// Source is what the runner needs from the stats service.
type Source interface {
	AwaitReady(ctx context.Context, maxAttempts int, interval time.Duration) bool
	FetchTaskIndex(ctx context.Context) (tasksource.Index, error)
	FetchPlayerBatch(ctx context.Context) ([]string, error)
}

type Completion interface {
	AwaitCompletion(ctx context.Context, maxAttempts int) bool
}

type Phaser interface {
	RunPhase(ctx context.Context, phase string, items []dispatch.Task, workers int, enableRetry bool) dispatch.PhaseResult
}

type Options struct {
	Workers int

	ReadyAttempts  int
	ReadyInterval  time.Duration
	FinishAttempts int
}

type Result struct {
	ClanFailures   int
	PlayerFailures int

	// Ready and Completed report the readiness and completion polls; neither
	// affects the failure counts.
	Ready     bool
	Completed bool

	Clans   dispatch.PhaseResult
	Players dispatch.PhaseResult
}

// Failures is the process exit code of a finished run.
func (r Result) Failures() int { return r.ClanFailures + r.PlayerFailures }

// Runner sequences one batch: clans first, then players.
type Runner struct {
	src    Source
	engine Phaser
	done   Completion
	opts   Options
	log    logx.Logger
}

func New(src Source, engine Phaser, done Completion, opts Options, log logx.Logger) *Runner {
	return &Runner{
		src:    src,
		engine: engine,
		done:   done,
		opts:   opts,
		log:    log.With(logx.String("comp", "runner")),
	}
}

// Run executes the clan phase, the completion poll and the player phase.
// A failed task index or player batch fetch aborts the run with an error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var res Result

	if err := r.updateClans(ctx, &res); err != nil {
		return res, err
	}
	if err := r.updatePlayers(ctx, &res); err != nil {
		return res, err
	}

	r.log.Info("run finished",
		logx.Int("clan_failures", res.ClanFailures),
		logx.Int("player_failures", res.PlayerFailures),
		logx.Bool("statistics_completed", res.Completed),
	)
	return res, nil
}

func (r *Runner) updateClans(ctx context.Context, res *Result) error {
	res.Ready = r.src.AwaitReady(ctx, r.opts.ReadyAttempts, r.opts.ReadyInterval)

	ix, err := r.src.FetchTaskIndex(ctx)
	if err != nil {
		return fmt.Errorf("update clans: %w", err)
	}
	for _, msg := range ix.Errors {
		r.log.Error("task index error", logx.String("error", msg))
	}

	res.Clans = r.engine.RunPhase(ctx, "clans", ix.ClanTasks(), r.opts.Workers, true)
	res.ClanFailures = res.Clans.Failures

	res.Completed = r.done.AwaitCompletion(ctx, r.opts.FinishAttempts)
	r.log.Info("clan update finished", logx.Int("failures", res.ClanFailures))
	return nil
}

func (r *Runner) updatePlayers(ctx context.Context, res *Result) error {
	tags, err := r.src.FetchPlayerBatch(ctx)
	if err != nil {
		return fmt.Errorf("update players: %w", err)
	}

	res.Players = r.engine.RunPhase(ctx, "players", tasksource.PlayerTasks(tags), r.opts.Workers, false)
	res.PlayerFailures = res.Players.Failures
	r.log.Info("player update finished", logx.Int("failures", res.PlayerFailures))
	return nil
}
