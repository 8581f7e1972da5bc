package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"fwajob/internal/config"
	"fwajob/internal/dispatch"
	"fwajob/internal/eventbus"
	"fwajob/internal/poller"
	"fwajob/internal/progress"
	"fwajob/internal/remote"
	"fwajob/internal/runner"
	rtsup "fwajob/internal/runtime/supervisor"
	"fwajob/internal/tasksource"
	logx "fwajob/pkg/logx"
)

// exitError is returned when the run could not complete at all. The shell
// sees it as 255.
const exitError = -1

// maxFailureCode keeps large failure counts from wrapping modulo 256 into 0
// or into exitError.
const maxFailureCode = 254

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: the total update failure count capped at
// maxFailureCode, or exitError.
func run(argv []string) (code int) {
	boot := logx.NewConsole("INFO")
	defer func() {
		if r := recover(); r != nil {
			boot.Error("fatal panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			code = exitError
		}
	}()

	args, err := config.ParseArgs(argv)
	if err != nil {
		boot.Error("invalid arguments", logx.Err(err))
		return exitError
	}
	for _, a := range args.Unknown {
		boot.Error("unknown parameter", logx.String("arg", a))
	}

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		boot.Error("fatal config", logx.Err(err))
		return exitError
	}
	cfg.Overlay(args)
	settings, err := cfg.Resolve()
	if err != nil {
		boot.Error("fatal config", logx.Err(err))
		return exitError
	}

	logSvc, log := logx.New(settings.Logging)
	defer func() { _ = logSvc.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := execute(ctx, settings, log)
	if err != nil {
		log.Error("run failed", logx.Err(err))
		return exitError
	}
	return failureCode(res.Failures())
}

func failureCode(failures int) int {
	switch {
	case failures < 0:
		return 0
	case failures > maxFailureCode:
		return maxFailureCode
	}
	return failures
}

func execute(ctx context.Context, s config.Settings, log logx.Logger) (runner.Result, error) {
	client, err := remote.New(s.Remote, log)
	if err != nil {
		return runner.Result{}, err
	}
	log.Info("run started",
		logx.String("url", client.BaseURL()),
		logx.Int("threads", s.Threads),
		logx.Int("max_conns", client.MaxConns()),
	)

	bus := eventbus.New()
	reporter := progress.New(bus, progress.SystemdNotifier{}, log)

	sup := rtsup.New(ctx, rtsup.WithLogger(log))
	sup.Go("progress", reporter.Run)
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		if err := sup.Stop(stopCtx); err != nil {
			log.Warn("background shutdown", logx.Err(err))
		}
	}()
	reporter.Ready()

	src := tasksource.New(client, log)
	engine := dispatch.New(s.Dispatch, src, log, bus)
	done := poller.New(poller.ClientFetcher{C: client}, log)
	done.Interval = s.FinishInterval

	r := runner.New(src, engine, done, runner.Options{
		Workers:        s.Threads,
		ReadyAttempts:  s.ReadyAttempts,
		ReadyInterval:  s.ReadyInterval,
		FinishAttempts: s.FinishAttempts,
	}, log)

	res, err := r.Run(ctx)
	if err != nil {
		reporter.Stopping("failed: " + err.Error())
		return res, err
	}
	summary := fmt.Sprintf("%d clan update errors, %d player update errors", res.ClanFailures, res.PlayerFailures)
	log.Info(summary)
	reporter.Stopping(summary)
	return res, nil
}
