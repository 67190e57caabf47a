package scheduler

import (
	"context"

	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/internal/worker"
	"github.com/pi314/dpush/pkg/logger"
)

// StopReason tells why the execution loop terminated. A job that aborted and
// an interrupt delivered to the service are kept apart on purpose.
type StopReason int

const (
	// StopQuit: the quit sentinel ran.
	StopQuit StopReason = iota
	// StopAborted: the job runner reported an abort.
	StopAborted
	// StopSignal: the loop context was canceled from outside after work
	// had started.
	StopSignal
	// StopIdle: the loop context was canceled while waiting for work.
	StopIdle
)

func (r StopReason) String() string {
	switch r {
	case StopQuit:
		return "quit"
	case StopAborted:
		return "aborted"
	case StopSignal:
		return "signal"
	case StopIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// ExitCode is 0 for a clean quit or an interrupt with nothing running.
func (r StopReason) ExitCode() int {
	if r == StopQuit || r == StopIdle {
		return 0
	}
	return 1
}

// Observer receives a copy of a task every time its state is logged.
type Observer interface {
	Observe(task types.Task)
}

// Loop is the single serial consumer of a Store.
type Loop struct {
	store     *Store
	runner    worker.Runner
	logger    logger.Logger
	observers []Observer
	stats     Stats

	// BeforeDrain, when set, runs after the loop stops taking tasks and
	// before queued tasks are canceled.
	BeforeDrain func()
}

func NewLoop(store *Store, runner worker.Runner, log logger.Logger, observers ...Observer) *Loop {
	return &Loop{
		store:     store,
		runner:    runner,
		logger:    logger.OrNop(log),
		observers: observers,
	}
}

// Run executes tasks one at a time until the quit sentinel runs, a job aborts
// or ctx is canceled. Whatever stopped it, every task still queued is then
// canceled without running.
func (l *Loop) Run(ctx context.Context) StopReason {
	reason := l.serve(ctx)
	if l.BeforeDrain != nil {
		l.BeforeDrain()
	}
	l.drain()
	l.logger.Info("task queue stopped (%s): %s", reason, l.stats)
	return reason
}

func (l *Loop) Stats() Stats {
	return l.stats
}

func (l *Loop) serve(ctx context.Context) StopReason {
	// Jobs are never canceled mid-flight; an interrupt only stops the loop
	// from taking the next task.
	runCtx := context.WithoutCancel(ctx)

	// busy is set once a task has run; an interrupt seen at the top of the
	// loop arrived while it was running.
	busy := false
	for {
		if ctx.Err() != nil {
			l.logger.Error("interrupted: %v", ctx.Err())
			if busy {
				return StopSignal
			}
			return StopIdle
		}

		task, err := l.store.TakeNext(ctx)
		if err != nil {
			l.logger.Error("interrupted while idle: %v", err)
			return StopIdle
		}
		busy = true

		if task.IsQuit() {
			l.transition(task, types.TaskInfo)
			l.runner.Run(runCtx, task.Cwd, task.Cmd, task.Args)
			l.transition(task, types.TaskSucceed)
			l.store.Finish()
			return StopQuit
		}

		l.transition(task, types.TaskWorking)
		res := l.runner.Run(runCtx, task.Cwd, task.Cmd, append([]string(nil), task.Args...))
		l.stats.TasksExecuted++

		if res.Aborted {
			l.transition(task, types.TaskInterrupted)
			l.stats.record(types.TaskInterrupted)
			l.store.Finish()
			return StopAborted
		}

		if res.Status != "" {
			l.store.SetStatus(task, res.Status)
		}
		l.stats.record(task.Status)
		l.report(task)
		l.store.Finish()

		if l.store.Len() == 0 {
			l.logger.Info("[info] Task queue empty")
		}
	}
}

func (l *Loop) drain() {
	for {
		task, ok := l.store.TryTake()
		if !ok {
			return
		}
		l.store.SetStatus(task, types.TaskCanceled)
		l.stats.record(types.TaskCanceled)
		l.report(task)
	}
}

func (l *Loop) transition(task *types.Task, status types.TaskStatus) {
	l.store.SetStatus(task, status)
	l.report(task)
}

func (l *Loop) report(task *types.Task) {
	snap := task.Clone()
	l.logger.Info("%s", snap.String())
	for _, o := range l.observers {
		o.Observe(snap)
	}
}
