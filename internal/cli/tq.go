package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pi314/dpush/internal/client"
	"github.com/pi314/dpush/internal/recovery"
	"github.com/pi314/dpush/internal/service"
	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/internal/worker"
)

type tqOptions struct {
	block    bool
	load     bool
	dry      bool
	dump     bool
	json     bool
	autoQuit time.Duration
}

func newTQCommand(a *app) *cobra.Command {
	var opts tqOptions

	cmd := &cobra.Command{
		Use:   "tq [flags] [cmd [args...]]",
		Short: "Built-in task queue",
		Long: `Built-in task queue.

  dpush tq                     # start the queue service
  dpush tq push a.txt b.txt    # queue "drive push a.txt b.txt" in the current directory
  ls *.mp4 | dpush tq push     # queue one push per input line
  dpush tq dump                # show the queue (--json for dumpjson)
  dpush tq quit                # stop the service once queued work is done
  dpush tq dump | dpush tq -l  # restart the service from a dump`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTQ(cmd.Context(), opts, args)
		},
	}

	f := cmd.Flags()
	// Everything after the first positional belongs to the queued command.
	f.SetInterspersed(false)
	f.BoolVarP(&opts.block, "block", "b", false, "block and wait instead of putting the task into the queue")
	f.BoolVarP(&opts.load, "load", "l", false, "load unfinished tasks from a dump read on stdin")
	f.BoolVarP(&opts.dry, "dry", "n", false, "show actions and finish without actually running")
	f.BoolVarP(&opts.dump, "dump", "d", false, "show current content of the task queue")
	f.BoolVar(&opts.json, "json", false, "dump the queue as JSON")
	f.DurationVarP(&opts.autoQuit, "auto-quit", "a", 0, "quit after the queue stays empty this long (0 disables)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	a.v.BindPFlag("auto_quit", f.Lookup("auto-quit"))
	a.v.BindPFlag("metrics_addr", f.Lookup("metrics-addr"))

	return cmd
}

func (a *app) runTQ(ctx context.Context, opts tqOptions, args []string) error {
	switch {
	case opts.load:
		return a.runLoad(ctx, opts.dry)
	case opts.dump || (len(args) > 0 && args[0] == "dump"):
		return a.withClient(func(c *client.Client) error { return c.Dump(ctx, opts.json) })
	case len(args) == 0:
		return a.runServe(ctx, opts.dry, nil)
	case args[0] == "d":
		a.log.Error(`Use sub-command "d" instead`)
		return &ExitCodeError{Code: 1}
	case args[0] == types.QuitCmd:
		return a.withClient(func(c *client.Client) error { return c.ScheduleQuit(ctx) })
	case opts.block:
		return a.runBlocking(ctx, opts.dry, args[0], args[1:])
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("current directory: %w", err)
	}
	return a.withClient(func(c *client.Client) error {
		return c.Submit(ctx, a.streams.In, a.interactive(), cwd, args[0], args[1:])
	})
}

func (a *app) withClient(fn func(c *client.Client) error) error {
	err := fn(client.New(a.cfg.Addr(), a.streams.Out))
	if errors.Is(err, client.ErrNotRunning) {
		a.log.Error("Task queue not running (%s)", a.cfg.Addr())
		return &ExitCodeError{Code: 1}
	}
	return err
}

func (a *app) runner(dry bool) worker.Runner {
	if dry {
		return &worker.DryRunner{Binary: a.cfg.DriveBin, Logger: a.log}
	}
	r := worker.NewExecRunner(a.cfg.DriveBin, a.log)
	r.Stdout = a.streams.Out
	r.Stderr = a.streams.Err
	return r
}

// runServe starts the service, optionally seeded from a dump, and blocks
// until it stops.
func (a *app) runServe(ctx context.Context, dry bool, dump []byte) error {
	if err := a.log.Create(a.cfg.LogFile); err != nil {
		return err
	}
	defer a.log.Close()

	svc := service.New(service.Options{
		Config: a.cfg,
		Runner: a.runner(dry),
		Logger: a.log,
	})

	if dump != nil {
		if _, err := recovery.NewLoader(a.log).Restore(svc.Store(), dump); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitCodeError{Code: code}
	}
	return nil
}

func (a *app) runLoad(ctx context.Context, dry bool) error {
	data, err := io.ReadAll(a.streams.In)
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}

	if !dry {
		return a.runServe(ctx, false, data)
	}

	tasks, format, err := recovery.NewLoader(a.log).Parse(data)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Fprintln(a.streams.Out, t.String())
	}
	a.log.Info("would load %d task(s) from %s dump", len(tasks), format)
	return nil
}

// runBlocking runs one job in the current directory without the queue.
func (a *app) runBlocking(ctx context.Context, dry bool, cmd string, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("current directory: %w", err)
	}

	res := a.runner(dry).Run(ctx, cwd, cmd, args)
	if res.Aborted || res.Status == types.TaskFailed {
		return &ExitCodeError{Code: 1}
	}
	return nil
}
