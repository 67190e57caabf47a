package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/pkg/logger"
)

// Result is what one job invocation reports back to the execution loop.
type Result struct {
	Stdout  []byte
	Stderr  []byte
	Aborted bool
	// Status is the terminal status the job reports. Empty leaves the
	// task status untouched.
	Status types.TaskStatus
}

// Runner performs the actual work of a task. It is invoked synchronously,
// once per dequeued task.
type Runner interface {
	Run(ctx context.Context, cwd, cmd string, args []string) Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cwd, cmd string, args []string) Result

func (f RunnerFunc) Run(ctx context.Context, cwd, cmd string, args []string) Result {
	return f(ctx, cwd, cmd, args)
}

// ExecRunner runs "<Binary> <cmd> <args...>" inside cwd, copying the output
// to Stdout/Stderr while capturing it.
type ExecRunner struct {
	Binary string
	Stdout io.Writer
	Stderr io.Writer
	Logger logger.Logger
}

func NewExecRunner(binary string, log logger.Logger) *ExecRunner {
	return &ExecRunner{
		Binary: binary,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger.OrNop(log),
	}
}

func (r *ExecRunner) Run(ctx context.Context, cwd, cmd string, args []string) Result {
	if cmd == types.QuitCmd {
		return Result{}
	}

	if err := checkDir(cwd); err != nil {
		msg := []byte(err.Error() + "\n")
		if r.Stderr != nil {
			r.Stderr.Write(msg)
		}
		return Result{Stderr: msg, Status: types.TaskFailed}
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, r.Binary, append([]string{cmd}, args...)...)
	c.Dir = cwd
	c.Stdin = os.Stdin
	c.Stdout = tee(&stdout, r.Stdout)
	c.Stderr = tee(&stderr, r.Stderr)

	logger.OrNop(r.Logger).Debug("exec %s %s (cwd=%s)", r.Binary, strings.Join(append([]string{cmd}, args...), " "), cwd)

	err := c.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	switch {
	case err == nil:
		res.Status = types.TaskSucceed
	case aborted(err):
		res.Aborted = true
		res.Status = types.TaskInterrupted
	default:
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			// Binary missing or not executable.
			res.Stderr = append(res.Stderr, []byte(err.Error()+"\n")...)
		}
		res.Status = types.TaskFailed
	}
	return res
}

// aborted reports whether the child was killed by an interrupt-like signal.
func aborted(err error) bool {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return false
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return false
	}
	switch ws.Signal() {
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGKILL:
		return true
	}
	return false
}

func checkDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cwd %q: %w", dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("cwd %q: not a directory", dir)
	}
	return nil
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// DryRunner only logs what would have been executed.
type DryRunner struct {
	Binary string
	Logger logger.Logger
}

func (r *DryRunner) Run(_ context.Context, cwd, cmd string, args []string) Result {
	if cmd == types.QuitCmd {
		return Result{}
	}
	line := strings.Join(append([]string{r.Binary, cmd}, args...), " ")
	logger.OrNop(r.Logger).Info("[dry-run] (cd %s && %s)", cwd, line)
	return Result{Stdout: []byte(line + "\n"), Status: types.TaskSucceed}
}
