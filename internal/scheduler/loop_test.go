package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/internal/worker"
)

// recorder collects every reported task state in order.
type recorder struct {
	mu     sync.Mutex
	events []types.Task
}

func (r *recorder) Observe(task types.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, task)
}

func (r *recorder) statuses(cmd string) []types.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.TaskStatus
	for _, e := range r.events {
		if e.Cmd == cmd {
			out = append(out, e.Status)
		}
	}
	return out
}

func succeed(context.Context, string, string, []string) worker.Result {
	return worker.Result{Status: types.TaskSucceed}
}

func TestLoopRunsQueuedWorkThenQuits(t *testing.T) {
	s := NewStore()
	rec := &recorder{}

	var ran []string
	runner := worker.RunnerFunc(func(_ context.Context, cwd, cmd string, args []string) worker.Result {
		ran = append(ran, cmd)
		return worker.Result{Status: types.TaskSucceed}
	})

	s.Submit(types.NewTask("/a", "push", []string{"1"}))
	s.Submit(types.NewTask("/a", "pull", []string{"2"}))
	s.Submit(types.NewQuitTask())

	loop := NewLoop(s, runner, nil, rec)
	reason := loop.Run(context.Background())

	assert.Equal(t, StopQuit, reason)
	assert.Equal(t, 0, reason.ExitCode())
	assert.Equal(t, []string{"push", "pull", "quit"}, ran)
	assert.Equal(t, []types.TaskStatus{types.TaskWorking, types.TaskSucceed}, rec.statuses("push"))
	assert.Equal(t, []types.TaskStatus{types.TaskInfo, types.TaskSucceed}, rec.statuses("quit"))

	stats := loop.Stats()
	assert.EqualValues(t, 2, stats.TasksExecuted)
	assert.EqualValues(t, 2, stats.TasksSucceeded)
}

func TestLoopCancelsTasksQueuedAfterQuit(t *testing.T) {
	s := NewStore()
	rec := &recorder{}

	s.Submit(types.NewQuitTask())
	s.Submit(types.NewTask("/a", "push", []string{"late"}))

	reason := NewLoop(s, worker.RunnerFunc(succeed), nil, rec).Run(context.Background())

	assert.Equal(t, StopQuit, reason)
	assert.Equal(t, []types.TaskStatus{types.TaskCanceled}, rec.statuses("push"))
	assert.Zero(t, s.Len())
}

func TestLoopSignalLetsRunningJobFinishAndCancelsPending(t *testing.T) {
	s := NewStore()
	rec := &recorder{}

	started := make(chan struct{})
	release := make(chan struct{})
	var jobCtxErr atomic.Value
	runner := worker.RunnerFunc(func(ctx context.Context, cwd, cmd string, args []string) worker.Result {
		if cmd == "slow" {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				jobCtxErr.Store(err)
			}
		}
		return worker.Result{Status: types.TaskSucceed}
	})

	s.Submit(types.NewTask("/a", "slow", []string{"1"}))
	s.Submit(types.NewTask("/a", "push", []string{"2"}))
	s.Submit(types.NewTask("/a", "push", []string{"3"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan StopReason, 1)
	go func() { done <- NewLoop(s, runner, nil, rec).Run(ctx) }()

	<-started
	cancel()
	close(release)

	select {
	case reason := <-done:
		assert.Equal(t, StopSignal, reason)
		assert.Equal(t, 1, reason.ExitCode())
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}

	assert.Nil(t, jobCtxErr.Load(), "running job must not see the interrupt")
	assert.Equal(t, []types.TaskStatus{types.TaskWorking, types.TaskSucceed}, rec.statuses("slow"))
	assert.Equal(t, []types.TaskStatus{types.TaskCanceled, types.TaskCanceled}, rec.statuses("push"))
}

func TestLoopStopsWhenJobAborts(t *testing.T) {
	s := NewStore()
	rec := &recorder{}

	runner := worker.RunnerFunc(func(_ context.Context, _, cmd string, _ []string) worker.Result {
		if cmd == "boom" {
			return worker.Result{Aborted: true, Status: types.TaskInterrupted}
		}
		return worker.Result{Status: types.TaskSucceed}
	})

	s.Submit(types.NewTask("/a", "boom", []string{"1"}))
	s.Submit(types.NewTask("/a", "push", []string{"2"}))

	loop := NewLoop(s, runner, nil, rec)
	reason := loop.Run(context.Background())

	assert.Equal(t, StopAborted, reason)
	assert.Equal(t, 1, reason.ExitCode())
	assert.Equal(t, []types.TaskStatus{types.TaskWorking, types.TaskInterrupted}, rec.statuses("boom"))
	assert.Equal(t, []types.TaskStatus{types.TaskCanceled}, rec.statuses("push"))
	assert.EqualValues(t, 1, loop.Stats().TasksInterrupted)
	assert.EqualValues(t, 1, loop.Stats().TasksCanceled)
}

func TestLoopRecordsFailureAndContinues(t *testing.T) {
	s := NewStore()
	rec := &recorder{}

	runner := worker.RunnerFunc(func(_ context.Context, _, cmd string, _ []string) worker.Result {
		if cmd == "bad" {
			return worker.Result{Status: types.TaskFailed}
		}
		return worker.Result{Status: types.TaskSucceed}
	})

	s.Submit(types.NewTask("/a", "bad", []string{"1"}))
	s.Submit(types.NewTask("/a", "push", []string{"2"}))
	s.Submit(types.NewQuitTask())

	loop := NewLoop(s, runner, nil, rec)
	require.Equal(t, StopQuit, loop.Run(context.Background()))

	assert.Equal(t, []types.TaskStatus{types.TaskWorking, types.TaskFailed}, rec.statuses("bad"))
	assert.Equal(t, []types.TaskStatus{types.TaskWorking, types.TaskSucceed}, rec.statuses("push"))
	assert.EqualValues(t, 1, loop.Stats().TasksFailed)
}

func TestLoopRunsOneTaskAtATime(t *testing.T) {
	s := NewStore()

	var running, maxRunning int32
	runner := worker.RunnerFunc(func(context.Context, string, string, []string) worker.Result {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		return worker.Result{Status: types.TaskSucceed}
	})

	done := make(chan StopReason, 1)
	go func() { done <- NewLoop(s, runner, nil).Run(context.Background()) }()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Submit(types.NewTask("/a", "push", []string{"f"}))
		}()
	}
	wg.Wait()
	s.Submit(types.NewQuitTask())

	select {
	case reason := <-done:
		assert.Equal(t, StopQuit, reason)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not quit")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxRunning))
}

func TestBeforeDrainRunsBeforeCancel(t *testing.T) {
	s := NewStore()
	rec := &recorder{}
	s.Submit(types.NewQuitTask())

	loop := NewLoop(s, worker.RunnerFunc(succeed), nil, rec)
	loop.BeforeDrain = func() {
		// A task accepted while the listener shuts down is still canceled.
		s.Submit(types.NewTask("/a", "push", []string{"late"}))
	}
	require.Equal(t, StopQuit, loop.Run(context.Background()))
	assert.Equal(t, []types.TaskStatus{types.TaskCanceled}, rec.statuses("push"))
}

func TestLoopInterruptWhileIdleExitsCleanly(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan StopReason, 1)
	go func() { done <- NewLoop(s, worker.RunnerFunc(succeed), nil).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case reason := <-done:
		assert.Equal(t, StopIdle, reason)
		assert.Equal(t, 0, reason.ExitCode())
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopInterruptAfterWorkDrainedIsIdle(t *testing.T) {
	s := NewStore()
	rec := &recorder{}
	s.Submit(types.NewTask("/a", "push", []string{"1"}))

	ctx, cancel := context.WithCancel(context.Background())
	runner := worker.RunnerFunc(func(context.Context, string, string, []string) worker.Result {
		return worker.Result{Status: types.TaskSucceed}
	})
	loop := NewLoop(s, runner, nil, rec)
	done := make(chan StopReason, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.statuses("push")) == 2 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.IdleFor(time.Now().Add(time.Second)) > 0 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case reason := <-done:
		assert.Equal(t, StopIdle, reason)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}
