package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pi314/dpush/internal/types"
)

// Store is the shared FIFO queue plus the single current-task slot.
//
// Any number of goroutines may Submit; exactly one consumer (the Loop) may
// call TakeNext, TryTake, SetStatus and Finish.
type Store struct {
	mu        sync.Mutex
	queue     []*types.Task
	current   *types.Task
	ready     chan struct{}
	idleSince time.Time
	onDepth   func(delta, depth int)
}

// Snapshot is a point-in-time copy of the store for introspection.
type Snapshot struct {
	Current *types.Task
	Pending []types.Task
}

func NewStore() *Store {
	return &Store{
		ready:     make(chan struct{}, 1),
		idleSince: time.Now(),
	}
}

// OnDepthChange registers fn to be called, under the store lock, with the
// change and the resulting queue length after every submit or dequeue.
func (s *Store) OnDepthChange(fn func(delta, depth int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDepth = fn
}

// Submit appends task to the queue tail.
func (s *Store) Submit(task *types.Task) {
	s.mu.Lock()
	task.Status = types.TaskPending
	task.UpdatedAt = time.Now()
	s.queue = append(s.queue, task)
	if s.onDepth != nil {
		s.onDepth(1, len(s.queue))
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// TakeNext blocks until the queue is non-empty, then moves its head into the
// current-task slot and returns it.
func (s *Store) TakeNext(ctx context.Context) (*types.Task, error) {
	for {
		if task, ok := s.take(true); ok {
			return task, nil
		}
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryTake removes the queue head without blocking and without occupying
// the current-task slot. Used while draining.
func (s *Store) TryTake() (*types.Task, bool) {
	return s.take(false)
}

func (s *Store) take(claim bool) (*types.Task, bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil, false
	}
	task := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if claim {
		s.current = task
	}
	if s.onDepth != nil {
		s.onDepth(-1, len(s.queue))
	}
	s.mu.Unlock()
	return task, true
}

// SetStatus transitions task under the store lock so concurrent snapshots
// never observe a torn value.
func (s *Store) SetStatus(task *types.Task, status types.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	task.Status = status
	task.UpdatedAt = now
	if status == types.TaskWorking || status == types.TaskInfo {
		task.StartedAt = now
	}
}

// Finish clears the current-task slot.
func (s *Store) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	if len(s.queue) == 0 {
		s.idleSince = time.Now()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Pending: make([]types.Task, 0, len(s.queue))}
	if s.current != nil {
		c := s.current.Clone()
		snap.Current = &c
	}
	for _, t := range s.queue {
		snap.Pending = append(snap.Pending, t.Clone())
	}
	return snap
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// IdleFor reports how long the store has had no current task and an empty
// queue. It returns 0 while there is work.
func (s *Store) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil || len(s.queue) > 0 {
		return 0
	}
	return now.Sub(s.idleSince)
}
