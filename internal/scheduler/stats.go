package scheduler

import (
	"fmt"

	"github.com/pi314/dpush/internal/types"
)

type Stats struct {
	// task lifecycle
	TasksExecuted    int64
	TasksSucceeded   int64
	TasksFailed      int64
	TasksInterrupted int64
	TasksCanceled    int64
}

func (s *Stats) record(status types.TaskStatus) {
	switch status {
	case types.TaskSucceed:
		s.TasksSucceeded++
	case types.TaskFailed:
		s.TasksFailed++
	case types.TaskInterrupted:
		s.TasksInterrupted++
	case types.TaskCanceled:
		s.TasksCanceled++
	}
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"executed=%d succeeded=%d failed=%d interrupted=%d canceled=%d",
		s.TasksExecuted, s.TasksSucceeded, s.TasksFailed, s.TasksInterrupted, s.TasksCanceled,
	)
}
