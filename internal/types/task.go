package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskWorking     TaskStatus = "working"
	TaskInfo        TaskStatus = "info"
	TaskSucceed     TaskStatus = "succeed"
	TaskFailed      TaskStatus = "failed"
	TaskInterrupted TaskStatus = "interrupted"
	TaskCanceled    TaskStatus = "canceled"
)

// QuitCmd is the command name reserved for the quit sentinel.
const QuitCmd = "quit"

// Terminal reports whether no further transition follows s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceed, TaskFailed, TaskInterrupted, TaskCanceled:
		return true
	}
	return false
}

type Task struct {
	ID        string
	Cwd       string
	Cmd       string
	Args      []string
	Status    TaskStatus
	CreatedAt time.Time
	StartedAt time.Time
	UpdatedAt time.Time
}

func NewTask(cwd, cmd string, args []string) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.New().String(),
		Cwd:       cwd,
		Cmd:       cmd,
		Args:      append([]string(nil), args...),
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewQuitTask returns the sentinel that stops the execution loop once it runs.
func NewQuitTask() *Task {
	return NewTask("", QuitCmd, nil)
}

func (t *Task) IsQuit() bool {
	return t.Cmd == QuitCmd
}

// Complete reports whether the task carries enough to be executed.
// The quit sentinel is always complete.
func (t *Task) Complete() bool {
	if t.IsQuit() {
		return true
	}
	return t.Cwd != "" && t.Cmd != "" && len(t.Args) > 0
}

// Clone returns a deep copy safe to hand out to readers.
func (t *Task) Clone() Task {
	c := *t
	c.Args = append([]string(nil), t.Args...)
	return c
}

// String renders the textual block used by dump and read back by legacy recovery:
//
//	[working] cwd:/home/user/project
//	[working] cmd:push
//	[working] arg:file1.txt
func (t Task) String() string {
	tag := t.Status
	if tag == "" {
		tag = TaskPending
	}
	prefix := "[" + string(tag) + "] "

	var b strings.Builder
	if t.Cwd != "" {
		b.WriteString(prefix + "cwd:" + t.Cwd + "\n")
	}
	b.WriteString(prefix + "cmd:" + t.Cmd + "\n")
	for _, a := range t.Args {
		b.WriteString(prefix + "arg:" + a + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
