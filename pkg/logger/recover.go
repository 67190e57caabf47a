package logger

import "runtime/debug"

// Go runs fn in a goroutine guarded by panic recovery.
func Go(l Logger, name string, fn func()) {
	go func() {
		defer Recover(l, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process.
func Recover(l Logger, name string) {
	if r := recover(); r != nil {
		OrNop(l).Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}
