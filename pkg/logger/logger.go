package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Logger is the printf-style contract components depend on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TimeLayout is the timestamp that starts every log line.
const TimeLayout = "2006-01-02 15:04:05"

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// FileLogger writes every line to the console and, once Create has been
// called, appends it to the log file as well.
type FileLogger struct {
	mu      sync.Mutex
	console io.Writer
	colored bool
	file    *os.File
	level   Level
	now     func() time.Time
}

// New returns a logger writing to console only.
func New(console io.Writer) *FileLogger {
	colored := false
	if f, ok := console.(*os.File); ok {
		colored = term.IsTerminal(int(f.Fd()))
	}
	return &FileLogger{
		console: console,
		colored: colored,
		level:   LevelInfo,
		now:     time.Now,
	}
}

// Create opens the append-only log file, creating parent directories.
// Calling it again replaces the previous file.
func (l *FileLogger) Create(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	return nil
}

func (l *FileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	ts := l.now().Format(TimeLayout)
	msg := fmt.Sprintf(format, args...)
	tag := "[" + level.String() + "]"
	consoleTag := tag
	if l.colored {
		consoleTag = levelColors[level].Sprint(tag)
	}

	// Multi-line messages (task blocks) keep the prefix on every line.
	for _, line := range strings.Split(msg, "\n") {
		if l.console != nil {
			fmt.Fprintf(l.console, "%s %s %s\n", ts, consoleTag, line)
		}
		if l.file != nil {
			fmt.Fprintf(l.file, "%s %s %s\n", ts, tag, line)
		}
	}
}

func (l *FileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *FileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *FileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *FileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// TrimPrefix strips the "<timestamp> [LEVEL] " prefix written by FileLogger,
// returning line unchanged when it has none.
func TrimPrefix(line string) string {
	n := len(TimeLayout)
	if len(line) <= n || line[n] != ' ' {
		return line
	}
	if _, err := time.ParseInLocation(TimeLayout, line[:n], time.Local); err != nil {
		return line
	}
	rest := line[n+1:]
	for level := LevelDebug; level <= LevelError; level++ {
		if after, ok := strings.CutPrefix(rest, "["+level.String()+"] "); ok {
			return after
		}
	}
	return line
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l when non-nil, otherwise a no-op logger.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	if fl, ok := l.(*FileLogger); ok && fl == nil {
		return Nop()
	}
	return l
}

var std = New(os.Stderr)

// Default returns the process-wide logger writing to stderr.
func Default() *FileLogger {
	return std
}
