package recovery

import (
	"errors"
	"fmt"

	"github.com/pi314/dpush/internal/scheduler"
	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/pkg/logger"
)

// Format reads tasks back from one textual dump shape.
type Format interface {
	Name() string
	Parse(data []byte) ([]*types.Task, error)
}

// DefaultFormats is the try order: the dumpjson shape, then the dump text.
var DefaultFormats = []Format{Structured{}, Legacy{}}

var ErrNoFormat = errors.New("no format accepted the input")

// Loader tries each format in order on the complete input and keeps the
// first one that parses.
type Loader struct {
	Formats []Format
	Logger  logger.Logger
}

func NewLoader(log logger.Logger) *Loader {
	return &Loader{Formats: DefaultFormats, Logger: logger.OrNop(log)}
}

// Parse returns the recovered tasks in queue order and the name of the
// format that produced them.
func (l *Loader) Parse(data []byte) ([]*types.Task, string, error) {
	log := logger.OrNop(l.Logger)
	for _, f := range l.Formats {
		tasks, err := f.Parse(data)
		if err != nil {
			log.Warn("%s format rejected input: %v", f.Name(), err)
			continue
		}
		return tasks, f.Name(), nil
	}
	return nil, "", ErrNoFormat
}

// Restore parses data and submits the tasks to store in order.
func (l *Loader) Restore(store *scheduler.Store, data []byte) (int, error) {
	tasks, name, err := l.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("recover queue: %w", err)
	}
	for _, t := range tasks {
		store.Submit(t)
	}
	logger.OrNop(l.Logger).Info("recovered %d task(s) from %s dump", len(tasks), name)
	return len(tasks), nil
}

// build normalises a recovered record, dropping incomplete ones. The quit
// sentinel is kept whatever else the record carried.
func build(cwd, cmd string, args []string) (*types.Task, bool) {
	if cmd == types.QuitCmd {
		return types.NewQuitTask(), true
	}
	t := types.NewTask(cwd, cmd, args)
	if !t.Complete() {
		return nil, false
	}
	return t, true
}
