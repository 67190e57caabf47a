package protocol

import (
	"encoding/json"
	"strings"

	"github.com/pi314/dpush/internal/scheduler"
	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/pkg/logger"
)

// Handler answers one request against a shared store. It never blocks on
// the execution loop.
type Handler struct {
	store  *scheduler.Store
	logger logger.Logger
}

func NewHandler(store *scheduler.Store, log logger.Logger) *Handler {
	return &Handler{store: store, logger: logger.OrNop(log)}
}

// Handle processes one request line and returns the full reply, each line
// newline-terminated.
func (h *Handler) Handle(line []byte) string {
	req, rej := Parse(line)
	if rej != nil {
		return encode(*rej)
	}

	switch req.Cmd {
	case CmdDumpJSON:
		return encode(h.dumpJSON())
	case CmdDump:
		return h.dump()
	case CmdScheduleQuit:
		h.store.Submit(types.NewQuitTask())
		h.logger.Debug("quit scheduled")
		return encode(accepted(ReasonQuit))
	}

	task, rej := req.Task()
	if rej != nil {
		return encode(*rej)
	}
	h.store.Submit(task)
	h.logger.Debug("accepted %s %v (cwd=%s)", task.Cmd, task.Args, task.Cwd)
	return encode(accepted(strings.Join(task.Args, ", ")))
}

func (h *Handler) dumpJSON() Dump {
	snap := h.store.Snapshot()
	d := Dump{Pending: make([]TaskJSON, 0, len(snap.Pending))}
	if snap.Current != nil {
		w := FromTask(*snap.Current)
		d.Working = &w
	}
	for _, t := range snap.Pending {
		d.Pending = append(d.Pending, FromTask(t))
	}
	return d
}

func (h *Handler) dump() string {
	snap := h.store.Snapshot()
	var b strings.Builder
	if snap.Current != nil {
		writeLine(&b, snap.Current.String())
	}
	for _, t := range snap.Pending {
		writeLine(&b, t.String())
	}
	return b.String()
}

func encode(v any) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Only plain structs and strings reach here.
		panic(err)
	}
	return b.String()
}

func writeLine(b *strings.Builder, s string) {
	b.WriteString(strings.TrimRight(s, " \t\r\n"))
	b.WriteString("\n")
}
