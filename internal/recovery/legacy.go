package recovery

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/pkg/logger"
)

// Legacy reads the plain-text dump, one "[<tag>] <key>:<value>" line per
// field. It also reads the task log, whose lines carry a timestamp and level
// before the tag. It never fails; incomplete records are dropped.
type Legacy struct{}

func (Legacy) Name() string { return "legacy" }

func (Legacy) Parse(data []byte) ([]*types.Task, error) {
	var p legacyParser
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.feed(sc.Text())
	}
	p.flush()
	return p.tasks, nil
}

// legacyParser accumulates one record at a time.
//
// A record ends at a line that is not a field line, at a cwd line, or at a
// cmd line once the record already has a cmd. The last two split adjacent
// dump blocks, which carry no separator line.
type legacyParser struct {
	cwd    string
	cmd    string
	hasCmd bool
	args   []string
	tasks  []*types.Task
}

func (p *legacyParser) feed(line string) {
	key, value, ok := fieldLine(line)
	if !ok {
		p.flush()
		return
	}

	switch key {
	case "cwd":
		p.flush()
		p.cwd = value
	case "cmd":
		if p.hasCmd {
			p.flush()
		}
		p.cmd = value
		p.hasCmd = true
	case "arg":
		p.args = append(p.args, value)
	}
}

func (p *legacyParser) flush() {
	if t, ok := build(p.cwd, p.cmd, p.args); ok {
		p.tasks = append(p.tasks, t)
	}
	p.cwd, p.cmd, p.hasCmd, p.args = "", "", false, nil
}

// loadableTags are the tags of work that has not finished. Blocks tagged
// info, succeed or failed in a task log are boundaries, not records.
var loadableTags = map[types.TaskStatus]bool{
	types.TaskWorking:     true,
	types.TaskPending:     true,
	types.TaskInterrupted: true,
	types.TaskCanceled:    true,
}

// fieldLine splits "[<tag>] <key>:<value>" with key one of cwd, cmd, arg.
func fieldLine(line string) (key, value string, ok bool) {
	line = logger.TrimPrefix(strings.TrimRight(line, " \t\r\n"))
	tag, rest, ok := strings.Cut(line, "] ")
	if !ok || !strings.HasPrefix(tag, "[") || !loadableTags[types.TaskStatus(tag[1:])] {
		return "", "", false
	}
	key, value, ok = strings.Cut(rest, ":")
	if !ok {
		return "", "", false
	}
	switch key {
	case "cwd", "cmd", "arg":
		return key, value, true
	}
	return "", "", false
}
