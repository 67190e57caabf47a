// Package protocol defines the line-delimited JSON wire format spoken between
// the queue service and its clients, one request and one response per
// connection.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/pi314/dpush/internal/types"
)

// Response status strings borrow HTTP phrasing; the transport is plain TCP.
const (
	StatusAccepted   = "202 Accepted"
	StatusBadRequest = "400 Bad Request"
)

// Commands with special handling. Any other cmd is enqueued as a task.
const (
	CmdDumpJSON     = "dumpjson"
	CmdDump         = "dump"
	CmdScheduleQuit = "schedule_quit"
)

// Rejection reasons.
const (
	ReasonInvalidFormat = "Invalid format"
	ReasonNoCmd         = "Should provide cmd"
	ReasonNoCwd         = "Should provide cwd"
	ReasonNoArgs        = "No arguments provided"
	ReasonArgsNotList   = "Arguments should be a list"
	ReasonLineBreak     = "Fields should not contain line breaks"
	ReasonQuit          = "quit"
)

// Request is what a client sends.
type Request struct {
	Cmd  string   `json:"cmd"`
	Cwd  string   `json:"cwd,omitempty"`
	Args []string `json:"args,omitempty"`
}

// Response answers an enqueue, schedule_quit or a rejected request.
type Response struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func accepted(reason string) Response {
	return Response{Status: StatusAccepted, Reason: reason}
}

func badRequest(reason string) Response {
	return Response{Status: StatusBadRequest, Reason: reason}
}

// TaskJSON is a task as it appears in a dumpjson reply.
type TaskJSON struct {
	Cwd  string   `json:"cwd"`
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

// Dump is the dumpjson reply. Working is omitted while the loop is idle.
type Dump struct {
	Working *TaskJSON  `json:"working,omitempty"`
	Pending []TaskJSON `json:"pending"`
}

func FromTask(t types.Task) TaskJSON {
	args := t.Args
	if args == nil {
		args = []string{}
	}
	return TaskJSON{Cwd: t.Cwd, Cmd: t.Cmd, Args: args}
}

// ParsedRequest is a request that passed the common validation. Raw keeps
// the remaining fields for the path-specific checks.
type ParsedRequest struct {
	Cmd string
	raw map[string]json.RawMessage
}

// Parse decodes one request line. A non-nil Response means the request was
// rejected.
func Parse(line []byte) (ParsedRequest, *Response) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil || raw == nil {
		r := badRequest(ReasonInvalidFormat)
		return ParsedRequest{}, &r
	}

	cmd := stringField(raw["cmd"])
	if cmd == "" {
		r := badRequest(ReasonNoCmd)
		return ParsedRequest{}, &r
	}
	return ParsedRequest{Cmd: cmd, raw: raw}, nil
}

// Task validates the enqueue fields and builds the task.
func (p ParsedRequest) Task() (*types.Task, *Response) {
	cwd := stringField(p.raw["cwd"])
	if cwd == "" {
		r := badRequest(ReasonNoCwd)
		return nil, &r
	}

	args, reason := argsField(p.raw["args"])
	if reason != "" {
		r := badRequest(reason)
		return nil, &r
	}
	// dump writes one field per line; a line break would split it.
	for _, f := range append([]string{p.Cmd, cwd}, args...) {
		if strings.ContainsAny(f, "\r\n") {
			r := badRequest(ReasonLineBreak)
			return nil, &r
		}
	}
	return types.NewTask(cwd, p.Cmd, args), nil
}

// stringField returns the string value of b, or "" when absent or not a string.
func stringField(b json.RawMessage) string {
	if b == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return ""
	}
	return s
}

// argsField treats every empty value (null, "", [], {}, 0, false) as missing
// and anything that is not a list of strings as malformed.
func argsField(b json.RawMessage) ([]string, string) {
	if b == nil {
		return nil, ReasonNoArgs
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, ReasonArgsNotList
	}

	switch x := v.(type) {
	case nil:
		return nil, ReasonNoArgs
	case bool:
		if !x {
			return nil, ReasonNoArgs
		}
	case float64:
		if x == 0 {
			return nil, ReasonNoArgs
		}
	case string:
		if x == "" {
			return nil, ReasonNoArgs
		}
	case map[string]any:
		if len(x) == 0 {
			return nil, ReasonNoArgs
		}
	case []any:
		if len(x) == 0 {
			return nil, ReasonNoArgs
		}
		args := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, ReasonArgsNotList
			}
			args = append(args, s)
		}
		return args, ""
	}
	return nil, ReasonArgsNotList
}
