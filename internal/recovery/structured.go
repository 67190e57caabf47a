package recovery

import (
	"encoding/json"
	"fmt"

	"github.com/pi314/dpush/internal/protocol"
	"github.com/pi314/dpush/internal/types"
)

// Structured reads the dumpjson shape: {"working": {...}, "pending": [...]}.
type Structured struct{}

func (Structured) Name() string { return "structured" }

func (Structured) Parse(data []byte) ([]*types.Task, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("not a JSON object")
	}

	var entries []protocol.TaskJSON
	if b, ok := raw["working"]; ok && string(b) != "null" {
		var w protocol.TaskJSON
		if err := json.Unmarshal(b, &w); err != nil {
			return nil, fmt.Errorf("working: %w", err)
		}
		entries = append(entries, w)
	}
	if b, ok := raw["pending"]; ok {
		var pending []protocol.TaskJSON
		if err := json.Unmarshal(b, &pending); err != nil {
			return nil, fmt.Errorf("pending: %w", err)
		}
		entries = append(entries, pending...)
	}

	tasks := make([]*types.Task, 0, len(entries))
	for _, e := range entries {
		if t, ok := build(e.Cwd, e.Cmd, e.Args); ok {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
