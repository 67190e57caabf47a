package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/pkg/logger"
)

// Event is one logged task state.
type Event struct {
	ID     int64
	TaskID string
	Status types.TaskStatus
	Cwd    string
	Cmd    string
	Args   []string
	At     time.Time
}

// Journal appends task events to sqlite so history survives the process.
type Journal struct {
	db     *sql.DB
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Journal {
	return &Journal{db: db, logger: logger.OrNop(log)}
}

func (j *Journal) Record(ctx context.Context, task types.Task) error {
	args, err := json.Marshal(task.Args)
	if err != nil {
		return err
	}
	at := task.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO task_events(task_id, status, cwd, cmd, args, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, task.ID, string(task.Status), task.Cwd, task.Cmd, string(args), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record task %s: %w", task.ID, err)
	}
	return nil
}

// Observe records task and only logs failures; the queue keeps running
// when the journal is unavailable.
func (j *Journal) Observe(task types.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Record(ctx, task); err != nil {
		j.logger.Error("journal: %v", err)
	}
}

// Recent returns the last limit events, oldest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, task_id, status, cwd, cmd, args, at
		FROM (
			SELECT * FROM task_events ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			status string
			args   string
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &status, &e.Cwd, &e.Cmd, &args, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
			return nil, fmt.Errorf("event %d args: %w", e.ID, err)
		}
		e.Status = types.TaskStatus(status)
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}
	return events, rows.Err()
}
