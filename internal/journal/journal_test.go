package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi314/dpush/internal/db"
	"github.com/pi314/dpush/internal/types"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	conn, err := db.Init(filepath.Join(t.TempDir(), "state", "tq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn, nil)
}

func TestRecordAndRecent(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	task := types.NewTask("/a", "push", []string{"f1", "f2"})
	task.Status = types.TaskWorking
	require.NoError(t, j.Record(ctx, task.Clone()))
	task.Status = types.TaskSucceed
	task.UpdatedAt = time.UnixMilli(1_700_000_000_000)
	j.Observe(task.Clone())

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, types.TaskWorking, events[0].Status)
	assert.Equal(t, types.TaskSucceed, events[1].Status)
	assert.Equal(t, task.ID, events[1].TaskID)
	assert.Equal(t, "/a", events[1].Cwd)
	assert.Equal(t, "push", events[1].Cmd)
	assert.Equal(t, []string{"f1", "f2"}, events[1].Args)
	assert.True(t, events[1].At.Equal(time.UnixMilli(1_700_000_000_000)))
}

func TestRecentReturnsNewestOldestFirst(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		task := types.NewTask("/a", "push", []string{fmt.Sprint(i)})
		task.Status = types.TaskSucceed
		require.NoError(t, j.Record(ctx, *task))
	}

	events, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"3"}, events[0].Args)
	assert.Equal(t, []string{"4"}, events[1].Args)
}

func TestQuitTaskArgsRoundTripAsNull(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	q := types.NewQuitTask()
	q.Status = types.TaskInfo
	require.NoError(t, j.Record(ctx, *q))

	events, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "quit", events[0].Cmd)
	assert.Empty(t, events[0].Args)
}
