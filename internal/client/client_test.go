package client

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi314/dpush/internal/protocol"
	"github.com/pi314/dpush/internal/scheduler"
	"github.com/pi314/dpush/internal/server"
)

func startService(t *testing.T) (*scheduler.Store, string) {
	t.Helper()
	store := scheduler.NewStore()
	ln, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.New(protocol.NewHandler(store, nil), server.Options{}, nil).Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return store, ln.Addr().String()
}

func TestSubmitThenDumpKeepsOrder(t *testing.T) {
	_, addr := startService(t)
	var out bytes.Buffer
	c := New(addr, &out)
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, nil, true, "/a", "push", []string{"f1"}))
	require.NoError(t, c.Submit(ctx, nil, true, "/a", "pull", []string{"f2"}))
	require.NoError(t, c.Dump(ctx, false))

	want := `{"status":"202 Accepted","reason":"f1"}` + "\n" +
		`{"status":"202 Accepted","reason":"f2"}` + "\n" +
		"[pending] cwd:/a\n[pending] cmd:push\n[pending] arg:f1\n" +
		"[pending] cwd:/a\n[pending] cmd:pull\n[pending] arg:f2\n"
	assert.Equal(t, want, out.String())
}

func TestSubmitPipedSendsOneRequestPerLine(t *testing.T) {
	store, addr := startService(t)
	c := New(addr, nil)

	in := strings.NewReader("a.mp4\n\n  b.mp4  \nc.mp4")
	require.NoError(t, c.Submit(context.Background(), in, false, "/videos", "push", []string{"ignored"}))

	snap := store.Snapshot()
	require.Len(t, snap.Pending, 3)
	for i, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		assert.Equal(t, "/videos", snap.Pending[i].Cwd)
		assert.Equal(t, "push", snap.Pending[i].Cmd)
		assert.Equal(t, []string{name}, snap.Pending[i].Args)
	}
}

func TestDumpJSONAndScheduleQuit(t *testing.T) {
	store, addr := startService(t)
	var out bytes.Buffer
	c := New(addr, &out)
	ctx := context.Background()

	require.NoError(t, c.ScheduleQuit(ctx))
	assert.Equal(t, `{"status":"202 Accepted","reason":"quit"}`+"\n", out.String())
	require.Equal(t, 1, store.Len())

	out.Reset()
	require.NoError(t, c.Dump(ctx, true))
	assert.JSONEq(t, `{"pending":[{"cwd":"","cmd":"quit","args":[]}]}`, out.String())
}

func TestSendReportsNotRunning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = New(addr, nil).Send(context.Background(), protocol.Request{Cmd: protocol.CmdDump})
	assert.ErrorIs(t, err, ErrNotRunning)
}
