package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/pi314/dpush/internal/protocol"
)

// ErrNotRunning is returned when nothing listens on the service address.
var ErrNotRunning = errors.New("task queue not running")

type Client struct {
	Addr    string
	Timeout time.Duration
	// Out receives every response, trimmed of trailing whitespace.
	Out io.Writer
}

func New(addr string, out io.Writer) *Client {
	return &Client{Addr: addr, Timeout: 30 * time.Second, Out: out}
}

// Send opens a connection, writes req as one JSON line, half-closes, and
// reads until the service closes the connection.
func (c *Client) Send(ctx context.Context, req protocol.Request) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return "", fmt.Errorf("%w (%s)", ErrNotRunning, c.Addr)
		}
		return "", fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	w := bufio.NewWriter(conn)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimRight(string(data), " \t\r\n"), nil
}

// Do sends req and prints the response to Out.
func (c *Client) Do(ctx context.Context, req protocol.Request) error {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if c.Out != nil {
		fmt.Fprintln(c.Out, resp)
	}
	return nil
}

func (c *Client) Dump(ctx context.Context, asJSON bool) error {
	cmd := protocol.CmdDump
	if asJSON {
		cmd = protocol.CmdDumpJSON
	}
	return c.Do(ctx, protocol.Request{Cmd: cmd})
}

func (c *Client) ScheduleQuit(ctx context.Context) error {
	return c.Do(ctx, protocol.Request{Cmd: protocol.CmdScheduleQuit})
}

// Submit sends one request for (cwd, cmd, args) when interactive is true.
// Otherwise every non-empty line of in becomes its own request with that
// line as the single argument.
func (c *Client) Submit(ctx context.Context, in io.Reader, interactive bool, cwd, cmd string, args []string) error {
	if interactive {
		return c.Do(ctx, protocol.Request{Cwd: cwd, Cmd: cmd, Args: args})
	}

	var paths []string
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	for _, p := range paths {
		if err := c.Do(ctx, protocol.Request{Cwd: cwd, Cmd: cmd, Args: []string{p}}); err != nil {
			return err
		}
	}
	return nil
}
