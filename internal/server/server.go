package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pi314/dpush/internal/protocol"
	"github.com/pi314/dpush/pkg/logger"
)

const (
	defaultMaxConns    = 64
	defaultReadTimeout = 10 * time.Second
)

type Options struct {
	// MaxConns bounds the connections served at once. Accepting pauses
	// while the bound is reached.
	MaxConns    int
	ReadTimeout time.Duration
}

// Server accepts connections and answers one request per connection.
type Server struct {
	handler *protocol.Handler
	logger  logger.Logger
	opts    Options
}

func New(handler *protocol.Handler, opts Options, log logger.Logger) *Server {
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaultMaxConns
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	return &Server{handler: handler, logger: logger.OrNop(log), opts: opts}
}

// Listen binds addr.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Serve accepts on ln until ctx is canceled, then closes ln and waits for
// in-flight connections.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConns)

	s.logger.Info("task queue listening on %s", ln.Addr())

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept: %v", err)
				continue
			}
			serveErr = err
			break
		}
		g.Go(func() error {
			s.serveConn(conn)
			return nil
		})
	}

	g.Wait()
	return serveErr
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	defer logger.Recover(s.logger, "conn "+conn.RemoteAddr().String())

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("read request from %s: %v", conn.RemoteAddr(), err)
		return
	}

	resp := s.handler.Handle(bytes.TrimSpace(line))
	if _, err := io.WriteString(conn, resp); err != nil {
		s.logger.Warn("write response to %s: %v", conn.RemoteAddr(), err)
	}
}
