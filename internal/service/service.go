package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pi314/dpush/internal/config"
	"github.com/pi314/dpush/internal/db"
	"github.com/pi314/dpush/internal/journal"
	"github.com/pi314/dpush/internal/lease"
	"github.com/pi314/dpush/internal/protocol"
	"github.com/pi314/dpush/internal/scheduler"
	"github.com/pi314/dpush/internal/server"
	"github.com/pi314/dpush/internal/worker"
	"github.com/pi314/dpush/pkg/logger"
)

const (
	leaseName = "tq"
	leaseTTL  = 9 * time.Second
)

type Options struct {
	Config config.Config
	Runner worker.Runner
	Logger logger.Logger
	// Registry receives the queue metrics. Nil uses a private registry.
	Registry *prometheus.Registry
	// Listener, when set, is served instead of binding Config.Addr().
	Listener net.Listener
}

// Service runs the listener and the execution loop over one shared store.
type Service struct {
	opts   Options
	store  *scheduler.Store
	logger logger.Logger
}

func New(opts Options) *Service {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	return &Service{
		opts:   opts,
		store:  scheduler.NewStore(),
		logger: logger.OrNop(opts.Logger),
	}
}

// Store is exposed so recovered tasks can be queued before Run.
func (s *Service) Store() *scheduler.Store {
	return s.store
}

// Run serves until the execution loop stops and returns the process exit
// code: 0 after a clean quit, 1 after an abort or interrupt.
func (s *Service) Run(ctx context.Context) (int, error) {
	cfg := s.opts.Config

	var observers []scheduler.Observer

	metrics, err := scheduler.NewMetrics(s.opts.Registry)
	if err != nil {
		return 1, fmt.Errorf("register metrics: %w", err)
	}
	metrics.Watch(s.store)
	observers = append(observers, metrics)

	if cfg.Journal != "" {
		conn, err := db.Init(cfg.Journal)
		if err != nil {
			return 1, fmt.Errorf("open journal: %w", err)
		}
		defer conn.Close()

		release, err := s.holdLease(ctx, conn)
		if err != nil {
			return 1, err
		}
		defer release()

		observers = append(observers, journal.New(conn, s.logger))
	}

	ln := s.opts.Listener
	if ln == nil {
		ln, err = server.Listen(cfg.Addr())
		if err != nil {
			return 1, fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
		}
	}

	if cfg.MetricsAddr != "" {
		stop := s.serveMetrics(cfg.MetricsAddr)
		defer stop()
	}

	handler := protocol.NewHandler(s.store, s.logger)
	srv := server.New(handler, server.Options{MaxConns: cfg.MaxConns, ReadTimeout: cfg.ReadTimeout}, s.logger)

	srvCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	var g errgroup.Group
	g.Go(func() error {
		defer logger.Recover(s.logger, "listener")
		return srv.Serve(srvCtx, ln)
	})

	if cfg.AutoQuit > 0 {
		aq := scheduler.NewAutoQuit(s.store, cfg.AutoQuit, s.logger)
		aq.Start()
		defer aq.Stop()
	}

	loop := scheduler.NewLoop(s.store, s.opts.Runner, s.logger, observers...)
	// Stop accepting before draining so no accepted task goes unreported.
	loop.BeforeDrain = func() {
		stopServing()
		if err := g.Wait(); err != nil {
			s.logger.Error("listener: %v", err)
		}
	}

	reason := loop.Run(ctx)
	return reason.ExitCode(), nil
}

func (s *Service) holdLease(ctx context.Context, conn *sql.DB) (func(), error) {
	l := lease.New(conn, leaseName, leaseTTL, s.logger)
	epoch, err := l.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return nil, fmt.Errorf("another task queue uses %s: %w", s.opts.Config.Journal, err)
		}
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	s.logger.Debug("lease %s held as %s (epoch=%d)", leaseName, l.HolderID(), epoch)

	leaseCtx, cancel := context.WithCancel(context.Background())
	logger.Go(s.logger, "lease", func() { l.KeepAlive(leaseCtx) })

	return func() {
		cancel()
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := l.Release(ctx); err != nil {
			s.logger.Warn("release lease: %v", err)
		}
	}, nil
}

func (s *Service) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Go(s.logger, "metrics", func() {
		s.logger.Info("metrics listening on %s", addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server: %v", err)
		}
	})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}
}
