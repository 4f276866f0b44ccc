package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/config"
	"github.com/c360/polestream/health"
	"github.com/c360/polestream/metric"
	"github.com/c360/polestream/natsclient"
	"github.com/c360/polestream/pkg/httpx"
)

// catalogTimeout bounds the catalog calls of the backend workers
const catalogTimeout = 5 * time.Second

type closer struct {
	name string
	fn   func(context.Context) error
}

// app carries what every process shares: configuration, logging, metrics,
// health checks and an ordered list of things to close on exit.
type app struct {
	name            string
	cfg             *config.Config
	logger          *slog.Logger
	registry        *metric.MetricsRegistry
	health          *health.Monitor
	shutdownTimeout time.Duration

	servers []*httpx.Server
	closers []closer
}

func newApp(name string, opts *cliOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(name, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("Starting polestream",
		"build_time", BuildTime,
		"config_paths", opts.ConfigPaths)

	return &app{
		name:            name,
		cfg:             cfg,
		logger:          logger,
		registry:        metric.NewMetricsRegistry(),
		health:          health.NewMonitor(name),
		shutdownTimeout: opts.ShutdownTimeout,
	}, nil
}

// onShutdown registers fn to run on exit. Steps run in reverse order of
// registration.
func (a *app) onShutdown(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// router returns an instrumented router that also answers /health
func (a *app) router(name string) chi.Router {
	r := httpx.NewRouter(name, a.logger, a.registry.CoreMetrics())
	r.Method(http.MethodGet, "/health", a.health.Handler())
	return r
}

// serve binds addr immediately and serves h once the process runs
func (a *app) serve(name, addr string, h http.Handler) error {
	srv := httpx.NewServer(name, addr, h, a.logger)
	if err := srv.Listen(); err != nil {
		return err
	}
	a.servers = append(a.servers, srv)
	return nil
}

// serveOps exposes /metrics and /health on the metrics port
func (a *app) serveOps() error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	r := a.router("ops")
	exporter := metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.registry)
	r.Method(http.MethodGet, a.cfg.Metrics.Path, exporter.Handler())
	return a.serve("ops", fmt.Sprintf(":%d", a.cfg.Metrics.Port), r)
}

// connect opens a bus session. The broker does not have to be up yet; the
// session reconnects in the background and reports itself in /health.
func (a *app) connect(ctx context.Context, name, url string, handler natsclient.Handler) (*natsclient.Client, error) {
	opts := append(natsclient.FromConfig(a.cfg.NATS),
		natsclient.WithName(name),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry.CoreMetrics()))
	c, err := natsclient.NewClient(url, handler, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	a.onShutdown("session "+name, c.Close)
	a.health.Register("session "+name, func(context.Context) health.Status {
		if c.IsConnected() {
			return health.NewHealthy(name, "connected")
		}
		return health.NewDegraded(name, c.Status().String())
	})
	return c, nil
}

func (a *app) catalogClient(url string, timeout time.Duration) *catalog.Client {
	if timeout <= 0 {
		timeout = catalogTimeout
	}
	return catalog.NewClient(url, timeout)
}

// run wires the process with setup, serves until ctx ends or a server
// fails, then shuts everything down.
func (a *app) run(ctx context.Context, setup setupFunc) error {
	if err := setup(ctx, a); err != nil {
		return multierr.Append(err, a.shutdown())
	}
	if err := a.serveOps(); err != nil {
		return multierr.Append(err, a.shutdown())
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range a.servers {
		g.Go(srv.Serve)
	}
	a.logger.Info("Process running", "status", a.health.Check(ctx).Status)

	<-gctx.Done()
	if ctx.Err() != nil {
		a.logger.Info("Shutdown signal received")
	}
	err := a.shutdown()
	if serveErr := g.Wait(); serveErr != nil {
		a.logger.Error("HTTP server stopped", "error", serveErr)
		err = multierr.Append(serveErr, err)
	}
	return err
}

func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var err error
	for _, srv := range a.servers {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if cerr := c.fn(ctx); cerr != nil {
			a.logger.Warn("Shutdown step failed", "step", c.name, "error", cerr)
			err = multierr.Append(err, cerr)
		}
	}
	a.logger.Info("Shutdown complete")
	return err
}
