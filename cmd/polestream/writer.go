package main

import (
	"context"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/config"
	"github.com/c360/polestream/correlation"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/health"
	"github.com/c360/polestream/pkg/retry"
	"github.com/c360/polestream/pointstore"
	"github.com/c360/polestream/processor/base"
)

var writerInfo = base.Info{
	Name:          "writer",
	BindingRole:   catalog.RoleWriter,
	SubscribeRole: catalog.RoleWriter,
}

func runWriter(ctx context.Context, a *app) error {
	cfg := a.cfg.Writer
	proc := base.New(writerInfo)
	if err := proc.Bootstrap(ctx, a.catalogClient(cfg.CatalogURL, 0), retry.Startup()); err != nil {
		return err
	}

	// The jetstream sink publishes on its own session so that points never
	// queue behind deliveries to the writer.
	var streams pointstore.StreamPublisher
	if cfg.Sink == config.SinkJetStream {
		session, err := a.connect(ctx, proc.ClientID()+"-points", proc.Broker().URL(), nil)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, kvConnectTimeout)
		defer cancel()
		if err := session.WaitForConnection(wctx); err != nil {
			return errors.WrapFatal(err, "writer", "runWriter", "connect point stream session")
		}
		streams = session
	}
	sink, err := pointstore.Open(ctx, cfg, streams, a.logger)
	if err != nil {
		return err
	}

	w, err := correlation.New(cfg, sink, a.registry,
		correlation.WithLogger(a.logger),
		correlation.WithTopics(proc.SubscriptionPatterns()...))
	if err != nil {
		_ = sink.Close(ctx)
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = sink.Close(ctx)
		return err
	}
	a.onShutdown("writer", w.Stop)
	a.health.Register("writer", w.Health)
	a.health.Register("bootstrap", func(context.Context) health.Status { return proc.Health() })

	if _, err := a.connect(ctx, proc.ClientID(), proc.Broker().URL(), w); err != nil {
		return err
	}

	r := a.router("writer")
	correlation.NewAPI(w, a.logger).Routes(r)
	return a.serve("writer", cfg.Listen, r)
}
