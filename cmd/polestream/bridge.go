package main

import (
	"context"

	"github.com/c360/polestream/bridge"
)

func runBridge(ctx context.Context, a *app) error {
	cfg := a.cfg.Bridge
	cat := a.catalogClient(cfg.CatalogURL, cfg.RequestTimeout.Std())
	dial := bridge.NATSDialer(a.cfg.NATS, a.logger, a.registry.CoreMetrics())

	b, err := bridge.New(cfg, cat, dial, a.registry, bridge.WithLogger(a.logger))
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	a.onShutdown("bridge", b.Stop)
	a.health.Register("bridge", b.Health)

	if cfg.Listen == "" {
		return nil
	}
	return a.serve("bridge", cfg.Listen, a.router("bridge"))
}
