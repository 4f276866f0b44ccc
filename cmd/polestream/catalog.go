package main

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/config"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/health"
	"github.com/c360/polestream/pkg/httpx"
)

// kvConnectTimeout bounds the wait for the NATS server backing a kv store
const kvConnectTimeout = 30 * time.Second

func runCatalog(ctx context.Context, a *app) error {
	cfg := a.cfg.Catalog

	store, err := openCatalogStore(ctx, a, cfg)
	if err != nil {
		return err
	}

	opts := []catalog.Option{
		catalog.WithLogger(a.logger),
		catalog.WithMetricsRegistry(a.registry),
	}
	if cfg.SeedFile != "" {
		seed, err := catalog.ReadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		opts = append(opts, catalog.WithSeed(seed))
	}
	registry, err := catalog.NewRegistry(ctx, store, opts...)
	if err != nil {
		return err
	}
	a.health.Register("catalog", func(context.Context) health.Status {
		return health.NewHealthy("catalog", "owner="+registry.Owner())
	})

	r := a.router("catalog")
	api := catalog.NewAPI(registry, a.logger, cfg.AdminToken)
	r.Group(func(g chi.Router) {
		g.Use(httpx.RateLimit(cfg.RequestRate, cfg.RequestBurst))
		api.Routes(g)
	})
	return a.serve("catalog", cfg.Listen, r)
}

func openCatalogStore(ctx context.Context, a *app, cfg config.CatalogConfig) (catalog.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		a.logger.Warn("Catalog store is in memory, changes are lost on exit")
		return catalog.NewMemoryStore(), nil
	case config.StoreKV:
		session, err := a.connect(ctx, "catalog-kv", cfg.NATSURL, nil)
		if err != nil {
			return nil, err
		}
		wctx, cancel := context.WithTimeout(ctx, kvConnectTimeout)
		defer cancel()
		if err := session.WaitForConnection(wctx); err != nil {
			return nil, errors.WrapFatal(err, "catalog", "openCatalogStore", "connect kv server")
		}
		kv, err := session.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.KVBucket,
			Description: "polestream catalog snapshot",
			History:     5,
		})
		if err != nil {
			return nil, err
		}
		a.logger.Info("Catalog stored in KV bucket", "bucket", cfg.KVBucket)
		return catalog.NewKVStore(kv), nil
	default:
		a.logger.Info("Catalog stored in file", "path", cfg.SnapshotPath)
		return catalog.NewFileStore(cfg.SnapshotPath), nil
	}
}
