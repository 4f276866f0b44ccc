package main

import (
	"context"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/pkg/retry"
	"github.com/c360/polestream/processor/base"
	"github.com/c360/polestream/processor/threshold"
)

func runThreshold(ctx context.Context, a *app) error {
	cfg := a.cfg.Threshold
	cat := a.catalogClient(cfg.CatalogURL, 0)
	proc := base.New(threshold.Info)
	if err := proc.Bootstrap(ctx, cat, retry.Startup()); err != nil {
		return err
	}

	alertTopics, err := cat.Topics(ctx, catalog.RoleThresholdPublish)
	if err != nil || len(alertTopics) == 0 {
		a.logger.Info("No alert topic in catalog, using configured base", "alert_topic_base", cfg.AlertTopicBase)
		alertTopics = []string{cfg.AlertTopicBase}
	}

	w, err := threshold.New(proc, cat, alertTopics, cfg.RefreshInterval.Std(), a.registry,
		threshold.WithLogger(a.logger))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.onShutdown("threshold", func(context.Context) error {
		w.Stop()
		return nil
	})
	a.health.Register("threshold", w.Health)

	_, err = a.connect(ctx, proc.ClientID(), proc.Broker().URL(), w)
	return err
}
