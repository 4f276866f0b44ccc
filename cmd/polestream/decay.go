package main

import (
	"context"

	"github.com/c360/polestream/correlation"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/pkg/retry"
	"github.com/c360/polestream/processor/base"
	"github.com/c360/polestream/processor/decay"
)

func runDecay(ctx context.Context, a *app) error {
	cfg := a.cfg.Decay
	cat := a.catalogClient(cfg.CatalogURL, 0)
	proc := base.New(decay.Info)
	if err := proc.Bootstrap(ctx, cat, retry.Startup()); err != nil {
		return err
	}

	writerURL := cfg.WriterURL
	if writerURL == "" {
		url, err := retry.DoWithResult(ctx, retry.Startup(), func() (string, error) {
			return cat.WriterURL(ctx)
		})
		if err != nil {
			return errors.WrapFatal(err, "decay", "runDecay", "fetch writer url")
		}
		writerURL = url
	}
	a.logger.Info("Submitting decay values", "writer_url", writerURL)

	timeout := cfg.RequestTimeout.Std()
	w, err := decay.New(proc, correlation.NewClient(writerURL, timeout), timeout, a.logger, a.registry)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.onShutdown("decay", func(context.Context) error { return w.Stop() })
	a.health.Register("decay", w.Health)

	_, err = a.connect(ctx, proc.ClientID(), proc.Broker().URL(), w)
	return err
}
