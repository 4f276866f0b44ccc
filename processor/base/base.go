// Package base holds what every backend worker does the same way: claim a
// client id and service binding in the catalog, learn its topics and the
// central broker, and track its own activity for health reporting.
package base

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/health"
	"github.com/c360/polestream/pkg/retry"
)

// Catalog is the catalog surface a backend worker bootstraps from
type Catalog interface {
	ComputeClientID(ctx context.Context, role string, lat, lon *float64) (string, error)
	RegisterService(ctx context.Context, role, id string) error
	Topics(ctx context.Context, role string) ([]string, error)
	CentralBroker(ctx context.Context) (catalog.BrokerConfig, error)
}

// Info names a worker and the catalog roles it uses
type Info struct {
	Name string
	// BindingRole is the service binding the worker registers under
	BindingRole string
	// SubscribeRole is the topic role the worker consumes
	SubscribeRole string
}

// Processor carries the bootstrap results and activity counters of one
// backend worker.
type Processor struct {
	info Info

	clientID string
	topics   []string
	broker   catalog.BrokerConfig

	started      atomic.Int64
	lastActivity atomic.Int64
	processed    atomic.Int64
	errorCount   atomic.Int64
}

// New creates a processor for info
func New(info Info) *Processor {
	return &Processor{info: info}
}

// Name returns the worker name
func (p *Processor) Name() string { return p.info.Name }

// ClientID returns the id registered with the catalog
func (p *Processor) ClientID() string { return p.clientID }

// Broker returns the central broker to connect to
func (p *Processor) Broker() catalog.BrokerConfig { return p.broker }

// Bootstrap registers the worker with the catalog and fetches its topics and
// the central broker. Every call is retried with cfg; a worker that cannot
// bootstrap does not start.
func (p *Processor) Bootstrap(ctx context.Context, cat Catalog, cfg retry.Config) error {
	id, err := retry.DoWithResult(ctx, cfg, func() (string, error) {
		return cat.ComputeClientID(ctx, p.info.BindingRole, nil, nil)
	})
	if err != nil {
		return errors.WrapFatal(err, p.info.Name, "Bootstrap", "compute client id")
	}
	if err := retry.Do(ctx, cfg, func() error {
		return cat.RegisterService(ctx, p.info.BindingRole, id)
	}); err != nil {
		return errors.WrapFatal(err, p.info.Name, "Bootstrap", "register service")
	}
	topics, err := retry.DoWithResult(ctx, cfg, func() ([]string, error) {
		return cat.Topics(ctx, p.info.SubscribeRole)
	})
	if err != nil {
		return errors.WrapFatal(err, p.info.Name, "Bootstrap", "fetch topics")
	}
	if len(topics) == 0 {
		return errors.WrapFatal(fmt.Errorf("no topics configured for %s", p.info.SubscribeRole),
			p.info.Name, "Bootstrap", "fetch topics")
	}
	broker, err := retry.DoWithResult(ctx, cfg, func() (catalog.BrokerConfig, error) {
		return cat.CentralBroker(ctx)
	})
	if err != nil {
		return errors.WrapFatal(err, p.info.Name, "Bootstrap", "fetch central broker")
	}

	p.clientID = id
	p.topics = topics
	p.broker = broker
	now := time.Now().UnixNano()
	p.started.Store(now)
	p.lastActivity.Store(now)
	return nil
}

// SetTopics replaces the subscribed topic bases. Used by tests and by
// workers configured without a catalog.
func (p *Processor) SetTopics(topics ...string) {
	p.topics = topics
}

// SubscriptionPatterns returns one wildcard pattern per topic base
func (p *Processor) SubscriptionPatterns() []string {
	patterns := make([]string, 0, len(p.topics))
	for _, t := range p.topics {
		patterns = append(patterns, t+"/#")
	}
	return patterns
}

// UpdateActivity records one handled message
func (p *Processor) UpdateActivity() {
	p.processed.Add(1)
	p.lastActivity.Store(time.Now().UnixNano())
}

// IncrementErrorCount records one failed message
func (p *Processor) IncrementErrorCount() {
	p.errorCount.Add(1)
}

// Processed returns the number of handled messages
func (p *Processor) Processed() int64 { return p.processed.Load() }

// Errors returns the number of failed messages
func (p *Processor) Errors() int64 { return p.errorCount.Load() }

// Health reports the worker unhealthy before bootstrap and degraded once
// more than half of its messages failed.
func (p *Processor) Health() health.Status {
	if p.started.Load() == 0 {
		return health.NewUnhealthy(p.info.Name, "not bootstrapped")
	}
	processed, failed := p.processed.Load(), p.errorCount.Load()
	last := time.Unix(0, p.lastActivity.Load())
	msg := fmt.Sprintf("processed=%d errors=%d last_activity=%s", processed, failed, last.Format(time.RFC3339))
	if failed > 0 && failed*2 > processed {
		return health.NewDegraded(p.info.Name, msg)
	}
	return health.NewHealthy(p.info.Name, msg)
}
