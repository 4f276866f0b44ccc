package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/config"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/health"
	"github.com/c360/polestream/metric"
	"github.com/c360/polestream/natsclient"
	"github.com/c360/polestream/pkg/retry"
	"github.com/c360/polestream/pkg/worker"
)

// Catalog is the part of the catalog API a bridge uses
type Catalog interface {
	ResolveRegion(ctx context.Context, lat, lon float64) (string, error)
	ComputeClientID(ctx context.Context, role string, lat, lon *float64) (string, error)
	RegisterGateway(ctx context.Context, gatewayID, zone string, fields catalog.GatewayFields) (string, error)
	Topics(ctx context.Context, role string) ([]string, error)
	LocalBroker(ctx context.Context, zone string) (catalog.BrokerConfig, error)
	CentralBroker(ctx context.Context) (catalog.BrokerConfig, error)
	RegisterPole(ctx context.Context, gatewayID string, spec catalog.PoleSpec) error
	DeletePole(ctx context.Context, gatewayID, poleID string) error
	PoleStatus(ctx context.Context, poleID string) (bool, error)
}

// Session is the bus session surface the bridge drives
type Session interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, data []byte) error
	IsConnected() bool
	Close(ctx context.Context) error
}

// Dialer creates a session named name for the broker at url. handler is nil
// for publish-only sessions.
type Dialer func(name, url string, handler natsclient.Handler) (Session, error)

// NATSDialer returns a Dialer creating natsclient sessions
func NATSDialer(cfg config.NATSConfig, logger *slog.Logger, metrics *metric.Metrics) Dialer {
	return func(name, url string, handler natsclient.Handler) (Session, error) {
		opts := append(natsclient.FromConfig(cfg),
			natsclient.WithName(name),
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(metrics))
		return natsclient.NewClient(url, handler, opts...)
	}
}

type taskOp int

const (
	opRegister taskOp = iota
	opDelete
)

func (o taskOp) String() string {
	if o == opDelete {
		return "delete_pole"
	}
	return "register_pole"
}

// task is one catalog call taken off the bus delivery path. Tasks for the
// same pole run in submission order: each waits for prev before starting and
// closes done when it finishes.
type task struct {
	op   taskOp
	pole string
	spec catalog.PoleSpec

	prev <-chan struct{}
	done chan struct{}
}

// relayJob is one data message waiting for its pole status check
type relayJob struct {
	pole string
	msg  natsclient.Message
}

// Bridge relays one zone's local pole traffic to the central bus
type Bridge struct {
	cfg     config.BridgeConfig
	catalog Catalog
	dial    Dialer
	logger  *slog.Logger
	metrics *bridgeMetrics
	clock   clock.Clock
	retry   retry.Config

	poles  *poleTracker
	pool   *worker.Pool[task]
	relays *worker.Pool[relayJob]

	// last queued task per pole
	seqMu sync.Mutex
	tails map[string]chan struct{}

	// set by Start
	gatewayID    string
	zone         string
	localPattern string
	cmdBase      string
	local        Session
	central      Session

	drained sync.WaitGroup
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the bridge logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock sets the clock stamping deactivate commands
func WithClock(c clock.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithStartupRetry sets the retry policy for startup catalog calls
func WithStartupRetry(cfg retry.Config) Option {
	return func(b *Bridge) { b.retry = cfg }
}

// New creates a bridge. registry may be nil.
func New(cfg config.BridgeConfig, cat Catalog, dial Dialer, registry *metric.MetricsRegistry, opts ...Option) (*Bridge, error) {
	if cat == nil || dial == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "catalog and dialer are required")
	}
	m, err := newBridgeMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "New", "register metrics")
	}

	b := &Bridge{
		cfg:     cfg,
		catalog: cat,
		dial:    dial,
		logger:  slog.Default(),
		metrics: m,
		clock:   clock.New(),
		retry:   retry.Startup(),
		poles:   newPoleTracker(cfg.KnownTTL.Std()),
		tails:   make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge")

	poolOpts := []worker.Option[task]{worker.WithResults[task](cfg.RegistrationQueue)}
	if registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[task](registry, "bridge_catalog_tasks"))
	}
	b.pool = worker.NewPool(cfg.RegistrationWorkers, cfg.RegistrationQueue, b.process, poolOpts...)

	var relayOpts []worker.Option[relayJob]
	if registry != nil {
		relayOpts = append(relayOpts, worker.WithMetricsRegistry[relayJob](registry, "bridge_relays"))
	}
	b.relays = worker.NewPool(cfg.RelayWorkers, cfg.RelayQueue, b.relay, relayOpts...)
	return b, nil
}

// GatewayID returns the client id the bridge registered under
func (b *Bridge) GatewayID() string { return b.gatewayID }

// Zone returns the zone the bridge owns
func (b *Bridge) Zone() string { return b.zone }

// Start binds the bridge to its zone and opens both bus sessions. Failing to
// claim the zone or to reach the catalog is fatal: the bridge never runs
// unregistered.
func (b *Bridge) Start(ctx context.Context) error {
	lat, lon := b.cfg.Latitude, b.cfg.Longitude

	zone, err := retry.DoWithResult(ctx, b.retry, func() (string, error) {
		return b.catalog.ResolveRegion(ctx, lat, lon)
	})
	if err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "resolve region")
	}
	if zone == "" || zone == catalog.UnknownRegion {
		return errors.WrapFatal(fmt.Errorf("no region contains %v,%v", lat, lon), "Bridge", "Start", "resolve region")
	}

	gatewayID, err := retry.DoWithResult(ctx, b.retry, func() (string, error) {
		return b.catalog.ComputeClientID(ctx, catalog.RoleGateway, &lat, &lon)
	})
	if err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "compute client id")
	}

	topicBase := b.topicOr(ctx, catalog.RoleGateway, b.cfg.GatewayTopicBase)
	b.cmdBase = b.topicOr(ctx, catalog.RoleCommand, "poleCmd")

	err = retry.Do(ctx, b.retry, func() error {
		_, err := b.catalog.RegisterGateway(ctx, gatewayID, zone, catalog.GatewayFields{
			Topics: []string{topicBase},
			Lat:    &lat,
			Long:   &lon,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, errors.ErrConflict) {
			b.logger.Error("Zone already owned by another gateway", "zone", zone, "gateway_id", gatewayID)
		}
		return errors.WrapFatal(err, "Bridge", "Start", "register gateway")
	}

	localCfg, err := retry.DoWithResult(ctx, b.retry, func() (catalog.BrokerConfig, error) {
		return b.catalog.LocalBroker(ctx, zone)
	})
	if err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "fetch local broker")
	}
	centralCfg, err := retry.DoWithResult(ctx, b.retry, func() (catalog.BrokerConfig, error) {
		return b.catalog.CentralBroker(ctx)
	})
	if err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "fetch central broker")
	}

	b.gatewayID = gatewayID
	b.zone = zone
	b.localPattern = topicBase + "/" + zone + "/#"

	if err := b.pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "start task pool")
	}
	b.drained.Add(1)
	go b.drainResults()
	if err := b.relays.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "start relay pool")
	}

	// Central first, so nothing is received before there is somewhere to
	// relay it. Both sessions keep reconnecting on their own.
	if b.central, err = b.dial("central", centralCfg.URL(), nil); err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "create central session")
	}
	if err := b.central.Connect(ctx); err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "connect central session")
	}
	if b.local, err = b.dial("local", localCfg.URL(), b); err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "create local session")
	}
	if err := b.local.Connect(ctx); err != nil {
		return errors.WrapFatal(err, "Bridge", "Start", "connect local session")
	}

	b.logger.Info("Bridge started",
		"gateway_id", gatewayID,
		"zone", zone,
		"subscribe", b.localPattern,
		"local_broker", localCfg.URL(),
		"central_broker", centralCfg.URL())
	return nil
}

// topicOr returns the first topic configured for role, or fallback when the
// catalog has none.
func (b *Bridge) topicOr(ctx context.Context, role, fallback string) string {
	topics, err := retry.DoWithResult(ctx, b.retry, func() ([]string, error) {
		return b.catalog.Topics(ctx, role)
	})
	if err != nil || len(topics) == 0 || topics[0] == "" {
		b.logger.Debug("Using default topic", "role", role, "topic", fallback, "error", err)
		return fallback
	}
	return topics[0]
}

// Stop waits for in-flight relays and catalog tasks and closes both sessions
func (b *Bridge) Stop(ctx context.Context) error {
	var errs error
	if err := b.relays.Stop(b.cfg.StatusTimeout.Std() + time.Second); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := b.pool.Stop(b.cfg.RequestTimeout.Std() + time.Second); err != nil {
		errs = multierr.Append(errs, err)
	}
	b.drained.Wait()
	if b.local != nil {
		errs = multierr.Append(errs, b.local.Close(ctx))
	}
	if b.central != nil {
		errs = multierr.Append(errs, b.central.Close(ctx))
	}
	b.logger.Info("Bridge stopped", "gateway_id", b.gatewayID)
	return errs
}

// OnConnect (re)declares the zone subscription on the local session
func (b *Bridge) OnConnect(ctx context.Context, c *natsclient.Client) {
	if err := c.Subscribe(ctx, b.localPattern); err != nil {
		b.logger.Error("Local subscription failed", "pattern", b.localPattern, "error", err)
	}
}

// OnDisconnect logs the local session going away
func (b *Bridge) OnDisconnect(err error) {
	b.logger.Warn("Local bus disconnected", "error", err)
}

// OnMessage classifies one local message. It never calls the catalog itself:
// config and removal messages go to the task pool, data to the relay pool.
func (b *Bridge) OnMessage(_ context.Context, msg natsclient.Message) {
	pm, err := parsePoleMessage(msg.Data)
	if err != nil {
		b.metrics.dropped.WithLabelValues(dropMalformed).Inc()
		b.logger.Debug("Dropping malformed message", "topic", msg.Topic, "error", err)
		return
	}

	kind := classify(pm.Kind)
	b.metrics.received.WithLabelValues(kind).Inc()

	switch kind {
	case KindConfig:
		b.handleConfig(pm)
	case KindUnregister:
		b.handleRemoval(pm)
	default:
		b.enqueueRelay(pm.ID, msg)
	}
}

func (b *Bridge) handleConfig(pm poleMessage) {
	if !b.poles.BeginRegistration(pm.ID) {
		return
	}
	err := b.submit(task{op: opRegister, pole: pm.ID, spec: catalog.PoleSpec{
		ID:      pm.ID,
		Lat:     pm.Lat,
		Long:    pm.Long,
		Sensors: pm.Sensors,
	}})
	if err != nil {
		b.poles.RegistrationFailed(pm.ID)
		b.metrics.dropped.WithLabelValues(dropQueueFull).Inc()
		b.logger.Warn("Registration not queued", "pole_id", pm.ID, "error", err)
	}
}

func (b *Bridge) handleRemoval(pm poleMessage) {
	b.poles.Remove(pm.ID)
	b.metrics.knownPoles.Set(float64(b.poles.KnownCount()))
	if err := b.submit(task{op: opDelete, pole: pm.ID}); err != nil {
		b.metrics.dropped.WithLabelValues(dropQueueFull).Inc()
		b.logger.Warn("Pole deletion not queued", "pole_id", pm.ID, "error", err)
	}
}

// submit queues t behind the last queued task for the same pole
func (b *Bridge) submit(t task) error {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	prev, hasPrev := b.tails[t.pole]
	if hasPrev {
		t.prev = prev
	}
	t.done = make(chan struct{})
	b.tails[t.pole] = t.done

	if err := b.pool.Submit(t); err != nil {
		if hasPrev {
			b.tails[t.pole] = prev
		} else {
			delete(b.tails, t.pole)
		}
		close(t.done)
		return err
	}
	return nil
}

// finish releases the next task queued for t's pole
func (b *Bridge) finish(t task) {
	if t.done == nil {
		return
	}
	b.seqMu.Lock()
	if b.tails[t.pole] == t.done {
		delete(b.tails, t.pole)
	}
	b.seqMu.Unlock()
	close(t.done)
}

func (b *Bridge) enqueueRelay(poleID string, msg natsclient.Message) {
	if !b.poles.IsKnown(poleID) {
		b.metrics.dropped.WithLabelValues(dropUnknownPole).Inc()
		b.logger.Debug("Dropping data from unregistered pole", "pole_id", poleID)
		return
	}
	if err := b.relays.Submit(relayJob{pole: poleID, msg: msg}); err != nil {
		b.metrics.dropped.WithLabelValues(dropQueueFull).Inc()
		b.logger.Warn("Relay not queued, message dropped", "pole_id", poleID, "error", err)
	}
}

// relay forwards a data message from a known pole on a relay worker. Pole
// status comes from the catalog; when the catalog cannot answer the message
// is relayed anyway.
func (b *Bridge) relay(ctx context.Context, job relayJob) error {
	poleID, msg := job.pole, job.msg

	statusCtx, cancel := context.WithTimeout(ctx, b.cfg.StatusTimeout.Std())
	active, err := b.catalog.PoleStatus(statusCtx, poleID)
	cancel()
	if err != nil {
		active = true
		b.metrics.failOpen.Inc()
		b.logger.Warn("Pole status unavailable, relaying", "pole_id", poleID, "error", err)
	}
	b.poles.Observe(poleID, active)

	if !active {
		b.metrics.dropped.WithLabelValues(dropInactive).Inc()
		b.sendDeactivate(ctx, poleID)
		return nil
	}

	topic := msg.Topic + "/" + b.gatewayID
	if err := b.central.Publish(ctx, topic, msg.Data); err != nil {
		b.metrics.dropped.WithLabelValues(dropCentralDown).Inc()
		b.logger.Warn("Relay failed, message dropped", "pole_id", poleID, "topic", topic, "error", err)
		return err
	}
	b.metrics.relayed.Inc()
	return nil
}

func (b *Bridge) sendDeactivate(ctx context.Context, poleID string) {
	now := b.clock.Now()
	payload, _ := json.Marshal(deactivateCommand{
		Cmd: "deactivate",
		TS:  float64(now.UnixNano()) / float64(time.Second),
	})
	topic := b.cmdBase + "/" + poleID
	if err := b.local.Publish(ctx, topic, payload); err != nil {
		b.logger.Warn("Deactivate command not sent", "pole_id", poleID, "error", err)
		return
	}
	b.metrics.deactivations.Inc()
	b.logger.Info("Deactivate command sent", "pole_id", poleID, "topic", topic)
}

// process runs one catalog task on a pool worker once the previous task for
// the same pole has finished. The queue is FIFO, so that task is already held
// by another worker.
func (b *Bridge) process(ctx context.Context, t task) error {
	defer b.finish(t)
	if t.prev != nil {
		select {
		case <-t.prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout.Std())
	defer cancel()

	switch t.op {
	case opDelete:
		err := b.catalog.DeletePole(ctx, b.gatewayID, t.pole)
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		return err
	default:
		return b.catalog.RegisterPole(ctx, b.gatewayID, t.spec)
	}
}

// drainResults applies task outcomes to the pole tracker
func (b *Bridge) drainResults() {
	defer b.drained.Done()
	for res := range b.pool.Results() {
		b.complete(res)
	}
}

func (b *Bridge) complete(res worker.Result[task]) {
	t := res.Work
	outcome := "ok"
	defer func() {
		b.metrics.registrations.WithLabelValues(t.op.String(), outcome).Inc()
		b.metrics.knownPoles.Set(float64(b.poles.KnownCount()))
	}()

	if t.op == opDelete {
		if res.Err != nil {
			outcome = "error"
			b.logger.Warn("Pole deletion failed", "pole_id", t.pole, "error", res.Err)
			return
		}
		b.logger.Info("Pole unregistered", "pole_id", t.pole)
		return
	}

	// A pole registered before a bridge restart comes back as AlreadyExists.
	if res.Err != nil && !errors.Is(res.Err, errors.ErrAlreadyExists) {
		outcome = "error"
		b.poles.RegistrationFailed(t.pole)
		b.logger.Warn("Pole registration failed", "pole_id", t.pole, "error", res.Err)
		return
	}

	if !b.poles.MarkKnown(t.pole) {
		// Removed while the registration was in flight. The deletion queued
		// by the removal runs after this task and undoes it.
		outcome = "superseded"
		return
	}
	b.logger.Info("Pole registered", "pole_id", t.pole, "gateway_id", b.gatewayID)
}

// Health reports both bus sessions
func (b *Bridge) Health(_ context.Context) health.Status {
	return health.Aggregate("bridge", []health.Status{
		sessionHealth("local", b.local),
		sessionHealth("central", b.central),
	})
}

func sessionHealth(name string, s Session) health.Status {
	switch {
	case s == nil:
		return health.NewUnhealthy(name, "not started")
	case s.IsConnected():
		return health.NewHealthy(name, "connected")
	default:
		return health.NewDegraded(name, "reconnecting")
	}
}
