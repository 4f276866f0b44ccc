package correlation

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/c360/polestream/config"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/health"
	"github.com/c360/polestream/metric"
	"github.com/c360/polestream/natsclient"
	"github.com/c360/polestream/pointstore"
)

// Join outcomes reported to decay submitters
const (
	StatusWritten          = "written"
	StatusWaitingTelemetry = "cached_waiting_telemetry"
)

// Cache names used in logs and metrics
const (
	cacheTelemetry = "telemetry"
	cacheDecay     = "decay"
)

// Writer joins telemetry from the central bus with decay values submitted
// over HTTP and persists each joined key once.
type Writer struct {
	cfg     config.WriterConfig
	buffer  *Buffer
	sink    pointstore.Sink
	logger  *slog.Logger
	metrics *writerMetrics
	clock   clock.Clock
	topics  []string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// Option configures a Writer
type Option func(*Writer)

// WithLogger sets the writer logger
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock sets the clock used for arrival times and the sweep ticker
func WithClock(c clock.Clock) Option {
	return func(w *Writer) { w.clock = c }
}

// WithTopics sets the topic patterns subscribed on the central bus
func WithTopics(topics ...string) Option {
	return func(w *Writer) { w.topics = topics }
}

// New creates a writer persisting to sink. registry may be nil.
func New(cfg config.WriterConfig, sink pointstore.Sink, registry *metric.MetricsRegistry, opts ...Option) (*Writer, error) {
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "New", "a point sink is required")
	}
	if cfg.TTL <= 0 || cfg.SweepInterval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Writer", "New", "ttl and sweep interval must be positive")
	}
	m, err := newWriterMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Writer", "New", "register metrics")
	}

	w := &Writer{
		cfg:     cfg,
		sink:    sink,
		logger:  slog.Default(),
		metrics: m,
		clock:   clock.New(),
		topics:  []string{"poleData/#"},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "writer")
	w.buffer = NewBuffer(cfg.TTL.Std(), w.clock)
	return w, nil
}

// Buffer exposes the join buffer
func (w *Writer) Buffer() *Buffer { return w.buffer }

// Start runs the eviction sweep until Stop
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Writer", "Start", "start sweep")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	ticker := w.clock.Ticker(w.cfg.SweepInterval.Std())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Sweep()
			}
		}
	}()

	w.logger.Info("Writer started",
		"ttl", w.cfg.TTL.Std(),
		"sweep_interval", w.cfg.SweepInterval.Std(),
		"topics", w.topics)
	return nil
}

// Stop ends the sweep. Pending entries are dropped.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	telemetry, decay := w.buffer.Len()
	w.logger.Info("Writer stopped", "pending_telemetry", telemetry, "pending_decay", decay)
	return w.sink.Close(ctx)
}

// Sweep evicts expired entries from both caches
func (w *Writer) Sweep() {
	telemetry, decay := w.buffer.Sweep()
	w.metrics.evictions.WithLabelValues(cacheTelemetry).Add(float64(telemetry))
	w.metrics.evictions.WithLabelValues(cacheDecay).Add(float64(decay))
	if telemetry+decay > 0 {
		w.logger.Debug("Evicted unjoined entries", "telemetry", telemetry, "decay", decay)
	}
	w.updatePending()
}

// OnTelemetry records one telemetry reading and writes the point if its
// decay value is already waiting. It reports whether a write was attempted.
func (w *Writer) OnTelemetry(ctx context.Context, k Key, t Telemetry) bool {
	w.metrics.telemetry.Inc()
	p, ok := w.buffer.PutTelemetry(k, t)
	w.updatePending()
	if !ok {
		return false
	}
	w.write(ctx, p)
	return true
}

// SubmitDecay records a decay value and returns StatusWritten when it
// completed a join, StatusWaitingTelemetry otherwise.
func (w *Writer) SubmitDecay(ctx context.Context, poleID string, timestamp int64, decay float64) (string, error) {
	poleID = strings.TrimSpace(poleID)
	if poleID == "" {
		return "", errors.New(errors.KindInvalidArgument, "Writer", "SubmitDecay", "pole_id is required")
	}
	w.metrics.decay.Inc()
	p, ok := w.buffer.PutDecay(Key{PoleID: poleID, Timestamp: timestamp}, decay)
	w.updatePending()
	if !ok {
		return StatusWaitingTelemetry, nil
	}
	w.write(ctx, p)
	return StatusWritten, nil
}

// write hands p to the sink once. A failure loses the point.
func (w *Writer) write(ctx context.Context, p pointstore.Point) {
	w.metrics.joins.Inc()
	if err := w.sink.WritePoint(ctx, p); err != nil {
		w.metrics.writeFailures.Inc()
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		w.logger.Warn("Point write failed, dropped",
			"pole_id", p.PoleID, "timestamp", p.Time.Unix(), "error", err)
		return
	}
	w.mu.Lock()
	w.lastErr = nil
	w.mu.Unlock()
	w.logger.Debug("Joined point written",
		"pole_id", p.PoleID, "gateway_id", p.GatewayID, "timestamp", p.Time.Unix(), "decay", p.Decay)
}

func (w *Writer) updatePending() {
	telemetry, decay := w.buffer.Len()
	w.metrics.pending.WithLabelValues(cacheTelemetry).Set(float64(telemetry))
	w.metrics.pending.WithLabelValues(cacheDecay).Set(float64(decay))
}

// OnConnect subscribes to the telemetry topics
func (w *Writer) OnConnect(ctx context.Context, c *natsclient.Client) {
	for _, topic := range w.topics {
		if err := c.Subscribe(ctx, topic); err != nil {
			w.logger.Error("Subscription failed", "topic", topic, "error", err)
		}
	}
}

// OnDisconnect logs the session going away
func (w *Writer) OnDisconnect(err error) {
	w.logger.Warn("Central bus disconnected", "error", err)
}

// OnMessage feeds one relayed pole message into the join
func (w *Writer) OnMessage(ctx context.Context, msg natsclient.Message) {
	r, ok, err := parseTelemetry(msg.Topic, msg.Data)
	switch {
	case err != nil:
		w.metrics.ignored.WithLabelValues("malformed").Inc()
		w.logger.Debug("Ignoring message", "topic", msg.Topic, "error", err)
		return
	case !ok:
		w.metrics.ignored.WithLabelValues("no_telemetry").Inc()
		return
	}
	w.OnTelemetry(ctx, r.Key, r.Telemetry)
}

// Health is degraded while the last write failed
func (w *Writer) Health(_ context.Context) health.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case !w.running:
		return health.NewUnhealthy("writer", "not running")
	case w.lastErr != nil:
		return health.NewDegraded("writer", "last write failed: "+w.lastErr.Error())
	default:
		return health.NewHealthy("writer", "running")
	}
}
