// Package threshold raises an alert for every pole reading whose tilt exceeds
// the threshold held by the catalog.
package threshold

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/health"
	"github.com/c360/polestream/metric"
	"github.com/c360/polestream/natsclient"
	"github.com/c360/polestream/processor/base"
)

// Info is the catalog identity of the threshold worker
var Info = base.Info{
	Name:          "threshold",
	BindingRole:   catalog.RoleCheckThreshold,
	SubscribeRole: catalog.RoleThresholdSubscribe,
}

// SensorTilt is the only sensor type checked
const SensorTilt = "tilt"

// Alert is published when a reading crosses the threshold
type Alert struct {
	GatewayID  string  `json:"gateway_id"`
	PoleID     string  `json:"pole_id"`
	SensorType string  `json:"sensor_type"`
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
}

// Source supplies the current threshold
type Source interface {
	Threshold(ctx context.Context) (float64, error)
}

// Worker checks readings against the threshold
type Worker struct {
	*base.Processor

	source    Source
	alertBase []string
	logger    *slog.Logger
	clock     clock.Clock
	refresh   time.Duration

	threshold atomic.Uint64 // float64 bits
	publisher atomic.Pointer[natsclient.Publisher]

	alerts  prometheus.Counter
	checked prometheus.Counter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Worker
type Option func(*Worker)

// WithClock sets the clock driving threshold refreshes
func WithClock(c clock.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithLogger sets the worker logger
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a threshold worker publishing alerts under each of alertBase.
// registry may be nil.
func New(proc *base.Processor, source Source, alertBase []string, refresh time.Duration,
	registry *metric.MetricsRegistry, opts ...Option) (*Worker, error) {
	if proc == nil || source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Threshold", "New", "processor and source are required")
	}
	if len(alertBase) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Threshold", "New", "at least one alert topic is required")
	}
	w := &Worker{
		Processor: proc,
		source:    source,
		alertBase: alertBase,
		logger:    slog.Default(),
		clock:     clock.New(),
		refresh:   refresh,
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "threshold",
			Name: "alerts_published_total",
			Help: "Tilt alerts published",
		}),
		checked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "threshold",
			Name: "readings_checked_total",
			Help: "Readings compared against the threshold",
		}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "threshold")

	if registry != nil {
		if err := registry.RegisterCounter("threshold", "alerts_published_total", w.alerts); err != nil {
			return nil, err
		}
		if err := registry.RegisterCounter("threshold", "readings_checked_total", w.checked); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Threshold returns the value readings are compared against
func (w *Worker) Threshold() float64 {
	return math.Float64frombits(w.threshold.Load())
}

func (w *Worker) setThreshold(v float64) {
	w.threshold.Store(math.Float64bits(v))
}

// Start loads the threshold, failing when the catalog has none, and keeps it
// fresh until Stop.
func (w *Worker) Start(ctx context.Context) error {
	v, err := w.source.Threshold(ctx)
	if err != nil {
		return errors.WrapFatal(err, "Threshold", "Start", "load threshold")
	}
	w.setThreshold(v)
	w.logger.Info("Threshold loaded", "threshold", v)

	if w.refresh <= 0 {
		return nil
	}
	ctx, w.cancel = context.WithCancel(ctx)
	ticker := w.clock.Ticker(w.refresh)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reload(ctx)
			}
		}
	}()
	return nil
}

func (w *Worker) reload(ctx context.Context) {
	v, err := w.source.Threshold(ctx)
	if err != nil {
		w.logger.Warn("Threshold refresh failed, keeping previous value", "threshold", w.Threshold(), "error", err)
		return
	}
	if old := w.Threshold(); old != v {
		w.logger.Info("Threshold changed", "from", old, "to", v)
	}
	w.setThreshold(v)
}

// Stop ends the refresh loop
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Bind sets the session alerts are published on
func (w *Worker) Bind(p natsclient.Publisher) {
	w.publisher.Store(&p)
}

// OnConnect subscribes to the reading topics and binds the session for alerts
func (w *Worker) OnConnect(ctx context.Context, c *natsclient.Client) {
	w.Bind(c)
	for _, p := range w.SubscriptionPatterns() {
		if err := c.Subscribe(ctx, p); err != nil {
			w.logger.Error("Subscription failed", "pattern", p, "error", err)
		}
	}
}

// OnDisconnect logs the session going away
func (w *Worker) OnDisconnect(err error) {
	w.logger.Warn("Central bus disconnected", "error", err)
}

type reading struct {
	ID     json.RawMessage `json:"id"`
	PoleID json.RawMessage `json:"pole_id"`
	Tilt   json.RawMessage `json:"tilt"`
}

// OnMessage publishes an alert when the reading's tilt is above the threshold
func (w *Worker) OnMessage(ctx context.Context, msg natsclient.Message) {
	alert, ok := w.check(msg)
	if !ok {
		return
	}
	pp := w.publisher.Load()
	if pp == nil {
		w.logger.Warn("Alert not published, no session", "pole_id", alert.PoleID)
		return
	}
	data, _ := json.Marshal(alert)
	for _, b := range w.alertBase {
		topic := b + "/" + alert.GatewayID + "/" + alert.PoleID
		if err := (*pp).Publish(ctx, topic, data); err != nil {
			w.IncrementErrorCount()
			w.logger.Warn("Alert publish failed", "topic", topic, "error", err)
			continue
		}
		w.alerts.Inc()
		w.logger.Info("Alert published", "topic", topic, "value", alert.Value, "threshold", alert.Threshold)
	}
}

// check returns the alert for a reading, if any. The gateway id is the
// topic's last segment.
func (w *Worker) check(msg natsclient.Message) (Alert, bool) {
	var r reading
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return Alert{}, false
	}
	id := idString(r.ID)
	if id == "" {
		id = idString(r.PoleID)
	}
	if id == "" {
		return Alert{}, false
	}
	// Tilt must be a JSON number; strings and booleans are not readings.
	var tilt float64
	if len(r.Tilt) == 0 || string(r.Tilt) == "null" || json.Unmarshal(r.Tilt, &tilt) != nil {
		return Alert{}, false
	}

	w.checked.Inc()
	w.UpdateActivity()
	limit := w.Threshold()
	if tilt <= limit {
		return Alert{}, false
	}
	return Alert{
		GatewayID:  natsclient.TopicTail(msg.Topic),
		PoleID:     id,
		SensorType: SensorTilt,
		Value:      tilt,
		Threshold:  limit,
	}, true
}

func idString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Health reports the worker's record
func (w *Worker) Health(_ context.Context) health.Status {
	return w.Processor.Health()
}
