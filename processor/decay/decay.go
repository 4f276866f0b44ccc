// Package decay computes a decay rate for every pole reading on the central
// bus and submits it to the correlation writer, which joins it with the
// reading itself.
package decay

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/health"
	"github.com/c360/polestream/metric"
	"github.com/c360/polestream/natsclient"
	"github.com/c360/polestream/pkg/worker"
	"github.com/c360/polestream/processor/base"
)

// Info is the catalog identity of the decay worker
var Info = base.Info{
	Name:          "decay",
	BindingRole:   catalog.RoleComputeDecay,
	SubscribeRole: catalog.RoleComputeDecay,
}

// Submitter delivers decay values to the writer
type Submitter interface {
	SubmitDecay(ctx context.Context, poleID string, timestamp int64, decay float64) (string, error)
}

// Submission is one computed decay value
type Submission struct {
	PoleID    string
	Timestamp int64
	Decay     float64
}

type reading struct {
	ID          json.RawMessage `json:"id"`
	PoleID      json.RawMessage `json:"pole_id"`
	Message     string          `json:"message"`
	Type        string          `json:"type"`
	Timestamp   *float64        `json:"timestamp"`
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
}

// Worker consumes readings and posts decay values off the delivery path
type Worker struct {
	*base.Processor

	submitter Submitter
	timeout   time.Duration
	logger    *slog.Logger
	pool      *worker.Pool[Submission]

	submitted *prometheus.CounterVec
	skipped   prometheus.Counter
}

// New creates a decay worker. registry may be nil.
func New(proc *base.Processor, submitter Submitter, timeout time.Duration, logger *slog.Logger, registry *metric.MetricsRegistry) (*Worker, error) {
	if proc == nil || submitter == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Decay", "New", "processor and submitter are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		Processor: proc,
		submitter: submitter,
		timeout:   timeout,
		logger:    logger.With("component", "decay"),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "decay",
			Name: "submissions_total",
			Help: "Decay values posted to the writer, by outcome",
		}, []string{"outcome"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "decay",
			Name: "readings_skipped_total",
			Help: "Bus messages without the fields decay needs",
		}),
	}

	var poolOpts []worker.Option[Submission]
	if registry != nil {
		if err := registry.RegisterCounterVec("decay", "submissions_total", w.submitted); err != nil {
			return nil, err
		}
		if err := registry.RegisterCounter("decay", "readings_skipped_total", w.skipped); err != nil {
			return nil, err
		}
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[Submission](registry, "decay_submissions"))
	}
	w.pool = worker.NewPool(4, 256, w.submit, poolOpts...)
	return w, nil
}

// Start starts the submission workers
func (w *Worker) Start(ctx context.Context) error {
	return w.pool.Start(ctx)
}

// Stop waits for queued submissions
func (w *Worker) Stop() error {
	return w.pool.Stop(w.timeout + time.Second)
}

// OnConnect subscribes to the reading topics
func (w *Worker) OnConnect(ctx context.Context, c *natsclient.Client) {
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

// OnMessage computes the decay for one reading and queues its submission
func (w *Worker) OnMessage(_ context.Context, msg natsclient.Message) {
	s, ok := parseReading(msg.Data)
	if !ok {
		w.skipped.Inc()
		return
	}
	if err := w.pool.Submit(s); err != nil {
		w.IncrementErrorCount()
		w.submitted.WithLabelValues("queue_full").Inc()
		w.logger.Warn("Decay submission dropped", "pole_id", s.PoleID, "error", err)
	}
}

// parseReading extracts a submission from a reading. Config announcements
// and readings lacking temperature, humidity or timestamp yield false.
func parseReading(data []byte) (Submission, bool) {
	var r reading
	if err := json.Unmarshal(data, &r); err != nil {
		return Submission{}, false
	}
	kind := strings.ToLower(strings.TrimSpace(r.Message))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(r.Type))
	}
	if kind == "config" {
		return Submission{}, false
	}
	id := idString(r.ID)
	if id == "" {
		id = idString(r.PoleID)
	}
	if id == "" || r.Timestamp == nil || r.Temperature == nil || r.Humidity == nil {
		return Submission{}, false
	}
	d := Compute(*r.Temperature, *r.Humidity)
	if math.IsNaN(d) || math.IsInf(d, 0) || math.IsNaN(*r.Timestamp) {
		return Submission{}, false
	}
	return Submission{PoleID: id, Timestamp: int64(*r.Timestamp), Decay: d}, true
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

func (w *Worker) submit(ctx context.Context, s Submission) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	status, err := w.submitter.SubmitDecay(ctx, s.PoleID, s.Timestamp, s.Decay)
	if err != nil {
		w.IncrementErrorCount()
		w.submitted.WithLabelValues("error").Inc()
		w.logger.Warn("Writer rejected decay", "pole_id", s.PoleID, "timestamp", s.Timestamp, "error", err)
		return err
	}
	w.UpdateActivity()
	w.submitted.WithLabelValues(status).Inc()
	w.logger.Debug("Decay sent", "pole_id", s.PoleID, "timestamp", s.Timestamp, "decay", s.Decay, "status", status)
	return nil
}

// Health reports the worker's submission record
func (w *Worker) Health(_ context.Context) health.Status {
	return w.Processor.Health()
}
