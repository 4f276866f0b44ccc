package pointstore

import (
	"context"
	"log/slog"
)

// LogSink writes points to a logger. It is the default when no storage is
// configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging at Info on logger
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "pointstore")}
}

// WritePoint logs p
func (s *LogSink) WritePoint(ctx context.Context, p Point) error {
	r := p.Record()
	attrs := []any{
		"measurement", r.Measurement,
		"pole_id", r.PoleID,
		"gateway_id", r.GatewayID,
		"timestamp", r.Timestamp,
		"decay", r.Decay,
	}
	for name, v := range map[string]*float64{"temperature": r.Temperature, "humidity": r.Humidity, "tilt": r.Tilt} {
		if v != nil {
			attrs = append(attrs, name, *v)
		}
	}
	s.logger.InfoContext(ctx, "Point written", attrs...)
	return nil
}

// Close does nothing
func (s *LogSink) Close(context.Context) error { return nil }
