package pointstore

import (
	"context"
	"log/slog"

	"github.com/c360/polestream/config"
	"github.com/c360/polestream/errors"
)

// Open returns the sink selected by cfg.Sink. session is only needed for the
// jetstream sink and may be nil otherwise.
func Open(ctx context.Context, cfg config.WriterConfig, session StreamPublisher, logger *slog.Logger) (Sink, error) {
	switch cfg.Sink {
	case config.SinkRedis:
		s, err := NewRedisSink(cfg.Redis)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			logger.Warn("Redis not reachable yet, writes will fail until it is", "addr", cfg.Redis.Addr, "error", err)
		}
		return s, nil
	case config.SinkJetStream:
		if session == nil {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "pointstore", "Open", "jetstream sink needs a bus session")
		}
		return NewJetStreamSink(ctx, session, cfg.JetStream)
	case config.SinkLog, "":
		return NewLogSink(logger), nil
	default:
		return nil, errors.New(errors.KindInvalidArgument, "pointstore", "Open", "unknown sink %q", cfg.Sink)
	}
}
