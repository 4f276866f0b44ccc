package pointstore

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/c360/polestream/config"
	"github.com/c360/polestream/errors"
)

// RedisSink appends points to a Redis stream with XADD. The stream is capped
// approximately at MaxLen entries.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a sink for cfg. It does not contact Redis until the
// first write or Ping.
func NewRedisSink(cfg config.RedisConfig) (*RedisSink, error) {
	if cfg.Addr == "" || cfg.Stream == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "RedisSink", "New", "redis addr and stream are required")
	}
	return &RedisSink{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}, nil
}

// Ping verifies Redis connectivity
func (s *RedisSink) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.WrapTransient(err, "RedisSink", "Ping", "ping redis")
	}
	return nil
}

// WritePoint appends p as one stream entry
func (s *RedisSink) WritePoint(ctx context.Context, p Point) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: p.Record().streamValues(),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return errors.WrapTransient(err, "RedisSink", "WritePoint", "xadd "+s.stream)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSink) Close(context.Context) error {
	return s.rdb.Close()
}
