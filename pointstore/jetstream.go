package pointstore

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/polestream/config"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/natsclient"
)

// StreamPublisher is the part of a bus session a JetStreamSink needs
type StreamPublisher interface {
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	PublishToStream(ctx context.Context, topic string, data []byte) error
}

// JetStreamSink publishes each point as a JSON record to
// {prefix}/{gateway_id}/{pole_id} on a JetStream stream.
type JetStreamSink struct {
	session StreamPublisher
	cfg     config.JetStreamConfig
}

// NewJetStreamSink creates the stream if needed and returns a sink on it
func NewJetStreamSink(ctx context.Context, session StreamPublisher, cfg config.JetStreamConfig) (*JetStreamSink, error) {
	if cfg.Stream == "" || cfg.TopicPrefix == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "JetStreamSink", "New", "stream and topic prefix are required")
	}
	_, err := session.CreateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{natsclient.TopicToSubject(cfg.TopicPrefix + "/#")},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.Wrap(err, "JetStreamSink", "New", "create stream")
	}
	return &JetStreamSink{session: session, cfg: cfg}, nil
}

// Topic returns the topic a point is published to
func (s *JetStreamSink) Topic(p Point) string {
	return s.cfg.TopicPrefix + "/" + p.GatewayID + "/" + p.PoleID
}

// WritePoint publishes p and waits for the stream ack
func (s *JetStreamSink) WritePoint(ctx context.Context, p Point) error {
	data, err := json.Marshal(p.Record())
	if err != nil {
		return errors.WrapInvalid(err, "JetStreamSink", "WritePoint", "marshal point")
	}
	return s.session.PublishToStream(ctx, s.Topic(p), data)
}

// Close is a no-op; the session belongs to the caller
func (s *JetStreamSink) Close(context.Context) error { return nil }
