//go:build integration

package pointstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/config"
	"github.com/c360/polestream/natsclient"
)

func TestIntegration_JetStreamSinkPersistsRecords(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS to run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	srv := natsclient.NewTestServer(t, natsclient.WithJetStream())
	session, err := srv.Connect(ctx, nil, natsclient.WithName("writer-points"))
	require.NoError(t, err)
	defer session.Close(ctx)

	sink, err := NewJetStreamSink(ctx, session, config.JetStreamConfig{Stream: "POINTS_TEST", TopicPrefix: "points"})
	require.NoError(t, err)

	temp := 21.5
	p := Point{PoleID: "p1", GatewayID: "gateway_45.07.7.68", Time: time.Unix(1000, 0), Temperature: &temp, Decay: 3.2}
	require.NoError(t, sink.WritePoint(ctx, p))

	js, err := session.JetStream()
	require.NoError(t, err)
	stream, err := js.Stream(ctx, "POINTS_TEST")
	require.NoError(t, err)
	msg, err := stream.GetLastMsgForSubject(ctx, natsclient.TopicToSubject(sink.Topic(p)))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &rec))
	assert.Equal(t, "p1", rec["pole_id"])
	assert.Equal(t, 3.2, rec["decay"])
	assert.Equal(t, 21.5, rec["temperature"])
	assert.NotContains(t, rec, "humidity")
}
