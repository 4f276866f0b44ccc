//go:build integration

package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/natsclient"
)

func TestIntegration_KVStoreBacksRegistry(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS to run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	srv := natsclient.NewTestServer(t, natsclient.WithJetStream())
	client, err := srv.Connect(ctx, nil, natsclient.WithName("catalog"))
	require.NoError(t, err)
	defer client.Close(ctx)

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "catalog_test", History: 5})
	require.NoError(t, err)
	store := NewKVStore(kv)

	_, err = store.Load(ctx)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	r, err := NewRegistry(ctx, store)
	require.NoError(t, err)
	_, err = r.RegisterGateway(ctx, "gw1", "Toscana", GatewayFields{})
	require.NoError(t, err)

	reopened, err := NewRegistry(ctx, NewKVStore(kv))
	require.NoError(t, err)
	g, err := reopened.Gateway("gw1")
	require.NoError(t, err)
	assert.Equal(t, "Toscana", g.Zone)
}
