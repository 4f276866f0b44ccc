package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestServer is a NATS server in a container, for integration tests.
// Sessions are created against URL with the handler each test needs.
type TestServer struct {
	container testcontainers.Container
	URL       string
}

type testConfig struct {
	jetstream    bool
	natsVersion  string
	startTimeout time.Duration
}

// TestOption configures a TestServer
type TestOption func(*testConfig)

// WithJetStream enables JetStream, needed for KV snapshots and stream sinks
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithNATSVersion specifies a specific NATS server image tag
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithStartTimeout sets the container startup timeout
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

// NewSharedTestServer starts a container for use in TestMain
func NewSharedTestServer(opts ...TestOption) (*TestServer, error) {
	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()

	args := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.natsVersion,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          args,
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &TestServer{
		container: container,
		URL:       fmt.Sprintf("nats://%s:%s", host, port.Port()),
	}, nil
}

// NewTestServer starts a container and registers its termination with t
func NewTestServer(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()
	srv, err := NewSharedTestServer(opts...)
	if err != nil {
		t.Fatalf("NATS test server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Terminate() })
	return srv
}

// Connect creates a session against the server and waits until it is up
func (s *TestServer) Connect(ctx context.Context, handler Handler, opts ...ClientOption) (*Client, error) {
	opts = append([]ClientOption{WithReconnectWait(100 * time.Millisecond)}, opts...)
	client, err := NewClient(s.URL, handler, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	return client, nil
}

// Terminate stops the container
func (s *TestServer) Terminate() error {
	if s.container == nil {
		return nil
	}
	err := s.container.Terminate(context.Background())
	s.container = nil
	return err
}
