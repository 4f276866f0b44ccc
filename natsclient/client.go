package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/multierr"

	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by operations attempted while the session is down
var ErrNotConnected = stderrors.New("not connected to NATS")

// Message is one delivered bus message
type Message struct {
	Topic string
	Data  []byte
}

// Handler receives the lifecycle and message events of one session.
// OnConnect runs after the initial connect and after every reconnect; it is
// the place to (re)declare subscriptions, which are idempotent per pattern.
type Handler interface {
	OnConnect(ctx context.Context, c *Client)
	OnMessage(ctx context.Context, msg Message)
	OnDisconnect(err error)
}

// Publisher is the publish side of a session
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Client is one bus session
type Client struct {
	url     string
	name    string
	handler Handler
	logger  *slog.Logger
	metrics *metric.Metrics

	status    atomic.Int32
	announced atomic.Bool
	closed    atomic.Bool

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs map[string]*nats.Subscription

	// base context for handler callbacks, cancelled on Close
	baseCtx    context.Context
	baseCancel context.CancelFunc

	maxReconnects  int
	reconnectWait  time.Duration
	pingInterval   time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	messageTimeout time.Duration

	username string
	password string
	token    string
}

// NewClient creates a session for url. handler may be nil for publish-only
// sessions.
func NewClient(url string, handler Handler, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "url is required")
	}
	c := &Client{
		url:            url,
		name:           "nats",
		handler:        handler,
		logger:         slog.Default(),
		subs:           make(map[string]*nats.Subscription),
		maxReconnects:  -1,
		reconnectWait:  2 * time.Second,
		pingInterval:   30 * time.Second,
		timeout:        5 * time.Second,
		drainTimeout:   10 * time.Second,
		messageTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("session", c.name)
	c.baseCtx, c.baseCancel = context.WithCancel(context.Background())
	c.setStatus(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Name returns the session label
func (c *Client) Name() string {
	return c.name
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsConnected reports whether the session can publish right now
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	return conn != nil && conn.IsConnected()
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
	if c.metrics != nil {
		v := 0.0
		if s == StatusConnected {
			v = 1
		}
		c.metrics.BusConnected.WithLabelValues(c.name).Set(v)
	}
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		// no client-side buffering while reconnecting
		nats.ReconnectBufSize(-1),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(c.handleConnect),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
		nats.Name(c.name),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

// Connect starts the session. The server does not have to be reachable: the
// client keeps retrying in the background and calls OnConnect once it is up.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(fmt.Errorf("client is closed"), "Client", "Connect", "check client state")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	conn, err := nats.Connect(c.url, c.buildConnectionOptions()...)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect", "initialize JetStream")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	if conn.IsConnected() {
		c.announceConnected()
	} else {
		c.setStatus(StatusReconnecting)
		c.logger.Warn("NATS not reachable yet, retrying in background", "url", c.url)
	}
	return nil
}

// WaitForConnection blocks until the session is connected or ctx ends
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

// announceConnected fires OnConnect for the first connection exactly once;
// Connect and the nats connect callback race for it.
func (c *Client) announceConnected() {
	if !c.announced.CompareAndSwap(false, true) {
		return
	}
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", c.url)
	if c.handler != nil {
		c.handler.OnConnect(c.baseCtx, c)
	}
}

// Subscribe subscribes to a topic pattern. A pattern already subscribed is a
// no-op, so OnConnect can re-declare its subscriptions after a reconnect.
func (c *Client) Subscribe(_ context.Context, pattern string) error {
	if c.handler == nil {
		return errors.WrapInvalid(fmt.Errorf("no handler"), "Client", "Subscribe", "subscribe without handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return errors.WrapTransient(ErrNotConnected, "Client", "Subscribe", "subscribe "+pattern)
	}
	if _, ok := c.subs[pattern]; ok {
		return nil
	}

	sub, err := c.conn.Subscribe(TopicToSubject(pattern), c.deliver)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+pattern)
	}
	c.subs[pattern] = sub
	c.logger.Debug("Subscribed", "pattern", pattern)
	return nil
}

// Unsubscribe drops a subscription made with Subscribe
func (c *Client) Unsubscribe(pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[pattern]
	if !ok {
		return nil
	}
	delete(c.subs, pattern)
	if err := sub.Unsubscribe(); err != nil {
		return errors.Wrap(err, "Client", "Unsubscribe", "unsubscribe "+pattern)
	}
	return nil
}

func (c *Client) deliver(msg *nats.Msg) {
	if c.metrics != nil {
		c.metrics.BusReceived.WithLabelValues(c.name).Inc()
	}
	ctx, cancel := context.WithTimeout(c.baseCtx, c.messageTimeout)
	defer cancel()
	c.handler.OnMessage(ctx, Message{Topic: SubjectToTopic(msg.Subject), Data: msg.Data})
}

// Publish publishes data on a topic. Nothing is buffered: when the session is
// down the call fails with ErrNotConnected and the message is lost.
func (c *Client) Publish(_ context.Context, topic string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		c.countPublish("dropped")
		return errors.WrapTransient(ErrNotConnected, "Client", "Publish", "publish "+topic)
	}

	if err := conn.Publish(TopicToSubject(topic), data); err != nil {
		c.countPublish("error")
		return errors.WrapTransient(err, "Client", "Publish", "publish "+topic)
	}
	c.countPublish("ok")
	return nil
}

func (c *Client) countPublish(status string) {
	if c.metrics != nil {
		c.metrics.BusPublished.WithLabelValues(c.name, status).Inc()
	}
}

// Close drains the connection and releases the session. Safe to call twice.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.baseCancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs error
	for pattern, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = multierr.Append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+pattern))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		if c.conn.IsConnected() {
			drainDone := make(chan error, 1)
			conn := c.conn
			go func() { drainDone <- conn.Drain() }()

			select {
			case err := <-drainDone:
				if err != nil {
					errs = multierr.Append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
				}
			case <-time.After(drainTimeout):
				errs = multierr.Append(errs, errors.WrapTransient(
					fmt.Errorf("drain timeout after %v", drainTimeout), "Client", "Close", "drain"))
			case <-ctx.Done():
				errs = multierr.Append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain"))
			}
		}
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}

	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusClosed)
	c.logger.Info("NATS session closed")
	return errs
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// CreateStream creates or updates a JetStream stream
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateStream", "create stream "+cfg.Name)
	}
	return stream, nil
}

// PublishToStream publishes to a JetStream subject and waits for the ack
func (c *Client) PublishToStream(ctx context.Context, topic string, data []byte) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, TopicToSubject(topic), data); err != nil {
		c.countPublish("error")
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+topic)
	}
	c.countPublish("ok")
	return nil
}

// CreateKeyValueBucket creates or gets a KV bucket
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		c.logger.Debug("Using existing KV bucket", "bucket", cfg.Bucket)
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err != nil {
				return nil, errors.Wrap(err, "Client", "CreateKeyValueBucket",
					fmt.Sprintf("access existing bucket %s", cfg.Bucket))
			}
			return bucket, nil
		}
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}

	c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

func (c *Client) handleConnect(_ *nats.Conn) {
	// before Connect has stored the conn, Connect itself announces
	c.mu.RLock()
	ready := c.conn != nil
	c.mu.RUnlock()
	if ready {
		c.announceConnected()
	}
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)
	if c.handler != nil {
		c.handler.OnDisconnect(err)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	if c.metrics != nil {
		c.metrics.BusReconnects.WithLabelValues(c.name).Inc()
	}
	if !c.announced.Load() {
		c.announceConnected()
		return
	}
	c.setStatus(StatusConnected)
	c.logger.Info("NATS reconnected")
	if c.handler != nil {
		c.handler.OnConnect(c.baseCtx, c)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusClosed)
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.logger.Error("NATS error", "subject", subject, "error", err)
}

// isAlreadyExistsError checks if an error indicates a KV bucket already exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "already in use") || strings.Contains(errStr, "already exists")
}
