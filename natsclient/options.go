package natsclient

import (
	"log/slog"
	"time"

	"github.com/c360/polestream/config"
	"github.com/c360/polestream/metric"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithName labels the session in logs and metrics ("local", "central")
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics reports connection state and message counts on the core metrics
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the ping interval for connection health checks
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout sets the timeout for draining on close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithCredentials sets username and password for authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets a token for authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithMessageTimeout bounds the context passed to OnMessage
func WithMessageTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.messageTimeout = d
		return nil
	}
}

// FromConfig translates the shared bus settings into client options
func FromConfig(cfg config.NATSConfig) []ClientOption {
	opts := []ClientOption{WithMaxReconnects(cfg.MaxReconnects)}
	if d := cfg.ReconnectWait.Std(); d > 0 {
		opts = append(opts, WithReconnectWait(d))
	}
	if cfg.Username != "" {
		opts = append(opts, WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, WithToken(cfg.Token))
	}
	return opts
}
