package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/c360/polestream/errors"
)

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "validate configuration")
}

// Validate checks every section
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		&c.Catalog, &c.Bridge, &c.Writer, &c.Decay, &c.Threshold, &c.NATS, &c.Metrics, &c.Log,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the catalog section
func (c *CatalogConfig) Validate() error {
	if c.Listen == "" {
		return invalid("catalog.listen is required")
	}
	switch c.Store {
	case StoreFile:
		if c.SnapshotPath == "" {
			return invalid("catalog.snapshot_path is required for the file store")
		}
	case StoreKV:
		if c.KVBucket == "" {
			return invalid("catalog.kv_bucket is required for the kv store")
		}
		if c.NATSURL == "" {
			return invalid("catalog.nats_url is required for the kv store")
		}
	case StoreMemory:
	default:
		return invalid("catalog.store %q must be one of file, kv, memory", c.Store)
	}
	if c.RequestRate < 0 {
		return invalid("catalog.request_rate must not be negative")
	}
	if c.RequestRate > 0 && c.RequestBurst < 1 {
		return invalid("catalog.request_burst must be at least 1 when request_rate is set")
	}
	return nil
}

// Validate checks the bridge section
func (c *BridgeConfig) Validate() error {
	if err := validateHTTPURL("bridge.catalog_url", c.CatalogURL); err != nil {
		return err
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return invalid("bridge.latitude %v out of range", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return invalid("bridge.longitude %v out of range", c.Longitude)
	}
	if c.GatewayTopicBase == "" || strings.ContainsAny(c.GatewayTopicBase, "#+") {
		return invalid("bridge.gateway_topic_base %q must be a plain topic", c.GatewayTopicBase)
	}
	if c.RegistrationWorkers < 1 || c.RegistrationQueue < 1 {
		return invalid("bridge registration workers and queue must be positive")
	}
	if c.RelayWorkers < 1 || c.RelayQueue < 1 {
		return invalid("bridge relay workers and queue must be positive")
	}
	if c.RequestTimeout <= 0 || c.StatusTimeout <= 0 {
		return invalid("bridge timeouts must be positive")
	}
	return nil
}

// Validate checks the writer section
func (c *WriterConfig) Validate() error {
	if c.Listen == "" {
		return invalid("writer.listen is required")
	}
	if err := validateHTTPURL("writer.catalog_url", c.CatalogURL); err != nil {
		return err
	}
	if c.TTL <= 0 || c.SweepInterval <= 0 {
		return invalid("writer.ttl and writer.sweep_interval must be positive")
	}
	switch c.Sink {
	case SinkRedis:
		if c.Redis.Addr == "" || c.Redis.Stream == "" {
			return invalid("writer.redis.addr and writer.redis.stream are required")
		}
	case SinkJetStream:
		if c.JetStream.Stream == "" || c.JetStream.TopicPrefix == "" {
			return invalid("writer.jetstream.stream and topic_prefix are required")
		}
	case SinkLog:
	default:
		return invalid("writer.sink %q must be one of redis, jetstream, log", c.Sink)
	}
	return nil
}

// Validate checks the decay section
func (c *DecayConfig) Validate() error {
	if err := validateHTTPURL("decay.catalog_url", c.CatalogURL); err != nil {
		return err
	}
	if c.WriterURL != "" {
		if err := validateHTTPURL("decay.writer_url", c.WriterURL); err != nil {
			return err
		}
	}
	if c.RequestTimeout <= 0 {
		return invalid("decay.request_timeout must be positive")
	}
	return nil
}

// Validate checks the threshold section
func (c *ThresholdConfig) Validate() error {
	if err := validateHTTPURL("threshold.catalog_url", c.CatalogURL); err != nil {
		return err
	}
	if c.AlertTopicBase == "" {
		return invalid("threshold.alert_topic_base is required")
	}
	return nil
}

// Validate checks the nats section
func (c *NATSConfig) Validate() error {
	if c.MaxReconnects < -1 {
		return invalid("nats.max_reconnects must be -1 or more")
	}
	if c.Username != "" && c.Password == "" {
		return invalid("nats.password is required with nats.username")
	}
	return nil
}

// Validate checks the metrics section
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port <= 0 || c.Port > 65535 {
		return invalid("metrics.port %d out of range", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return invalid("metrics.path must start with /")
	}
	return nil
}

// Validate checks the log section
func (c *LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level %q is not a level", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "json", "text":
	default:
		return invalid("log.format %q must be json or text", c.Format)
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return invalid("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("%s %q must be an http(s) url", field, raw)
	}
	return nil
}
