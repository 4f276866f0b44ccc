package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot store kinds for the catalog
const (
	StoreFile   = "file"
	StoreKV     = "kv"
	StoreMemory = "memory"
)

// Point sink kinds for the writer
const (
	SinkRedis     = "redis"
	SinkJetStream = "jetstream"
	SinkLog       = "log"
)

// Config represents the complete configuration. Each process reads the
// sections it needs plus the shared nats, metrics and log sections.
type Config struct {
	Catalog   CatalogConfig   `json:"catalog"`
	Bridge    BridgeConfig    `json:"bridge"`
	Writer    WriterConfig    `json:"writer"`
	Decay     DecayConfig     `json:"decay"`
	Threshold ThresholdConfig `json:"threshold"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`
	Log       LogConfig       `json:"log"`
}

// CatalogConfig configures the catalog registry service
type CatalogConfig struct {
	Listen       string `json:"listen"`
	Store        string `json:"store"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
	// KV store settings; the bucket lives on the NATS server at NATSURL
	KVBucket string `json:"kv_bucket,omitempty"`
	NATSURL  string `json:"nats_url,omitempty"`
	// SeedFile replaces the built-in default snapshot on first start
	SeedFile string `json:"seed_file,omitempty"`
	// AdminToken guards topic updates when set
	AdminToken string `json:"admin_token,omitempty"`
	// RequestRate limits API requests per second; 0 disables the limit
	RequestRate  float64 `json:"request_rate,omitempty"`
	RequestBurst int     `json:"request_burst,omitempty"`
}

// BridgeConfig configures one gateway bridge
type BridgeConfig struct {
	CatalogURL          string   `json:"catalog_url"`
	Latitude            float64  `json:"latitude"`
	Longitude           float64  `json:"longitude"`
	GatewayTopicBase    string   `json:"gateway_topic_base"`
	RegistrationWorkers int      `json:"registration_workers"`
	RegistrationQueue   int      `json:"registration_queue"`
	RelayWorkers        int      `json:"relay_workers"`
	RelayQueue          int      `json:"relay_queue"`
	RequestTimeout      Duration `json:"request_timeout"`
	StatusTimeout       Duration `json:"status_timeout"`
	// KnownTTL expires entries of the advisory known-pole cache; 0 keeps them
	KnownTTL Duration `json:"known_ttl"`
	Listen   string   `json:"listen"`
}

// WriterConfig configures the correlation writer
type WriterConfig struct {
	Listen        string          `json:"listen"`
	CatalogURL    string          `json:"catalog_url"`
	TTL           Duration        `json:"ttl"`
	SweepInterval Duration        `json:"sweep_interval"`
	Sink          string          `json:"sink"`
	Redis         RedisConfig     `json:"redis"`
	JetStream     JetStreamConfig `json:"jetstream"`
}

// RedisConfig configures the Redis stream point sink
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Stream   string `json:"stream"`
	MaxLen   int64  `json:"max_len"`
}

// JetStreamConfig configures the JetStream point sink
type JetStreamConfig struct {
	Stream      string `json:"stream"`
	TopicPrefix string `json:"topic_prefix"`
}

// DecayConfig configures the decay worker
type DecayConfig struct {
	CatalogURL string `json:"catalog_url"`
	// WriterURL overrides the writer url published by the catalog
	WriterURL      string   `json:"writer_url,omitempty"`
	RequestTimeout Duration `json:"request_timeout"`
}

// ThresholdConfig configures the threshold worker
type ThresholdConfig struct {
	CatalogURL      string   `json:"catalog_url"`
	AlertTopicBase  string   `json:"alert_topic_base"`
	RefreshInterval Duration `json:"refresh_interval"`
}

// NATSConfig holds settings shared by every bus session. Broker addresses
// come from the catalog, not from here.
type NATSConfig struct {
	MaxReconnects int      `json:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the built-in defaults
func Default() *Config {
	const catalogURL = "http://127.0.0.1:8080"
	return &Config{
		Catalog: CatalogConfig{
			Listen:       ":8080",
			Store:        StoreFile,
			SnapshotPath: "catalog.json",
			KVBucket:     "polestream_catalog",
			RequestBurst: 20,
		},
		Bridge: BridgeConfig{
			CatalogURL:          catalogURL,
			GatewayTopicBase:    "poleData",
			RegistrationWorkers: 2,
			RegistrationQueue:   128,
			RelayWorkers:        4,
			RelayQueue:          1024,
			RequestTimeout:      Duration(5 * time.Second),
			StatusTimeout:       Duration(2 * time.Second),
		},
		Writer: WriterConfig{
			Listen:        ":8081",
			CatalogURL:    catalogURL,
			TTL:           Duration(300 * time.Second),
			SweepInterval: Duration(10 * time.Second),
			Sink:          SinkLog,
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Stream: "polestream:points",
				MaxLen: 100000,
			},
			JetStream: JetStreamConfig{
				Stream:      "POLESTREAM_POINTS",
				TopicPrefix: "points",
			},
		},
		Decay: DecayConfig{
			CatalogURL:     catalogURL,
			RequestTimeout: Duration(2 * time.Second),
		},
		Threshold: ThresholdConfig{
			CatalogURL:      catalogURL,
			AlertTopicBase:  "alerts",
			RefreshInterval: Duration(time.Minute),
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "POLESTREAM",
		getenv:    os.Getenv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a layer into a generic map, by extension
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		if val != "" {
			*dst = val
		}
		return nil
	}

	strs := map[string]*string{
		"CATALOG_LISTEN":        &cfg.Catalog.Listen,
		"CATALOG_STORE":         &cfg.Catalog.Store,
		"CATALOG_SNAPSHOT_PATH": &cfg.Catalog.SnapshotPath,
		"CATALOG_NATS_URL":      &cfg.Catalog.NATSURL,
		"CATALOG_ADMIN_TOKEN":   &cfg.Catalog.AdminToken,
		"WRITER_LISTEN":         &cfg.Writer.Listen,
		"WRITER_SINK":           &cfg.Writer.Sink,
		"REDIS_ADDR":            &cfg.Writer.Redis.Addr,
		"DECAY_WRITER_URL":      &cfg.Decay.WriterURL,
		"NATS_USERNAME":         &cfg.NATS.Username,
		"NATS_PASSWORD":         &cfg.NATS.Password,
		"NATS_TOKEN":            &cfg.NATS.Token,
		"LOG_LEVEL":             &cfg.Log.Level,
		"LOG_FORMAT":            &cfg.Log.Format,
	}
	for name, dst := range strs {
		if err := str(name, dst); err != nil {
			return err
		}
	}

	// one catalog address for every client role
	var catalogURL string
	if err := str("CATALOG_URL", &catalogURL); err != nil {
		return err
	}
	if catalogURL != "" {
		cfg.Bridge.CatalogURL = catalogURL
		cfg.Writer.CatalogURL = catalogURL
		cfg.Decay.CatalogURL = catalogURL
		cfg.Threshold.CatalogURL = catalogURL
	}

	floats := map[string]*float64{
		"BRIDGE_LAT": &cfg.Bridge.Latitude,
		"BRIDGE_LON": &cfg.Bridge.Longitude,
	}
	for name, dst := range floats {
		if val := l.getenv(l.envPrefix + "_" + name); val != "" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
			}
			*dst = f
		}
	}

	if val := l.getenv(l.envPrefix + "_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}
	return nil
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	for _, s := range []*string{&masked.NATS.Password, &masked.NATS.Token,
		&masked.Catalog.AdminToken, &masked.Writer.Redis.Password} {
		if *s != "" {
			*s = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
