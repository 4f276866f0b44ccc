package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300*time.Second, cfg.Writer.TTL.Std())
	assert.Equal(t, 10*time.Second, cfg.Writer.SweepInterval.Std())
	assert.Equal(t, "poleData", cfg.Bridge.GatewayTopicBase)
}

func TestLoader_JSONLayerOverridesOnlyPresentKeys(t *testing.T) {
	path := writeFile(t, "writer.json", `{
		"writer": {"ttl": "2m", "sink": "redis", "redis": {"addr": "redis:6379"}},
		"nats": {"reconnect_wait": 500000000}
	}`)

	loader := NewLoader()
	loader.getenv = func(string) string { return "" }
	loader.AddLayer(path)
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Writer.TTL.Std())
	assert.Equal(t, SinkRedis, cfg.Writer.Sink)
	assert.Equal(t, "redis:6379", cfg.Writer.Redis.Addr)
	// untouched keys keep their defaults
	assert.Equal(t, "polestream:points", cfg.Writer.Redis.Stream)
	assert.Equal(t, 10*time.Second, cfg.Writer.SweepInterval.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.NATS.ReconnectWait.Std())
}

func TestLoader_YAMLLayer(t *testing.T) {
	path := writeFile(t, "bridge.yaml", `
bridge:
  latitude: 45.07
  longitude: 7.69
  status_timeout: 1s
  known_ttl: 1d
log:
  level: debug
`)
	loader := NewLoader()
	loader.getenv = func(string) string { return "" }
	loader.AddLayer(path)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.InDelta(t, 45.07, cfg.Bridge.Latitude, 1e-9)
	assert.InDelta(t, 7.69, cfg.Bridge.Longitude, 1e-9)
	assert.Equal(t, time.Second, cfg.Bridge.StatusTimeout.Std())
	assert.Equal(t, 24*time.Hour, cfg.Bridge.KnownTTL.Std())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_LaterLayerWins(t *testing.T) {
	base := writeFile(t, "base.json", `{"catalog": {"listen": ":9000", "store": "memory"}}`)
	site := writeFile(t, "site.yml", "catalog:\n  listen: \":9100\"\n")

	loader := NewLoader()
	loader.getenv = func(string) string { return "" }
	loader.AddLayer(base)
	loader.AddLayer(site)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Catalog.Listen)
	assert.Equal(t, StoreMemory, cfg.Catalog.Store)
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"POLESTREAM_CATALOG_URL":   "http://catalog:8080",
		"POLESTREAM_BRIDGE_LAT":    "41.9",
		"POLESTREAM_BRIDGE_LON":    "12.5",
		"POLESTREAM_METRICS_PORT":  "9191",
		"POLESTREAM_NATS_TOKEN":    "s3cret",
		"POLESTREAM_CATALOG_STORE": "memory",
	}
	loader := NewLoader()
	loader.getenv = func(k string) string { return env[k] }

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://catalog:8080", cfg.Bridge.CatalogURL)
	assert.Equal(t, "http://catalog:8080", cfg.Writer.CatalogURL)
	assert.Equal(t, "http://catalog:8080", cfg.Decay.CatalogURL)
	assert.Equal(t, "http://catalog:8080", cfg.Threshold.CatalogURL)
	assert.InDelta(t, 41.9, cfg.Bridge.Latitude, 1e-9)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, StoreMemory, cfg.Catalog.Store)
	assert.NotContains(t, cfg.String(), "s3cret")

	env["POLESTREAM_BRIDGE_LAT"] = "north"
	_, err = loader.Load()
	assert.Error(t, err)
}

func TestLoader_RejectsBadFiles(t *testing.T) {
	loader := NewLoader()
	loader.AddLayer(writeFile(t, "conf.toml", "x = 1"))
	_, err := loader.Load()
	assert.Error(t, err)

	loader = NewLoader()
	loader.AddLayer(writeFile(t, "broken.json", `{"writer": {`))
	_, err = loader.Load()
	assert.Error(t, err)

	loader = NewLoader()
	loader.AddLayer(writeFile(t, "dur.json", `{"writer": {"ttl": "soon"}}`))
	_, err = loader.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Catalog.Store = "s3" }},
		{"kv without url", func(c *Config) { c.Catalog.Store = StoreKV }},
		{"negative rate", func(c *Config) { c.Catalog.RequestRate = -1 }},
		{"rate without burst", func(c *Config) { c.Catalog.RequestRate = 50; c.Catalog.RequestBurst = 0 }},
		{"latitude", func(c *Config) { c.Bridge.Latitude = 91 }},
		{"wildcard base", func(c *Config) { c.Bridge.GatewayTopicBase = "poleData/#" }},
		{"catalog url", func(c *Config) { c.Bridge.CatalogURL = "catalog:8080" }},
		{"relay workers", func(c *Config) { c.Bridge.RelayWorkers = 0 }},
		{"zero ttl", func(c *Config) { c.Writer.TTL = 0 }},
		{"unknown sink", func(c *Config) { c.Writer.Sink = "influx" }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
		{"metrics port", func(c *Config) { c.Metrics.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoader_ExampleConfigIsValid(t *testing.T) {
	l := NewLoader()
	l.getenv = func(string) string { return "" }
	l.AddLayer(filepath.Join("..", "configs", "polestream.yaml"))
	l.EnableValidation(true)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, SinkRedis, cfg.Writer.Sink)
	assert.Equal(t, 5*time.Minute, cfg.Writer.TTL.Std())
	assert.Equal(t, time.Minute, cfg.Threshold.RefreshInterval.Std())
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
}
