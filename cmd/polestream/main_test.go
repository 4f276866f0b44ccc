package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/health"
	"github.com/c360/polestream/metric"
)

func writeLayer(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCLIOptions_Validate(t *testing.T) {
	layer := writeLayer(t, "base.json", `{}`)
	tests := []struct {
		name    string
		opts    cliOptions
		wantErr bool
	}{
		{"defaults", cliOptions{ShutdownTimeout: time.Second}, false},
		{"existing layer", cliOptions{ConfigPaths: []string{layer}, ShutdownTimeout: time.Second}, false},
		{"missing layer", cliOptions{ConfigPaths: []string{"/nonexistent.json"}, ShutdownTimeout: time.Second}, true},
		{"bad level", cliOptions{LogLevel: "verbose", ShutdownTimeout: time.Second}, true},
		{"bad format", cliOptions{LogFormat: "xml", ShutdownTimeout: time.Second}, true},
		{"no timeout", cliOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_LayersAndFlagOverrides(t *testing.T) {
	base := writeLayer(t, "base.json", `{"writer":{"sink":"redis"},"log":{"level":"warn"}}`)
	site := writeLayer(t, "site.yaml", "writer:\n  listen: \":9191\"\n")

	cfg, err := loadConfig(&cliOptions{
		ConfigPaths:     []string{base, site},
		LogFormat:       "text",
		ShutdownTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Writer.Sink)
	assert.Equal(t, ":9191", cfg.Writer.Listen)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_RejectsInvalidLayer(t *testing.T) {
	layer := writeLayer(t, "bad.json", `{"writer":{"sink":"carrier-pigeon"}}`)
	_, err := loadConfig(&cliOptions{ConfigPaths: []string{layer}, ShutdownTimeout: time.Second})
	assert.Error(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("POLESTREAM_TEST_LIST", " a.json, ,b.yaml ")
	t.Setenv("POLESTREAM_TEST_DURATION", "3s")
	t.Setenv("POLESTREAM_TEST_BAD_DURATION", "soon")

	assert.Equal(t, []string{"a.json", "b.yaml"}, getEnvList("POLESTREAM_TEST_LIST"))
	assert.Nil(t, getEnvList("POLESTREAM_TEST_UNSET"))
	assert.Equal(t, 3*time.Second, getEnvDuration("POLESTREAM_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("POLESTREAM_TEST_BAD_DURATION", time.Second))
	assert.Equal(t, "fallback", getEnv("POLESTREAM_TEST_UNSET", "fallback"))
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"catalog", "bridge", "writer", "decay", "threshold", "validate"} {
		assert.Contains(t, names, want)
	}
}

func TestValidateCmd_PrintsMaskedConfig(t *testing.T) {
	layer := writeLayer(t, "secret.json", `{"catalog":{"admin_token":"hunter2"}}`)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "--config", layer})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"admin_token": "***"`)
	assert.NotContains(t, out.String(), "hunter2")
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg, err := loadConfig(&cliOptions{ShutdownTimeout: time.Second})
	require.NoError(t, err)
	cfg.Metrics.Enabled = false
	return &app{
		name:            "test",
		cfg:             cfg,
		logger:          slog.Default(),
		registry:        metric.NewMetricsRegistry(),
		health:          health.NewMonitor("test"),
		shutdownTimeout: time.Second,
	}
}

func TestApp_ShutdownRunsClosersInReverse(t *testing.T) {
	a := newTestApp(t)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		a.onShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	require.NoError(t, a.shutdown())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestApp_RunShutsDownOnSetupFailure(t *testing.T) {
	a := newTestApp(t)
	closed := false
	err := a.run(context.Background(), func(_ context.Context, a *app) error {
		a.onShutdown("resource", func(context.Context) error {
			closed = true
			return nil
		})
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, closed)
}

func TestApp_RunServesUntilCancelled(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- a.run(ctx, func(_ context.Context, a *app) error {
			if err := a.serve("test", "127.0.0.1:0", a.router("test")); err != nil {
				return err
			}
			addrCh <- a.servers[0].Addr()
			return nil
		})
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	}
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
