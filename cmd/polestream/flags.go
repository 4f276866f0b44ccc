package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// cliOptions holds the persistent command-line settings
type cliOptions struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

func (o *cliOptions) bind(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&o.ConfigPaths, "config", "c",
		getEnvList("POLESTREAM_CONFIG"),
		"Configuration files, later layers override earlier ones (env: POLESTREAM_CONFIG)")
	fs.StringVar(&o.LogLevel, "log-level",
		getEnv("POLESTREAM_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides log.level (env: POLESTREAM_LOG_LEVEL)")
	fs.StringVar(&o.LogFormat, "log-format",
		getEnv("POLESTREAM_LOG_FORMAT", ""),
		"Log format: json, text; overrides log.format (env: POLESTREAM_LOG_FORMAT)")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("POLESTREAM_SHUTDOWN_TIMEOUT", 15*time.Second),
		"Graceful shutdown timeout (env: POLESTREAM_SHUTDOWN_TIMEOUT)")
}

func (o *cliOptions) validate() error {
	for _, path := range o.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}
	if o.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, o.LogLevel) {
		return fmt.Errorf("invalid log level: %s", o.LogLevel)
	}
	if o.LogFormat != "" && !slices.Contains([]string{"json", "text"}, o.LogFormat) {
		return fmt.Errorf("invalid log format: %s", o.LogFormat)
	}
	if o.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", o.ShutdownTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
