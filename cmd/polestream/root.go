package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/polestream/config"
)

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:   appName,
		Short: "Smart-pole edge-to-cloud telemetry pipeline",
		Long: `polestream moves smart-pole telemetry from zone brokers to a central bus
and joins it with computed decay values before persisting it.

Every process of the pipeline is a subcommand. All of them read the same
layered configuration and register themselves in the catalog on start.`,
		Version: fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	opts.bind(root.PersistentFlags())

	root.AddCommand(
		serviceCommand(opts, "catalog", "Run the catalog registry", runCatalog),
		serviceCommand(opts, "bridge", "Run the gateway bridge of one zone", runBridge),
		serviceCommand(opts, "writer", "Run the correlation writer", runWriter),
		serviceCommand(opts, "decay", "Run the decay worker", runDecay),
		serviceCommand(opts, "threshold", "Run the tilt threshold worker", runThreshold),
		newValidateCmd(opts),
	)
	return root
}

// setupFunc wires one process into a; it registers everything that needs
// closing on a before returning.
type setupFunc func(ctx context.Context, a *app) error

func serviceCommand(opts *cliOptions, name, short string, setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(name, opts)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), setup)
		},
	}
}

func newValidateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return err
		},
	}
}

// loadConfig merges the configured layers over the defaults, applies
// POLESTREAM_* overrides and validates the result.
func loadConfig(opts *cliOptions) (*config.Config, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	loader := config.NewLoader()
	for _, path := range opts.ConfigPaths {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	return cfg, nil
}
