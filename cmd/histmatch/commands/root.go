package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	storagePath string
	metricsAddr string
	logLevel    string
	maxParallel int
	traceExport string
)

// buildInfo identifies the binary.
type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(buildInfo{Version: version, Commit: commit, BuildDate: buildDate})
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(info buildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "histmatch",
		Short: "histmatch - ensemble history matching",
		Long: `histmatch runs ensembles of forward model simulations and conditions
their parameters on observed data with the ensemble smoother.

Features:
  - Experiments authored in CUE, YAML or Starlark
  - GEN_KW, FIELD, SURFACE, GEN_DATA and EXT_PARAM parameters
  - Local, WASM, queue and SSH forward model drivers
  - Starlark workflow hooks
  - Policy checks of experiment configurations
  - SQLite storage of ensembles and realization states`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands. Their names are the
	// settings keys read by config.LoadSettings.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "settings file path (default histmatch.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&storagePath, "storage", "", "SQLite storage path")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.IntVar(&maxParallel, "max-parallel", 0, "bound on realization-parallel work")
	flags.StringVar(&traceExport, "trace", "", "span exporter (otlp, stdout, none)")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand(info))
	rootCmd.AddCommand(newRunCommand(info))
	rootCmd.AddCommand(newSampleCommand(info))
	rootCmd.AddCommand(newLoadCommand(info))
	rootCmd.AddCommand(newVersionCommand(info))
	rootCmd.AddCommand(newDispatchCommand())

	return rootCmd
}
