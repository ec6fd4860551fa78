package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/histmatch/pkg/config"
	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
	"github.com/openfroyo/histmatch/pkg/policy"
	"github.com/openfroyo/histmatch/pkg/stores"
	"github.com/openfroyo/histmatch/pkg/telemetry"
	"github.com/openfroyo/histmatch/pkg/workflows"
)

// app holds what every command that touches storage needs.
type app struct {
	cmd      *cobra.Command
	settings *config.Settings
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	logger   zerolog.Logger
}

// newApp loads settings, sets up telemetry and replaces the global logger.
// The command context carries the telemetry afterwards.
func newApp(cmd *cobra.Command, info buildInfo) (*app, error) {
	settings, err := config.LoadSettings(configPath, cmd.Root().PersistentFlags())
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(info.Version))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	log.Logger = tel.Logger.Zerolog()

	ctx := tel.WithContext(cmd.Context())
	cmd.SetContext(ctx)

	if err := tel.Metrics.StartMetricsServer(ctx, tel.Logger); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	return &app{
		cmd:      cmd,
		settings: settings,
		tel:      tel,
		logger:   tel.Logger.Zerolog(),
	}, nil
}

// openStore opens and migrates the SQLite storage. Events are persisted
// into it from then on.
func (a *app) openStore(ctx context.Context) error {
	path := a.settings.Storage
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.store = store
	a.tel.Events.AddSink(store)
	a.logger.Debug().Str("path", path).Msg("Storage opened")
	return nil
}

// Close flushes telemetry and closes the store.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

// experiment is a loaded, policy-checked experiment with its orchestrator.
type experiment struct {
	config         *config.ExperimentConfig
	sourceFile     string
	ensembleConfig *parameters.EnsembleConfig
	orchestrator   *engine.Orchestrator
	policies       *policy.Result
}

// loadExperiment loads the configuration at path, checks its policies and
// builds the orchestrator with hooks, events and metrics attached.
func (a *app) loadExperiment(ctx context.Context, path, operation string) (*experiment, error) {
	cfg, source, err := config.NewLoader().LoadExperiment(ctx, path)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(source)

	result, err := checkPolicies(ctx, cfg, source, operation, a.logger)
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	ec, err := cfg.EnsembleConfig(baseDir)
	if err != nil {
		return nil, err
	}

	hooks, err := workflows.NewRunner(cfg.Hooks, baseDir, workflows.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	opts := cfg.EngineOptions(source, ec)
	if a.settings.Parallel > 0 {
		opts.MaxParallel = a.settings.Parallel
	}
	opts.Hooks = hooks
	opts.Events = a.tel.Events
	opts.Metrics = a.tel.Metrics
	opts.Logger = a.logger

	orch, err := engine.NewOrchestrator(opts)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("experiment", cfg.Name).
		Str("config", source).
		Int("realizations", cfg.NumRealizations).
		Int("parameters", len(ec.ParameterKeys())).
		Msg("Experiment loaded")

	return &experiment{
		config:         cfg,
		sourceFile:     source,
		ensembleConfig: ec,
		orchestrator:   orch,
		policies:       result,
	}, nil
}

// experimentID returns the stored experiment named like cfg, creating it
// when missing.
func (a *app) experimentID(ctx context.Context, cfg *config.ExperimentConfig) (string, error) {
	if exp, err := a.store.GetExperimentByName(ctx, cfg.Name); err == nil {
		return exp.ID, nil
	} else if !engine.IsNotFound(err) {
		return "", err
	}

	raw, err := cfg.JSON()
	if err != nil {
		return "", err
	}
	return a.store.CreateExperiment(ctx, cfg.Name, raw)
}

// checkPolicies evaluates the built-in and configured policies. Warnings
// are logged; the caller decides what to do with blocking violations.
func checkPolicies(
	ctx context.Context,
	cfg *config.ExperimentConfig,
	source, operation string,
	logger zerolog.Logger,
) (*policy.Result, error) {
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if files := cfg.PolicyFiles(filepath.Dir(source)); len(files) > 0 {
		if err := pe.LoadPolicies(ctx, files); err != nil {
			return nil, err
		}
	}

	result, err := pe.Evaluate(ctx, cfg, &policy.Context{Operation: operation, ConfigFile: source})
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	for _, w := range result.Warnings {
		logger.Warn().Str("policy", w.Policy).Str("field", w.Field).Msg(w.Message)
	}
	return result, nil
}

// printJSON writes v as indented JSON to the command output.
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
