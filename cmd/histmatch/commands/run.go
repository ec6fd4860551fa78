package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/histmatch/pkg/analysis"
	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/evaluator"
	"github.com/openfroyo/histmatch/pkg/stores"
	"github.com/openfroyo/histmatch/pkg/telemetry"
)

// Run modes recorded in storage and metrics.
const (
	modeSmoother = "ensemble_smoother"
	modeSample   = "sample"
	modeLoad     = "load"
)

func newRunCommand(info buildInfo) *cobra.Command {
	var (
		currentCase string
		targetCase  string
	)

	cmd := &cobra.Command{
		Use:   "run <experiment>",
		Short: "Run the ensemble smoother",
		Long: `Run an ensemble smoother experiment.

The prior ensemble is sampled and evaluated, updated into the posterior
ensemble, and the posterior is evaluated. Workflows run at their hook
points; a failing workflow aborts the experiment.`,
		Example: `  # Run the experiment described by poly.yaml
  histmatch run poly.yaml

  # Name the prior and posterior ensembles
  histmatch run poly.yaml --current-case prior --target-case posterior

  # Serve metrics while running
  histmatch run poly.cue --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, info)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.openStore(ctx); err != nil {
				return err
			}
			exp, err := a.loadExperiment(ctx, args[0], "run")
			if err != nil {
				return err
			}
			if currentCase != "" {
				exp.config.Analysis.CurrentCase = currentCase
			}
			if targetCase != "" {
				exp.config.Analysis.TargetCase = targetCase
			}

			op := telemetry.StartOperation(ctx, modeSmoother, exp.config.Name)
			result, runID, err := runSmoother(op.Ctx, a, exp)
			op.End(err)

			started := op.Started()
			expID := ""
			if result != nil {
				expID = result.ExperimentID
			} else if stored, lookupErr := a.store.GetExperimentByName(ctx, exp.config.Name); lookupErr == nil {
				expID = stored.ID
			}
			if expID != "" {
				a.recordRun(ctx, runID, expID, modeSmoother, started, result, err)
			}
			if err != nil {
				return err
			}

			if a.settings.JSON {
				return printJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Experiment %s completed (run %s)\n", exp.config.Name, runID)
			fmt.Fprintf(out, "  prior %s: %d successful realizations\n", exp.config.CurrentCase(), result.PriorSuccessful)
			fmt.Fprintf(out, "  posterior %s: %d successful realizations\n", exp.config.TargetCase(), result.PosteriorSuccessful)
			return nil
		},
	}

	cmd.Flags().StringVar(&currentCase, "current-case", "", "name of the prior ensemble")
	cmd.Flags().StringVar(&targetCase, "target-case", "", "name of the posterior ensemble")

	return cmd
}

// runSmoother wires the evaluator and updater and runs the smoother.
func runSmoother(ctx context.Context, a *app, exp *experiment) (*engine.SmootherResult, string, error) {
	cfg := exp.config

	ev, err := evaluator.FromConfig(cfg.Evaluator, exp.orchestrator,
		evaluator.WithEvents(a.tel.Events),
		evaluator.WithLogger(a.logger),
	)
	if err != nil {
		return nil, "", err
	}
	defer ev.Close()

	mask, err := cfg.ActiveMask()
	if err != nil {
		return nil, "", err
	}
	raw, err := cfg.JSON()
	if err != nil {
		return nil, "", err
	}

	minReals := cfg.MinRealizations
	if minReals <= 0 || minReals > cfg.NumRealizations {
		minReals = cfg.NumRealizations
	}
	logPath := cfg.Analysis.LogPath
	if logPath != "" && !filepath.IsAbs(logPath) {
		logPath = filepath.Join(filepath.Dir(exp.sourceFile), logPath)
	}
	updater := analysis.NewUpdater(exp.ensembleConfig, analysis.Config{
		MinRealizations: minReals,
		LogPath:         logPath,
		Module:          cfg.Analysis.Module,
	}, analysis.WithLogger(a.logger))

	smoother, err := engine.NewEnsembleSmoother(engine.SmootherOptions{
		Orchestrator:     exp.orchestrator,
		Storage:          a.store,
		Evaluator:        ev,
		Updater:          updater,
		ExperimentName:   cfg.Name,
		ExperimentConfig: raw,
		EnsembleSize:     cfg.NumRealizations,
		ActiveMask:       mask,
		MinRealizations:  cfg.MinRealizations,
		CurrentCase:      cfg.CurrentCase(),
		TargetCase:       cfg.TargetCase(),
		Events:           a.tel.Events,
		Metrics:          a.tel.Metrics,
		Logger:           a.logger,
	})
	if err != nil {
		return nil, "", err
	}

	result, err := smoother.Run(ctx)
	return result, smoother.RunID(), err
}

// recordRun stores the outcome of a CLI operation. Failures to record are
// logged, never returned.
func (a *app) recordRun(ctx context.Context, runID, experimentID, mode string, started time.Time, metadata interface{}, runErr error) {
	now := time.Now()
	run := &stores.Run{
		ID:           runID,
		ExperimentID: experimentID,
		Mode:         mode,
		Status:       engine.RunStatusSucceeded,
		StartedAt:    started,
		CompletedAt:  &now,
		CreatedAt:    started,
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Status = engine.RunStatusFailed
		run.Error = &msg
	}
	if metadata != nil && runErr == nil {
		if raw, err := json.Marshal(metadata); err == nil {
			run.Metadata = string(raw)
		}
	}

	// The run may outlive a cancelled command context.
	if err := a.store.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		a.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to record run")
	}
}
