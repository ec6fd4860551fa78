package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
	"github.com/openfroyo/histmatch/pkg/telemetry"
)

// SampleResult summarizes a sample command.
type SampleResult struct {
	ExperimentID string   `json:"experiment_id"`
	EnsembleID   string   `json:"ensemble_id"`
	Ensemble     string   `json:"ensemble"`
	Iteration    int      `json:"iteration"`
	Realizations []int    `json:"realizations"`
	RunPaths     []string `json:"run_paths"`
}

func newSampleCommand(info buildInfo) *cobra.Command {
	var (
		ensembleName string
		iteration    int
		realizations string
	)

	cmd := &cobra.Command{
		Use:   "sample <experiment>",
		Short: "Sample the prior and create run paths",
		Long: `Sample prior parameter values into an ensemble and create the run path of
every active realization, without running the forward model.

The ensemble is created when it does not exist. Realizations that already
hold values keep them.`,
		Example: `  # Sample every realization into the default ensemble
  histmatch sample poly.yaml

  # Sample realizations 0-4 into a named ensemble
  histmatch sample poly.yaml --case screening --realizations 0-4`,
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
			exp, err := a.loadExperiment(ctx, args[0], modeSample)
			if err != nil {
				return err
			}
			if ensembleName == "" {
				ensembleName = exp.config.CurrentCase()
			}

			op := telemetry.StartOperation(ctx, modeSample, exp.config.Name)
			result, err := sampleEnsemble(op.Ctx, a, exp, ensembleName, iteration, realizations)
			op.End(err)
			if result != nil {
				a.recordRun(ctx, uuid.New().String(), result.ExperimentID, modeSample, op.Started(), result, err)
			}
			if err != nil {
				return err
			}

			if a.settings.JSON {
				return printJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sampled %d realizations into %s (iteration %d)\n",
				len(result.Realizations), result.Ensemble, result.Iteration)
			for _, p := range result.RunPaths {
				fmt.Fprintf(out, "  %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ensembleName, "case", "", "ensemble to sample into (default current_case)")
	cmd.Flags().IntVar(&iteration, "iteration", 0, "iteration of the run paths")
	cmd.Flags().StringVar(&realizations, "realizations", "", "realizations to sample, e.g. 0-4,7 (default active_realizations)")

	return cmd
}

func sampleEnsemble(ctx context.Context, a *app, exp *experiment, name string, iteration int, realizations string) (*SampleResult, error) {
	expID, err := a.experimentID(ctx, exp.config)
	if err != nil {
		return nil, err
	}
	result := &SampleResult{ExperimentID: expID, Ensemble: name, Iteration: iteration}

	store, err := a.store.GetEnsembleByName(ctx, expID, name)
	if engine.IsNotFound(err) {
		store, err = a.store.CreateEnsemble(ctx, expID, name, exp.config.NumRealizations, iteration, nil)
	}
	if err != nil {
		return result, err
	}
	result.EnsembleID = store.Ensemble().ID

	mask, err := selectMask(exp, realizations)
	if err != nil {
		return result, err
	}
	result.Realizations = engine.MaskToIndices(mask)

	if err := exp.orchestrator.SamplePrior(ctx, store, result.Realizations); err != nil {
		return result, err
	}
	rc, err := exp.orchestrator.EnsembleContext(store, mask, iteration)
	if err != nil {
		return result, err
	}
	if err := exp.orchestrator.CreateRunPath(ctx, rc); err != nil {
		return result, err
	}
	for _, real := range result.Realizations {
		result.RunPaths = append(result.RunPaths, rc.At(real).RunPath)
	}
	return result, nil
}

// selectMask returns the mask of a --realizations range, or the configured
// active realizations when the range is empty.
func selectMask(exp *experiment, realizations string) ([]bool, error) {
	if realizations == "" {
		return exp.config.ActiveMask()
	}
	indices, err := parameters.ParseRangeString(realizations)
	if err != nil {
		return nil, fmt.Errorf("invalid --realizations: %w", err)
	}
	mask := make([]bool, exp.config.NumRealizations)
	for _, i := range indices {
		if i < 0 || i >= len(mask) {
			return nil, fmt.Errorf("realization %d outside ensemble of size %d", i, len(mask))
		}
		mask[i] = true
	}
	return mask, nil
}
