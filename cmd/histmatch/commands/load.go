package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/telemetry"
)

// LoadResult summarizes a load command.
type LoadResult struct {
	ExperimentID string `json:"experiment_id"`
	EnsembleID   string `json:"ensemble_id"`
	Ensemble     string `json:"ensemble"`
	Iteration    int    `json:"iteration"`
	Active       int    `json:"active"`
	Loaded       int    `json:"loaded"`
}

func newLoadCommand(info buildInfo) *cobra.Command {
	var (
		ensembleName string
		realizations string
	)

	cmd := &cobra.Command{
		Use:   "load <experiment>",
		Short: "Load forward model results into an ensemble",
		Long: `Load the results of forward model runs that completed outside histmatch
into an existing ensemble. Realizations whose results load move to HAS_DATA,
the others to LOAD_FAILURE.`,
		Example: `  # Load results of the default ensemble
  histmatch load poly.yaml

  # Load results of realizations 0-4 of a named ensemble
  histmatch load poly.yaml --case screening --realizations 0-4`,
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
			exp, err := a.loadExperiment(ctx, args[0], modeLoad)
			if err != nil {
				return err
			}
			if ensembleName == "" {
				ensembleName = exp.config.CurrentCase()
			}

			op := telemetry.StartOperation(ctx, modeLoad, exp.config.Name)
			result, err := loadEnsemble(op.Ctx, a, exp, ensembleName, realizations)
			op.End(err)
			if result != nil && result.ExperimentID != "" {
				a.recordRun(ctx, uuid.New().String(), result.ExperimentID, modeLoad, op.Started(), result, err)
			}
			if err != nil {
				return err
			}

			if a.settings.JSON {
				return printJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d of %d realizations into %s\n",
				result.Loaded, result.Active, result.Ensemble)
			return nil
		},
	}

	cmd.Flags().StringVar(&ensembleName, "case", "", "ensemble to load into (default current_case)")
	cmd.Flags().StringVar(&realizations, "realizations", "", "realizations to load, e.g. 0-4,7 (default active_realizations)")

	return cmd
}

func loadEnsemble(ctx context.Context, a *app, exp *experiment, name, realizations string) (*LoadResult, error) {
	result := &LoadResult{Ensemble: name}

	stored, err := a.store.GetExperimentByName(ctx, exp.config.Name)
	if err != nil {
		return result, err
	}
	result.ExperimentID = stored.ID

	store, err := a.store.GetEnsembleByName(ctx, stored.ID, name)
	if err != nil {
		return result, err
	}
	meta := store.Ensemble()
	result.EnsembleID = meta.ID
	result.Iteration = meta.Iteration

	mask, err := selectMask(exp, realizations)
	if err != nil {
		return result, err
	}
	result.Active = engine.CountActive(mask)

	loaded, err := exp.orchestrator.LoadFromForwardModel(ctx, store, mask, meta.Iteration)
	result.Loaded = loaded
	return result, err
}
