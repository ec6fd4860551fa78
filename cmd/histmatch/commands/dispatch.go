package commands

import (
	"errors"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/histmatch/pkg/evaluator"
)

func newDispatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "job-dispatch <runpath> [jobname]",
		Short: "Run the jobs.json of one run path",
		Long: `Run every job listed in <runpath>/jobs.json in order and write OK or
ERROR into the run path. This is what a queue submit command runs on the
compute node; the queue evaluator driver waits for the status files.`,
		Example: `  # Submit command for the queue driver
  submit_command: "sbatch --wrap histmatch job-dispatch"`,
		Args:   cobra.RangeArgs(1, 2),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runPath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			logger := log.Logger.With().Str("run_path", runPath).Logger()
			if len(args) > 1 {
				logger = logger.With().Str("job_name", args[1]).Logger()
			}

			err = evaluator.NewJobRunner(logger).Run(cmd.Context(), runPath)
			var je *evaluator.JobError
			if errors.As(err, &je) {
				logger.Error().Str("job", je.Job).Str("reason", je.Reason).Msg("Forward model failed")
			}
			return err
		},
	}
}
