package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/histmatch/pkg/config"
	"github.com/openfroyo/histmatch/pkg/stores"
)

// scaffold is the polynomial example experiment written by init.
var scaffold = []struct {
	name string
	mode os.FileMode
	body string
}{
	{name: "experiment.yaml", mode: 0o644, body: `name: poly
num_realizations: 10
min_realizations: 5
random_seed: "1234"
runpath:
  runpath_format: poly_out/realization-<IENS>/iter-<ITER>
forward_model:
  - name: poly_eval
    executable: sh
    arglist: ["<CONFIG_PATH>/poly_eval.sh"]
    target_file: poly_0.out
parameters:
  gen_kw:
    - COEFFS coeffs.tmpl coeffs.txt coeff_priors
  gen_data:
    - POLY_RES RESULT_FILE:poly_%d.out REPORT_STEPS:0
evaluator:
  driver: local
  max_running: 4
analysis:
  log_path: update_log
`},
	{name: "coeffs.tmpl", mode: 0o644, body: "<A> <B> <C>\n"},
	{name: "coeff_priors", mode: 0o644, body: `A UNIFORM 0 1
B UNIFORM 0 2
C UNIFORM 0 5
`},
	{name: "poly_eval.sh", mode: 0o755, body: `#!/bin/sh
# Evaluates a*x^2 + b*x + c for x in 0..9.
read a b c < coeffs.txt
awk -v a="$a" -v b="$b" -v c="$c" 'BEGIN { for (x = 0; x < 10; x++) print a*x*x + b*x + c }' > poly_0.out
`},
	{name: config.DefaultSettingsFile, mode: 0o644, body: `storage: storage/histmatch.db
log:
  level: info
  format: console
`},
}

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold an experiment",
		Long: `Create an example experiment in dir (default: the current directory).

The example fits a second-order polynomial. It contains the experiment
configuration, a GEN_KW template with priors, the forward model script,
a settings file and an initialized SQLite storage.`,
		Example: `  # Scaffold into ./poly
  histmatch init poly

  # Overwrite existing files
  histmatch init poly --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			out := cmd.OutOrStdout()

			log.Info().Str("dir", dir).Bool("force", force).Msg("Initializing experiment")

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			for _, f := range scaffold {
				path := filepath.Join(dir, f.name)
				if _, err := os.Stat(path); err == nil && !force {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			for _, f := range scaffold {
				path := filepath.Join(dir, f.name)
				if err := os.WriteFile(path, []byte(f.body), f.mode); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
				fmt.Fprintf(out, "✓ Created %s\n", path)
			}

			dbPath := filepath.Join(dir, config.DefaultStoragePath)
			if err := initStorage(cmd.Context(), dbPath); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Initialized storage: %s\n", dbPath)

			fmt.Fprintf(out, "\nRun the experiment with:\n  cd %s && histmatch run experiment.yaml\n", dir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

func initStorage(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
