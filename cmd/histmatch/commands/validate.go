package commands

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/histmatch/pkg/config"
	"github.com/openfroyo/histmatch/pkg/policy"
)

// ValidateReport is the outcome of the validate command.
type ValidateReport struct {
	SourceFile string                   `json:"source_file"`
	Valid      bool                     `json:"valid"`
	Errors     []config.ValidationError `json:"errors,omitempty"`
	Parameters []string                 `json:"parameters,omitempty"`
	Responses  []string                 `json:"responses,omitempty"`
	Policies   *policy.Result           `json:"policies,omitempty"`
}

// errInvalid makes the command exit non-zero after the report was printed.
var errInvalid = errors.New("configuration is invalid")

func newValidateCommand(info buildInfo) *cobra.Command {
	var skipPolicies bool

	cmd := &cobra.Command{
		Use:   "validate <experiment>",
		Short: "Validate an experiment configuration",
		Long: `Validate an experiment configuration without running anything.

This command checks:
  - CUE, YAML or Starlark syntax
  - Schema conformance and field rules
  - Parameter and response keyword definitions
  - Policy compliance (built-in and configured Rego policies)`,
		Example: `  # Validate a YAML experiment
  histmatch validate poly.yaml

  # Validate a CUE package and print the report as JSON
  histmatch validate ./experiment --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, info)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			pc, err := config.NewLoader().Load(ctx, args[0])
			if err != nil {
				return err
			}

			report := &ValidateReport{SourceFile: pc.SourceFile, Errors: pc.Errors}
			if cfg := pc.Experiment; cfg != nil {
				ec, err := cfg.EnsembleConfig(filepath.Dir(pc.SourceFile))
				if err != nil {
					report.Errors = append(report.Errors, config.ValidationError{
						File:     pc.SourceFile,
						Path:     "parameters",
						Message:  err.Error(),
						Severity: "error",
					})
				} else {
					report.Parameters = ec.ParameterKeys()
					report.Responses = ec.ResponseKeys()
				}

				if !skipPolicies {
					result, err := checkPolicies(ctx, cfg, pc.SourceFile, "validate", a.logger)
					if err != nil {
						return err
					}
					report.Policies = result
				}
			}
			report.Valid = len(report.Errors) == 0 && (report.Policies == nil || report.Policies.Allowed)

			if a.settings.JSON {
				if err := printJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printValidateReport(cmd, report)
			}
			if !report.Valid {
				return errInvalid
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPolicies, "skip-policies", false, "do not evaluate policies")

	return cmd
}

func printValidateReport(cmd *cobra.Command, r *ValidateReport) {
	out := cmd.OutOrStdout()
	for _, e := range r.Errors {
		fmt.Fprintf(out, "✗ %s\n", e.String())
	}
	if r.Policies != nil {
		for _, v := range r.Policies.Violations {
			fmt.Fprintf(out, "✗ %s\n", v.String())
		}
		for _, w := range r.Policies.Warnings {
			fmt.Fprintf(out, "! %s\n", w.String())
		}
	}
	if r.Valid {
		fmt.Fprintf(out, "✓ %s is valid (%d parameters, %d responses)\n",
			r.SourceFile, len(r.Parameters), len(r.Responses))
	}
}
