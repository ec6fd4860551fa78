package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(info buildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(cmd, map[string]string{
					"version":    info.Version,
					"commit":     info.Commit,
					"build_date": info.BuildDate,
					"go":         runtime.Version(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "histmatch %s\n  commit: %s\n  built:  %s\n  go:     %s\n",
				info.Version, info.Commit, info.BuildDate, runtime.Version())
			return nil
		},
	}
}
