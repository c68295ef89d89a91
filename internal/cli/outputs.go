package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newOutputsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "outputs <job_id>",
		Short: "Print the paths of a job's output files",
		Long: `Print the paths of a job's output files, one per line. Function jobs
report an error until they have completed; executable jobs always list
their declared outputs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b backend) error {
				files, err := b.Outputs(ctx, args[0])
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			})
		},
	}
}
