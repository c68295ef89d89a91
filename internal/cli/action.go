package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/htjob/internal/schedd"
)

// newActionCmd builds hold, release and rm. Every listed job is acted on
// even when an earlier one fails.
func newActionCmd(a *app, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <job_id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := schedd.ParseAction(name)
			if err != nil {
				return err
			}
			return a.withBackend(cmd, func(ctx context.Context, b backend) error {
				recs, err := b.Act(ctx, action, args)
				out := cmd.OutOrStdout()
				for _, rec := range recs {
					fmt.Fprintf(out, "%s  %s requested (state %s)\n", rec.ID, action, rec.State)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", action, err)
				}
				return nil
			})
		},
	}
}

func newForgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <job_id>...",
		Short: "Stop tracking jobs and drop them from the journal",
		Long: `Stop tracking jobs and drop them from the journal. The scheduler jobs
are left alone; use rm first to remove them from the queue.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b backend) error {
				for _, id := range args {
					if err := b.Forget(ctx, id); err != nil {
						return fmt.Errorf("forget %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  forgotten\n", id)
				}
				return nil
			})
		},
	}
}
