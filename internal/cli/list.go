package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/htjob/pkg/model"
)

func newListCmd(a *app) *cobra.Command {
	var (
		state  string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{Limit: limit, Offset: offset}
			if state != "" {
				opts.State = model.JobState(strings.ToUpper(state))
				if !opts.State.Valid() {
					return fmt.Errorf("unknown state %q", state)
				}
			}
			opts.Clamp()

			return a.withBackend(cmd, func(ctx context.Context, b backend) error {
				recs, total, err := b.List(ctx, opts)
				if err != nil {
					return fmt.Errorf("list jobs: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, "No jobs found.")
					return nil
				}

				fmt.Fprintf(out, "%-36s  %-10s  %-12s  %-10s  %s\n", "ID", "KIND", "STATE", "SCHED ID", "CREATED")
				fmt.Fprintf(out, "%-36s  %-10s  %-12s  %-10s  %s\n", "--", "----", "-----", "--------", "-------")
				for _, rec := range recs {
					schedID := "-"
					if rec.SchedulerID != nil {
						schedID = rec.SchedulerID.String()
					}
					fmt.Fprintf(out, "%-36s  %-10s  %-12s  %-10s  %s\n",
						rec.ID, rec.Kind, rec.State, schedID, humanize.Time(rec.CreatedAt))
				}

				if opts.Offset+len(recs) < total {
					fmt.Fprintf(out, "\n(%d of %d shown)\n", len(recs), total)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only list jobs in this state")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of jobs to skip")
	return cmd
}
