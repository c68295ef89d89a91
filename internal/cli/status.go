package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/htjob/pkg/model"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b backend) error {
				rec, err := b.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("get job: %w", err)
				}
				printStatus(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

func printStatus(w io.Writer, rec *model.JobRecord) {
	fmt.Fprintf(w, "Job: %s\n", rec.ID)
	fmt.Fprintf(w, "  Kind:      %s\n", rec.Kind)
	fmt.Fprintf(w, "  State:     %s%s\n", rec.State, exitSuffix(rec))
	if rec.SchedulerID != nil {
		fmt.Fprintf(w, "  Scheduler: %s\n", rec.SchedulerID)
	}
	if rec.HoldReason != "" {
		fmt.Fprintf(w, "  Held:      %s\n", rec.HoldReason)
	}
	fmt.Fprintf(w, "  Log:       %s\n", rec.LogPath)
	fmt.Fprintf(w, "  Created:   %s (%s)\n", rec.CreatedAt.Local().Format(time.DateTime), humanize.Time(rec.CreatedAt))
	if !rec.UpdatedAt.IsZero() && !rec.UpdatedAt.Equal(rec.CreatedAt) {
		fmt.Fprintf(w, "  Updated:   %s\n", humanize.Time(rec.UpdatedAt))
	}
}
