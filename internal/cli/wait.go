package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/htjob/pkg/model"
)

func newWaitCmd(a *app) *cobra.Command {
	var (
		states  []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait <job_id>...",
		Short: "Block until jobs reach a state (by default, until they finish)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var want []model.JobState
			for _, s := range states {
				st := model.JobState(strings.ToUpper(s))
				if !st.Valid() {
					return fmt.Errorf("unknown state %q", s)
				}
				want = append(want, st)
			}

			return a.withBackend(cmd, func(ctx context.Context, b backend) error {
				ctx, cancel := withTimeout(ctx, timeout)
				defer cancel()

				recs, err := b.Wait(ctx, args, want)
				out := cmd.OutOrStdout()
				for _, rec := range recs {
					if rec != nil {
						fmt.Fprintf(out, "%s  %s%s\n", rec.ID, rec.State, exitSuffix(rec))
					}
				}
				if err != nil {
					return fmt.Errorf("wait: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Target state (repeatable; default any terminal state)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}
