package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/htjob/internal/job"
	"github.com/me/htjob/internal/runner"
	"github.com/me/htjob/pkg/model"
)

// submitOptions are shared by the submit subcommands.
type submitOptions struct {
	noSubmit bool
	wait     bool
	timeout  time.Duration
	quiet    bool
}

func (o *submitOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.noSubmit, "no-submit", false, "Create and journal the job without submitting it")
	cmd.Flags().BoolVarP(&o.wait, "wait", "w", false, "Wait until the job completes or is removed")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "Only print the job id")
}

func newSubmitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create and submit a job",
	}
	cmd.AddCommand(newSubmitExecCmd(a), newSubmitFuncCmd(a))
	return cmd
}

func newSubmitExecCmd(a *app) *cobra.Command {
	var (
		opts    submitOptions
		inputs  []string
		outputs []string
	)
	cmd := &cobra.Command{
		Use:   "exec [flags] <executable> [args...]",
		Short: "Submit an executable",
		Long: `Submit an executable with optional input and output file manifests.
Flags must come before the executable; everything after it is passed to
the job as arguments.

With the local scheduler and no --server, submit always waits for the job
to complete, be removed or be held: its queue ends when htjob exits.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := resolveExecutable(args[0])
			if err != nil {
				return err
			}
			p := &job.ExecutablePayload{
				Executable:  exe,
				Arguments:   args[1:],
				OutputFiles: outputs,
			}
			for _, in := range inputs {
				abs, err := filepath.Abs(in)
				if err != nil {
					return err
				}
				p.InputFiles = append(p.InputFiles, abs)
			}
			return a.submit(cmd, p, opts)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Input file to transfer (repeatable)")
	cmd.Flags().StringArrayVarP(&outputs, "output", "o", nil, "Output file to transfer back (repeatable)")
	opts.register(cmd)
	return cmd
}

func newSubmitFuncCmd(a *app) *cobra.Command {
	var (
		opts   submitOptions
		name   string
		script string
		input  string
	)
	cmd := &cobra.Command{
		Use:   "func --input <file> (--name <function> | --script <file.js>)",
		Short: "Submit a function call on one input file",
		Long: `Submit a call of a serialisable function on one input file. The function
is either registered in htjob-run (--name; built in: ` + strings.Join(builtinNames(), ", ") + `)
or a JavaScript source file defining function(input, output) (--script).
The result is written to <id>.output in the work dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fn runner.Callable
			switch {
			case name != "" && script != "":
				return errors.New("--name and --script are mutually exclusive")
			case name != "":
				fn = runner.Func(name)
			case script != "":
				src, err := os.ReadFile(script)
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}
				fn = runner.Script(string(src))
			default:
				return errors.New("one of --name or --script is required")
			}
			in, err := filepath.Abs(input)
			if err != nil {
				return err
			}
			return a.submit(cmd, &job.CallablePayload{Function: fn, InputFile: in}, opts)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Registered function name")
	cmd.Flags().StringVar(&script, "script", "", "JavaScript function source file")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input file")
	cmd.MarkFlagRequired("input")
	opts.register(cmd)
	return cmd
}

func builtinNames() []string {
	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)
	return reg.Names()
}

// resolveExecutable makes name absolute, searching $PATH for bare names.
func resolveExecutable(name string) (string, error) {
	if !strings.ContainsRune(name, filepath.Separator) {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return filepath.Abs(name)
}

func (a *app) submit(cmd *cobra.Command, p job.Payload, opts submitOptions) error {
	return a.withBackend(cmd, func(ctx context.Context, b backend) error {
		rec, err := b.Create(ctx, p, !opts.noSubmit)
		if err != nil {
			return err
		}

		// The local simulator's queue ends with this process, so stay until
		// the job settles. A held job cannot be released later either.
		var until []model.JobState
		if lb, ok := b.(*localBackend); ok && lb.ephemeral() {
			opts.wait = true
			until = []model.JobState{model.JobStateCompleted, model.JobStateRemoved, model.JobStateHeld}
		}

		if opts.wait && rec.Submitted() {
			wctx, cancel := withTimeout(ctx, opts.timeout)
			defer cancel()
			recs, err := b.Wait(wctx, []string{rec.ID}, until)
			if len(recs) == 1 && recs[0] != nil {
				rec = recs[0]
			}
			if err != nil {
				return fmt.Errorf("wait for job %s: %w", rec.ID, err)
			}
		}

		out := cmd.OutOrStdout()
		if opts.quiet {
			fmt.Fprintln(out, rec.ID)
			return nil
		}
		printSubmitted(out, rec)
		return nil
	})
}

func printSubmitted(w io.Writer, rec *model.JobRecord) {
	if rec.SchedulerID != nil {
		fmt.Fprintf(w, "Job %s submitted as %s\n", rec.ID, rec.SchedulerID)
	} else {
		fmt.Fprintf(w, "Job %s created (not submitted)\n", rec.ID)
	}
	if rec.State != model.JobStateUnsubmitted {
		fmt.Fprintf(w, "  State: %s%s\n", rec.State, exitSuffix(rec))
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func exitSuffix(rec *model.JobRecord) string {
	if rec.ExitCode != nil {
		return fmt.Sprintf(" (exit %d)", *rec.ExitCode)
	}
	return ""
}
