package schedd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/me/htjob/pkg/model"
)

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and returns its captured output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CondorConfig configures the condor command line backend.
type CondorConfig struct {
	BinDir     string  // Directory holding condor_* tools; empty means $PATH.
	ScheddName string  // Passed as -name when set.
	Pool       string  // Passed as -pool when set.
	RateLimit  float64 // Max tool invocations per second; 0 disables throttling.
	RateBurst  int     // Token bucket burst; defaults to 1.
}

// Condor drives a scheduler through condor_submit, condor_hold,
// condor_release and condor_rm.
type Condor struct {
	cfg     CondorConfig
	runner  CommandRunner
	limiter *rate.Limiter
	logger  *slog.Logger
}

// CondorOption configures optional Condor dependencies.
type CondorOption func(*Condor)

// WithCommandRunner replaces the os/exec runner.
func WithCommandRunner(r CommandRunner) CondorOption {
	return func(c *Condor) {
		c.runner = r
	}
}

// NewCondor creates a Condor backend.
func NewCondor(cfg CondorConfig, logger *slog.Logger, opts ...CondorOption) *Condor {
	c := &Condor{
		cfg:    cfg,
		runner: ExecRunner{},
		logger: logger.With("component", "condor"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "condor".
func (c *Condor) Name() string {
	return "condor"
}

// terseRe matches condor_submit -terse output: "first - last" job ids.
var terseRe = regexp.MustCompile(`^(\d+)\.(\d+)\s*-\s*(\d+)\.(\d+)`)

// Submit writes desc to a temporary submit file and runs condor_submit.
func (c *Condor) Submit(ctx context.Context, desc *Description) (model.JobID, error) {
	if err := desc.Validate(); err != nil {
		return model.JobID{}, err
	}

	f, err := os.CreateTemp("", "htjob-*.sub")
	if err != nil {
		return model.JobID{}, fmt.Errorf("create submit file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(desc.String()); err != nil {
		f.Close()
		return model.JobID{}, fmt.Errorf("write submit file: %w", err)
	}
	if err := f.Close(); err != nil {
		return model.JobID{}, fmt.Errorf("close submit file: %w", err)
	}

	args := append([]string{"-terse"}, c.targetArgs()...)
	args = append(args, f.Name())
	stdout, err := c.run(ctx, "condor_submit", args...)
	if err != nil {
		return model.JobID{}, err
	}

	id, err := parseTerse(stdout)
	if err != nil {
		return model.JobID{}, err
	}
	c.logger.Info("job submitted", "job_id", id.String(), "executable", mustGet(desc, KeyExecutable))
	return id, nil
}

// Act runs the tool matching action with -constraint.
func (c *Condor) Act(ctx context.Context, action Action, constraint string) error {
	var tool string
	switch action {
	case ActionHold:
		tool = "condor_hold"
	case ActionRelease:
		tool = "condor_release"
	case ActionRemove:
		tool = "condor_rm"
	default:
		return fmt.Errorf("unsupported action %s", action)
	}

	args := append(c.targetArgs(), "-constraint", constraint)
	if _, err := c.run(ctx, tool, args...); err != nil {
		return err
	}
	c.logger.Debug("action applied", "action", action.String(), "constraint", constraint)
	return nil
}

func (c *Condor) targetArgs() []string {
	var args []string
	if c.cfg.ScheddName != "" {
		args = append(args, "-name", c.cfg.ScheddName)
	}
	if c.cfg.Pool != "" {
		args = append(args, "-pool", c.cfg.Pool)
	}
	return args
}

func (c *Condor) run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", tool, err)
		}
	}

	name := tool
	if c.cfg.BinDir != "" {
		name = filepath.Join(c.cfg.BinDir, tool)
	}
	c.logger.Debug("exec", "cmd", name, "args", args)

	stdout, stderr, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(stdout))
		}
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", tool, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
	return stdout, nil
}

// parseTerse extracts the first job id from condor_submit -terse output.
func parseTerse(out []byte) (model.JobID, error) {
	for _, line := range strings.Split(string(out), "\n") {
		m := terseRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		cluster, _ := strconv.Atoi(m[1])
		proc, _ := strconv.Atoi(m[2])
		return model.JobID{Cluster: cluster, Proc: proc}, nil
	}
	return model.JobID{}, fmt.Errorf("condor_submit: unexpected output %q", strings.TrimSpace(string(out)))
}

func mustGet(d *Description, key string) string {
	v, _ := d.Get(key)
	return v
}
