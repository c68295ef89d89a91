package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/me/htjob/internal/config"
	"github.com/me/htjob/internal/logging"
)

// app carries the per-invocation state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	debug   bool

	cfg    config.Config
	server string
	logger *slog.Logger
}

// NewRootCmd creates the root cobra command for the htjob CLI.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "htjob",
		Short: "htjob: track batch scheduler jobs from the command line",
		Long: `htjob submits jobs to an HTCondor-style batch scheduler and follows them
through their event logs.

Jobs are journaled in a local SQLite database, so any later invocation can
report on, wait for, or act on a job by its id. With --server the commands
talk to an htjob-server instead.

Common workflows:

  Run an executable:
    htjob submit exec /bin/echo hello --output result.txt

  Run a registered function on an input file:
    htjob submit func --name wc --input data.txt

  Follow a job:
    htjob status <id>
    htjob wait <id>

Configuration:
  Flags override HTJOB_* environment variables, which override
  $HOME/.htjob.yaml (or --config).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.ErrOrStderr())
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.htjob.yaml)")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	flags.String("server", "", "htjob-server URL; when empty jobs are tracked in-process")
	flags.String("work-dir", "", "Directory for job logs and files")
	flags.String("scheduler", "", "Scheduler backend (condor, local)")
	flags.String("db", "", "SQLite job journal")
	flags.Duration("poll-interval", 0, "Event log poll interval")
	flags.String("runner", "", "Runner executable for callable jobs")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")

	bindFlags(a.v, flags)

	root.AddCommand(
		newSubmitCmd(a),
		newStatusCmd(a),
		newListCmd(a),
		newWaitCmd(a),
		newActionCmd(a, "hold", "Hold jobs in the scheduler"),
		newActionCmd(a, "release", "Release held jobs"),
		newActionCmd(a, "rm", "Remove jobs from the scheduler"),
		newOutputsCmd(a),
		newForgetCmd(a),
	)

	return root
}

// init resolves configuration from defaults, the config file, the
// environment and flags, in increasing precedence.
func (a *app) init(logOut io.Writer) error {
	v := a.v
	setDefaults(v, config.Default())

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".htjob")
		v.SetConfigType("yaml")
	}

	// Read environment variables that match "HTJOB_VARNAME"
	v.SetEnvPrefix("HTJOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if a.debug {
		cfg.LogLevel = "debug"
	}

	a.cfg = cfg
	a.server = strings.TrimRight(v.GetString("server"), "/")
	a.logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, logOut)
	if used := v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config file", "path", used)
	}
	return nil
}

// bindFlags maps persistent flags onto config keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for key, name := range map[string]string{
		"server":        "server",
		"work_dir":      "work-dir",
		"scheduler":     "scheduler",
		"db_path":       "db",
		"poll_interval": "poll-interval",
		"runner_path":   "runner",
		"log_level":     "log-level",
		"log_format":    "log-format",
	} {
		v.BindPFlag(key, flags.Lookup(name))
	}
}

func setDefaults(v *viper.Viper, cfg config.Config) {
	v.SetDefault("server", "")
	v.SetDefault("work_dir", cfg.WorkDir)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("scheduler", cfg.Scheduler)
	v.SetDefault("runner_path", cfg.RunnerPath)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("local_scratch", cfg.LocalScratch)
	v.SetDefault("condor.bin_dir", cfg.Condor.BinDir)
	v.SetDefault("condor.schedd_name", cfg.Condor.ScheddName)
	v.SetDefault("condor.pool", cfg.Condor.Pool)
	v.SetDefault("condor.rate_limit", cfg.Condor.RateLimit)
	v.SetDefault("condor.rate_burst", cfg.Condor.RateBurst)
}

// open returns the backend selected by --server.
func (a *app) open(ctx context.Context) (backend, error) {
	if a.server != "" {
		return newRemoteBackend(a.server, a.cfg.PollInterval, a.logger), nil
	}
	if a.cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return openLocalBackend(ctx, a.cfg, a.logger)
}

// withBackend opens a backend, runs fn and closes the backend.
func (a *app) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, b)
}
