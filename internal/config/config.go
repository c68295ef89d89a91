// Package config holds the settings shared by the htjob binaries.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/htjob/internal/job"
	"github.com/me/htjob/internal/logging"
	"github.com/me/htjob/internal/schedd"
)

// Scheduler backends.
const (
	SchedulerCondor = "condor"
	SchedulerLocal  = "local"
)

// Config holds configuration for htjob.
type Config struct {
	WorkDir      string        `yaml:"work_dir" mapstructure:"work_dir"`           // Job logs and files (default ~/.htjob/jobs)
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"` // Event log poll interval (default 100ms)
	Scheduler    string        `yaml:"scheduler" mapstructure:"scheduler"`         // "condor" or "local"
	RunnerPath   string        `yaml:"runner_path" mapstructure:"runner_path"`     // Executable for callable jobs
	DBPath       string        `yaml:"db_path" mapstructure:"db_path"`             // SQLite journal (":memory:" for testing)
	Addr         string        `yaml:"addr" mapstructure:"addr"`                   // HTTP listen address (default ":8090")
	LogLevel     string        `yaml:"log_level" mapstructure:"log_level"`         // debug, info, warn, error
	LogFormat    string        `yaml:"log_format" mapstructure:"log_format"`       // text, json
	Condor       CondorConfig  `yaml:"condor" mapstructure:"condor"`
	LocalScratch string        `yaml:"local_scratch" mapstructure:"local_scratch"` // Sandbox root for the local scheduler
}

// CondorConfig configures the condor command line backend.
type CondorConfig struct {
	BinDir     string  `yaml:"bin_dir" mapstructure:"bin_dir"`
	ScheddName string  `yaml:"schedd_name" mapstructure:"schedd_name"`
	Pool       string  `yaml:"pool" mapstructure:"pool"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // condor_* invocations per second, 0 = unlimited
	RateBurst  int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// DataDir returns ~/.htjob, falling back to ./.htjob without a home directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".htjob"
	}
	return filepath.Join(home, ".htjob")
}

// Default returns sensible defaults.
func Default() Config {
	dir := DataDir()
	return Config{
		WorkDir:      filepath.Join(dir, "jobs"),
		PollInterval: 100 * time.Millisecond,
		Scheduler:    SchedulerCondor,
		RunnerPath:   "htjob-run",
		DBPath:       filepath.Join(dir, "htjob.db"),
		Addr:         ":8090",
		LogLevel:     "info",
		LogFormat:    "text",
		Condor: CondorConfig{
			RateLimit: 5,
			RateBurst: 5,
		},
	}
}

// LoadFile overlays the YAML file at path onto Default. A missing file
// yields the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.Scheduler {
	case SchedulerCondor, SchedulerLocal:
	default:
		return fmt.Errorf("unknown scheduler %q (want %s or %s)", c.Scheduler, SchedulerCondor, SchedulerLocal)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.WorkDir == "" {
		return errors.New("work_dir is required")
	}
	if c.Condor.RateLimit < 0 {
		return fmt.Errorf("condor.rate_limit must not be negative")
	}
	return logging.ValidateFormat(c.LogFormat)
}

// Runtime returns the job runtime settings.
func (c Config) Runtime() job.Config {
	return job.Config{
		WorkDir:      c.WorkDir,
		PollInterval: c.PollInterval,
		RunnerPath:   c.RunnerPath,
	}
}

// NewScheduler builds the configured scheduler backend. The local
// simulator must be closed by the caller (it implements io.Closer).
func (c Config) NewScheduler(logger *slog.Logger) (schedd.Scheduler, error) {
	switch c.Scheduler {
	case SchedulerCondor:
		return schedd.NewCondor(schedd.CondorConfig{
			BinDir:     c.Condor.BinDir,
			ScheddName: c.Condor.ScheddName,
			Pool:       c.Condor.Pool,
			RateLimit:  c.Condor.RateLimit,
			RateBurst:  c.Condor.RateBurst,
		}, logger), nil
	case SchedulerLocal:
		return schedd.NewLocal(c.LocalScratch, logger), nil
	}
	return nil, fmt.Errorf("unknown scheduler %q", c.Scheduler)
}
