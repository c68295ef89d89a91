// Package job tracks units of work submitted to a batch scheduler. A
// Runtime owns a weak registry of live Handles and a single Poller that
// advances each handle's state from its event log.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/me/htjob/internal/eventlog"
	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/pkg/model"
)

// meterName is the instrumentation scope for poller metrics.
const meterName = "github.com/me/htjob/internal/job"

// Config holds runtime configuration.
type Config struct {
	WorkDir      string        // Where job logs and files are written.
	PollInterval time.Duration // Poller tick interval.
	RunnerPath   string        // Executable that runs callable payloads.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WorkDir:      ".",
		PollInterval: 100 * time.Millisecond,
		RunnerPath:   "htjob-run",
	}
}

// Observer is notified whenever a handle is created, submitted or changes
// state. Observers run on the caller's or the poller's goroutine and must
// not block.
type Observer interface {
	JobChanged(ctx context.Context, rec model.JobRecord) error
}

// Runtime owns the registry and poller for one process.
type Runtime struct {
	cfg       Config
	sched     schedd.Scheduler
	logger    *slog.Logger
	registry  *Registry
	poller    *Poller
	observers []Observer
	meter     metric.Meter

	startOnce sync.Once
	mu        sync.Mutex
	started   bool
}

// Option configures optional Runtime dependencies.
type Option func(*Runtime)

// WithObserver adds an observer of job changes.
func WithObserver(o Observer) Option {
	return func(rt *Runtime) {
		rt.observers = append(rt.observers, o)
	}
}

// WithMeter replaces the global OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(rt *Runtime) {
		rt.meter = m
	}
}

// NewRuntime creates a runtime. The poller does not run until Start.
func NewRuntime(cfg Config, sched schedd.Scheduler, logger *slog.Logger, opts ...Option) *Runtime {
	def := DefaultConfig()
	if cfg.WorkDir == "" {
		cfg.WorkDir = def.WorkDir
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	rt := &Runtime{
		cfg:      cfg,
		sched:    sched,
		logger:   logger.With("component", "job"),
		registry: newRegistry(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.meter == nil {
		rt.meter = otel.Meter(meterName)
	}
	rt.poller = newPoller(rt.registry, cfg.PollInterval, rt.meter, rt.notify, logger)
	return rt
}

// Config returns the effective configuration.
func (rt *Runtime) Config() Config {
	return rt.cfg
}

// Scheduler returns the scheduler jobs are submitted to.
func (rt *Runtime) Scheduler() schedd.Scheduler {
	return rt.sched
}

// Registry returns the set of live handles.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// Poller returns the runtime's poller.
func (rt *Runtime) Poller() *Poller {
	return rt.poller
}

// Start launches the poller goroutine. Only the first call has an effect.
func (rt *Runtime) Start(ctx context.Context) {
	rt.startOnce.Do(func() {
		rt.mu.Lock()
		rt.started = true
		rt.mu.Unlock()
		go func() {
			if err := rt.poller.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Error("poller exited", "error", err)
			}
		}()
	})
}

// Stop halts the poller if it was started.
func (rt *Runtime) Stop() error {
	rt.mu.Lock()
	started := rt.started
	rt.mu.Unlock()
	if !started {
		return nil
	}
	return rt.poller.stop()
}

// New creates an unsubmitted handle for p with a fresh id. Its event log
// is <workdir>/<id>.log.
func (rt *Runtime) New(p Payload) (*Handle, error) {
	if p == nil {
		return nil, errors.New("payload is required")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", p.Kind(), err)
	}
	workDir, err := filepath.Abs(rt.cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	id := uuid.New().String()
	h, err := rt.track(id, p, workDir, filepath.Join(workDir, id+".log"), nil, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	rt.logger.Debug("job created", "id", id, "kind", p.Kind(), "log", h.logPath)
	rt.notify(context.Background(), h)
	return h, nil
}

// Attach resumes tracking of a previously created job. The poller replays
// its event log from the beginning. If the job is already tracked the live
// handle is returned.
func (rt *Runtime) Attach(rec model.JobRecord) (*Handle, error) {
	if h := rt.registry.Lookup(rec.ID); h != nil {
		return h, nil
	}
	if rec.ID == "" || rec.LogPath == "" {
		return nil, errors.New("record needs an id and a log path")
	}
	p, err := PayloadFromRecord(rec.Kind, rec.Payload)
	if err != nil {
		return nil, err
	}
	workDir := rec.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(rec.LogPath)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	h, err := rt.track(rec.ID, p, workDir, rec.LogPath, rec.SchedulerID, created)
	if err != nil {
		return nil, err
	}
	rt.logger.Debug("job attached", "id", rec.ID, "log", rec.LogPath)
	return h, nil
}

// Lookup returns the live handle with id, or nil.
func (rt *Runtime) Lookup(id string) *Handle {
	return rt.registry.Lookup(id)
}

func (rt *Runtime) track(id string, p Payload, workDir, logPath string, jobID *model.JobID, created time.Time) (*Handle, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	reader, err := eventlog.Open(logPath)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		id:        id,
		rt:        rt,
		payload:   p,
		workDir:   workDir,
		logPath:   logPath,
		reader:    reader,
		createdAt: created,
		state:     model.JobStateUnsubmitted,
		updatedAt: created,
		changed:   make(chan struct{}),
	}
	if jobID != nil {
		cp := *jobID
		h.jobID = &cp
	}

	h.self = rt.registry.add(h)
	reg, self := rt.registry, h.self
	h.cleanup = runtime.AddCleanup(h, func(id string) {
		reg.remove(id, self)
	}, id)
	return h, nil
}

// notify fans a handle snapshot out to the observers, logging failures.
func (rt *Runtime) notify(ctx context.Context, h *Handle) {
	if len(rt.observers) == 0 {
		return
	}
	rec := h.Record()
	for _, o := range rt.observers {
		if err := o.JobChanged(ctx, rec); err != nil {
			rt.logger.Warn("observer failed", "id", rec.ID, "error", err)
		}
	}
}
