package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Poller drains the event log of every registered handle on a fixed
// interval and applies the resulting state transitions. It is the only
// writer of handle state.
type Poller struct {
	registry *Registry
	interval time.Duration
	notify   func(context.Context, *Handle)
	logger   *slog.Logger
	metrics  pollerMetrics

	// tickMu serializes cycles so each log is drained and applied in order
	// by one cycle at a time.
	tickMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type pollerMetrics struct {
	cycles      metric.Int64Counter
	events      metric.Int64Counter
	transitions metric.Int64Counter
	errors      metric.Int64Counter
}

func newPollerMetrics(meter metric.Meter, registry *Registry) pollerMetrics {
	var m pollerMetrics
	// Instrument constructors return usable noop instruments on error.
	m.cycles, _ = meter.Int64Counter("htjob.poller.cycles",
		metric.WithDescription("Completed poller cycles"),
		metric.WithUnit("{cycle}"))
	m.events, _ = meter.Int64Counter("htjob.poller.events",
		metric.WithDescription("Lifecycle events read from job event logs"),
		metric.WithUnit("{event}"))
	m.transitions, _ = meter.Int64Counter("htjob.poller.transitions",
		metric.WithDescription("Job state transitions applied"),
		metric.WithUnit("{transition}"))
	m.errors, _ = meter.Int64Counter("htjob.poller.errors",
		metric.WithDescription("Per-job failures while polling event logs"),
		metric.WithUnit("{error}"))
	_, _ = meter.Int64ObservableGauge("htjob.jobs.tracked",
		metric.WithDescription("Handles currently tracked by the poller"),
		metric.WithUnit("{job}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(registry.Len()))
			return nil
		}))
	return m
}

func newPoller(registry *Registry, interval time.Duration, meter metric.Meter, notify func(context.Context, *Handle), logger *slog.Logger) *Poller {
	return &Poller{
		registry: registry,
		interval: interval,
		notify:   notify,
		logger:   logger.With("component", "poller"),
		metrics:  newPollerMetrics(meter, registry),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// run is the polling loop started by Runtime.Start. It blocks until ctx is
// cancelled or stop is called; tick errors are logged and never end the loop.
func (p *Poller) run(ctx context.Context) error {
	defer close(p.doneCh)
	p.logger.Info("poller started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping (context cancelled)")
			return ctx.Err()
		case <-p.stopCh:
			p.logger.Info("poller stopping (stop called)")
			return nil
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.logger.Error("tick error", "error", err)
			}
		}
	}
}

// stop ends a running loop and waits for the current tick to finish.
// It must only be called after run.
func (p *Poller) stop() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
	return nil
}

// Tick runs one polling cycle over a snapshot of the registry. A failure
// on one handle does not affect the others; all failures are returned
// joined once every handle has been polled. Concurrent calls run one after
// the other, so it is safe alongside the loop started by Runtime.Start.
func (p *Poller) Tick(ctx context.Context) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	var errs []error
	for _, h := range p.registry.Snapshot() {
		if h.State().IsTerminal() {
			continue
		}
		if err := p.pollHandle(ctx, h); err != nil {
			p.metrics.errors.Add(ctx, 1)
			errs = append(errs, fmt.Errorf("job %s: %w", h.id, err))
		}
	}
	p.metrics.cycles.Add(ctx, 1)
	return errors.Join(errs...)
}

func (p *Poller) pollHandle(ctx context.Context, h *Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while polling: %v", r)
		}
	}()

	events, err := h.reader.Poll()
	if err != nil {
		return err
	}
	if len(events) > 0 {
		p.metrics.events.Add(ctx, int64(len(events)))
	}
	for _, ev := range events {
		from, to, changed := h.apply(ev)
		if !changed {
			continue
		}
		p.metrics.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", to.String())))
		p.logger.Debug("state changed", "id", h.id, "from", from, "to", to, "event", ev.Type.String())
		if p.notify != nil {
			p.notify(ctx, h)
		}
	}
	return nil
}
