package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/me/htjob/internal/config"
	"github.com/me/htjob/internal/job"
	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/internal/store"
	"github.com/me/htjob/pkg/model"
)

// backend is what the commands operate on: either an in-process runtime
// over the local journal, or a remote htjob-server.
type backend interface {
	Create(ctx context.Context, p job.Payload, submit bool) (*model.JobRecord, error)
	Get(ctx context.Context, id string) (*model.JobRecord, error)
	List(ctx context.Context, opts model.ListOptions) ([]*model.JobRecord, int, error)
	Act(ctx context.Context, action schedd.Action, ids []string) ([]*model.JobRecord, error)
	Outputs(ctx context.Context, id string) ([]string, error)
	Wait(ctx context.Context, ids []string, states []model.JobState) ([]*model.JobRecord, error)
	Forget(ctx context.Context, id string) error
	Close() error
}

// localBackend tracks jobs in this process. Every handle it touches is
// attached from the journal, brought up to date by one poller cycle and
// journaled again through the store observer.
type localBackend struct {
	logger *slog.Logger
	store  *store.SQLiteStore
	sched  schedd.Scheduler
	rt     *job.Runtime
	pinned map[string]*job.Handle
}

func openLocalBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*localBackend, error) {
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	sched, err := cfg.NewScheduler(logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	if local, ok := sched.(*schedd.Local); ok {
		last, err := st.MaxClusterID(ctx)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("read journal: %w", err)
		}
		local.SetNextCluster(last + 1)
	}
	return &localBackend{
		logger: logger,
		store:  st,
		sched:  sched,
		rt:     job.NewRuntime(cfg.Runtime(), sched, logger, job.WithObserver(st)),
		pinned: make(map[string]*job.Handle),
	}, nil
}

func (b *localBackend) Create(ctx context.Context, p job.Payload, submit bool) (*model.JobRecord, error) {
	h, err := b.rt.New(p)
	if err != nil {
		return nil, err
	}
	b.pinned[h.ID()] = h
	if submit {
		if err := h.Submit(ctx); err != nil {
			return nil, err
		}
	}
	rec := h.Record()
	return &rec, nil
}

func (b *localBackend) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	h, err := b.handle(ctx, id)
	if err != nil {
		return nil, err
	}
	b.refresh(ctx)
	rec := h.Record()
	return &rec, nil
}

func (b *localBackend) List(ctx context.Context, opts model.ListOptions) ([]*model.JobRecord, int, error) {
	recs, total, err := b.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, 0, err
	}

	live := make(map[int]*job.Handle)
	for i, rec := range recs {
		if rec.State.IsTerminal() {
			continue
		}
		h, err := b.handle(ctx, rec.ID)
		if err != nil {
			b.logger.Warn("attach job", "id", rec.ID, "error", err)
			continue
		}
		live[i] = h
	}
	if len(live) > 0 {
		b.refresh(ctx)
	}
	for i, h := range live {
		rec := h.Record()
		recs[i] = &rec
	}
	return recs, total, nil
}

func (b *localBackend) Act(ctx context.Context, action schedd.Action, ids []string) ([]*model.JobRecord, error) {
	handles, err := b.handles(ctx, ids)
	if err != nil {
		return nil, err
	}
	batch := job.NewBatch(handles...)
	switch action {
	case schedd.ActionHold:
		err = batch.Hold(ctx)
	case schedd.ActionRelease:
		err = batch.Release(ctx)
	case schedd.ActionRemove:
		err = batch.Remove(ctx)
	default:
		return nil, fmt.Errorf("unsupported action %s", action)
	}
	b.refresh(ctx)
	return records(batch), err
}

func (b *localBackend) Outputs(ctx context.Context, id string) ([]string, error) {
	h, err := b.handle(ctx, id)
	if err != nil {
		return nil, err
	}
	b.refresh(ctx)
	return h.OutputFiles()
}

func (b *localBackend) Wait(ctx context.Context, ids []string, states []model.JobState) ([]*model.JobRecord, error) {
	handles, err := b.handles(ctx, ids)
	if err != nil {
		return nil, err
	}
	batch := job.NewBatch(handles...)
	b.rt.Start(ctx)
	err = batch.Wait(ctx, states...)
	return records(batch), err
}

// Forget stops tracking id and drops it from the journal.
func (b *localBackend) Forget(ctx context.Context, id string) error {
	rec, err := b.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return model.NewNotFoundError("job", id)
	}
	if h, ok := b.pinned[id]; ok {
		h.Close()
		delete(b.pinned, id)
	}
	return b.store.DeleteJob(ctx, id)
}

// Close stops the poller, then the scheduler. Jobs the scheduler aborted
// on the way out are journaled by one last cycle before the journal closes.
func (b *localBackend) Close() error {
	errs := []error{b.rt.Stop()}
	if c, ok := b.sched.(io.Closer); ok {
		errs = append(errs, c.Close())
		b.refresh(context.Background())
	}
	errs = append(errs, b.store.Close())
	return errors.Join(errs...)
}

// ephemeral reports whether the scheduler's queue dies with this process.
func (b *localBackend) ephemeral() bool {
	_, ok := b.sched.(*schedd.Local)
	return ok
}

// handle returns the tracked handle for id, attaching it from the journal
// on first use.
func (b *localBackend) handle(ctx context.Context, id string) (*job.Handle, error) {
	if h, ok := b.pinned[id]; ok {
		return h, nil
	}
	rec, err := b.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, model.NewNotFoundError("job", id)
	}
	h, err := b.rt.Attach(*rec)
	if err != nil {
		return nil, fmt.Errorf("attach job %s: %w", id, err)
	}
	b.pinned[id] = h
	return h, nil
}

func (b *localBackend) handles(ctx context.Context, ids []string) ([]*job.Handle, error) {
	out := make([]*job.Handle, 0, len(ids))
	for _, id := range ids {
		h, err := b.handle(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// refresh runs one poller cycle over every attached handle.
func (b *localBackend) refresh(ctx context.Context) {
	if err := b.rt.Poller().Tick(ctx); err != nil {
		b.logger.Warn("poll event logs", "error", err)
	}
}

func records(batch *job.Batch) []*model.JobRecord {
	out := make([]*model.JobRecord, 0, batch.Len())
	for _, h := range batch.Handles() {
		rec := h.Record()
		out = append(out, &rec)
	}
	return out
}

// matchState reports whether s is one of states, or terminal when states
// is empty.
func matchState(s model.JobState, states []model.JobState) bool {
	if len(states) == 0 {
		return s.IsTerminal()
	}
	return slices.Contains(states, s)
}
