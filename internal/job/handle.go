package job

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"
	"weak"

	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/pkg/model"
)

// ErrClosed is returned by operations on a Handle after Close.
var ErrClosed = errors.New("job handle is closed")

// eventSource yields the events appended to a job's log since the last
// call. *eventlog.Reader is the production implementation.
type eventSource interface {
	Poll() ([]model.LifecycleEvent, error)
}

// Handle tracks one unit of work. Its state is written only by the
// runtime's poller; every other method reads it or acts on the scheduler.
//
// The runtime keeps a weak reference to each Handle. Callers own their
// handles: once a Handle is unreachable (or closed) it is dropped from
// tracking.
type Handle struct {
	id        string
	rt        *Runtime
	payload   Payload
	workDir   string
	logPath   string
	reader    eventSource
	createdAt time.Time

	self    weak.Pointer[Handle]
	cleanup runtime.Cleanup

	mu         sync.Mutex
	state      model.JobState
	jobID      *model.JobID
	holdReason string
	exitCode   *int
	updatedAt  time.Time
	changed    chan struct{}
	closed     bool
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string {
	return h.id
}

// Payload returns the work description.
func (h *Handle) Payload() Payload {
	return h.payload
}

// LogPath returns the path of the job's event log.
func (h *Handle) LogPath() string {
	return h.logPath
}

// WorkDir returns the directory holding the job's files.
func (h *Handle) WorkDir() string {
	return h.workDir
}

// JobID returns the scheduler identifier, if the job has been submitted.
func (h *Handle) JobID() (model.JobID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.jobID == nil {
		return model.JobID{}, false
	}
	return *h.jobID, true
}

// State returns the current lifecycle state. It never performs I/O: the
// value reflects every transition applied by poller cycles that finished
// before the call, and may lag the event log by up to one poll interval.
func (h *Handle) State() model.JobState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Changed returns a channel that is closed at the next state transition.
func (h *Handle) Changed() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

// Wait blocks until the state is one of states (any terminal state when
// none are given) or ctx is done. It returns the state it observed last.
func (h *Handle) Wait(ctx context.Context, states ...model.JobState) (model.JobState, error) {
	match := func(s model.JobState) bool {
		if len(states) == 0 {
			return s.IsTerminal()
		}
		return slices.Contains(states, s)
	}
	for {
		h.mu.Lock()
		state, ch := h.state, h.changed
		h.mu.Unlock()

		if match(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ch:
		}
	}
}

// Submit hands the payload to the scheduler and records the identifier it
// returns. Calling Submit twice queues two scheduler jobs.
func (h *Handle) Submit(ctx context.Context) error {
	if h.isClosed() {
		return &model.SubmissionError{JobID: h.id, Err: ErrClosed}
	}
	desc, err := h.payload.describe(h.env())
	if err != nil {
		return &model.SubmissionError{JobID: h.id, Err: err}
	}
	id, err := h.rt.sched.Submit(ctx, desc)
	if err != nil {
		return &model.SubmissionError{JobID: h.id, Err: err}
	}

	h.mu.Lock()
	h.jobID = &id
	h.updatedAt = time.Now().UTC()
	h.mu.Unlock()

	h.rt.logger.Info("job submitted", "id", h.id, "job_id", id.String(), "kind", h.payload.Kind())
	h.rt.notify(ctx, h)
	return nil
}

// Hold asks the scheduler to hold the job.
func (h *Handle) Hold(ctx context.Context) error {
	return h.act(ctx, schedd.ActionHold)
}

// Release asks the scheduler to release a held job.
func (h *Handle) Release(ctx context.Context) error {
	return h.act(ctx, schedd.ActionRelease)
}

// Remove asks the scheduler to remove the job from its queue.
func (h *Handle) Remove(ctx context.Context) error {
	return h.act(ctx, schedd.ActionRemove)
}

func (h *Handle) act(ctx context.Context, action schedd.Action) error {
	id, ok := h.JobID()
	if !ok {
		return &model.ActionError{JobID: h.id, Action: action.String(), Err: model.ErrNotSubmitted}
	}
	if err := h.rt.sched.Act(ctx, action, id.Constraint()); err != nil {
		return &model.ActionError{JobID: h.id, Action: action.String(), Err: err}
	}
	h.rt.logger.Info("job action", "id", h.id, "job_id", id.String(), "action", action.String())
	return nil
}

// OutputFiles returns the job's output paths. Callable jobs report
// *model.NotReadyError until they are COMPLETED; executable jobs return
// their declared manifest in any state.
func (h *Handle) OutputFiles() ([]string, error) {
	return h.payload.outputFiles(h.env(), h.State())
}

// Record returns a serialisable snapshot of the handle.
func (h *Handle) Record() model.JobRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := model.JobRecord{
		ID:         h.id,
		Kind:       h.payload.Kind(),
		State:      h.state,
		WorkDir:    h.workDir,
		LogPath:    h.logPath,
		Payload:    payloadMap(h.payload),
		HoldReason: h.holdReason,
		CreatedAt:  h.createdAt,
		UpdatedAt:  h.updatedAt,
	}
	if h.jobID != nil {
		id := *h.jobID
		rec.SchedulerID = &id
	}
	if h.exitCode != nil {
		code := *h.exitCode
		rec.ExitCode = &code
	}
	return rec
}

// Close stops tracking the handle. The scheduler job, if any, is left
// alone. Close is idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cleanup.Stop()
	h.rt.registry.remove(h.id, h.self)
	return nil
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) env() submitEnv {
	return submitEnv{
		id:         h.id,
		workDir:    h.workDir,
		logPath:    h.logPath,
		runnerPath: h.rt.cfg.RunnerPath,
	}
}

// apply folds one event into the state cell and reports whether the state
// changed. Only the poller calls it.
func (h *Handle) apply(ev model.LifecycleEvent) (from, to model.JobState, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	from = h.state
	to = from.Apply(ev.Type)
	if from.IsTerminal() {
		return from, to, false
	}

	switch ev.Type {
	case model.EventJobHeld:
		h.holdReason = ev.Attrs[model.AttrHoldReason]
	case model.EventJobReleased:
		h.holdReason = ""
	case model.EventJobTerminated:
		if rv, ok := ev.Attrs[model.AttrReturnValue]; ok {
			if code, err := strconv.Atoi(rv); err == nil {
				h.exitCode = &code
			}
		}
	}

	if to == from {
		return from, to, false
	}
	h.state = to
	h.updatedAt = time.Now().UTC()
	close(h.changed)
	h.changed = make(chan struct{})
	return from, to, true
}
