package schedd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"syscall"

	"github.com/me/htjob/internal/eventlog"
	"github.com/me/htjob/pkg/model"
)

type localState int

const (
	localIdle localState = iota
	localRunning
	localHeld
	localDone
	localRemoved
)

// localJob is one queued job in the simulator.
type localJob struct {
	id         model.JobID
	executable string
	args       []string
	initialDir string
	inputs     []string
	outputs    []string
	stdout     string
	stderr     string
	log        *eventlog.Writer

	state  localState
	gen    int // incremented on every (re)start; stale runs are discarded
	cancel context.CancelFunc
}

// Local is an in-process stand-in for a batch scheduler. It runs each job
// as a local process in a scratch sandbox, transfers the declared input
// and output files, and writes the same event log records a real
// scheduler would. It is meant for development and tests.
type Local struct {
	scratch string
	host    string
	user    string
	logger  *slog.Logger

	mu          sync.Mutex
	nextCluster int
	jobs        map[model.JobID]*localJob
	wg          sync.WaitGroup
	closed      bool
}

// NewLocal creates a simulator whose sandboxes live under scratch
// (os.TempDir() when empty).
func NewLocal(scratch string, logger *slog.Logger) *Local {
	if scratch == "" {
		scratch = os.TempDir()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "htjob"
	}
	return &Local{
		scratch:     scratch,
		host:        host,
		user:        user,
		logger:      logger.With("component", "local-schedd"),
		nextCluster: 1,
		jobs:        make(map[model.JobID]*localJob),
	}
}

// Name returns "local".
func (l *Local) Name() string {
	return "local"
}

// Submit queues desc and starts it immediately.
func (l *Local) Submit(ctx context.Context, desc *Description) (model.JobID, error) {
	if err := desc.Validate(); err != nil {
		return model.JobID{}, err
	}
	job, err := l.parseDescription(desc)
	if err != nil {
		return model.JobID{}, err
	}
	if _, err := os.Stat(job.executable); err != nil {
		return model.JobID{}, fmt.Errorf("executable %s: %w", job.executable, err)
	}
	for _, in := range job.inputs {
		if _, err := os.Stat(in); err != nil {
			return model.JobID{}, fmt.Errorf("input file %s: %w", in, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return model.JobID{}, errors.New("local scheduler is closed")
	}

	job.id = model.JobID{Cluster: l.nextCluster, Proc: 0}
	l.nextCluster++
	if err := job.log.Append(eventlog.SubmitEvent(job.id, l.host)); err != nil {
		return model.JobID{}, err
	}
	l.jobs[job.id] = job
	l.startLocked(job)

	l.logger.Info("job submitted", "job_id", job.id.String(), "executable", job.executable)
	return job.id, nil
}

func (l *Local) parseDescription(desc *Description) (*localJob, error) {
	initialDir, _ := desc.Get(KeyInitialDir)
	if initialDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		initialDir = wd
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(initialDir, p)
	}

	job := &localJob{initialDir: initialDir}
	exe, _ := desc.Get(KeyExecutable)
	job.executable = resolve(exe)

	if raw, ok := desc.Get(KeyArguments); ok {
		args, err := SplitArguments(raw)
		if err != nil {
			return nil, err
		}
		job.args = args
	}
	if raw, ok := desc.Get(KeyTransferInputFiles); ok {
		for _, in := range SplitList(raw) {
			job.inputs = append(job.inputs, resolve(in))
		}
	}
	if raw, ok := desc.Get(KeyTransferOutputFiles); ok {
		job.outputs = SplitList(raw)
	}
	out, _ := desc.Get(KeyOutput)
	job.stdout = resolve(out)
	errPath, _ := desc.Get(KeyError)
	job.stderr = resolve(errPath)
	logPath, _ := desc.Get(KeyLog)
	job.log = eventlog.NewWriter(resolve(logPath))
	return job, nil
}

// startLocked launches a run of job. l.mu must be held.
func (l *Local) startLocked(job *localJob) {
	ctx, cancel := context.WithCancel(context.Background())
	job.gen++
	job.state = localIdle
	job.cancel = cancel
	gen := job.gen

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		l.run(ctx, job, gen)
	}()
}

// current reports whether run gen of job is still the live one. l.mu must be held.
func (job *localJob) current(gen int) bool {
	return job.gen == gen && (job.state == localIdle || job.state == localRunning)
}

func (l *Local) run(ctx context.Context, job *localJob, gen int) {
	sandbox, err := os.MkdirTemp(l.scratch, "htjob-sandbox-")
	if err != nil {
		l.holdIfCurrent(job, gen, "Failed to create sandbox: "+err.Error())
		return
	}
	defer os.RemoveAll(sandbox)

	for _, in := range job.inputs {
		if err := copyFile(in, filepath.Join(sandbox, filepath.Base(in))); err != nil {
			l.holdIfCurrent(job, gen, "Transfer input files failure: "+err.Error())
			return
		}
	}

	l.mu.Lock()
	if !job.current(gen) {
		l.mu.Unlock()
		return
	}
	job.state = localRunning
	if err := job.log.Append(eventlog.ExecuteEvent(job.id, l.host)); err != nil {
		l.logger.Error("write execute event", "job_id", job.id.String(), "error", err)
	}
	l.mu.Unlock()

	exitCode, signal, runErr := l.execute(ctx, job, sandbox)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !job.current(gen) {
		return // held or removed while running; the action wrote the event
	}
	if runErr != nil {
		l.holdLocked(job, "Failed to execute: "+runErr.Error())
		return
	}
	for _, out := range job.outputs {
		if err := copyFile(filepath.Join(sandbox, out), filepath.Join(job.initialDir, filepath.Base(out))); err != nil {
			l.holdLocked(job, "Transfer output files failure: "+err.Error())
			return
		}
	}

	job.state = localDone
	ev := eventlog.TerminatedEvent(job.id, exitCode)
	if signal > 0 {
		ev = eventlog.SignaledEvent(job.id, signal)
	}
	if err := job.log.Append(ev); err != nil {
		l.logger.Error("write terminated event", "job_id", job.id.String(), "error", err)
	}
	l.logger.Debug("job finished", "job_id", job.id.String(), "exit_code", exitCode)
}

// execute runs the job process. A non-zero exit is not an error; runErr is
// set only when the process could not be started.
func (l *Local) execute(ctx context.Context, job *localJob, sandbox string) (exitCode, signal int, runErr error) {
	cmd := exec.CommandContext(ctx, job.executable, job.args...)
	cmd.Dir = sandbox

	stdout, err := openCapture(job.stdout)
	if err != nil {
		return 0, 0, err
	}
	defer stdout.Close()
	stderr, err := openCapture(job.stderr)
	if err != nil {
		return 0, 0, err
	}
	defer stderr.Close()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return 0, 0, err
	}
	err = cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 0, int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return 0, 0, nil
}

func (l *Local) holdIfCurrent(job *localJob, gen int, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if job.current(gen) {
		l.holdLocked(job, reason)
	}
}

// holdLocked puts job on hold. l.mu must be held.
func (l *Local) holdLocked(job *localJob, reason string) {
	job.state = localHeld
	job.cancel()
	if err := job.log.Append(eventlog.HeldEvent(job.id, reason)); err != nil {
		l.logger.Error("write held event", "job_id", job.id.String(), "error", err)
	}
}

var (
	clusterConstraintRe = regexp.MustCompile(`(?i)ClusterId\s*==\s*(\d+)`)
	procConstraintRe    = regexp.MustCompile(`(?i)ProcId\s*==\s*(\d+)`)
)

// Act supports constraints that pin ClusterId and optionally ProcId.
func (l *Local) Act(ctx context.Context, action Action, constraint string) error {
	cm := clusterConstraintRe.FindStringSubmatch(constraint)
	if cm == nil {
		return fmt.Errorf("unsupported constraint %q", constraint)
	}
	cluster, _ := strconv.Atoi(cm[1])
	proc := -1
	if pm := procConstraintRe.FindStringSubmatch(constraint); pm != nil {
		proc, _ = strconv.Atoi(pm[1])
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	matched := 0
	for id, job := range l.jobs {
		if id.Cluster != cluster || (proc >= 0 && id.Proc != proc) {
			continue
		}
		if job.state == localDone || job.state == localRemoved {
			continue // no longer in the queue
		}
		if err := l.actLocked(action, job); err != nil {
			return err
		}
		matched++
	}
	if matched == 0 {
		return fmt.Errorf("%s: no jobs matching constraint %s", action, constraint)
	}
	return nil
}

func (l *Local) actLocked(action Action, job *localJob) error {
	switch action {
	case ActionHold:
		if job.state == localHeld {
			return fmt.Errorf("job %s is already held", job.id)
		}
		l.holdLocked(job, fmt.Sprintf("via condor_hold (by user %s)", l.user))
	case ActionRelease:
		if job.state != localHeld {
			return fmt.Errorf("job %s is not held", job.id)
		}
		if err := job.log.Append(eventlog.ReleasedEvent(job.id, fmt.Sprintf("via condor_release (by user %s)", l.user))); err != nil {
			return err
		}
		l.startLocked(job)
	case ActionRemove:
		job.state = localRemoved
		job.cancel()
		if err := job.log.Append(eventlog.AbortedEvent(job.id, fmt.Sprintf("via condor_rm (by user %s)", l.user))); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported action %s", action)
	}
	l.logger.Debug("action applied", "action", action.String(), "job_id", job.id.String())
	return nil
}

// SetNextCluster makes the next submission use cluster n or higher, so a
// fresh simulator does not reuse ids already recorded elsewhere.
func (l *Local) SetNextCluster(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.nextCluster {
		l.nextCluster = n
	}
}

// Close removes every job still in the queue, writing JOB_ABORTED to its
// log, and waits for the runs to wind down. The queue does not outlive
// the simulator.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	var errs []error
	for _, job := range l.jobs {
		switch job.state {
		case localIdle, localRunning, localHeld:
			job.state = localRemoved
			if err := job.log.Append(eventlog.AbortedEvent(job.id, "local scheduler shut down")); err != nil {
				errs = append(errs, fmt.Errorf("job %s: %w", job.id, err))
			}
		}
		if job.cancel != nil {
			job.cancel()
		}
	}
	l.mu.Unlock()
	l.wg.Wait()
	return errors.Join(errs...)
}

func openCapture(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{io.Discard}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
