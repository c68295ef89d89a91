package schedd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/htjob/internal/eventlog"
	"github.com/me/htjob/pkg/model"
)

// waitForEvent polls r until an event of type want shows up, returning
// every event seen on the way.
func waitForEvent(t *testing.T, r *eventlog.Reader, want model.EventType, seen *[]model.LifecycleEvent) model.LifecycleEvent {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		events, err := r.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		for _, ev := range events {
			*seen = append(*seen, ev)
			if ev.Type == want {
				return ev
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; saw %d events", want, len(*seen))
	return model.LifecycleEvent{}
}

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l := NewLocal(t.TempDir(), testLogger())
	t.Cleanup(func() { l.Close() })
	return l
}

func shellDescription(dir, script string) *Description {
	return NewDescription().
		Set(KeyExecutable, "/bin/sh").
		Set(KeyArguments, QuoteArguments([]string{"-c", script})).
		Set(KeyInitialDir, dir).
		Set(KeyOutput, "job.out").
		Set(KeyError, "job.err").
		Set(KeyLog, "job.log")
}

func TestLocal_RunsJobAndTransfersFiles(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := eventlog.Open(filepath.Join(dir, "job.log"))
	if err != nil {
		t.Fatal(err)
	}

	desc := shellDescription(dir, "cat in.txt > result.txt; echo done; exit 3").
		Set(KeyTransferInputFiles, "in.txt").
		Set(KeyTransferOutputFiles, "result.txt")

	id, err := l.Submit(context.Background(), desc)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id.Cluster != 1 || id.Proc != 0 {
		t.Errorf("id = %v, want 1.0", id)
	}

	var seen []model.LifecycleEvent
	term := waitForEvent(t, r, model.EventJobTerminated, &seen)
	if term.Attrs[model.AttrReturnValue] != "3" {
		t.Errorf("return value = %q, want 3", term.Attrs[model.AttrReturnValue])
	}
	if len(seen) != 3 || seen[0].Type != model.EventSubmit || seen[1].Type != model.EventExecute {
		t.Errorf("event sequence = %v", seen)
	}

	data, err := os.ReadFile(filepath.Join(dir, "result.txt"))
	if err != nil || string(data) != "payload" {
		t.Errorf("result.txt = %q, %v", data, err)
	}
	out, _ := os.ReadFile(filepath.Join(dir, "job.out"))
	if strings.TrimSpace(string(out)) != "done" {
		t.Errorf("job.out = %q", out)
	}
}

func TestLocal_MissingOutputHoldsJob(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()
	r, _ := eventlog.Open(filepath.Join(dir, "job.log"))

	desc := shellDescription(dir, "true").Set(KeyTransferOutputFiles, "never-written.txt")
	if _, err := l.Submit(context.Background(), desc); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var seen []model.LifecycleEvent
	held := waitForEvent(t, r, model.EventJobHeld, &seen)
	if !strings.Contains(held.Attrs[model.AttrHoldReason], "Transfer output files failure") {
		t.Errorf("hold reason = %q", held.Attrs[model.AttrHoldReason])
	}
}

func TestLocal_HoldReleaseRemove(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()
	r, _ := eventlog.Open(filepath.Join(dir, "job.log"))
	ctx := context.Background()

	id, err := l.Submit(ctx, shellDescription(dir, "exec sleep 30"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var seen []model.LifecycleEvent
	waitForEvent(t, r, model.EventExecute, &seen)

	if err := l.Act(ctx, ActionHold, id.Constraint()); err != nil {
		t.Fatalf("hold: %v", err)
	}
	waitForEvent(t, r, model.EventJobHeld, &seen)
	if err := l.Act(ctx, ActionHold, id.Constraint()); err == nil {
		t.Error("holding a held job should fail")
	}

	if err := l.Act(ctx, ActionRelease, id.Constraint()); err != nil {
		t.Fatalf("release: %v", err)
	}
	waitForEvent(t, r, model.EventJobReleased, &seen)
	waitForEvent(t, r, model.EventExecute, &seen)

	if err := l.Act(ctx, ActionRemove, id.Constraint()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitForEvent(t, r, model.EventJobAborted, &seen)

	if err := l.Act(ctx, ActionRelease, id.Constraint()); err == nil {
		t.Error("acting on a removed job should fail")
	}

	var types []model.EventType
	for _, ev := range seen {
		types = append(types, ev.Type)
	}
	if got := model.JobStateUnsubmitted.Fold(types...); got != model.JobStateRemoved {
		t.Errorf("folded state = %s, want REMOVED (events %v)", got, types)
	}
}

func TestLocal_ActRejectsUnknownJobsAndConstraints(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	if err := l.Act(ctx, ActionHold, model.JobID{Cluster: 99}.Constraint()); err == nil {
		t.Error("expected error for unknown job")
	}
	if err := l.Act(ctx, ActionHold, `Owner == "alice"`); err == nil {
		t.Error("expected error for unsupported constraint")
	}
}

func TestLocal_SubmitRejectsMissingExecutable(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()
	desc := NewDescription().
		Set(KeyExecutable, filepath.Join(dir, "nope")).
		Set(KeyLog, filepath.Join(dir, "job.log"))
	if _, err := l.Submit(context.Background(), desc); err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestLocal_CloseAbortsQueuedJobs(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()
	r, _ := eventlog.Open(filepath.Join(dir, "job.log"))

	id, err := l.Submit(context.Background(), shellDescription(dir, "exec sleep 30"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var seen []model.LifecycleEvent
	waitForEvent(t, r, model.EventExecute, &seen)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	aborted := waitForEvent(t, r, model.EventJobAborted, &seen)
	if aborted.Cluster != id.Cluster {
		t.Errorf("aborted cluster = %d, want %d", aborted.Cluster, id.Cluster)
	}

	// Nothing else is written once the run has wound down.
	events, err := r.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events after abort: %v", events)
	}
	if _, err := l.Submit(context.Background(), shellDescription(dir, "true")); err == nil {
		t.Error("Submit after Close should fail")
	}
}

func TestLocal_SetNextCluster(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()
	ctx := context.Background()

	l.SetNextCluster(42)
	id, err := l.Submit(ctx, shellDescription(dir, "true"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id.Cluster != 42 {
		t.Errorf("cluster = %d, want 42", id.Cluster)
	}

	l.SetNextCluster(5) // never moves backwards
	id, err = l.Submit(ctx, shellDescription(dir, "true"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id.Cluster != 43 {
		t.Errorf("cluster = %d, want 43", id.Cluster)
	}
}
