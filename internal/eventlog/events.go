package eventlog

import (
	"fmt"
	"time"

	"github.com/me/htjob/pkg/model"
)

func newEvent(t model.EventType, id model.JobID, summary string, body ...string) model.LifecycleEvent {
	return model.LifecycleEvent{
		Type:    t,
		Cluster: id.Cluster,
		Proc:    id.Proc,
		Time:    time.Now(),
		Summary: summary,
		Body:    body,
	}
}

// SubmitEvent builds a SUBMIT event as the scheduler writes it.
func SubmitEvent(id model.JobID, host string) model.LifecycleEvent {
	return newEvent(model.EventSubmit, id, fmt.Sprintf("Job submitted from host: <%s>", host))
}

// ExecuteEvent builds an EXECUTE event.
func ExecuteEvent(id model.JobID, host string) model.LifecycleEvent {
	return newEvent(model.EventExecute, id, fmt.Sprintf("Job executing on host: <%s>", host))
}

// TerminatedEvent builds a JOB_TERMINATED event for a process that exited
// with returnValue.
func TerminatedEvent(id model.JobID, returnValue int) model.LifecycleEvent {
	return newEvent(model.EventJobTerminated, id, "Job terminated.",
		fmt.Sprintf("(1) Normal termination (return value %d)", returnValue))
}

// SignaledEvent builds a JOB_TERMINATED event for a process killed by sig.
func SignaledEvent(id model.JobID, sig int) model.LifecycleEvent {
	return newEvent(model.EventJobTerminated, id, "Job terminated.",
		fmt.Sprintf("(0) Abnormal termination (signal %d)", sig))
}

// HeldEvent builds a JOB_HELD event carrying reason as its first body line.
func HeldEvent(id model.JobID, reason string) model.LifecycleEvent {
	return newEvent(model.EventJobHeld, id, "Job was held.", reason)
}

// ReleasedEvent builds a JOB_RELEASED event.
func ReleasedEvent(id model.JobID, reason string) model.LifecycleEvent {
	return newEvent(model.EventJobReleased, id, "Job was released.", reason)
}

// AbortedEvent builds a JOB_ABORTED event.
func AbortedEvent(id model.JobID, reason string) model.LifecycleEvent {
	return newEvent(model.EventJobAborted, id, "Job was aborted.", reason)
}

// EvictedEvent builds a JOB_EVICTED event.
func EvictedEvent(id model.JobID) model.LifecycleEvent {
	return newEvent(model.EventJobEvicted, id, "Job was evicted.",
		"(0) Job was not checkpointed.")
}

// ImageSizeEvent builds an IMAGE_SIZE event; it implies no state change.
func ImageSizeEvent(id model.JobID, kb int) model.LifecycleEvent {
	return newEvent(model.EventImageSize, id, "Image size of job updated: "+fmt.Sprint(kb))
}
