package model

import (
	"fmt"
	"strconv"
	"time"
)

// EventType identifies a scheduler lifecycle event. Its value is the
// numeric code the scheduler writes at the start of each event log record.
type EventType int

const (
	EventSubmit               EventType = 0
	EventExecute              EventType = 1
	EventExecutableError      EventType = 2
	EventCheckpointed         EventType = 3
	EventJobEvicted           EventType = 4
	EventJobTerminated        EventType = 5
	EventImageSize            EventType = 6
	EventShadowException      EventType = 7
	EventGeneric              EventType = 8
	EventJobAborted           EventType = 9
	EventJobSuspended         EventType = 10
	EventJobUnsuspended       EventType = 11
	EventJobHeld              EventType = 12
	EventJobReleased          EventType = 13
	EventNodeExecute          EventType = 14
	EventNodeTerminated       EventType = 15
	EventPostScriptTerminated EventType = 16
	EventGlobusSubmit         EventType = 17
	EventGlobusSubmitFailed   EventType = 18
	EventGlobusResourceUp     EventType = 19
	EventGlobusResourceDown   EventType = 20
	EventRemoteError          EventType = 21
	EventJobDisconnected      EventType = 22
	EventJobReconnected       EventType = 23
	EventJobReconnectFailed   EventType = 24
	EventGridResourceUp       EventType = 25
	EventGridResourceDown     EventType = 26
	EventGridSubmit           EventType = 27
	EventJobAdInformation     EventType = 28
	EventJobStatusUnknown     EventType = 29
	EventJobStatusKnown       EventType = 30
	EventJobStageIn           EventType = 31
	EventJobStageOut          EventType = 32
	EventAttributeUpdate      EventType = 33
	EventPreSkip              EventType = 34
	EventClusterSubmit        EventType = 35
	EventClusterRemove        EventType = 36
	EventFactoryPaused        EventType = 37
	EventFactoryResumed       EventType = 38
	EventNone                 EventType = 39
	EventFileTransfer         EventType = 40
)

var eventNames = [...]string{
	"SUBMIT",
	"EXECUTE",
	"EXECUTABLE_ERROR",
	"CHECKPOINTED",
	"JOB_EVICTED",
	"JOB_TERMINATED",
	"IMAGE_SIZE",
	"SHADOW_EXCEPTION",
	"GENERIC",
	"JOB_ABORTED",
	"JOB_SUSPENDED",
	"JOB_UNSUSPENDED",
	"JOB_HELD",
	"JOB_RELEASED",
	"NODE_EXECUTE",
	"NODE_TERMINATED",
	"POST_SCRIPT_TERMINATED",
	"GLOBUS_SUBMIT",
	"GLOBUS_SUBMIT_FAILED",
	"GLOBUS_RESOURCE_UP",
	"GLOBUS_RESOURCE_DOWN",
	"REMOTE_ERROR",
	"JOB_DISCONNECTED",
	"JOB_RECONNECTED",
	"JOB_RECONNECT_FAILED",
	"GRID_RESOURCE_UP",
	"GRID_RESOURCE_DOWN",
	"GRID_SUBMIT",
	"JOB_AD_INFORMATION",
	"JOB_STATUS_UNKNOWN",
	"JOB_STATUS_KNOWN",
	"JOB_STAGE_IN",
	"JOB_STAGE_OUT",
	"ATTRIBUTE_UPDATE",
	"PRESKIP",
	"CLUSTER_SUBMIT",
	"CLUSTER_REMOVE",
	"FACTORY_PAUSED",
	"FACTORY_RESUMED",
	"NONE",
	"FILE_TRANSFER",
}

// String returns the scheduler's name for the event type, or
// EVENT_<code> for codes outside the known vocabulary.
func (t EventType) String() string {
	if t.Known() {
		return eventNames[t]
	}
	return "EVENT_" + strconv.Itoa(int(t))
}

// Known reports whether t belongs to the fixed event vocabulary.
func (t EventType) Known() bool {
	return t >= 0 && int(t) < len(eventNames)
}

// ParseEventType resolves an event name (e.g. "JOB_HELD") to its type.
func ParseEventType(name string) (EventType, error) {
	for i, n := range eventNames {
		if n == name {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// Well-known keys in LifecycleEvent.Attrs.
const (
	AttrReturnValue = "return_value"
	AttrHoldReason  = "hold_reason"
	AttrHost        = "host"
	AttrSignal      = "signal"
)

// LifecycleEvent is one record read from a job's event log.
type LifecycleEvent struct {
	Type    EventType
	Cluster int
	Proc    int
	Subproc int
	Time    time.Time
	Summary string            // Text following the header timestamp.
	Body    []string          // Indented detail lines, whitespace trimmed.
	Attrs   map[string]string // Values recognised in the summary/body.
}

// JobID returns the scheduler identifier the event refers to.
func (e LifecycleEvent) JobID() JobID {
	return JobID{Cluster: e.Cluster, Proc: e.Proc}
}
