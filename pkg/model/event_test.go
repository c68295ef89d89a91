package model

import "testing"

func TestEventType_String(t *testing.T) {
	tests := []struct {
		t    EventType
		want string
	}{
		{EventSubmit, "SUBMIT"},
		{EventJobTerminated, "JOB_TERMINATED"},
		{EventJobReconnectFailed, "JOB_RECONNECT_FAILED"},
		{EventFileTransfer, "FILE_TRANSFER"},
		{EventType(77), "EVENT_77"},
		{EventType(-1), "EVENT_-1"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", int(tt.t), got, tt.want)
		}
	}
}

func TestParseEventType(t *testing.T) {
	for i := 0; i <= int(EventFileTransfer); i++ {
		et := EventType(i)
		got, err := ParseEventType(et.String())
		if err != nil {
			t.Fatalf("ParseEventType(%q): %v", et.String(), err)
		}
		if got != et {
			t.Errorf("ParseEventType(%q) = %d, want %d", et.String(), got, et)
		}
	}
	if _, err := ParseEventType("JOB_EXPLODED"); err == nil {
		t.Error("expected error for unknown name")
	}
}

func TestLifecycleEvent_JobID(t *testing.T) {
	ev := LifecycleEvent{Type: EventSubmit, Cluster: 42, Proc: 3}
	if got := ev.JobID(); got != (JobID{Cluster: 42, Proc: 3}) {
		t.Errorf("JobID() = %v", got)
	}
}
