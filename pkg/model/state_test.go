package model

import "testing"

func TestJobState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    JobState
		terminal bool
	}{
		{JobStateUnsubmitted, false},
		{JobStateIdle, false},
		{JobStateRunning, false},
		{JobStateSubmitted, false},
		{JobStateHeld, false},
		{JobStateCompleted, true},
		{JobStateRemoved, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("JobState(%q).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestJobState_Valid(t *testing.T) {
	for _, s := range AllJobStates {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if JobState("PAUSED").Valid() {
		t.Error("PAUSED should not be valid")
	}
}

func TestNextState(t *testing.T) {
	tests := []struct {
		event EventType
		want  JobState
		ok    bool
	}{
		{EventSubmit, JobStateIdle, true},
		{EventJobEvicted, JobStateIdle, true},
		{EventJobUnsuspended, JobStateIdle, true},
		{EventJobReleased, JobStateIdle, true},
		{EventShadowException, JobStateIdle, true},
		{EventJobReconnectFailed, JobStateIdle, true},
		{EventExecute, JobStateRunning, true},
		{EventJobHeld, JobStateHeld, true},
		{EventJobTerminated, JobStateCompleted, true},
		{EventJobAborted, JobStateRemoved, true},

		{EventImageSize, "", false},
		{EventJobSuspended, "", false},
		{EventJobDisconnected, "", false},
		{EventFileTransfer, "", false},
		{EventType(999), "", false},
	}
	for _, tt := range tests {
		got, ok := NextState(tt.event)
		if ok != tt.ok || got != tt.want {
			t.Errorf("NextState(%s) = (%q, %v), want (%q, %v)", tt.event, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNextState_NeverYieldsInitialState(t *testing.T) {
	for i := 0; i <= int(EventFileTransfer); i++ {
		if next, ok := NextState(EventType(i)); ok && next == JobStateUnsubmitted {
			t.Errorf("event %s leads back to UNSUBMITTED", EventType(i))
		}
	}
}

func TestJobState_Fold(t *testing.T) {
	tests := []struct {
		name   string
		events []EventType
		want   JobState
	}{
		{"no events", nil, JobStateUnsubmitted},
		{"unrecognised only", []EventType{EventImageSize, EventGeneric}, JobStateUnsubmitted},
		{"happy path", []EventType{EventSubmit, EventExecute, EventJobTerminated}, JobStateCompleted},
		{"evicted then held", []EventType{EventJobEvicted, EventJobHeld}, JobStateHeld},
		{"held and released", []EventType{EventSubmit, EventJobHeld, EventJobReleased}, JobStateIdle},
		{"unrecognised skipped", []EventType{EventSubmit, EventImageSize, EventExecute, EventJobDisconnected}, JobStateRunning},
		{"aborted", []EventType{EventSubmit, EventJobAborted}, JobStateRemoved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JobStateUnsubmitted.Fold(tt.events...); got != tt.want {
				t.Errorf("Fold = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJobState_ApplyTerminalAbsorbs(t *testing.T) {
	for _, terminal := range []JobState{JobStateCompleted, JobStateRemoved} {
		for _, ev := range []EventType{EventSubmit, EventExecute, EventJobHeld, EventJobReleased, EventJobAborted, EventJobTerminated} {
			if got := terminal.Apply(ev); got != terminal {
				t.Errorf("%s.Apply(%s) = %q, want %q", terminal, ev, got, terminal)
			}
		}
	}
}
