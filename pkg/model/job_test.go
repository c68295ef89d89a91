package model

import "testing"

func TestJobID_Constraint(t *testing.T) {
	id := JobID{Cluster: 1234, Proc: 5}
	want := "(ClusterId == 1234 && ProcId == 5)"
	if got := id.Constraint(); got != want {
		t.Errorf("Constraint() = %q, want %q", got, want)
	}
	if got := id.String(); got != "1234.5" {
		t.Errorf("String() = %q, want 1234.5", got)
	}
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		in      string
		want    JobID
		wantErr bool
	}{
		{"12.0", JobID{12, 0}, false},
		{"12.7", JobID{12, 7}, false},
		{" 99 ", JobID{99, 0}, false},
		{"", JobID{}, true},
		{"abc", JobID{}, true},
		{"1.x", JobID{}, true},
		{"-1.0", JobID{}, true},
	}
	for _, tt := range tests {
		got, err := ParseJobID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseJobID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseJobID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJobRecord_Submitted(t *testing.T) {
	rec := JobRecord{ID: "j1"}
	if rec.Submitted() {
		t.Error("record without scheduler id should not be submitted")
	}
	rec.SchedulerID = &JobID{Cluster: 1}
	if !rec.Submitted() {
		t.Error("record with scheduler id should be submitted")
	}
}
