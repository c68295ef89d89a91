package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobID is the scheduler's compound identifier for a submitted job.
type JobID struct {
	Cluster int `json:"cluster"`
	Proc    int `json:"proc"`
}

// String renders the id as "cluster.proc".
func (id JobID) String() string {
	return fmt.Sprintf("%d.%d", id.Cluster, id.Proc)
}

// Constraint returns a scheduler expression matching exactly this job.
func (id JobID) Constraint() string {
	return fmt.Sprintf("(ClusterId == %d && ProcId == %d)", id.Cluster, id.Proc)
}

// ParseJobID parses "cluster.proc" or a bare "cluster" (proc 0).
func ParseJobID(s string) (JobID, error) {
	s = strings.TrimSpace(s)
	clusterStr, procStr, hasProc := strings.Cut(s, ".")
	cluster, err := strconv.Atoi(clusterStr)
	if err != nil || cluster < 0 {
		return JobID{}, fmt.Errorf("invalid job id %q", s)
	}
	proc := 0
	if hasProc {
		proc, err = strconv.Atoi(procStr)
		if err != nil || proc < 0 {
			return JobID{}, fmt.Errorf("invalid job id %q", s)
		}
	}
	return JobID{Cluster: cluster, Proc: proc}, nil
}

// PayloadKind distinguishes the two kinds of work a job can carry.
type PayloadKind string

const (
	PayloadCallable   PayloadKind = "callable"
	PayloadExecutable PayloadKind = "executable"
)

// JobRecord is a point-in-time, serialisable snapshot of a tracked job.
type JobRecord struct {
	ID          string         `json:"id"`
	Kind        PayloadKind    `json:"kind"`
	State       JobState       `json:"state"`
	SchedulerID *JobID         `json:"scheduler_id,omitempty"`
	WorkDir     string         `json:"work_dir"`
	LogPath     string         `json:"log_path"`
	Payload     map[string]any `json:"payload"`
	HoldReason  string         `json:"hold_reason,omitempty"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Submitted reports whether the scheduler has assigned an identifier.
func (r *JobRecord) Submitted() bool {
	return r.SchedulerID != nil
}
