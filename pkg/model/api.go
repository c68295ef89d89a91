package model

import "time"

// Response is the envelope of every htjob API response. Data holds a
// JobRecord, a page of them, or a small handler-specific object.
type Response struct {
	Status     string      `json:"status"` // "ok" or "error"
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination describes one page of a job listing.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPagination describes a page of returned records out of total.
func NewPagination(total, returned int, opts ListOptions) *Pagination {
	return &Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+returned < total,
	}
}

// ListOptions selects a page of jobs, newest first.
type ListOptions struct {
	Limit  int
	Offset int
	State  JobState // empty matches every state
}

// DefaultListOptions returns the first page of 20.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20}
}

// Clamp keeps Limit within 1..500 and Offset non-negative.
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Matches reports whether rec passes the state filter.
func (o ListOptions) Matches(rec *JobRecord) bool {
	return o.State == "" || rec.State == o.State
}
