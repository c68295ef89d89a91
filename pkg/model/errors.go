package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrNotReady   ErrorCode = "NOT_READY"
	ErrScheduler  ErrorCode = "SCHEDULER_ERROR"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the htjob API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// ErrNotSubmitted is wrapped by ActionError when a job has no scheduler id yet.
var ErrNotSubmitted = errors.New("job has not been submitted")

// SubmissionError is returned when the scheduler rejects a submission
// or cannot be reached.
type SubmissionError struct {
	JobID string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit job %s: %v", e.JobID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ActionError is returned when hold, release or remove fails.
type ActionError struct {
	JobID  string
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s job %s: %v", e.Action, e.JobID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NotReadyError is returned when outputs are requested before completion.
type NotReadyError struct {
	JobID string
	State JobState
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job %s is not complete yet (state %s)", e.JobID, e.State)
}

// LogReadError is returned when a job's event log cannot be read.
type LogReadError struct {
	Path string
	Err  error
}

func (e *LogReadError) Error() string {
	return fmt.Sprintf("read event log %s: %v", e.Path, e.Err)
}

func (e *LogReadError) Unwrap() error { return e.Err }
