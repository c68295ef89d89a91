package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/me/htjob/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil, nil)
}

// respondJobs writes a page of job records. recs is never encoded as null.
func respondJobs(w http.ResponseWriter, reqID string, recs []*model.JobRecord, total int, opts model.ListOptions) {
	if recs == nil {
		recs = []*model.JobRecord{}
	}
	respondJSON(w, http.StatusOK, reqID, recs, model.NewPagination(total, len(recs), opts), nil)
}

func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondJobError maps the job errors a handle can return onto statuses:
// a job that is not submitted or not finished is a conflict, a scheduler
// refusal is a bad gateway, anything else is internal.
func respondJobError(w http.ResponseWriter, reqID string, err error) {
	var (
		notReady  *model.NotReadyError
		submitErr *model.SubmissionError
		actionErr *model.ActionError
	)
	switch {
	case errors.Is(err, model.ErrNotSubmitted):
		respondError(w, reqID, http.StatusConflict, &model.APIError{Code: model.ErrConflict, Message: err.Error()})
	case errors.As(err, &notReady):
		respondError(w, reqID, http.StatusConflict, &model.APIError{Code: model.ErrNotReady, Message: err.Error()})
	case errors.As(err, &submitErr), errors.As(err, &actionErr):
		respondError(w, reqID, http.StatusBadGateway, &model.APIError{Code: model.ErrScheduler, Message: err.Error()})
	default:
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
	}
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		Status:     "ok",
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
