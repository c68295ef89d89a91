package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/me/htjob/internal/job"
	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/pkg/model"
)

// createJobRequest is the body of POST /api/v1/jobs. Payload carries the
// fields of the payload kind, e.g. {"executable": "/bin/echo",
// "arguments": ["hi"]} or {"function": {"kind": "func", "name": "wc"},
// "input_file": "in.txt"}.
type createJobRequest struct {
	Kind    model.PayloadKind `json:"kind"`
	Payload map[string]any    `json:"payload"`
	Submit  *bool             `json:"submit,omitempty"` // defaults to true
}

type outputsResponse struct {
	ID    string         `json:"id"`
	State model.JobState `json:"state"`
	Files []string       `json:"files"`
}

// handleListJobs lists jobs from the journal, or from the server's live
// handles when no journal is configured.
// GET /api/v1/jobs?state=&limit=&offset=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	var (
		recs  []*model.JobRecord
		total int
		err   error
	)
	if s.store != nil {
		recs, total, err = s.store.ListJobs(r.Context(), opts)
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
	} else {
		recs, total = s.listPinned(opts)
	}
	respondJobs(w, reqID, recs, total, opts)
}

func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, model.NewValidationError("invalid query", model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, model.NewValidationError("invalid query", model.FieldError{Field: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if v := q.Get("state"); v != "" {
		st := model.JobState(strings.ToUpper(v))
		if !st.Valid() {
			return opts, model.NewValidationError("invalid query", model.FieldError{Field: "state", Message: "unknown job state " + v})
		}
		opts.State = st
	}
	opts.Clamp()
	return opts, nil
}

// listPinned pages over the server's handles, newest first.
func (s *Server) listPinned(opts model.ListOptions) ([]*model.JobRecord, int) {
	var all []*model.JobRecord
	for _, h := range s.pinned() {
		rec := h.Record()
		if !opts.Matches(&rec) {
			continue
		}
		all = append(all, &rec)
	}
	slices.SortFunc(all, func(a, b *model.JobRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	total := len(all)
	if opts.Offset >= total {
		return nil, total
	}
	end := min(opts.Offset+opts.Limit, total)
	return all[opts.Offset:end], total
}

// handleCreateJob creates a job and, unless submit is false, submits it.
// POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if req.Kind == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid job",
			model.FieldError{Field: "kind", Message: "kind is required"}))
		return
	}
	p, err := job.PayloadFromRecord(req.Kind, req.Payload)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	h, err := s.rt.New(p)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	s.pin(h)

	if req.Submit == nil || *req.Submit {
		if err := h.Submit(r.Context()); err != nil {
			s.logger.Warn("submit failed", "id", h.ID(), "error", err)
			respondJobError(w, reqID, err)
			return
		}
	}

	respondCreated(w, reqID, h.Record())
}

// handleGetJob returns the current snapshot of a job.
// GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookupHandle(w, r)
	if !ok {
		return
	}
	respondOK(w, RequestIDFromContext(r.Context()), h.Record())
}

// handleDeleteJob stops tracking a job and drops it from the journal. The
// scheduler job is left alone; use /remove for that.
// DELETE /api/v1/jobs/{id}
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())

	found := false
	h := s.unpin(id)
	if h == nil {
		h = s.rt.Lookup(id)
	}
	if h != nil {
		found = true
		h.Close()
	}
	if s.store != nil {
		rec, err := s.store.GetJob(r.Context(), id)
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
		if rec != nil {
			found = true
			if err := s.store.DeleteJob(r.Context(), id); err != nil {
				respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
				return
			}
		}
	}
	if !found {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", id))
		return
	}

	s.logger.Info("job deleted", "id", id)
	respondOK(w, reqID, map[string]any{"id": id, "deleted": true})
}

// handleGetOutputs lists a job's output files.
// GET /api/v1/jobs/{id}/outputs
func (s *Server) handleGetOutputs(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookupHandle(w, r)
	if !ok {
		return
	}
	reqID := RequestIDFromContext(r.Context())

	files, err := h.OutputFiles()
	if err != nil {
		respondJobError(w, reqID, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	respondOK(w, reqID, outputsResponse{ID: h.ID(), State: h.State(), Files: files})
}

// handleAction applies a scheduler action to one job.
// POST /api/v1/jobs/{id}/{hold|release|remove}
func (s *Server) handleAction(action schedd.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := s.lookupHandle(w, r)
		if !ok {
			return
		}
		reqID := RequestIDFromContext(r.Context())

		var err error
		switch action {
		case schedd.ActionHold:
			err = h.Hold(r.Context())
		case schedd.ActionRelease:
			err = h.Release(r.Context())
		case schedd.ActionRemove:
			err = h.Remove(r.Context())
		}
		if err != nil {
			respondJobError(w, reqID, err)
			return
		}

		s.logger.Info("action applied", "id", h.ID(), "action", action.String())
		respondOK(w, reqID, h.Record())
	}
}

// lookupHandle resolves the {id} URL parameter, writing a 404 or 500 and
// returning false when no handle is available.
func (s *Server) lookupHandle(w http.ResponseWriter, r *http.Request) (*job.Handle, bool) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())

	h, err := s.handle(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return nil, false
	}
	if h == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", id))
		return nil, false
	}
	return h, true
}
