package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleSSEJob streams job snapshots via Server-Sent Events: "init" on
// connect, "update" on every state change and "complete" once the job is
// terminal.
// GET /api/v1/sse/jobs/{id}
func (s *Server) handleSSEJob(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookupHandle(w, r)
	if !ok {
		return
	}
	id := h.ID()

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the first snapshot so no transition is missed.
	changed := h.Changed()
	rec := h.Record()
	if err := sendSSEEvent(w, flusher, "init", rec); err != nil {
		s.logger.Debug("sse client disconnected", "id", id, "error", err)
		return
	}
	if rec.State.IsTerminal() {
		sendSSEEvent(w, flusher, "complete", rec)
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-changed:
			changed = h.Changed()
			rec = h.Record()
			if err := sendSSEEvent(w, flusher, "update", rec); err != nil {
				s.logger.Debug("sse client disconnected", "id", id)
				return
			}
			if rec.State.IsTerminal() {
				sendSSEEvent(w, flusher, "complete", rec)
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
