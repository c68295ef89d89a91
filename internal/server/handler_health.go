package server

import (
	"net/http"
	"runtime"
	"time"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

type healthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	GoVersion    string `json:"go_version"`
	Uptime       string `json:"uptime"`
	Scheduler    string `json:"scheduler"`
	Store        string `json:"store"`
	TrackedJobs  int    `json:"tracked_jobs"`
	PollInterval string `json:"poll_interval"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	storeStatus := "none"
	if s.store != nil {
		storeStatus = "sqlite"
	}
	respondOK(w, reqID, healthResponse{
		Status:       "healthy",
		Version:      Version,
		GoVersion:    runtime.Version(),
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		Scheduler:    s.rt.Scheduler().Name(),
		Store:        storeStatus,
		TrackedJobs:  s.rt.Registry().Len(),
		PollInterval: s.rt.Config().PollInterval.String(),
	})
}
