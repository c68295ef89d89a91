package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "htjob API",
		Version:     "v1",
		Description: "Batch scheduler job tracking: submit, watch and control jobs",
		Endpoints: []endpointInfo{
			{"/api/v1/jobs", []string{"GET", "POST"}, "List tracked jobs or create and submit one"},
			{"/api/v1/jobs/{id}", []string{"GET", "DELETE"}, "Job snapshot, or stop tracking a job"},
			{"/api/v1/jobs/{id}/outputs", []string{"GET"}, "Output file paths"},
			{"/api/v1/jobs/{id}/hold", []string{"POST"}, "Hold the job in the scheduler"},
			{"/api/v1/jobs/{id}/release", []string{"POST"}, "Release a held job"},
			{"/api/v1/jobs/{id}/remove", []string{"POST"}, "Remove the job from the scheduler"},
			{"/api/v1/sse/jobs/{id}", []string{"GET"}, "Stream state changes as Server-Sent Events"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
