package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/me/htjob/pkg/model"
)

// requestLogs decodes the "request" lines of a JSON log, keyed by path.
func requestLogs(t *testing.T, buf *bytes.Buffer) map[string]map[string]any {
	t.Helper()
	out := make(map[string]map[string]any)
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if line["msg"] == "request" {
			out[line["path"].(string)] = line
		}
	}
	return out
}

func TestLoggingMiddleware_JobFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := New(newRuntime(t, t.TempDir(), &mockScheduler{}), logger)

	rec := createJob(t, srv, execBody)
	doGet(t, srv, "/api/v1/jobs/"+rec.ID)
	doGet(t, srv, "/api/v1/health")

	logs := requestLogs(t, &buf)

	get := logs["/api/v1/jobs/"+rec.ID]
	if get == nil {
		t.Fatalf("no request line for GET job; logs: %v", logs)
	}
	if get["job"] != rec.ID {
		t.Errorf("job = %v, want %s", get["job"], rec.ID)
	}
	if get["route"] != "/api/v1/jobs/{id}" {
		t.Errorf("route = %v", get["route"])
	}
	if get["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", get["level"])
	}

	health := logs["/api/v1/health"]
	if health == nil {
		t.Fatal("no request line for health")
	}
	if health["level"] != "DEBUG" {
		t.Errorf("health level = %v, want DEBUG", health["level"])
	}
	if _, ok := health["job"]; ok {
		t.Error("health request should carry no job field")
	}
}

func TestRespondJobError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   model.ErrorCode
	}{
		{"not submitted", &model.ActionError{JobID: "j", Action: "hold", Err: model.ErrNotSubmitted}, http.StatusConflict, model.ErrConflict},
		{"not ready", &model.NotReadyError{JobID: "j", State: model.JobStateRunning}, http.StatusConflict, model.ErrNotReady},
		{"submit refused", &model.SubmissionError{JobID: "j", Err: errors.New("schedd down")}, http.StatusBadGateway, model.ErrScheduler},
		{"action refused", &model.ActionError{JobID: "j", Action: "rm", Err: errors.New("no such job")}, http.StatusBadGateway, model.ErrScheduler},
		{"other", errors.New("disk full"), http.StatusInternalServerError, model.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			respondJobError(w, "req_test", tt.err)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var env envelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if env.Status != "error" || env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("envelope = %+v, want code %s", env, tt.wantCode)
			}
		})
	}
}
