package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/htjob/internal/eventlog"
	"github.com/me/htjob/internal/job"
	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/internal/store"
	"github.com/me/htjob/pkg/model"
)

// mockScheduler records submissions and actions.
type mockScheduler struct {
	mu          sync.Mutex
	next        int
	submissions int
	constraints []string
	submitErr   error
	actErr      error
}

func (m *mockScheduler) Name() string { return "mock" }

func (m *mockScheduler) Submit(_ context.Context, _ *schedd.Description) (model.JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return model.JobID{}, m.submitErr
	}
	m.next++
	m.submissions++
	return model.JobID{Cluster: m.next}, nil
}

func (m *mockScheduler) Act(_ context.Context, action schedd.Action, constraint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actErr != nil {
		return m.actErr
	}
	m.constraints = append(m.constraints, action.String()+" "+constraint)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newRuntime(t *testing.T, workDir string, sched schedd.Scheduler, opts ...job.Option) *job.Runtime {
	t.Helper()
	return job.NewRuntime(job.Config{
		WorkDir:      workDir,
		PollInterval: 10 * time.Millisecond,
		RunnerPath:   "/opt/htjob/bin/htjob-run",
	}, sched, discardLogger(), opts...)
}

func testServer(t *testing.T) (*Server, *mockScheduler) {
	t.Helper()
	sched := &mockScheduler{}
	rt := newRuntime(t, t.TempDir(), sched)
	return New(rt, discardLogger()), sched
}

func newMemoryStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", discardLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv http.Handler, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func doGet(t *testing.T, srv http.Handler, path string) envelope {
	t.Helper()
	return do(t, srv, http.MethodGet, path, "", http.StatusOK)
}

func decodeRecord(t *testing.T, env envelope) model.JobRecord {
	t.Helper()
	var rec model.JobRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return rec
}

const execBody = `{"kind":"executable","payload":{"executable":"/bin/true","output_files":["out.txt"]}}`

func createJob(t *testing.T, srv http.Handler, body string) model.JobRecord {
	t.Helper()
	return decodeRecord(t, do(t, srv, http.MethodPost, "/api/v1/jobs", body, http.StatusCreated))
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Name != "htjob API" {
		t.Errorf("name = %q, want htjob API", data.Name)
	}
	if len(data.Endpoints) < 8 {
		t.Errorf("endpoints count = %d, want >= 8", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/health")

	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" {
		t.Errorf("status = %q, want healthy", data.Status)
	}
	if data.Scheduler != "mock" {
		t.Errorf("scheduler = %q, want mock", data.Scheduler)
	}
	if data.Store != "none" {
		t.Errorf("store = %q, want none", data.Store)
	}
	if data.GoVersion == "" {
		t.Error("go_version is empty")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if id := w.Header().Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Errorf("X-Request-ID = %q, want req_ prefix", id)
	}
}

func TestCreateJob_Submits(t *testing.T) {
	srv, sched := testServer(t)
	rec := createJob(t, srv, execBody)

	if rec.ID == "" {
		t.Fatal("id is empty")
	}
	if rec.Kind != model.PayloadExecutable {
		t.Errorf("kind = %q", rec.Kind)
	}
	if rec.State != model.JobStateUnsubmitted {
		t.Errorf("state = %s, want UNSUBMITTED until the log says otherwise", rec.State)
	}
	if rec.SchedulerID == nil || rec.SchedulerID.Cluster != 1 {
		t.Errorf("scheduler_id = %v, want 1.0", rec.SchedulerID)
	}
	if sched.submissions != 1 {
		t.Errorf("submissions = %d, want 1", sched.submissions)
	}
}

func TestCreateJob_WithoutSubmit(t *testing.T) {
	srv, sched := testServer(t)
	rec := createJob(t, srv, `{"kind":"executable","submit":false,"payload":{"executable":"/bin/true"}}`)
	if rec.SchedulerID != nil {
		t.Errorf("scheduler_id = %v, want none", rec.SchedulerID)
	}
	if sched.submissions != 0 {
		t.Errorf("submissions = %d, want 0", sched.submissions)
	}
}

func TestCreateJob_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"kind":`},
		{"missing kind", `{"payload":{"executable":"/bin/true"}}`},
		{"unknown kind", `{"kind":"container","payload":{}}`},
		{"no executable", `{"kind":"executable","payload":{}}`},
		{"callable without input", `{"kind":"callable","payload":{"function":{"kind":"func","name":"wc"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := do(t, srv, http.MethodPost, "/api/v1/jobs", tt.body, http.StatusBadRequest)
			if env.Error == nil || env.Error.Code != model.ErrValidation {
				t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
			}
		})
	}
}

func TestCreateJob_SchedulerError(t *testing.T) {
	srv, sched := testServer(t)
	sched.submitErr = errors.New("schedd unreachable")

	env := do(t, srv, http.MethodPost, "/api/v1/jobs", execBody, http.StatusBadGateway)
	if env.Error == nil || env.Error.Code != model.ErrScheduler {
		t.Fatalf("error = %+v, want SCHEDULER_ERROR", env.Error)
	}
	if !strings.Contains(env.Error.Message, "schedd unreachable") {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestGetJob(t *testing.T) {
	srv, _ := testServer(t)
	created := createJob(t, srv, execBody)

	got := decodeRecord(t, doGet(t, srv, "/api/v1/jobs/"+created.ID))
	if got.ID != created.ID {
		t.Errorf("id = %q, want %q", got.ID, created.ID)
	}

	env := do(t, srv, http.MethodGet, "/api/v1/jobs/nope", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", env.Error)
	}
}

func TestGetJob_FollowsEventLog(t *testing.T) {
	sched := &mockScheduler{}
	rt := newRuntime(t, t.TempDir(), sched)
	srv := New(rt, discardLogger())
	rec := createJob(t, srv, execBody)

	w := eventlog.NewWriter(rec.LogPath)
	w.Append(eventlog.SubmitEvent(*rec.SchedulerID, "schedd"))
	w.Append(eventlog.HeldEvent(*rec.SchedulerID, "disk quota exceeded"))
	if err := rt.Poller().Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got := decodeRecord(t, doGet(t, srv, "/api/v1/jobs/"+rec.ID))
	if got.State != model.JobStateHeld {
		t.Errorf("state = %s, want HELD", got.State)
	}
	if got.HoldReason != "disk quota exceeded" {
		t.Errorf("hold_reason = %q", got.HoldReason)
	}
}

func TestListJobs(t *testing.T) {
	srv, _ := testServer(t)
	for i := 0; i < 3; i++ {
		createJob(t, srv, execBody)
	}

	env := doGet(t, srv, "/api/v1/jobs?limit=2")
	var recs []model.JobRecord
	json.Unmarshal(env.Data, &recs)
	if len(recs) != 2 {
		t.Errorf("len = %d, want 2", len(recs))
	}
	if env.Pagination == nil || env.Pagination.Total != 3 || !env.Pagination.HasMore {
		t.Errorf("pagination = %+v, want total 3 with more", env.Pagination)
	}

	env = doGet(t, srv, "/api/v1/jobs?state=held")
	recs = nil
	json.Unmarshal(env.Data, &recs)
	if len(recs) != 0 {
		t.Errorf("held jobs = %d, want 0", len(recs))
	}

	do(t, srv, http.MethodGet, "/api/v1/jobs?state=bogus", "", http.StatusBadRequest)
	do(t, srv, http.MethodGet, "/api/v1/jobs?limit=x", "", http.StatusBadRequest)
}

func TestListJobs_FromStore(t *testing.T) {
	st := newMemoryStore(t)
	rt := newRuntime(t, t.TempDir(), &mockScheduler{}, job.WithObserver(st))
	srv := New(rt, discardLogger(), WithStore(st))

	for i := 0; i < 2; i++ {
		createJob(t, srv, execBody)
	}
	env := doGet(t, srv, "/api/v1/jobs")
	if env.Pagination == nil || env.Pagination.Total != 2 {
		t.Errorf("pagination = %+v, want total 2", env.Pagination)
	}
	var recs []model.JobRecord
	json.Unmarshal(env.Data, &recs)
	for _, rec := range recs {
		if rec.SchedulerID == nil {
			t.Errorf("job %s journaled without scheduler id", rec.ID)
		}
	}
}

func TestGetJob_ReattachesFromStore(t *testing.T) {
	st := newMemoryStore(t)
	workDir := t.TempDir()
	first := New(newRuntime(t, workDir, &mockScheduler{}, job.WithObserver(st)), discardLogger(), WithStore(st))
	rec := createJob(t, first, execBody)

	w := eventlog.NewWriter(rec.LogPath)
	w.Append(eventlog.SubmitEvent(*rec.SchedulerID, "schedd"))
	w.Append(eventlog.ExecuteEvent(*rec.SchedulerID, "slot1@worker"))

	// A fresh process with the same journal.
	rt := newRuntime(t, workDir, &mockScheduler{}, job.WithObserver(st))
	second := New(rt, discardLogger(), WithStore(st))
	got := decodeRecord(t, doGet(t, second, "/api/v1/jobs/"+rec.ID))
	if got.SchedulerID == nil || *got.SchedulerID != *rec.SchedulerID {
		t.Errorf("scheduler_id = %v, want %v", got.SchedulerID, rec.SchedulerID)
	}

	if err := rt.Poller().Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got = decodeRecord(t, doGet(t, second, "/api/v1/jobs/"+rec.ID))
	if got.State != model.JobStateRunning {
		t.Errorf("state = %s, want RUNNING after replay", got.State)
	}
}

func TestResume(t *testing.T) {
	st := newMemoryStore(t)
	workDir := t.TempDir()
	first := New(newRuntime(t, workDir, &mockScheduler{}, job.WithObserver(st)), discardLogger(), WithStore(st))
	live := createJob(t, first, execBody)
	done := createJob(t, first, execBody)

	done.State = model.JobStateCompleted
	if err := st.UpsertJob(context.Background(), &done); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	rt := newRuntime(t, workDir, &mockScheduler{})
	second := New(rt, discardLogger(), WithStore(st))
	n, err := second.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if n != 1 {
		t.Errorf("resumed = %d, want 1", n)
	}
	if rt.Lookup(live.ID) == nil {
		t.Error("live job was not re-attached")
	}
	if rt.Lookup(done.ID) != nil {
		t.Error("completed job was re-attached")
	}
}

func TestJobActions(t *testing.T) {
	srv, sched := testServer(t)
	rec := createJob(t, srv, execBody)

	for _, action := range []string{"hold", "release", "remove"} {
		do(t, srv, http.MethodPost, "/api/v1/jobs/"+rec.ID+"/"+action, "", http.StatusOK)
	}
	want := []string{
		"hold (ClusterId == 1 && ProcId == 0)",
		"release (ClusterId == 1 && ProcId == 0)",
		"remove (ClusterId == 1 && ProcId == 0)",
	}
	if len(sched.constraints) != len(want) {
		t.Fatalf("acts = %v, want %v", sched.constraints, want)
	}
	for i := range want {
		if sched.constraints[i] != want[i] {
			t.Errorf("act[%d] = %q, want %q", i, sched.constraints[i], want[i])
		}
	}

	do(t, srv, http.MethodPost, "/api/v1/jobs/nope/hold", "", http.StatusNotFound)
}

func TestJobActions_Errors(t *testing.T) {
	srv, sched := testServer(t)

	unsubmitted := createJob(t, srv, `{"kind":"executable","submit":false,"payload":{"executable":"/bin/true"}}`)
	env := do(t, srv, http.MethodPost, "/api/v1/jobs/"+unsubmitted.ID+"/hold", "", http.StatusConflict)
	if env.Error == nil || env.Error.Code != model.ErrConflict {
		t.Errorf("error = %+v, want CONFLICT", env.Error)
	}

	submitted := createJob(t, srv, execBody)
	sched.actErr = errors.New("job not found in queue")
	env = do(t, srv, http.MethodPost, "/api/v1/jobs/"+submitted.ID+"/release", "", http.StatusBadGateway)
	if env.Error == nil || env.Error.Code != model.ErrScheduler {
		t.Errorf("error = %+v, want SCHEDULER_ERROR", env.Error)
	}
}

func TestGetOutputs(t *testing.T) {
	srv, _ := testServer(t)

	exec := createJob(t, srv, execBody)
	env := doGet(t, srv, "/api/v1/jobs/"+exec.ID+"/outputs")
	var out outputsResponse
	json.Unmarshal(env.Data, &out)
	if len(out.Files) != 1 || !strings.HasSuffix(out.Files[0], "/out.txt") {
		t.Errorf("files = %v, want [.../out.txt]", out.Files)
	}

	callable := createJob(t, srv, `{"kind":"callable","submit":false,"payload":{"function":{"kind":"func","name":"wc"},"input_file":"in.txt"}}`)
	env = do(t, srv, http.MethodGet, "/api/v1/jobs/"+callable.ID+"/outputs", "", http.StatusConflict)
	if env.Error == nil || env.Error.Code != model.ErrNotReady {
		t.Errorf("error = %+v, want NOT_READY", env.Error)
	}
}

func TestDeleteJob(t *testing.T) {
	st := newMemoryStore(t)
	rt := newRuntime(t, t.TempDir(), &mockScheduler{}, job.WithObserver(st))
	srv := New(rt, discardLogger(), WithStore(st))
	rec := createJob(t, srv, execBody)

	do(t, srv, http.MethodDelete, "/api/v1/jobs/"+rec.ID, "", http.StatusOK)
	if rt.Lookup(rec.ID) != nil {
		t.Error("handle still registered after delete")
	}
	got, err := st.GetJob(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Error("record still journaled after delete")
	}

	do(t, srv, http.MethodGet, "/api/v1/jobs/"+rec.ID, "", http.StatusNotFound)
	do(t, srv, http.MethodDelete, "/api/v1/jobs/"+rec.ID, "", http.StatusNotFound)
}

func TestMetricsRoute(t *testing.T) {
	sched := &mockScheduler{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "htjob_poller_cycles_total 1\n")
	})
	srv := New(newRuntime(t, t.TempDir(), sched), discardLogger(), WithMetricsHandler(metrics))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "htjob_poller_cycles_total") {
		t.Errorf("GET /metrics: status=%d body=%q", w.Code, w.Body.String())
	}
}

// readSSEEvent returns the next named event, skipping comments.
func readSSEEvent(t *testing.T, rd *bufio.Reader) (event string, data string) {
	t.Helper()
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read SSE stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestSSEJob(t *testing.T) {
	sched := &mockScheduler{}
	rt := newRuntime(t, t.TempDir(), sched)
	srv := New(rt, discardLogger(), WithHeartbeat(20*time.Millisecond))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	rec := createJob(t, srv, execBody)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(ts.URL + "/api/v1/sse/jobs/" + rec.ID)
	if err != nil {
		t.Fatalf("GET sse: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	if ev, _ := readSSEEvent(t, rd); ev != "init" {
		t.Fatalf("first event = %q, want init", ev)
	}

	w := eventlog.NewWriter(rec.LogPath)
	w.Append(eventlog.SubmitEvent(*rec.SchedulerID, "schedd"))
	w.Append(eventlog.ExecuteEvent(*rec.SchedulerID, "slot1@worker"))
	w.Append(eventlog.TerminatedEvent(*rec.SchedulerID, 0))
	if err := rt.Poller().Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	for {
		ev, data := readSSEEvent(t, rd)
		if ev == "update" {
			continue
		}
		if ev != "complete" {
			t.Fatalf("event = %q, want update or complete", ev)
		}
		var got model.JobRecord
		if err := json.Unmarshal([]byte(data), &got); err != nil {
			t.Fatalf("decode complete payload: %v", err)
		}
		if got.State != model.JobStateCompleted {
			t.Errorf("state = %s, want COMPLETED", got.State)
		}
		return
	}
}

func TestSSEJob_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, http.MethodGet, "/api/v1/sse/jobs/nope", "", http.StatusNotFound)
}
