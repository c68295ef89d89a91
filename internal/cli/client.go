package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/me/htjob/internal/job"
	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/pkg/model"
)

// Client is an HTTP client for the htjob API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates an htjob API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	}
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// do performs an HTTP request and returns the parsed envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	endpoint := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		c.Logger.Debug("HTTP request body", "body", string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.Logger.Debug("HTTP request", "method", method, "url", endpoint)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.Logger.Debug("HTTP response", "status", resp.StatusCode, "body", string(respBody))

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w\nbody: %s", resp.StatusCode, err, string(respBody))
	}

	if apiResp.Status == "error" && apiResp.Error != nil {
		return &apiResp, apiResp.Error
	}

	return &apiResp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*apiResponse, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*apiResponse, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*apiResponse, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// remoteBackend drives an htjob-server.
type remoteBackend struct {
	client   *Client
	interval time.Duration
}

func newRemoteBackend(baseURL string, interval time.Duration, logger *slog.Logger) *remoteBackend {
	if interval < 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	return &remoteBackend{client: NewClient(baseURL, logger), interval: interval}
}

func jobPath(id string) string {
	return "/api/v1/jobs/" + url.PathEscape(id)
}

func decodeRecord(resp *apiResponse) (*model.JobRecord, error) {
	var rec model.JobRecord
	if err := json.Unmarshal(resp.Data, &rec); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &rec, nil
}

func (b *remoteBackend) Create(ctx context.Context, p job.Payload, submit bool) (*model.JobRecord, error) {
	resp, err := b.client.Post(ctx, "/api/v1/jobs", map[string]any{
		"kind":    p.Kind(),
		"payload": p,
		"submit":  submit,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return decodeRecord(resp)
}

func (b *remoteBackend) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	resp, err := b.client.Get(ctx, jobPath(id))
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp)
}

func (b *remoteBackend) List(ctx context.Context, opts model.ListOptions) ([]*model.JobRecord, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	q.Set("offset", strconv.Itoa(opts.Offset))
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	resp, err := b.client.Get(ctx, "/api/v1/jobs?"+q.Encode())
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	var recs []*model.JobRecord
	if err := json.Unmarshal(resp.Data, &recs); err != nil {
		return nil, 0, fmt.Errorf("parse response: %w", err)
	}
	total := len(recs)
	if resp.Pagination != nil {
		total = resp.Pagination.Total
	}
	return recs, total, nil
}

// Act applies action to every id in order, continuing past failures.
func (b *remoteBackend) Act(ctx context.Context, action schedd.Action, ids []string) ([]*model.JobRecord, error) {
	var (
		recs []*model.JobRecord
		errs []error
	)
	for _, id := range ids {
		resp, err := b.client.Post(ctx, jobPath(id)+"/"+action.String(), nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", id, err))
			continue
		}
		rec, err := decodeRecord(resp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, errors.Join(errs...)
}

func (b *remoteBackend) Outputs(ctx context.Context, id string) ([]string, error) {
	resp, err := b.client.Get(ctx, jobPath(id)+"/outputs")
	if err != nil {
		return nil, err
	}
	var out struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return out.Files, nil
}

// Wait polls each job until it reaches one of states.
func (b *remoteBackend) Wait(ctx context.Context, ids []string, states []model.JobState) ([]*model.JobRecord, error) {
	recs := make([]*model.JobRecord, len(ids))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		done := true
		for i, id := range ids {
			if recs[i] != nil && matchState(recs[i].State, states) {
				continue
			}
			rec, err := b.Get(ctx, id)
			if err != nil {
				return recs, fmt.Errorf("job %s: %w", id, err)
			}
			recs[i] = rec
			if !matchState(rec.State, states) {
				done = false
			}
		}
		if done {
			return recs, nil
		}
		select {
		case <-ctx.Done():
			return recs, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *remoteBackend) Forget(ctx context.Context, id string) error {
	_, err := b.client.Delete(ctx, jobPath(id))
	return err
}

func (b *remoteBackend) Close() error {
	return nil
}
