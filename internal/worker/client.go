// Package worker is the Worker Pool Runtime (§4.3): a long-running process
// that registers itself, leases queue jobs over HTTP, dispatches each job's
// tool to an executor.Registry, and reports outcomes back as events. It
// never touches the queue or event store directly -- the server process is
// the only thing that talks to Postgres for this data, which is why the
// worker is modeled as an HTTP client rather than an in-process caller of
// the engine/queue repos (the spec phrases the worker's operations as HTTP
// calls: "send worker_pool/register", "POST /worker/pool/heartbeat").
//
// Grounded on the teacher's internal/jobs/worker/worker.go Worker/NewWorker/
// Start/runLoop/startHeartbeat shape, adapted from an in-process DB-claim
// loop to an HTTP lease loop, and on internal/jobs/runtime/registry.go's
// dispatch-by-kind pattern (here: executor.Registry).
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noetl/core/internal/domain/noetl"
)

// Client is the thin HTTP binding for the server endpoints a worker calls
// (§6). It carries no state beyond the base URL and an *http.Client.
type Client struct {
	BaseURL    string
	HTTP       *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{BaseURL: baseURL, HTTP: httpClient}
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("worker: encode request for %s: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("worker: %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker: %s: status %d: %s", path, resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) delete(ctx context.Context, path string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("worker: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("worker: %s: status %d: %s", path, resp.StatusCode, string(raw))
	}
	return nil
}

type registerRequest struct {
	Name     string `json:"name"`
	Runtime  string `json:"runtime,omitempty"`
	URI      string `json:"uri,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
	Labels   noetl.Value `json:"labels,omitempty"`
	PID      int    `json:"pid,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

type registerResponse struct {
	WorkerID string `json:"worker_id"`
}

func (c *Client) Register(ctx context.Context, req registerRequest) (string, error) {
	var resp registerResponse
	if err := c.post(ctx, "/worker/pool/register", req, &resp); err != nil {
		return "", err
	}
	return resp.WorkerID, nil
}

func (c *Client) Heartbeat(ctx context.Context, name string) error {
	return c.post(ctx, "/worker/pool/heartbeat", map[string]string{"name": name}, nil)
}

func (c *Client) Deregister(ctx context.Context, name string) error {
	return c.delete(ctx, "/worker/pool/deregister", map[string]string{"name": name})
}

type leaseRequest struct {
	WorkerID         string   `json:"worker_id"`
	Max              int      `json:"max,omitempty"`
	LeaseDurationSec int      `json:"lease_duration_seconds,omitempty"`
	CapabilityFilter []string `json:"capability_filter,omitempty"`
}

type leasedJob struct {
	QueueID     string      `json:"queue_id"`
	ExecutionID string      `json:"execution_id"`
	NodeID      string      `json:"node_id"`
	Action      noetl.Value `json:"action"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	Meta        noetl.Value `json:"meta,omitempty"`
}

type leaseResponse struct {
	Jobs []leasedJob `json:"jobs"`
}

func (c *Client) Lease(ctx context.Context, workerID string, max int, leaseDuration time.Duration, capabilities []string) ([]leasedJob, error) {
	var resp leaseResponse
	err := c.post(ctx, "/queue/lease", leaseRequest{
		WorkerID:         workerID,
		Max:              max,
		LeaseDurationSec: int(leaseDuration / time.Second),
		CapabilityFilter: capabilities,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) Ack(ctx context.Context, queueID string, workerID string, result noetl.Value) error {
	return c.post(ctx, "/queue/"+queueID+"/ack", map[string]interface{}{
		"worker_id": workerID,
		"result":    result.Native(),
	}, nil)
}

type failRequest struct {
	WorkerID          string `json:"worker_id"`
	Retry             bool   `json:"retry,omitempty"`
	RetryDelaySeconds int    `json:"retry_delay_seconds,omitempty"`
	Error             string `json:"error,omitempty"`
	Permanent         bool   `json:"permanent,omitempty"`
}

func (c *Client) Fail(ctx context.Context, queueID string, req failRequest) error {
	return c.post(ctx, "/queue/"+queueID+"/fail", req, nil)
}

func (c *Client) Renew(ctx context.Context, queueID string, workerID string, extension time.Duration) error {
	return c.post(ctx, "/queue/"+queueID+"/renew", map[string]interface{}{
		"worker_id":         workerID,
		"extension_seconds": int(extension / time.Second),
	}, nil)
}

func (c *Client) EmitEvent(ctx context.Context, ev map[string]interface{}) error {
	return c.post(ctx, "/event/emit", ev, nil)
}

func (c *Client) ReportMetrics(ctx context.Context, metrics map[string]interface{}) error {
	return c.post(ctx, "/metrics/report", metrics, nil)
}
