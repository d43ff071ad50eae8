package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/types"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API is the coordinator's worker surface.
type API interface {
	// Poll returns (nil, nil) when there is nothing to claim.
	Poll(ctx context.Context, workerID string, info map[string]any) (*types.Task, error)
	Heartbeat(ctx context.Context, workerID string, info map[string]any) error
	Report(ctx context.Context, taskID string, report types.TaskReport) error
	// Actions drains the decisions queued for the job on behalf of the given claim.
	Actions(ctx context.Context, taskID string, attempt int) ([]types.PendingAction, error)
}

// StatusError is a non-2xx answer from the coordinator.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("coordinator returned %d: %s", e.Code, e.Body)
}

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

var _ API = (*Client)(nil)

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type workerRequest struct {
	WorkerID string         `json:"worker_id"`
	Info     map[string]any `json:"info,omitempty"`
}

func (c *Client) Poll(ctx context.Context, workerID string, info map[string]any) (*types.Task, error) {
	var out struct {
		Task *types.Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/worker/poll", workerRequest{WorkerID: workerID, Info: info}, &out); err != nil {
		return nil, err
	}
	return out.Task, nil
}

func (c *Client) Heartbeat(ctx context.Context, workerID string, info map[string]any) error {
	return c.do(ctx, http.MethodPost, "/api/worker/heartbeat", workerRequest{WorkerID: workerID, Info: info}, nil)
}

func (c *Client) Report(ctx context.Context, taskID string, report types.TaskReport) error {
	return c.do(ctx, http.MethodPost, "/api/worker/tasks/"+url.PathEscape(taskID)+"/report", report, nil)
}

type actionsRequest struct {
	Attempt int `json:"attempt"`
}

func (c *Client) Actions(ctx context.Context, taskID string, attempt int) ([]types.PendingAction, error) {
	var out struct {
		Actions []types.PendingAction `json:"actions"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/worker/tasks/"+url.PathEscape(taskID)+"/actions", actionsRequest{Attempt: attempt}, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// do sends body as JSON and decodes the answer into out. A 204 leaves out untouched.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return custom_errors.ErrUnauthorized
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusConflict:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s", custom_errors.ErrAttemptSuperseded, strings.TrimSpace(string(raw)))
	case resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
