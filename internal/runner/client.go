package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/errs"
)

// Client is a thin REST client the runner uses to talk to a sparkq daemon.
// It never touches the store directly, matching the CLI's own client shape.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type pageEnvelope struct {
	Items []*db.Task `json:"items"`
}

// PeekOldest returns the oldest queued task for queueID, or nil if none.
func (c *Client) PeekOldest(ctx context.Context, queueID string) (*db.Task, error) {
	url := fmt.Sprintf("%s/api/tasks?queue_id=%s&status=queued&limit=1&sort_by=created_at&sort_dir=asc", c.baseURL, queueID)
	var page pageEnvelope
	if err := c.do(ctx, http.MethodGet, url, nil, &page); err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	return page.Items[0], nil
}

// Claim attempts to claim the oldest queued task on queueID.
func (c *Client) Claim(ctx context.Context, queueID string) (*db.Task, error) {
	url := fmt.Sprintf("%s/api/tasks/%s/claim", c.baseURL, queueID)
	var t db.Task
	if err := c.do(ctx, http.MethodPost, url, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

type completeRequest struct {
	Result json.RawMessage `json:"result"`
	Stdout string          `json:"stdout"`
	Stderr string          `json:"stderr"`
}

func (c *Client) Complete(ctx context.Context, taskID string, result json.RawMessage, stdout, stderr string) (*db.Task, error) {
	url := fmt.Sprintf("%s/api/tasks/%s/complete", c.baseURL, taskID)
	var t db.Task
	if err := c.do(ctx, http.MethodPost, url, completeRequest{Result: result, Stdout: stdout, Stderr: stderr}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

type failRequest struct {
	Error  string `json:"error"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

func (c *Client) Fail(ctx context.Context, taskID string, errMsg, stdout, stderr string) (*db.Task, error) {
	url := fmt.Sprintf("%s/api/tasks/%s/fail", c.baseURL, taskID)
	var t db.Task
	if err := c.do(ctx, http.MethodPost, url, failRequest{Error: errMsg, Stdout: stdout, Stderr: stderr}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do performs one request/response round trip, decoding the sparkq error
// envelope into a tagged *errs.Error on non-2xx so callers can branch on
// errs.KindOf the same way an in-process caller would.
func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling sparkq: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		_ = json.Unmarshal(respBody, &env)
		return &errs.Error{Kind: kindForStatus(resp.StatusCode), Code: env.Code, Message: env.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func kindForStatus(status int) errs.Kind {
	switch status {
	case http.StatusBadRequest:
		return errs.Validation
	case http.StatusNotFound:
		return errs.NotFound
	case http.StatusConflict:
		return errs.Conflict
	case http.StatusServiceUnavailable:
		return errs.Busy
	default:
		return errs.Internal
	}
}
