package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sparkq/sparkq/internal/errs"
)

// restClient is the thin HTTP client every sparkq subcommand shares. It
// never touches the store directly, so sparkq can run against a remote
// daemon exactly as sparkq-runner does.
type restClient struct {
	baseURL string
	http    *http.Client
}

func newRESTClient(baseURL string) *restClient {
	return &restClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

type apiErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *restClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach sparkq daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env apiErrorBody
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

func (c *restClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *restClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *restClient) put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
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
