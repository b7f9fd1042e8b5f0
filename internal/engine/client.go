package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Config holds connection settings for the remote research engine.
type Config struct {
	BaseURL        string
	AuthToken      string
	RequestTimeout time.Duration
	Retries        int
	Backoff        time.Duration
}

// Client talks to a LangGraph-style research engine over HTTP. Transport
// and HTTP-status failures are converted to error values here; nothing
// escapes this boundary as a raw panic or swallowed status. Idempotent
// calls retry with backoff, run submission never does (each submission
// starts a new compute-bearing run).
type Client struct {
	base   string
	token  string
	http   *httpClient // bounded retry, idempotent calls only
	submit *httpClient // no retry
}

// New builds a client. RequestTimeout bounds each individual call and is
// deliberately much shorter than any research deadline.
func New(cfg Config) *Client {
	retries := cfg.Retries
	if retries == 0 {
		retries = 2
	}
	return &Client{
		base:   cfg.BaseURL,
		token:  cfg.AuthToken,
		http:   newHTTPClient(cfg.RequestTimeout, retries, cfg.Backoff),
		submit: newHTTPClient(cfg.RequestTimeout, 0, cfg.Backoff),
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token}
}

// Health reports whether the engine answers its liveness probe with a
// success status. Probe failures are not errors, just "not up".
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/docs", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// CreateThread allocates a new empty conversation context.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.http.doJSON(ctx, http.MethodPost, c.base+"/threads", c.headers(), map[string]any{}, &out); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if out.ThreadID == "" {
		return "", fmt.Errorf("create thread: engine returned no thread_id")
	}
	return out.ThreadID, nil
}

// SearchAssistants lists assistants registered with the engine.
func (c *Client) SearchAssistants(ctx context.Context) ([]Assistant, error) {
	var out []Assistant
	if err := c.http.doJSON(ctx, http.MethodPost, c.base+"/assistants/search", c.headers(), map[string]any{}, &out); err != nil {
		return nil, fmt.Errorf("search assistants: %w", err)
	}
	return out, nil
}

// CreateAssistant registers a new assistant for the given graph.
func (c *Client) CreateAssistant(ctx context.Context, graphID, name string) (string, error) {
	payload := map[string]any{"graph_id": graphID, "name": name}
	var out struct {
		AssistantID string `json:"assistant_id"`
	}
	if err := c.http.doJSON(ctx, http.MethodPost, c.base+"/assistants", c.headers(), payload, &out); err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	if out.AssistantID == "" {
		return "", fmt.Errorf("create assistant: engine returned no assistant_id")
	}
	return out.AssistantID, nil
}

// SubmitRun posts a user message as a new run on the thread. Never retried:
// a failed submission is reported to the caller, who owns the retry policy.
func (c *Client) SubmitRun(ctx context.Context, threadID, assistantID, message string, opts *RunOptions) (string, error) {
	payload := map[string]any{
		"assistant_id": assistantID,
		"input": map[string]any{
			"messages": []map[string]any{{"role": "user", "content": message}},
		},
	}
	if opts != nil {
		payload["config"] = map[string]any{
			"configurable": map[string]any{"allow_clarification": opts.AllowClarification},
		}
	}
	var out struct {
		RunID string `json:"run_id"`
	}
	u := fmt.Sprintf("%s/threads/%s/runs", c.base, url.PathEscape(threadID))
	if err := c.submit.doJSON(ctx, http.MethodPost, u, c.headers(), payload, &out); err != nil {
		return "", fmt.Errorf("submit run: %w", err)
	}
	if out.RunID == "" {
		return "", fmt.Errorf("submit run: engine returned no run_id")
	}
	return out.RunID, nil
}

// RunStatus fetches the current status of a run.
func (c *Client) RunStatus(ctx context.Context, threadID, runID string) (RunStatus, error) {
	var out struct {
		Status RunStatus `json:"status"`
	}
	u := fmt.Sprintf("%s/threads/%s/runs/%s", c.base, url.PathEscape(threadID), url.PathEscape(runID))
	if err := c.http.doJSON(ctx, http.MethodGet, u, c.headers(), nil, &out); err != nil {
		return "", fmt.Errorf("run status: %w", err)
	}
	return out.Status, nil
}

// ThreadState fetches the materialized conversation values for a thread.
func (c *Client) ThreadState(ctx context.Context, threadID string) (*ThreadState, error) {
	var out ThreadState
	u := fmt.Sprintf("%s/threads/%s/state", c.base, url.PathEscape(threadID))
	if err := c.http.doJSON(ctx, http.MethodGet, u, c.headers(), nil, &out); err != nil {
		return nil, fmt.Errorf("thread state: %w", err)
	}
	return &out, nil
}
