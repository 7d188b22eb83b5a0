// Package backend is the HTTP client for the automation backend service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webtestflow/replayer/internal/models"
)

// StatusError is returned for any non-2xx backend response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// RecordResult is the response of an event submission.
type RecordResult struct {
	Node    json.RawMessage `json:"node"`
	Summary json.RawMessage `json:"summary"`
}

// RecordEvent submits a recorded event to the session's event stream.
func (c *Client) RecordEvent(ctx context.Context, sessionID string, event models.RecordedEvent) (*RecordResult, error) {
	var out RecordResult
	path := "/sessions/" + url.PathEscape(sessionID) + "/events"
	if err := c.do(ctx, http.MethodPost, path, event, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun fetches an automation run definition.
func (c *Client) GetRun(ctx context.Context, runID string) (*models.AutomationRun, error) {
	var run models.AutomationRun
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	if run.RunID == "" {
		run.RunID = runID
	}
	return &run, nil
}

func (c *Client) PostProgress(ctx context.Context, runID string, report models.ProgressReport) error {
	return c.do(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/progress", report, nil)
}

type llmStepRequest struct {
	Step    models.AutomationStep `json:"step"`
	Context models.LLMStepContext `json:"context"`
}

type llmStepResponse struct {
	Result models.StepOutcome `json:"result"`
}

// ExecuteLLMStep delegates a step to the backend's step executor.
func (c *Client) ExecuteLLMStep(ctx context.Context, step models.AutomationStep, pageCtx models.LLMStepContext) (*models.StepOutcome, error) {
	var out llmStepResponse
	if err := c.do(ctx, http.MethodPost, "/execute/llm-step", llmStepRequest{Step: step, Context: pageCtx}, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// LaunchResult describes a run the backend created for an automation.
type LaunchResult struct {
	RunID     string `json:"run_id"`
	Engine    string `json:"engine"`
	TargetURL string `json:"target_url"`
	SessionID string `json:"session_id,omitempty"`
}

// CreateRun asks the backend to start a new run of an automation.
func (c *Client) CreateRun(ctx context.Context, automationID string) (*LaunchResult, error) {
	var out LaunchResult
	if err := c.do(ctx, http.MethodPost, "/automations/"+url.PathEscape(automationID)+"/run", struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.RunID == "" {
		return nil, fmt.Errorf("launch automation %s: backend returned no run id", automationID)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
