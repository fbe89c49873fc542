package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/observability/tracing"
)

var (
	// ErrNotConfigured is returned when the provider base URL or API key is
	// missing. Generation endpoints are unavailable in that deployment.
	ErrNotConfigured = errors.New("provider_not_configured")
	ErrTaskNotFound  = errors.New("task_not_found")
)

// Task is the provider's view of a generation job.
type Task struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ImageURL string `json:"image_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

type createTaskRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

type providerError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Client talks to the external image generation provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a provider client from configuration. Outbound requests carry
// the active trace context.
func New(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.Provider.APIKey),
		httpClient: tracing.WrapHTTPClient(&http.Client{
			Timeout: 30 * time.Second,
		}),
	}
}

// CreateTask submits a prompt and returns the provider's job handle.
func (c *Client) CreateTask(ctx context.Context, prompt, size string) (*Task, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(createTaskRequest{Prompt: prompt, Size: size})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	return c.do(req)
}

// GetTask fetches the current state of a job.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}

	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, ErrTaskNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	return c.do(req)
}

func (c *Client) configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func (c *Client) do(req *http.Request) (*Task, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTaskNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var perr providerError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&perr); decodeErr == nil && perr.Message != "" {
			return nil, fmt.Errorf("provider request failed: %s", perr.Message)
		}
		return nil, fmt.Errorf("provider request failed with status %d", resp.StatusCode)
	}

	var task Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, errors.New("provider response missing task id")
	}
	task.Status = strings.ToLower(strings.TrimSpace(task.Status))
	return &task, nil
}
