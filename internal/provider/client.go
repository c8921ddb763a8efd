package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Task statuses reported by the Responses API for background tasks.
const (
	TaskStatusQueued     = "queued"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
	TaskStatusIncomplete = "incomplete"
)

// Client is the interface for the asynchronous completion provider.
type Client interface {
	CreateTask(ctx context.Context, req TaskRequest) (*Task, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	CancelTask(ctx context.Context, taskID string) (*Task, error)
}

// TaskRequest describes one background moderation task. The client always
// attaches the strict moderation verdict schema; callers only supply the
// model knobs, the rendered prompt, and correlation metadata.
type TaskRequest struct {
	Model           string
	Input           string
	ServiceTier     *string
	ReasoningEffort *string
	Metadata        map[string]string
}

// Task is a provider background task. Raw holds the unparsed response body
// so the engine can persist it verbatim for audit.
type Task struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Model             string             `json:"model"`
	OutputText        string             `json:"output_text"`
	Output            []OutputItem       `json:"output"`
	Error             *TaskError         `json:"error"`
	IncompleteDetails *IncompleteDetails `json:"incomplete_details"`
	Usage             *Usage             `json:"usage"`

	Raw []byte `json:"-"`
}

// OutputItem is one entry of a task's output array.
type OutputItem struct {
	Type    string        `json:"type"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one content element within an output message.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TaskError is the provider-side failure detail of a failed task.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IncompleteDetails explains why a task finished incomplete.
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// Usage is the provider's token accounting for a task.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIError is a non-2xx provider response, decoded from the error envelope.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider api error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider api error (status %d): %s", e.StatusCode, e.Message)
}

// ModerationFormatName is the schema name submitted with every task.
const ModerationFormatName = "moderation_verdict"

// ModerationSchema is the strict structured-output schema the provider is
// instructed to honor: all four fields required, nothing else permitted.
func ModerationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"flagged":        map[string]any{"type": "boolean"},
			"flagged_reason": map[string]any{"type": "string"},
			"confidence":     map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"notes":          map[string]any{"type": "string"},
		},
		"required":             []string{"flagged", "flagged_reason", "confidence", "notes"},
		"additionalProperties": false,
	}
}

// HTTPClient implements Client against the OpenAI Responses API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a provider client. The timeout bounds every single
// request; the client never retries internally — retry policy belongs to the
// submission pipeline.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateTask(ctx context.Context, req TaskRequest) (*Task, error) {
	body := createTaskRequest{
		Model:       req.Model,
		Input:       req.Input,
		Background:  true,
		Store:       true,
		ServiceTier: req.ServiceTier,
		Metadata:    req.Metadata,
		Text: &textOptions{
			Format: formatSpec{
				Type:   "json_schema",
				Name:   ModerationFormatName,
				Schema: ModerationSchema(),
				Strict: true,
			},
		},
	}
	if req.ReasoningEffort != nil {
		body.Reasoning = &reasoningOptions{Effort: *req.ReasoningEffort}
	}
	return c.doTask(ctx, http.MethodPost, "/responses", body)
}

func (c *HTTPClient) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return c.doTask(ctx, http.MethodGet, "/responses/"+taskID, nil)
}

// CancelTask asks the provider to stop a background task. The provider
// treats cancelling an already-finished task as a no-op, so callers need not
// check the task state first.
func (c *HTTPClient) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	return c.doTask(ctx, http.MethodPost, "/responses/"+taskID+"/cancel", nil)
}

func (c *HTTPClient) doTask(ctx context.Context, method, path string, body any) (*Task, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, raw.Bytes())
	}

	var task Task
	if err := json.Unmarshal(raw.Bytes(), &task); err != nil {
		return nil, fmt.Errorf("decoding provider response: %w", err)
	}
	task.Raw = raw.Bytes()
	return &task, nil
}

func decodeAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// --- Request types ---

type createTaskRequest struct {
	Model       string            `json:"model"`
	Input       string            `json:"input"`
	Background  bool              `json:"background"`
	Store       bool              `json:"store"`
	ServiceTier *string           `json:"service_tier,omitempty"`
	Reasoning   *reasoningOptions `json:"reasoning,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Text        *textOptions      `json:"text,omitempty"`
}

type reasoningOptions struct {
	Effort string `json:"effort"`
}

type textOptions struct {
	Format formatSpec `json:"format"`
}

type formatSpec struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
