package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCreateTask_RequestShape(t *testing.T) {
	var got map[string]any
	var gotAuth, gotContentType, gotPath, gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "resp_abc123",
			"status": "queued",
			"model":  "gpt-5-mini",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "sk-test", 5*time.Second)
	task, err := client.CreateTask(context.Background(), TaskRequest{
		Model:           "gpt-5-mini",
		Input:           "Review this lexicon entry.",
		ServiceTier:     strPtr("flex"),
		ReasoningEffort: strPtr("low"),
		Metadata:        map[string]string{"job_id": "j1", "work_item_id": "42"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/responses", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "application/json", gotContentType)

	assert.Equal(t, "gpt-5-mini", got["model"])
	assert.Equal(t, "Review this lexicon entry.", got["input"])
	assert.Equal(t, true, got["background"])
	assert.Equal(t, true, got["store"])
	assert.Equal(t, "flex", got["service_tier"])

	reasoning, ok := got["reasoning"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "low", reasoning["effort"])

	metadata, ok := got["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "j1", metadata["job_id"])
	assert.Equal(t, "42", metadata["work_item_id"])

	text, ok := got["text"].(map[string]any)
	require.True(t, ok)
	format, ok := text["format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, ModerationFormatName, format["name"])
	assert.Equal(t, true, format["strict"])
	schema, ok := format["schema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, schema["additionalProperties"])

	assert.Equal(t, "resp_abc123", task.ID)
	assert.Equal(t, TaskStatusQueued, task.Status)
}

func TestCreateTask_OmitsOptionalKnobs(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"id": "resp_1", "status": "queued"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "sk-test", 5*time.Second)
	_, err := client.CreateTask(context.Background(), TaskRequest{
		Model: "gpt-5-mini",
		Input: "hello",
	})
	require.NoError(t, err)

	_, hasTier := got["service_tier"]
	assert.False(t, hasTier)
	_, hasReasoning := got["reasoning"]
	assert.False(t, hasReasoning)
	_, hasMetadata := got["metadata"]
	assert.False(t, hasMetadata)
}

func TestGetTask_DecodesAndRetainsRaw(t *testing.T) {
	responseBody := `{
		"id": "resp_xyz",
		"status": "completed",
		"model": "gpt-5-mini",
		"output_text": "{\"flagged\":true}",
		"output": [
			{"type": "message", "content": [{"type": "output_text", "text": "{\"flagged\":true}"}]}
		],
		"usage": {"input_tokens": 120, "output_tokens": 34}
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/responses/resp_xyz", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(responseBody))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "sk-test", 5*time.Second)
	task, err := client.GetTask(context.Background(), "resp_xyz")
	require.NoError(t, err)

	assert.Equal(t, "resp_xyz", task.ID)
	assert.Equal(t, TaskStatusCompleted, task.Status)
	assert.Equal(t, `{"flagged":true}`, task.OutputText)
	require.Len(t, task.Output, 1)
	require.Len(t, task.Output[0].Content, 1)
	assert.Equal(t, "output_text", task.Output[0].Content[0].Type)
	require.NotNil(t, task.Usage)
	assert.Equal(t, 120, task.Usage.InputTokens)
	assert.Equal(t, 34, task.Usage.OutputTokens)
	assert.JSONEq(t, responseBody, string(task.Raw))
}

func TestGetTask_FailedTaskCarriesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "resp_bad",
			"status": "failed",
			"error":  map[string]any{"code": "server_error", "message": "model crashed"},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "sk-test", 5*time.Second)
	task, err := client.GetTask(context.Background(), "resp_bad")
	require.NoError(t, err)

	assert.Equal(t, TaskStatusFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Equal(t, "server_error", task.Error.Code)
	assert.Equal(t, "model crashed", task.Error.Message)
}

func TestCancelTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/responses/resp_xyz/cancel", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"id": "resp_xyz", "status": "cancelled"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "sk-test", 5*time.Second)
	task, err := client.CancelTask(context.Background(), "resp_xyz")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, task.Status)
}

func TestDoTask_ErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "insufficient_quota", "code": "insufficient_quota", "message": "You exceeded your current quota"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "sk-test", 5*time.Second)
	_, err := client.GetTask(context.Background(), "resp_q")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "insufficient_quota", apiErr.Code)
	assert.Equal(t, "You exceeded your current quota", apiErr.Message)

	cat, retryable := Classify(err)
	assert.Equal(t, CategoryQuota, cat)
	assert.False(t, retryable)
}

func TestDoTask_NonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable\n"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "sk-test", 5*time.Second)
	_, err := client.GetTask(context.Background(), "resp_q")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestDoTask_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"id": "resp_slow", "status": "queued"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "sk-test", 20*time.Millisecond)
	_, err := client.GetTask(context.Background(), "resp_slow")
	require.Error(t, err)

	cat, retryable := Classify(err)
	assert.Equal(t, CategoryTimeout, cat)
	assert.True(t, retryable)
}
