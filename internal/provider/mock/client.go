package mock

import (
	"context"
	"sync"

	"github.com/wordsmithlab/lexguard/internal/provider"
)

// Client satisfies provider.Client for testing. Behavior is driven by the
// func fields; unset fields return a zero-value queued task. Calls are
// counted under a mutex so tests can assert retry behavior.
type Client struct {
	CreateTaskFunc func(ctx context.Context, req provider.TaskRequest) (*provider.Task, error)
	GetTaskFunc    func(ctx context.Context, taskID string) (*provider.Task, error)
	CancelTaskFunc func(ctx context.Context, taskID string) (*provider.Task, error)

	mu          sync.Mutex
	createCalls []provider.TaskRequest
	getCalls    []string
	cancelCalls []string
}

func (m *Client) CreateTask(ctx context.Context, req provider.TaskRequest) (*provider.Task, error) {
	m.mu.Lock()
	m.createCalls = append(m.createCalls, req)
	m.mu.Unlock()

	if m.CreateTaskFunc != nil {
		return m.CreateTaskFunc(ctx, req)
	}
	return &provider.Task{ID: "task-mock", Status: provider.TaskStatusQueued}, nil
}

func (m *Client) GetTask(ctx context.Context, taskID string) (*provider.Task, error) {
	m.mu.Lock()
	m.getCalls = append(m.getCalls, taskID)
	m.mu.Unlock()

	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(ctx, taskID)
	}
	return &provider.Task{ID: taskID, Status: provider.TaskStatusInProgress}, nil
}

func (m *Client) CancelTask(ctx context.Context, taskID string) (*provider.Task, error) {
	m.mu.Lock()
	m.cancelCalls = append(m.cancelCalls, taskID)
	m.mu.Unlock()

	if m.CancelTaskFunc != nil {
		return m.CancelTaskFunc(ctx, taskID)
	}
	return &provider.Task{ID: taskID, Status: provider.TaskStatusCancelled}, nil
}

// CreateCalls returns a copy of the recorded CreateTask requests.
func (m *Client) CreateCalls() []provider.TaskRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.TaskRequest(nil), m.createCalls...)
}

// GetCalls returns a copy of the recorded GetTask ids.
func (m *Client) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.getCalls...)
}

// CancelCalls returns a copy of the recorded CancelTask ids.
func (m *Client) CancelCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelCalls...)
}

// NewFailing returns a Client whose every operation returns err.
func NewFailing(err error) *Client {
	return &Client{
		CreateTaskFunc: func(context.Context, provider.TaskRequest) (*provider.Task, error) {
			return nil, err
		},
		GetTaskFunc: func(context.Context, string) (*provider.Task, error) {
			return nil, err
		},
		CancelTaskFunc: func(context.Context, string) (*provider.Task, error) {
			return nil, err
		},
	}
}

// Compile-time check that Client implements provider.Client.
var _ provider.Client = (*Client)(nil)
