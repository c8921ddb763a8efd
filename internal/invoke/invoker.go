// Package invoke triggers follow-up engine invocations over HTTP. The
// engine calls itself through the same authenticated endpoint an external
// scheduler would use, so a chained invocation is indistinguishable from a
// scheduled one on the receiving side.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPInvoker implements engine.Invoker by POSTing to the service's own
// engine-run endpoint.
type HTTPInvoker struct {
	url    string
	apiKey string
	client *http.Client
}

// ErrNoAPIKey means chaining is effectively disabled: the invoker has no
// credential to present to its own API.
var ErrNoAPIKey = errors.New("invoker has no API key configured")

// NewHTTPInvoker creates an invoker targeting selfURL. The request timeout
// covers the full chained invocation, which runs synchronously on the
// receiving side.
func NewHTTPInvoker(selfURL, apiKey string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		url:    selfURL + "/api/v1/engine/run",
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// TriggerRun dispatches a follow-up invocation and returns immediately.
// The request runs in a detached goroutine on a background context so the
// triggering invocation can finish; the response is drained and logged.
func (i *HTTPInvoker) TriggerRun(ctx context.Context, chainDepth int) error {
	if i.apiKey == "" {
		return ErrNoAPIKey
	}

	body, err := json.Marshal(map[string]int{"chain_depth": chainDepth})
	if err != nil {
		return fmt.Errorf("encoding trigger body: %w", err)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in chained invocation trigger", "error", r)
			}
		}()

		req, err := http.NewRequestWithContext(context.Background(),
			http.MethodPost, i.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("building chained invocation request failed", "error", err)
			return
		}
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := i.client.Do(req)
		if err != nil {
			slog.Warn("chained invocation request failed",
				"chain_depth", chainDepth, "error", err)
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		slog.Info("chained invocation completed",
			"chain_depth", chainDepth, "status", resp.StatusCode)
	}()

	return nil
}
