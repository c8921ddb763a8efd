package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/wordsmithlab/lexguard/internal/api/response"
	"github.com/wordsmithlab/lexguard/internal/engine"
)

// EngineRunner defines the interface the run handler depends on.
type EngineRunner interface {
	Run(ctx context.Context, chainDepth int) *engine.RunReport
}

type runResponse struct {
	Success          bool         `json:"success"`
	Stats            engine.Stats `json:"stats"`
	PendingRemaining int          `json:"pending_remaining"`
	ChainTriggered   bool         `json:"chain_triggered"`
}

type runErrorResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Stats   engine.Stats `json:"stats"`
}

// NewRunHandler returns an http.HandlerFunc for POST /api/v1/engine/run.
// The invocation executes under a context detached from the request, so a
// trigger that disconnects (or a chained invoker that times out waiting)
// cannot abort a run in flight; the engine applies its own timeout.
func NewRunHandler(runner EngineRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChainDepth int `json:"chain_depth"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.ChainDepth < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "chain_depth must not be negative", nil)
			return
		}

		report, err := runInvocation(context.WithoutCancel(r.Context()), runner, req.ChainDepth)
		if err != nil {
			response.Direct(w, http.StatusInternalServerError, runErrorResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		response.Direct(w, http.StatusOK, runResponse{
			Success:          true,
			Stats:            report.Stats,
			PendingRemaining: report.PendingRemaining,
			ChainTriggered:   report.ChainTriggered,
		})
	}
}

// runInvocation converts an engine panic into the contract's 500 body
// instead of tearing down the request via the recovery middleware.
func runInvocation(ctx context.Context, runner EngineRunner, chainDepth int) (report *engine.RunReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in engine invocation",
				"error", r, "stack", string(debug.Stack()))
			report = nil
			err = fmt.Errorf("engine invocation panicked: %v", r)
		}
	}()
	return runner.Run(ctx, chainDepth), nil
}
