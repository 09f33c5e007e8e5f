package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// ExecutionService defines what the execute handler requires from the
// execution layer.
type ExecutionService interface {
	Execute(ctx context.Context, req domain.ExecuteRequest) (domain.TransactionLog, error)
}

// ExecuteHandler serves the internal transaction execution endpoint.
type ExecuteHandler struct {
	executor ExecutionService
	logger   *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler with the given service and
// logger.
func NewExecuteHandler(executor ExecutionService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		executor: executor,
		logger:   logger,
	}
}

// executeResponse is the acceptance body for a handled execution. A failed
// status with a 200 means the request was processed and its outcome is
// failure; callers must not retry it.
type executeResponse struct {
	Status      domain.TxStatus `json:"status"`
	TxLogID     int64           `json:"txLogId"`
	TxHash      string          `json:"txHash,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Execute runs one intent through the execution guard chain.
// POST /transaction/execute/internal
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	row, err := h.executor.Execute(r.Context(), req)
	if err != nil {
		status := statusFromError(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: execute failed",
				slog.Int64("userId", req.UserID),
				slog.String("idempotencyKey", req.IdempotencyKey),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Status:      row.Status,
		TxLogID:     row.ID,
		TxHash:      row.TxHash,
		Description: row.Description,
	})
}
