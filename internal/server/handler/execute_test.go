package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/copilfi/copil-sub001/internal/domain"
)

type stubExecutor struct {
	row  domain.TransactionLog
	err  error
	reqs []domain.ExecuteRequest
}

func (s *stubExecutor) Execute(ctx context.Context, req domain.ExecuteRequest) (domain.TransactionLog, error) {
	s.reqs = append(s.reqs, req)
	return s.row, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func executeBody(t *testing.T) string {
	t.Helper()
	req := domain.ExecuteRequest{
		UserID:         42,
		SessionKeyID:   7,
		IdempotencyKey: "strategy:5:job:eval:5",
		Intent: domain.Intent{
			Type:      domain.IntentSwap,
			FromChain: "base",
			FromToken: "0x4200000000000000000000000000000000000006",
			ToToken:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		},
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestExecuteHandler_Success(t *testing.T) {
	stub := &stubExecutor{row: domain.TransactionLog{
		ID:     31,
		Status: domain.TxSuccess,
		TxHash: "0xdeadbeef",
	}}
	h := NewExecuteHandler(stub, discardLogger())

	r := httptest.NewRequest(http.MethodPost, "/transaction/execute/internal", strings.NewReader(executeBody(t)))
	w := httptest.NewRecorder()
	h.Execute(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status  string `json:"status"`
		TxLogID int64  `json:"txLogId"`
		TxHash  string `json:"txHash"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" || resp.TxLogID != 31 || resp.TxHash != "0xdeadbeef" {
		t.Errorf("response = %+v", resp)
	}
	if len(stub.reqs) != 1 || stub.reqs[0].IdempotencyKey != "strategy:5:job:eval:5" {
		t.Errorf("service received %+v", stub.reqs)
	}
}

func TestExecuteHandler_FailedOutcomeStillAccepted(t *testing.T) {
	stub := &stubExecutor{row: domain.TransactionLog{
		ID:          32,
		Status:      domain.TxFailed,
		Description: "oracle veto for 0x42 on base: deviation 30.43% exceeds 20.00%",
	}}
	h := NewExecuteHandler(stub, discardLogger())

	r := httptest.NewRequest(http.MethodPost, "/transaction/execute/internal", strings.NewReader(executeBody(t)))
	w := httptest.NewRecorder()
	h.Execute(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("handled failure should still be 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "deviation") {
		t.Errorf("body %q lost the failure description", w.Body.String())
	}
}

func TestExecuteHandler_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("executor: %w: userId is required", domain.ErrValidation), http.StatusBadRequest},
		{"permission", fmt.Errorf("session key expired: %w", domain.ErrPermissionDenied), http.StatusForbidden},
		{"not found", fmt.Errorf("session key 9: %w", domain.ErrNotFound), http.StatusNotFound},
		{"lock held", fmt.Errorf("busy: %w", domain.ErrLockHeld), http.StatusConflict},
		{"rate limited", fmt.Errorf("slow down: %w", domain.ErrRateLimited), http.StatusTooManyRequests},
		{"upstream", fmt.Errorf("rpc timeout: %w", domain.ErrUpstream), http.StatusBadGateway},
		{"breaker open", domain.ErrBreakerOpen, http.StatusBadGateway},
		{"internal", fmt.Errorf("boom: %w", domain.ErrInternal), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewExecuteHandler(&stubExecutor{err: tt.err}, discardLogger())

			r := httptest.NewRequest(http.MethodPost, "/transaction/execute/internal", strings.NewReader(executeBody(t)))
			w := httptest.NewRecorder()
			h.Execute(w, r)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			var envelope map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("error body is not JSON: %q", w.Body.String())
			}
			if envelope["error"] == "" {
				t.Errorf("error envelope missing reason: %q", w.Body.String())
			}
		})
	}
}

func TestExecuteHandler_MalformedBody(t *testing.T) {
	stub := &stubExecutor{}
	h := NewExecuteHandler(stub, discardLogger())

	r := httptest.NewRequest(http.MethodPost, "/transaction/execute/internal", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.Execute(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(stub.reqs) != 0 {
		t.Errorf("service was called with a malformed body")
	}
}
