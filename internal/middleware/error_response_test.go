package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/cortexsync/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(422, "email: value is not a valid email address"))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	for _, field := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
	if raw["message"] != "email: value is not a valid email address" {
		t.Errorf("バックエンドのdetailがそのまま返るべき: %v", raw["message"])
	}
}

func TestStatusFor_MapsErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{"AuthExpired", model.NewAuthExpiredError(), http.StatusUnauthorized},
		{"NotAuthenticated", model.NewNotAuthenticatedError(), http.StatusUnauthorized},
		{"BackendUnavailable", model.NewBackendUnavailableError(503, ""), http.StatusBadGateway},
		{"BackendUnavailable_Network", model.NewBackendUnavailableError(0, "connection refused"), http.StatusBadGateway},
		{"IntegrationRevoked", model.NewIntegrationRevokedError(""), http.StatusConflict},
		{"OrganizationNotFound", model.NewOrganizationNotFoundError(), http.StatusNotFound},
		{"OAuthFailed", model.NewOAuthFailedError(), http.StatusBadRequest},
		{"Validation_422", model.NewValidationError(422, "x"), http.StatusUnprocessableEntity},
		{"Validation_409", model.NewValidationError(409, "x"), http.StatusConflict},
		{"Validation_LoginRejected", model.NewValidationError(401, "Incorrect email or password"), http.StatusBadRequest},
		{"Unknown", &model.APIError{Code: "X"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteError_WrappedAPIError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	w := httptest.NewRecorder()

	err := errors.Join(errors.New("context"), model.NewIntegrationRevokedError("Installation not found"))
	WriteError(w, logger, err)

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeIntegrationRevoked {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeIntegrationRevoked)
	}
	if buf.Len() != 0 {
		t.Errorf("APIErrorはログに記録しないべき: %s", buf.String())
	}
}

func TestWriteError_UnknownError_Returns500AndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	w := httptest.NewRecorder()

	WriteError(w, logger, errors.New("disk full"))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if !bytes.Contains(buf.Bytes(), []byte("disk full")) {
		t.Errorf("詳細はログに記録されるべき: %s", buf.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("disk full")) {
		t.Error("詳細をレスポンスに含めてはならない")
	}
}
