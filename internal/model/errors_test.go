package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := NewValidationError(http.StatusBadRequest, "Email already registered")
	want := "[VALIDATION_FAILED] Email already registered"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewValidationError_EmptyDetailUsesDefault(t *testing.T) {
	err := NewValidationError(http.StatusUnprocessableEntity, "")
	if err.Message == "" {
		t.Error("detailが空の場合もメッセージが設定されること")
	}
	if err.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestNewBackendUnavailableError_IncludesReason(t *testing.T) {
	err := NewBackendUnavailableError(0, "connection refused")
	if err.StatusCode != 0 {
		t.Errorf("ネットワーク障害のStatusCodeは0であること: got %d", err.StatusCode)
	}
	if err.Message != "バックエンドに接続できませんでした: connection refused" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Category != CategoryBackend {
		t.Errorf("Category = %q, want %q", err.Category, CategoryBackend)
	}
}

func TestNewIntegrationRevokedError_DetailOverridesMessage(t *testing.T) {
	if got := NewIntegrationRevokedError("").Message; got == "" {
		t.Error("デフォルトメッセージが設定されること")
	}
	if got := NewIntegrationRevokedError("Installation not found").Message; got != "Installation not found" {
		t.Errorf("Message = %q, want backend detail", got)
	}
}

func TestErrorPredicates_UnwrapWrappedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"auth expired", NewAuthExpiredError(), IsAuthExpired},
		{"not authenticated", NewNotAuthenticatedError(), IsNotAuthenticated},
		{"backend unavailable", NewBackendUnavailableError(http.StatusBadGateway, ""), IsBackendUnavailable},
		{"integration revoked", NewIntegrationRevokedError(""), IsIntegrationRevoked},
		{"validation", NewValidationError(http.StatusBadRequest, "bad"), IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation failed: %w", tt.err)
			if !tt.pred(wrapped) {
				t.Errorf("ラップされたエラーも判定できること: %v", wrapped)
			}
		})
	}
}

func TestErrorPredicates_DoNotMatchOtherCodes(t *testing.T) {
	if IsAuthExpired(NewNotAuthenticatedError()) {
		t.Error("NotAuthenticatedはAuthExpiredと判定されないこと")
	}
	if IsValidation(errors.New("plain error")) {
		t.Error("APIError以外はfalseであること")
	}
	if IsBackendUnavailable(nil) {
		t.Error("nilはfalseであること")
	}
}

func TestAsAPIError(t *testing.T) {
	apiErr, ok := AsAPIError(fmt.Errorf("wrap: %w", NewOrganizationNotFoundError()))
	if !ok {
		t.Fatal("expected APIError to be extracted")
	}
	if apiErr.Code != ErrCodeOrganizationNotFound {
		t.Errorf("Code = %q, want %q", apiErr.Code, ErrCodeOrganizationNotFound)
	}

	if _, ok := AsAPIError(errors.New("plain")); ok {
		t.Error("APIError以外では取り出せないこと")
	}
}
