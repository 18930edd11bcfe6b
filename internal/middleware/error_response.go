package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cortexsync/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteError はerrをエラーコードに応じたHTTPステータスで書き込む。
// APIErrorでないエラーは500として扱い、詳細はログのみに記録する。
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		logger.Error("予期しないエラーが発生しました", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusFor(apiErr), apiErr)
}

// StatusFor はAPIErrorをコンソールのHTTPステータスに対応付ける。
func StatusFor(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthExpired, model.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeBackendUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeIntegrationRevoked:
		return http.StatusConflict
	case model.ErrCodeOrganizationNotFound:
		return http.StatusNotFound
	case model.ErrCodeOAuthFailed:
		return http.StatusBadRequest
	case model.ErrCodeValidation:
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusUnauthorized {
			return apiErr.StatusCode
		}
		return http.StatusBadRequest
	}
	if apiErr.StatusCode >= 400 && apiErr.StatusCode < 600 {
		return apiErr.StatusCode
	}
	return http.StatusInternalServerError
}
