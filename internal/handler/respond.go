// Package handler はコンソールのHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cortexsync/internal/backend"
	"github.com/hitoshi/cortexsync/internal/middleware"
	"github.com/hitoshi/cortexsync/internal/model"
	"github.com/hitoshi/cortexsync/internal/session"
)

// maxRequestBody はリクエストボディの読み取り上限（64KB）。
const maxRequestBody = 64 * 1024

// ErrCodeSessionSuperseded は処理中に別のログイン・ログアウトが行われたことを示す。
const ErrCodeSessionSuperseded = "SESSION_SUPERSEDED"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをvにデコードする。
// 失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError("リクエストボディの解析に失敗しました。"))
		return false
	}
	return true
}

func invalidRequestError(msg string) *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  msg,
		Category: model.CategoryValidation,
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, session.ErrSuperseded):
		middleware.WriteErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     ErrCodeSessionSuperseded,
			Message:  "処理中に別のログインまたはログアウトが行われました。",
			Category: model.CategoryAuth,
			Action:   "現在のセッション状態を確認してください。",
		})
	case backend.IsCanceled(err):
		// クライアントが切断済みのため応答は届かない
		w.WriteHeader(499)
	default:
		middleware.WriteError(w, logger, err)
	}
}
