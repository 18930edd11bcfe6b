package handler

import (
	"net/http"

	"github.com/hitoshi/cortexsync/internal/model"
)

// SessionStatus はセッション状態の参照。
type SessionStatus interface {
	Snapshot() model.Session
}

type healthResponse struct {
	Status  string              `json:"status"`
	Session model.SessionStatus `json:"session"`
}

// NewHealthHandler はプロセスの生存確認ハンドラーを返す。
// バックエンドへの問い合わせは行わない。
// GET /health
func NewHealthHandler(sessions SessionStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Session: sessions.Snapshot().Status,
		})
	}
}
