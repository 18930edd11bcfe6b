package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/cortexsync/internal/middleware"
	"github.com/hitoshi/cortexsync/internal/model"
	"github.com/hitoshi/cortexsync/internal/session"
)

// SessionService は認証ハンドラーが必要とするセッション操作。
// session.Managerが実装する。
type SessionService interface {
	Snapshot() model.Session
	LoginWithPassword(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, password string) (string, error)
	HandleOAuthCallback(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context) (string, error)
}

// AuthHandler はログイン・登録・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse はセッション状態と遷移先のレスポンス。
type sessionResponse struct {
	Session  model.Session `json:"session"`
	Redirect string        `json:"redirect,omitempty"`
}

type redirectResponse struct {
	Redirect string `json:"redirect"`
}

// detached はセッション状態を変更する処理のためのコンテキストを返す。
// 検証の途中でクライアントが切断してもLoadingのまま残らないよう、キャンセルを引き継がない。
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// Callback はOAuthコールバックを処理し、検証の完了後にリダイレクトする。
// GET /auth/callback?token=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	dest, err := h.sessions.HandleOAuthCallback(detached(r), token)
	if err != nil {
		h.logger.Warn("OAuthコールバックの処理に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	if dest == "" {
		// 別のログインに置き換えられた場合は現在の状態に従う
		dest = session.DestLogin
		if h.sessions.Snapshot().IsAuthenticated() {
			dest = session.DestDashboard
		}
	}
	http.Redirect(w, r, dest, http.StatusTemporaryRedirect)
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError("メールアドレスとパスワードを入力してください。"))
		return
	}

	dest, err := h.sessions.LoginWithPassword(detached(r), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Session:  h.sessions.Snapshot(),
		Redirect: dest,
	})
}

// Register はユーザー登録を行う。成功時の遷移先は/login。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError("メールアドレスとパスワードを入力してください。"))
		return
	}

	dest, err := h.sessions.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, redirectResponse{Redirect: dest})
}

// Logout は資格情報を削除する。ネットワーク呼び出しは行わない。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// 削除に失敗してもセッションはAnonymousになっており、失敗はManagerが記録済み
	dest, _ := h.sessions.Logout(detached(r))
	writeJSON(w, http.StatusOK, redirectResponse{Redirect: dest})
}

// Me は現在のセッション状態を返す。未認証でも200を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{Session: h.sessions.Snapshot()})
}
