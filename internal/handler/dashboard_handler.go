package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cortexsync/internal/integration"
	"github.com/hitoshi/cortexsync/internal/middleware"
	"github.com/hitoshi/cortexsync/internal/model"
)

// DashboardService はダッシュボードハンドラーが必要とする連携状態の操作。
// integration.Reconcilerが実装する。
type DashboardService interface {
	Load(ctx context.Context, installationID *int64) (integration.State, error)
	Refresh(ctx context.Context) (integration.State, error)
	Snapshot() integration.State
}

// RedirectValidator は外部へのリダイレクト先を検証する。
type RedirectValidator interface {
	ValidateRedirect(rawURL string) error
}

// DashboardHandler はダッシュボードと連携操作のHTTPハンドラー。
type DashboardHandler struct {
	service DashboardService
	guard   RedirectValidator
	logger  *slog.Logger
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(service DashboardService, guard RedirectValidator, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{service: service, guard: guard, logger: logger}
}

// dashboardResponse はダッシュボードの表示内容。
// 連携状態の一部が取得できなかった場合もerrorに原因を含めて200で返す。
type dashboardResponse struct {
	integration.State
	Error *middleware.ErrorResponseBody `json:"error,omitempty"`
}

// Get はダッシュボードを読み込む。
// installation_idが指定された場合はインストール完了ハンドシェイクを実行する。
// GET /api/dashboard?installation_id=123
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	installationID, err := integration.ParseInstallationID(r.URL.Query().Get("installation_id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	state, err := h.service.Load(detached(r), installationID)
	h.writeState(w, state, err)
}

// Refresh は組織と連携状態を再取得する。
// POST /api/dashboard/refresh
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Refresh(detached(r))
	h.writeState(w, state, err)
}

func (h *DashboardHandler) writeState(w http.ResponseWriter, state integration.State, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, dashboardResponse{State: state})
		return
	}

	apiErr, ok := model.AsAPIError(err)
	if !ok || apiErr.Category == model.CategoryAuth {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		State: state,
		Error: &middleware.ErrorResponseBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		},
	})
}

// Install はGitHub Appのインストール画面へリダイレクトする。
// GET /integration/install
func (h *DashboardHandler) Install(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, h.service.Snapshot().InstallURL)
}

// Manage はGitHub Appのインストール管理画面へリダイレクトする。
// GET /integration/manage
func (h *DashboardHandler) Manage(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, h.service.Snapshot().ManagementURL)
}

func (h *DashboardHandler) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if target == "" {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "REDIRECT_UNAVAILABLE",
			Message:  "遷移先のURLがまだ取得されていません。",
			Category: model.CategoryIntegration,
			Action:   "ダッシュボードを再読み込みしてください。",
		})
		return
	}
	if err := h.guard.ValidateRedirect(target); err != nil {
		h.logger.Warn("バックエンドが返したリダイレクト先を拒否しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     "REDIRECT_REJECTED",
			Message:  "バックエンドが返した遷移先URLが許可されていません。",
			Category: model.CategoryIntegration,
			Action:   "管理者に連絡してください。",
		})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
