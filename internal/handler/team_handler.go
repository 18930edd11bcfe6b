package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cortexsync/internal/model"
)

// TeamService はチームメンバーの操作。team.Serviceが実装する。
type TeamService interface {
	Members(ctx context.Context) ([]model.Member, error)
	Invite(ctx context.Context, email, role string) ([]model.Member, error)
}

// TeamHandler はチーム管理のHTTPハンドラー。
type TeamHandler struct {
	service TeamService
	logger  *slog.Logger
}

// NewTeamHandler はTeamHandlerを生成する。
func NewTeamHandler(service TeamService, logger *slog.Logger) *TeamHandler {
	return &TeamHandler{service: service, logger: logger}
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type membersResponse struct {
	Members []model.Member `json:"members"`
}

// List は組織のメンバー一覧を返す。
// GET /api/team/members
func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.Members(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, membersResponse{Members: nonNilMembers(members)})
}

// Invite はメンバーを招待し、更新後のメンバー一覧を返す。
// POST /api/team/members
func (h *TeamHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	members, err := h.service.Invite(r.Context(), req.Email, req.Role)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, membersResponse{Members: nonNilMembers(members)})
}

func nonNilMembers(m []model.Member) []model.Member {
	if m == nil {
		return []model.Member{}
	}
	return m
}
