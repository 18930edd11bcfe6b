package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cortexsync/internal/middleware"
	"github.com/hitoshi/cortexsync/internal/model"
	"github.com/hitoshi/cortexsync/internal/scan"
)

// ScanList はポーラーが保持するスキャン一覧。scanpoll.Pollerが実装する。
type ScanList interface {
	Scans() []model.Scan
	HasActive() bool
}

// ScanStarter はスキャンを開始する。integration.Reconcilerが実装する。
type ScanStarter interface {
	StartScan(ctx context.Context, repositoryFullName string) (*model.Scan, error)
}

// ScanDetailService はスキャン結果レポートを構築する。scan.Serviceが実装する。
type ScanDetailService interface {
	Detail(ctx context.Context, id int64) (*scan.Detail, error)
}

// ScanHandler はスキャン関連のHTTPハンドラー。
type ScanHandler struct {
	list    ScanList
	starter ScanStarter
	details ScanDetailService
	logger  *slog.Logger
}

// NewScanHandler はScanHandlerを生成する。
func NewScanHandler(list ScanList, starter ScanStarter, details ScanDetailService, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{list: list, starter: starter, details: details, logger: logger}
}

type scanListResponse struct {
	Scans     []model.Scan `json:"scans"`
	HasActive bool         `json:"has_active"`
}

type startScanRequest struct {
	RepositoryName string `json:"repository_name"`
}

// List はポーラーが最後に取得したスキャン一覧をバックエンドの順序で返す。
// GET /api/scans
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	scans := h.list.Scans()
	if scans == nil {
		scans = []model.Scan{}
	}
	writeJSON(w, http.StatusOK, scanListResponse{
		Scans:     scans,
		HasActive: h.list.HasActive(),
	})
}

// Start はリポジトリのスキャンを開始する。
// POST /api/scans
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.starter.StartScan(detached(r), req.RepositoryName)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Get はスキャン結果レポートを返す。
// GET /api/scans/{id}
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError("スキャンIDが不正です。"))
		return
	}

	detail, err := h.details.Detail(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
