package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cortexsync/internal/model"
	"github.com/hitoshi/cortexsync/internal/scan"
)

func TestScanHandler_List_ReturnsBackendOrder(t *testing.T) {
	list := &mockScanList{
		scans: []model.Scan{
			{ID: 9, Status: model.ScanInProgress, RepositoryName: "acme/api"},
			{ID: 3, Status: model.ScanCompleted, RepositoryName: "acme/web"},
		},
		hasActive: true,
	}
	h := NewScanHandler(list, &mockScanStarter{}, &mockScanDetailService{}, discardLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/scans", nil))

	var body struct {
		Scans     []model.Scan `json:"scans"`
		HasActive bool         `json:"has_active"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Scans) != 2 || body.Scans[0].ID != 9 || body.Scans[1].ID != 3 {
		t.Errorf("scans = %+v, want backend order [9 3]", body.Scans)
	}
	if !body.HasActive {
		t.Error("has_active = false, want true")
	}
}

func TestScanHandler_List_EmptyIsArray(t *testing.T) {
	h := NewScanHandler(&mockScanList{}, &mockScanStarter{}, &mockScanDetailService{}, discardLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/scans", nil))

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if string(raw["scans"]) != "[]" {
		t.Errorf("scans = %s, want []", raw["scans"])
	}
}

func TestScanHandler_Start(t *testing.T) {
	var gotRepo string
	starter := &mockScanStarter{
		startScanFn: func(ctx context.Context, repo string) (*model.Scan, error) {
			gotRepo = repo
			return &model.Scan{ID: 10, Status: model.ScanPending, RepositoryName: repo}, nil
		},
	}
	h := NewScanHandler(&mockScanList{}, starter, &mockScanDetailService{}, discardLogger())

	w := httptest.NewRecorder()
	h.Start(w, jsonRequest(http.MethodPost, "/api/scans", `{"repository_name":"acme/api"}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if gotRepo != "acme/api" {
		t.Errorf("repository = %q, want acme/api", gotRepo)
	}
	var created model.Scan
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if created.ID != 10 || created.Status != model.ScanPending {
		t.Errorf("scan = %+v, want id=10 pending", created)
	}
}

func TestScanHandler_Start_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"不正なJSON", `not json`, nil, http.StatusBadRequest},
		{"リポジトリ名なし", `{"repository_name":" "}`, model.NewValidationError(0, "repository_name is required"), http.StatusBadRequest},
		{"バックエンドの422", `{"repository_name":"x"}`, model.NewValidationError(422, "repository_name: field required"), http.StatusUnprocessableEntity},
		{"未ログイン", `{"repository_name":"x"}`, model.NewNotAuthenticatedError(), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &mockScanStarter{
				startScanFn: func(ctx context.Context, repo string) (*model.Scan, error) {
					return nil, tt.err
				},
			}
			h := NewScanHandler(&mockScanList{}, starter, &mockScanDetailService{}, discardLogger())

			w := httptest.NewRecorder()
			h.Start(w, jsonRequest(http.MethodPost, "/api/scans", tt.body))

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestScanHandler_Start_ClientDisconnect_DoesNotCancelStart(t *testing.T) {
	var ctxErr error
	starter := &mockScanStarter{
		startScanFn: func(ctx context.Context, repo string) (*model.Scan, error) {
			ctxErr = ctx.Err()
			return &model.Scan{ID: 10, Status: model.ScanPending, RepositoryName: repo}, nil
		},
	}
	h := NewScanHandler(&mockScanList{}, starter, &mockScanDetailService{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := jsonRequest(http.MethodPost, "/api/scans", `{"repository_name":"acme/api"}`).WithContext(ctx)
	h.Start(httptest.NewRecorder(), req)

	if ctxErr != nil {
		t.Errorf("スキャン開始にはキャンセルを引き継がないべき: ctx.Err() = %v", ctxErr)
	}
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestScanHandler_Get(t *testing.T) {
	details := &mockScanDetailService{
		detailFn: func(ctx context.Context, id int64) (*scan.Detail, error) {
			if id == 404 {
				return nil, model.NewValidationError(404, "Scan not found")
			}
			return &scan.Detail{ID: id, State: scan.ReportReady, TotalFindings: 2, Files: []scan.FileReport{}}, nil
		},
	}
	h := NewScanHandler(&mockScanList{}, &mockScanStarter{}, details, discardLogger())

	t.Run("取得成功", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/api/scans/5", nil), "id", "5"))

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body scan.Detail
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body.ID != 5 || body.State != scan.ReportReady || body.TotalFindings != 2 {
			t.Errorf("detail = %+v", body)
		}
	})

	t.Run("存在しない", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/api/scans/404", nil), "id", "404"))
		if w.Result().StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
		}
	})

	t.Run("不正なID", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/api/scans/abc", nil), "id", "abc"))
		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
		}
	})
}
