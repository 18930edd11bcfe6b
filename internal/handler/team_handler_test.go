package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/cortexsync/internal/model"
)

func TestTeamHandler_List(t *testing.T) {
	svc := &mockTeamService{
		membersFn: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: 1, Email: "owner@example.com", Role: model.RoleOwner},
				{ID: 2, Email: "dev@example.com", Role: model.RoleMember},
			}, nil
		},
	}
	h := NewTeamHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/team/members", nil))

	var body struct {
		Members []model.Member `json:"members"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Members) != 2 || body.Members[0].Role != model.RoleOwner {
		t.Errorf("members = %+v", body.Members)
	}
}

func TestTeamHandler_List_EmptyIsArray(t *testing.T) {
	h := NewTeamHandler(&mockTeamService{}, discardLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/team/members", nil))

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if string(raw["members"]) != "[]" {
		t.Errorf("members = %s, want []", raw["members"])
	}
}

func TestTeamHandler_Invite(t *testing.T) {
	var gotEmail, gotRole string
	svc := &mockTeamService{
		inviteFn: func(ctx context.Context, email, role string) ([]model.Member, error) {
			gotEmail, gotRole = email, role
			return []model.Member{{ID: 3, Email: email, Role: role}}, nil
		},
	}
	h := NewTeamHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.Invite(w, jsonRequest(http.MethodPost, "/api/team/members", `{"email":"new@example.com","role":"admin"}`))

	if w.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
	if gotEmail != "new@example.com" || gotRole != "admin" {
		t.Errorf("invite = %q/%q", gotEmail, gotRole)
	}
}

func TestTeamHandler_Invite_BackendDetail(t *testing.T) {
	svc := &mockTeamService{
		inviteFn: func(ctx context.Context, email, role string) ([]model.Member, error) {
			return nil, model.NewValidationError(404, "User with this email not found")
		},
	}
	h := NewTeamHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.Invite(w, jsonRequest(http.MethodPost, "/api/team/members", `{"email":"ghost@example.com"}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if body := decodeError(t, resp); body.Message != "User with this email not found" {
		t.Errorf("message = %q, want backend detail", body.Message)
	}
}
