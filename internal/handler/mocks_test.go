package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/hitoshi/cortexsync/internal/integration"
	"github.com/hitoshi/cortexsync/internal/model"
	"github.com/hitoshi/cortexsync/internal/scan"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- モック定義 ---

type mockSessionService struct {
	snapshotFn            func() model.Session
	loginWithPasswordFn   func(ctx context.Context, email, password string) (string, error)
	registerFn            func(ctx context.Context, email, password string) (string, error)
	handleOAuthCallbackFn func(ctx context.Context, token string) (string, error)
	logoutFn              func(ctx context.Context) (string, error)
}

func (m *mockSessionService) Snapshot() model.Session {
	if m.snapshotFn != nil {
		return m.snapshotFn()
	}
	return model.Session{Status: model.SessionAnonymous}
}

func (m *mockSessionService) LoginWithPassword(ctx context.Context, email, password string) (string, error) {
	if m.loginWithPasswordFn != nil {
		return m.loginWithPasswordFn(ctx, email, password)
	}
	return "/dashboard", nil
}

func (m *mockSessionService) Register(ctx context.Context, email, password string) (string, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return "/login", nil
}

func (m *mockSessionService) HandleOAuthCallback(ctx context.Context, token string) (string, error) {
	if m.handleOAuthCallbackFn != nil {
		return m.handleOAuthCallbackFn(ctx, token)
	}
	return "/dashboard", nil
}

func (m *mockSessionService) Logout(ctx context.Context) (string, error) {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return "/", nil
}

func authenticatedSession() model.Session {
	return model.Session{
		Status: model.SessionAuthenticated,
		User:   &model.Identity{ID: 1, Email: "dev@example.com"},
	}
}

type mockDashboardService struct {
	loadFn     func(ctx context.Context, installationID *int64) (integration.State, error)
	refreshFn  func(ctx context.Context) (integration.State, error)
	snapshotFn func() integration.State
}

func (m *mockDashboardService) Load(ctx context.Context, installationID *int64) (integration.State, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, installationID)
	}
	return integration.State{Linkage: model.LinkageUnlinked}, nil
}

func (m *mockDashboardService) Refresh(ctx context.Context) (integration.State, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return integration.State{Linkage: model.LinkageUnlinked}, nil
}

func (m *mockDashboardService) Snapshot() integration.State {
	if m.snapshotFn != nil {
		return m.snapshotFn()
	}
	return integration.State{}
}

type mockRedirectValidator struct {
	validateFn func(rawURL string) error
}

func (m *mockRedirectValidator) ValidateRedirect(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

type mockScanList struct {
	scans     []model.Scan
	hasActive bool
}

func (m *mockScanList) Scans() []model.Scan { return m.scans }
func (m *mockScanList) HasActive() bool     { return m.hasActive }

type mockScanStarter struct {
	startScanFn func(ctx context.Context, repositoryFullName string) (*model.Scan, error)
}

func (m *mockScanStarter) StartScan(ctx context.Context, repositoryFullName string) (*model.Scan, error) {
	if m.startScanFn != nil {
		return m.startScanFn(ctx, repositoryFullName)
	}
	return &model.Scan{ID: 1, Status: model.ScanPending, RepositoryName: repositoryFullName}, nil
}

type mockScanDetailService struct {
	detailFn func(ctx context.Context, id int64) (*scan.Detail, error)
}

func (m *mockScanDetailService) Detail(ctx context.Context, id int64) (*scan.Detail, error) {
	if m.detailFn != nil {
		return m.detailFn(ctx, id)
	}
	return &scan.Detail{ID: id, State: scan.ReportNoResults, Files: []scan.FileReport{}}, nil
}

type mockTeamService struct {
	membersFn func(ctx context.Context) ([]model.Member, error)
	inviteFn  func(ctx context.Context, email, role string) ([]model.Member, error)
}

func (m *mockTeamService) Members(ctx context.Context) ([]model.Member, error) {
	if m.membersFn != nil {
		return m.membersFn(ctx)
	}
	return nil, nil
}

func (m *mockTeamService) Invite(ctx context.Context, email, role string) ([]model.Member, error) {
	if m.inviteFn != nil {
		return m.inviteFn(ctx, email, role)
	}
	return nil, nil
}
