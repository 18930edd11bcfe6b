package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/cortexsync/internal/model"
)

// Credentials はパスワード認証の入力。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse は /auth/login のレスポンス。
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// CurrentUser は資格情報を検証し、ユーザー情報を返す（GET /users/me）。
func (c *Client) CurrentUser(ctx context.Context, token string) (*model.Identity, error) {
	var identity model.Identity
	err := c.call(ctx, request{
		method: http.MethodGet, path: "/users/me", endpoint: "GET /users/me", token: token,
	}, &identity)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// Login はパスワード認証を行いアクセストークンを取得する（POST /auth/login）。
// 認証失敗（401を含む）はバックエンドのdetailを持つValidationErrorとなる。
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	var resp TokenResponse
	if err := c.call(ctx, request{
		method: http.MethodPost, path: "/auth/login", endpoint: "POST /auth/login", body: creds,
	}, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", model.NewBackendUnavailableError(http.StatusOK, "access_token missing in login response")
	}
	return resp.AccessToken, nil
}

// Register はユーザー登録を行う（POST /auth/register）。
func (c *Client) Register(ctx context.Context, creds Credentials) error {
	return c.call(ctx, request{
		method: http.MethodPost, path: "/auth/register", endpoint: "POST /auth/register", body: creds,
	}, nil)
}

// Organizations はユーザーが所属する組織一覧を返す（GET /organizations/me）。
// 401以外の非2xxはすべてBackendUnavailableとなる。
func (c *Client) Organizations(ctx context.Context, token string) ([]model.Organization, error) {
	var orgs []model.Organization
	status, detail, err := c.do(ctx, request{
		method: http.MethodGet, path: "/organizations/me", endpoint: "GET /organizations/me", token: token,
	}, &orgs)
	if err != nil {
		return nil, err
	}
	switch {
	case status >= 200 && status < 300:
	case status == http.StatusUnauthorized:
		return nil, model.NewAuthExpiredError()
	default:
		return nil, model.NewBackendUnavailableError(status, detail)
	}
	return orgs, nil
}

// InstallURL はGitHub AppのインストールURLを返す（GET /github/install-url）。
func (c *Client) InstallURL(ctx context.Context, token string) (string, error) {
	var resp struct {
		InstallURL string `json:"install_url"`
	}
	if err := c.call(ctx, request{
		method: http.MethodGet, path: "/github/install-url", endpoint: "GET /github/install-url", token: token,
	}, &resp); err != nil {
		return "", err
	}
	return resp.InstallURL, nil
}

// ManagementURL はインストール管理画面のURLを返す（GET /github/installation-management-url）。
func (c *Client) ManagementURL(ctx context.Context, token string) (string, error) {
	var resp struct {
		ManagementURL string `json:"management_url"`
	}
	if err := c.call(ctx, request{
		method: http.MethodGet, path: "/github/installation-management-url",
		endpoint: "GET /github/installation-management-url", token: token,
	}, &resp); err != nil {
		return "", err
	}
	return resp.ManagementURL, nil
}

// Repositories はGitHub Appがアクセス可能なリポジトリ一覧を返す（GET /github/repositories）。
// 404はインストールの取り消しを意味し、IntegrationRevokedを返す。
func (c *Client) Repositories(ctx context.Context, token string) ([]model.Repository, error) {
	var resp struct {
		TotalCount   int                `json:"total_count"`
		Repositories []model.Repository `json:"repositories"`
	}
	status, detail, err := c.do(ctx, request{
		method: http.MethodGet, path: "/github/repositories", endpoint: "GET /github/repositories", token: token,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, model.NewIntegrationRevokedError(detail)
	}
	if err := classify(status, detail, true); err != nil {
		return nil, err
	}
	if resp.Repositories == nil {
		resp.Repositories = []model.Repository{}
	}
	return resp.Repositories, nil
}

// CompleteInstallation はインストールIDを組織に紐付け、更新後の組織を返す
// （POST /github/installation-complete）。
func (c *Client) CompleteInstallation(ctx context.Context, token string, installationID int64) (*model.Organization, error) {
	var org model.Organization
	if err := c.call(ctx, request{
		method: http.MethodPost, path: "/github/installation-complete",
		endpoint: "POST /github/installation-complete", token: token,
		body: map[string]int64{"installation_id": installationID},
	}, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// ListScans は組織のスキャン一覧を作成日時の降順で返す（GET /scans/）。
func (c *Client) ListScans(ctx context.Context, token string) ([]model.Scan, error) {
	scans := []model.Scan{}
	if err := c.call(ctx, request{
		method: http.MethodGet, path: "/scans/", endpoint: "GET /scans", token: token,
	}, &scans); err != nil {
		return nil, err
	}
	return scans, nil
}

// StartScan はリポジトリのスキャンを開始する（POST /scans/）。
func (c *Client) StartScan(ctx context.Context, token, repositoryName string) (*model.Scan, error) {
	var scan model.Scan
	if err := c.call(ctx, request{
		method: http.MethodPost, path: "/scans/", endpoint: "POST /scans", token: token,
		body: map[string]string{"repository_name": repositoryName},
	}, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

// GetScan はスキャンの詳細を返す（GET /scans/{id}）。
func (c *Client) GetScan(ctx context.Context, token string, id int64) (*model.Scan, error) {
	var scan model.Scan
	if err := c.call(ctx, request{
		method: http.MethodGet, path: fmt.Sprintf("/scans/%d", id), endpoint: "GET /scans/{id}", token: token,
	}, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

// ListMembers は組織のメンバー一覧を返す（GET /organizations/me/members）。
func (c *Client) ListMembers(ctx context.Context, token string) ([]model.Member, error) {
	members := []model.Member{}
	if err := c.call(ctx, request{
		method: http.MethodGet, path: "/organizations/me/members",
		endpoint: "GET /organizations/me/members", token: token,
	}, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// InviteMember はメンバーを招待する（POST /organizations/me/members）。
func (c *Client) InviteMember(ctx context.Context, token, email, role string) error {
	return c.call(ctx, request{
		method: http.MethodPost, path: "/organizations/me/members",
		endpoint: "POST /organizations/me/members", token: token,
		body: map[string]string{"email": email, "role": role},
	}, nil)
}
