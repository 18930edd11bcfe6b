// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code       string // エラーコード
	Message    string // エラーメッセージ
	Category   string // カテゴリ: auth, backend, integration, validation
	Action     string // ユーザー向け対処方法
	StatusCode int    // バックエンドが返したHTTPステータス（ネットワーク障害時は0）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth        = "auth"
	CategoryBackend     = "backend"
	CategoryIntegration = "integration"
	CategoryValidation  = "validation"
)

// 定義済みエラーコード
const (
	ErrCodeAuthExpired          = "AUTH_EXPIRED"
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodeBackendUnavailable   = "BACKEND_UNAVAILABLE"
	ErrCodeIntegrationRevoked   = "INTEGRATION_REVOKED"
	ErrCodeOrganizationNotFound = "ORGANIZATION_NOT_FOUND"
	ErrCodeValidation           = "VALIDATION_FAILED"
	ErrCodeOAuthFailed          = "OAUTH_FAILED"
)

// NewAuthExpiredError は認証切れ（401）エラーを生成する。
func NewAuthExpiredError() *APIError {
	return &APIError{
		Code:       ErrCodeAuthExpired,
		Message:    "認証の有効期限が切れています。",
		Category:   CategoryAuth,
		Action:     "ログインし直してください。",
		StatusCode: http.StatusUnauthorized,
	}
}

// NewNotAuthenticatedError は資格情報が存在しない場合のエラーを生成する。
// ネットワーク呼び出しを行う前に検出される。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインしていません。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewOAuthFailedError はOAuthコールバックにトークンが含まれない場合のエラーを生成する。
func NewOAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthFailed,
		Message:  "OAuthコールバックでトークンを受け取れませんでした。",
		Category: CategoryAuth,
		Action:   "もう一度ログインをお試しください。",
	}
}

// NewBackendUnavailableError はネットワーク障害または5xxのエラーを生成する。
// statusCodeはネットワーク障害の場合0を指定する。
func NewBackendUnavailableError(statusCode int, reason string) *APIError {
	msg := "バックエンドに接続できませんでした。"
	if reason != "" {
		msg = fmt.Sprintf("バックエンドに接続できませんでした: %s", reason)
	}
	return &APIError{
		Code:       ErrCodeBackendUnavailable,
		Message:    msg,
		Category:   CategoryBackend,
		Action:     "しばらく待ってから再度お試しください。",
		StatusCode: statusCode,
	}
}

// NewIntegrationRevokedError はGitHub Appのインストールが外部で取り消された場合のエラーを生成する。
func NewIntegrationRevokedError(detail string) *APIError {
	msg := "GitHub Appのインストールが見つからないか、アクセスが取り消されています。"
	if detail != "" {
		msg = detail
	}
	return &APIError{
		Code:       ErrCodeIntegrationRevoked,
		Message:    msg,
		Category:   CategoryIntegration,
		Action:     "GitHub Appを再インストールしてください。",
		StatusCode: http.StatusNotFound,
	}
}

// NewOrganizationNotFoundError はユーザーが組織に所属していない場合のエラーを生成する。
func NewOrganizationNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeOrganizationNotFound,
		Message:  "所属している組織が見つかりません。",
		Category: CategoryIntegration,
		Action:   "組織の管理者に招待を依頼してください。",
	}
}

// NewValidationError はバックエンドが返したdetailをそのまま保持するエラーを生成する。
func NewValidationError(statusCode int, detail string) *APIError {
	if detail == "" {
		detail = "リクエストが受け付けられませんでした。"
	}
	return &APIError{
		Code:       ErrCodeValidation,
		Message:    detail,
		Category:   CategoryValidation,
		Action:     "入力内容を確認してください。",
		StatusCode: statusCode,
	}
}

// AsAPIError はerrからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAuthExpired はerrが401由来の認証切れかを判定する。
func IsAuthExpired(err error) bool {
	return hasCode(err, ErrCodeAuthExpired)
}

// IsNotAuthenticated はerrが資格情報未設定によるものかを判定する。
func IsNotAuthenticated(err error) bool {
	return hasCode(err, ErrCodeNotAuthenticated)
}

// IsBackendUnavailable はerrがバックエンド障害によるものかを判定する。
func IsBackendUnavailable(err error) bool {
	return hasCode(err, ErrCodeBackendUnavailable)
}

// IsIntegrationRevoked はerrがインストール取り消しによるものかを判定する。
func IsIntegrationRevoked(err error) bool {
	return hasCode(err, ErrCodeIntegrationRevoked)
}

// IsValidation はerrが入力検証エラーかを判定する。
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

func hasCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}
