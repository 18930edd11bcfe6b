// Package team は組織メンバーの一覧と招待を提供する。
package team

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hitoshi/cortexsync/internal/model"
)

// Backend はメンバー管理のバックエンドAPI。
type Backend interface {
	ListMembers(ctx context.Context, token string) ([]model.Member, error)
	InviteMember(ctx context.Context, token, email, role string) error
}

// Authorizer は認証付き呼び出しの経路。
type Authorizer interface {
	Authorized(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// Service はメンバー管理のサービス。
type Service struct {
	backend Backend
	auth    Authorizer
	logger  *slog.Logger
}

// NewService はServiceを生成する。
func NewService(b Backend, auth Authorizer, logger *slog.Logger) *Service {
	return &Service{backend: b, auth: auth, logger: logger}
}

// Members は組織のメンバー一覧を返す。
func (s *Service) Members(ctx context.Context) ([]model.Member, error) {
	var members []model.Member
	err := s.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		members, err = s.backend.ListMembers(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// Invite はメンバーを招待し、更新後のメンバー一覧を返す。
// roleが空の場合はmemberとする。招待できるロールはadminとmemberのみ。
// 招待先は既にアカウントを持っている必要があり、その判定はバックエンドが行う。
func (s *Service) Invite(ctx context.Context, email, role string) ([]model.Member, error) {
	email, role, err := normalizeInvite(email, role)
	if err != nil {
		return nil, err
	}

	err = s.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		return s.backend.InviteMember(ctx, token, email, role)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("メンバーを招待しました", slog.String("role", role))
	return s.Members(ctx)
}

func normalizeInvite(email, role string) (string, string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", model.NewValidationError(0, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", model.NewValidationError(0, "email is not a valid address")
	}

	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "":
		role = model.RoleMember
	case model.RoleAdmin, model.RoleMember:
	default:
		return "", "", model.NewValidationError(0, "role must be admin or member")
	}
	return email, role, nil
}
