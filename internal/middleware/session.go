// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/cortexsync/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに検証済みIdentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// SessionSource はセッション状態の参照に必要なインターフェース。
// session.Managerの部分集合として定義する。
type SessionSource interface {
	Snapshot() model.Session
}

// NewSessionMiddleware はセッションがAuthenticatedの場合のみ後続へ委譲するミドルウェアを返す。
// Loading中も含め、未認証のリクエストには401を返す。
// 検証済みIdentityをリクエストコンテキストに注入する。
func NewSessionMiddleware(sessions SessionSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snapshot := sessions.Snapshot()
			if !snapshot.IsAuthenticated() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			ctx := ContextWithIdentity(r.Context(), *snapshot.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext はリクエストコンテキストからIdentityを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	if !ok {
		return model.Identity{}, fmt.Errorf("identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
func ContextWithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
