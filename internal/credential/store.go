// Package credential は認証トークン（JWT）の永続化を提供する。
// 書き込みはセッション管理のみが行う（単一ライター）。
package credential

import "context"

// Key は資格情報を保存するキー。
const Key = "jwt_token"

// Store は資格情報ストアのインターフェース。
// 資格情報が存在しない場合、Loadは空文字列とnilを返す。
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}
