package model

// Identity はバックエンドの /users/me で検証されたユーザーを表す。
// 1回の検証サイクル内では不変。
type Identity struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// SessionStatus はセッションのライフサイクル状態。
type SessionStatus string

const (
	// SessionUninitialized はプロセス起動直後、資格情報の読み込み前の状態。
	SessionUninitialized SessionStatus = "uninitialized"
	// SessionLoading は資格情報の検証中の状態。
	SessionLoading SessionStatus = "loading"
	// SessionAuthenticated は検証済みのIdentityを保持している状態。
	SessionAuthenticated SessionStatus = "authenticated"
	// SessionAnonymous は資格情報がない、または検証に失敗した状態。
	SessionAnonymous SessionStatus = "anonymous"
)

// Session は資格情報から導出されるセッション状態。永続化しない。
// Status == SessionAuthenticated のときに限りUserが非nilとなる。
type Session struct {
	User   *Identity     `json:"user"`
	Status SessionStatus `json:"status"`
}

// IsAuthenticated は認証済みかどうかを返す。
func (s Session) IsAuthenticated() bool {
	return s.Status == SessionAuthenticated && s.User != nil
}

// Member はチームメンバーを表す。
type Member struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// チームメンバーのロール
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)
