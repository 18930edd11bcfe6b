package model

// Organization はユーザーが所属する組織を表す。
// InstallationIDはGitHub Appが連携済みの場合のみ非nil。
type Organization struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	OwnerID        int64  `json:"owner_id"`
	InstallationID *int64 `json:"github_installation_id,omitempty"`
}

// Linkage はGitHub Appインストールの連携状態。
type Linkage string

const (
	// LinkageUnlinked は未連携。
	LinkageUnlinked Linkage = "unlinked"
	// LinkagePendingCompletion はリダイレクトを受け取ったがバックエンドでの確定前。
	LinkagePendingCompletion Linkage = "pending_completion"
	// LinkageLinked は連携済み。
	LinkageLinked Linkage = "linked"
)

// Linkage はInstallationIDから連携状態を導出する。
// PendingCompletionはハンドシェイク中にのみReconcilerが設定するため、ここでは返さない。
func (o *Organization) Linkage() Linkage {
	if o == nil || o.InstallationID == nil {
		return LinkageUnlinked
	}
	return LinkageLinked
}

// WithoutInstallation はInstallationIDを外したコピーを返す。
// インストールが外部で取り消された場合のローカルな格下げに使用する。
func (o Organization) WithoutInstallation() Organization {
	o.InstallationID = nil
	return o
}

// Repository はGitHub Appがアクセス可能なリポジトリを表す。読み取り専用。
type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
	HTMLURL  string `json:"html_url"`
}
