// Package integration はGitHub Appインストールの連携状態をバックエンドと同期する。
package integration

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/hitoshi/cortexsync/internal/metrics"
	"github.com/hitoshi/cortexsync/internal/model"
)

// Backend は連携状態の同期に利用するバックエンドAPI。
type Backend interface {
	Organizations(ctx context.Context, token string) ([]model.Organization, error)
	InstallURL(ctx context.Context, token string) (string, error)
	ManagementURL(ctx context.Context, token string) (string, error)
	Repositories(ctx context.Context, token string) ([]model.Repository, error)
	CompleteInstallation(ctx context.Context, token string, installationID int64) (*model.Organization, error)
	StartScan(ctx context.Context, token, repositoryName string) (*model.Scan, error)
}

// Authorizer は認証付き呼び出しの経路。session.Managerが実装する。
type Authorizer interface {
	Authorized(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// SessionSource はセッション状態の通知元。session.Managerが実装する。
type SessionSource interface {
	Subscribe(fn func(model.Session)) func()
}

// ScanRefresher はスキャン一覧の即時更新を行う。scanpoll.Pollerが実装する。
type ScanRefresher interface {
	Refresh(ctx context.Context) error
}

// State はダッシュボードに表示する連携状態。
type State struct {
	Organization          *model.Organization `json:"organization"`
	Linkage               model.Linkage       `json:"linkage"`
	Repositories          []model.Repository  `json:"repositories"`
	InstallURL            string              `json:"install_url,omitempty"`
	ManagementURL         string              `json:"management_url,omitempty"`
	PendingInstallationID *int64              `json:"pending_installation_id,omitempty"`
	Err                   error               `json:"-"`
}

// Reconciler は組織の連携状態を保持し、インストール完了ハンドシェイクを1回だけ実行する。
type Reconciler struct {
	backend Backend
	auth    Authorizer
	scans   ScanRefresher
	logger  *slog.Logger
	metrics metrics.Recorder

	mu        sync.Mutex
	state     State
	completed map[int64]struct{}
	epoch     uint64
	closed    bool
}

// NewReconciler はReconcilerを生成する。scansとrecorderはnilでもよい。
func NewReconciler(b Backend, auth Authorizer, scans ScanRefresher, logger *slog.Logger, recorder metrics.Recorder) *Reconciler {
	return &Reconciler{
		backend:   b,
		auth:      auth,
		scans:     scans,
		logger:    logger,
		metrics:   metrics.OrNop(recorder),
		state:     emptyState(),
		completed: make(map[int64]struct{}),
	}
}

func emptyState() State {
	return State{Linkage: model.LinkageUnlinked, Repositories: []model.Repository{}}
}

// apply はepochが最新かつClose前の場合に限りfnで状態を更新する。
func (r *Reconciler) apply(epoch uint64, fn func(s *State)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || epoch != r.epoch {
		return false
	}
	fn(&r.state)
	return true
}

func (r *Reconciler) currentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// LoadOrganization はユーザーの組織を取得する。複数ある場合は先頭を使用する。
// 所属する組織がない場合はOrganizationNotFoundを返す。
func (r *Reconciler) LoadOrganization(ctx context.Context) (*model.Organization, error) {
	return r.loadOrganization(ctx, r.currentEpoch())
}

func (r *Reconciler) loadOrganization(ctx context.Context, epoch uint64) (*model.Organization, error) {
	var orgs []model.Organization
	err := r.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		orgs, err = r.backend.Organizations(ctx, token)
		return err
	})
	if err == nil && len(orgs) == 0 {
		err = model.NewOrganizationNotFoundError()
	}
	if err != nil {
		r.apply(epoch, func(s *State) { s.Err = err })
		return nil, err
	}

	org := orgs[0]
	r.apply(epoch, func(s *State) {
		s.Organization = &org
		if s.PendingInstallationID == nil {
			s.Linkage = org.Linkage()
		}
		s.Err = nil
	})
	return &org, nil
}

// ResolveIntegrationState は組織の連携状態に応じてリポジトリ一覧またはインストールURLを取得する。
// リポジトリ取得が404の場合はローカルで未連携に格下げし、インストールURLを取得する。
func (r *Reconciler) ResolveIntegrationState(ctx context.Context, org model.Organization) (State, error) {
	err := r.resolve(ctx, org, r.currentEpoch())
	return r.Snapshot(), err
}

func (r *Reconciler) resolve(ctx context.Context, org model.Organization, epoch uint64) error {
	if org.Linkage() == model.LinkageLinked {
		var repos []model.Repository
		err := r.auth.Authorized(ctx, func(ctx context.Context, token string) error {
			var err error
			repos, err = r.backend.Repositories(ctx, token)
			return err
		})

		switch {
		case err == nil:
			managementURL := r.fetchManagementURL(ctx)
			r.apply(epoch, func(s *State) {
				s.Organization = &org
				s.Linkage = model.LinkageLinked
				s.Repositories = repos
				s.ManagementURL = managementURL
				s.InstallURL = ""
				s.Err = nil
			})
			return nil
		case model.IsIntegrationRevoked(err):
			r.logger.Warn("GitHub Appのインストールが取り消されています。未連携として扱います",
				slog.Int64("organization_id", org.ID),
			)
			org = org.WithoutInstallation()
		default:
			r.apply(epoch, func(s *State) { s.Err = err })
			return err
		}
	}

	var installURL string
	err := r.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		installURL, err = r.backend.InstallURL(ctx, token)
		return err
	})
	r.apply(epoch, func(s *State) {
		s.Organization = &org
		s.Linkage = model.LinkageUnlinked
		s.Repositories = []model.Repository{}
		s.ManagementURL = ""
		s.InstallURL = installURL
		s.Err = err
	})
	return err
}

// fetchManagementURL は管理画面URLを取得する。失敗した場合は空文字列を返す。
func (r *Reconciler) fetchManagementURL(ctx context.Context) string {
	var managementURL string
	err := r.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		managementURL, err = r.backend.ManagementURL(ctx, token)
		return err
	})
	if err != nil {
		r.logger.Debug("管理画面URLを取得できませんでした",
			slog.String("error", err.Error()),
		)
		return ""
	}
	return managementURL
}

// CompleteInstallation はインストールIDを組織に紐付けるハンドシェイクを実行する。
// 同じインストールIDに対するハンドシェイクはこのReconcilerの生存期間中1回のみ送信する。
// 送信前にIDを記録するため、失敗した場合も再送しない。
// 成功時は返された組織で状態を置き換えてからResolveIntegrationStateを実行する。
func (r *Reconciler) CompleteInstallation(ctx context.Context, installationID int64) (State, error) {
	r.mu.Lock()
	if r.closed {
		// 破棄後は送信せず、保持している状態をそのまま返す
		r.mu.Unlock()
		return r.Snapshot(), nil
	}
	if _, done := r.completed[installationID]; done {
		r.mu.Unlock()
		r.metrics.RecordHandshake(metrics.OutcomeDuplicate)
		r.logger.Debug("インストール完了ハンドシェイクは実行済みです",
			slog.Int64("installation_id", installationID),
		)
		return r.Snapshot(), nil
	}
	r.completed[installationID] = struct{}{}
	epoch := r.epoch
	id := installationID
	r.state.PendingInstallationID = &id
	r.state.Linkage = model.LinkagePendingCompletion
	r.mu.Unlock()

	var org *model.Organization
	err := r.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		org, err = r.backend.CompleteInstallation(ctx, token, installationID)
		return err
	})
	if err != nil {
		r.metrics.RecordHandshake(metrics.OutcomeFailure)
		r.logger.Error("インストール完了ハンドシェイクに失敗しました",
			slog.Int64("installation_id", installationID),
			slog.String("error", err.Error()),
		)
		r.apply(epoch, func(s *State) {
			s.PendingInstallationID = nil
			s.Linkage = s.Organization.Linkage()
			s.Err = err
		})
		return r.Snapshot(), err
	}

	applied := r.apply(epoch, func(s *State) {
		s.Organization = org
		s.Linkage = org.Linkage()
		s.PendingInstallationID = nil
		s.Err = nil
	})
	if !applied {
		r.metrics.RecordHandshake(metrics.OutcomeDiscarded)
		return r.Snapshot(), nil
	}
	r.metrics.RecordHandshake(metrics.OutcomeSuccess)
	r.logger.Info("インストール完了ハンドシェイクが完了しました",
		slog.Int64("installation_id", installationID),
		slog.Int64("organization_id", org.ID),
	)

	err = r.resolve(ctx, *org, epoch)
	return r.Snapshot(), err
}

// Load はダッシュボード表示時の入口。
// installationIDが指定され未処理の場合はハンドシェイクを実行し、
// それ以外は組織を取得して連携状態を解決する。
func (r *Reconciler) Load(ctx context.Context, installationID *int64) (State, error) {
	if installationID != nil {
		r.mu.Lock()
		_, done := r.completed[*installationID]
		r.mu.Unlock()
		if !done {
			return r.CompleteInstallation(ctx, *installationID)
		}
		r.metrics.RecordHandshake(metrics.OutcomeDuplicate)
	}

	epoch := r.currentEpoch()
	org, err := r.loadOrganization(ctx, epoch)
	if err != nil {
		return r.Snapshot(), err
	}
	err = r.resolve(ctx, *org, epoch)
	return r.Snapshot(), err
}

// Refresh は組織と連携状態を再取得する。
func (r *Reconciler) Refresh(ctx context.Context) (State, error) {
	return r.Load(ctx, nil)
}

// StartScan はスキャンを開始し、ティックを待たずにスキャン一覧を更新する。
func (r *Reconciler) StartScan(ctx context.Context, repositoryFullName string) (*model.Scan, error) {
	repositoryFullName = strings.TrimSpace(repositoryFullName)
	if repositoryFullName == "" {
		return nil, model.NewValidationError(0, "repository_name is required")
	}

	var scan *model.Scan
	err := r.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		scan, err = r.backend.StartScan(ctx, token, repositoryFullName)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("スキャンを開始しました",
		slog.Int64("scan_id", scan.ID),
		slog.String("repository", repositoryFullName),
	)

	if r.scans != nil {
		if err := r.scans.Refresh(ctx); err != nil {
			r.logger.Debug("スキャン一覧の即時更新に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
	return scan, nil
}

// Snapshot は現在の連携状態のコピーを返す。
func (r *Reconciler) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state
	if r.state.Organization != nil {
		org := *r.state.Organization
		s.Organization = &org
	}
	s.Repositories = append([]model.Repository{}, r.state.Repositories...)
	if r.state.PendingInstallationID != nil {
		id := *r.state.PendingInstallationID
		s.PendingInstallationID = &id
	}
	return s
}

// Reset は状態とハンドシェイク記録を破棄する。ログアウト時と資格情報の置き換え時に使用する。
// 実行中の呼び出しの結果は反映されない。
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.state = emptyState()
	r.completed = make(map[int64]struct{})
}

// Close は以降の応答をすべて破棄する。
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.closed = true
}

// Follow はセッションに追従し、資格情報が変わるたびにResetする。
// Loading・Anonymousへの遷移と、認証済みユーザーの入れ替わりが対象。
// 戻り値の関数で購読を解除する。
func (r *Reconciler) Follow(sessions SessionSource) func() {
	var mu sync.Mutex
	var owner int64

	return sessions.Subscribe(func(s model.Session) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case s.IsAuthenticated():
			// 通知がまとめられLoadingを観測できない場合もユーザーIDで検知する
			if owner != 0 && owner != s.User.ID {
				r.Reset()
			}
			owner = s.User.ID
		case s.Status == model.SessionLoading, s.Status == model.SessionAnonymous:
			r.Reset()
			owner = 0
		}
	})
}

// ParseInstallationID はリダイレクトのクエリパラメータからインストールIDを取り出す。
// 空の場合はnilを返す。
func ParseInstallationID(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, model.NewValidationError(0, "installation_id must be a positive integer")
	}
	return &id, nil
}
