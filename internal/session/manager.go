// Package session は資格情報から導出されるセッション状態を管理する。
// 資格情報ストアへの書き込みはこのパッケージのみが行う。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/cortexsync/internal/backend"
	"github.com/hitoshi/cortexsync/internal/credential"
	"github.com/hitoshi/cortexsync/internal/metrics"
	"github.com/hitoshi/cortexsync/internal/model"
)

// 遷移先
const (
	DestDashboard   = "/dashboard"
	DestHome        = "/"
	DestLogin       = "/login"
	DestOAuthFailed = "/login?error=oauth_failed"
)

// ErrSuperseded は検証中に資格情報が置き換えられ、結果が破棄されたことを示す。
var ErrSuperseded = errors.New("session: verification superseded")

// Backend はセッション管理が利用するバックエンドAPI。
type Backend interface {
	CurrentUser(ctx context.Context, token string) (*model.Identity, error)
	Login(ctx context.Context, creds backend.Credentials) (string, error)
	Register(ctx context.Context, creds backend.Credentials) error
}

// Navigator は遷移先の通知を受け取る。
type Navigator interface {
	Navigate(dest string)
}

// NavigatorFunc は関数をNavigatorとして扱うアダプター。
type NavigatorFunc func(dest string)

// Navigate はf(dest)を呼び出す。
func (f NavigatorFunc) Navigate(dest string) { f(dest) }

// Manager はセッション状態機械。
// Uninitialized → Loading → Authenticated/Anonymous の遷移を管理する。
type Manager struct {
	store   credential.Store
	backend Backend
	nav     Navigator
	logger  *slog.Logger
	metrics metrics.Recorder

	mu         sync.Mutex
	credential string
	session    model.Session
	generation uint64
	started    bool

	subMu       sync.Mutex
	subscribers map[int]func(model.Session)
	nextSubID   int

	// notifyMu は購読者への通知を直列化する
	notifyMu sync.Mutex
}

// NewManager はManagerを生成する。navとrecorderはnilでもよい。
func NewManager(store credential.Store, b Backend, nav Navigator, logger *slog.Logger, recorder metrics.Recorder) *Manager {
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	return &Manager{
		store:       store,
		backend:     b,
		nav:         nav,
		logger:      logger,
		metrics:     metrics.OrNop(recorder),
		session:     model.Session{Status: model.SessionUninitialized},
		subscribers: make(map[int]func(model.Session)),
	}
}

// Start は保存済みの資格情報を読み込み、検証する。プロセスにつき1回のみ有効。
// 資格情報がない場合はネットワーク呼び出しを行わずAnonymousとなる。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	token, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("資格情報の読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
		token = ""
	}

	if token == "" {
		m.mu.Lock()
		m.generation++
		m.credential = ""
		m.setSessionLocked(model.Session{Status: model.SessionAnonymous})
		m.mu.Unlock()
		m.notify()
		return nil
	}

	// 検証失敗は状態に反映済みのためエラーとしない
	if _, err := m.Verify(ctx, token); errors.Is(err, ErrSuperseded) || backend.IsCanceled(err) {
		return err
	}
	return nil
}

// Verify は資格情報を現在の資格情報として採用し、/users/me で検証する。
// 失敗した場合（ネットワーク障害を含む）は資格情報を削除しAnonymousとなる。
func (m *Manager) Verify(ctx context.Context, token string) (*model.Identity, error) {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.credential = token
	m.setSessionLocked(model.Session{Status: model.SessionLoading})
	m.mu.Unlock()
	m.notify()

	return m.verify(ctx, token, gen)
}

// verify は検証結果をgenが最新の場合に限り反映する。
func (m *Manager) verify(ctx context.Context, token string, gen uint64) (*model.Identity, error) {
	identity, err := m.backend.CurrentUser(ctx, token)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.logger.Debug("古い検証結果を破棄しました")
		return nil, ErrSuperseded
	}

	if err != nil && backend.IsCanceled(err) {
		m.mu.Unlock()
		return nil, err
	}

	if err != nil {
		m.generation++
		m.credential = ""
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.Error("資格情報の削除に失敗しました",
				slog.String("error", clearErr.Error()),
			)
		}
		m.setSessionLocked(model.Session{Status: model.SessionAnonymous})
		m.mu.Unlock()
		m.notify()

		m.logger.Info("資格情報の検証に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	user := *identity
	m.setSessionLocked(model.Session{User: &user, Status: model.SessionAuthenticated})
	m.mu.Unlock()
	m.notify()

	m.logger.Info("セッションを認証しました", slog.Int64("user_id", user.ID))
	return identity, nil
}

// Login は資格情報を保存して検証し、検証の完了後に遷移先を通知する。
// 成功時は/dashboard、失敗時は/loginへ遷移する。
func (m *Manager) Login(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.credential = token
	if err := m.store.Save(ctx, token); err != nil {
		m.credential = ""
		m.setSessionLocked(model.Session{Status: model.SessionAnonymous})
		m.mu.Unlock()
		m.notify()
		return "", fmt.Errorf("failed to save credential: %w", err)
	}
	m.setSessionLocked(model.Session{Status: model.SessionLoading})
	m.mu.Unlock()
	m.notify()

	if _, err := m.verify(ctx, token, gen); err != nil {
		if errors.Is(err, ErrSuperseded) || backend.IsCanceled(err) {
			return "", err
		}
		m.nav.Navigate(DestLogin)
		return DestLogin, err
	}

	m.nav.Navigate(DestDashboard)
	return DestDashboard, nil
}

// LoginWithPassword はパスワード認証でトークンを取得し、Loginする。
// 認証に失敗した場合は遷移せず、バックエンドのメッセージをそのまま返す。
func (m *Manager) LoginWithPassword(ctx context.Context, email, password string) (string, error) {
	token, err := m.backend.Login(ctx, backend.Credentials{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	return m.Login(ctx, token)
}

// Register はユーザー登録を行い、成功時は/loginへ遷移する。
func (m *Manager) Register(ctx context.Context, email, password string) (string, error) {
	if err := m.backend.Register(ctx, backend.Credentials{Email: email, Password: password}); err != nil {
		return "", err
	}
	m.nav.Navigate(DestLogin)
	return DestLogin, nil
}

// HandleOAuthCallback はOAuthコールバックで受け取ったトークンでLoginする。
// トークンがない場合は/login?error=oauth_failedへ遷移する。
func (m *Manager) HandleOAuthCallback(ctx context.Context, token string) (string, error) {
	if token == "" {
		m.nav.Navigate(DestOAuthFailed)
		return DestOAuthFailed, model.NewOAuthFailedError()
	}
	return m.Login(ctx, token)
}

// Logout は資格情報を同期的に削除しAnonymousとする。ネットワーク呼び出しは行わない。
// 実行中の検証結果はすべて破棄される。
func (m *Manager) Logout(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.generation++
	m.credential = ""
	clearErr := m.store.Clear(ctx)
	m.setSessionLocked(model.Session{Status: model.SessionAnonymous})
	m.mu.Unlock()
	m.notify()

	if clearErr != nil {
		m.logger.Error("資格情報の削除に失敗しました",
			slog.String("error", clearErr.Error()),
		)
		clearErr = fmt.Errorf("failed to clear credential: %w", clearErr)
	}

	m.nav.Navigate(DestHome)
	return DestHome, clearErr
}

// Expire は401を受け取った場合の処理。
// rejectedが現在の資格情報と一致する場合のみ削除し、/loginへ遷移する。
// すでに別の資格情報に置き換わっている場合は何もしない。
func (m *Manager) Expire(ctx context.Context, rejected string) string {
	m.mu.Lock()
	if rejected == "" || m.credential != rejected {
		m.mu.Unlock()
		return ""
	}
	m.generation++
	m.credential = ""
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("資格情報の削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	m.setSessionLocked(model.Session{Status: model.SessionAnonymous})
	m.mu.Unlock()
	m.notify()

	m.logger.Info("資格情報の有効期限が切れました")
	m.nav.Navigate(DestLogin)
	return DestLogin
}

// Authorized は認証付きのバックエンド呼び出しを行う唯一の経路。
// 呼び出しごとに現在の資格情報を読み直し、未設定の場合はネットワーク呼び出しを行わない。
// fnがAuthExpiredを返した場合はExpireを実行する。
func (m *Manager) Authorized(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	token := m.Credential()
	if token == "" {
		return model.NewNotAuthenticatedError()
	}

	err := fn(ctx, token)
	if model.IsAuthExpired(err) {
		m.Expire(ctx, token)
	}
	return err
}

// ReloadFromStore は外部で資格情報が変更された場合に読み直す。
// 削除されていればAnonymous、別の値に置き換わっていれば再検証する。
func (m *Manager) ReloadFromStore(ctx context.Context) error {
	token, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload credential: %w", err)
	}

	m.mu.Lock()
	if token == m.credential {
		m.mu.Unlock()
		return nil
	}
	if token == "" {
		m.generation++
		m.credential = ""
		m.setSessionLocked(model.Session{Status: model.SessionAnonymous})
		m.mu.Unlock()
		m.notify()
		m.logger.Info("資格情報が外部で削除されました")
		return nil
	}
	m.mu.Unlock()

	m.logger.Info("資格情報が外部で置き換えられました")
	if _, err := m.Verify(ctx, token); err != nil && (errors.Is(err, ErrSuperseded) || backend.IsCanceled(err)) {
		return err
	}
	return nil
}

// Credential は現在の資格情報を返す。
func (m *Manager) Credential() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential
}

// Snapshot は現在のセッション状態のコピーを返す。
func (m *Manager) Snapshot() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() model.Session {
	s := model.Session{Status: m.session.Status}
	if m.session.User != nil {
		user := *m.session.User
		s.User = &user
	}
	return s
}

// Subscribe はセッション状態の変化を購読する。戻り値の関数で購読を解除する。
// 通知は直列に行われ、最後の通知は常に最新の状態を表す。
// fnの中からManagerの状態を変更するメソッドを同期的に呼び出してはならない。
func (m *Manager) Subscribe(fn func(model.Session)) func() {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) setSessionLocked(s model.Session) {
	m.session = s
	m.metrics.RecordSessionTransition(string(s.Status))
}

// notify は現在の状態を購読者へ通知する。
func (m *Manager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	snapshot := m.Snapshot()

	m.subMu.Lock()
	subs := make([]func(model.Session), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}
