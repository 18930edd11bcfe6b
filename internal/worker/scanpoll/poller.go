// Package scanpoll はスキャン一覧の定期ポーリングを提供する。
// 各ティックは前のティックの完了を待たずに実行し、成功時のみ一覧を丸ごと置き換える。
package scanpoll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/cortexsync/internal/backend"
	"github.com/hitoshi/cortexsync/internal/metrics"
	"github.com/hitoshi/cortexsync/internal/model"
)

// DefaultInterval はポーリング間隔のデフォルト値。
const DefaultInterval = 5 * time.Second

// ScanLister はスキャン一覧の取得インターフェース。
type ScanLister interface {
	ListScans(ctx context.Context, token string) ([]model.Scan, error)
}

// Authorizer は認証付き呼び出しの経路。session.Managerが実装する。
type Authorizer interface {
	Authorized(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// SessionSource はセッション状態の購読元。session.Managerが実装する。
type SessionSource interface {
	Snapshot() model.Session
	Subscribe(fn func(model.Session)) func()
}

// Transition はポーリング間で観測されたスキャン状態の変化。
// 新規に現れたスキャンの場合Fromは空文字列となる。
type Transition struct {
	Scan model.Scan
	From model.ScanStatus
}

// Poller はスキャン一覧を保持し、定期的に更新する。
type Poller struct {
	lister   ScanLister
	auth     Authorizer
	logger   *slog.Logger
	metrics  metrics.Recorder
	interval time.Duration

	mu           sync.Mutex
	scans        []model.Scan
	loaded       bool
	epoch        uint64
	onTransition func(Transition)
}

// NewPoller はPollerを生成する。intervalが0以下の場合はDefaultIntervalを使用する。
func NewPoller(lister ScanLister, auth Authorizer, interval time.Duration, logger *slog.Logger, recorder metrics.Recorder) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		lister:   lister,
		auth:     auth,
		logger:   logger,
		metrics:  metrics.OrNop(recorder),
		interval: interval,
		scans:    []model.Scan{},
	}
}

// OnTransition はスキャン状態の変化を受け取るコールバックを設定する。
func (p *Poller) OnTransition(fn func(Transition)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTransition = fn
}

// Refresh はスキャン一覧を1回取得する。
// 成功時は一覧をバックエンドの順序のまま置き換え、失敗時は前回の一覧を維持してエラーを返す。
// 取得中にStopまたはClearされた場合、結果は破棄される。
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()

	var scans []model.Scan
	err := p.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		scans, err = p.lister.ListScans(ctx, token)
		return err
	})
	if err != nil {
		if backend.IsCanceled(err) {
			p.metrics.RecordPoll(metrics.OutcomeDiscarded)
			return err
		}
		p.metrics.RecordPoll(metrics.OutcomeSkipped)
		p.logger.Debug("スキャン一覧の取得をスキップしました",
			slog.String("error", err.Error()),
		)
		return err
	}

	p.mu.Lock()
	if epoch != p.epoch || ctx.Err() != nil {
		p.mu.Unlock()
		p.metrics.RecordPoll(metrics.OutcomeDiscarded)
		return nil
	}
	var transitions []Transition
	if p.loaded {
		transitions = diff(p.scans, scans)
	}
	p.scans = scans
	p.loaded = true
	onTransition := p.onTransition
	p.mu.Unlock()

	p.metrics.RecordPoll(metrics.OutcomeSuccess)

	if onTransition != nil {
		for _, tr := range transitions {
			onTransition(tr)
		}
	}
	return nil
}

// diff は前回と今回の一覧から状態変化を抽出する。
func diff(prev, next []model.Scan) []Transition {
	before := make(map[int64]model.ScanStatus, len(prev))
	for _, s := range prev {
		before[s.ID] = s.Status
	}

	var out []Transition
	for _, s := range next {
		from, ok := before[s.ID]
		if ok && from == s.Status {
			continue
		}
		out = append(out, Transition{Scan: s, From: from})
	}
	return out
}

// Scans は現在のスキャン一覧のコピーを返す。
func (p *Poller) Scans() []model.Scan {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Scan, len(p.scans))
	copy(out, p.scans)
	return out
}

// HasActive は実行中のスキャンが存在するかを返す。
func (p *Poller) HasActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.scans {
		if p.scans[i].IsActive() {
			return true
		}
	}
	return false
}

// Clear は一覧を空にし、取得中の結果を破棄する。
func (p *Poller) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	p.scans = []model.Scan{}
	p.loaded = false
}

// Handle は実行中のポーリングを表す。Stopで停止する。
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	poller   *Poller
}

// Stop はポーリングを停止する。以降に届いた応答は破棄される。複数回呼び出してもよい。
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.poller.mu.Lock()
		h.poller.epoch++
		h.poller.mu.Unlock()

		h.cancel()
		<-h.done
	})
}

// Start は起動直後に1回、以降は一定間隔でRefreshを実行する。
// 各ティックは前回の完了を待たずに実行する。
func (p *Poller) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{}), poller: p}

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.logger.Info("スキャンポーリングを開始しました",
			slog.Duration("interval", p.interval),
		)

		go p.Refresh(ctx)

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("スキャンポーリングを停止しました")
				return
			case <-ticker.C:
				go p.Refresh(ctx)
			}
		}
	}()

	return h
}

// Follow はセッション状態に追従してポーリングを開始・停止する。
// 認証済みになると開始し、それ以外（Loadingを含む）になるか
// ユーザーが入れ替わると停止して一覧を破棄する。
// ctxがキャンセルされるまでブロックする。
func (p *Poller) Follow(ctx context.Context, sessions SessionSource) {
	changed := make(chan struct{}, 1)
	unsubscribe := sessions.Subscribe(func(model.Session) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var handle *Handle
	var owner int64
	stop := func() {
		if handle != nil {
			handle.Stop()
			handle = nil
		}
		p.Clear()
	}
	apply := func() {
		s := sessions.Snapshot()
		if !s.IsAuthenticated() {
			// Loading中も前の資格情報で取得した一覧を残さない
			stop()
			return
		}
		if handle != nil && owner != s.User.ID {
			stop()
		}
		if handle == nil {
			owner = s.User.ID
			handle = p.Start(ctx)
		}
	}

	apply()
	for {
		select {
		case <-ctx.Done():
			if handle != nil {
				handle.Stop()
			}
			return
		case <-changed:
			apply()
		}
	}
}
