package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hitoshi/cortexsync/internal/credential"
	"github.com/hitoshi/cortexsync/internal/handler"
	"github.com/hitoshi/cortexsync/internal/metrics"
	"github.com/hitoshi/cortexsync/internal/middleware"
	"github.com/hitoshi/cortexsync/internal/model"
	"github.com/hitoshi/cortexsync/internal/security"
	"github.com/hitoshi/cortexsync/internal/worker/scanpoll"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// startBackground はserve/watchで共通のバックグラウンド処理を起動する。
// 資格情報の検証、セッションに追従するポーリング、資格情報の変更時の連携状態破棄、
// ファイルストアの場合は別プロセスでのlogin/logoutの検知を行う。
// 戻り値の関数はすべての処理の終了を待つ。
func startBackground(ctx context.Context, c *components) func() {
	done := make(chan struct{})
	var pending int

	unsubscribe := c.reconciler.Follow(c.sessions)

	pending++
	go func() {
		defer func() { done <- struct{}{} }()
		if err := c.sessions.Start(ctx); err != nil {
			c.logger.Warn("セッションの初期化が中断されました", slog.String("error", err.Error()))
		}
	}()

	pending++
	go func() {
		defer func() { done <- struct{}{} }()
		c.poller.Follow(ctx, c.sessions)
	}()

	if fs, ok := c.store.(*credential.FileStore); ok {
		pending++
		go func() {
			defer func() { done <- struct{}{} }()
			err := fs.Watch(ctx, func() {
				if err := c.sessions.ReloadFromStore(ctx); err != nil {
					c.logger.Warn("資格情報の再読み込みに失敗しました", slog.String("error", err.Error()))
				}
			})
			if err != nil {
				c.logger.Warn("資格情報ファイルを監視できません", slog.String("error", err.Error()))
			}
		}()
	}

	return func() {
		for i := 0; i < pending; i++ {
			<-done
		}
		unsubscribe()
	}
}

// runServe はローカルコンソールサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, c *components) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rl := middleware.NewRateLimiter(middleware.PerMinuteConfig(c.cfg.RateLimitGeneral, c.cfg.RateLimitScanStart))

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: c.cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: c.cfg.CookieSecure,
			CookieDomain: c.cfg.CookieDomain,
		},
		RateLimiter:   rl,
		Logger:        c.logger,
		Sessions:      c.sessions,
		Dashboard:     c.reconciler,
		RedirectGuard: security.NewRedirectGuard(),
		Scans:         c.poller,
		ScanStarter:   c.reconciler,
		ScanDetails:   c.scans,
		Team:          c.team,
		Metrics:       metrics.Handler(c.registry),
	})

	server := &http.Server{
		Addr:         ":" + c.cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		rl.Stop()
		return fmt.Errorf("failed to listen: %w", err)
	}

	wait := startBackground(ctx, c)

	serveErr := make(chan error, 1)
	go func() {
		c.logger.Info("コンソールサーバーを起動しました",
			slog.String("addr", ln.Addr().String()),
			slog.String("base_url", c.cfg.BaseURL),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		c.logger.Info("コンソールサーバーを停止しています")
	case err := <-serveErr:
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("server error: %w", err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("server shutdown failed: %w", err))
	}
	rl.Stop()
	cancel()
	wait()

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	c.logger.Info("コンソールサーバーを停止しました")
	return nil
}

// runWatch はスキャンの状態遷移をログに出力し続ける。
// シグナルを受信するか、ログアウト（資格情報の削除）を検知すると終了する。
func runWatch(ctx context.Context, c *components) error {
	if err := c.sessions.Start(ctx); err != nil {
		return fmt.Errorf("failed to verify session: %w", err)
	}
	if !c.sessions.Snapshot().IsAuthenticated() {
		return fmt.Errorf("not logged in: run login first")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.poller.OnTransition(func(t scanpoll.Transition) {
		c.logger.Info("スキャンの状態が変化しました",
			slog.Int64("scan_id", t.Scan.ID),
			slog.String("repository", t.Scan.RepositoryName),
			slog.String("from", string(t.From)),
			slog.String("to", string(t.Scan.Status)),
		)
	})

	loggedOut := make(chan struct{})
	unsubscribe := c.sessions.Subscribe(func(s model.Session) {
		if s.Status == model.SessionAnonymous {
			select {
			case <-loggedOut:
			default:
				close(loggedOut)
			}
		}
	})
	defer unsubscribe()

	wait := startBackground(ctx, c)

	c.logger.Info("スキャンの監視を開始しました",
		slog.Duration("interval", c.cfg.ScanPollInterval),
	)

	select {
	case <-ctx.Done():
	case <-loggedOut:
		c.logger.Info("ログアウトを検知したため監視を終了します")
	}

	cancel()
	wait()
	return nil
}
