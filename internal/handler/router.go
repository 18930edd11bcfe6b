package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cortexsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// セッション
	Sessions SessionService

	// ダッシュボード・連携
	Dashboard     DashboardService
	RedirectGuard RedirectValidator

	// スキャン
	Scans       ScanList
	ScanStarter ScanStarter
	ScanDetails ScanDetailService

	// チーム
	Team TeamService

	// /metrics。nilの場合は公開しない
	Metrics http.Handler
}

// NewRouter はコンソールの全エンドポイントとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS
//	  /auth/*: RateLimit(General) → CSRF
//	  /api/*, /integration/*: Session → RateLimit(General) → CSRF
//
// POST /api/scans にはスキャン開始専用のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Sessions, deps.Logger)
	dashboardHandler := NewDashboardHandler(deps.Dashboard, deps.RedirectGuard, deps.Logger)
	scanHandler := NewScanHandler(deps.Scans, deps.ScanStarter, deps.ScanDetails, deps.Logger)
	teamHandler := NewTeamHandler(deps.Team, deps.Logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.Sessions))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)
		r.Get("/callback", authHandler.Callback)
		r.Get("/me", authHandler.Me)
		r.Post("/login", authHandler.Login)
		r.Post("/register", authHandler.Register)
		r.Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Route("/api/dashboard", func(r chi.Router) {
			r.Get("/", dashboardHandler.Get)
			r.Post("/refresh", dashboardHandler.Refresh)
		})

		r.Route("/api/scans", func(r chi.Router) {
			r.Get("/", scanHandler.List)
			r.With(deps.RateLimiter.ScanStartMiddleware()).Post("/", scanHandler.Start)
			r.Get("/{id}", scanHandler.Get)
		})

		r.Route("/api/team", func(r chi.Router) {
			r.Get("/members", teamHandler.List)
			r.Post("/members", teamHandler.Invite)
		})

		r.Route("/integration", func(r chi.Router) {
			r.Get("/install", dashboardHandler.Install)
			r.Get("/manage", dashboardHandler.Manage)
		})
	})

	return r
}
