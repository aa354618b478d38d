package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/insan/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	TokenVerifier     middleware.AccessTokenVerifier
	Metrics           RouterMetrics

	// 疎通確認（キーはレスポンスに出力する名前）
	HealthChecks map[string]HealthChecker

	// Prometheusスクレイプ用ハンドラー。nilの場合は/metricsを公開しない
	MetricsHandler http.Handler

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface
}

// RouterMetrics はルーターのミドルウェアが記録するメトリクスのインターフェース。
type RouterMetrics interface {
	middleware.HTTPMetricsRecorder
	middleware.GuardRejectionRecorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics → RateLimit(General)
//
// 登録・ログイン・リフレッシュには認証系のレート制限を追加し、
// /api/users/* とログアウトにはアクセスガードを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))

	var guardRecorder middleware.GuardRejectionRecorder
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
		guardRecorder = deps.Metrics
	}

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	healthHandler := NewHealthHandler(deps.HealthChecks)
	guard := middleware.NewAccessGuard(deps.TokenVerifier, guardRecorder)

	// --- 運用エンドポイント（レート制限対象外） ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)
			})
			r.Get("/verify", authHandler.VerifyEmail)
			r.With(guard).Post("/logout", authHandler.Logout)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Use(guard)
			r.Get("/me", userHandler.Me)
			r.Get("/me/wallet", userHandler.Wallet)
			r.Get("/me/referrals", userHandler.Referrals)
		})
	})

	return r
}
