package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/rentnest/internal/middleware"
)

// MetricsRecorder はルーター全体で使うメトリクス記録のインターフェース。
type MetricsRecorder interface {
	middleware.HTTPMetricsRecorder
	AuthAttemptRecorder
	MessageSentRecorder
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.TokenAuthenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           MetricsRecorder
	MetricsHandler    http.Handler // nilの場合は/metricsを公開しない
	HealthChecker     Pinger

	// サービス
	AuthService    AuthServiceInterface
	ProfileService ProfileServiceInterface
	UserService    UserServiceInterface
	ChatService    ChatServiceInterface
	RealtimeHub    RealtimeHub
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Metrics → Logging → SecurityHeaders → CORS
//
// 認証ルート（/auth/v1/signup, /auth/v1/token）はIP単位のレート制限のみを適用する。
// それ以外の業務ルートは BearerAuth → RateLimit(General) を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimiddleware.RealIP)
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	var (
		authRecorder AuthAttemptRecorder
		sentRecorder MessageSentRecorder
	)
	if deps.Metrics != nil {
		authRecorder = deps.Metrics
		sentRecorder = deps.Metrics
	}

	authHandler := NewAuthHandler(deps.AuthService, authRecorder)
	profileHandler := NewProfileHandler(deps.ProfileService)
	userHandler := NewUserHandler(deps.UserService)
	convHandler := NewConversationHandler(deps.ChatService, sentRecorder)
	realtimeHandler := NewRealtimeHandler(deps.RealtimeHub, deps.CORSAllowedOrigin, logger)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Post("/auth/v1/signup", authHandler.Signup)
		r.Post("/auth/v1/token", authHandler.Token)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/auth/v1/logout", authHandler.Logout)
		r.Get("/auth/v1/user", authHandler.User)

		r.Route("/rest/v1/profiles", func(r chi.Router) {
			r.Get("/", userHandler.ListUsers)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", profileHandler.GetProfile)
				r.Patch("/", profileHandler.UpdateProfile)
				r.Delete("/", profileHandler.DeleteProfile)
			})
		})

		r.Route("/rest/v1/conversations", func(r chi.Router) {
			r.Get("/", convHandler.ListConversations)
			r.Post("/", convHandler.CreateConversation)
			r.Get("/between", convHandler.FindBetween)
			r.Get("/{id}/messages", convHandler.ListMessages)
		})

		r.Post("/rest/v1/messages", convHandler.SendMessage)

		r.Post("/functions/v1/delete-user", userHandler.DeleteUser)

		r.Get("/realtime/v1/messages", realtimeHandler.Messages)
	})

	return r
}
