package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/adminpanel/internal/metrics"
	"github.com/hitoshi/adminpanel/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー管理画面
	Views      ViewProvider
	ViewDrop   ViewDropper
	Sanitizer  NameSanitizer
	UserConfig UserHandlerConfig

	// 運用
	MetricsGatherer prometheus.Gatherer
	HealthCheck     func(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → CSRF(/auth, /api)
//
// /api/* は Session → RateLimit(General)、サインイン・サインアップのPOSTは RateLimit(Auth) を通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.ViewDrop, deps.Sanitizer, deps.AuthConfig, logger)
	userHandler := NewUserHandler(deps.Views, deps.Sanitizer, deps.UserConfig, logger)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthCheck))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth", http.StatusFound)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, middleware.SignInPath, http.StatusFound)
			})

			// 未ログインのときだけ表示する画面
			r.Group(func(r chi.Router) {
				r.Use(middleware.RedirectIfAuthenticated(deps.SessionFinder))
				r.Get("/sign-in", authHandler.SignInPage)
				r.Get("/sign-up", authHandler.SignUpPage)
				r.Get("/google/login", authHandler.GoogleLogin)

				r.Group(func(r chi.Router) {
					r.Use(deps.RateLimiter.AuthMiddleware())
					r.Post("/sign-in", authHandler.SignIn)
					r.Post("/sign-up", authHandler.SignUp)
				})
			})

			r.Get("/callback", authHandler.Callback)
			r.Post("/logout", authHandler.Logout)
			r.Get("/session", authHandler.Session)
			r.Get("/me", authHandler.Me)
		})

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// ダッシュボード画面は一覧画面の状態を返す
		r.With(middleware.RequireSessionPage(deps.SessionFinder)).Get(middleware.DashboardPath, userHandler.List)

		r.Route("/api/users", func(r chi.Router) {
			r.Use(middleware.RequireSession(deps.SessionFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/", userHandler.List)
			r.Post("/", userHandler.Create)
			r.Post("/refresh", userHandler.Refresh)
			r.Get("/stats", userHandler.Stats)
			r.Post("/filters/clear", userHandler.ClearFilters)

			r.Route("/selection", func(r chi.Router) {
				r.Post("/toggle", userHandler.ToggleSelection)
				r.Post("/toggle-all", userHandler.ToggleAll)
				r.Delete("/", userHandler.ClearSelection)
			})

			r.Route("/bulk", func(r chi.Router) {
				r.Post("/delete", userHandler.BulkDelete)
				r.Post("/status", userHandler.BulkSetStatus)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", userHandler.Get)
				r.Patch("/", userHandler.Update)
				r.Delete("/", userHandler.Delete)
				r.Put("/status", userHandler.SetStatus)
			})
		})
	})

	return r
}

// healthHandler はプロセスと依存先の状態を返す。
func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
