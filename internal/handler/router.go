package handler

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/bilitrack/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 監視対象
	MonitorService MonitorServiceInterface
	SingleChecker  SingleChecker

	// スケジューラ制御
	Scheduler SchedulerControl

	// 設定
	SettingsStore SettingsStore
	Reloader      SchedulerReloader
	Mailer        MailSender

	// トークン
	TokenService TokenServiceInterface

	// 画像プロキシ
	ImageFetcher ImageFetcher

	// ヘルスチェック用のDB接続
	DB *sql.DB

	// Prometheusメトリクスの公開ハンドラー
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS
//
// 認証ルート以下にはさらに Auth → RateLimit(General) が積まれる。
// トークン検証（/api/token/verify）は認証の外に置き、専用のレート制限をかける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	monitorHandler := NewMonitorHandler(deps.MonitorService, deps.SingleChecker)
	controlHandler := NewControlHandler(deps.Scheduler, deps.SettingsStore)
	settingsHandler := NewSettingsHandler(deps.SettingsStore, deps.Reloader, deps.Mailer)
	tokenHandler := NewTokenHandler(deps.TokenService)
	imageHandler := NewImageHandler(deps.ImageFetcher)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.DB))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// トークン検証はブルートフォース対策の専用レート制限をかける
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/api/token/verify", tokenHandler.Verify)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 監視状態と制御
		r.Get("/api/status", controlHandler.Status)
		r.Route("/api/control", func(r chi.Router) {
			r.Post("/start", controlHandler.Start)
			r.Post("/stop", controlHandler.Stop)
			r.Post("/run-once", controlHandler.RunOnce)
		})

		// 監視対象管理
		r.Route("/api/monitors", func(r chi.Router) {
			r.Post("/", monitorHandler.Add)
			r.Get("/", monitorHandler.List)
			r.Get("/archived", monitorHandler.ListArchived)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", monitorHandler.Delete)
				r.Put("/active", monitorHandler.SetActive)
				r.Put("/archive", monitorHandler.SetArchived)
				r.Get("/stats", monitorHandler.Stats)
				r.Post("/check", monitorHandler.Check)
			})
		})

		// 更新記録
		r.Get("/api/updates/recent", monitorHandler.Recent)

		// 設定管理
		r.Route("/api/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.Get)
			r.Put("/", settingsHandler.Save)
			r.Post("/test-mail", settingsHandler.TestMail)
		})

		// トークン再生成
		r.Post("/api/token/reset", tokenHandler.Reset)

		// カバー画像プロキシ
		r.Get("/proxy/image", imageHandler.Proxy)
	})

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
