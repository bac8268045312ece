package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/bilitrack/internal/auth"
	"github.com/hitoshi/bilitrack/internal/bili"
	"github.com/hitoshi/bilitrack/internal/config"
	"github.com/hitoshi/bilitrack/internal/database"
	"github.com/hitoshi/bilitrack/internal/handler"
	"github.com/hitoshi/bilitrack/internal/imagecache"
	"github.com/hitoshi/bilitrack/internal/logger"
	"github.com/hitoshi/bilitrack/internal/metrics"
	"github.com/hitoshi/bilitrack/internal/middleware"
	"github.com/hitoshi/bilitrack/internal/monitor"
	"github.com/hitoshi/bilitrack/internal/notifier"
	"github.com/hitoshi/bilitrack/internal/repository"
	"github.com/hitoshi/bilitrack/internal/security"
	"github.com/hitoshi/bilitrack/internal/settings"
	"github.com/hitoshi/bilitrack/internal/worker/maintenance"
	monitorworker "github.com/hitoshi/bilitrack/internal/worker/monitor"
)

// imageFetchTimeout はカバー画像プロキシ取得のHTTPタイムアウト。
const imageFetchTimeout = 15 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(w, cfg)
	}
}

// runServe はAPIサーバーと巡回スケジューラを同一プロセスで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとワーカーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(w io.Writer, cfg *config.Config) error {
	// 1. ローテーション付きログファイルのセットアップ
	// 標準出力とログファイルの両方に書き込む。ファイルは日次で整理される。
	rotating, err := logger.NewRotatingFile(cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer rotating.Close()
	logger.SetupDefault(io.MultiWriter(w, rotating))

	// 2. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 3. リポジトリの初期化
	settingsRepo := repository.NewPostgresSettingsRepo(db)
	monitorRepo := repository.NewPostgresMonitorRepo(db)
	updateRepo := repository.NewPostgresUpdateRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 欠損している設定キーをデフォルト値で補完する
	if err := settingsRepo.EnsureDefaults(ctx, settings.Defaults()); err != nil {
		return fmt.Errorf("failed to ensure default settings: %w", err)
	}

	// 4. アクセストークンの初期化
	// 初回起動時はトークンを生成し、ログに1回だけ出力する
	authService := auth.NewService(tokenRepo, slog.Default())
	if err := authService.EnsureToken(ctx); err != nil {
		return fmt.Errorf("failed to ensure access token: %w", err)
	}

	// 5. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. リモートクライアントと通知の初期化
	biliClient := bili.NewClientWithTimeouts(slog.Default(), collector, cfg.InfoTimeout, cfg.BulkTimeout)
	mailer := notifier.NewMailer(slog.Default())

	// 7. セキュリティサービスとカバー画像キャッシュの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTitleSanitizer()

	imageCache, err := imagecache.New(
		cfg.CacheDir,
		ssrfGuard.NewSafeClient(imageFetchTimeout),
		ssrfGuard,
		slog.Default(),
		cfg.CacheMaxSize,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize image cache: %w", err)
	}

	// 8. スケジューラとサービス層の初期化
	scheduler := monitorworker.NewScheduler(
		monitorRepo, updateRepo, settingsRepo,
		biliClient, mailer, imageCache, sanitizer,
		collector, slog.Default(),
	)

	monitorService := monitor.NewService(
		monitorRepo, updateRepo, settingsRepo, biliClient, slog.Default(),
	)

	maintenanceJob := maintenance.NewJob(settingsRepo, rotating, slog.Default())

	// 9. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		LoginRate:       rate.Limit(float64(cfg.RateLimitLogin) / 60.0),
		LoginBurst:      cfg.RateLimitLogin,
		CleanupInterval: 5 * time.Minute,
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		MonitorService: monitorService,
		SingleChecker:  scheduler,

		Scheduler: scheduler,

		SettingsStore: settingsRepo,
		Reloader:      scheduler,
		Mailer:        mailer,

		TokenService: authService,
		ImageFetcher: imageCache,

		DB:             db,
		MetricsHandler: metrics.Handler(registry),
	})

	// 10. バックグラウンドワーカーの起動
	go scheduler.Run(ctx)
	go maintenanceJob.Start(ctx)

	// 11. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	// ワーカーを先に止め、処理中のリクエストを完了させてからサーバーを閉じる
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
