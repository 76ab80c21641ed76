package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/adminpanel/internal/auth"
	"github.com/hitoshi/adminpanel/internal/config"
	"github.com/hitoshi/adminpanel/internal/database"
	"github.com/hitoshi/adminpanel/internal/handler"
	"github.com/hitoshi/adminpanel/internal/listview"
	"github.com/hitoshi/adminpanel/internal/logger"
	"github.com/hitoshi/adminpanel/internal/metrics"
	"github.com/hitoshi/adminpanel/internal/middleware"
	"github.com/hitoshi/adminpanel/internal/repository"
	"github.com/hitoshi/adminpanel/internal/security"
	"github.com/hitoshi/adminpanel/internal/supabase"
	"github.com/hitoshi/adminpanel/internal/user"
	"github.com/hitoshi/adminpanel/internal/worker/cleanup"
)

const (
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .env を読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .env（存在する場合のみ）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 3. 環境変数から設定を読み込む
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
		slog.String("base_url", cfg.BaseURL),
		slog.String("supabase_url", cfg.SupabaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開いて疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, pingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRemoteHTTPClient はBaaS呼び出し用のHTTPクライアントを生成する。
// RemoteSafeClient が無効な場合はローカル開発用としてタイムアウトのみ設定する。
func newRemoteHTTPClient(cfg *config.Config) (*http.Client, error) {
	if err := security.ValidateBaseURL(cfg.SupabaseURL, !cfg.RemoteSafeClient); err != nil {
		return nil, fmt.Errorf("invalid SUPABASE_URL: %w", err)
	}
	if cfg.RemoteSafeClient {
		return security.NewSafeClient(cfg.RemoteTimeout), nil
	}
	return &http.Client{Timeout: cfg.RemoteTimeout}, nil
}

// api はserveモードで組み立てた依存関係。
type api struct {
	handler     http.Handler
	registry    *listview.Registry
	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンドのクリーンアップを停止する。
func (a *api) Close() {
	a.registry.Stop()
	a.rateLimiter.Stop()
}

// newAPI は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func newAPI(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, log *slog.Logger) (*api, error) {
	// 1. リポジトリとメトリクス
	sessionRepo := repository.NewPostgresSessionRepo(db)
	collector := metrics.NewCollector(reg)

	// 2. BaaSクライアント
	httpClient, err := newRemoteHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	remote := supabase.NewClient(httpClient, supabase.Config{
		BaseURL:        cfg.SupabaseURL,
		AnonKey:        cfg.SupabaseAnonKey,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		UsersTable:     cfg.UsersTable,
		RedirectBase:   cfg.BaseURL,
	}, collector, log)

	// 3. ドメインサービス
	authService := auth.NewService(remote, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		JWTSecret:     cfg.SupabaseJWTSecret,
	}, log)

	loc := cfg.Location()
	registry := listview.NewRegistry(func() *listview.Controller {
		coll := user.NewCollection(remote, collector, log)
		coll.SetLocation(loc)
		return listview.NewController(coll, collector, log, cfg.BulkMaxConcurrent)
	}, cfg.ViewIdleTTL, log)
	collector.RegisterActiveViews(registry.Len)

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))

	// 4. ルーター
	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger: log,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Views:     registry,
		ViewDrop:  registry,
		Sanitizer: security.NewNameSanitizer(),
		UserConfig: handler.UserHandlerConfig{
			Location:    loc,
			MaxPageSize: cfg.MaxPageSize,
		},

		MetricsGatherer: reg,
		HealthCheck: func(ctx context.Context) error {
			return database.Ping(ctx, db, pingTimeout)
		},
	}

	return &api{
		handler:     handler.NewRouter(deps),
		registry:    registry,
		rateLimiter: rateLimiter,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newAPI(cfg, db, reg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	collector := metrics.NewCollector(prometheus.NewRegistry())
	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), collector, slog.Default())
	job.GracePeriod = cfg.SessionCleanupGrace

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupPeriod),
		slog.Duration("grace_period", cfg.SessionCleanupGrace),
	)

	job.Start(ctx, cfg.SessionCleanupPeriod)

	slog.Info("worker stopped gracefully")
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

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
