package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/rentnest/internal/auth"
	"github.com/hitoshi/rentnest/internal/chat"
	"github.com/hitoshi/rentnest/internal/client"
	"github.com/hitoshi/rentnest/internal/config"
	"github.com/hitoshi/rentnest/internal/console"
	"github.com/hitoshi/rentnest/internal/database"
	"github.com/hitoshi/rentnest/internal/handler"
	"github.com/hitoshi/rentnest/internal/logger"
	"github.com/hitoshi/rentnest/internal/messaging"
	"github.com/hitoshi/rentnest/internal/metrics"
	"github.com/hitoshi/rentnest/internal/middleware"
	"github.com/hitoshi/rentnest/internal/profile"
	"github.com/hitoshi/rentnest/internal/queue"
	"github.com/hitoshi/rentnest/internal/realtime"
	"github.com/hitoshi/rentnest/internal/repository"
	"github.com/hitoshi/rentnest/internal/security"
	"github.com/hitoshi/rentnest/internal/session"
	"github.com/hitoshi/rentnest/internal/user"
	"github.com/hitoshi/rentnest/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envがあれば読み込む（設定済みの環境変数は上書きしない）
	if err := config.LoadDotEnv(""); err != nil {
		return nil, err
	}

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

	// healthcheck と console はサーバー設定を必要としないため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandConsole:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runConsole(ctx, os.Stdin, os.Stdout, os.Stderr)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	conversationRepo := repository.NewPostgresConversationRepo(db)
	messageRepo := repository.NewPostgresMessageRepo(db)

	var sessionRepo repository.SessionRepository = repository.NewPostgresSessionRepo(db)
	if cfg.RedisAddr != "" {
		redisClient, err := openRedis(ctx, cfg)
		if err != nil {
			slog.Warn("session cache disabled",
				slog.String("redis_addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		} else {
			defer redisClient.Close()
			sessionRepo = repository.NewCachedSessionRepo(sessionRepo, redisClient, cfg.SessionCacheTTL)
			slog.Info("session cache enabled", slog.String("redis_addr", cfg.RedisAddr))
		}
	}

	// 4. イベント発行（任意）
	var publisher chat.EventPublisher
	if cfg.AMQPURL != "" {
		p := queue.NewPublisher(cfg.AMQPURL, logger.Component(slog.Default(), "queue"))
		defer p.Close()
		publisher = p
		slog.Info("message events will be published", slog.String("queue", queue.MessageCreatedQueue))
	}

	// 5. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()
	authService := auth.NewService(userRepo, sessionRepo, auth.NewTokenIssuer(cfg.JWTSecret), auth.ServiceConfig{
		AccessTokenTTL: cfg.AccessTokenTTL,
		BcryptCost:     cfg.BcryptCost,
	})
	profileService := profile.NewService(profileRepo, sanitizer)
	userService := user.NewService(userRepo, sessionRepo, profileRepo)
	chatService := chat.NewService(conversationRepo, messageRepo, sanitizer, publisher)

	// 6. リアルタイム配信
	hub := realtime.NewHub(logger.Component(slog.Default(), "realtime"), collector)
	listener := realtime.NewListener(cfg.DatabaseURL, hub, messageRepo, logger.Component(slog.Default(), "realtime"))
	go func() {
		if err := listener.Run(ctx); err != nil {
			slog.Error("realtime listener stopped", slog.String("error", err.Error()))
		}
	}()

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,

		AuthService:    authService,
		ProfileService: profileService,
		UserService:    userService,
		ChatService:    chatService,
		RealtimeHub:    hub,
	})

	// 8. HTTPサーバーの起動
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

	// リアルタイム接続はShutdownの対象外のため先に閉じる
	cancel()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openRedis はセッションキャッシュ用のRedisクライアントを生成し、疎通を確認する。
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rc, nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewSessionCleanupJob(db, logger.Component(slog.Default(), "cleanup"), nil)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// 3. クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runConsole は対話型コンソールを起動する。
// Session Managerを起動し、サインイン状態に合わせてConversation Coordinatorを開始・停止する。
func runConsole(ctx context.Context, in io.Reader, out, logw io.Writer) error {
	cfg := config.LoadConsole()
	log := logger.SetupWithLevel(logw, slog.LevelWarn)

	cl := client.New(cfg.APIURL, &http.Client{Timeout: cfg.RequestTimeout}, logger.Component(log, "client"))
	sessions := session.NewManager(cl, logger.Component(log, "session"))
	chats := messaging.NewCoordinator(cl, sessions, logger.Component(log, "messaging"))

	sessions.Start(ctx)
	defer sessions.Close()

	snapshots, unwatch := sessions.Watch()
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		chats.Follow(ctx, snapshots)
	}()
	defer func() {
		unwatch()
		<-followed
	}()

	return console.New(in, out, sessions, chats, log).Run(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(url)
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
