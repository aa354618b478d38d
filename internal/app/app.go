// Package app はプロセスの起動モードごとの依存関係の組み立てと実行を提供する。
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

	"github.com/hitoshi/insan/internal/auth"
	"github.com/hitoshi/insan/internal/chain"
	"github.com/hitoshi/insan/internal/config"
	"github.com/hitoshi/insan/internal/database"
	"github.com/hitoshi/insan/internal/handler"
	"github.com/hitoshi/insan/internal/logger"
	"github.com/hitoshi/insan/internal/metrics"
	"github.com/hitoshi/insan/internal/middleware"
	"github.com/hitoshi/insan/internal/notify"
	"github.com/hitoshi/insan/internal/repository"
	"github.com/hitoshi/insan/internal/session"
	"github.com/hitoshi/insan/internal/user"
	"github.com/hitoshi/insan/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// dotEnvPath は起動時に読み込む.envファイルのパス。
const dotEnvPath = ".env"

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、.envと環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envの読み込み（既存の環境変数が優先される）
	if err := config.LoadDotEnv(dotEnvPath); err != nil {
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

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Port),
		slog.Bool("chain_enabled", cfg.ChainEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openStores はPostgreSQLとRedisへの接続を開き、疎通を確認する。
// 返されたclose関数で両方の接続を閉じる。
func openStores(ctx context.Context, cfg *config.Config) (*sql.DB, *redis.Client, func(), error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	rdb, err := database.OpenRedis(ctx, cfg.RedisURL, cfg.RedisTimeout)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	slog.Info("redis connection established")

	closeAll := func() {
		if err := rdb.Close(); err != nil {
			slog.Warn("failed to close redis", slog.String("error", err.Error()))
		}
		if err := db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
	return db, rdb, closeAll, nil
}

// newMetricsRegistry はランタイムメトリクスを含むレジストリとCollectorを生成する。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newMailer はSendGridのAPIキーがあればSendGrid、なければログ出力のMailerを返す。
func newMailer(cfg *config.Config) notify.Mailer {
	if cfg.SendGridAPIKey == "" {
		slog.Warn("SENDGRID_API_KEY is not set, verification emails are logged only")
		return notify.NewLogMailer(cfg.AppBaseURL)
	}
	return notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom, cfg.AppBaseURL)
}

// dialChain はトークンコントラクトへの接続を開く。
// 未設定または接続に失敗した場合はnilを返し、オンチェーン残高なしで動作する。
func dialChain(ctx context.Context, cfg *config.Config) *chain.ERC20Client {
	if !cfg.ChainEnabled() {
		return nil
	}
	client, err := chain.Dial(ctx, chain.Config{
		NodeURL:         cfg.BlockchainNodeURL,
		ContractAddress: cfg.TokenContractAddress,
		AdminPrivateKey: cfg.AdminPrivateKey,
		Timeout:         cfg.ChainTimeout,
	})
	if err != nil {
		slog.Warn("blockchain client unavailable, on-chain balances disabled",
			slog.String("error", err.Error()),
		)
		return nil
	}
	slog.Info("blockchain client connected", slog.String("contract", cfg.TokenContractAddress))
	return client
}

// runServe はAPIサーバーモードで起動する。
// DB・Redis接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア接続
	db, rdb, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	// 2. リポジトリとセッションキャッシュの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	walletRepo := repository.NewPostgresWalletRepo(db)
	levelRepo := repository.NewPostgresUserLevelRepo(db)
	referralRepo := repository.NewPostgresReferralRepo(db)
	sessions := session.NewRedisStore(rdb, cfg.RefreshTokenTTL)

	// 3. メトリクス
	reg, collector := newMetricsRegistry()

	// 4. ドメインサービスの初期化
	codes, err := auth.NewReferralCodeGenerator()
	if err != nil {
		return fmt.Errorf("failed to create referral code generator: %w", err)
	}
	tokens := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:    cfg.JWTSecret,
		RefreshSecret:   cfg.JWTRefreshSecret,
		AccessTTL:       cfg.AccessTokenTTL,
		RefreshTTL:      cfg.RefreshTokenTTL,
		VerificationTTL: cfg.VerificationTokenTTL,
	})
	authService := auth.NewService(
		userRepo, sessions, tokens,
		auth.NewPasswordHasher(cfg.BcryptCost),
		codes,
		newMailer(cfg),
		collector,
		auth.ServiceConfig{
			StoreTimeout: cfg.DBTimeout,
			CacheTimeout: cfg.RedisTimeout,
			MailTimeout:  cfg.MailTimeout,
		},
	)

	var balances user.BalanceReader
	if chainClient := dialChain(ctx, cfg); chainClient != nil {
		defer chainClient.Close()
		balances = chainClient
	}
	userService := user.NewService(userRepo, walletRepo, levelRepo, referralRepo, balances, user.Config{
		StoreTimeout: cfg.DBTimeout,
		ChainTimeout: cfg.ChainTimeout,
	})

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(
		cfg.RateLimitGeneral, cfg.RateLimitGeneralWindow,
		cfg.RateLimitAuth, cfg.RateLimitAuthWindow,
	))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		TokenVerifier:     authService,
		Metrics:           collector,
		HealthChecks:      storeHealthChecks(db, rdb),
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		UserService:       userService,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, cfg.ShutdownTimeout, "API server")
}

// runWorker はワーカーモードで起動する。
// 期限切れ確認トークンの破棄ジョブを定期実行し、/healthと/metricsを公開する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, rdb, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	reg, collector := newMetricsRegistry()

	job := cleanup.NewVerificationCleanupJob(db, slog.Default(), collector)
	job.TokenTTL = cfg.VerificationTokenTTL

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("token_ttl", job.TokenTTL),
	)

	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		job.Start(ctx, cfg.CleanupInterval)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.NewHealthHandler(storeHealthChecks(db, rdb)).Health)
	mux.Handle("GET /metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	err = serveUntilDone(ctx, server, cfg.ShutdownTimeout, "worker")
	<-jobDone
	slog.Info("worker stopped gracefully")
	return err
}

// serveUntilDone はserverを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen failed: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// storeHealthChecks はPostgreSQLとRedisの疎通確認をまとめる。
func storeHealthChecks(db *sql.DB, rdb *redis.Client) map[string]handler.HealthChecker {
	return map[string]handler.HealthChecker{
		"database": db,
		"redis": handler.HealthCheckerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	}
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

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
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
