package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/giftshare/internal/clock"
	"github.com/hitoshi/giftshare/internal/config"
	"github.com/hitoshi/giftshare/internal/database"
	"github.com/hitoshi/giftshare/internal/gift"
	"github.com/hitoshi/giftshare/internal/handler"
	"github.com/hitoshi/giftshare/internal/identity"
	"github.com/hitoshi/giftshare/internal/invite"
	"github.com/hitoshi/giftshare/internal/logger"
	"github.com/hitoshi/giftshare/internal/metadata"
	"github.com/hitoshi/giftshare/internal/metrics"
	"github.com/hitoshi/giftshare/internal/middleware"
	"github.com/hitoshi/giftshare/internal/permission"
	"github.com/hitoshi/giftshare/internal/security"
	"github.com/hitoshi/giftshare/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映してロガーを再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		writeUsage(w)
		return nil
	}

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
		slog.String("ledger_backend", cfg.LedgerBackend),
		slog.String("head_backend", cfg.HeadBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// newRegistry はGo/プロセスのメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildRouter はストアから全サービスを組み立て、HTTPルーターを返す。
// 返されるRateLimiterはシャットダウン時にStopすること。
func buildRouter(cfg *config.Config, st *stores, reg *prometheus.Registry, log *slog.Logger) (http.Handler, *middleware.RateLimiter, error) {
	names, err := identity.ParseDisplayNames(cfg.DisplayNames)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid DISPLAY_NAMES: %w", err)
	}

	clk := clock.System{}
	mc := metrics.NewCollector(reg)
	sanitizer := security.NewContentSanitizer()

	// 1. ドメインサービスの初期化
	engine := invite.NewEngine(st.ledger, clk, mc, log,
		invite.WithMaxDuration(cfg.InviteMaxDuration),
		invite.WithNameResolver(identity.NewStaticResolver(names)),
	)
	gate := permission.NewGate(engine)
	resolver := metadata.NewResolver(metadata.NewStore(st.blobs, st.heads), gate, clk, mc, log)
	giftService := gift.NewService(st.ledger, resolver, clk, log)

	// 2. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitInvite),
	)

	deps := &handler.RouterDeps{
		Logger:            log,
		Metrics:           mc,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		MetricsHandler:    metrics.Handler(reg),

		GiftService:       handler.NewGiftServiceAdapter(giftService, sanitizer),
		PermissionService: gate,
		MetadataService:   handler.NewMetadataServiceAdapter(resolver, sanitizer),
		InviteService:     engine,
	}
	// インメモリ構成では疎通確認先がないため、nilのままにする
	if st.db != nil {
		deps.HealthChecker = st.db
	}

	return handler.NewRouter(deps), rateLimiter, nil
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	// 1. ストアの初期化
	st, err := openStores(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. サービスとルーターの構築
	router, rateLimiter, err := buildRouter(cfg, st, newRegistry(), log)
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

	// 3. HTTPサーバーの起動
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

	listenErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	log.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 台帳ストアを開き、期限切れ招待のクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	if cfg.LedgerBackend == config.BackendMemory {
		log.Warn("worker is running against an in-memory ledger; expirations are not shared with the API server")
	}

	st, err := openStores(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newRegistry()
	job := cleanup.NewInviteExpiryJob(st.ledger, clock.System{}, metrics.NewCollector(reg), log)

	// /health と /metrics を公開する運用サーバー
	var pinger handler.Pinger
	if st.db != nil {
		pinger = st.db
	}
	opsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler.NewOpsRouter(log, pinger, metrics.Handler(reg)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		log.Info("shutting down worker...")
		cancel()
	}()

	log.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.String("ops_addr", opsServer.Addr),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops server shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("worker stopped gracefully")
	return nil
}

// migrateAction はmigrateサブコマンドの動作を表す。
type migrateAction struct {
	name  string // up, down, version
	steps int    // downのみ
}

// parseMigrateArgs はmigrateサブコマンドの引数を解析する。
// 引数なしはupとして扱う。downは取り消すバージョン数を必須とする。
func parseMigrateArgs(args []string) (migrateAction, error) {
	if len(args) == 0 {
		return migrateAction{name: "up"}, nil
	}
	switch args[0] {
	case "up", "version":
		return migrateAction{name: args[0]}, nil
	case "down":
		if len(args) < 2 {
			return migrateAction{}, fmt.Errorf("migrate down requires the number of steps")
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps < 1 {
			return migrateAction{}, fmt.Errorf("invalid migrate down steps %q", args[1])
		}
		return migrateAction{name: "down", steps: steps}, nil
	default:
		return migrateAction{}, fmt.Errorf("unknown migrate action %q: must be up, down or version", args[0])
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしまたはupで未適用のマイグレーションを順番に適用し、
// down Nで直近Nバージョンを取り消し、versionで現在のスキーマバージョンをログに出力する。
// PostgreSQLを使用しない構成では何もしない。
func runMigrate(cfg *config.Config, args []string) error {
	action, err := parseMigrateArgs(args)
	if err != nil {
		return err
	}

	if cfg.DatabaseURL == "" {
		slog.Info("no database configured, skipping migrations")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("action", action.name),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action.name {
	case "down":
		if err := database.RollbackMigrations(cfg.DatabaseURL, action.steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", action.steps))
	case "version":
		version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		slog.Info("database schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
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
