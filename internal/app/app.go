// Package app はコマンドごとの依存関係の組み立てと起動を行う。
package app

import (
	"context"
	"encoding/json"
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

	"github.com/hitoshi/techfeed/internal/config"
	"github.com/hitoshi/techfeed/internal/database"
	"github.com/hitoshi/techfeed/internal/handler"
	"github.com/hitoshi/techfeed/internal/ingest"
	"github.com/hitoshi/techfeed/internal/logger"
	"github.com/hitoshi/techfeed/internal/metrics"
	"github.com/hitoshi/techfeed/internal/middleware"
	"github.com/hitoshi/techfeed/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
	defaultTokenTTL = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .env を読み込む（既存の環境変数が優先される）
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
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

	// token はDB接続を必要としない
	if cmd == CommandToken {
		return runToken(os.Stdout, cfg, args[1:])
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("newsapi_enabled", cfg.HasNewsAPI()),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandIngest:
		return runIngest(os.Stdout, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established")

	log := slog.Default()
	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}

	// 期限切れのキャッシュエントリをTTLごとに掃除する
	c.cache.StartSweeper(cfg.CacheTTL)
	defer c.cache.Stop()

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAdmin), log)
	defer rateLimiter.Stop()

	if cfg.AdminJWTSecret == "" {
		slog.Warn("ADMIN_JWT_SECRET が未設定のため管理者APIは無効です")
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newRouter(cfg, db, c, rateLimiter, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 手動取り込みは全ソースの取得を待つため長めに取る
		WriteTimeout: cfg.SourceTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// serveUntilDone はctxがキャンセルされるまでserverを動かし、その後グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
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

// runWorker はワーカーモードで起動する。
// 取り込みスケジューラと実行記録のクリーンアップジョブを起動し、ヘルスチェックとメトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established (worker)")

	log := slog.Default()
	c, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}

	scheduler := ingest.NewScheduler(c.runner, log, cfg.IngestMaxArticles)
	cleanupJob := cleanup.NewCleanupJob(c.logs, cfg.LogRetentionDays, log)

	slog.Info("worker starting",
		slog.Duration("ingest_interval", cfg.IngestInterval),
		slog.Int("max_articles", cfg.IngestMaxArticles),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
		slog.Int("log_retention_days", cfg.LogRetentionDays),
	)

	// 実行記録のクリーンアップを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, cleanupInterval)

	// ヘルスチェックとメトリクスをバックグラウンドで公開
	opsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler.NewOpsRouter(db, metrics.Handler(c.promReg), log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := serveUntilDone(ctx, opsServer, "ops server"); err != nil {
			slog.Error("ops server failed", slog.String("error", err.Error()))
		}
	}()

	// 取り込みスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.IngestInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runIngest は取り込みを1回実行し、結果をJSONでoutに書き出す。
// cronなど外部スケジューラからの起動を想定している。
func runIngest(out io.Writer, cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	summary, entry := c.runner.Run(ctx, cfg.IngestMaxArticles)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Summary any `json:"summary"`
		Log     any `json:"log,omitempty"`
	}{summary, entry}); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if !summary.Success {
		return fmt.Errorf("ingestion failed: %s", summary.Message)
	}
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

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runToken は管理者APIのJWTを発行してoutに書き出す。
// 引数の1つ目をsubject、2つ目を有効期間（time.ParseDuration形式）として扱う。
func runToken(out io.Writer, cfg *config.Config, args []string) error {
	if cfg.AdminJWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET is not set")
	}

	subject := "admin"
	if len(args) > 0 && args[0] != "" {
		subject = args[0]
	}
	ttl := defaultTokenTTL
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid token ttl %q", args[1])
		}
		ttl = d
	}

	token, err := middleware.IssueAdminToken(cfg.AdminJWTSecret, subject, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードとクエリをマスクする。
func maskDatabaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
