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

	"github.com/hitoshi/pulseman/internal/browser"
	"github.com/hitoshi/pulseman/internal/config"
	"github.com/hitoshi/pulseman/internal/garmin"
	"github.com/hitoshi/pulseman/internal/handler"
	"github.com/hitoshi/pulseman/internal/logger"
	"github.com/hitoshi/pulseman/internal/metrics"
	"github.com/hitoshi/pulseman/internal/slack"
	"github.com/hitoshi/pulseman/internal/status"
	"github.com/hitoshi/pulseman/internal/worker/poll"
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

	// デバッグフラグが有効な場合はログレベルを下げて再設定する
	if cfg.Debug {
		logger.SetupDefault(w, slog.LevelDebug)
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
		port := os.Getenv("OPS_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	mode := "daemon"
	if cfg.OneShot {
		mode = "one-shot"
	}
	slog.Info("starting application",
		slog.String("mode", mode),
		slog.String("garmin_username", maskUsername(cfg.GarminUsername)),
		slog.Duration("poll_interval", cfg.PollInterval),
	)

	if cfg.OneShot {
		return runOnce(cfg)
	}
	return runDaemon(cfg)
}

// newSupervisor は全依存関係をワイヤリングしたSupervisorを生成する。
// SessionClientはサイクル失敗時に作り直されるため、ファクトリとして渡す。
func newSupervisor(cfg *config.Config, collector metrics.MetricsCollector) *poll.Supervisor {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	publisher := slack.NewClient(httpClient, cfg.SlackToken, slog.Default())

	bands := status.ParseBands(cfg.EmojiBands)

	factory := func() (poll.SessionClient, error) {
		page := browser.NewChromeSession(!cfg.Debug, cfg.BrowserTimeout)
		return garmin.NewSessionClient(
			page, cfg.GarminUsername, cfg.GarminPassword, slog.Default(),
		), nil
	}

	return poll.NewSupervisor(factory, publisher, bands, collector, slog.Default())
}

// runOnce はワンショットモードで1サイクルだけ実行する。
// サイクルの失敗はそのままエラーとして返り、プロセスは非ゼロ終了する。
func runOnce(cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	sup := newSupervisor(cfg, collector)
	defer sup.Close()

	return sup.RunOnce(context.Background())
}

// runDaemon はデーモンモードで起動する。
// 運用エンドポイント（/health、/metrics）を公開し、ポーリングループを
// メインgoroutineで実行する。SIGINTまたはSIGTERMでシャットダウンする。
func runDaemon(cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	sup := newSupervisor(cfg, collector)

	router := handler.NewRouter(metrics.SetupMetricsRoute(reg))
	server := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down daemon...")
		cancel()
	}()

	go func() {
		slog.Info("ops server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()

	// ポーリングループをメインgoroutineで実行（ブロッキング）
	sup.Start(ctx, cfg.PollInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}

	slog.Info("daemon stopped gracefully")
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

// maskUsername はログ出力用にアカウント識別子をマスクする。
func maskUsername(username string) string {
	if len(username) > 3 {
		return username[:3] + "***"
	}
	return "***"
}
