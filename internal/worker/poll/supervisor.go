// Package poll はステータス更新のポーリングループを提供する。
// スーパーバイザ、サイクル実行、セッションの破棄と再生成を含む。
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pulseman/internal/metrics"
	"github.com/hitoshi/pulseman/internal/model"
	"github.com/hitoshi/pulseman/internal/status"
)

// SessionClient はポータルセッション操作のインターフェース。
// テスト時にモックに差し替え可能。
type SessionClient interface {
	LoggedIn() bool
	Login(ctx context.Context) error
	FetchLatestMetrics(ctx context.Context) (*model.Metrics, error)
	Close()
}

// StatusPublisher はステータス送信のインターフェース。
type StatusPublisher interface {
	SetStatus(ctx context.Context, emoji, text string) error
}

// ClientFactory は新しいSessionClientを生成する。
// サイクル失敗後の復旧はインスタンスの作り直しで行うため、
// スーパーバイザはクライアントではなくファクトリを受け取る。
type ClientFactory func() (SessionClient, error)

// Supervisor はポーリングループを駆動する。
// 各サイクルでセッション確立→計測値取得→整形→送信を行い、
// 失敗したサイクルはログに残して次のサイクルへ進む。
// SessionClientの所有スロットは単一で、破棄と再生成はここでのみ行う。
type Supervisor struct {
	newClient ClientFactory
	publisher StatusPublisher
	bands     []string
	collector metrics.MetricsCollector
	logger    *slog.Logger

	// client は現在所有しているセッションクライアント。
	// 旧インスタンスを完全にクローズしてから新インスタンスを割り当てる。
	client SessionClient

	// now はテストで日付を固定するために差し替え可能。
	now func() time.Time
}

// NewSupervisor はSupervisorの新しいインスタンスを生成する。
// bandsが空の場合はデフォルトの10段階バンドを使用する。
func NewSupervisor(
	newClient ClientFactory,
	publisher StatusPublisher,
	bands []string,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Supervisor {
	if len(bands) == 0 {
		bands = status.DefaultBands
	}
	return &Supervisor{
		newClient: newClient,
		publisher: publisher,
		bands:     bands,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Start はティッカーでポーリングループを起動する。
// 起動直後に1回実行し、以降はinterval間隔で実行する。
// サイクルの失敗でループは止まらず、コンテキストのキャンセルでのみ終了する。
func (s *Supervisor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ポーリングスーパーバイザを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("ポーリングサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.discardClient()
			s.logger.Info("ポーリングスーパーバイザを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("ポーリングサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回のサイクル（セッション確立→取得→整形→送信）を実行する。
// ログイン・取得の失敗ではセッションを破棄して次回クリーンにやり直す。
// 送信のみの失敗はセッション喪失を意味しないため、セッションは維持する。
func (s *Supervisor) RunOnce(ctx context.Context) error {
	start := time.Now()
	cycleLog := s.logger.With(slog.String("cycle_id", uuid.NewString()))

	if s.client == nil || !s.client.LoggedIn() {
		// 旧インスタンスを完全にクローズしてから新インスタンスを割り当てる
		s.discardClient()

		client, err := s.newClient()
		if err != nil {
			return s.fail(cycleLog, "login", fmt.Errorf("create session client: %w", err))
		}
		s.client = client

		if err := s.client.Login(ctx); err != nil {
			s.discardClient()
			return s.fail(cycleLog, "login", err)
		}
	}

	m, err := s.client.FetchLatestMetrics(ctx)
	if err != nil {
		s.discardClient()
		return s.fail(cycleLog, "fetch", err)
	}

	if m.Date != s.now().Format("2006-01-02") {
		s.collector.RecordFallbackUsed()
	}

	emoji, text := status.Render(m, s.bands)

	if err := s.publisher.SetStatus(ctx, emoji, text); err != nil {
		return s.fail(cycleLog, "publish", err)
	}

	duration := time.Since(start)
	s.collector.RecordCycleSuccess()
	s.collector.RecordCycleDuration(duration)
	cycleLog.Info("ステータスを更新しました",
		slog.String("date", m.Date),
		slog.String("status_emoji", emoji),
		slog.String("status_text", text),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Close は所有しているSessionClientを解放する。冪等。
func (s *Supervisor) Close() {
	s.discardClient()
}

func (s *Supervisor) discardClient() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

func (s *Supervisor) fail(cycleLog *slog.Logger, stage string, err error) error {
	s.collector.RecordCycleFailure(stage)
	cycleLog.Error("サイクルのステージが失敗しました",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s: %w", stage, err)
}
