// Package garmin はGarmin Connectポータルに対する認証済みセッションの
// 確立と日次計測データの取得を提供する。
// ポータルには公開APIがないため、ブラウザ自動操作でサインインし、
// 同一セッション上でJSONドキュメントを読み取る。
package garmin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/pulseman/internal/browser"
	"github.com/hitoshi/pulseman/internal/model"
)

// ErrLogin はサインイン処理の失敗を表す。
var ErrLogin = errors.New("garmin: login failed")

// ErrFetch は計測データ取得の失敗を表す。
// 部分的な結果は返さず、いずれかのステップの失敗で呼び出し全体が失敗する。
var ErrFetch = errors.New("garmin: fetch failed")

const (
	signInURL       = "https://connect.garmin.com/signin/"
	stressURLFmt    = "https://connect.garmin.com/wellness-service/wellness/dailyStress/%s"
	heartRateURLFmt = "https://connect.garmin.com/wellness-service/wellness/dailyHeartRate?date=%s"
	refererFmt      = "https://connect.garmin.com/modern/daily-summary/%s"

	authFrameSelector = `iframe#gauth-widget-frame-post-signin`
	usernameSelector  = `input#username`
	passwordSelector  = `input#password`
	submitSelector    = `button#login-btn-signin`
	// サインイン完了後のダッシュボードにのみ存在する要素
	loggedInSelector = `div.main-nav`
	// JSONドキュメントはbody直下にプレーンテキストとして描画される
	bodySelector = `body`

	// requestInterval はポータルへのドキュメント要求の最低間隔。
	// フォールバック再取得が連続してもポータルを連打しないための保険。
	requestInterval = 2 * time.Second
)

// State はSessionClientのセッション状態を表す。
type State int

const (
	// StateFresh は未ログイン状態。Loginの成功でStateLoggedInへ遷移する。
	StateFresh State = iota
	// StateLoggedIn は認証済み状態。フェッチ失敗またはCloseでStateClosedへ遷移する。
	StateLoggedIn
	// StateClosed は終端状態。このインスタンスでの再ログインは許可しない。
	// 復旧はSupervisorが新しいSessionClientを生成して行う。
	StateClosed
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateLoggedIn:
		return "logged_in"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionClient はGarmin Connectに対する単一の認証済みセッションを所有する。
// 1インスタンスにつきアクティブなセッションは最大1つで、
// フェッチ失敗後は再ログインせず破棄される（部分的に壊れたセッションの
// 使い回しによる不具合を避けるため、再接続コストを受け入れる設計）。
type SessionClient struct {
	page     browser.Session
	username string
	password string
	logger   *slog.Logger
	limiter  *rate.Limiter
	state    State

	// now はテストで日付を固定するために差し替え可能。
	now func() time.Time
}

// NewSessionClient はSessionClientの新しいインスタンスを生成する。
func NewSessionClient(page browser.Session, username, password string, logger *slog.Logger) *SessionClient {
	return &SessionClient{
		page:     page,
		username: username,
		password: password,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(requestInterval), 1),
		state:    StateFresh,
		now:      time.Now,
	}
}

// State は現在のセッション状態を返す。
func (c *SessionClient) State() State {
	return c.state
}

// LoggedIn はセッションが認証済みかどうかを返す。
func (c *SessionClient) LoggedIn() bool {
	return c.state == StateLoggedIn
}

// Login はサインインページへ遷移し、埋め込み認証フレーム内の
// フォームへ資格情報を入力してセッションを確立する。
// いずれかのステップの失敗で状態は未ログインのまま終了し、内部では再試行しない。
func (c *SessionClient) Login(ctx context.Context) error {
	if c.state == StateClosed {
		return fmt.Errorf("%w: session client is closed", ErrLogin)
	}
	if c.state == StateLoggedIn {
		return nil
	}

	start := time.Now()

	if err := c.page.Navigate(ctx, signInURL); err != nil {
		return fmt.Errorf("%w: sign-in page navigation: %v", ErrLogin, err)
	}

	// 認証フレームの出現を待つ。タイムアウトはハードエラーで、再試行しない。
	if err := c.page.WaitVisible(ctx, authFrameSelector); err != nil {
		return fmt.Errorf("%w: authentication form not found: %v", ErrLogin, err)
	}

	if err := c.page.WaitVisible(ctx, usernameSelector); err != nil {
		return fmt.Errorf("%w: username field not found: %v", ErrLogin, err)
	}
	if err := c.page.SendKeys(ctx, usernameSelector, c.username); err != nil {
		return fmt.Errorf("%w: fill username: %v", ErrLogin, err)
	}
	if err := c.page.SendKeys(ctx, passwordSelector, c.password); err != nil {
		return fmt.Errorf("%w: fill password: %v", ErrLogin, err)
	}
	if err := c.page.Click(ctx, submitSelector); err != nil {
		return fmt.Errorf("%w: submit credentials: %v", ErrLogin, err)
	}

	// サインイン後の遷移完了を待つ
	if err := c.page.WaitVisible(ctx, loggedInSelector); err != nil {
		return fmt.Errorf("%w: post-login navigation timed out: %v", ErrLogin, err)
	}

	c.state = StateLoggedIn
	c.logger.Info("garminログインに成功しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// FetchLatestMetrics は当日のストレスと心拍のドキュメントを取得して返す。
// 当日分のデータが未生成（日付切り替わり直後など）の場合は1回だけ前日に
// フォールバックし、それ以上は再帰しない。
// いずれかのステップの失敗で呼び出し全体が失敗し、セッションは破棄対象になる。
func (c *SessionClient) FetchLatestMetrics(ctx context.Context) (*model.Metrics, error) {
	if c.state != StateLoggedIn {
		return nil, fmt.Errorf("%w: not logged in (state=%s)", ErrFetch, c.state)
	}

	today := c.now().Format("2006-01-02")
	m, err := c.fetchForDate(ctx, today, true)
	if err != nil {
		// フェッチ失敗後のセッションは信頼しない。このインスタンスは終端状態へ。
		c.state = StateClosed
		return nil, err
	}
	return m, nil
}

// fetchForDate は指定日のストレスと心拍のドキュメントを順に取得する。
// allowFallbackがtrueでストレスドキュメントに開始タイムスタンプがない場合、
// 前日を対象にフォールバックを無効化して同じ手順をやり直す。
func (c *SessionClient) fetchForDate(ctx context.Context, date string, allowFallback bool) (*model.Metrics, error) {
	headers := map[string]string{
		"NK":               "NT",
		"Accept":           "application/json",
		"Referer":          fmt.Sprintf(refererFmt, date),
		"X-Requested-With": "XMLHttpRequest",
	}
	if err := c.page.SetExtraHeaders(ctx, headers); err != nil {
		return nil, fmt.Errorf("%w: set request headers: %v", ErrFetch, err)
	}

	var stress model.StressSample
	if err := c.fetchJSON(ctx, fmt.Sprintf(stressURLFmt, date), &stress); err != nil {
		return nil, fmt.Errorf("%w: stress document for %s: %v", ErrFetch, date, err)
	}

	if !stress.HasData() {
		if !allowFallback {
			return nil, fmt.Errorf("%w: no stress data available for %s", ErrFetch, date)
		}
		yesterday := c.now().AddDate(0, 0, -1).Format("2006-01-02")
		c.logger.Info("当日分のデータが未生成のため前日にフォールバックします",
			slog.String("date", date),
			slog.String("fallback_date", yesterday),
		)
		return c.fetchForDate(ctx, yesterday, false)
	}

	var heartRate model.HeartRateSample
	if err := c.fetchJSON(ctx, fmt.Sprintf(heartRateURLFmt, date), &heartRate); err != nil {
		return nil, fmt.Errorf("%w: heart-rate document for %s: %v", ErrFetch, date, err)
	}

	return &model.Metrics{
		Stress:    &stress,
		HeartRate: &heartRate,
		Date:      date,
	}, nil
}

// fetchJSON は認証済みセッション上でJSONドキュメントへ遷移し、
// ページ本文をデコードする。
func (c *SessionClient) fetchJSON(ctx context.Context, url string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := c.page.Navigate(ctx, url); err != nil {
		return err
	}

	body, err := c.page.Text(ctx, bodySelector)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("parse response body: %w", err)
	}
	return nil
}

// Close は下層のブラウジングセッションを無条件に解放する。
// セッション未確立でも安全に呼び出せる。冪等。
func (c *SessionClient) Close() {
	if c.page != nil {
		c.page.Close()
	}
	c.state = StateClosed
}
